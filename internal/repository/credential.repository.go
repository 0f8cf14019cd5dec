package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/nimasrn/billing-engine/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CredentialRepository struct {
	*pg.DB
}

func NewCredentialRepository(db *pg.DB) *CredentialRepository {
	return &CredentialRepository{
		db,
	}
}

func (r *CredentialRepository) GetByTenant(ctx context.Context, tenant string) (*model.Credential, error) {
	var entity CredentialEntity
	err := r.Read(ctx).Where("managed_academy = ?", tenant).First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toCredentialModel(&entity), nil
}

// Save inserts or replaces the tenant's gateway credentials.
func (r *CredentialRepository) Save(ctx context.Context, c *model.Credential) error {
	entity := &CredentialEntity{
		ManagedAcademy: c.ManagedAcademy,
		MID:            c.MID,
		APIPrivateKey:  c.APIPrivateKey,
	}
	return r.Write(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "managed_academy"}},
		DoUpdates: clause.AssignmentColumns([]string{"mid", "api_private_key", "updated_at"}),
	}).Create(entity).Error
}
