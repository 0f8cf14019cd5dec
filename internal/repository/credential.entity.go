package repository

import (
	"time"

	"github.com/nimasrn/billing-engine/internal/model"
)

type CredentialEntity struct {
	ManagedAcademy string    `gorm:"primaryKey;type:varchar(64);column:managed_academy"`
	MID            string    `gorm:"column:mid"`
	APIPrivateKey  string    `gorm:"column:api_private_key;not null"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (CredentialEntity) TableName() string {
	return "managed_academy_credentials"
}

func toCredentialModel(e *CredentialEntity) *model.Credential {
	return &model.Credential{
		ManagedAcademy: e.ManagedAcademy,
		MID:            e.MID,
		APIPrivateKey:  e.APIPrivateKey,
	}
}
