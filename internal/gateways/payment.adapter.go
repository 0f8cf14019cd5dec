package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/nimasrn/billing-engine/internal/repository"
	"github.com/nimasrn/billing-engine/pkg/logger"
)

const (
	CredentialsMissingCode    = "1001"
	CredentialsMissingStatus  = "no-initiated"
	CredentialsMissingMessage = "Credentials not found"
)

var ErrNoRecurrence = errors.New("transaction has no recurrence to charge")

type CredentialStore interface {
	GetByTenant(ctx context.Context, tenant string) (*model.Credential, error)
}

type SaleClient interface {
	Sale(ctx context.Context, cred *model.Credential, req SaleRequest) (*model.PaymentResponse, error)
}

// PaymentAdapter charges a transaction's recurrence with the tenant's
// credentials.
type PaymentAdapter struct {
	credentials CredentialStore
	client      SaleClient
}

func NewPaymentAdapter(credentials CredentialStore, client SaleClient) *PaymentAdapter {
	return &PaymentAdapter{credentials: credentials, client: client}
}

func (a *PaymentAdapter) Charge(ctx context.Context, txn *model.Transaction) (*model.PaymentResponse, error) {
	req, err := BuildSaleRequest(txn)
	if err != nil {
		return nil, err
	}

	cred, err := a.credentials.GetByTenant(ctx, txn.ManagedAcademy)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Error("Unable to find gateway credentials", "transaction_id", txn.ID, "managed_academy", txn.ManagedAcademy)
		return CredentialsMissingResponse(req), nil
	}
	if err != nil {
		return nil, fmt.Errorf("credential lookup for %s: %w", txn.ManagedAcademy, err)
	}

	return a.client.Sale(ctx, cred, req)
}

func BuildSaleRequest(txn *model.Transaction) (SaleRequest, error) {
	if txn.Recurrence == nil {
		return SaleRequest{}, ErrNoRecurrence
	}
	return SaleRequest{
		Token:         txn.Recurrence.Token,
		Amount:        txn.Recurrence.TotalAmount.StringFixed(2),
		InvoiceNo:     txn.ID,
		RefNo:         txn.ID,
		RecurringData: txn.Recurrence.RecurringData,
	}, nil
}

// CredentialsMissingResponse is the canonical answer used when a tenant has
// no credentials on file. No request is sent in that case.
func CredentialsMissingResponse(req SaleRequest) *model.PaymentResponse {
	return &model.PaymentResponse{
		ResponseOrigin: OriginSystem,
		ReturnCode:     CredentialsMissingCode,
		Status:         CredentialsMissingStatus,
		Message:        CredentialsMissingMessage,
		InvoiceNo:      req.InvoiceNo,
		Amount:         model.FlexString(req.Amount),
		Authorized:     model.FlexBool(false),
		RecurringData:  req.RecurringData,
		Token:          req.Token,
		HttpStatus:     500,
	}
}
