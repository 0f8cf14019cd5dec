// Package fixtures builds realistic transactions and gateway responses for tests.
package fixtures

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/shopspring/decimal"
)

// NewRecurringTransaction returns a scheduled, fire-eligible transaction due at the given time.
func NewRecurringTransaction(tenant string, due time.Time, interval model.Interval) *model.Transaction {
	amount := decimal.NewFromFloat(gofakeit.Price(20, 250)).Round(2)
	return &model.Transaction{
		Time:           due,
		Status:         model.TransactionStatusFuturePayment,
		ManagedAcademy: tenant,
		TotalAmount:    amount,
		Recurrence: &model.Recurrence{
			Interval:      interval,
			TotalAmount:   amount,
			Token:         "DC4:" + gofakeit.LetterN(24),
			TimeZone:      "UTC",
			RecurringData: gofakeit.LetterN(16),
			Product:       model.DefaultProduct,
		},
		PaymentAttempts: []model.PaymentAttempt{},
	}
}

func NewTenant() string {
	return "academy-" + gofakeit.UUID()
}

func NewCredential(tenant string) *model.Credential {
	return &model.Credential{
		ManagedAcademy: tenant,
		MID:            gofakeit.DigitN(12),
		APIPrivateKey:  gofakeit.UUID(),
	}
}

// ApprovedResponse is a successful sale with a rotated token.
func ApprovedResponse(txn *model.Transaction) *model.PaymentResponse {
	return &model.PaymentResponse{
		ResponseOrigin: "Processor",
		ReturnCode:     "000000",
		Status:         model.PaymentStatusApproved,
		Message:        "APPROVED",
		Account:        "XXXXXXXXXXXX" + gofakeit.DigitN(4),
		Brand:          gofakeit.RandomString([]string{"Visa", "Mastercard", "Amex"}),
		AuthCode:       gofakeit.DigitN(6),
		RefNo:          gofakeit.DigitN(10),
		InvoiceNo:      txn.ID,
		Amount:         model.FlexString(txn.Recurrence.TotalAmount.StringFixed(2)),
		Authorized:     model.FlexString(txn.Recurrence.TotalAmount.StringFixed(2)),
		RecurringData:  gofakeit.LetterN(16),
		Token:          "DC4:" + gofakeit.LetterN(24),
		HttpStatus:     200,
	}
}

func DeclinedResponse(txn *model.Transaction) *model.PaymentResponse {
	return &model.PaymentResponse{
		ResponseOrigin: "Processor",
		ReturnCode:     "100202",
		Status:         "Declined",
		Message:        "DECLINED",
		InvoiceNo:      txn.ID,
		Amount:         model.FlexString(txn.Recurrence.TotalAmount.StringFixed(2)),
		Authorized:     "0.00",
		RecurringData:  txn.Recurrence.RecurringData,
		Token:          txn.Recurrence.Token,
		HttpStatus:     200,
	}
}
