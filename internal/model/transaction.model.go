package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a billing transaction.
type TransactionStatus string

const (
	TransactionStatusFuturePayment TransactionStatus = "future_payment"
	TransactionStatusInProgress    TransactionStatus = "inprogress"
	TransactionStatusCompleted     TransactionStatus = "completed"
	TransactionStatusFailed        TransactionStatus = "failed"
)

// IsTerminal reports whether no further charge may happen for the status.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// ProcessedByRecurringSystem marks transactions spawned by the recurrence scheduler.
const ProcessedByRecurringSystem = "recurringPaymentSystem"

const DefaultProduct = "Membership"

type Transaction struct {
	ID                string            `json:"id"`
	Time              time.Time         `json:"time"`
	Status            TransactionStatus `json:"status"`
	ManagedAcademy    string            `json:"managedAcademy"`
	ParentTransaction *string           `json:"parentTransaction,omitempty"`
	TotalAmount       decimal.Decimal   `json:"totalAmount"`
	ProcessedBy       string            `json:"processedBy,omitempty"`
	Recurrence        *Recurrence       `json:"recurrence,omitempty"`
	PaymentAttempts   []PaymentAttempt  `json:"paymentAttempts"`
	BillingDate       *time.Time        `json:"billingDate,omitempty"`
	Completed         *time.Time        `json:"completed,omitempty"`
	Failed            *time.Time        `json:"failed,omitempty"`
	Cancelled         *time.Time        `json:"cancelled,omitempty"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// Eligible reports whether the transaction may be fired automatically.
func (t *Transaction) Eligible() bool {
	return t.Recurrence != nil && t.Recurrence.Complete()
}

// CycleBase is the instant the next cycle is computed from.
func (t *Transaction) CycleBase() time.Time {
	if t.BillingDate != nil && !t.BillingDate.IsZero() {
		return *t.BillingDate
	}
	return t.Time
}

// RootID returns the id of the first transaction in the recurrence chain.
func (t *Transaction) RootID() string {
	if t.ParentTransaction != nil && *t.ParentTransaction != "" {
		return *t.ParentTransaction
	}
	return t.ID
}

func (t *Transaction) Validate() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.ManagedAcademy, validation.Required),
		validation.Field(&t.Time, validation.Required),
		validation.Field(&t.Status, validation.Required, validation.In(
			TransactionStatusFuturePayment,
			TransactionStatusInProgress,
			TransactionStatusCompleted,
			TransactionStatusFailed,
		)),
		validation.Field(&t.Recurrence),
	)
}

type Recurrence struct {
	Interval      Interval        `json:"interval"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Token         string          `json:"token"`
	TimeZone      string          `json:"timeZone,omitempty"`
	RecurringData string          `json:"recurringData"`
	Product       string          `json:"product,omitempty"`
	StartDate     *time.Time      `json:"startDate,omitempty"`
}

// Complete reports whether token, recurring data and interval are all present.
func (r *Recurrence) Complete() bool {
	return r.Token != "" && r.RecurringData != "" && r.Interval != ""
}

func (r *Recurrence) Location() (*time.Location, error) {
	return LoadLocation(r.TimeZone)
}

func (r Recurrence) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TotalAmount, validation.By(nonNegative)),
	)
}

func nonNegative(value interface{}) error {
	d, _ := value.(decimal.Decimal)
	if d.IsNegative() {
		return validation.NewError("validation_negative_amount", "must not be negative")
	}
	return nil
}

// PaymentAttempt records one gateway call, retried and final calls alike.
type PaymentAttempt struct {
	Time          time.Time `json:"time"`
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	Status        string    `json:"status"`
	RefNo         string    `json:"refNo"`
	Amount        string    `json:"amount"`
	RecurringData string    `json:"recurringData"`
	InvoiceNo     string    `json:"invoiceNo"`
	ReturnCode    string    `json:"returnCode"`
	TranCode      string    `json:"tranCode"`
	Authorized    string    `json:"authorized"`
}

const TranCodeSale = "Sale"

// Outcome is the terminal state written together with the final attempt.
type Outcome struct {
	Status TransactionStatus
	At     time.Time
}
