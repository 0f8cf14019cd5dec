package mirror

import (
	"time"

	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type transactionDocument struct {
	ID                string               `bson:"_id"`
	Time              time.Time            `bson:"time"`
	Status            string               `bson:"status"`
	ManagedAcademy    string               `bson:"managedAcademy"`
	ParentTransaction *string              `bson:"parentTransaction,omitempty"`
	TotalAmount       primitive.Decimal128 `bson:"totalAmount"`
	ProcessedBy       string               `bson:"processedBy,omitempty"`
	Recurrence        *recurrenceDocument  `bson:"recurrence,omitempty"`
	PaymentAttempts   []attemptDocument    `bson:"paymentAttempts,omitempty"`
	BillingDate       *time.Time           `bson:"billingDate,omitempty"`
	Completed         *time.Time           `bson:"completed"`
	Failed            *time.Time           `bson:"failed"`
	Cancelled         *time.Time           `bson:"cancelled,omitempty"`
	Metadata          map[string]any       `bson:"metadata,omitempty"`
	CreatedAt         time.Time            `bson:"createdAt,omitempty"`
	UpdatedAt         time.Time            `bson:"updatedAt,omitempty"`
}

type recurrenceDocument struct {
	Interval      string               `bson:"interval"`
	TotalAmount   primitive.Decimal128 `bson:"totalAmount"`
	Token         string               `bson:"token"`
	TimeZone      string               `bson:"timeZone,omitempty"`
	RecurringData string               `bson:"recurringData"`
	Product       string               `bson:"product,omitempty"`
	StartDate     *time.Time           `bson:"startDate,omitempty"`
}

type attemptDocument struct {
	Time          time.Time `bson:"time"`
	Success       bool      `bson:"success"`
	Message       string    `bson:"message"`
	Status        string    `bson:"status"`
	RefNo         string    `bson:"refNo"`
	Amount        string    `bson:"amount"`
	RecurringData string    `bson:"recurringData"`
	InvoiceNo     string    `bson:"invoiceNo"`
	ReturnCode    string    `bson:"returnCode"`
	TranCode      string    `bson:"tranCode"`
	Authorized    string    `bson:"authorized"`
}

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.NewDecimal128(0, 0)
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func toDocument(t *model.Transaction) *transactionDocument {
	doc := &transactionDocument{
		ID:                t.ID,
		Time:              t.Time,
		Status:            string(t.Status),
		ManagedAcademy:    t.ManagedAcademy,
		ParentTransaction: t.ParentTransaction,
		TotalAmount:       toDecimal128(t.TotalAmount),
		ProcessedBy:       t.ProcessedBy,
		BillingDate:       t.BillingDate,
		Completed:         t.Completed,
		Failed:            t.Failed,
		Cancelled:         t.Cancelled,
		Metadata:          t.Metadata,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
	if r := t.Recurrence; r != nil {
		doc.Recurrence = &recurrenceDocument{
			Interval:      string(r.Interval),
			TotalAmount:   toDecimal128(r.TotalAmount),
			Token:         r.Token,
			TimeZone:      r.TimeZone,
			RecurringData: r.RecurringData,
			Product:       r.Product,
			StartDate:     r.StartDate,
		}
	}
	for _, a := range t.PaymentAttempts {
		doc.PaymentAttempts = append(doc.PaymentAttempts, toAttemptDocument(a))
	}
	return doc
}

func toAttemptDocument(a model.PaymentAttempt) attemptDocument {
	return attemptDocument{
		Time:          a.Time,
		Success:       a.Success,
		Message:       a.Message,
		Status:        a.Status,
		RefNo:         a.RefNo,
		Amount:        a.Amount,
		RecurringData: a.RecurringData,
		InvoiceNo:     a.InvoiceNo,
		ReturnCode:    a.ReturnCode,
		TranCode:      a.TranCode,
		Authorized:    a.Authorized,
	}
}

func (d *transactionDocument) toModel() *model.Transaction {
	t := &model.Transaction{
		ID:                d.ID,
		Time:              d.Time,
		Status:            model.TransactionStatus(d.Status),
		ManagedAcademy:    d.ManagedAcademy,
		ParentTransaction: d.ParentTransaction,
		TotalAmount:       fromDecimal128(d.TotalAmount),
		ProcessedBy:       d.ProcessedBy,
		BillingDate:       d.BillingDate,
		Completed:         d.Completed,
		Failed:            d.Failed,
		Cancelled:         d.Cancelled,
		Metadata:          d.Metadata,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
		PaymentAttempts:   make([]model.PaymentAttempt, 0, len(d.PaymentAttempts)),
	}
	if r := d.Recurrence; r != nil {
		t.Recurrence = &model.Recurrence{
			Interval:      model.Interval(r.Interval),
			TotalAmount:   fromDecimal128(r.TotalAmount),
			Token:         r.Token,
			TimeZone:      r.TimeZone,
			RecurringData: r.RecurringData,
			Product:       r.Product,
			StartDate:     r.StartDate,
		}
	}
	for _, a := range d.PaymentAttempts {
		t.PaymentAttempts = append(t.PaymentAttempts, model.PaymentAttempt{
			Time:          a.Time,
			Success:       a.Success,
			Message:       a.Message,
			Status:        a.Status,
			RefNo:         a.RefNo,
			Amount:        a.Amount,
			RecurringData: a.RecurringData,
			InvoiceNo:     a.InvoiceNo,
			ReturnCode:    a.ReturnCode,
			TranCode:      a.TranCode,
			Authorized:    a.Authorized,
		})
	}
	return t
}
