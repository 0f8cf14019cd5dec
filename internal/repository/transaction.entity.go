package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TransactionEntity struct {
	ID                string                 `gorm:"primaryKey;type:varchar(64);column:id"`
	Time              time.Time              `gorm:"column:time;not null;index"`
	Status            string                 `gorm:"column:status;not null;index"`
	ManagedAcademy    string                 `gorm:"column:managed_academy;not null;index"`
	ParentTransaction *string                `gorm:"column:parent_transaction;index"`
	TotalAmount       decimal.Decimal        `gorm:"column:total_amount;type:numeric(12,2);not null;default:0"`
	ProcessedBy       string                 `gorm:"column:processed_by"`
	BillingDate       *time.Time             `gorm:"column:billing_date"`
	Completed         *time.Time             `gorm:"column:completed"`
	Failed            *time.Time             `gorm:"column:failed"`
	Cancelled         *time.Time             `gorm:"column:cancelled"`
	Metadata          datatypes.JSONMap      `gorm:"column:metadata"`
	HasRecurrence     bool                   `gorm:"column:has_recurrence;not null;default:false"`
	Recurrence        RecurrenceEmbedded     `gorm:"embedded;embeddedPrefix:recurrence_"`
	PaymentAttempts   []PaymentAttemptEntity `gorm:"foreignKey:TransactionID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time              `gorm:"column:created_at"`
	UpdatedAt         time.Time              `gorm:"column:updated_at"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func (e *TransactionEntity) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

type RecurrenceEmbedded struct {
	Interval      string          `gorm:"column:interval"`
	TotalAmount   decimal.Decimal `gorm:"column:total_amount;type:numeric(12,2)"`
	Token         string          `gorm:"column:token"`
	TimeZone      string          `gorm:"column:time_zone"`
	RecurringData string          `gorm:"column:recurring_data"`
	Product       string          `gorm:"column:product"`
	StartDate     *time.Time      `gorm:"column:start_date"`
}

type PaymentAttemptEntity struct {
	ID            int64     `gorm:"primaryKey;autoIncrement;column:id"`
	TransactionID string    `gorm:"column:transaction_id;type:varchar(64);not null;index"`
	Time          time.Time `gorm:"column:time;not null"`
	Success       bool      `gorm:"column:success"`
	Message       string    `gorm:"column:message"`
	Status        string    `gorm:"column:status"`
	RefNo         string    `gorm:"column:ref_no"`
	Amount        string    `gorm:"column:amount"`
	RecurringData string    `gorm:"column:recurring_data"`
	InvoiceNo     string    `gorm:"column:invoice_no"`
	ReturnCode    string    `gorm:"column:return_code"`
	TranCode      string    `gorm:"column:tran_code"`
	Authorized    string    `gorm:"column:authorized"`
}

func (PaymentAttemptEntity) TableName() string {
	return "payment_attempts"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	e := &TransactionEntity{
		ID:                m.ID,
		Time:              m.Time,
		Status:            string(m.Status),
		ManagedAcademy:    m.ManagedAcademy,
		ParentTransaction: m.ParentTransaction,
		TotalAmount:       m.TotalAmount,
		ProcessedBy:       m.ProcessedBy,
		BillingDate:       m.BillingDate,
		Completed:         m.Completed,
		Failed:            m.Failed,
		Cancelled:         m.Cancelled,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if m.Metadata != nil {
		e.Metadata = datatypes.JSONMap(m.Metadata)
	}
	if r := m.Recurrence; r != nil {
		e.HasRecurrence = true
		e.Recurrence = RecurrenceEmbedded{
			Interval:      string(r.Interval),
			TotalAmount:   r.TotalAmount,
			Token:         r.Token,
			TimeZone:      r.TimeZone,
			RecurringData: r.RecurringData,
			Product:       r.Product,
			StartDate:     r.StartDate,
		}
	}
	for _, a := range m.PaymentAttempts {
		e.PaymentAttempts = append(e.PaymentAttempts, *toPaymentAttemptEntity(m.ID, a))
	}
	return e
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	m := &model.Transaction{
		ID:                e.ID,
		Time:              e.Time,
		Status:            model.TransactionStatus(e.Status),
		ManagedAcademy:    e.ManagedAcademy,
		ParentTransaction: e.ParentTransaction,
		TotalAmount:       e.TotalAmount,
		ProcessedBy:       e.ProcessedBy,
		BillingDate:       e.BillingDate,
		Completed:         e.Completed,
		Failed:            e.Failed,
		Cancelled:         e.Cancelled,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
		PaymentAttempts:   make([]model.PaymentAttempt, 0, len(e.PaymentAttempts)),
	}
	if e.Metadata != nil {
		m.Metadata = map[string]any(e.Metadata)
	}
	if e.HasRecurrence {
		r := e.Recurrence
		m.Recurrence = &model.Recurrence{
			Interval:      model.Interval(r.Interval),
			TotalAmount:   r.TotalAmount,
			Token:         r.Token,
			TimeZone:      r.TimeZone,
			RecurringData: r.RecurringData,
			Product:       r.Product,
			StartDate:     r.StartDate,
		}
	}
	for _, a := range e.PaymentAttempts {
		m.PaymentAttempts = append(m.PaymentAttempts, toPaymentAttemptModel(a))
	}
	return m
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}

func toPaymentAttemptEntity(transactionID string, a model.PaymentAttempt) *PaymentAttemptEntity {
	return &PaymentAttemptEntity{
		TransactionID: transactionID,
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

func toPaymentAttemptModel(e PaymentAttemptEntity) model.PaymentAttempt {
	return model.PaymentAttempt{
		Time:          e.Time,
		Success:       e.Success,
		Message:       e.Message,
		Status:        e.Status,
		RefNo:         e.RefNo,
		Amount:        e.Amount,
		RecurringData: e.RecurringData,
		InvoiceNo:     e.InvoiceNo,
		ReturnCode:    e.ReturnCode,
		TranCode:      e.TranCode,
		Authorized:    e.Authorized,
	}
}
