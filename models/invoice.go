package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// InvoiceStatus is the billing state of an invoice.
type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "draft"
	StatusSent      InvoiceStatus = "sent" // awaiting payment
	StatusPaid      InvoiceStatus = "paid"
	StatusOverdue   InvoiceStatus = "overdue"
	StatusCancelled InvoiceStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses are excluded from overdue evaluation.
func (s InvoiceStatus) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// AwaitingPayment is true for invoices delivered but not yet settled.
func (s InvoiceStatus) AwaitingPayment() bool {
	return s == StatusSent || s == StatusOverdue
}

// DeliveryState tracks the outcome of the latest delivery request.
type DeliveryState string

const (
	DeliveryNone      DeliveryState = "none"
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
)

// Invoice is the live state of a billing document. Subtotal, TaxAmount and
// Total are derived from Items and only written by the totals aggregator.
type Invoice struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	UserID   string `json:"-" gorm:"size:36;not null;index"`
	User     User   `json:"-" gorm:"foreignKey:UserID;references:Id;constraint:OnDelete:CASCADE"`
	ClientID uint   `json:"client_id" gorm:"not null;index"`
	Client   Client `json:"client" gorm:"foreignKey:ClientID;references:ID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT"`

	Number string        `json:"invoice_number" gorm:"size:50;not null;uniqueIndex"`
	Status InvoiceStatus `json:"status" gorm:"size:20;not null;index"`

	IssueDate datatypes.Date `json:"issue_date" gorm:"not null"`
	DueDate   datatypes.Date `json:"due_date" gorm:"not null;index"`

	Items     []InvoiceItem   `json:"items" gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE"`
	Subtotal  decimal.Decimal `json:"subtotal" gorm:"type:numeric(12,2);not null"`
	TaxRate   decimal.Decimal `json:"tax_rate" gorm:"type:numeric(5,2);not null"`
	TaxAmount decimal.Decimal `json:"tax_amount" gorm:"type:numeric(12,2);not null"`
	Total     decimal.Decimal `json:"total" gorm:"type:numeric(12,2);not null"`

	Notes string `json:"notes" gorm:"type:text"`

	DeliveryState   DeliveryState `json:"delivery_state" gorm:"size:20;not null"`
	DeliveryWarning string        `json:"delivery_warning,omitempty" gorm:"type:text"`

	SentAt    *time.Time `json:"sent_at"`
	PaidAt    *time.Time `json:"paid_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsOverdue reports whether the invoice is awaiting payment past its due date.
// Paid and cancelled invoices are never overdue.
func (inv *Invoice) IsOverdue(today time.Time) bool {
	if !inv.Status.AwaitingPayment() {
		return false
	}
	return DateOf(time.Time(inv.DueDate)).Before(DateOf(today))
}

// PDFFilename is the attachment name used for the rendered invoice.
func (inv *Invoice) PDFFilename() string {
	return "invoice_" + inv.Number + ".pdf"
}

// InvoiceItem is one billed line. Total is always Quantity * UnitPrice.
type InvoiceItem struct {
	ID          uint            `json:"id" gorm:"primaryKey"`
	InvoiceID   uint            `json:"-" gorm:"not null;index"`
	Description string          `json:"description" gorm:"size:500;not null"`
	Quantity    decimal.Decimal `json:"quantity" gorm:"type:numeric(10,2);not null"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:numeric(10,2);not null"`
	Total       decimal.Decimal `json:"total" gorm:"type:numeric(12,2);not null"`
}

// DateOf truncates t to midnight UTC of its calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
