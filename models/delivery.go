package models

import (
	"time"

	"gorm.io/datatypes"
)

// DeliveryKind selects what the dispatcher sends.
type DeliveryKind string

const (
	KindInvoice  DeliveryKind = "invoice"  // first delivery, advances draft to sent
	KindReminder DeliveryKind = "reminder" // overdue reminder
	KindCopy     DeliveryKind = "copy"     // re-send without status change
)

// Valid reports whether k is a known kind.
func (k DeliveryKind) Valid() bool {
	return k == KindInvoice || k == KindReminder || k == KindCopy
}

// DeliveryAttempt is the append-only log of delivery tries.
type DeliveryAttempt struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	InvoiceID uint           `json:"invoice_id" gorm:"not null;index"`
	Kind      DeliveryKind   `json:"kind" gorm:"size:20;not null"`
	Attempt   int            `json:"attempt" gorm:"not null"`
	Succeeded bool           `json:"succeeded" gorm:"not null"`
	Error     string         `json:"error,omitempty" gorm:"type:text"`
	Detail    datatypes.JSON `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
