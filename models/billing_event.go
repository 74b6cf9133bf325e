package models

import (
	"time"

	"gorm.io/datatypes"
)

// BillingEvent records a processed billing provider event so provider
// retries are handled once.
type BillingEvent struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	EventID   string         `json:"event_id" gorm:"size:255;not null;uniqueIndex"`
	Type      string         `json:"type" gorm:"size:100;not null"`
	Payload   datatypes.JSON `json:"payload"`
	Outcome   string         `json:"outcome" gorm:"size:255"`
	CreatedAt time.Time      `json:"created_at"`
}
