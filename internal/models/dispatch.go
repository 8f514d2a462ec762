package models

import (
	"time"
)

// DispatchRecord marks that the reminder for (ProductID, ThresholdDay) was sent.
// Records are append-only; at most one exists per key.
type DispatchRecord struct {
	ProductID    string    `gorm:"primaryKey" json:"product_id"`
	ThresholdDay int       `gorm:"primaryKey;autoIncrement:false" json:"threshold_day"`
	SentAt       time.Time `gorm:"not null" json:"sent_at"`
}

// Notification records a single channel delivery attempt
type Notification struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	RunID        string    `gorm:"index" json:"run_id"`
	OwnerID      string    `gorm:"index" json:"owner_id"`
	ProductID    string    `gorm:"index" json:"product_id"`
	ThresholdDay int       `json:"threshold_day"`
	Channel      string    `json:"channel"`   // email/sms
	Recipient    string    `json:"recipient"` // address or phone number
	Content      string    `json:"content"`
	Status       string    `json:"status"` // success/failed
	Error        string    `json:"error,omitempty"`
	SentAt       time.Time `json:"sent_at"`
}

const (
	NotificationSuccess = "success"
	NotificationFailed  = "failed"
)
