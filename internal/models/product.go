package models

import (
	"strings"
	"time"
)

// Product represents a registered product under warranty.
// The warranty expiry is always derived from PurchaseDate and WarrantyMonths
// and is never stored.
type Product struct {
	ProductID      string    `gorm:"primarykey" json:"product_id"`
	OwnerID        string    `gorm:"index;not null" json:"owner_id"`
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	Model          string    `json:"model"`
	SerialNumber   string    `json:"serial_number,omitempty"`
	PurchaseDate   time.Time `gorm:"not null" json:"purchase_date"`
	WarrantyMonths int       `gorm:"not null" json:"warranty_months"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DisplayName returns the name used in reminder messages
func (p *Product) DisplayName() string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	parts := make([]string, 0, 2)
	for _, s := range []string{p.Category, p.Model} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return p.ProductID
	}
	return strings.Join(parts, " ")
}

// ReminderSettings holds one owner's notification preferences.
// ReminderDays is kept deduplicated and sorted descending.
type ReminderSettings struct {
	OwnerID      string    `gorm:"primarykey" json:"owner_id"`
	Email        string    `gorm:"not null" json:"email"`
	PhoneNumber  string    `json:"phone_number,omitempty"`
	ReminderDays []int     `gorm:"serializer:json" json:"reminder_days"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MaxReminderDay returns the largest configured threshold, or 0 when none
func (s *ReminderSettings) MaxReminderDay() int {
	if s == nil {
		return 0
	}
	highest := 0
	for _, d := range s.ReminderDays {
		if d > highest {
			highest = d
		}
	}
	return highest
}
