package store

import (
	"context"

	"warranty-reminder/internal/models"
)

//go:generate mockgen -source=store.go -destination=store_mock.go -package=store

// Reader is the read-only view of products and settings used by the reminder
// engine. GetSettings returns (nil, nil) when the owner has not opted in.
type Reader interface {
	ListOwnerIDs(ctx context.Context) ([]string, error)
	GetProductsByOwner(ctx context.Context, ownerID string) ([]models.Product, error)
	GetSettings(ctx context.Context, ownerID string) (*models.ReminderSettings, error)
}

// NotificationRecorder keeps the history of channel delivery attempts
type NotificationRecorder interface {
	RecordNotification(ctx context.Context, n *models.Notification) error
}
