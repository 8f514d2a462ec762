package ledger

import (
	"context"
	"time"

	"warranty-reminder/internal/models"
)

//go:generate mockgen -source=ledger.go -destination=ledger_mock.go -package=ledger

// Ledger is the durable record of reminders already sent. It is the only
// guard against duplicate notifications across retried or concurrent runs.
//
// MarkSent is atomic and idempotent: repeated or concurrent calls for the same
// (productID, thresholdDay) leave exactly one record and return nil. Failures
// to reach the backing store are marked errs.ErrStoreUnavailable.
type Ledger interface {
	HasSent(ctx context.Context, productID string, thresholdDay int) (bool, error)
	MarkSent(ctx context.Context, productID string, thresholdDay int, sentAt time.Time) error
	List(ctx context.Context, productID string) ([]models.DispatchRecord, error)
}
