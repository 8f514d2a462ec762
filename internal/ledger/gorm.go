package ledger

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"warranty-reminder/internal/errs"
	"warranty-reminder/internal/models"
)

// GormLedger stores dispatch records in a relational table keyed by
// (product_id, threshold_day)
type GormLedger struct {
	db *gorm.DB
}

// NewGormLedger creates a ledger on top of an already migrated database
func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

func (l *GormLedger) HasSent(ctx context.Context, productID string, thresholdDay int) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).
		Model(&models.DispatchRecord{}).
		Where("product_id = ? AND threshold_day = ?", productID, thresholdDay).
		Count(&count).Error
	if err != nil {
		return false, errs.StoreUnavailable(err, "failed to read dispatch record")
	}
	return count > 0, nil
}

// MarkSent inserts the record unless it already exists. The composite
// primary key makes the insert-or-ignore atomic across connections.
func (l *GormLedger) MarkSent(ctx context.Context, productID string, thresholdDay int, sentAt time.Time) error {
	record := models.DispatchRecord{
		ProductID:    productID,
		ThresholdDay: thresholdDay,
		SentAt:       sentAt.UTC(),
	}

	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record).Error
	if err != nil {
		return errs.StoreUnavailable(err, "failed to write dispatch record")
	}
	return nil
}

func (l *GormLedger) List(ctx context.Context, productID string) ([]models.DispatchRecord, error) {
	var records []models.DispatchRecord
	err := l.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("threshold_day desc").
		Find(&records).Error
	if err != nil {
		return nil, errs.StoreUnavailable(err, "failed to list dispatch records")
	}
	return records, nil
}
