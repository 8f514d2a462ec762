package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"warranty-reminder/internal/errs"
	"warranty-reminder/internal/models"
)

// Store persists products, reminder settings and notification history
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ListOwnerIDs returns every owner that has registered products or settings
func (s *Store) ListOwnerIDs(ctx context.Context) ([]string, error) {
	var fromProducts, fromSettings []string
	if err := s.db.WithContext(ctx).Model(&models.Product{}).Distinct().Pluck("owner_id", &fromProducts).Error; err != nil {
		return nil, errs.StoreUnavailable(err, "failed to list product owners")
	}
	if err := s.db.WithContext(ctx).Model(&models.ReminderSettings{}).Pluck("owner_id", &fromSettings).Error; err != nil {
		return nil, errs.StoreUnavailable(err, "failed to list settings owners")
	}

	seen := make(map[string]struct{}, len(fromProducts)+len(fromSettings))
	owners := make([]string, 0, len(fromProducts)+len(fromSettings))
	for _, id := range append(fromProducts, fromSettings...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		owners = append(owners, id)
	}
	return owners, nil
}

func (s *Store) GetProductsByOwner(ctx context.Context, ownerID string) ([]models.Product, error) {
	var products []models.Product
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("purchase_date asc, product_id asc").
		Find(&products).Error
	if err != nil {
		return nil, errs.StoreUnavailable(err, "failed to fetch products")
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, ownerID, productID string) (*models.Product, error) {
	var product models.Product
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND product_id = ?", ownerID, productID).
		First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Mark(errs.Newf("product %s not found", productID), errs.ErrNotFound)
	}
	if err != nil {
		return nil, errs.StoreUnavailable(err, "failed to fetch product")
	}
	return &product, nil
}

// CreateProduct registers a product. Registering an existing product ID is
// rejected with ErrConflict so the ID stays stable for the life of the
// registration.
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	now := time.Now()
	product.CreatedAt = now
	product.UpdatedAt = now
	err := s.db.WithContext(ctx).Create(product).Error
	if isUniqueViolation(err) {
		return errs.Conflict("product %s already registered", product.ProductID)
	}
	if err != nil {
		return errs.StoreUnavailable(err, "failed to save product")
	}
	return nil
}

// UpdateProduct replaces the registration details of an existing product.
// The owner and product ID are fixed; the expiry is never stored, so it
// follows the new purchase date and warranty term on the next evaluation.
func (s *Store) UpdateProduct(ctx context.Context, product *models.Product) error {
	product.UpdatedAt = time.Now()
	res := s.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("owner_id = ? AND product_id = ?", product.OwnerID, product.ProductID).
		Updates(map[string]any{
			"name":            product.Name,
			"category":        product.Category,
			"model":           product.Model,
			"serial_number":   product.SerialNumber,
			"purchase_date":   product.PurchaseDate,
			"warranty_months": product.WarrantyMonths,
			"updated_at":      product.UpdatedAt,
		})
	if res.Error != nil {
		return errs.StoreUnavailable(res.Error, "failed to update product")
	}
	if res.RowsAffected == 0 {
		return errs.Mark(errs.Newf("product %s not found", product.ProductID), errs.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) DeleteProduct(ctx context.Context, ownerID, productID string) error {
	res := s.db.WithContext(ctx).
		Where("owner_id = ? AND product_id = ?", ownerID, productID).
		Delete(&models.Product{})
	if res.Error != nil {
		return errs.StoreUnavailable(res.Error, "failed to delete product")
	}
	if res.RowsAffected == 0 {
		return errs.Mark(errs.Newf("product %s not found", productID), errs.ErrNotFound)
	}
	return nil
}

func (s *Store) GetSettings(ctx context.Context, ownerID string) (*models.ReminderSettings, error) {
	var settings models.ReminderSettings
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.StoreUnavailable(err, "failed to fetch settings")
	}
	return &settings, nil
}

// SaveSettings upserts an owner's settings. Callers normalize them first.
func (s *Store) SaveSettings(ctx context.Context, settings *models.ReminderSettings) error {
	now := time.Now()
	settings.UpdatedAt = now
	if settings.CreatedAt.IsZero() {
		settings.CreatedAt = now
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "phone_number", "reminder_days", "updated_at"}),
		}).
		Create(settings).Error
	if err != nil {
		return errs.StoreUnavailable(err, "failed to save settings")
	}
	return nil
}

func (s *Store) RecordNotification(ctx context.Context, n *models.Notification) error {
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return errs.StoreUnavailable(err, "failed to record notification")
	}
	return nil
}

// ListNotifications returns the most recent delivery attempts, newest first.
// An empty productID lists across all products.
func (s *Store) ListNotifications(ctx context.Context, productID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	q := s.db.WithContext(ctx).Order("sent_at desc, id desc").Limit(limit)
	if productID != "" {
		q = q.Where("product_id = ?", productID)
	}

	var notifications []models.Notification
	if err := q.Find(&notifications).Error; err != nil {
		return nil, errs.StoreUnavailable(err, "failed to list notifications")
	}
	return notifications, nil
}
