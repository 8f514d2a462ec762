package warranty

import (
	"strings"
	"time"
	"unicode"

	"warranty-reminder/internal/errs"
	"warranty-reminder/internal/models"
)

// MaxWarrantyMonths bounds the warranty term accepted at registration
const MaxWarrantyMonths = 1200

const day = 24 * time.Hour

// Kind is the lifecycle phase of a warranty
type Kind string

const (
	Active       Kind = "active"
	ExpiringSoon Kind = "expiring_soon"
	Expired      Kind = "expired"
)

// Status is the computed warranty state of a product at a point in time
type Status struct {
	Kind          Kind      `json:"status"`
	DaysRemaining int       `json:"days_remaining"`
	Expiry        time.Time `json:"warranty_expiry"`
}

// Calculator derives warranty status from dates only
type Calculator struct {
	// RejectFuturePurchase makes evaluation fail when now precedes the
	// purchase date. Backdated entry is legitimate, so it is off by default.
	RejectFuturePurchase bool
	// DefaultWindow is the expiring-soon window used by Status
	DefaultWindow int
}

// NewCalculator creates a calculator with the given expiring-soon window
func NewCalculator(defaultWindow int, rejectFuturePurchase bool) *Calculator {
	return &Calculator{
		RejectFuturePurchase: rejectFuturePurchase,
		DefaultWindow:        defaultWindow,
	}
}

// Expiry returns purchaseDate + warrantyMonths months, clamped to month end
func Expiry(p *models.Product) time.Time {
	return AddMonths(DateOf(p.PurchaseDate), p.WarrantyMonths)
}

// AddMonths adds calendar months to t. When the target month is shorter than
// t's day of month the result is clamped to the target month's last day.
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DateOf truncates t to midnight UTC of its calendar date
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns floor((to - from) / 24h)
func DaysBetween(from, to time.Time) int {
	diff := to.Sub(from)
	days := int(diff / day)
	if diff < 0 && diff%day != 0 {
		days--
	}
	return days
}

// Validate checks the product fields the calculator relies on
func (c *Calculator) Validate(p *models.Product, now time.Time) error {
	if p == nil {
		return errs.InvalidProduct("product is nil")
	}
	for field, value := range map[string]string{
		"name":          p.Name,
		"category":      p.Category,
		"model":         p.Model,
		"serial number": p.SerialNumber,
	} {
		if strings.IndexFunc(value, unicode.IsControl) >= 0 {
			return errs.InvalidProduct("product %s: %s contains control characters", p.ProductID, field)
		}
	}
	if p.WarrantyMonths <= 0 {
		return errs.InvalidProduct("product %s: warranty months must be positive, got %d", p.ProductID, p.WarrantyMonths)
	}
	if p.WarrantyMonths > MaxWarrantyMonths {
		return errs.InvalidProduct("product %s: warranty months exceeds %d", p.ProductID, MaxWarrantyMonths)
	}
	if p.PurchaseDate.IsZero() {
		return errs.InvalidProduct("product %s: purchase date is required", p.ProductID)
	}
	if c.RejectFuturePurchase && now.Before(DateOf(p.PurchaseDate)) {
		return errs.InvalidProduct("product %s: purchase date %s is in the future",
			p.ProductID, p.PurchaseDate.Format(DateLayout))
	}
	return nil
}

// Status evaluates the product against the calculator's default window
func (c *Calculator) Status(p *models.Product, now time.Time) (Status, error) {
	return c.Evaluate(p, now, c.DefaultWindow)
}

// Evaluate computes the status of p at now. A product is expiring soon when
// 0 < daysRemaining <= window and expired when daysRemaining <= 0.
func (c *Calculator) Evaluate(p *models.Product, now time.Time, window int) (Status, error) {
	if err := c.Validate(p, now); err != nil {
		return Status{}, err
	}

	expiry := Expiry(p)
	remaining := DaysBetween(now, expiry)

	kind := Active
	switch {
	case remaining <= 0:
		kind = Expired
	case remaining <= window:
		kind = ExpiringSoon
	}

	return Status{
		Kind:          kind,
		DaysRemaining: remaining,
		Expiry:        expiry,
	}, nil
}
