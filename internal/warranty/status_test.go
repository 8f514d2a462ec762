package warranty

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warranty-reminder/internal/errs"
	"warranty-reminder/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func product(purchase time.Time, months int) *models.Product {
	return &models.Product{
		ProductID:      "p-1",
		OwnerID:        "owner-1",
		Name:           "LG 55-inch OLED TV",
		PurchaseDate:   purchase,
		WarrantyMonths: months,
	}
}

func named(p *models.Product, name string) *models.Product {
	p.Name = name
	return p
}

func TestAddMonths(t *testing.T) {
	tests := []struct {
		name     string
		start    time.Time
		months   int
		expected time.Time
	}{
		{name: "plain year", start: date(2024, 1, 1), months: 12, expected: date(2025, 1, 1)},
		{name: "jan 31 into leap february", start: date(2024, 1, 31), months: 1, expected: date(2024, 2, 29)},
		{name: "jan 31 into common february", start: date(2023, 1, 31), months: 1, expected: date(2023, 2, 28)},
		{name: "leap day plus a year", start: date(2024, 2, 29), months: 12, expected: date(2025, 2, 28)},
		{name: "leap day plus four years", start: date(2024, 2, 29), months: 48, expected: date(2028, 2, 29)},
		{name: "mar 31 into april", start: date(2024, 3, 31), months: 1, expected: date(2024, 4, 30)},
		{name: "crosses year end", start: date(2024, 11, 30), months: 3, expected: date(2025, 2, 28)},
		{name: "aug 31 plus six", start: date(2024, 8, 31), months: 6, expected: date(2025, 2, 28)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AddMonths(tt.start, tt.months))
		})
	}
}

func TestDaysBetweenFloors(t *testing.T) {
	expiry := date(2025, 1, 1)

	assert.Equal(t, 30, DaysBetween(date(2024, 12, 2), expiry))
	assert.Equal(t, 29, DaysBetween(date(2024, 12, 2).Add(10*time.Hour), expiry))
	assert.Equal(t, 0, DaysBetween(expiry, expiry))
	assert.Equal(t, -1, DaysBetween(expiry.Add(time.Hour), expiry))
	assert.Equal(t, -2, DaysBetween(date(2025, 1, 3), expiry))
}

func TestEvaluate(t *testing.T) {
	calc := NewCalculator(30, false)
	p := product(date(2024, 1, 1), 12)

	tests := []struct {
		name      string
		now       time.Time
		window    int
		kind      Kind
		remaining int
	}{
		{name: "well before expiry", now: date(2024, 6, 1), window: 30, kind: Active, remaining: 214},
		{name: "at the window edge", now: date(2024, 12, 2), window: 30, kind: ExpiringSoon, remaining: 30},
		{name: "one day outside window", now: date(2024, 12, 1), window: 30, kind: Active, remaining: 31},
		{name: "last day", now: date(2024, 12, 31), window: 30, kind: ExpiringSoon, remaining: 1},
		{name: "now equals expiry", now: date(2025, 1, 1), window: 30, kind: Expired, remaining: 0},
		{name: "after expiry", now: date(2025, 1, 11), window: 30, kind: Expired, remaining: -10},
		{name: "zero window", now: date(2024, 12, 31), window: 0, kind: Active, remaining: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := calc.Evaluate(p, tt.now, tt.window)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, status.Kind)
			assert.Equal(t, tt.remaining, status.DaysRemaining)
			assert.Equal(t, date(2025, 1, 1), status.Expiry)
		})
	}
}

func TestEvaluateIsPure(t *testing.T) {
	calc := NewCalculator(30, false)
	p := product(date(2023, 5, 17), 18)
	now := date(2024, 10, 1).Add(7 * time.Hour)

	first, err := calc.Status(p, now)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := calc.Status(p, now)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDaysRemainingStrictlyDecreases(t *testing.T) {
	calc := NewCalculator(30, false)
	p := product(date(2024, 1, 31), 13)
	now := date(2024, 12, 1).Add(15 * time.Hour)

	prev, err := calc.Status(p, now)
	require.NoError(t, err)
	for i := 0; i < 120; i++ {
		now = now.AddDate(0, 0, 1)
		next, err := calc.Status(p, now)
		require.NoError(t, err)
		assert.Less(t, next.DaysRemaining, prev.DaysRemaining)
		prev = next
	}
}

func TestEvaluateRejectsInvalidProducts(t *testing.T) {
	now := date(2024, 6, 1)

	tests := []struct {
		name    string
		calc    *Calculator
		product *models.Product
	}{
		{name: "nil product", calc: NewCalculator(30, false), product: nil},
		{name: "zero months", calc: NewCalculator(30, false), product: product(date(2024, 1, 1), 0)},
		{name: "negative months", calc: NewCalculator(30, false), product: product(date(2024, 1, 1), -3)},
		{name: "too many months", calc: NewCalculator(30, false), product: product(date(2024, 1, 1), MaxWarrantyMonths+1)},
		{name: "missing purchase date", calc: NewCalculator(30, false), product: product(time.Time{}, 12)},
		{name: "future purchase when rejected", calc: NewCalculator(30, true), product: product(date(2024, 7, 1), 12)},
		{name: "line break in name", calc: NewCalculator(30, false), product: named(product(date(2024, 1, 1), 12), "Fridge\r\nBcc: someone@example.com")},
		{name: "newline in model", calc: NewCalculator(30, false), product: func() *models.Product {
			p := product(date(2024, 1, 1), 12)
			p.Model = "RF28\nX-Extra: 1"
			return p
		}()},
		{name: "tab in name", calc: NewCalculator(30, false), product: named(product(date(2024, 1, 1), 12), "Fridge\tXL")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.calc.Evaluate(tt.product, now, 30)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.ErrInvalidProduct))
		})
	}
}

func TestFuturePurchaseAllowedByDefault(t *testing.T) {
	calc := NewCalculator(30, false)

	status, err := calc.Status(product(date(2024, 7, 1), 12), date(2024, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, Active, status.Kind)
}
