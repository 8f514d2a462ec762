package warranty

import (
	"sort"
	"time"

	"warranty-reminder/internal/models"
)

// ExpiredThreshold is the threshold day of the one-time expired notice
const ExpiredThreshold = 0

// Policy decides which reminder thresholds are due for a product.
// It only returns candidates; deduplication against the dispatch ledger
// belongs to the caller.
type Policy struct {
	calc *Calculator
	// ExpiredNotice adds a single threshold-0 notice once the warranty lapses
	ExpiredNotice bool
}

// NewPolicy creates a reminder policy
func NewPolicy(calc *Calculator, expiredNotice bool) *Policy {
	return &Policy{calc: calc, ExpiredNotice: expiredNotice}
}

// Calculator returns the status calculator backing the policy
func (p *Policy) Calculator() *Calculator {
	return p.calc
}

// DueReminders returns every configured threshold that has been crossed at
// now, including ones a skipped run missed. Thresholds are ordered by when
// they were crossed (largest first) so the most urgent reminder goes out last.
func (p *Policy) DueReminders(product *models.Product, settings *models.ReminderSettings, now time.Time) ([]int, error) {
	status, err := p.calc.Evaluate(product, now, settings.MaxReminderDay())
	if err != nil {
		return nil, err
	}
	return p.dueFor(status, settings), nil
}

// DueForStatus is DueReminders for an already computed status
func (p *Policy) DueForStatus(status Status, settings *models.ReminderSettings) []int {
	return p.dueFor(status, settings)
}

func (p *Policy) dueFor(status Status, settings *models.ReminderSettings) []int {
	if settings == nil {
		return nil
	}

	due := make([]int, 0, len(settings.ReminderDays)+1)
	seen := make(map[int]struct{}, len(settings.ReminderDays))
	for _, threshold := range settings.ReminderDays {
		if threshold <= 0 {
			continue
		}
		if _, ok := seen[threshold]; ok {
			continue
		}
		seen[threshold] = struct{}{}
		if status.DaysRemaining <= threshold {
			due = append(due, threshold)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(due)))

	if p.ExpiredNotice && status.DaysRemaining <= 0 {
		due = append(due, ExpiredThreshold)
	}

	return due
}
