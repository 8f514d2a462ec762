package warranty

import (
	"net/mail"
	"sort"
	"strings"

	"warranty-reminder/internal/errs"
	"warranty-reminder/internal/models"
)

// MaxReminderDay is the furthest-out threshold an owner may configure
const MaxReminderDay = 3650

// DefaultReminderDays is used when an owner saves settings without thresholds
var DefaultReminderDays = []int{30, 7, 1}

// NormalizeReminderDays deduplicates and sorts thresholds descending.
// Non-positive values and values beyond MaxReminderDay are rejected.
func NormalizeReminderDays(days []int) ([]int, error) {
	seen := make(map[int]struct{}, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d <= 0 {
			return nil, errs.InvalidSettings("reminder day must be positive, got %d", d)
		}
		if d > MaxReminderDay {
			return nil, errs.InvalidSettings("reminder day %d exceeds %d", d, MaxReminderDay)
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out, nil
}

// NormalizeSettings validates contact details and normalizes thresholds in place
func NormalizeSettings(s *models.ReminderSettings) error {
	if s == nil {
		return errs.InvalidSettings("settings are required")
	}
	if strings.TrimSpace(s.OwnerID) == "" {
		return errs.InvalidSettings("owner id is required")
	}

	s.Email = strings.TrimSpace(s.Email)
	if s.Email == "" {
		return errs.InvalidSettings("email is required")
	}
	addr, err := mail.ParseAddress(s.Email)
	if err != nil {
		return errs.InvalidSettings("invalid email %q", s.Email)
	}
	s.Email = addr.Address

	phone, err := normalizePhone(s.PhoneNumber)
	if err != nil {
		return err
	}
	s.PhoneNumber = phone

	if len(s.ReminderDays) == 0 {
		s.ReminderDays = append([]int(nil), DefaultReminderDays...)
		return nil
	}
	days, err := NormalizeReminderDays(s.ReminderDays)
	if err != nil {
		return err
	}
	s.ReminderDays = days
	return nil
}

// normalizePhone strips formatting and keeps an optional leading '+'
func normalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", errs.InvalidSettings("invalid phone number %q", raw)
		}
	}

	digits := strings.TrimPrefix(b.String(), "+")
	if len(digits) < 6 || len(digits) > 15 {
		return "", errs.InvalidSettings("invalid phone number %q", raw)
	}
	return b.String(), nil
}
