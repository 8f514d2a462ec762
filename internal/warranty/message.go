package warranty

import (
	"fmt"
	"time"

	"warranty-reminder/internal/models"
)

// DateLayout is the calendar date format used in messages and the API
const DateLayout = "2006-01-02"

// Message is a rendered reminder
type Message struct {
	Subject string
	Body    string
}

// RenderMessage renders the reminder for a product and threshold.
// The product name, threshold and expiry date always appear verbatim.
func RenderMessage(p *models.Product, thresholdDay int, expiry time.Time) Message {
	name := p.DisplayName()
	if thresholdDay == ExpiredThreshold {
		return Message{
			Subject: fmt.Sprintf("Warranty expired: %s", name),
			Body:    fmt.Sprintf("%s warranty expired on %s.", name, expiry.Format(DateLayout)),
		}
	}
	return Message{
		Subject: fmt.Sprintf("Warranty reminder: %s", name),
		Body: fmt.Sprintf("%s warranty expires in %d day(s) on %s.",
			name, thresholdDay, expiry.Format(DateLayout)),
	}
}
