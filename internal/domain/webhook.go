package domain

import "time"

// Webhook is one account's subscription to one event type. An account has
// at most one subscription per event; re-registering replaces the URL.
type Webhook struct {
	WebhookID string
	AccountID string
	Event     string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
	Delivery  DeliveryStatus
}

// DeliveryStatus summarises the delivery attempts made to the current URL.
type DeliveryStatus struct {
	Attempts            int
	ConsecutiveFailures int
	LastAttemptAt       *time.Time
	LastStatusCode      int // 0 when no HTTP response was received
	LastError           string
}

// Record folds one attempt into the status. Any 2xx response ends the
// failure streak.
func (d *DeliveryStatus) Record(at time.Time, statusCode int, err error) {
	d.Attempts++
	d.LastAttemptAt = &at
	d.LastStatusCode = statusCode
	d.LastError = ""

	switch {
	case err != nil:
		d.LastError = err.Error()
		d.ConsecutiveFailures++
	case statusCode < 200 || statusCode >= 300:
		d.ConsecutiveFailures++
	default:
		d.ConsecutiveFailures = 0
	}
}

// Failing reports whether the latest attempt failed.
func (d DeliveryStatus) Failing() bool {
	return d.ConsecutiveFailures > 0
}
