package model

import "time"

// ConfirmLink is one provider forwarding-confirmation mail captured for a user:
// the address the confirmation was sent to and the extracted confirm/cancel
// URLs. Link fields are encrypted at rest by the adapter layer.
type ConfirmLink struct {
	ID         string // uuid
	UserID     string
	Address    string
	ConfirmURL string
	CancelURL  string
	CreatedAt  time.Time
}
