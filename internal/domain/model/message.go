package model

import "time"

// MessageSummary is the listing-level view of a mailbox message returned by
// provider search. ID is the provider's stable message identifier.
type MessageSummary struct {
	ID            string    `json:"message_id"`
	Subject       string    `json:"subject"`
	From          string    `json:"from"`
	Date          time.Time `json:"date"`
	HasAttachment bool      `json:"has_attachment"`
}

// SearchQuery describes a mailbox search at the provider boundary. Zero values
// mean "no constraint". Keywords are matched against message text the way the
// provider defines matching; this service does not reinterpret them.
type SearchQuery struct {
	Keywords      string
	After         time.Time
	Before        time.Time
	From          string
	HasAttachment bool
	Limit         int
}
