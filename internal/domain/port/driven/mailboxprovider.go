package driven

import (
	"context"
	"errors"

	"github.com/receiptdrop/mailrelay/internal/domain/model"
)

// ErrMessageNotFound is returned by FetchRaw when the provider reports the
// message id unknown or deleted.
var ErrMessageNotFound = errors.New("message not found")

// ErrEmptyMessage is returned by FetchRaw when the provider returns a message
// with no content.
var ErrEmptyMessage = errors.New("message has no content")

// MailboxProvider defines the driven port for the user's external mailbox:
// enumerating candidate messages and retrieving raw message bytes. Neither
// operation retries; retry policy belongs to the forwarding engine.
type MailboxProvider interface {
	// Search returns summaries of messages matching the query. The session's
	// access token authenticates the call.
	Search(ctx context.Context, session *model.Session, q model.SearchQuery) ([]model.MessageSummary, error)

	// FetchRaw returns the message's exact transport-format (RFC 822) bytes as
	// stored by the provider, with no reformatting. Returns ErrMessageNotFound
	// or ErrEmptyMessage for the corresponding provider responses; any other
	// provider-side failure is returned wrapped.
	FetchRaw(ctx context.Context, session *model.Session, messageID string) ([]byte, error)
}
