package driven

import "context"

// DedupLedger defines the driven port for the durable record of message ids
// already forwarded per user. Membership checks and marking are batched; the
// storage layer serializes conflicting inserts via a unique constraint, so
// marking an already-marked id is silently absorbed.
type DedupLedger interface {
	// AlreadyForwarded reports, in a single batched lookup, which of the given
	// ids have already been forwarded for the user. Every requested id is
	// present in the returned map.
	AlreadyForwarded(ctx context.Context, userID string, ids []string) (map[string]bool, error)

	// MarkForwarded records the given ids as forwarded in one batched,
	// idempotent insert. Duplicate keys are never an error.
	MarkForwarded(ctx context.Context, userID string, ids []string) error

	// CountForUser returns the number of forwarded-message records for a user.
	CountForUser(ctx context.Context, userID string) (int, error)

	// PurgeUser removes all forwarded-message records for a user and returns
	// the number removed. This is the only supported deletion.
	PurgeUser(ctx context.Context, userID string) (int64, error)
}
