// Package application contains use-case orchestration services.
package application

import (
	"errors"
	"fmt"
	"strings"
)

// Pre-flight errors. All of these abort a forward batch before any job starts;
// the HTTP layer maps them to distinct response kinds.
var (
	// ErrNotLinked is returned when the user has no credential for the
	// requested provider account.
	ErrNotLinked = errors.New("no linked mailbox account")

	// ErrCredentialExpired is returned when the stored refresh token has been
	// revoked or invalidated. Terminal: the user must re-authorize.
	ErrCredentialExpired = errors.New("mailbox credential expired, re-authorization required")

	// ErrInvalidConcurrency is returned when a requested concurrency limit
	// falls outside the allowed range. Rejected before any work starts.
	ErrInvalidConcurrency = fmt.Errorf("concurrency limit must be between %d and %d", MinConcurrency, MaxConcurrency)

	// ErrNoConfirmLink is returned when a confirmation mail carries no
	// recognizable forwarding confirmation URL.
	ErrNoConfirmLink = errors.New("no forwarding confirmation link found in message")
)

// AmbiguousAccountError is returned when the user has more than one linked
// account for the provider and the request did not name one. The candidate
// addresses are carried for the error response, never logged.
type AmbiguousAccountError struct {
	Addresses []string
}

func (e *AmbiguousAccountError) Error() string {
	return fmt.Sprintf("multiple linked accounts, specify one of: %s", strings.Join(e.Addresses, ", "))
}
