package driven

import (
	"context"
	"fmt"
)

// AuthError classifies a delivery failure caused by invalid transport
// credentials. It is a configuration problem and is never retried.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("relay auth failed: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// TransientError classifies a delivery failure expected to succeed on retry:
// network hiccups, protocol errors, timeouts.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient delivery failure: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// RelayTransport defines the driven port for outbound delivery. Deliver sends
// one assembled envelope carrying raw as an opaque attachment tagged with
// messageID. The send either is accepted or fails with a classified error;
// there is no ambiguous outcome (a timeout reports as TransientError).
type RelayTransport interface {
	Deliver(ctx context.Context, from, to string, raw []byte, messageID string) error
}
