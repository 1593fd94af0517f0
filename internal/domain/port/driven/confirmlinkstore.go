package driven

import (
	"context"

	"github.com/receiptdrop/mailrelay/internal/domain/model"
)

// ConfirmLinkStore defines the driven port for persisting forwarding
// confirmation links extracted from provider confirmation mail. Link URLs are
// encrypted at rest by the adapter; this interface operates on plaintext.
type ConfirmLinkStore interface {
	Insert(ctx context.Context, link *model.ConfirmLink) error

	// Get returns the link owned by the user, or (nil, nil) when absent.
	Get(ctx context.Context, userID, id string) (*model.ConfirmLink, error)

	// Delete removes the link. The bool reports whether a row was removed.
	Delete(ctx context.Context, userID, id string) (bool, error)
}

// LinkConfirmer completes a forwarding confirmation by visiting the confirm
// URL. Implementations range from a plain HTTP GET to full browser automation;
// the application layer does not care which.
type LinkConfirmer interface {
	Confirm(ctx context.Context, url string) error
}
