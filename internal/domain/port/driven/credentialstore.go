package driven

import (
	"context"
	"time"

	"github.com/receiptdrop/mailrelay/internal/domain/model"
)

// CredentialStore defines the driven port for encrypted mailbox-credential
// persistence. The adapter layer is responsible for encryption/decryption;
// this interface operates on plaintext values at the domain boundary.
//
// At most one record exists per (user, provider, address hash); Upsert and
// UpdateAccessToken are keyed on that identity.
type CredentialStore interface {
	// Upsert stores the full credential, replacing the token material if a
	// record already exists for the same (user, provider, address hash).
	Upsert(ctx context.Context, cred *model.Credential) error

	// ListByUser returns all credentials a user has linked for the provider,
	// decrypted. Used for disambiguation and account status.
	ListByUser(ctx context.Context, userID, provider string) ([]model.Credential, error)

	// GetByAddressHash returns the credential for the exact account identity,
	// or (nil, nil) when no record exists.
	GetByAddressHash(ctx context.Context, userID, provider, addressHash string) (*model.Credential, error)

	// UpdateAccessToken overwrites only the stored access token and expiry for
	// the identified credential. The write is an idempotent upsert: two racing
	// refreshes both succeed and the row ends with one of the refreshed tokens,
	// never a torn mix.
	UpdateAccessToken(ctx context.Context, userID, provider, addressHash, accessToken string, expiry time.Time) error

	// Delete removes the credential. Deleting an absent record is not an error;
	// the bool reports whether a row was removed.
	Delete(ctx context.Context, userID, provider, addressHash string) (bool, error)
}
