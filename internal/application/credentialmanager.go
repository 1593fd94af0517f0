package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/receiptdrop/mailrelay/internal/domain/model"
	"github.com/receiptdrop/mailrelay/internal/domain/port/driven"
)

// refreshLeeway is how close to expiry an access token may be before Acquire
// refreshes it anyway, so a token cannot expire mid-batch.
const refreshLeeway = 2 * time.Minute

// CredentialManager turns stored credentials into ready-to-use provider
// sessions. Acquire validates freshness, refreshes through the provider's
// token endpoint when needed, and persists the refreshed access token:
// exactly one write per acquisition, never more.
type CredentialManager struct {
	store    driven.CredentialStore
	oauth    driven.OAuthProvider
	provider string
	logger   *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewCredentialManager creates a CredentialManager for one provider.
func NewCredentialManager(store driven.CredentialStore, oauth driven.OAuthProvider, provider string, logger *slog.Logger) *CredentialManager {
	return &CredentialManager{
		store:    store,
		oauth:    oauth,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
}

// Acquire resolves the user's credential for the given account (empty means
// "the only linked account"), refreshes the access token if it is expired or
// about to expire, and returns an immutable session snapshot.
//
// Returns ErrNotLinked, *AmbiguousAccountError, or ErrCredentialExpired; any
// other error is an infrastructure failure.
func (m *CredentialManager) Acquire(ctx context.Context, userID, account string) (*model.Session, error) {
	cred, err := resolveCredential(ctx, m.store, m.provider, userID, account)
	if err != nil {
		return nil, err
	}

	if cred.Expired(m.now(), refreshLeeway) {
		if err := m.refresh(ctx, cred); err != nil {
			return nil, err
		}
	}

	return &model.Session{
		UserID:      cred.UserID,
		Provider:    cred.Provider,
		Address:     cred.Address,
		AccessToken: cred.AccessToken,
		Expiry:      cred.Expiry,
	}, nil
}

// refresh obtains a new access token and persists it in a single token-only
// upsert, mutating cred in place on success. A revoked refresh token maps to
// ErrCredentialExpired and persists nothing.
func (m *CredentialManager) refresh(ctx context.Context, cred *model.Credential) error {
	m.logger.Info("refreshing access token", "user_id", cred.UserID, "provider", cred.Provider)

	tok, err := m.oauth.Refresh(ctx, cred)
	if err != nil {
		if errors.Is(err, driven.ErrInvalidGrant) {
			return fmt.Errorf("%w: %v", ErrCredentialExpired, err)
		}
		return fmt.Errorf("refresh credential for user %s: %w", cred.UserID, err)
	}

	if err := m.store.UpdateAccessToken(ctx, cred.UserID, cred.Provider, cred.AddressHash, tok.AccessToken, tok.Expiry); err != nil {
		return fmt.Errorf("persist refreshed token for user %s: %w", cred.UserID, err)
	}

	cred.AccessToken = tok.AccessToken
	cred.Expiry = tok.Expiry
	return nil
}

// resolveCredential finds the credential for (user, provider, account).
// With no explicit account it succeeds only when exactly one is linked;
// otherwise it fails with the candidate addresses for the caller to choose
// from. Shared by the credential manager and account revocation.
func resolveCredential(ctx context.Context, store driven.CredentialStore, provider, userID, account string) (*model.Credential, error) {
	if account != "" {
		cred, err := store.GetByAddressHash(ctx, userID, provider, model.HashAddress(account))
		if err != nil {
			return nil, fmt.Errorf("look up credential for user %s: %w", userID, err)
		}
		if cred == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotLinked, account)
		}
		return cred, nil
	}

	creds, err := store.ListByUser(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("list credentials for user %s: %w", userID, err)
	}
	switch len(creds) {
	case 0:
		return nil, ErrNotLinked
	case 1:
		return &creds[0], nil
	default:
		addresses := make([]string, len(creds))
		for i, c := range creds {
			addresses[i] = c.Address
		}
		return nil, &AmbiguousAccountError{Addresses: addresses}
	}
}
