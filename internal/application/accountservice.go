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

// ErrNoRefreshToken is returned by CompleteLink when the provider's token
// response omits a refresh token, which would leave the link unable to survive
// the first access-token expiry. The user must re-consent.
var ErrNoRefreshToken = errors.New("authorization response carried no refresh token")

// AccountStatus is the client-facing view of one linked account. It carries no
// secret material.
type AccountStatus struct {
	Address   string    `json:"address"`
	Provider  string    `json:"provider"`
	Expiry    time.Time `json:"token_expiry"`
	Expired   bool      `json:"expired"`
	LinkedAt  time.Time `json:"linked_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccountService manages the lifecycle of linked mailbox accounts: starting
// the OAuth consent flow, completing it, listing link status, and revoking.
type AccountService struct {
	store    driven.CredentialStore
	oauth    driven.OAuthProvider
	provider string
	clientID string
	secret   string
	tokenURI string
	logger   *slog.Logger

	now func() time.Time
}

// NewAccountService wires account linking for one provider. clientID, secret
// and tokenURI are stored with each credential so refreshes keep working even
// if the service's own OAuth client is later rotated.
func NewAccountService(store driven.CredentialStore, oauth driven.OAuthProvider, provider, clientID, secret, tokenURI string, logger *slog.Logger) *AccountService {
	return &AccountService{
		store:    store,
		oauth:    oauth,
		provider: provider,
		clientID: clientID,
		secret:   secret,
		tokenURI: tokenURI,
		logger:   logger,
		now:      time.Now,
	}
}

// AuthURL returns the consent URL for the given CSRF state.
func (s *AccountService) AuthURL(state string) string {
	return s.oauth.AuthCodeURL(state)
}

// CompleteLink finishes the consent flow: it exchanges the authorization code,
// resolves which mailbox the tokens are for, and stores the credential. Linking
// the same account again replaces the stored token material. Returns the linked
// address.
func (s *AccountService) CompleteLink(ctx context.Context, userID, code string) (string, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange authorization code: %w", err)
	}
	if tok.RefreshToken == "" {
		return "", ErrNoRefreshToken
	}

	address, err := s.oauth.Identity(ctx, tok.AccessToken)
	if err != nil {
		return "", fmt.Errorf("resolve linked mailbox identity: %w", err)
	}

	cred := &model.Credential{
		UserID:       userID,
		Provider:     s.provider,
		Address:      address,
		AddressHash:  model.HashAddress(address),
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenURI:     s.tokenURI,
		ClientID:     s.clientID,
		ClientSecret: s.secret,
		Expiry:       tok.Expiry,
	}
	if err := s.store.Upsert(ctx, cred); err != nil {
		return "", fmt.Errorf("store credential for user %s: %w", userID, err)
	}

	s.logger.Info("mailbox account linked", "user_id", userID, "provider", s.provider)
	return address, nil
}

// Status lists the user's linked accounts. An empty slice means nothing is
// linked; that is not an error.
func (s *AccountService) Status(ctx context.Context, userID string) ([]AccountStatus, error) {
	creds, err := s.store.ListByUser(ctx, userID, s.provider)
	if err != nil {
		return nil, fmt.Errorf("list accounts for user %s: %w", userID, err)
	}

	now := s.now()
	statuses := make([]AccountStatus, len(creds))
	for i, c := range creds {
		statuses[i] = AccountStatus{
			Address:   c.Address,
			Provider:  c.Provider,
			Expiry:    c.Expiry,
			Expired:   c.Expired(now, 0),
			LinkedAt:  c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		}
	}
	return statuses, nil
}

// Revoke unlinks an account, deleting its stored credential. Account may be
// empty when exactly one account is linked; with several, the same
// disambiguation rules as forwarding apply.
func (s *AccountService) Revoke(ctx context.Context, userID, account string) error {
	cred, err := resolveCredential(ctx, s.store, s.provider, userID, account)
	if err != nil {
		return err
	}

	removed, err := s.store.Delete(ctx, userID, s.provider, cred.AddressHash)
	if err != nil {
		return fmt.Errorf("delete credential for user %s: %w", userID, err)
	}
	if !removed {
		// Raced with another revoke; the end state is what was asked for.
		return nil
	}
	s.logger.Info("mailbox account unlinked", "user_id", userID, "provider", s.provider)
	return nil
}
