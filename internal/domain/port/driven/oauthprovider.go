package driven

import (
	"context"
	"errors"
	"time"

	"github.com/receiptdrop/mailrelay/internal/domain/model"
)

// ErrInvalidGrant is returned by Refresh when the provider rejects the refresh
// token as revoked or invalid. It is terminal: the user must re-authorize.
var ErrInvalidGrant = errors.New("refresh token revoked or invalid")

// Token is the secret material produced by an authorization-code exchange or a
// refresh. RefreshToken is empty on refresh responses that do not rotate it.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// OAuthProvider defines the driven port for the provider's OAuth endpoints.
// The consent redirect itself happens in the user's browser; this port covers
// the server side of the flow.
type OAuthProvider interface {
	// AuthCodeURL builds the consent URL the user is sent to. The state value
	// round-trips through the redirect for CSRF protection.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for tokens.
	Exchange(ctx context.Context, code string) (*Token, error)

	// Refresh obtains a new access token using the credential's refresh token
	// against its token endpoint. Returns ErrInvalidGrant on revocation.
	Refresh(ctx context.Context, cred *model.Credential) (*Token, error)

	// Identity resolves the mailbox address the token is authorized for.
	Identity(ctx context.Context, accessToken string) (string, error)
}
