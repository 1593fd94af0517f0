// Package oauth implements the OAuthProvider port against a standard OAuth 2.0
// authorization-code provider (Gmail in production).
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/receiptdrop/mailrelay/internal/domain/model"
	"github.com/receiptdrop/mailrelay/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.OAuthProvider = (*Provider)(nil)

// Endpoints holds the provider URLs. Defaults live in the config package; tests
// point these at httptest servers.
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	UserinfoURL string
}

// Provider implements the OAuth flow with golang.org/x/oauth2. Consent URLs
// request offline access with forced consent so a refresh token is always
// granted on link.
type Provider struct {
	clientID     string
	clientSecret string
	redirectURL  string
	endpoints    Endpoints
	scopes       []string
	httpClient   *http.Client
	timeout      time.Duration
}

// NewProvider creates a Provider. timeout bounds every token-endpoint and
// userinfo call.
func NewProvider(clientID, clientSecret, redirectURL string, endpoints Endpoints, scopes []string, timeout time.Duration) *Provider {
	return &Provider{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		endpoints:    endpoints,
		scopes:       scopes,
		httpClient:   &http.Client{Timeout: timeout},
		timeout:      timeout,
	}
}

func (p *Provider) config(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		RedirectURL:  p.redirectURL,
		Scopes:       p.scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.endpoints.AuthURL,
			TokenURL: tokenURL,
		},
	}
}

// AuthCodeURL builds the consent URL for the redirect flow.
func (p *Provider) AuthCodeURL(state string) string {
	return p.config(p.endpoints.TokenURL).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// Exchange trades an authorization code for tokens.
func (p *Provider) Exchange(ctx context.Context, code string) (*driven.Token, error) {
	ctx = p.callContext(ctx)
	tok, err := p.config(p.endpoints.TokenURL).Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return &driven.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

// Refresh obtains a new access token from the credential's own token endpoint
// using its refresh token. An invalid_grant response maps to ErrInvalidGrant.
func (p *Provider) Refresh(ctx context.Context, cred *model.Credential) (*driven.Token, error) {
	ctx = p.callContext(ctx)

	tokenURL := cred.TokenURI
	if tokenURL == "" {
		tokenURL = p.endpoints.TokenURL
	}
	cfg := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
	if cfg.ClientID == "" {
		cfg.ClientID = p.clientID
		cfg.ClientSecret = p.clientSecret
	}

	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return nil, fmt.Errorf("%w: %s", driven.ErrInvalidGrant, retrieveErr.ErrorDescription)
		}
		return nil, fmt.Errorf("refresh access token: %w", err)
	}

	return &driven.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

// Identity resolves the mailbox address the token is authorized for via the
// provider's userinfo endpoint.
func (p *Provider) Identity(ctx context.Context, accessToken string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoints.UserinfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("userinfo returned %d: %s", resp.StatusCode, body)
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode userinfo: %w", err)
	}
	if info.Email == "" {
		return "", errors.New("userinfo response carries no email")
	}
	return info.Email, nil
}

// callContext injects our HTTP client into the oauth2 library and applies the
// per-call timeout.
func (p *Provider) callContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	// The oauth2 library owns cancellation from here; the client timeout bounds
	// the individual request.
	return ctx
}
