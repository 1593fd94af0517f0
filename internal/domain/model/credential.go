package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// HashAddress returns the hex SHA-256 of the lowercased address. Stored
// alongside the encrypted address so lookups never need to decrypt, and used
// as the uniqueness key component for (user, provider, account).
func HashAddress(address string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(address)))
	return hex.EncodeToString(sum[:])
}

// Credential holds the OAuth material authorizing access to one linked mailbox
// account. Provider identifies the mailbox service ("gmail"), Address is the
// mailbox address the user linked. Secret fields (Address, AccessToken,
// RefreshToken, ClientSecret) are encrypted at rest by the adapter layer; this
// struct only ever carries plaintext in memory.
type Credential struct {
	ID           int64
	UserID       string
	Provider     string
	Address      string
	AddressHash  string // sha256 of the lowercased address; uniqueness key component
	AccessToken  string
	RefreshToken string
	TokenURI     string
	ClientID     string
	ClientSecret string
	Expiry       time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the access token is expired or expires within the
// given leeway. A zero Expiry is treated as expired so a refresh is always
// attempted rather than trusting a token of unknown age.
func (c *Credential) Expired(now time.Time, leeway time.Duration) bool {
	if c.Expiry.IsZero() {
		return true
	}
	return !now.Add(leeway).Before(c.Expiry)
}

// Session is an immutable snapshot of a usable provider credential, produced
// by the credential manager after freshness validation. No refresh happens
// after a Session is handed out; concurrent jobs share it read-only.
type Session struct {
	UserID      string
	Provider    string
	Address     string
	AccessToken string
	Expiry      time.Time
}
