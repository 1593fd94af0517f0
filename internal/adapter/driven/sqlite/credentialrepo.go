package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/receiptdrop/mailrelay/internal/domain/model"
	"github.com/receiptdrop/mailrelay/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port.
// Secret columns (address, access_token, refresh_token, client_secret) are
// encrypted with AES-256-GCM before write and decrypted after read; the
// address_hash column carries the lookup key so no query ever needs to decrypt
// to find a row.
type CredentialRepo struct {
	db     *DB
	cipher *fieldCipher
}

// NewCredentialRepo creates a CredentialRepo. key must be a 32-byte AES-256 key.
func NewCredentialRepo(db *DB, key []byte) (*CredentialRepo, error) {
	c, err := newFieldCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credential repo: %w", err)
	}
	return &CredentialRepo{db: db, cipher: c}, nil
}

// Upsert stores the full credential, replacing token material on conflict with
// the (user_id, provider, address_hash) identity. Used when an account is
// linked or re-linked through the OAuth callback.
func (r *CredentialRepo) Upsert(ctx context.Context, cred *model.Credential) error {
	address, err := r.cipher.encrypt(cred.Address)
	if err != nil {
		return fmt.Errorf("encrypt address: %w", err)
	}
	accessToken, err := r.cipher.encrypt(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refreshToken, err := r.cipher.encrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	clientSecret, err := r.cipher.encrypt(cred.ClientSecret)
	if err != nil {
		return fmt.Errorf("encrypt client secret: %w", err)
	}

	const query = `
		INSERT INTO mail_credentials
			(user_id, provider, address, address_hash, access_token, refresh_token, token_uri, client_id, client_secret, expiry)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider, address_hash) DO UPDATE SET
			address       = excluded.address,
			access_token  = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_uri     = excluded.token_uri,
			client_id     = excluded.client_id,
			client_secret = excluded.client_secret,
			expiry        = excluded.expiry,
			updated_at    = STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now')
	`
	_, err = r.db.Writer.ExecContext(ctx, query,
		cred.UserID, cred.Provider, address, cred.AddressHash,
		accessToken, refreshToken, cred.TokenURI, cred.ClientID, clientSecret,
		expiryValue(cred.Expiry),
	)
	if err != nil {
		return fmt.Errorf("upsert credential for user %s: %w", cred.UserID, err)
	}
	return nil
}

// ListByUser returns all credentials a user has linked for the provider,
// decrypted, ordered by creation.
func (r *CredentialRepo) ListByUser(ctx context.Context, userID, provider string) ([]model.Credential, error) {
	const query = `
		SELECT id, user_id, provider, address, address_hash, access_token, refresh_token,
		       token_uri, client_id, client_secret, expiry, created_at, updated_at
		FROM mail_credentials
		WHERE user_id = ? AND provider = ?
		ORDER BY id
	`
	rows, err := r.db.Reader.QueryContext(ctx, query, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("list credentials for user %s: %w", userID, err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		cred, err := r.scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return creds, nil
}

// GetByAddressHash returns the credential for the exact account identity, or
// (nil, nil) when no record exists.
func (r *CredentialRepo) GetByAddressHash(ctx context.Context, userID, provider, addressHash string) (*model.Credential, error) {
	const query = `
		SELECT id, user_id, provider, address, address_hash, access_token, refresh_token,
		       token_uri, client_id, client_secret, expiry, created_at, updated_at
		FROM mail_credentials
		WHERE user_id = ? AND provider = ? AND address_hash = ?
	`
	rows, err := r.db.Reader.QueryContext(ctx, query, userID, provider, addressHash)
	if err != nil {
		return nil, fmt.Errorf("get credential for user %s: %w", userID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get credential for user %s: %w", userID, err)
		}
		return nil, nil
	}
	return r.scanCredential(rows)
}

// UpdateAccessToken overwrites only the access token and expiry for the
// identified credential, in a single statement. Two racing refreshes both
// succeed; the row ends with whichever refreshed token wrote last, which is
// acceptable because either token is valid.
func (r *CredentialRepo) UpdateAccessToken(ctx context.Context, userID, provider, addressHash, accessToken string, expiry time.Time) error {
	encrypted, err := r.cipher.encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}

	const query = `
		UPDATE mail_credentials
		SET access_token = ?, expiry = ?, updated_at = STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE user_id = ? AND provider = ? AND address_hash = ?
	`
	_, err = r.db.Writer.ExecContext(ctx, query, encrypted, expiryValue(expiry), userID, provider, addressHash)
	if err != nil {
		return fmt.Errorf("update access token for user %s: %w", userID, err)
	}
	return nil
}

// Delete removes the credential. Returns whether a row was removed.
func (r *CredentialRepo) Delete(ctx context.Context, userID, provider, addressHash string) (bool, error) {
	const query = `DELETE FROM mail_credentials WHERE user_id = ? AND provider = ? AND address_hash = ?`
	res, err := r.db.Writer.ExecContext(ctx, query, userID, provider, addressHash)
	if err != nil {
		return false, fmt.Errorf("delete credential for user %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete credential rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *CredentialRepo) scanCredential(rows *sql.Rows) (*model.Credential, error) {
	var cred model.Credential
	var address, accessToken, refreshToken, clientSecret string
	var expiry sql.NullString
	var createdAt, updatedAt string

	if err := rows.Scan(
		&cred.ID, &cred.UserID, &cred.Provider, &address, &cred.AddressHash,
		&accessToken, &refreshToken, &cred.TokenURI, &cred.ClientID, &clientSecret,
		&expiry, &createdAt, &updatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}

	var err error
	if cred.Address, err = r.cipher.decrypt(address); err != nil {
		return nil, fmt.Errorf("decrypt address: %w", err)
	}
	if cred.AccessToken, err = r.cipher.decrypt(accessToken); err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	if cred.RefreshToken, err = r.cipher.decrypt(refreshToken); err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}
	if clientSecret != "" {
		if cred.ClientSecret, err = r.cipher.decrypt(clientSecret); err != nil {
			return nil, fmt.Errorf("decrypt client secret: %w", err)
		}
	}

	if expiry.Valid && expiry.String != "" {
		if cred.Expiry, err = parseTime(expiry.String); err != nil {
			return nil, fmt.Errorf("parse expiry: %w", err)
		}
	}
	if cred.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if cred.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &cred, nil
}

// expiryValue renders a token expiry for storage; zero means unknown (NULL).
func expiryValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
