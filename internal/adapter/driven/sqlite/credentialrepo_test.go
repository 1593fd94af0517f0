package sqlite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/receiptdrop/mailrelay/internal/domain/model"
)

func addressHash(address string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(address)))
	return hex.EncodeToString(sum[:])
}

func testCredential(userID, address string) *model.Credential {
	return &model.Credential{
		UserID:       userID,
		Provider:     "gmail",
		Address:      address,
		AddressHash:  addressHash(address),
		AccessToken:  "ya29.access",
		RefreshToken: "1//refresh",
		TokenURI:     "https://oauth2.example.com/token",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Expiry:       time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
}

func TestCredentialRepo_UpsertAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo, err := NewCredentialRepo(db, testKey)
	require.NoError(t, err)
	ctx := context.Background()

	cred := testCredential("user-1", "alice@example.com")
	require.NoError(t, repo.Upsert(ctx, cred))

	got, err := repo.GetByAddressHash(ctx, "user-1", "gmail", cred.AddressHash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice@example.com", got.Address)
	assert.Equal(t, "ya29.access", got.AccessToken)
	assert.Equal(t, "1//refresh", got.RefreshToken)
	assert.Equal(t, "client-secret", got.ClientSecret)
	assert.Equal(t, cred.Expiry, got.Expiry.Truncate(time.Second))
	assert.False(t, got.CreatedAt.IsZero())
}

func TestCredentialRepo_SecretsEncryptedAtRest(t *testing.T) {
	db := setupTestDB(t)
	repo, err := NewCredentialRepo(db, testKey)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testCredential("user-1", "alice@example.com")))

	var address, accessToken string
	err = db.Reader.QueryRowContext(ctx,
		`SELECT address, access_token FROM mail_credentials WHERE user_id = ?`, "user-1",
	).Scan(&address, &accessToken)
	require.NoError(t, err)

	assert.NotEqual(t, "alice@example.com", address)
	assert.NotContains(t, address, "alice")
	assert.NotContains(t, accessToken, "ya29")
}

func TestCredentialRepo_GetMissing(t *testing.T) {
	db := setupTestDB(t)
	repo, err := NewCredentialRepo(db, testKey)
	require.NoError(t, err)

	got, err := repo.GetByAddressHash(context.Background(), "user-1", "gmail", addressHash("nobody@example.com"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCredentialRepo_UpsertReplacesTokens(t *testing.T) {
	db := setupTestDB(t)
	repo, err := NewCredentialRepo(db, testKey)
	require.NoError(t, err)
	ctx := context.Background()

	cred := testCredential("user-1", "alice@example.com")
	require.NoError(t, repo.Upsert(ctx, cred))

	cred.AccessToken = "ya29.newer"
	cred.RefreshToken = "1//rotated"
	require.NoError(t, repo.Upsert(ctx, cred))

	creds, err := repo.ListByUser(ctx, "user-1", "gmail")
	require.NoError(t, err)
	require.Len(t, creds, 1, "re-link must not create a second row")
	assert.Equal(t, "ya29.newer", creds[0].AccessToken)
	assert.Equal(t, "1//rotated", creds[0].RefreshToken)
}

func TestCredentialRepo_ListByUserMultipleAccounts(t *testing.T) {
	db := setupTestDB(t)
	repo, err := NewCredentialRepo(db, testKey)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testCredential("user-1", "alice@example.com")))
	require.NoError(t, repo.Upsert(ctx, testCredential("user-1", "alice.work@example.com")))
	require.NoError(t, repo.Upsert(ctx, testCredential("user-2", "bob@example.com")))

	creds, err := repo.ListByUser(ctx, "user-1", "gmail")
	require.NoError(t, err)
	require.Len(t, creds, 2)
	addresses := []string{creds[0].Address, creds[1].Address}
	assert.Contains(t, addresses, "alice@example.com")
	assert.Contains(t, addresses, "alice.work@example.com")
}

func TestCredentialRepo_UpdateAccessToken(t *testing.T) {
	db := setupTestDB(t)
	repo, err := NewCredentialRepo(db, testKey)
	require.NoError(t, err)
	ctx := context.Background()

	cred := testCredential("user-1", "alice@example.com")
	require.NoError(t, repo.Upsert(ctx, cred))

	newExpiry := time.Now().Add(45 * time.Minute).UTC().Truncate(time.Second)
	require.NoError(t, repo.UpdateAccessToken(ctx, "user-1", "gmail", cred.AddressHash, "ya29.refreshed", newExpiry))

	got, err := repo.GetByAddressHash(ctx, "user-1", "gmail", cred.AddressHash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ya29.refreshed", got.AccessToken)
	assert.Equal(t, newExpiry, got.Expiry.Truncate(time.Second))
	assert.Equal(t, "1//refresh", got.RefreshToken, "refresh token must not be touched")
}

func TestCredentialRepo_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo, err := NewCredentialRepo(db, testKey)
	require.NoError(t, err)
	ctx := context.Background()

	cred := testCredential("user-1", "alice@example.com")
	require.NoError(t, repo.Upsert(ctx, cred))

	removed, err := repo.Delete(ctx, "user-1", "gmail", cred.AddressHash)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.Delete(ctx, "user-1", "gmail", cred.AddressHash)
	require.NoError(t, err)
	assert.False(t, removed, "second delete finds nothing")
}

func TestNewCredentialRepo_RejectsShortKey(t *testing.T) {
	db := setupTestDB(t)
	_, err := NewCredentialRepo(db, []byte("too-short"))
	assert.Error(t, err)
}
