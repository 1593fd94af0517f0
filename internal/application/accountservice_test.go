package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/receiptdrop/mailrelay/internal/domain/model"
	"github.com/receiptdrop/mailrelay/internal/domain/port/driven"
)

func newAccountService(store *fakeCredentialStore, oauth *fakeOAuth) *AccountService {
	return NewAccountService(store, oauth, "gmail",
		"client-id", "client-secret", "https://oauth2.example.com/token", testLogger())
}

func TestCompleteLink(t *testing.T) {
	store := newFakeCredentialStore()
	oauth := &fakeOAuth{
		exchanged: &driven.Token{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(time.Hour)},
		identity:  "Alice@Example.com",
	}
	svc := newAccountService(store, oauth)

	address, err := svc.CompleteLink(context.Background(), testUser, "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "Alice@Example.com", address)

	cred, err := store.GetByAddressHash(context.Background(), testUser, "gmail", model.HashAddress(address))
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "at", cred.AccessToken)
	assert.Equal(t, "rt", cred.RefreshToken)
	assert.Equal(t, "client-id", cred.ClientID)
	assert.Equal(t, "https://oauth2.example.com/token", cred.TokenURI)
}

func TestCompleteLink_NoRefreshToken(t *testing.T) {
	store := newFakeCredentialStore()
	oauth := &fakeOAuth{
		exchanged: &driven.Token{AccessToken: "at", Expiry: time.Now().Add(time.Hour)},
		identity:  testAddress,
	}
	svc := newAccountService(store, oauth)

	_, err := svc.CompleteLink(context.Background(), testUser, "auth-code")
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Zero(t, store.upsertCalls, "nothing stored without a refresh token")
}

func TestCompleteLink_RelinkReplacesTokens(t *testing.T) {
	store := newFakeCredentialStore()
	oauth := &fakeOAuth{
		exchanged: &driven.Token{AccessToken: "at1", RefreshToken: "rt1", Expiry: time.Now().Add(time.Hour)},
		identity:  testAddress,
	}
	svc := newAccountService(store, oauth)

	_, err := svc.CompleteLink(context.Background(), testUser, "code-1")
	require.NoError(t, err)

	oauth.exchanged = &driven.Token{AccessToken: "at2", RefreshToken: "rt2", Expiry: time.Now().Add(2 * time.Hour)}
	_, err = svc.CompleteLink(context.Background(), testUser, "code-2")
	require.NoError(t, err)

	creds, err := store.ListByUser(context.Background(), testUser, "gmail")
	require.NoError(t, err)
	require.Len(t, creds, 1, "relinking must not create a second record")
	assert.Equal(t, "at2", creds[0].AccessToken)
	assert.Equal(t, "rt2", creds[0].RefreshToken)
}

func TestStatus(t *testing.T) {
	store := newFakeCredentialStore()
	svc := newAccountService(store, &fakeOAuth{})

	statuses, err := svc.Status(context.Background(), testUser)
	require.NoError(t, err)
	assert.Empty(t, statuses)

	require.NoError(t, store.Upsert(context.Background(), &model.Credential{
		UserID:      testUser,
		Provider:    "gmail",
		Address:     testAddress,
		AddressHash: model.HashAddress(testAddress),
		AccessToken: "secret-token",
		Expiry:      time.Now().Add(-time.Minute),
	}))

	statuses, err = svc.Status(context.Background(), testUser)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, testAddress, statuses[0].Address)
	assert.True(t, statuses[0].Expired)
}

func TestRevoke(t *testing.T) {
	store := newFakeCredentialStore()
	svc := newAccountService(store, &fakeOAuth{})
	require.NoError(t, store.Upsert(context.Background(), &model.Credential{
		UserID:      testUser,
		Provider:    "gmail",
		Address:     testAddress,
		AddressHash: model.HashAddress(testAddress),
		Expiry:      time.Now().Add(time.Hour),
	}))

	require.NoError(t, svc.Revoke(context.Background(), testUser, ""))

	creds, err := store.ListByUser(context.Background(), testUser, "gmail")
	require.NoError(t, err)
	assert.Empty(t, creds)

	err = svc.Revoke(context.Background(), testUser, "")
	assert.ErrorIs(t, err, ErrNotLinked)
}

func TestRevoke_AmbiguousWithoutAccount(t *testing.T) {
	store := newFakeCredentialStore()
	svc := newAccountService(store, &fakeOAuth{})
	for _, addr := range []string{"a@example.com", "b@example.com"} {
		require.NoError(t, store.Upsert(context.Background(), &model.Credential{
			UserID:      testUser,
			Provider:    "gmail",
			Address:     addr,
			AddressHash: model.HashAddress(addr),
			Expiry:      time.Now().Add(time.Hour),
		}))
	}

	err := svc.Revoke(context.Background(), testUser, "")
	var ambiguous *AmbiguousAccountError
	require.ErrorAs(t, err, &ambiguous)

	require.NoError(t, svc.Revoke(context.Background(), testUser, "a@example.com"))
	creds, err := store.ListByUser(context.Background(), testUser, "gmail")
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "b@example.com", creds[0].Address)
}

func TestStatus_StoreError(t *testing.T) {
	store := newFakeCredentialStore()
	store.listErr = errors.New("database is locked")
	svc := newAccountService(store, &fakeOAuth{})

	_, err := svc.Status(context.Background(), testUser)
	require.Error(t, err)
}
