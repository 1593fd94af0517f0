package imap

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/receiptdrop/mailrelay/internal/domain/model"
)

// stallingEndpoint accepts TCP connections and never speaks, so the TLS
// handshake hangs until the dialer gives up.
func stallingEndpoint(t *testing.T) (host, port string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	t.Cleanup(func() {
		close(done)
		_ = ln.Close()
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				<-done
				_ = conn.Close()
			}()
		}
	}()

	host, port, err = net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return host, port
}

func TestFetchRaw_DialTimeoutBoundsConnect(t *testing.T) {
	host, port := stallingEndpoint(t)
	p := NewProvider(host, port, 50*time.Millisecond)
	session := &model.Session{Address: "alice@example.com", AccessToken: "tok"}

	start := time.Now()
	_, err := p.FetchRaw(context.Background(), session, "1")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "configured timeout must bound the connect")
}

func TestFetchRaw_ContextDeadlineBoundsConnect(t *testing.T) {
	host, port := stallingEndpoint(t)
	p := NewProvider(host, port, time.Minute)
	session := &model.Session{Address: "alice@example.com", AccessToken: "tok"}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.FetchRaw(ctx, session, "1")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "caller deadline must bound the connect")
}

func TestParseUID(t *testing.T) {
	uid, err := parseUID("4217")
	require.NoError(t, err)
	assert.Equal(t, imap.UID(4217), uid)

	_, err = parseUID("not-a-uid")
	assert.Error(t, err)

	_, err = parseUID("-1")
	assert.Error(t, err)
}

func TestBuildSearchCriteria(t *testing.T) {
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	criteria := buildSearchCriteria(model.SearchQuery{
		Keywords: "invoice receipt",
		After:    after,
		Before:   before,
		From:     "billing@shop.example",
	})

	assert.Equal(t, []string{"invoice receipt"}, criteria.Text)
	assert.Equal(t, after, criteria.Since)
	assert.Equal(t, before, criteria.Before)
	require.Len(t, criteria.Header, 1)
	assert.Equal(t, "From", criteria.Header[0].Key)
	assert.Equal(t, "billing@shop.example", criteria.Header[0].Value)
}

func TestBuildSearchCriteria_Empty(t *testing.T) {
	criteria := buildSearchCriteria(model.SearchQuery{})

	assert.Empty(t, criteria.Text)
	assert.True(t, criteria.Since.IsZero())
	assert.True(t, criteria.Before.IsZero())
	assert.Empty(t, criteria.Header)
}
