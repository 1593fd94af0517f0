// Package imap implements the MailboxProvider port over IMAP with OAuth
// bearer authentication (go-imap v2).
package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/receiptdrop/mailrelay/internal/domain/model"
	"github.com/receiptdrop/mailrelay/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.MailboxProvider = (*Provider)(nil)

// Provider talks IMAP to the user's mailbox. Each operation dials, selects
// INBOX, does its work, and logs out: connections are never shared, which
// keeps concurrent forward jobs trivially safe at the cost of a dial per
// fetch. Message ids are IMAP UIDs rendered as decimal strings.
type Provider struct {
	host        string
	port        string
	dialTimeout time.Duration
}

// NewProvider creates a Provider for the given IMAP endpoint. dialTimeout
// bounds establishing and authenticating each connection.
func NewProvider(host, port string, dialTimeout time.Duration) *Provider {
	return &Provider{host: host, port: port, dialTimeout: dialTimeout}
}

// connect dials the server over TLS and authenticates with the session's
// access token via SASL OAUTHBEARER. Dial, handshake and authentication are
// bounded by ctx and the configured dial timeout. The caller must Logout the
// returned client.
func (p *Provider) connect(ctx context.Context, session *model.Session) (*imapclient.Client, error) {
	addr := net.JoinHostPort(p.host, p.port)

	dialCtx := ctx
	if p.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, p.dialTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	tlsConn := tls.Client(conn, &tls.Config{ServerName: p.host})
	if err := tlsConn.HandshakeContext(dialCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("TLS handshake with %s: %w", addr, err)
	}

	client := imapclient.New(tlsConn, nil)
	stop := closeOnDone(dialCtx, client)
	defer stop()

	saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: session.Address,
		Token:    session.AccessToken,
		Host:     p.host,
	})
	if err := client.Authenticate(saslClient); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("authenticating %s: %w", session.Address, err)
	}

	return client, nil
}

// closeOnDone force-closes the client when ctx ends before the operation
// does, unblocking any in-flight protocol read. The returned stop function
// releases the watcher.
func closeOnDone(ctx context.Context, client *imapclient.Client) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// Search selects INBOX and returns summaries of messages matching the query,
// most recent last. The attachment filter is applied from the body structure
// after the UID search, since IMAP SEARCH has no attachment criterion.
func (p *Provider) Search(ctx context.Context, session *model.Session, q model.SearchQuery) ([]model.MessageSummary, error) {
	client, err := p.connect(ctx, session)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()
	stop := closeOnDone(ctx, client)
	defer stop()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting INBOX: %w", err)
	}

	searchData, err := client.UIDSearch(buildSearchCriteria(q), nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if q.Limit > 0 && len(uids) > q.Limit {
		uids = uids[len(uids)-q.Limit:]
	}

	fetchOpts := &imap.FetchOptions{
		Envelope:      true,
		UID:           true,
		BodyStructure: &imap.FetchItemBodyStructure{},
	}
	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	var summaries []model.MessageSummary
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		summary := summaryFromBuffer(buf)
		if q.HasAttachment && !summary.HasAttachment {
			continue
		}
		summaries = append(summaries, summary)
	}

	if err := fetchCmd.Close(); err != nil {
		return summaries, fmt.Errorf("fetching summaries: %w", err)
	}
	return summaries, nil
}

// FetchRaw selects INBOX and returns the message's full RFC 822 bytes,
// fetched with BODY.PEEK[] so the read does not flag the message as seen.
func (p *Provider) FetchRaw(ctx context.Context, session *model.Session, messageID string) ([]byte, error) {
	uid, err := parseUID(messageID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", driven.ErrMessageNotFound, err)
	}

	client, err := p.connect(ctx, session)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()
	stop := closeOnDone(ctx, client)
	defer stop()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting INBOX: %w", err)
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uid), fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("%w: uid %d", driven.ErrMessageNotFound, uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message %d: %w", uid, err)
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching message %d: %w", uid, err)
	}

	raw := buf.FindBodySection(bodySection)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: uid %d", driven.ErrEmptyMessage, uid)
	}
	return raw, nil
}

// buildSearchCriteria translates a SearchQuery into IMAP SEARCH criteria.
// Keyword matching semantics are the server's (TEXT search).
func buildSearchCriteria(q model.SearchQuery) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{}

	if q.Keywords != "" {
		criteria.Text = []string{q.Keywords}
	}
	if !q.After.IsZero() {
		criteria.Since = q.After
	}
	if !q.Before.IsZero() {
		criteria.Before = q.Before
	}
	if q.From != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{
			Key:   "From",
			Value: q.From,
		})
	}

	return criteria
}

// summaryFromBuffer extracts a MessageSummary from a fetched message.
func summaryFromBuffer(buf *imapclient.FetchMessageBuffer) model.MessageSummary {
	summary := model.MessageSummary{
		ID: strconv.FormatUint(uint64(buf.UID), 10),
	}

	if buf.Envelope != nil {
		summary.Subject = buf.Envelope.Subject
		summary.Date = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				summary.From = from.Name
			} else {
				summary.From = from.Addr()
			}
		}
	}

	if buf.BodyStructure != nil {
		summary.HasAttachment = hasAttachment(buf.BodyStructure)
	}

	return summary
}

// hasAttachment reports whether any part of the body structure is declared as
// an attachment.
func hasAttachment(bs imap.BodyStructure) bool {
	found := false
	bs.Walk(func(path []int, part imap.BodyStructure) bool {
		if disp := part.Disposition(); disp != nil && strings.EqualFold(disp.Value, "attachment") {
			found = true
			return false
		}
		return true
	})
	return found
}

// parseUID parses the decimal message id used at the API boundary.
func parseUID(messageID string) (imap.UID, error) {
	n, err := strconv.ParseUint(messageID, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q", messageID)
	}
	return imap.UID(n), nil
}
