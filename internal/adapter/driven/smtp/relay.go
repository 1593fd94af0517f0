// Package smtp implements the RelayTransport port over SMTP with STARTTLS
// (go-smtp), assembling the outbound envelope with go-message.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/receiptdrop/mailrelay/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RelayTransport = (*Relay)(nil)

// forwardedByHeader marks relayed messages so the virtual inbox can recognize
// and thread them.
const forwardedByHeader = "mailrelay"

// Relay delivers assembled envelopes over SMTP. One connection per delivery;
// nothing is shared across concurrent jobs. Failures are classified into
// driven.AuthError (bad relay credentials, never retried) and
// driven.TransientError (everything else, including timeouts).
type Relay struct {
	host     string
	port     string
	username string
	password string
	timeout  time.Duration
}

// NewRelay creates a Relay for the given SMTP submission endpoint. timeout
// bounds the dial and each protocol exchange within one delivery.
func NewRelay(host, port, username, password string, timeout time.Duration) *Relay {
	return &Relay{
		host:     host,
		port:     port,
		username: username,
		password: password,
		timeout:  timeout,
	}
}

// Deliver assembles the envelope and sends it. The raw message rides as an
// opaque message/rfc822 attachment tagged with the originating message id;
// the payload bytes are never reinterpreted.
func (r *Relay) Deliver(ctx context.Context, from, to string, raw []byte, messageID string) error {
	envelope, err := buildEnvelope(from, to, raw, messageID)
	if err != nil {
		// Assembly is local; a failure here is not the network's fault but is
		// still not a credential problem, so report it transient rather than
		// leave the outcome ambiguous.
		return &driven.TransientError{Err: fmt.Errorf("assemble envelope: %w", err)}
	}

	if err := ctx.Err(); err != nil {
		return &driven.TransientError{Err: err}
	}

	addr := net.JoinHostPort(r.host, r.port)
	conn, err := net.DialTimeout("tcp", addr, r.timeout)
	if err != nil {
		return &driven.TransientError{Err: fmt.Errorf("dial %s: %w", addr, err)}
	}

	client, err := gosmtp.NewClientStartTLS(conn, &tls.Config{ServerName: r.host})
	if err != nil {
		conn.Close()
		return classify(fmt.Errorf("starttls with %s: %w", addr, err))
	}
	defer client.Close()
	client.CommandTimeout = r.timeout
	client.SubmissionTimeout = r.timeout

	if err := client.Auth(sasl.NewPlainClient("", r.username, r.password)); err != nil {
		return &driven.AuthError{Err: fmt.Errorf("authenticate %s: %w", r.username, err)}
	}

	if err := client.SendMail(from, []string{to}, bytes.NewReader(envelope)); err != nil {
		return classify(fmt.Errorf("send message %s: %w", messageID, err))
	}

	if err := client.Quit(); err != nil {
		return classify(fmt.Errorf("quit after message %s: %w", messageID, err))
	}
	return nil
}

// buildEnvelope wraps the raw message bytes in a new message addressed to the
// virtual inbox, carrying them untouched as a message/rfc822 attachment.
func buildEnvelope(from, to string, raw []byte, messageID string) ([]byte, error) {
	short := shortID(messageID)

	var header mail.Header
	header.SetDate(time.Now())
	header.SetAddressList("From", []*mail.Address{{Address: from}})
	header.SetAddressList("To", []*mail.Address{{Address: to}})
	header.SetSubject(fmt.Sprintf("Forwarded message (ID: %s...)", short))
	header.Set("X-Relay-Message-ID", messageID)
	header.Set("X-Forwarded-By", forwardedByHeader)

	var buf bytes.Buffer
	writer, err := mail.CreateWriter(&buf, header)
	if err != nil {
		return nil, fmt.Errorf("create envelope writer: %w", err)
	}

	var attachHeader mail.AttachmentHeader
	attachHeader.Set("Content-Type", "message/rfc822")
	attachHeader.SetFilename(fmt.Sprintf("forwarded_%s.eml", short))

	attach, err := writer.CreateAttachment(attachHeader)
	if err != nil {
		return nil, fmt.Errorf("create attachment part: %w", err)
	}
	if _, err := attach.Write(raw); err != nil {
		return nil, fmt.Errorf("write attachment: %w", err)
	}
	if err := attach.Close(); err != nil {
		return nil, fmt.Errorf("close attachment: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close envelope: %w", err)
	}

	return buf.Bytes(), nil
}

// classify maps an SMTP failure to the transport error taxonomy. Permanent
// authentication rejections are fatal; everything else, timeouts included, is
// worth a retry.
func classify(err error) error {
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		switch smtpErr.Code {
		case 530, 534, 535, 538:
			return &driven.AuthError{Err: err}
		}
	}
	return &driven.TransientError{Err: err}
}

// shortID truncates a message id for subjects and filenames.
func shortID(messageID string) string {
	if len(messageID) > 8 {
		return messageID[:8]
	}
	return messageID
}
