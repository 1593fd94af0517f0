package application

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/receiptdrop/mailrelay/internal/domain/model"
	"github.com/receiptdrop/mailrelay/internal/domain/port/driven"
)

// Providers send a confirmation mail before honoring a forwarding address.
// The verify link (vf-) confirms, the unsubscribe link (uf-) cancels.
var (
	confirmURLPattern = regexp.MustCompile(`https://[\w.-]*google\.com/mail/vf-[^"\s<>]+`)
	cancelURLPattern  = regexp.MustCompile(`https://[\w.-]*google\.com/mail/uf-[^"\s<>]+`)
)

// LinkService handles the provider's forwarding-confirmation handshake:
// extracting confirm/cancel URLs from the confirmation mail the provider sends
// to the virtual inbox, persisting them, and completing the confirmation.
type LinkService struct {
	store     driven.ConfirmLinkStore
	confirmer driven.LinkConfirmer
	logger    *slog.Logger
}

func NewLinkService(store driven.ConfirmLinkStore, confirmer driven.LinkConfirmer, logger *slog.Logger) *LinkService {
	return &LinkService{store: store, confirmer: confirmer, logger: logger}
}

// Capture parses a raw confirmation message, extracts the confirmation links,
// and stores them for the user. address is the mailbox address the
// confirmation concerns. Returns ErrNoConfirmLink when the message carries no
// recognizable confirm URL.
func (s *LinkService) Capture(ctx context.Context, userID, address string, raw []byte) (*model.ConfirmLink, error) {
	body, err := extractText(raw)
	if err != nil {
		return nil, fmt.Errorf("parse confirmation message: %w", err)
	}

	confirmURL := confirmURLPattern.FindString(body)
	if confirmURL == "" {
		return nil, ErrNoConfirmLink
	}

	link := &model.ConfirmLink{
		ID:         uuid.NewString(),
		UserID:     userID,
		Address:    address,
		ConfirmURL: confirmURL,
		CancelURL:  cancelURLPattern.FindString(body),
	}
	if err := s.store.Insert(ctx, link); err != nil {
		return nil, fmt.Errorf("store confirmation link: %w", err)
	}

	s.logger.Info("confirmation link captured", "user_id", userID, "link_id", link.ID)
	return link, nil
}

// Confirm visits the stored confirmation URL and, on success, removes the
// record. A failed visit keeps the record so confirmation can be retried.
func (s *LinkService) Confirm(ctx context.Context, userID, linkID string) error {
	link, err := s.store.Get(ctx, userID, linkID)
	if err != nil {
		return fmt.Errorf("load confirmation link %s: %w", linkID, err)
	}
	if link == nil {
		return ErrNoConfirmLink
	}

	if err := s.confirmer.Confirm(ctx, link.ConfirmURL); err != nil {
		return fmt.Errorf("visit confirmation link %s: %w", linkID, err)
	}

	if _, err := s.store.Delete(ctx, userID, linkID); err != nil {
		// Confirmation already happened; a stale record is harmless.
		s.logger.Warn("confirmed link not cleaned up", "link_id", linkID, "error", err)
	}
	s.logger.Info("forwarding confirmed", "user_id", userID, "link_id", linkID)
	return nil
}

// Get returns the stored link, or ErrNoConfirmLink when the user owns no such
// record.
func (s *LinkService) Get(ctx context.Context, userID, linkID string) (*model.ConfirmLink, error) {
	link, err := s.store.Get(ctx, userID, linkID)
	if err != nil {
		return nil, fmt.Errorf("load confirmation link %s: %w", linkID, err)
	}
	if link == nil {
		return nil, ErrNoConfirmLink
	}
	return link, nil
}

// Discard drops a stored link without visiting either URL, for confirmations
// the user abandons.
func (s *LinkService) Discard(ctx context.Context, userID, linkID string) error {
	removed, err := s.store.Delete(ctx, userID, linkID)
	if err != nil {
		return fmt.Errorf("delete confirmation link %s: %w", linkID, err)
	}
	if !removed {
		return ErrNoConfirmLink
	}
	return nil
}

// extractText returns the concatenated text parts of the message, falling back
// to the raw bytes when the message does not parse as MIME. Confirmation links
// appear verbatim in both the plain and HTML parts.
func extractText(raw []byte) (string, error) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && reader == nil {
		// Not MIME at all; scan the raw bytes directly.
		return string(raw), nil
	}
	defer reader.Close()

	var sb strings.Builder
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if _, ok := part.Header.(*mail.InlineHeader); ok {
			if _, err := io.Copy(&sb, part.Body); err != nil {
				return "", err
			}
			sb.WriteByte('\n')
		}
	}
	if sb.Len() == 0 {
		return string(raw), nil
	}
	return sb.String(), nil
}
