package application

import (
	"context"
	"log/slog"

	"github.com/receiptdrop/mailrelay/internal/domain/model"
	"github.com/receiptdrop/mailrelay/internal/domain/port/driven"
)

// defaultKeywords is the search applied when the caller gives none. Receipts
// and invoices are what users overwhelmingly forward.
const defaultKeywords = "invoice OR receipt"

const defaultSearchLimit = 50

// SearchService lists candidate messages in a user's linked mailbox so the
// client can pick which ones to forward.
type SearchService struct {
	credentials *CredentialManager
	provider    driven.MailboxProvider
	logger      *slog.Logger
}

func NewSearchService(credentials *CredentialManager, provider driven.MailboxProvider, logger *slog.Logger) *SearchService {
	return &SearchService{credentials: credentials, provider: provider, logger: logger}
}

// Search runs the query against the user's mailbox. Empty keywords select the
// default receipt/invoice search; a zero limit selects defaultSearchLimit.
// Credential errors surface as the same pre-flight errors Forward uses.
func (s *SearchService) Search(ctx context.Context, userID, account string, q model.SearchQuery) ([]model.MessageSummary, error) {
	session, err := s.credentials.Acquire(ctx, userID, account)
	if err != nil {
		return nil, err
	}

	if q.Keywords == "" {
		q.Keywords = defaultKeywords
	}
	if q.Limit <= 0 {
		q.Limit = defaultSearchLimit
	}

	summaries, err := s.provider.Search(ctx, session, q)
	if err != nil {
		return nil, err
	}
	s.logger.Info("mailbox search", "user_id", userID, "matches", len(summaries))
	return summaries, nil
}
