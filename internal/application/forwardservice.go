package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/receiptdrop/mailrelay/internal/domain/model"
	"github.com/receiptdrop/mailrelay/internal/domain/port/driven"
)

// Concurrency bounds for a forward batch. A request outside the range is
// rejected before any work starts; zero selects the default.
const (
	MinConcurrency     = 1
	MaxConcurrency     = 8
	DefaultConcurrency = 4
)

// ForwardRequest names the messages one user wants moved into their virtual
// inbox. Account may be empty when the user has exactly one linked account.
// Concurrency of zero selects DefaultConcurrency.
type ForwardRequest struct {
	UserID      string
	Account     string
	MessageIDs  []string
	Concurrency int
}

// ForwardService runs forward batches: it validates the request, acquires a
// fresh provider session, filters already-forwarded ids, fans the remainder
// out over a bounded worker pool, and records successful deliveries in the
// dedup ledger. Marking happens strictly after delivery, so a crash can only
// produce a duplicate forward, never a silently dropped message.
type ForwardService struct {
	credentials *CredentialManager
	provider    driven.MailboxProvider
	relay       driven.RelayTransport
	ledger      driven.DedupLedger
	inboxDomain string
	logger      *slog.Logger

	fetchTimeout time.Duration
	maxAttempts  int
	retryDelay   time.Duration

	// sleep is replaceable in tests so retry backoff does not slow them down.
	sleep func(ctx context.Context, d time.Duration)
}

// NewForwardService wires the forwarding engine. inboxDomain is the domain of
// the per-user virtual inbox (deliveries go to <userID>@<inboxDomain>).
func NewForwardService(
	credentials *CredentialManager,
	provider driven.MailboxProvider,
	relay driven.RelayTransport,
	ledger driven.DedupLedger,
	inboxDomain string,
	fetchTimeout time.Duration,
	maxAttempts int,
	retryDelay time.Duration,
	logger *slog.Logger,
) *ForwardService {
	return &ForwardService{
		credentials:  credentials,
		provider:     provider,
		relay:        relay,
		ledger:       ledger,
		inboxDomain:  inboxDomain,
		logger:       logger,
		fetchTimeout: fetchTimeout,
		maxAttempts:  maxAttempts,
		retryDelay:   retryDelay,
		sleep:        sleepContext,
	}
}

// Forward processes one batch and returns one outcome per requested message
// id. Pre-flight failures (ErrNotLinked, *AmbiguousAccountError,
// ErrCredentialExpired, ErrInvalidConcurrency, ledger lookup errors) abort the
// whole batch with an error and leave the ledger untouched.
//
// Once jobs are dispatched the batch runs to completion even if the caller
// abandons the call: delivered messages must always be recorded, otherwise a
// resubmission would silently duplicate them.
func (s *ForwardService) Forward(ctx context.Context, req ForwardRequest) (*model.ForwardResult, error) {
	limit := req.Concurrency
	if limit == 0 {
		limit = DefaultConcurrency
	}
	if limit < MinConcurrency || limit > MaxConcurrency {
		return nil, ErrInvalidConcurrency
	}

	start := time.Now()
	result := &model.ForwardResult{}
	if len(req.MessageIDs) == 0 {
		result.Summarize()
		result.Duration = time.Since(start)
		return result, nil
	}

	session, err := s.credentials.Acquire(ctx, req.UserID, req.Account)
	if err != nil {
		return nil, err
	}

	// Collapse duplicate ids within the request: the first occurrence is
	// processed, the rest are reported skipped without touching the provider.
	unique := make([]string, 0, len(req.MessageIDs))
	seen := make(map[string]bool, len(req.MessageIDs))
	for _, id := range req.MessageIDs {
		if seen[id] {
			result.Details = append(result.Details, model.ForwardOutcome{
				MessageID: id,
				Status:    model.StatusSkipped,
				Reason:    "duplicate_in_request",
			})
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}

	forwarded, err := s.ledger.AlreadyForwarded(ctx, req.UserID, unique)
	if err != nil {
		return nil, fmt.Errorf("check forwarded ledger for user %s: %w", req.UserID, err)
	}

	pending := make([]string, 0, len(unique))
	for _, id := range unique {
		if forwarded[id] {
			result.Details = append(result.Details, model.ForwardOutcome{
				MessageID: id,
				Status:    model.StatusSkipped,
				Reason:    "already_forwarded",
			})
			continue
		}
		pending = append(pending, id)
	}

	s.logger.Info("forward batch starting",
		"user_id", req.UserID,
		"requested", len(req.MessageIDs),
		"pending", len(pending),
		"concurrency", limit)

	outcomes := s.runBatch(ctx, session, req.UserID, pending, limit)

	var delivered []string
	for _, o := range outcomes {
		result.Details = append(result.Details, o)
		if o.Status == model.StatusForwarded {
			delivered = append(delivered, o.MessageID)
		}
	}

	// Mark after delivery, in one batch, detached from caller cancellation:
	// a delivered message must be recorded even if the client is gone.
	if len(delivered) > 0 {
		markCtx := context.WithoutCancel(ctx)
		if err := s.ledger.MarkForwarded(markCtx, req.UserID, delivered); err != nil {
			s.logger.Error("recording forwarded ids failed",
				"user_id", req.UserID, "count", len(delivered), "error", err)
			result.LedgerWarning = fmt.Sprintf("delivered %d message(s) but failed to record them; they may be re-attempted and skipped later", len(delivered))
		}
	}

	result.Summarize()
	result.Duration = time.Since(start)
	s.logger.Info("forward batch finished",
		"user_id", req.UserID,
		"forwarded", result.Summary.Forwarded,
		"skipped", result.Summary.Skipped,
		"failed", result.Summary.Failed,
		"duration", result.Duration)
	return result, nil
}

// runBatch fans the pending ids out over a pool of at most limit workers and
// returns their outcomes in completion order. An auth failure fails only its
// own job; the session was already validated at acquisition, so a transport
// rejection is not treated as fatal to sibling jobs.
func (s *ForwardService) runBatch(ctx context.Context, session *model.Session, userID string, pending []string, limit int) []model.ForwardOutcome {
	to := fmt.Sprintf("%s@%s", userID, s.inboxDomain)

	// Detached from caller cancellation: in-flight deliveries finish and get
	// marked even when the client abandons the call.
	jobCtx := context.WithoutCancel(ctx)

	var (
		mu       sync.Mutex
		outcomes = make([]model.ForwardOutcome, 0, len(pending))
	)

	g := new(errgroup.Group)
	g.SetLimit(limit)
	for _, id := range pending {
		g.Go(func() error {
			outcome := s.forwardOne(jobCtx, session, to, id)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return outcomes
}

// forwardOne fetches one message and delivers it, retrying transient delivery
// failures with a linearly growing delay. Fetching is never retried; a fetch
// failure is the provider telling us something definite about the message.
func (s *ForwardService) forwardOne(ctx context.Context, session *model.Session, to, id string) model.ForwardOutcome {
	start := time.Now()

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	raw, err := s.provider.FetchRaw(fetchCtx, session, id)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, driven.ErrMessageNotFound):
			return model.ForwardOutcome{MessageID: id, Status: model.StatusFailed, Reason: "not_found"}
		case errors.Is(err, driven.ErrEmptyMessage):
			return model.ForwardOutcome{MessageID: id, Status: model.StatusFailed, Reason: "no_content"}
		default:
			return model.ForwardOutcome{MessageID: id, Status: model.StatusFailed, Reason: "provider_error: " + err.Error()}
		}
	}

	// Retries reports delivery attempts actually made beyond the first, so an
	// early exit (auth failure, canceled context) does not overstate the count.
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		attempts = attempt
		err := s.relay.Deliver(ctx, session.Address, to, raw, id)
		if err == nil {
			return model.ForwardOutcome{
				MessageID: id,
				Status:    model.StatusForwarded,
				Size:      int64(len(raw)),
				Duration:  time.Since(start),
				Retries:   attempt - 1,
			}
		}
		lastErr = err

		var authErr *driven.AuthError
		if errors.As(err, &authErr) {
			return model.ForwardOutcome{
				MessageID: id,
				Status:    model.StatusFailed,
				Reason:    "auth_failure: " + err.Error(),
				Retries:   attempt - 1,
			}
		}

		if attempt < s.maxAttempts {
			s.logger.Warn("delivery failed, retrying",
				"message_id", id, "attempt", attempt, "error", err)
			s.sleep(ctx, s.retryDelay*time.Duration(attempt))
			if ctx.Err() != nil {
				break
			}
		}
	}
	return model.ForwardOutcome{
		MessageID: id,
		Status:    model.StatusFailed,
		Reason:    "transient_failure: " + lastErr.Error(),
		Retries:   attempts - 1,
	}
}

// Count returns how many messages have ever been forwarded for the user.
func (s *ForwardService) Count(ctx context.Context, userID string) (int, error) {
	n, err := s.ledger.CountForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count forwarded messages for user %s: %w", userID, err)
	}
	return n, nil
}

// ClearHistory removes the user's entire dedup history and returns how many
// records were removed. Previously forwarded messages become forwardable
// again; this is deliberate and is why callers must confirm explicitly.
func (s *ForwardService) ClearHistory(ctx context.Context, userID string) (int64, error) {
	n, err := s.ledger.PurgeUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("clear forward history for user %s: %w", userID, err)
	}
	s.logger.Info("forward history cleared", "user_id", userID, "removed", n)
	return n, nil
}

// sleepContext sleeps for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
