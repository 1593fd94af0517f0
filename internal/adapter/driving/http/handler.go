// Package httphandler implements the HTTP driving adapter serving the REST API.
package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/receiptdrop/mailrelay/internal/application"
	"github.com/receiptdrop/mailrelay/internal/domain/model"
)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	forwardSvc *application.ForwardService
	searchSvc  *application.SearchService
	accountSvc *application.AccountService
	linkSvc    *application.LinkService
	logger     *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	forwardSvc *application.ForwardService,
	searchSvc *application.SearchService,
	accountSvc *application.AccountService,
	linkSvc *application.LinkService,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		forwardSvc: forwardSvc,
		searchSvc:  searchSvc,
		accountSvc: accountSvc,
		linkSvc:    linkSvc,
		logger:     logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/forward", h.Forward)
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/auth/url", h.AuthURL)
	mux.HandleFunc("GET /api/v1/auth/callback", h.AuthCallback)
	mux.HandleFunc("GET /api/v1/accounts", h.ListAccounts)
	mux.HandleFunc("DELETE /api/v1/accounts", h.RevokeAccount)
	mux.HandleFunc("GET /api/v1/forward/count", h.ForwardCount)
	mux.HandleFunc("DELETE /api/v1/forward/history", h.ClearHistory)
	mux.HandleFunc("POST /api/v1/confirm-links", h.CaptureLink)
	mux.HandleFunc("GET /api/v1/confirm-links/{id}", h.GetLink)
	mux.HandleFunc("POST /api/v1/confirm-links/{id}/confirm", h.ConfirmLink)
	mux.HandleFunc("DELETE /api/v1/confirm-links/{id}", h.DiscardLink)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Forward runs a forward batch for the messages named in the request body.
func (h *Handler) Forward(w http.ResponseWriter, r *http.Request) {
	var body ForwardRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	result, err := h.forwardSvc.Forward(r.Context(), application.ForwardRequest{
		UserID:      body.UserID,
		Account:     body.Account,
		MessageIDs:  body.MessageIDs,
		Concurrency: body.ConcurrencyLimit,
	})
	if err != nil {
		h.writeServiceError(w, err, "forward batch failed")
		return
	}

	writeJSON(w, http.StatusOK, toForwardResponse(result))
}

// Search lists candidate messages in the user's linked mailbox.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	query := model.SearchQuery{
		Keywords:      q.Get("keywords"),
		From:          q.Get("from"),
		HasAttachment: q.Get("has_attachment") == "true",
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		query.Limit = limit
	}
	if v := q.Get("days_back"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 1 {
			writeError(w, http.StatusBadRequest, "invalid_days_back", "days_back must be a positive integer")
			return
		}
		query.After = time.Now().AddDate(0, 0, -days)
	}
	for param, dst := range map[string]*time.Time{"after": &query.After, "before": &query.Before} {
		if v := q.Get(param); v != "" {
			parsed, err := time.Parse("2006-01-02", v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_"+param, param+" must be YYYY-MM-DD")
				return
			}
			*dst = parsed
		}
	}

	summaries, err := h.searchSvc.Search(r.Context(), userID, q.Get("account"), query)
	if err != nil {
		h.writeServiceError(w, err, "mailbox search failed")
		return
	}
	if summaries == nil {
		summaries = []model.MessageSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

// AuthURL returns the OAuth consent URL for linking a mailbox account.
func (h *Handler) AuthURL(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		writeError(w, http.StatusBadRequest, "missing_state", "state is required")
		return
	}
	writeJSON(w, http.StatusOK, AuthURLResponse{URL: h.accountSvc.AuthURL(state)})
}

// AuthCallback completes the OAuth consent flow and stores the credential.
func (h *Handler) AuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, code := q.Get("user_id"), q.Get("code")
	if userID == "" || code == "" {
		writeError(w, http.StatusBadRequest, "missing_params", "user_id and code are required")
		return
	}

	address, err := h.accountSvc.CompleteLink(r.Context(), userID, code)
	if err != nil {
		if errors.Is(err, application.ErrNoRefreshToken) {
			writeError(w, http.StatusBadRequest, "no_refresh_token", err.Error())
			return
		}
		h.logger.Error("account link failed", "user_id", userID, "error", err)
		writeError(w, http.StatusBadGateway, "link_failed", "could not complete account link")
		return
	}

	writeJSON(w, http.StatusOK, LinkedResponse{Address: address})
}

// ListAccounts returns link status for all of the user's accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	statuses, err := h.accountSvc.Status(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "account status failed")
		return
	}
	if statuses == nil {
		statuses = []application.AccountStatus{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

// RevokeAccount unlinks a mailbox account.
func (h *Handler) RevokeAccount(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	if err := h.accountSvc.Revoke(r.Context(), userID, q.Get("account")); err != nil {
		h.writeServiceError(w, err, "account revoke failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ForwardCount reports how many messages have been forwarded for the user.
func (h *Handler) ForwardCount(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	n, err := h.forwardSvc.Count(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "forward count failed")
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// ClearHistory purges the user's dedup history. Requires confirm=true since
// previously forwarded messages become forwardable again.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}
	if q.Get("confirm") != "true" {
		writeError(w, http.StatusBadRequest, "confirm_required", "pass confirm=true to clear forward history")
		return
	}

	removed, err := h.forwardSvc.ClearHistory(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "clear history failed")
		return
	}
	writeJSON(w, http.StatusOK, ClearedResponse{Removed: removed})
}

// CaptureLink ingests a forwarding-confirmation mail and stores its links.
func (h *Handler) CaptureLink(w http.ResponseWriter, r *http.Request) {
	var body CaptureLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	if body.UserID == "" || body.Raw == "" {
		writeError(w, http.StatusBadRequest, "missing_params", "user_id and raw_message are required")
		return
	}

	link, err := h.linkSvc.Capture(r.Context(), body.UserID, body.Address, []byte(body.Raw))
	if err != nil {
		h.writeServiceError(w, err, "confirmation link capture failed")
		return
	}
	writeJSON(w, http.StatusCreated, toConfirmLinkResponse(link))
}

// GetLink returns a captured confirmation link by id.
func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	link, err := h.linkSvc.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err, "confirmation link lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, toConfirmLinkResponse(link))
}

// ConfirmLink completes the forwarding confirmation for a captured link.
func (h *Handler) ConfirmLink(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	if err := h.linkSvc.Confirm(r.Context(), userID, r.PathValue("id")); err != nil {
		h.writeServiceError(w, err, "forwarding confirmation failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DiscardLink drops a captured confirmation link without visiting it.
func (h *Handler) DiscardLink(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	if err := h.linkSvc.Discard(r.Context(), userID, r.PathValue("id")); err != nil {
		h.writeServiceError(w, err, "confirmation link discard failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// writeServiceError maps application errors to HTTP responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, logMsg string) {
	var ambiguous *application.AmbiguousAccountError
	switch {
	case errors.Is(err, application.ErrNotLinked):
		writeError(w, http.StatusNotFound, "not_linked", err.Error())
	case errors.As(err, &ambiguous):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:      ambiguous.Error(),
			Code:       "ambiguous_account",
			Candidates: ambiguous.Addresses,
		})
	case errors.Is(err, application.ErrCredentialExpired):
		writeError(w, http.StatusConflict, "credential_expired", err.Error())
	case errors.Is(err, application.ErrInvalidConcurrency):
		writeError(w, http.StatusBadRequest, "invalid_concurrency", err.Error())
	case errors.Is(err, application.ErrNoConfirmLink):
		writeError(w, http.StatusNotFound, "no_confirm_link", err.Error())
	default:
		h.logger.Error(logMsg, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func toConfirmLinkResponse(link *model.ConfirmLink) ConfirmLinkResponse {
	return ConfirmLinkResponse{
		ID:        link.ID,
		Address:   link.Address,
		HasCancel: link.CancelURL != "",
	}
}
