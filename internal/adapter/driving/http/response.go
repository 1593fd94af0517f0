package httphandler

import (
	"encoding/json"
	"net/http"

	"github.com/receiptdrop/mailrelay/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code, machine
// readable code, and message.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// errorResponse is the standard error response body. Candidates is populated
// only for ambiguous-account errors.
type errorResponse struct {
	Error      string   `json:"error"`
	Code       string   `json:"code,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

// ForwardRequestBody is the JSON body for the forward endpoint.
type ForwardRequestBody struct {
	UserID           string   `json:"user_id"`
	Account          string   `json:"account,omitempty"`
	MessageIDs       []string `json:"message_ids"`
	ConcurrencyLimit int      `json:"concurrency_limit,omitempty"`
}

// ForwardSummaryResponse aggregates one forward batch.
type ForwardSummaryResponse struct {
	Total     int `json:"total"`
	Forwarded int `json:"forwarded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// ForwardDetailResponse is the per-message outcome.
type ForwardDetailResponse struct {
	MessageID  string `json:"message_id"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Retries    int    `json:"retries,omitempty"`
}

// ForwardResponse is the JSON representation of a completed forward batch.
type ForwardResponse struct {
	Summary       ForwardSummaryResponse  `json:"summary"`
	Details       []ForwardDetailResponse `json:"details"`
	DurationMS    int64                   `json:"duration_ms"`
	LedgerWarning string                  `json:"ledger_warning,omitempty"`
}

// toForwardResponse converts a batch result to its JSON representation.
func toForwardResponse(result *model.ForwardResult) ForwardResponse {
	details := make([]ForwardDetailResponse, 0, len(result.Details))
	for _, d := range result.Details {
		details = append(details, ForwardDetailResponse{
			MessageID:  d.MessageID,
			Status:     string(d.Status),
			Reason:     d.Reason,
			SizeBytes:  d.Size,
			DurationMS: d.Duration.Milliseconds(),
			Retries:    d.Retries,
		})
	}
	return ForwardResponse{
		Summary: ForwardSummaryResponse{
			Total:     result.Summary.Total,
			Forwarded: result.Summary.Forwarded,
			Skipped:   result.Summary.Skipped,
			Failed:    result.Summary.Failed,
		},
		Details:       details,
		DurationMS:    result.Duration.Milliseconds(),
		LedgerWarning: result.LedgerWarning,
	}
}

// AuthURLResponse carries the OAuth consent URL.
type AuthURLResponse struct {
	URL string `json:"url"`
}

// LinkedResponse reports a completed account link.
type LinkedResponse struct {
	Address string `json:"address"`
}

// CountResponse reports the forwarded-message count for a user.
type CountResponse struct {
	Count int `json:"count"`
}

// ClearedResponse reports how many ledger records a history purge removed.
type ClearedResponse struct {
	Removed int64 `json:"removed"`
}

// CaptureLinkRequest is the JSON body for the confirm-link ingest endpoint.
// RawMessage is the base64-less plain text of the confirmation mail.
type CaptureLinkRequest struct {
	UserID  string `json:"user_id"`
	Address string `json:"address"`
	Raw     string `json:"raw_message"`
}

// ConfirmLinkResponse is the JSON representation of a captured confirmation
// link. The URLs themselves are not echoed back.
type ConfirmLinkResponse struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	HasCancel bool   `json:"has_cancel"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}
