package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/topanga/clawrelay/internal/relay"
)

// actionFallbackResult replaces an empty gateway reply for actions.
const actionFallbackResult = "Request completed"

type actionResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
	Status  int    `json:"status,omitempty"`
}

// handleRealtimeAction turns a voice-interface {action, ...params} command
// into a single completion and answers {success, result}.
func handleRealtimeAction(deps RelayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req relay.ActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, actionResponse{Error: "invalid request body: " + err.Error()})
			return
		}

		payload, err := relay.NewActionPayload(req)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, actionResponse{Error: err.Error()})
			return
		}

		reply, err := deps.Gateway.Complete(r.Context(), payload)
		if err != nil {
			actionError(w, err)
			return
		}
		if reply == relay.PlaceholderReply {
			reply = actionFallbackResult
		}

		writeJSON(w, http.StatusOK, actionResponse{Success: true, Result: reply})
	}
}

func actionError(w http.ResponseWriter, err error) {
	var rejected *relay.RejectedError
	var unreachable *relay.UnreachableError

	switch {
	case errors.Is(err, relay.ErrMissingToken):
		writeJSON(w, http.StatusInternalServerError, actionResponse{Error: err.Error()})
	case errors.As(err, &rejected):
		status := rejected.Status
		if !bodyAllowed(status) {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, actionResponse{Error: upstreamErrorMessage(rejected.Body), Status: rejected.Status})
	case errors.As(err, &unreachable):
		writeJSON(w, http.StatusBadGateway, actionResponse{Error: "failed to connect to gateway: " + unreachable.Err.Error()})
	default:
		writeJSON(w, http.StatusBadGateway, actionResponse{Error: err.Error()})
	}
}

// upstreamErrorMessage reads error.message or a string error from an
// OpenAI-style error body.
func upstreamErrorMessage(body string) string {
	var doc struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &doc); err == nil && len(doc.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(doc.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var s string
		if err := json.Unmarshal(doc.Error, &s); err == nil && s != "" {
			return s
		}
	}
	return "gateway request failed"
}
