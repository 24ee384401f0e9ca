package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/topanga/clawrelay/internal/observability"
	"github.com/topanga/clawrelay/internal/relay"
	"github.com/topanga/clawrelay/internal/storage"
	"github.com/topanga/clawrelay/internal/transcript"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB

	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// Gateway is the upstream surface the HTTP layer relays to.
type Gateway interface {
	Complete(ctx context.Context, p relay.Payload) (string, error)
	Stream(ctx context.Context, p relay.Payload) (iter.Seq[relay.Frame], error)
	History(ctx context.Context, sessionID string, limit int) ([]relay.SessionMessage, error)
	Ping(ctx context.Context) (int, error)
}

// RelayDeps holds the collaborators of the relay HTTP surface.
type RelayDeps struct {
	Gateway    Gateway
	Store      *storage.Store
	Syncer     *transcript.Syncer
	SessionKey string // default session for history and sync
}

// NewRelayHandler returns the relay's HTTP surface.
func NewRelayHandler(deps RelayDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(observability.Middleware)

	r.Get("/health", handleHealth(deps))
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/chat", handleChat(deps))
	r.Post("/chat/stream", handleChatStream(deps))
	r.Get("/chat/history", handleGatewayHistory(deps))
	r.Post("/chat/save", handleSaveMessage(deps))
	r.Get("/chat/saved", handleListSaved(deps))
	r.Post("/chat/sync", handleSync(deps))

	r.Post("/realtime/gateway", handleRealtimeAction(deps))

	return r
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type healthResponse struct {
	Connected bool   `json:"connected"`
	Status    int    `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

type historyMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	SessionID string `json:"session_id"`
}

type historyResponse struct {
	SessionID string           `json:"session_id"`
	Count     int              `json:"count"`
	Messages  []historyMessage `json:"messages"`
}

type saveRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
}

type saveResponse struct {
	Status  string         `json:"status"`
	ID      string         `json:"id"`
	Message historyMessage `json:"message"`
}

type syncResponse struct {
	Status string `json:"status"`
	transcript.Result
}

func handleChat(deps RelayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeChatRequest(w, r)
		if !ok {
			return
		}

		reply, err := deps.Gateway.Complete(r.Context(), relay.NewPayload(req, false))
		if err != nil {
			gatewayError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
	}
}

func handleChatStream(deps RelayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeChatRequest(w, r)
		if !ok {
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		frames, err := deps.Gateway.Stream(r.Context(), relay.NewPayload(req, true))
		if err != nil {
			gatewayError(w, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		observability.StreamingConnections.Inc()
		defer observability.StreamingConnections.Dec()

		for f := range frames {
			if _, err := w.Write(f.Bytes()); err != nil {
				// Caller went away; leaving the loop closes the upstream body.
				slog.Debug("stream client disconnected", "error", err)
				return
			}
			flusher.Flush()
			observability.StreamFramesTotal.WithLabelValues(f.Kind.String()).Inc()
		}
	}
}

func handleHealth(deps RelayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := deps.Gateway.Ping(r.Context())

		resp := healthResponse{Connected: err == nil, Status: status}
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded):
			resp.Error = "timeout"
		case errors.Is(err, relay.ErrMissingToken):
			resp.Error = "OPENCLAW_GATEWAY_TOKEN not configured"
		default:
			resp.Error = err.Error()
		}

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleGatewayHistory(deps RelayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := sessionParam(r, deps.SessionKey)
		limit, err := limitParam(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "%v", err)
			return
		}

		msgs, err := deps.Gateway.History(r.Context(), sessionID, limit)
		if err != nil {
			gatewayError(w, err)
			return
		}

		out := make([]historyMessage, 0, len(msgs))
		for _, m := range msgs {
			if m.Role == "system" {
				continue
			}
			out = append(out, historyMessage{
				Role:      m.Role,
				Content:   m.Content,
				CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
				SessionID: sessionID,
			})
		}

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, historyResponse{SessionID: sessionID, Count: len(out), Messages: out})
	}
}

func handleSaveMessage(deps RelayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req saveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		sessionID := strings.TrimSpace(req.SessionID)
		if req.Message == "" || sessionID == "" || req.Role == "" {
			httpError(w, http.StatusBadRequest, "message, session_id and role are required")
			return
		}

		id, err := deps.Store.SaveMessage(storage.Message{
			SessionID: sessionID,
			Role:      req.Role,
			Content:   req.Message,
			Source:    storage.SourceClient,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "saving message: %v", err)
			return
		}

		saved, err := deps.Store.GetMessage(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "saved message %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "reading saved message: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, saveResponse{Status: "ok", ID: id, Message: toHistoryMessage(saved)})
	}
}

func handleListSaved(deps RelayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := sessionParam(r, deps.SessionKey)
		limit, err := limitParam(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "%v", err)
			return
		}

		msgs, err := deps.Store.ListMessages(sessionID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing messages: %v", err)
			return
		}

		out := make([]historyMessage, len(msgs))
		for i, m := range msgs {
			out[i] = toHistoryMessage(m)
		}

		writeJSON(w, http.StatusOK, historyResponse{SessionID: sessionID, Count: len(out), Messages: out})
	}
}

func toHistoryMessage(m storage.Message) historyMessage {
	return historyMessage{
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
		SessionID: m.SessionID,
	}
}

func handleSync(deps RelayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := sessionParam(r, deps.SessionKey)

		res, err := deps.Syncer.Sync(r.Context(), sessionID)
		if err != nil {
			gatewayError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, syncResponse{Status: "ok", Result: res})
	}
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (relay.ChatRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req relay.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return req, false
	}
	if req.Message == "" {
		httpError(w, http.StatusBadRequest, "message is required")
		return req, false
	}
	return req, true
}

func sessionParam(r *http.Request, fallback string) string {
	if s := strings.TrimSpace(r.URL.Query().Get("session_id")); s != "" {
		return s
	}
	return fallback
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return min(n, maxHistoryLimit), nil
}

// gatewayError maps relay failures onto HTTP responses. A rejected call
// passes the gateway's status and body through unchanged, except for
// statuses that cannot carry a body, which become 502.
func gatewayError(w http.ResponseWriter, err error) {
	var rejected *relay.RejectedError
	var unreachable *relay.UnreachableError

	switch {
	case errors.Is(err, relay.ErrMissingToken):
		httpError(w, http.StatusInternalServerError, "%s", err.Error())
	case errors.As(err, &rejected) && !bodyAllowed(rejected.Status):
		detail := fmt.Sprintf("gateway returned status %d", rejected.Status)
		if rejected.Body != "" {
			detail += ": " + rejected.Body
		}
		httpError(w, http.StatusBadGateway, "%s", detail)
	case errors.As(err, &rejected):
		httpError(w, rejected.Status, "%s", rejected.Body)
	case errors.As(err, &unreachable):
		slog.Warn("gateway unreachable", "error", unreachable.Err)
		httpError(w, http.StatusBadGateway, "%s", unreachable.Error())
	default:
		httpError(w, http.StatusBadGateway, "upstream error: %v", err)
	}
}

// bodyAllowed reports whether a response with the given status may carry
// a body.
func bodyAllowed(status int) bool {
	switch {
	case status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"detail": fmt.Sprintf(format, args...)})
}
