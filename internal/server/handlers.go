package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/haasonsaas/concierge/internal/agent"
	"github.com/haasonsaas/concierge/internal/storage"
	"github.com/haasonsaas/concierge/pkg/models"
)

const maxRequestBody = 1 << 20 // 1 MiB

type messageRequest struct {
	ClientID     string `json:"client_id"`
	SessionID    string `json:"session_id"`
	Message      string `json:"message"`
	Channel      string `json:"channel,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	ThreadKey    string `json:"thread_key,omitempty"`
	EmailSubject string `json:"email_subject,omitempty"`
	Language     string `json:"language,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req messageRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.ClientID == "" || req.SessionID == "" || strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "client_id, session_id and message are required"})
		return
	}

	client, err := s.clients.Get(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown client"})
			return
		}
		s.logger.Error(ctx, "client lookup failed", "client_id", req.ClientID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "client lookup failed"})
		return
	}

	if !authorized(r, client) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid API key"})
		return
	}

	ctx, span := s.tracer.TraceTurn(ctx, req.Channel, req.SessionID)
	defer span.End()

	result, err := s.processor.ProcessMessage(ctx, client, req.SessionID, req.Message, agent.TurnOptions{
		UserID:       req.UserID,
		Channel:      models.Channel(req.Channel),
		ThreadKey:    req.ThreadKey,
		EmailSubject: req.EmailSubject,
		Language:     req.Language,
	})
	if err != nil {
		s.tracer.RecordError(span, err)
		s.logger.Error(ctx, "turn processing failed", "client_id", req.ClientID, "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "message processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// authorized checks the bearer token against the tenant's configured API
// key. Tenants without a key accept unauthenticated traffic, which keeps
// local and test setups simple.
func authorized(r *http.Request, client *models.Client) bool {
	want := client.Credentials["api_key"]
	if want == "" {
		return true
	}
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
