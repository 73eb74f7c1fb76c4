// Package httpapi exposes the operator-facing HTTP surface: message
// ingestion, profile and history reads, lead reset, batch overview, and a
// websocket stream of delivered decisions.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/amilie/inboxtriage/internal/config"
	"github.com/amilie/inboxtriage/internal/inbox"
	"github.com/amilie/inboxtriage/internal/memory"
	"github.com/amilie/inboxtriage/internal/observability"
	"github.com/amilie/inboxtriage/internal/protocol"
)

type Server struct {
	cfg      config.Config
	orch     *inbox.Orchestrator
	store    memory.Store
	metrics  *observability.Metrics
	stream   *DecisionStream
	upgrader websocket.Upgrader
}

func New(cfg config.Config, orch *inbox.Orchestrator, store memory.Store, metrics *observability.Metrics, stream *DecisionStream) *Server {
	return &Server{
		cfg:     cfg,
		orch:    orch,
		store:   store,
		metrics: metrics,
		stream:  stream,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may watch the decision stream
				// unless the deployment explicitly opens it up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/messages", s.handleIngest)
	r.Post("/v1/inbox/overview", s.handleOverview)
	r.Get("/v1/inbox/ws", s.handleStreamWS)
	r.Get("/v1/clients/{id}", s.handleGetClient)
	r.Get("/v1/clients/{id}/history", s.handleGetHistory)
	r.Post("/v1/clients/{id}/lead/reset", s.handleResetLead)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type ingestRequest struct {
	ClientID         string    `json:"client_id"`
	Text             string    `json:"text"`
	ReceivedAt       time.Time `json:"received_at"`
	ChannelMessageID string    `json:"channel_message_id"`
	Channel          string    `json:"channel"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	res, err := s.orch.Process(r.Context(), protocol.Message{
		ClientID:         req.ClientID,
		Text:             req.Text,
		ReceivedAt:       req.ReceivedAt,
		ChannelMessageID: req.ChannelMessageID,
		Channel:          req.Channel,
	})
	switch {
	case errors.Is(err, protocol.ErrMissingClientID), errors.Is(err, protocol.ErrMissingMessageID):
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, memory.ErrStorageUnavailable):
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", "storage unavailable, message not persisted")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	case res.Status == inbox.StatusDuplicate:
		respondJSON(w, http.StatusOK, res)
	default:
		respondJSON(w, http.StatusCreated, res)
	}
}

type overviewRequest struct {
	Messages []ingestRequest `json:"messages"`
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	var req overviewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	msgs := make([]protocol.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, protocol.Message{
			ClientID:         m.ClientID,
			Text:             m.Text,
			ReceivedAt:       m.ReceivedAt,
			ChannelMessageID: m.ChannelMessageID,
			Channel:          m.Channel,
		})
	}
	items, err := s.orch.Overview(r.Context(), msgs)
	if err != nil {
		if errors.Is(err, protocol.ErrMissingClientID) || errors.Is(err, protocol.ErrMissingMessageID) {
			respondError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	counts := make(map[string]int)
	for _, it := range items {
		counts[string(it.Decision.Category)]++
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"total":      len(items),
		"categories": counts,
		"items":      items,
	})
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")
	profile, err := s.store.Get(r.Context(), clientID)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.store.History(r.Context(), clientID, limit)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"client_id": clientID,
		"entries":   entries,
	})
}

func (s *Server) handleResetLead(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")
	if err := s.store.ResetLeadState(r.Context(), clientID); err != nil {
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"client_id": clientID,
		"status":    "reset",
	})
}

func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		respondError(w, http.StatusServiceUnavailable, "stream_disabled", "decision stream not enabled")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.stream.serve(conn)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
