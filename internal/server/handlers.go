package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/redwing-381/mirmer.ai/internal/council"
	"github.com/redwing-381/mirmer.ai/internal/perf"
	"github.com/redwing-381/mirmer.ai/internal/ratelimit"
	"github.com/redwing-381/mirmer.ai/internal/store"
)

// SendMessageRequest is the body of both message endpoints.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// MessageResponse is returned by the non-streaming message endpoint.
type MessageResponse struct {
	Stage1   []council.Stage1Result `json:"stage1"`
	Stage2   []council.Stage2Result `json:"stage2"`
	Stage3   council.Synthesis      `json:"stage3"`
	Metadata council.Metadata       `json:"metadata"`
}

// PerformanceResponse is returned by GET /api/performance.
type PerformanceResponse struct {
	Statistics perf.Statistics            `json:"statistics"`
	Summary    string                     `json:"summary"`
	RateLimits map[string]ratelimit.State `json:"rate_limits,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Service: ServiceName, Version: s.version})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	c, err := s.convs.Create(r.Context(), user)
	if err != nil {
		s.internalError(w, "create conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	list, err := s.convs.List(r.Context(), user)
	if err != nil {
		s.internalError(w, "list conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	c, err := s.convs.Get(r.Context(), user, r.PathValue("id"))
	if err != nil {
		s.storeError(w, "get conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := s.convs.Delete(r.Context(), user, r.PathValue("id")); err != nil {
		s.storeError(w, "delete conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleMessage runs the council and returns the whole result at once.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	content, ok := decodeMessage(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	id := r.PathValue("id")

	conv, err := s.convs.Get(ctx, user, id)
	if err != nil {
		s.storeError(w, "get conversation", err)
		return
	}
	if err := s.convs.AddUserMessage(ctx, user, id, content); err != nil {
		s.storeError(w, "add user message", err)
		return
	}

	res, err := s.runner.Run(ctx, content, nil)
	if err != nil {
		if ae, ok := council.IsAbort(err); ok {
			writeError(w, http.StatusBadGateway, ae.Reason)
			return
		}
		s.internalError(w, "run council", err)
		return
	}

	if err := s.persist(ctx, user, id, len(conv.Messages) == 0, content, res); err != nil {
		s.internalError(w, "save assistant message", err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Stage1:   res.Stage1,
		Stage2:   res.Stage2.Rankings,
		Stage3:   res.Stage3,
		Metadata: res.Metadata(),
	})
}

// handleMessageStream runs the council and streams every stage as an SSE
// frame. The complete event follows persistence of the result.
func (s *Server) handleMessageStream(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	content, ok := decodeMessage(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	id := r.PathValue("id")

	sse := NewSSEWriter(w)
	sse.Init()
	send := func(ev council.Event) {
		if err := sse.WriteEvent(ev); err != nil {
			s.logger.Debug("sse write failed", "conversation", id, "event", string(ev.Type), "error", err)
		}
	}

	conv, err := s.convs.Get(ctx, user, id)
	if err != nil {
		send(council.Event{Type: council.EventError, Message: "Conversation not found"})
		return
	}
	if err := s.convs.AddUserMessage(ctx, user, id, content); err != nil {
		send(council.Event{Type: council.EventError, Message: err.Error()})
		return
	}

	res, err := s.runner.Run(ctx, content, send)
	if err != nil {
		// Aborts have already been reported through send.
		if _, ok := council.IsAbort(err); !ok {
			s.logger.Error("council run failed", "conversation", id, "error", err)
			send(council.Event{Type: council.EventError, Message: err.Error()})
		}
		return
	}

	if err := s.persist(ctx, user, id, len(conv.Messages) == 0, content, res); err != nil {
		s.logger.Error("save assistant message", "conversation", id, "error", err)
		send(council.Event{Type: council.EventError, Message: err.Error()})
		return
	}
	send(council.Event{Type: council.EventComplete})
}

// persist stores the assistant turn and titles a new conversation.
func (s *Server) persist(ctx context.Context, user, id string, first bool, query string, res *council.Result) error {
	if err := s.convs.AddAssistantMessage(ctx, user, id, res); err != nil {
		return err
	}
	if first {
		return s.convs.UpdateTitle(ctx, user, id, store.TitleFromQuery(query))
	}
	return nil
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	resp := PerformanceResponse{
		Statistics: s.stats.Statistics(),
		Summary:    s.stats.Summary(),
	}
	if s.quota != nil {
		resp.RateLimits = s.quota.Snapshots()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := strings.TrimSpace(r.Header.Get(UserHeader))
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing "+UserHeader+" header")
		return "", false
	}
	return user, true
}

func decodeMessage(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return "", false
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return "", false
	}
	return req.Content, true
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	s.internalError(w, op, err)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
