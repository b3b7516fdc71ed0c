package transport

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ubix08/orix/internal/archive"
	"github.com/ubix08/orix/internal/llm"
	"github.com/ubix08/orix/internal/observability"
)

// sessionsHandler implements POST /api/sessions and GET /api/sessions,
// per spec.md §6.
func (s *Server) sessionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		switch r.Method {
		case http.MethodPost:
			var req struct {
				Title string `json:"title"`
			}
			if !decodeJSON(w, r, &req) {
				return
			}
			sess, err := s.archive.EnsureSession(ctx, uuid.NewString(), req.Title)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			respondJSON(w, sessionView(sess))
		case http.MethodGet:
			sessions, err := s.archive.ListSessions(ctx)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			views := make([]any, 0, len(sessions))
			for _, sess := range sessions {
				views = append(views, sessionView(sess))
			}
			respondJSON(w, map[string]any{"sessions": views})
		default:
			writeError(w, http.StatusBadRequest, "method not allowed")
		}
	}
}

// sessionDetailHandler implements GET/PATCH/DELETE /api/sessions/{id}.
func (s *Server) sessionDetailHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing session id")
			return
		}
		ctx := r.Context()

		switch r.Method {
		case http.MethodGet:
			sess, err := s.archive.GetSession(ctx, id)
			if err != nil {
				writeError(w, http.StatusNotFound, "session not found")
				return
			}
			respondJSON(w, sessionView(sess))
		case http.MethodPatch:
			var req struct {
				Title string `json:"title"`
			}
			if !decodeJSON(w, r, &req) {
				return
			}
			if err := s.archive.UpdateTitle(ctx, id, req.Title); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			sess, err := s.archive.GetSession(ctx, id)
			if err != nil {
				writeError(w, http.StatusNotFound, "session not found")
				return
			}
			respondJSON(w, sessionView(sess))
		case http.MethodDelete:
			if err := s.archive.DeleteSession(ctx, id); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			respondJSON(w, map[string]bool{"ok": true})
		default:
			writeError(w, http.StatusBadRequest, "method not allowed")
		}
	}
}

func sessionView(sess archive.Session) map[string]any {
	return map[string]any{
		"sessionId":      sess.ID,
		"title":          sess.Title,
		"createdAt":      sess.CreatedAt,
		"lastActivityAt": sess.LastActivityAt,
		"messageCount":   sess.MessageCount,
	}
}

// chatHandler implements POST /api/chat: a synchronous, non-streaming
// turn that runs HandleTurn to completion and returns its final answer.
func (s *Server) chatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusBadRequest, "method not allowed")
			return
		}
		id := sessionID(r)
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing session id")
			return
		}
		var req struct {
			Message string `json:"message"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		if !s.executor.TryLock(id) {
			writeError(w, http.StatusBadRequest, "turn in progress")
			return
		}
		defer s.executor.Unlock(id)

		sink := &captureSink{}
		if err := s.executor.HandleTurn(r.Context(), id, req.Message, nil, sink); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, map[string]string{"response": sink.response})
	}
}

// historyHandler implements GET /api/history.
func (s *Server) historyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusBadRequest, "method not allowed")
			return
		}
		id := sessionID(r)
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing session id")
			return
		}
		msgs, err := s.archive.ListMessages(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, map[string]any{"messages": msgs})
	}
}

// clearHandler implements POST /api/clear: wipes the session's archived
// messages, memory tiers, and task board.
func (s *Server) clearHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusBadRequest, "method not allowed")
			return
		}
		id := sessionID(r)
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing session id")
			return
		}
		ctx := r.Context()
		log := observability.LoggerWithTrace(ctx)

		if err := s.archive.ClearSession(ctx, id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := s.mem.ClearSession(ctx, id); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("transport_clear_memory_failed")
		}
		if err := s.executor.Abandon(ctx, id); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("transport_clear_board_failed")
		}
		respondJSON(w, map[string]bool{"ok": true})
	}
}

// statusHandler implements GET /api/status: coordinator queue depth,
// circuit breaker state, and board status, for operational diagnostics.
func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusBadRequest, "method not allowed")
			return
		}
		out := map[string]any{
			"queueDepth":    s.coordinator.QueueDepth(),
			"breakerState":  s.gateway.BreakerState(),
		}
		if id := sessionID(r); id != "" {
			if sc, err := s.executor.Status(r.Context(), id); err == nil {
				out["board"] = sc
			}
		}
		respondJSON(w, out)
	}
}

// syncHandler implements POST /api/sync: forces an out-of-band Storage
// Coordinator flush.
func (s *Server) syncHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusBadRequest, "method not allowed")
			return
		}
		if err := s.coordinator.Flush(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, map[string]bool{"ok": true})
	}
}

// memorySearchHandler implements POST /api/memory/search.
func (s *Server) memorySearchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusBadRequest, "method not allowed")
			return
		}
		id := sessionID(r)
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing session id")
			return
		}
		var req struct {
			Query string `json:"query"`
			TopK  int    `json:"topK"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		topK := req.TopK
		if topK <= 0 {
			topK = 5
		}
		results, err := s.mem.Search(r.Context(), id, req.Query, topK, nil)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, map[string]any{"results": results})
	}
}

// memoryStatsHandler implements GET /api/memory/stats.
func (s *Server) memoryStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusBadRequest, "method not allowed")
			return
		}
		id := sessionID(r)
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing session id")
			return
		}
		stats, err := s.mem.Stats(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, map[string]any{
			"sessionMemories":  stats.SessionMemories,
			"longTermMemories": stats.LongTermMemories,
			"totalMemories":    stats.TotalMemories,
		})
	}
}

// memorySummarizeHandler implements POST /api/memory/summarize.
func (s *Server) memorySummarizeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusBadRequest, "method not allowed")
			return
		}
		id := sessionID(r)
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing session id")
			return
		}
		ctx := r.Context()
		msgs, err := s.archive.ListMessages(ctx, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		history := make([]llm.Message, 0, len(msgs))
		for _, m := range msgs {
			history = append(history, llm.Message{Role: m.Role, Content: m.Content})
		}
		summary, err := s.mem.SummarizeConversation(ctx, history)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		topics, err := s.mem.ExtractTopics(ctx, summary)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, map[string]any{"summary": summary, "topics": topics})
	}
}

// tasksStatusHandler implements GET /api/tasks/status.
func (s *Server) tasksStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusBadRequest, "method not allowed")
			return
		}
		id := sessionID(r)
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing session id")
			return
		}
		sc, err := s.executor.Status(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, sc)
	}
}

// tasksResumeHandler implements POST /api/tasks/resume.
func (s *Server) tasksResumeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusBadRequest, "method not allowed")
			return
		}
		id := sessionID(r)
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing session id")
			return
		}
		var req struct {
			Feedback string `json:"feedback"`
			Approved *bool  `json:"approved"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		approved := true
		if req.Approved != nil {
			approved = *req.Approved
		}

		if !s.executor.TryLock(id) {
			writeError(w, http.StatusBadRequest, "turn in progress")
			return
		}
		defer s.executor.Unlock(id)

		sink := &captureSink{}
		if err := s.executor.HandleCheckpointResponse(r.Context(), id, req.Feedback, approved, sink); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, sink.result())
	}
}

// tasksAbandonHandler implements POST /api/tasks/abandon.
func (s *Server) tasksAbandonHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusBadRequest, "method not allowed")
			return
		}
		id := sessionID(r)
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing session id")
			return
		}
		if err := s.executor.Abandon(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, map[string]bool{"ok": true})
	}
}
