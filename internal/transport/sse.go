package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ubix08/orix/internal/observability"
	"github.com/ubix08/orix/internal/session"
	"github.com/ubix08/orix/internal/task"
)

// sseSink streams one session's server→client frames over a single
// text/event-stream connection, per spec.md §6's frame catalogue.
// Grounded on internal/agentd/handlers_chat.go's writeSSE closure: a
// mutex-serialised json.Marshal + "data: %s\n\n" + Flush.
type sseSink struct {
	mu sync.Mutex
	w  http.ResponseWriter
	fl http.Flusher
}

func newSSESink(w http.ResponseWriter, fl http.Flusher) *sseSink {
	return &sseSink{w: w, fl: fl}
}

func (s *sseSink) write(payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "data: %s\n\n", b)
	s.fl.Flush()
}

func (s *sseSink) writeComment(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, ": %s\n\n", text)
	s.fl.Flush()
}

func (s *sseSink) OnStatus(message string) { s.write(map[string]string{"type": "status", "message": message}) }
func (s *sseSink) OnChunk(content string)  { s.write(map[string]string{"type": "chunk", "content": content}) }
func (s *sseSink) OnToolUse(toolNames []string) {
	s.write(map[string]any{"type": "tool_use", "tools": toolNames})
}
func (s *sseSink) OnPlanCreated(taskCount, checkpoints int, summary string) {
	s.write(map[string]any{"type": "plan_created", "taskCount": taskCount, "checkpoints": checkpoints, "summary": summary})
}
func (s *sseSink) OnTaskProgress(taskID, message string) {
	s.write(map[string]any{"type": "task_progress", "taskId": taskID, "message": message})
}
func (s *sseSink) OnTaskCompleted(taskID, taskName, preview string) {
	s.write(map[string]any{"type": "task_completed", "taskId": taskID, "taskName": taskName, "preview": preview})
}
func (s *sseSink) OnTaskFailed(taskID, errMsg string, willRetry bool) {
	s.write(map[string]any{"type": "task_failed", "taskId": taskID, "error": errMsg, "willRetry": willRetry})
}
func (s *sseSink) OnCheckpoint(message string, t *task.Task) {
	s.write(map[string]any{"type": "checkpoint", "message": message, "task": t})
}
func (s *sseSink) OnComplete(response string) { s.write(map[string]string{"type": "complete", "response": response}) }
func (s *sseSink) OnError(errMsg string)      { s.write(map[string]string{"type": "error", "error": errMsg}) }

// onConnect sends the session_context frame exactly once, immediately
// after the stream opens, per spec.md §6.
func (s *sseSink) onConnect(ctx any) { s.write(map[string]any{"type": "session_context", "context": ctx}) }

var _ session.Sink = (*sseSink)(nil)

// clientFrame is the envelope every client→server frame shares; Content
// and Feedback/Approved are populated depending on Type.
type clientFrame struct {
	Type     string       `json:"type"`
	Content  string       `json:"content"`
	Files    []clientFile `json:"files"`
	Feedback string       `json:"feedback"`
	Approved bool         `json:"approved"`
}

// clientFile is a base64-encoded file attachment carried on a
// user_message frame.
type clientFile struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

func (f clientFile) toFileRef() session.FileRef {
	data, _ := base64.StdEncoding.DecodeString(f.Data)
	return session.FileRef{Data: data, MIMEType: f.MIMEType, Name: f.Name}
}

// streamHandler demultiplexes the Boundary Transport's bidirectional
// streaming channel: GET opens a long-lived SSE connection for one
// session (sending session_context immediately, then keepalive comments
// until the client disconnects); POST carries one client frame, routed
// to the session's open connection. Grounded on
// internal/agentd/handlers_chat.go's text/event-stream setup and 15s
// keepalive ticker.
func (s *Server) streamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := sessionID(r)
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing session id")
			return
		}

		switch r.Method {
		case http.MethodGet:
			s.openStream(w, r, id)
		case http.MethodPost:
			s.dispatchFrame(w, r, id)
		default:
			writeError(w, http.StatusBadRequest, "method not allowed")
		}
	}
}

func (s *Server) openStream(w http.ResponseWriter, r *http.Request, id string) {
	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sink := newSSESink(w, fl)

	s.streamsMu.Lock()
	s.streams[id] = sink
	s.streamsMu.Unlock()
	defer func() {
		s.streamsMu.Lock()
		if s.streams[id] == sink {
			delete(s.streams, id)
		}
		s.streamsMu.Unlock()
	}()

	ctx := r.Context()
	if sc, err := s.executor.Status(ctx, id); err == nil {
		sink.onConnect(sc)
	} else {
		sink.onConnect(map[string]any{"hasActiveBoard": false})
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sink.writeComment("keepalive")
		}
	}
}

// dispatchFrame decodes one client→server frame and routes it to id's
// open stream. An invalid frame reports {type:"error",...} on that
// stream without closing it, per spec.md §6.
func (s *Server) dispatchFrame(w http.ResponseWriter, r *http.Request, id string) {
	s.streamsMu.Lock()
	sink := s.streams[id]
	s.streamsMu.Unlock()
	if sink == nil {
		writeError(w, http.StatusNotFound, "no active stream for session")
		return
	}

	var frame clientFrame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		sink.OnError("invalid frame: " + err.Error())
		writeError(w, http.StatusBadRequest, "invalid frame")
		return
	}

	// The turn itself must outlive this POST's request context: its
	// result streams out over the session's separately-lived GET
	// connection, so a background context is used for the actual work.
	bgCtx := context.Background()
	log := observability.LoggerWithTrace(r.Context())

	switch frame.Type {
	case "user_message":
		files := make([]session.FileRef, 0, len(frame.Files))
		for _, f := range frame.Files {
			files = append(files, f.toFileRef())
		}
		if !s.executor.TryLock(id) {
			sink.OnError("a turn is already in progress for this session")
			writeError(w, http.StatusBadRequest, "turn in progress")
			return
		}
		go func() {
			defer s.executor.Unlock(id)
			if err := s.executor.HandleTurn(bgCtx, id, frame.Content, files, sink); err != nil {
				log.Warn().Err(err).Str("session_id", id).Msg("transport_stream_turn_failed")
			}
		}()
		respondJSON(w, map[string]bool{"ok": true})
	case "checkpoint_response":
		if !s.executor.TryLock(id) {
			sink.OnError("a turn is already in progress for this session")
			writeError(w, http.StatusBadRequest, "turn in progress")
			return
		}
		go func() {
			defer s.executor.Unlock(id)
			if err := s.executor.HandleCheckpointResponse(bgCtx, id, frame.Feedback, frame.Approved, sink); err != nil {
				log.Warn().Err(err).Str("session_id", id).Msg("transport_stream_checkpoint_failed")
			}
		}()
		respondJSON(w, map[string]bool{"ok": true})
	case "abandon_task":
		if err := s.executor.Abandon(bgCtx, id); err != nil {
			sink.OnError(err.Error())
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		sink.OnStatus("Task abandoned.")
		respondJSON(w, map[string]bool{"ok": true})
	case "get_status":
		sc, err := s.executor.Status(bgCtx, id)
		if err != nil {
			sink.OnError(err.Error())
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		sink.onConnect(sc)
		respondJSON(w, map[string]bool{"ok": true})
	default:
		sink.OnError("unknown frame type: " + frame.Type)
		writeError(w, http.StatusBadRequest, "unknown frame type")
	}
}
