// Package transport implements the Boundary Transport: the edge between
// the outside world and the Session Executor, per spec.md §4.9/§6. It is a
// pure demultiplexer — it parses and routes wire frames, holds an SSE
// connection registry for active streams, and carries no orchestrator or
// board state of its own. It never mutates Messages or Tasks directly;
// every mutation goes through the Session Executor or the Orchestrator
// accessors it exposes.
//
// Grounded on internal/agentd/router.go's bare http.ServeMux + app-struct-
// of-handler-closures idiom, and internal/agentd/handlers_chat.go's SSE
// streaming shape (writeSSE/writeSSEText closures, 15s keepalive ticker).
package transport

import (
	"net/http"
	"sync"

	"github.com/ubix08/orix/internal/archive"
	"github.com/ubix08/orix/internal/config"
	"github.com/ubix08/orix/internal/llm"
	"github.com/ubix08/orix/internal/memory"
	"github.com/ubix08/orix/internal/session"
	"github.com/ubix08/orix/internal/storagecoord"
)

// Server bundles the components the Boundary Transport's handlers call
// into. It holds no session/task state beyond the SSE connection registry
// needed to demultiplex POSTed client frames onto the right open stream.
type Server struct {
	executor    *session.Executor
	archive     *archive.Archive
	mem         *memory.Manager
	coordinator *storagecoord.Coordinator
	gateway     *llm.Gateway
	auth        config.AuthConfig

	streamsMu sync.Mutex
	streams   map[string]*sseSink // sessionID -> active stream, if any
}

// New constructs a Boundary Transport Server over the given components.
func New(executor *session.Executor, arc *archive.Archive, mem *memory.Manager, coord *storagecoord.Coordinator, gw *llm.Gateway, auth config.AuthConfig) *Server {
	return &Server{
		executor:    executor,
		archive:     arc,
		mem:         mem,
		coordinator: coord,
		gateway:     gw,
		auth:        auth,
		streams:     make(map[string]*sseSink),
	}
}

// Router assembles the bare http.ServeMux exposing the streaming channel
// and the HTTP admin surface, per spec.md §6.
func (s *Server) Router() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/api/stream", s.withAuth(s.streamHandler()))

	mux.HandleFunc("/api/sessions", s.withAuth(s.sessionsHandler()))
	mux.HandleFunc("/api/sessions/", s.withAuth(s.sessionDetailHandler()))

	mux.HandleFunc("/api/chat", s.withAuth(s.chatHandler()))
	mux.HandleFunc("/api/history", s.withAuth(s.historyHandler()))
	mux.HandleFunc("/api/clear", s.withAuth(s.clearHandler()))
	mux.HandleFunc("/api/status", s.withAuth(s.statusHandler()))
	mux.HandleFunc("/api/sync", s.withAuth(s.syncHandler()))

	mux.HandleFunc("/api/memory/search", s.withAuth(s.memorySearchHandler()))
	mux.HandleFunc("/api/memory/stats", s.withAuth(s.memoryStatsHandler()))
	mux.HandleFunc("/api/memory/summarize", s.withAuth(s.memorySummarizeHandler()))

	mux.HandleFunc("/api/tasks/status", s.withAuth(s.tasksStatusHandler()))
	mux.HandleFunc("/api/tasks/resume", s.withAuth(s.tasksResumeHandler()))
	mux.HandleFunc("/api/tasks/abandon", s.withAuth(s.tasksAbandonHandler()))

	return mux
}

// withAuth enforces the minimal header-based session-auth check: when
// auth is enabled, every request must carry a matching bearer token,
// per spec.md §9's decision against a full OAuth/OIDC flow.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.auth.Enabled {
			got := r.Header.Get("Authorization")
			want := "Bearer " + s.auth.Token
			if s.auth.Token == "" || got != want {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next(w, r)
	}
}

// sessionID resolves the target session from the X-Session-ID header
// (taking precedence) or the session_id query parameter, per spec.md §6.
func sessionID(r *http.Request) string {
	if id := r.Header.Get("X-Session-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("session_id")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = writeJSON(w, map[string]string{"error": msg})
}
