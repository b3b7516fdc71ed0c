package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ubix08/orix/internal/config"
	"github.com/ubix08/orix/internal/task"
)

func TestSessionIDHeaderTakesPrecedence(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/status?session_id=from-query", nil)
	req.Header.Set("X-Session-ID", "from-header")
	if got := sessionID(req); got != "from-header" {
		t.Fatalf("sessionID() = %q, want %q", got, "from-header")
	}
}

func TestSessionIDFallsBackToQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/status?session_id=from-query", nil)
	if got := sessionID(req); got != "from-query" {
		t.Fatalf("sessionID() = %q, want %q", got, "from-query")
	}
}

func TestSessionIDMissingIsEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	if got := sessionID(req); got != "" {
		t.Fatalf("sessionID() = %q, want empty", got)
	}
}

func TestWithAuthRejectsMissingToken(t *testing.T) {
	s := &Server{auth: config.AuthConfig{Enabled: true, Token: "secret"}}
	handler := s.withAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a valid token")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestWithAuthAcceptsMatchingToken(t *testing.T) {
	s := &Server{auth: config.AuthConfig{Enabled: true, Token: "secret"}}
	ran := false
	handler := s.withAuth(func(w http.ResponseWriter, r *http.Request) { ran = true })

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if !ran {
		t.Fatal("handler did not run with a valid token")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestWithAuthPassesThroughWhenDisabled(t *testing.T) {
	s := &Server{auth: config.AuthConfig{Enabled: false}}
	ran := false
	handler := s.withAuth(func(w http.ResponseWriter, r *http.Request) { ran = true })

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if !ran {
		t.Fatal("handler did not run while auth is disabled")
	}
}

func TestClientFrameDecodesUserMessageWithFiles(t *testing.T) {
	raw := `{"type":"user_message","content":"hello","files":[{"name":"a.txt","mimeType":"text/plain","data":"aGk="}]}`
	var f clientFrame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Type != "user_message" || f.Content != "hello" || len(f.Files) != 1 {
		t.Fatalf("unexpected frame: %+v", f)
	}
	ref := f.Files[0].toFileRef()
	if ref.Name != "a.txt" || string(ref.Data) != "hi" {
		t.Fatalf("unexpected file ref: %+v", ref)
	}
}

func TestClientFrameDecodesCheckpointResponse(t *testing.T) {
	raw := `{"type":"checkpoint_response","feedback":"looks good","approved":true}`
	var f clientFrame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Type != "checkpoint_response" || !f.Approved || f.Feedback != "looks good" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestCaptureSinkResultCompleted(t *testing.T) {
	c := &captureSink{}
	c.OnComplete("final answer")
	got := c.result()
	if got["status"] != "completed" || got["response"] != "final answer" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestCaptureSinkResultCheckpoint(t *testing.T) {
	c := &captureSink{}
	tk := &task.Task{ID: "t1", Name: "draft"}
	c.OnCheckpoint("review this", tk)
	got := c.result()
	if got["status"] != "checkpoint" || got["task"] != tk {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestCaptureSinkResultFailed(t *testing.T) {
	c := &captureSink{}
	c.OnError("boom")
	got := c.result()
	if got["status"] != "failed" || got["error"] != "boom" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestWriteErrorShapesPayload(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusBadRequest, "missing session id")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rec.Body.String(), "missing session id") {
		t.Fatalf("body = %q, want it to mention the error", rec.Body.String())
	}
}

func TestRouterRegistersKnownPaths(t *testing.T) {
	s := &Server{auth: config.AuthConfig{}, streams: make(map[string]*sseSink)}
	mux := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("/healthz status = %d, want %d", rec.Code, http.StatusOK)
	}
}
