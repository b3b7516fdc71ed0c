package worker

import (
	"context"
	"testing"

	"github.com/ubix08/orix/internal/config"
	"github.com/ubix08/orix/internal/llm"
	"github.com/ubix08/orix/internal/task"
)

// scriptedProvider replays a fixed sequence of assistant replies, one per
// Chat call, looping on the last reply once exhausted.
type scriptedProvider struct {
	replies []string
	calls   int
}

func (s *scriptedProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	idx := s.calls
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	s.calls++
	return llm.Message{Role: "assistant", Content: s.replies[idx]}, nil
}

func (s *scriptedProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func testGateway(replies ...string) *llm.Gateway {
	var cfg config.Config
	cfg.LLM.RetryAttempts = 1
	cfg.LLM.CallTimeoutSec = 5
	return llm.NewGateway(cfg, &scriptedProvider{replies: replies})
}

func TestExecuteShortCompletionSkipsAssessment(t *testing.T) {
	w := New(config.WorkerConfig{}, testGateway("TASK COMPLETE: done"))
	tk := &task.Task{Name: "t", WorkerRole: task.RoleWriter}

	result, err := w.Execute(context.Background(), tk, nil, nil, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success || result.Output != "done" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExecuteBlockedMarkerReturnsRetryable(t *testing.T) {
	w := New(config.WorkerConfig{}, testGateway("TASK BLOCKED: missing credentials\nmore detail"))
	tk := &task.Task{Name: "t", WorkerRole: task.RoleCoder}

	result, err := w.Execute(context.Background(), tk, nil, nil, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Success || !result.NeedsRetry || result.RetryReason != "missing credentials" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExecuteContinuesOnPlainResponse(t *testing.T) {
	w := New(config.WorkerConfig{MaxTurns: 3}, testGateway(
		"still working on it",
		"TASK COMPLETE: final answer",
	))
	tk := &task.Task{Name: "t", WorkerRole: task.RoleResearcher}

	result, err := w.Execute(context.Background(), tk, nil, nil, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success || result.Output != "final answer" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExecuteExhaustsTurnsWithoutMarker(t *testing.T) {
	w := New(config.WorkerConfig{MaxTurns: 2}, testGateway("thinking...", "still thinking..."))
	tk := &task.Task{Name: "t", WorkerRole: task.RoleAnalyst}

	result, err := w.Execute(context.Background(), tk, nil, nil, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Success || !result.NeedsRetry {
		t.Fatalf("expected needsRetry after exhausting turns, got %+v", result)
	}
}

func TestFindMarkerCaseInsensitiveEarliest(t *testing.T) {
	text, ok := findMarker("some preamble\ntask complete: the real output", completionMarkers)
	if !ok || text != "the real output" {
		t.Fatalf("unexpected marker extraction: %q %v", text, ok)
	}
}

func TestFindMarkerNoneFound(t *testing.T) {
	if _, ok := findMarker("nothing special here", completionMarkers); ok {
		t.Fatal("expected no marker to be found")
	}
}
