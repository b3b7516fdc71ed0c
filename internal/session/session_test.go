package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ubix08/orix/internal/config"
	"github.com/ubix08/orix/internal/eventbus"
	"github.com/ubix08/orix/internal/llm"
	"github.com/ubix08/orix/internal/orchestrator"
	"github.com/ubix08/orix/internal/planner"
	"github.com/ubix08/orix/internal/storagecoord"
	"github.com/ubix08/orix/internal/task"
	"github.com/ubix08/orix/internal/tools"
	"github.com/ubix08/orix/internal/worker"
)

// recordingSink captures every frame emitted during a test turn.
type recordingSink struct {
	chunks          []string
	completed       string
	errored         string
	checkpoint      *task.Task
	checkpoints     []string
	planTaskCount   int
	planCheckpoints int
	planMessage     string
}

func (s *recordingSink) OnStatus(string)    {}
func (s *recordingSink) OnChunk(c string)   { s.chunks = append(s.chunks, c) }
func (s *recordingSink) OnToolUse([]string) {}
func (s *recordingSink) OnPlanCreated(taskCount, checkpoints int, summary string) {
	s.planTaskCount = taskCount
	s.planCheckpoints = checkpoints
	s.planMessage = summary
}
func (s *recordingSink) OnTaskProgress(string, string)          {}
func (s *recordingSink) OnTaskCompleted(string, string, string) {}
func (s *recordingSink) OnTaskFailed(string, string, bool)      {}
func (s *recordingSink) OnCheckpoint(msg string, t *task.Task) {
	s.checkpoint = t
	s.checkpoints = append(s.checkpoints, msg)
}
func (s *recordingSink) OnComplete(response string) { s.completed = response }
func (s *recordingSink) OnError(errMsg string)       { s.errored = errMsg }

// recordingLayer is a storagecoord.Layer fake that just counts writes.
type recordingLayer struct{ calls int }

func (l *recordingLayer) Write(ctx context.Context, msgs []storagecoord.Message) error {
	l.calls++
	return nil
}

// memBoardStorage is an in-memory orchestrator.BoardStorage fake.
type memBoardStorage struct{ boards map[string]*task.Board }

func newMemBoardStorage() *memBoardStorage { return &memBoardStorage{boards: map[string]*task.Board{}} }
func (m *memBoardStorage) Load(ctx context.Context, sessionID string) (*task.Board, error) {
	return m.boards[sessionID], nil
}
func (m *memBoardStorage) Save(ctx context.Context, b *task.Board) error {
	m.boards[b.SessionID] = b
	return nil
}
func (m *memBoardStorage) Delete(ctx context.Context, sessionID string) error {
	delete(m.boards, sessionID)
	return nil
}

// scriptedProvider replays a fixed reply sequence for a gateway under test.
type scriptedProvider struct {
	replies []string
	calls   int
}

func (s *scriptedProvider) Chat(ctx context.Context, msgs []llm.Message, tdefs []llm.ToolSchema, model string) (llm.Message, error) {
	idx := s.calls
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	s.calls++
	return llm.Message{Role: "assistant", Content: s.replies[idx]}, nil
}

func (s *scriptedProvider) ChatStream(ctx context.Context, msgs []llm.Message, tdefs []llm.ToolSchema, model string, h llm.StreamHandler) error {
	idx := s.calls
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	s.calls++
	h.OnDelta(s.replies[idx])
	return nil
}

func testGateway(replies ...string) *llm.Gateway {
	var cfg config.Config
	cfg.LLM.RetryAttempts = 1
	cfg.LLM.CallTimeoutSec = 5
	return llm.NewGateway(cfg, &scriptedProvider{replies: replies})
}

// echoTool is a minimal tools.Tool fake for dispatch tests.
type echoTool struct{}

func (echoTool) Name() string               { return "echo" }
func (echoTool) JSONSchema() map[string]any { return map[string]any{"description": "echoes input"} }
func (echoTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	return map[string]any{"echoed": string(raw)}, nil
}

// failingTool always reports a structured failure payload, the way
// tools.Registry.Dispatch folds a Call error into {"ok": false, ...}.
type failingTool struct{}

func (failingTool) Name() string               { return "fails" }
func (failingTool) JSONSchema() map[string]any  { return map[string]any{"description": "always fails"} }
func (failingTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	return nil, errToolFailed
}

var errToolFailed = simpleErr("tool failed")

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func TestPreviewOfTruncatesAt200(t *testing.T) {
	short := "hello"
	if previewOf(short) != short {
		t.Fatalf("expected short string unchanged, got %q", previewOf(short))
	}
	long := make([]byte, 250)
	for i := range long {
		long[i] = 'a'
	}
	got := previewOf(string(long))
	if len(got) != 203 || got[200:] != "..." {
		t.Fatalf("expected 200 chars + ellipsis, got len=%d tail=%q", len(got), got[len(got)-3:])
	}
}

func TestStreamCachedAnswerEmitsWordByWordChunks(t *testing.T) {
	e := &Executor{}
	sink := &recordingSink{}
	start := time.Now()
	e.streamCachedAnswer(context.Background(), "one two three", sink)
	elapsed := time.Since(start)

	if len(sink.chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %+v", len(sink.chunks), sink.chunks)
	}
	if elapsed < 20*time.Millisecond {
		t.Fatalf("expected at least 2 inter-word delays, elapsed %v", elapsed)
	}
}

func TestForwardEventPlanCreatedCarriesTaskAndCheckpointCounts(t *testing.T) {
	e := &Executor{}
	sink := &recordingSink{}
	e.forwardEvent(orchestrator.Event{
		Type:            orchestrator.EventPlanCreated,
		Message:         "plan summary",
		TaskCount:       3,
		CheckpointCount: 1,
	}, sink)

	if sink.planTaskCount != 3 || sink.planCheckpoints != 1 || sink.planMessage != "plan summary" {
		t.Fatalf("expected plan_created{taskCount:3, checkpoints:1, message:%q}, got taskCount=%d checkpoints=%d message=%q",
			"plan summary", sink.planTaskCount, sink.planCheckpoints, sink.planMessage)
	}
}

func TestDispatchToolsFormatsSuccessAndFailureObservations(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(echoTool{})
	registry.Register(failingTool{})
	e := &Executor{deps: Dependencies{Tools: registry}}

	calls := []llm.ToolCall{
		{Name: "echo", Args: json.RawMessage(`{"x":1}`), ID: "1"},
		{Name: "fails", Args: json.RawMessage(`{}`), ID: "2"},
	}
	obs := e.dispatchTools(context.Background(), calls)
	if !contains(obs, "[Observation: echo] ✅") {
		t.Fatalf("expected success marker in observation, got %q", obs)
	}
	if !contains(obs, "[Observation: fails] ❌") {
		t.Fatalf("expected failure marker in observation, got %q", obs)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

func TestHandleCheckpointFeedbackContinueResumesAndCompletes(t *testing.T) {
	boardStorage := newMemBoardStorage()
	reply := `{"tasks": [{"name":"confirm","type":"checkpoint","checkpointMessage":"go?"}, {"name":"final","type":"work"}], "summary":"plan"}`
	p := planner.New(config.PlannerConfig{}, testGateway(reply))
	w := worker.New(config.WorkerConfig{}, testGateway("TASK COMPLETE: done"))
	o := orchestrator.New(boardStorage, p, w, eventbus.New(config.KafkaConfig{}))

	if _, err := o.CreatePlan(context.Background(), "s1", "objective", "query", ""); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if _, err := o.ExecuteUntilCheckpoint(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}

	critical := &recordingLayer{}
	coord := storagecoord.New(config.StorageCoordinatorConfig{BatchSize: 1}, critical, &recordingLayer{}, &recordingLayer{})
	e := &Executor{deps: Dependencies{Coordinator: coord}, rollupCounts: map[string]int{}}

	sink := &recordingSink{}
	if err := e.handleCheckpointFeedback(context.Background(), "s1", "yes, continue", o, sink); err != nil {
		t.Fatalf("handle checkpoint feedback: %v", err)
	}
	if sink.completed == "" {
		t.Fatalf("expected a completed turn, got %+v", sink)
	}
	if critical.calls == 0 {
		t.Fatal("expected the final message to be persisted")
	}
}

func TestHandleCheckpointFeedbackCancelAbandonsBoard(t *testing.T) {
	boardStorage := newMemBoardStorage()
	reply := `{"tasks": [{"name":"confirm","type":"checkpoint","checkpointMessage":"go?"}], "summary":"plan"}`
	p := planner.New(config.PlannerConfig{}, testGateway(reply))
	w := worker.New(config.WorkerConfig{}, testGateway("TASK COMPLETE: done"))
	o := orchestrator.New(boardStorage, p, w, eventbus.New(config.KafkaConfig{}))

	if _, err := o.CreatePlan(context.Background(), "s2", "objective", "query", ""); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if _, err := o.ExecuteUntilCheckpoint(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}

	coord := storagecoord.New(config.StorageCoordinatorConfig{BatchSize: 1}, &recordingLayer{}, &recordingLayer{}, &recordingLayer{})
	e := &Executor{deps: Dependencies{Coordinator: coord}, rollupCounts: map[string]int{}}

	sink := &recordingSink{}
	if err := e.handleCheckpointFeedback(context.Background(), "s2", "cancel this", o, sink); err != nil {
		t.Fatalf("handle checkpoint feedback: %v", err)
	}
	if sink.completed != "Task cancelled." {
		t.Fatalf("expected cancellation reply, got %q", sink.completed)
	}
	if boardStorage.boards["s2"] != nil {
		t.Fatal("expected board to be deleted from storage")
	}
}
