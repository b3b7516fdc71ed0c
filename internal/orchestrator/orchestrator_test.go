package orchestrator

import (
	"context"
	"testing"

	"github.com/ubix08/orix/internal/config"
	"github.com/ubix08/orix/internal/eventbus"
	"github.com/ubix08/orix/internal/llm"
	"github.com/ubix08/orix/internal/planner"
	"github.com/ubix08/orix/internal/task"
	"github.com/ubix08/orix/internal/worker"
)

// memStorage is an in-memory BoardStorage fake, keyed by session id.
type memStorage struct {
	boards map[string]*task.Board
}

func newMemStorage() *memStorage { return &memStorage{boards: make(map[string]*task.Board)} }

func (m *memStorage) Load(ctx context.Context, sessionID string) (*task.Board, error) {
	return m.boards[sessionID], nil
}

func (m *memStorage) Save(ctx context.Context, board *task.Board) error {
	m.boards[board.SessionID] = board
	return nil
}

func (m *memStorage) Delete(ctx context.Context, sessionID string) error {
	delete(m.boards, sessionID)
	return nil
}

// scriptedProvider replays a fixed reply sequence across Chat calls, for
// the planner and worker gateways independently.
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

func TestCreatePlanPersistsBoard(t *testing.T) {
	storage := newMemStorage()
	p := planner.New(config.PlannerConfig{}, testGateway(`{"tasks": [{"name":"step one","type":"work"}], "summary":"plan"}`))
	w := worker.New(config.WorkerConfig{}, testGateway("TASK COMPLETE: done"))
	o := New(storage, p, w, eventbus.New(config.KafkaConfig{}))

	board, err := o.CreatePlan(context.Background(), "sess-1", "objective", "query", "")
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if board.Status != task.BoardExecuting || len(board.Tasks) != 1 {
		t.Fatalf("unexpected board: %+v", board)
	}
	if storage.boards["sess-1"] == nil {
		t.Fatal("expected board to be persisted")
	}
}

func TestExecuteUntilCheckpointRunsToCompletion(t *testing.T) {
	storage := newMemStorage()
	p := planner.New(config.PlannerConfig{}, testGateway(`{"tasks": [{"name":"only task","type":"work"}], "summary":"plan"}`))
	w := worker.New(config.WorkerConfig{}, testGateway("TASK COMPLETE: the output"))
	o := New(storage, p, w, eventbus.New(config.KafkaConfig{}))

	var events []EventType
	o.OnEventFunc(func(ev Event) { events = append(events, ev.Type) })

	if _, err := o.CreatePlan(context.Background(), "sess-1", "objective", "query", ""); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	result, err := o.ExecuteUntilCheckpoint(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != "completed" {
		t.Fatalf("expected completed, got %+v", result)
	}
	if result.FinalOutput == "" {
		t.Fatal("expected non-empty final output")
	}

	found := map[EventType]bool{}
	for _, e := range events {
		found[e] = true
	}
	if !found[EventPlanCreated] || !found[EventTaskStarted] || !found[EventTaskCompleted] || !found[EventBoardCompleted] {
		t.Fatalf("missing expected events: %+v", events)
	}
}

func TestExecuteUntilCheckpointSuspendsAtCheckpoint(t *testing.T) {
	storage := newMemStorage()
	reply := `{"tasks": [{"name":"work task","type":"work"}, {"name":"confirm","type":"checkpoint","checkpointMessage":"ok to continue?"}], "summary":"plan"}`
	p := planner.New(config.PlannerConfig{}, testGateway(reply))
	w := worker.New(config.WorkerConfig{}, testGateway("TASK COMPLETE: step one done"))
	o := New(storage, p, w, eventbus.New(config.KafkaConfig{}))

	if _, err := o.CreatePlan(context.Background(), "sess-1", "objective", "query", ""); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	result, err := o.ExecuteUntilCheckpoint(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != "checkpoint" || result.CheckpointTask == nil {
		t.Fatalf("expected checkpoint suspension, got %+v", result)
	}
	if result.CheckpointTask.CheckpointMessage != "ok to continue?" {
		t.Fatalf("unexpected checkpoint message: %+v", result.CheckpointTask)
	}
	if storage.boards["sess-1"].Status != task.BoardPaused {
		t.Fatalf("expected persisted board to be paused, got %q", storage.boards["sess-1"].Status)
	}
}

func TestResumeFromCheckpointApprovedContinues(t *testing.T) {
	storage := newMemStorage()
	reply := `{"tasks": [{"name":"confirm","type":"checkpoint","checkpointMessage":"go?"}, {"name":"final step","type":"work"}], "summary":"plan"}`
	p := planner.New(config.PlannerConfig{}, testGateway(reply))
	w := worker.New(config.WorkerConfig{}, testGateway("TASK COMPLETE: finished"))
	o := New(storage, p, w, eventbus.New(config.KafkaConfig{}))

	if _, err := o.CreatePlan(context.Background(), "sess-1", "objective", "query", ""); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if _, err := o.ExecuteUntilCheckpoint(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}

	result, err := o.ResumeFromCheckpoint(context.Background(), "yes, continue", true)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if result.Status != "completed" {
		t.Fatalf("expected completed after resume, got %+v", result)
	}
}

func TestGetSessionContextReportsNoActiveBoard(t *testing.T) {
	storage := newMemStorage()
	p := planner.New(config.PlannerConfig{}, testGateway(`{}`))
	w := worker.New(config.WorkerConfig{}, testGateway("TASK COMPLETE: x"))
	o := New(storage, p, w, eventbus.New(config.KafkaConfig{}))

	sc, err := o.GetSessionContext(context.Background(), "unknown-session")
	if err != nil {
		t.Fatalf("get session context: %v", err)
	}
	if sc.HasActiveBoard {
		t.Fatal("expected no active board")
	}
}

func TestSynthesizeFinalOutputPrefersSynthesisTask(t *testing.T) {
	b := &task.Board{Tasks: []*task.Task{
		{Type: task.TypeWork, Status: task.StatusComplete, Name: "a", Result: "output a"},
		{Type: task.TypeSynthesis, Status: task.StatusComplete, Name: "final", Result: "the synthesized answer"},
	}}
	if got := synthesizeFinalOutput(b); got != "the synthesized answer" {
		t.Fatalf("expected synthesis result preferred, got %q", got)
	}
}

func TestSynthesizeFinalOutputConcatenatesWorkTasks(t *testing.T) {
	b := &task.Board{Tasks: []*task.Task{
		{Type: task.TypeWork, Status: task.StatusComplete, Name: "first", Result: "one"},
		{Type: task.TypeWork, Status: task.StatusComplete, Name: "second", Result: "two"},
	}}
	got := synthesizeFinalOutput(b)
	if got != "## first\n\none\n\n## second\n\ntwo" {
		t.Fatalf("unexpected concatenation: %q", got)
	}
}
