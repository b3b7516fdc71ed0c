package planner

import (
	"context"
	"testing"

	"github.com/ubix08/orix/internal/config"
	"github.com/ubix08/orix/internal/llm"
	"github.com/ubix08/orix/internal/task"
)

// scriptedProvider returns a fixed response regardless of input, enough to
// drive the planner's JSON-parsing/normalisation path without a live model.
type scriptedProvider struct {
	reply string
	err   error
}

func (s *scriptedProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	if s.err != nil {
		return llm.Message{}, s.err
	}
	return llm.Message{Role: "assistant", Content: s.reply}, nil
}

func (s *scriptedProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return s.err
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.LLM.RetryAttempts = 1
	cfg.LLM.CallTimeoutSec = 5
	return cfg
}

func newTestPlanner(reply string) *Planner {
	gw := llm.NewGateway(testConfig(), &scriptedProvider{reply: reply})
	return New(config.PlannerConfig{}, gw)
}

func TestAssessReturnsNotComplexOnModelFailure(t *testing.T) {
	gw := llm.NewGateway(testConfig(), &scriptedProvider{err: context.DeadlineExceeded})
	p := New(config.PlannerConfig{}, gw)

	got := p.Assess(context.Background(), "what time is it")
	if got.IsComplex {
		t.Fatal("expected IsComplex=false when the model call fails")
	}
}

func TestAssessParsesModelJSON(t *testing.T) {
	p := newTestPlanner(`{"isComplex": true, "reason": "multi-step", "suggestedApproach": "planned", "estimatedTasks": 4}`)
	got := p.Assess(context.Background(), "build me a research report")
	if !got.IsComplex || got.SuggestedApproach != "planned" || got.EstimatedTasks != 4 {
		t.Fatalf("unexpected assessment: %+v", got)
	}
}

func TestCreatePlanNormalizesDefaults(t *testing.T) {
	reply := `{"tasks": [{"name": "step one"}, {"id": "t2", "workerRole": "coder"}], "summary": "plan", "checkpointCount": 0}`
	p := newTestPlanner(reply)

	result, err := p.CreatePlan(context.Background(), PlanInput{Objective: "do a thing"})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if len(result.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(result.Tasks))
	}
	if result.Tasks[0].ID != "task_0" {
		t.Fatalf("expected missing id defaulted to task_0, got %q", result.Tasks[0].ID)
	}
	if result.Tasks[0].WorkerRole != task.RoleSynthesizer {
		t.Fatalf("expected missing role defaulted to synthesizer, got %q", result.Tasks[0].WorkerRole)
	}
	if result.Tasks[0].MaxRetries != 2 {
		t.Fatalf("expected default maxRetries 2, got %d", result.Tasks[0].MaxRetries)
	}
	if result.Tasks[1].WorkerRole != task.RoleCoder {
		t.Fatalf("expected explicit role preserved, got %q", result.Tasks[1].WorkerRole)
	}
}

func TestCreatePlanClampsToMaxTasks(t *testing.T) {
	reply := `{"tasks": [{"name":"1"},{"name":"2"},{"name":"3"},{"name":"4"}], "summary": "plan"}`
	gw := llm.NewGateway(testConfig(), &scriptedProvider{reply: reply})
	p := New(config.PlannerConfig{MaxTasks: 2}, gw)

	result, err := p.CreatePlan(context.Background(), PlanInput{Objective: "x"})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if len(result.Tasks) != 2 {
		t.Fatalf("expected clamp to 2 tasks, got %d", len(result.Tasks))
	}
}

func TestCreateBoardFillsInDefaults(t *testing.T) {
	p := newTestPlanner(`{}`)
	plan := PlanResult{Tasks: []*task.Task{{ID: "t1"}}, CheckpointCount: 2}
	board := p.CreateBoard("session-1", "objective", "ctx", plan)

	if board.SessionID != "session-1" || board.Status != task.BoardExecuting {
		t.Fatalf("unexpected board: %+v", board)
	}
	if board.CurrentIdx != 0 || board.TotalCheckpoints != 2 {
		t.Fatalf("unexpected board state: %+v", board)
	}
}
