package task

import "testing"

func TestTaskSupportsAction(t *testing.T) {
	tk := &Task{SupportedActions: []Action{ActionWebSearch, ActionMemorySearch}}
	if !tk.SupportsAction(ActionWebSearch) {
		t.Fatal("expected web_search to be supported")
	}
	if tk.SupportsAction(ActionCodeExecution) {
		t.Fatal("expected code_execution to be unsupported")
	}
}

func TestBoardCurrentAndDone(t *testing.T) {
	b := NewBoard("s1", "objective", "")
	b.Tasks = []*Task{{ID: "a"}, {ID: "b"}}

	if b.Done() {
		t.Fatal("expected not done at idx 0")
	}
	if b.Current().ID != "a" {
		t.Fatalf("expected current task a, got %v", b.Current())
	}

	b.CurrentIdx = 2
	if !b.Done() {
		t.Fatal("expected done once idx reaches len(tasks)")
	}
	if b.Current() != nil {
		t.Fatal("expected nil current task past the end")
	}
}

func TestBoardProgress(t *testing.T) {
	b := NewBoard("s1", "objective", "")
	b.Tasks = []*Task{
		{Status: StatusComplete},
		{Status: StatusComplete},
		{Status: StatusPending},
		{Status: StatusFailed},
	}
	if got := b.Progress(); got != 50 {
		t.Fatalf("expected 50%%, got %d", got)
	}
}

func TestBoardProgressEmptyIsZero(t *testing.T) {
	b := NewBoard("s1", "objective", "")
	if got := b.Progress(); got != 0 {
		t.Fatalf("expected 0%% for empty board, got %d", got)
	}
}

func TestBoardDependencyOutputsProjectsOnlyRequested(t *testing.T) {
	b := NewBoard("s1", "objective", "")
	b.Globals = map[string]string{"t1": "out1", "t2": "out2", "t3": "out3"}
	got := b.DependencyOutputs([]string{"t1", "t3"})
	if len(got) != 2 || got["t1"] != "out1" || got["t3"] != "out3" {
		t.Fatalf("unexpected projection: %v", got)
	}
	if _, ok := got["t2"]; ok {
		t.Fatal("expected t2 to be excluded")
	}
}
