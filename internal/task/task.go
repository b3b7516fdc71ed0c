// Package task implements the Task/TaskBoard data model: the atomic unit
// of planned work and the per-session execution plan that sequences it,
// per spec.md §3.
//
// Grounded on internal/agent/types.go's closed-enum style (Step/
// Observation as plain structs with a small named-constant set) — Role
// and Status here follow the same string-enum idiom.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of task kinds.
type Type string

const (
	TypeWork      Type = "work"
	TypeCheckpoint Type = "checkpoint"
	TypeSynthesis Type = "synthesis"
)

// Role is the closed set of worker roles a task may be assigned to.
type Role string

const (
	RoleResearcher   Role = "researcher"
	RoleWriter       Role = "writer"
	RoleCoder        Role = "coder"
	RoleAnalyst      Role = "analyst"
	RoleEditor       Role = "editor"
	RoleSEOSpecialist Role = "seo_specialist"
	RoleDataProcessor Role = "data_processor"
	RoleSynthesizer  Role = "synthesizer"
)

// Action is one of the closed set of provider-native or memory actions a
// task may request.
type Action string

const (
	ActionWebSearch     Action = "web_search"
	ActionCodeExecution Action = "code_execution"
	ActionMemorySearch  Action = "memory_search"
	ActionWebFetch      Action = "web_fetch"
)

// Status is the closed set of task lifecycle states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCheckpoint Status = "checkpoint"
	StatusRetry      Status = "retry"
	StatusFailed     Status = "failed"
	StatusComplete   Status = "complete"
)

// Complexity is the closed set of estimated-effort buckets.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Task is the atomic unit of planned work, per spec.md §3.
type Task struct {
	ID                 string
	Name                string
	Description         string
	Type                Type
	WorkerRole          Role
	Instruction         string
	SupportedActions    []Action
	Dependencies        []string
	Status              Status
	Result              string
	RetryCount          int
	MaxRetries          int
	UserFeedback        string
	CheckpointMessage   string
	EstimatedComplexity Complexity
	CreatedAt           time.Time
	CompletedAt         time.Time
}

// NewID returns a fresh task identifier.
func NewID() string { return uuid.NewString() }

// SupportsAction reports whether t may invoke the given action.
func (t *Task) SupportsAction(a Action) bool {
	for _, have := range t.SupportedActions {
		if have == a {
			return true
		}
	}
	return false
}

// Board status, per spec.md §3's TaskBoard.
type BoardStatus string

const (
	BoardPlanning   BoardStatus = "planning"
	BoardExecuting  BoardStatus = "executing"
	BoardPaused     BoardStatus = "paused"
	BoardReplanning BoardStatus = "replanning"
	BoardCompleted  BoardStatus = "completed"
	BoardAbandoned  BoardStatus = "abandoned"
)

// Board is the execution plan for one user objective, per spec.md §3.
type Board struct {
	ID                   string
	SessionID            string
	Objective            string
	Context              string
	Tasks                []*Task
	CurrentIdx           int
	Globals              map[string]string
	Status               BoardStatus
	CreatedAt            time.Time
	UpdatedAt            time.Time
	CompletedAt          time.Time
	TotalCheckpoints     int
	CompletedCheckpoints int
}

// NewBoard constructs an empty board ready to receive a plan's tasks.
func NewBoard(sessionID, objective, context string) *Board {
	now := time.Now()
	return &Board{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Objective:  objective,
		Context:    context,
		Globals:    make(map[string]string),
		Status:     BoardPlanning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Current returns the task at CurrentIdx, or nil if the board has run off
// the end of its task list.
func (b *Board) Current() *Task {
	if b.CurrentIdx < 0 || b.CurrentIdx >= len(b.Tasks) {
		return nil
	}
	return b.Tasks[b.CurrentIdx]
}

// Done reports whether every task has been walked past.
func (b *Board) Done() bool { return b.CurrentIdx >= len(b.Tasks) }

// Progress returns the percentage (0-100) of tasks in a terminal complete
// state, per spec.md §4.7's getSessionContext.
func (b *Board) Progress() int {
	if len(b.Tasks) == 0 {
		return 0
	}
	complete := 0
	for _, t := range b.Tasks {
		if t.Status == StatusComplete {
			complete++
		}
	}
	return 100 * complete / len(b.Tasks)
}

// DependencyOutputs projects Globals onto deps, keyed by dependency id;
// deps with no entry in Globals are left out. The result is a map and
// carries no order.
func (b *Board) DependencyOutputs(deps []string) map[string]string {
	out := make(map[string]string, len(deps))
	for _, d := range deps {
		if v, ok := b.Globals[d]; ok {
			out[d] = v
		}
	}
	return out
}

// Touch advances UpdatedAt to now; callers invoke this on every mutation
// before persisting the board.
func (b *Board) Touch() { b.UpdatedAt = time.Now() }
