// Package orchestrator implements the task-board state machine: it owns
// one TaskBoard per session at a time, drives the Planner and Worker,
// emits typed progress events, suspends at checkpoints, triggers
// replans, and synthesises the final output, per spec.md §4.7.
//
// This is original composition: no single teacher file drives a
// multi-task board state machine. The persistence shape (load-on-first-
// access, save-after-every-transition) follows internal/orchestrator's
// own (now superseded) dedupe-store idiom of a thin storage interface
// wrapping Redis, generalised here to whole-board JSON documents via
// internal/durablelog.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ubix08/orix/internal/eventbus"
	"github.com/ubix08/orix/internal/observability"
	"github.com/ubix08/orix/internal/planner"
	"github.com/ubix08/orix/internal/task"
	"github.com/ubix08/orix/internal/worker"
)

// EventType is the closed set of Orchestrator event kinds, per spec.md §4.7.
type EventType string

const (
	EventPlanCreated      EventType = "plan_created"
	EventTaskStarted      EventType = "task_started"
	EventTaskProgress     EventType = "task_progress"
	EventTaskCompleted    EventType = "task_completed"
	EventTaskFailed       EventType = "task_failed"
	EventCheckpointReached EventType = "checkpoint_reached"
	EventCheckpointResumed EventType = "checkpoint_resumed"
	EventReplanTriggered  EventType = "replan_triggered"
	EventBoardCompleted   EventType = "board_completed"
	EventBoardFailed      EventType = "board_failed"
)

// Event is one Orchestrator notification, passed to subscribed callbacks.
type Event struct {
	Type            EventType
	SessionID       string
	BoardID         string
	Task            *task.Task
	WillRetry       bool
	Message         string
	Payload         map[string]any
	TaskCount       int
	CheckpointCount int
}

// OnEvent receives Orchestrator events as they are generated.
type OnEvent func(Event)

// ExecResult is executeUntilCheckpoint/resumeFromCheckpoint's return shape.
type ExecResult struct {
	Status         string // "checkpoint" | "completed" | "failed"
	CheckpointTask *task.Task
	FinalOutput    string
	Message        string
}

// SessionContext is getSessionContext's return shape, per spec.md §4.7.
type SessionContext struct {
	HasActiveBoard  bool
	Board           *task.Board
	SuggestedAction string // "resume" | "new" | "review_completed"
	GreetingMessage string
	Progress        int
}

// Orchestrator drives one session's TaskBoard at a time.
type Orchestrator struct {
	storage BoardStorage
	planner *planner.Planner
	worker  *worker.Worker
	bus     eventbus.Publisher

	autoReplanOnFailure bool

	board    *task.Board
	handlers []OnEvent
}

// New constructs an Orchestrator over the given Planner, Worker, and
// board storage.
func New(storage BoardStorage, p *planner.Planner, w *worker.Worker, bus eventbus.Publisher) *Orchestrator {
	return &Orchestrator{storage: storage, planner: p, worker: w, bus: bus, autoReplanOnFailure: true}
}

// OnEventFunc subscribes a callback to this Orchestrator's event stream. A
// callback panic is recovered and logged, per spec.md §4.7.
func (o *Orchestrator) OnEventFunc(cb OnEvent) { o.handlers = append(o.handlers, cb) }

func (o *Orchestrator) emit(ctx context.Context, ev Event) {
	for _, h := range o.handlers {
		o.safeCall(ctx, h, ev)
	}
	if o.bus != nil {
		_ = o.bus.Publish(ctx, eventbus.Envelope{SessionID: ev.SessionID, BoardID: ev.BoardID, Type: string(ev.Type), Payload: ev.Payload})
	}
}

func (o *Orchestrator) safeCall(ctx context.Context, h OnEvent, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			observability.LoggerWithTrace(ctx).Error().Interface("panic", r).Msg("orchestrator_event_callback_panicked")
		}
	}()
	h(ev)
}

// currentBoard returns the in-memory board, loading it from storage on
// first access, per spec.md §4.7's "reads always prefer the in-memory
// current board" rule.
func (o *Orchestrator) currentBoard(ctx context.Context, sessionID string) (*task.Board, error) {
	if o.board != nil {
		return o.board, nil
	}
	b, err := o.storage.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	o.board = b
	return b, nil
}

// GetSessionContext reports whether a session has an active board and what
// the Session Executor should suggest to the user, per spec.md §4.7.
func (o *Orchestrator) GetSessionContext(ctx context.Context, sessionID string) (SessionContext, error) {
	b, err := o.currentBoard(ctx, sessionID)
	if err != nil {
		return SessionContext{}, err
	}
	if b == nil {
		return SessionContext{}, nil
	}

	sc := SessionContext{HasActiveBoard: true, Board: b, Progress: b.Progress()}
	switch {
	case b.Status == task.BoardPaused && b.Current() != nil && b.Current().Type == task.TypeCheckpoint:
		sc.SuggestedAction = "resume"
		sc.GreetingMessage = b.Current().CheckpointMessage
	case b.Status == task.BoardCompleted:
		sc.SuggestedAction = "review_completed"
	case b.Status == task.BoardExecuting:
		sc.SuggestedAction = "resume"
		if cur := b.Current(); cur != nil {
			sc.GreetingMessage = fmt.Sprintf("Resuming task %q", cur.Name)
		}
	}
	return sc, nil
}

// CreatePlan calls the Planner, constructs a board, and persists it.
func (o *Orchestrator) CreatePlan(ctx context.Context, sessionID, objective, userQuery, memContext string) (*task.Board, error) {
	plan, err := o.planner.CreatePlan(ctx, planner.PlanInput{Objective: objective, UserQuery: userQuery, Context: memContext})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: create plan: %w", err)
	}
	board := o.planner.CreateBoard(sessionID, objective, memContext, plan)
	o.board = board
	if err := o.storage.Save(ctx, board); err != nil {
		return nil, fmt.Errorf("orchestrator: save board: %w", err)
	}
	o.emit(ctx, Event{Type: EventPlanCreated, SessionID: sessionID, BoardID: board.ID, Message: plan.Summary, TaskCount: len(board.Tasks), CheckpointCount: plan.CheckpointCount})
	return board, nil
}

// ExecuteUntilCheckpoint runs the task-board loop per spec.md §4.7's
// execution state machine, suspending at the first checkpoint task or
// running to completion/failure.
func (o *Orchestrator) ExecuteUntilCheckpoint(ctx context.Context) (ExecResult, error) {
	b := o.board
	if b == nil {
		return ExecResult{}, fmt.Errorf("orchestrator: no active board")
	}

	for b.CurrentIdx < len(b.Tasks) {
		t := b.Tasks[b.CurrentIdx]

		if t.Type == task.TypeCheckpoint {
			t.Status = task.StatusCheckpoint
			b.Status = task.BoardPaused
			b.Touch()
			if err := o.storage.Save(ctx, b); err != nil {
				return ExecResult{}, err
			}
			o.emit(ctx, Event{Type: EventCheckpointReached, SessionID: b.SessionID, BoardID: b.ID, Task: t, Message: t.CheckpointMessage})
			return ExecResult{Status: "checkpoint", CheckpointTask: t}, nil
		}

		o.emit(ctx, Event{Type: EventTaskStarted, SessionID: b.SessionID, BoardID: b.ID, Task: t})
		t.Status = task.StatusRunning
		if err := o.storage.Save(ctx, b); err != nil {
			return ExecResult{}, err
		}

		result, werr := o.worker.Execute(ctx, t, b.Globals, b.DependencyOutputs(t.Dependencies), func(note string) {
			o.emit(ctx, Event{Type: EventTaskProgress, SessionID: b.SessionID, BoardID: b.ID, Task: t, Message: note})
		})

		if werr == nil && result.Success {
			o.completeTask(ctx, b, t, result.Output)
			continue
		}

		if werr == nil && result.NeedsRetry && t.RetryCount < t.MaxRetries {
			t.RetryCount++
			t.Status = task.StatusRetry
			o.emit(ctx, Event{Type: EventTaskFailed, SessionID: b.SessionID, BoardID: b.ID, Task: t, WillRetry: true, Message: result.RetryReason})

			retryResult, rerr := o.worker.RetryWithFeedback(ctx, t, result, result.RetryReason)
			if rerr == nil && retryResult.Success {
				o.completeTask(ctx, b, t, retryResult.Output)
				continue
			}
		}

		t.Status = task.StatusFailed
		o.emit(ctx, Event{Type: EventTaskFailed, SessionID: b.SessionID, BoardID: b.ID, Task: t, WillRetry: false})

		if o.autoReplanOnFailure {
			reason := result.RetryReason
			if reason == "" && werr != nil {
				reason = werr.Error()
			}
			return o.handleReplan(ctx, b, t, reason)
		}
		b.Touch()
		_ = o.storage.Save(ctx, b)
		return ExecResult{Status: "failed"}, nil
	}

	b.Status = task.BoardCompleted
	b.CompletedAt = time.Now()
	b.Touch()
	finalOutput := synthesizeFinalOutput(b)
	if err := o.storage.Save(ctx, b); err != nil {
		return ExecResult{}, err
	}
	o.emit(ctx, Event{Type: EventBoardCompleted, SessionID: b.SessionID, BoardID: b.ID, Message: finalOutput})
	return ExecResult{Status: "completed", FinalOutput: finalOutput}, nil
}

func (o *Orchestrator) completeTask(ctx context.Context, b *task.Board, t *task.Task, output string) {
	t.Status = task.StatusComplete
	t.Result = output
	t.CompletedAt = time.Now()
	b.Globals[t.ID] = output
	o.emit(ctx, Event{Type: EventTaskCompleted, SessionID: b.SessionID, BoardID: b.ID, Task: t})
	b.CurrentIdx++
	b.Touch()
	_ = o.storage.Save(ctx, b)
}

// Abandon marks the current board abandoned and deletes its persisted
// state, used when a user cancels a paused checkpoint rather than
// continuing it.
func (o *Orchestrator) Abandon(ctx context.Context, sessionID string) error {
	if o.board != nil {
		o.board.Status = task.BoardAbandoned
		o.board.Touch()
	}
	o.board = nil
	return o.storage.Delete(ctx, sessionID)
}

// ResumeFromCheckpoint resolves a paused checkpoint task with user
// feedback, per spec.md §4.7.
func (o *Orchestrator) ResumeFromCheckpoint(ctx context.Context, feedback string, approved bool) (ExecResult, error) {
	b := o.board
	if b == nil {
		return ExecResult{}, fmt.Errorf("orchestrator: no active board")
	}
	cur := b.Current()
	if cur == nil || cur.Type != task.TypeCheckpoint {
		return ExecResult{}, fmt.Errorf("orchestrator: current task is not a checkpoint")
	}

	cur.UserFeedback = feedback
	cur.Status = task.StatusComplete
	cur.CompletedAt = time.Now()
	b.CompletedCheckpoints++
	o.emit(ctx, Event{Type: EventCheckpointResumed, SessionID: b.SessionID, BoardID: b.ID, Task: cur, Message: feedback})

	if !approved {
		return o.handleReplan(ctx, b, cur, feedback)
	}

	b.CurrentIdx++
	b.Status = task.BoardExecuting
	b.Touch()
	if err := o.storage.Save(ctx, b); err != nil {
		return ExecResult{}, err
	}
	return o.ExecuteUntilCheckpoint(ctx)
}

// handleReplan asks the Planner for a continuation plan, preserving the
// board's completed-task prefix, per spec.md §4.7.
func (o *Orchestrator) handleReplan(ctx context.Context, b *task.Board, failingTask *task.Task, reason string) (ExecResult, error) {
	b.Status = task.BoardReplanning
	b.Touch()
	o.emit(ctx, Event{Type: EventReplanTriggered, SessionID: b.SessionID, BoardID: b.ID, Task: failingTask, Message: reason})

	plan, err := o.planner.Replan(ctx, planner.ReplanInput{
		Objective:     b.Objective,
		PreviousBoard: b,
		FailureReason: reason,
	})
	if err != nil {
		b.Status = task.BoardPaused
		_ = o.storage.Save(ctx, b)
		return ExecResult{Status: "failed", Message: "Replanning failed"}, nil
	}

	preserved := make([]*task.Task, 0, len(b.Tasks))
	for _, t := range b.Tasks {
		if t.Status == task.StatusComplete {
			preserved = append(preserved, t)
		}
	}
	b.Tasks = append(preserved, plan.Tasks...)
	b.CurrentIdx = len(preserved)
	b.Status = task.BoardExecuting
	b.TotalCheckpoints = b.CompletedCheckpoints + plan.CheckpointCount
	b.Touch()
	if err := o.storage.Save(ctx, b); err != nil {
		return ExecResult{}, err
	}
	return o.ExecuteUntilCheckpoint(ctx)
}

// synthesizeFinalOutput prefers the last synthesis-typed task's result;
// otherwise it concatenates every completed work task's output in order,
// per spec.md §4.7.
func synthesizeFinalOutput(b *task.Board) string {
	for i := len(b.Tasks) - 1; i >= 0; i-- {
		t := b.Tasks[i]
		if t.Type == task.TypeSynthesis && t.Status == task.StatusComplete {
			return t.Result
		}
	}

	var parts []string
	for _, t := range b.Tasks {
		if t.Type == task.TypeWork && t.Status == task.StatusComplete {
			parts = append(parts, "## "+t.Name+"\n\n"+t.Result)
		}
	}
	return strings.Join(parts, "\n\n")
}
