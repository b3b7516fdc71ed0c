// Package worker executes one Task in isolation via a bounded reason-act
// loop with self-assessment and retry-with-feedback, per spec.md §4.4.
//
// Grounded on internal/agent/engine.go's runLoop (the turn-bounded
// call-then-inspect loop structure, "Continue with your task."-style
// continuation turn) though the marker-driven completion/blocked
// detection and self-assessment stages are new composition required by
// spec.md §4.4 (no teacher file gates loop exit on inline text markers).
package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/ubix08/orix/internal/config"
	"github.com/ubix08/orix/internal/llm"
	"github.com/ubix08/orix/internal/task"
)

// Result is Execute/RetryWithFeedback's return shape, per spec.md §4.4.
type Result struct {
	Success     bool
	NeedsRetry  bool
	RetryReason string
	Output      string
}

// ProgressFunc receives a human-readable progress note during execution.
type ProgressFunc func(note string)

// Worker executes tasks via the Model Gateway.
type Worker struct {
	gateway *llm.Gateway
	cfg     config.WorkerConfig
}

// New constructs a Worker over the given Model Gateway.
func New(cfg config.WorkerConfig, gateway *llm.Gateway) *Worker {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 5
	}
	if cfg.MaxTurnsRetry <= 0 {
		cfg.MaxTurnsRetry = 7
	}
	return &Worker{gateway: gateway, cfg: cfg}
}

// Execute runs t to completion (or definitive failure), given the board's
// globals and the subset of dependency outputs t.Dependencies names.
func (w *Worker) Execute(ctx context.Context, t *task.Task, globals, depOutputs map[string]string, onProgress ProgressFunc) (Result, error) {
	return w.run(ctx, t, globals, depOutputs, w.cfg.MaxTurns, onProgress)
}

// RetryWithFeedback re-invokes the worker on t after augmenting its
// instruction with the prior attempt's feedback and output, using the
// extended retry turn budget.
func (w *Worker) RetryWithFeedback(ctx context.Context, t *task.Task, lastResult Result, feedback string) (Result, error) {
	augmented := *t
	augmented.Instruction = fmt.Sprintf(
		"%s\n\nPrevious attempt's output:\n%s\n\nFeedback to address:\n%s",
		t.Instruction, lastResult.Output, feedback,
	)
	return w.run(ctx, &augmented, nil, nil, w.cfg.MaxTurnsRetry, nil)
}

func (w *Worker) run(ctx context.Context, t *task.Task, globals, depOutputs map[string]string, maxTurns int, onProgress ProgressFunc) (Result, error) {
	transcript := []llm.Message{
		{Role: "system", Content: rolePrompt(t.WorkerRole)},
		{Role: "user", Content: executionPrompt(t, globals, depOutputs)},
	}

	opts := llm.GenerateOptions{
		UseSearch:        t.SupportsAction(task.ActionWebSearch),
		UseCodeExecution: t.SupportsAction(task.ActionCodeExecution),
	}

	for turn := 0; turn < maxTurns; turn++ {
		result, err := w.gateway.GenerateWithTools(ctx, transcript, nil, opts, nil)
		if err != nil {
			return Result{Success: false, NeedsRetry: turn < 1}, nil
		}
		transcript = append(transcript, llm.Message{Role: "assistant", Content: result.Text})
		if onProgress != nil {
			onProgress(fmt.Sprintf("turn %d: %s", turn+1, truncateForProgress(result.Text)))
		}

		if candidate, ok := findMarker(result.Text, completionMarkers); ok {
			assessed, done := w.selfAssess(ctx, candidate, maxTurns-turn-1)
			if done {
				return assessed, nil
			}
			transcript = append(transcript, llm.Message{Role: "user", Content: "Issues to address: " + assessed.RetryReason})
			continue
		}

		if reason, ok := findMarker(result.Text, blockedMarkers); ok {
			return Result{Success: false, NeedsRetry: true, RetryReason: firstLine(reason)}, nil
		}

		transcript = append(transcript, llm.Message{Role: "user", Content: "Continue with your task."})
	}

	return Result{Success: false, NeedsRetry: true, RetryReason: "exceeded maximum turns without a completion marker"}, nil
}

// selfAssessPrompt is the fixed prompt used to judge a candidate output,
// per spec.md §4.4.
const selfAssessPrompt = `Judge whether the following candidate output satisfactorily completes the task. Respond with a strict JSON object: {"satisfactory": bool, "issues": [string], "suggestions": [string]}.

Candidate output:
%s`

type assessment struct {
	Satisfactory bool     `json:"satisfactory"`
	Issues       []string `json:"issues"`
	Suggestions  []string `json:"suggestions"`
}

// selfAssess judges a candidate output. It returns (result, true) when the
// caller should stop (success, or failure with no turns remaining), and
// (result, false) when the caller should inject feedback and continue the
// turn loop.
func (w *Worker) selfAssess(ctx context.Context, candidate string, turnsRemaining int) (Result, bool) {
	if len(candidate) <= 50 {
		return Result{Success: true, Output: candidate}, true
	}

	prompt := []llm.Message{
		{Role: "user", Content: fmt.Sprintf(selfAssessPrompt, candidate)},
	}
	result, err := w.gateway.GenerateWithTools(ctx, prompt, nil, llm.GenerateOptions{}, nil)
	if err != nil {
		// The assessment call itself failed; treat the output as satisfactory.
		return Result{Success: true, Output: candidate}, true
	}

	var a assessment
	if err := parseAssessment(result.Text, &a); err != nil {
		return Result{Success: true, Output: candidate}, true
	}
	if a.Satisfactory {
		return Result{Success: true, Output: candidate}, true
	}

	issues := strings.Join(a.Issues, "; ")
	if turnsRemaining <= 0 {
		return Result{Success: false, NeedsRetry: true, RetryReason: issues, Output: candidate}, true
	}
	return Result{RetryReason: issues, Output: candidate}, false
}

func executionPrompt(t *task.Task, globals, depOutputs map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n%s\n\nInstruction:\n%s\n", t.Name, t.Description, t.Instruction)
	if len(depOutputs) > 0 {
		b.WriteString("\nDependency outputs:\n")
		for id, out := range depOutputs {
			fmt.Fprintf(&b, "- %s: %s\n", id, out)
		}
	}
	if len(globals) > 0 {
		b.WriteString("\nPrior task outputs:\n")
		for id, out := range globals {
			fmt.Fprintf(&b, "- %s: %s\n", id, out)
		}
	}
	return b.String()
}

func truncateForProgress(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
