// Package planner implements complexity assessment, plan generation, and
// replanning: the model-driven operations that turn a user objective into
// a typed Task list, per spec.md §4.3.
//
// Grounded on internal/agent/planner.go's LLMPlanner.Plan (chat-completion
// call, JSON-unmarshal into a task list, deterministic id assignment) for
// the model-call shape. The tolerant JSON pipeline follows the
// try-strict-then-degrade idiom of internal/agent/memory/manager.go's
// decodeDualSummary.
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/ubix08/orix/internal/config"
	"github.com/ubix08/orix/internal/llm"
	"github.com/ubix08/orix/internal/observability"
	"github.com/ubix08/orix/internal/task"
)

// Assessment is assess's return shape.
type Assessment struct {
	IsComplex         bool
	Reason            string
	SuggestedApproach string // "direct" | "planned"
	EstimatedTasks    int
}

// PlanInput is createPlan's argument bundle.
type PlanInput struct {
	Objective string
	UserQuery string
	Context   string
}

// PlanResult is createPlan/replan's return shape.
type PlanResult struct {
	Tasks           []*task.Task
	Summary         string
	EstimatedTime   string
	CheckpointCount int
}

// ReplanInput is replan's argument bundle.
type ReplanInput struct {
	Objective     string
	PreviousBoard *task.Board
	FailureReason string
	UserFeedback  string
}

// roles is the closed set enumerated in the plan-generation system prompt.
var roles = []task.Role{
	task.RoleResearcher, task.RoleWriter, task.RoleCoder, task.RoleAnalyst,
	task.RoleEditor, task.RoleSEOSpecialist, task.RoleDataProcessor, task.RoleSynthesizer,
}

// roleActions documents the supported actions per role for the prompt.
var roleActions = map[task.Role][]task.Action{
	task.RoleResearcher:    {task.ActionWebSearch, task.ActionWebFetch, task.ActionMemorySearch},
	task.RoleWriter:        {task.ActionMemorySearch},
	task.RoleCoder:         {task.ActionCodeExecution, task.ActionMemorySearch},
	task.RoleAnalyst:       {task.ActionCodeExecution, task.ActionMemorySearch},
	task.RoleEditor:        {task.ActionMemorySearch},
	task.RoleSEOSpecialist: {task.ActionWebSearch, task.ActionMemorySearch},
	task.RoleDataProcessor: {task.ActionCodeExecution, task.ActionMemorySearch},
	task.RoleSynthesizer:   {task.ActionMemorySearch},
}

// Planner is the planning capability set.
type Planner struct {
	gateway *llm.Gateway
	cfg     config.PlannerConfig
}

// New constructs a Planner over the given Model Gateway.
func New(cfg config.PlannerConfig, gateway *llm.Gateway) *Planner {
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = 15
	}
	if cfg.MaxConsecutiveWork <= 0 {
		cfg.MaxConsecutiveWork = 4
	}
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = 2
	}
	return &Planner{gateway: gateway, cfg: cfg}
}

const assessSystemPrompt = `You are a routing classifier for a task-execution system. Given a user query, decide whether it needs a multi-step plan or a single direct response.
Respond with a strict JSON object: {"isComplex": bool, "reason": string, "suggestedApproach": "direct"|"planned", "estimatedTasks": number}.`

// Assess classifies a user query's complexity. On model failure it returns
// {IsComplex: false} — when in doubt, answer directly — per spec.md §4.3.
func (p *Planner) Assess(ctx context.Context, userQuery string) Assessment {
	history := []llm.Message{
		{Role: "system", Content: assessSystemPrompt},
		{Role: "user", Content: userQuery},
	}
	result, err := p.gateway.GenerateWithTools(ctx, history, nil, llm.GenerateOptions{}, nil)
	if err != nil {
		return Assessment{IsComplex: false}
	}

	var raw struct {
		IsComplex         bool   `json:"isComplex"`
		Reason            string `json:"reason"`
		SuggestedApproach string `json:"suggestedApproach"`
		EstimatedTasks    int    `json:"estimatedTasks"`
	}
	if err := tolerantUnmarshal(result.Text, &raw); err != nil {
		return Assessment{IsComplex: false}
	}
	return Assessment{
		IsComplex:         raw.IsComplex,
		Reason:            raw.Reason,
		SuggestedApproach: raw.SuggestedApproach,
		EstimatedTasks:    raw.EstimatedTasks,
	}
}

// rawTask is the plan-generation model response's per-task shape, prior to
// normalisation/defaulting.
type rawTask struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	Type                string   `json:"type"`
	WorkerRole          string   `json:"workerRole"`
	Instruction         string   `json:"instruction"`
	SupportedActions    []string `json:"supportedActions"`
	Dependencies        []string `json:"dependencies"`
	EstimatedComplexity string   `json:"estimatedComplexity"`
	MaxRetries          *int     `json:"maxRetries"`
	CheckpointMessage   string   `json:"checkpointMessage"`
}

type rawPlan struct {
	Tasks           []rawTask `json:"tasks"`
	Summary         string    `json:"summary"`
	EstimatedTime   string    `json:"estimatedTime"`
	CheckpointCount int       `json:"checkpointCount"`
}

func (p *Planner) planSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a planning system that decomposes a user objective into an ordered task list.\n\n")
	b.WriteString("Available roles and their supported actions:\n")
	for _, r := range roles {
		actions := make([]string, len(roleActions[r]))
		for i, a := range roleActions[r] {
			actions[i] = string(a)
		}
		fmt.Fprintf(&b, "- %s: %s\n", r, strings.Join(actions, ", "))
	}
	fmt.Fprintf(&b, "\nNo more than %d consecutive work tasks may appear without a checkpoint task between them.\n", p.cfg.MaxConsecutiveWork)
	b.WriteString("Respond with a strict JSON object: {\"tasks\": [...], \"summary\": string, \"estimatedTime\": string, \"checkpointCount\": number}.\n")
	b.WriteString("Each task: {id, name, description, type: \"work\"|\"checkpoint\"|\"synthesis\", workerRole, instruction, supportedActions, dependencies, estimatedComplexity: \"low\"|\"medium\"|\"high\", maxRetries, checkpointMessage}.")
	return b.String()
}

// CreatePlan prompts the model for a decomposed task list, normalises it,
// and returns it for board construction.
func (p *Planner) CreatePlan(ctx context.Context, input PlanInput) (PlanResult, error) {
	user := fmt.Sprintf("Objective: %s\nOriginal query: %s\nContext:\n%s", input.Objective, input.UserQuery, input.Context)
	history := []llm.Message{
		{Role: "system", Content: p.planSystemPrompt()},
		{Role: "user", Content: user},
	}
	result, err := p.gateway.GenerateWithTools(ctx, history, nil, llm.GenerateOptions{}, nil)
	if err != nil {
		return PlanResult{}, fmt.Errorf("planner: create plan: %w", err)
	}

	var raw rawPlan
	if err := tolerantUnmarshal(result.Text, &raw); err != nil {
		return PlanResult{}, fmt.Errorf("planner: parse plan: %w", err)
	}

	return p.normalize(ctx, raw), nil
}

// normalize applies id/role/maxRetries defaulting, clamps the task list to
// MaxTasks, and warns (without rejecting) when the consecutive-work-task
// limit is exceeded.
func (p *Planner) normalize(ctx context.Context, raw rawPlan) PlanResult {
	log := observability.LoggerWithTrace(ctx)

	tasks := raw.Tasks
	if len(tasks) > p.cfg.MaxTasks {
		log.Warn().Int("count", len(tasks)).Int("max", p.cfg.MaxTasks).Msg("planner_clamping_task_list")
		tasks = tasks[:p.cfg.MaxTasks]
	}

	out := make([]*task.Task, len(tasks))
	consecutiveWork := 0
	for i, rt := range tasks {
		id := rt.ID
		if id == "" {
			id = fmt.Sprintf("task_%d", i)
		}
		role := task.Role(rt.WorkerRole)
		if !validRole(role) {
			role = task.RoleSynthesizer
		}
		maxRetries := p.cfg.DefaultMaxRetries
		if rt.MaxRetries != nil {
			maxRetries = *rt.MaxRetries
		}
		tType := task.Type(rt.Type)
		if tType == "" {
			tType = task.TypeWork
		}

		if tType == task.TypeWork {
			consecutiveWork++
			if consecutiveWork > p.cfg.MaxConsecutiveWork {
				log.Warn().Int("index", i).Msg("planner_consecutive_work_limit_exceeded")
			}
		} else {
			consecutiveWork = 0
		}

		actions := make([]task.Action, 0, len(rt.SupportedActions))
		for _, a := range rt.SupportedActions {
			actions = append(actions, task.Action(a))
		}

		out[i] = &task.Task{
			ID:                  id,
			Name:                rt.Name,
			Description:         rt.Description,
			Type:                tType,
			WorkerRole:          role,
			Instruction:         rt.Instruction,
			SupportedActions:    actions,
			Dependencies:        rt.Dependencies,
			Status:              task.StatusPending,
			MaxRetries:          maxRetries,
			CheckpointMessage:   rt.CheckpointMessage,
			EstimatedComplexity: task.Complexity(rt.EstimatedComplexity),
		}
	}

	return PlanResult{Tasks: out, Summary: raw.Summary, EstimatedTime: raw.EstimatedTime, CheckpointCount: raw.CheckpointCount}
}

func validRole(r task.Role) bool {
	for _, candidate := range roles {
		if candidate == r {
			return true
		}
	}
	return false
}

// Replan asks the model for a continuation plan given a failure, preserving
// the board's completed-task prefix in the prompt context.
func (p *Planner) Replan(ctx context.Context, input ReplanInput) (PlanResult, error) {
	var completed strings.Builder
	if input.PreviousBoard != nil {
		for _, t := range input.PreviousBoard.Tasks {
			if t.Status == task.StatusComplete {
				fmt.Fprintf(&completed, "- %s: %s\n", t.Name, t.Result)
			}
		}
	}

	user := fmt.Sprintf(
		"Objective: %s\nCompleted so far:\n%s\nFailure reason: %s\nUser feedback: %s\nProduce a continuation plan for the remaining work.",
		input.Objective, completed.String(), input.FailureReason, input.UserFeedback,
	)
	history := []llm.Message{
		{Role: "system", Content: p.planSystemPrompt()},
		{Role: "user", Content: user},
	}
	result, err := p.gateway.GenerateWithTools(ctx, history, nil, llm.GenerateOptions{}, nil)
	if err != nil {
		return PlanResult{}, fmt.Errorf("planner: replan: %w", err)
	}

	var raw rawPlan
	if err := tolerantUnmarshal(result.Text, &raw); err != nil {
		return PlanResult{}, fmt.Errorf("planner: parse replan: %w", err)
	}
	return p.normalize(ctx, raw), nil
}

// CreateBoard fills in a fresh TaskBoard from a generated plan, per
// spec.md §4.3's createBoard.
func (p *Planner) CreateBoard(sessionID, objective, context string, plan PlanResult) *task.Board {
	b := task.NewBoard(sessionID, objective, context)
	b.Tasks = plan.Tasks
	b.Status = task.BoardExecuting
	b.CurrentIdx = 0
	b.TotalCheckpoints = plan.CheckpointCount
	return b
}
