// Package session implements the Session Executor: the single entry
// point for a user turn, per spec.md §4.8. It wires the Storage
// Coordinator, Memory Manager, Planner, Orchestrator, and Model Gateway
// together behind one per-session critical section.
//
// Grounded on internal/agent/engine.go's runStreamLoop (the turn-bounded
// call/dispatch-tools/append loop, streamHandler's onDelta/onToolCall
// wiring) for the direct reason-act loop's shape, translated here from a
// provider-facing callback struct to this package's own Sink interface.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ubix08/orix/internal/archive"
	"github.com/ubix08/orix/internal/config"
	"github.com/ubix08/orix/internal/eventbus"
	"github.com/ubix08/orix/internal/llm"
	"github.com/ubix08/orix/internal/memory"
	"github.com/ubix08/orix/internal/observability"
	"github.com/ubix08/orix/internal/orchestrator"
	"github.com/ubix08/orix/internal/planner"
	"github.com/ubix08/orix/internal/storagecoord"
	"github.com/ubix08/orix/internal/task"
	"github.com/ubix08/orix/internal/tools"
	"github.com/ubix08/orix/internal/worker"
)

// FileRef is an attached file reference, per spec.md §6's user_message frame.
type FileRef struct {
	Data     []byte
	MIMEType string
	Name     string
}

// Sink receives server→client frames for one turn, per spec.md §6. The
// Boundary Transport implements this; the Session Executor never knows
// about the transport's wire format.
type Sink interface {
	OnStatus(message string)
	OnChunk(content string)
	OnToolUse(toolNames []string)
	OnPlanCreated(taskCount, checkpoints int, summary string)
	OnTaskProgress(taskID, message string)
	OnTaskCompleted(taskID, taskName, preview string)
	OnTaskFailed(taskID, errMsg string, willRetry bool)
	OnCheckpoint(message string, t *task.Task)
	OnComplete(response string)
	OnError(errMsg string)
}

// Dependencies bundles the components the Session Executor orchestrates.
type Dependencies struct {
	Archive      *archive.Archive
	Coordinator  *storagecoord.Coordinator
	Memory       *memory.Manager
	Planner      *planner.Planner
	Worker       *worker.Worker
	Gateway      *llm.Gateway
	Tools        tools.Registry
	BoardStorage orchestrator.BoardStorage
	Bus          eventbus.Publisher
}

var continueKeywords = []string{"continue", "yes", "proceed", "go ahead", "keep going", "resume"}
var cancelKeywords = []string{"cancel", "stop", "abort", "abandon", "no thanks"}

// Executor is the single entry point for a user turn, holding one
// Orchestrator and one rollup counter per active session.
type Executor struct {
	deps Dependencies
	cfg  config.SessionConfig
	memCfg config.MemoryConfig

	mu            sync.Mutex
	sessionLocks  map[string]*sync.Mutex
	orchestrators map[string]*orchestrator.Orchestrator
	rollupCounts  map[string]int
}

// New constructs a Session Executor.
func New(cfg config.SessionConfig, memCfg config.MemoryConfig, deps Dependencies) *Executor {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 10
	}
	if cfg.MaxHistoryMessages <= 0 {
		cfg.MaxHistoryMessages = 20
	}
	if cfg.ComplexityMinTasks <= 0 {
		cfg.ComplexityMinTasks = 3
	}
	return &Executor{
		deps:          deps,
		cfg:           cfg,
		memCfg:        memCfg,
		sessionLocks:  make(map[string]*sync.Mutex),
		orchestrators: make(map[string]*orchestrator.Orchestrator),
		rollupCounts:  make(map[string]int),
	}
}

func (e *Executor) lockFor(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.sessionLocks[sessionID] = l
	}
	return l
}

func (e *Executor) orchestratorFor(sessionID string) *orchestrator.Orchestrator {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orchestrators[sessionID]
	if !ok {
		o = orchestrator.New(e.deps.BoardStorage, e.deps.Planner, e.deps.Worker, e.deps.Bus)
		e.orchestrators[sessionID] = o
	}
	return o
}

// TryLock reports whether a turn may start immediately for sessionID,
// locking it if so; callers that get false must queue or reject the
// incoming turn per spec.md §4.8's per-session critical section.
func (e *Executor) TryLock(sessionID string) bool {
	return e.lockFor(sessionID).TryLock()
}

// Unlock releases sessionID's critical section; callers call this after
// HandleTurn returns, and only after a TryLock that returned true
// (unlocking a session that is not locked is a fatal run-time error).
func (e *Executor) Unlock(sessionID string) {
	e.lockFor(sessionID).Unlock()
}

// HandleTurn runs one full user turn per spec.md §4.8's 8-step algorithm.
// Callers are responsible for the per-session critical section (TryLock/
// Unlock or an equivalent queue) around this call.
func (e *Executor) HandleTurn(ctx context.Context, sessionID, message string, files []FileRef, sink Sink) error {
	log := observability.LoggerWithTrace(ctx)
	now := time.Now()

	// 1. Persist the user message.
	if err := e.deps.Coordinator.SaveMessage(ctx, storagecoord.Message{
		SessionID: sessionID, Role: "user", Content: message, Timestamp: now, Priority: true,
	}); err != nil {
		sink.OnError(fmt.Sprintf("failed to persist message: %v", err))
		return err
	}

	// 2. Cached-answer short-circuit.
	cached, err := e.deps.Memory.LookupCachedAnswer(ctx, sessionID, message)
	if err == nil && cached.Hit {
		e.streamCachedAnswer(ctx, cached.Answer, sink)
		if err := e.persistModelMessage(ctx, sessionID, cached.Answer); err != nil {
			log.Warn().Err(err).Msg("session_persist_cached_answer_failed")
		}
		sink.OnComplete(cached.Answer)
		return nil
	}

	// 3. Build memory context.
	built, err := e.deps.Memory.BuildContext(ctx, sessionID, message, memory.ContextOptions{
		IncludeSTM: true, IncludeLTM: true,
	})
	if err != nil {
		built = memory.BuiltContext{Context: "No relevant past context found."}
	}

	// 4. Checkpoint-feedback branch if a non-terminal board exists.
	o := e.orchestratorFor(sessionID)
	sc, err := o.GetSessionContext(ctx, sessionID)
	if err == nil && sc.HasActiveBoard && sc.Board.Status != task.BoardCompleted && sc.Board.Status != task.BoardAbandoned {
		return e.handleCheckpointFeedback(ctx, sessionID, message, o, sink)
	}

	// 5. Complexity assessment.
	assessment := e.deps.Planner.Assess(ctx, message)
	isComplex := assessment.IsComplex && assessment.SuggestedApproach == "planned" && assessment.EstimatedTasks >= e.cfg.ComplexityMinTasks

	if isComplex {
		return e.runComplexPath(ctx, sessionID, message, built.Context, o, sink)
	}
	return e.runSimplePath(ctx, sessionID, message, built.Context, files, sink)
}

// streamCachedAnswer replays answer as artificial word-by-word chunks with
// a 10ms pace between words, per spec.md §4.8.
func (e *Executor) streamCachedAnswer(ctx context.Context, answer string, sink Sink) {
	words := strings.Fields(answer)
	for i, w := range words {
		chunk := w
		if i > 0 {
			chunk = " " + w
		}
		sink.OnChunk(chunk)
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (e *Executor) persistModelMessage(ctx context.Context, sessionID, content string) error {
	return e.deps.Coordinator.SaveMessage(ctx, storagecoord.Message{
		SessionID: sessionID, Role: "model", Content: content, Timestamp: time.Now(),
	})
}

// handleCheckpointFeedback interprets message against the fixed
// continue/cancel keyword sets, per spec.md §4.8 step 4.
func (e *Executor) handleCheckpointFeedback(ctx context.Context, sessionID, message string, o *orchestrator.Orchestrator, sink Sink) error {
	lower := strings.ToLower(strings.TrimSpace(message))

	for _, kw := range continueKeywords {
		if strings.Contains(lower, kw) {
			return e.respondToCheckpoint(ctx, sessionID, message, true, o, sink)
		}
	}
	for _, kw := range cancelKeywords {
		if strings.Contains(lower, kw) {
			return e.respondToCheckpoint(ctx, sessionID, message, false, o, sink)
		}
	}

	reply := "There's a task in progress awaiting your input. Reply \"continue\" to proceed, \"cancel\" to abandon it, or describe a new request."
	_ = e.persistModelMessage(ctx, sessionID, reply)
	sink.OnComplete(reply)
	return nil
}

// respondToCheckpoint applies an explicit continue/cancel decision to
// sessionID's paused board and streams the outcome via sink. Shared by the
// keyword-interpreted chat path (handleCheckpointFeedback) and the
// Boundary Transport's typed checkpoint_response/abandon_task frames,
// which already carry an explicit approved decision and bypass keyword
// matching entirely.
func (e *Executor) respondToCheckpoint(ctx context.Context, sessionID, feedback string, approved bool, o *orchestrator.Orchestrator, sink Sink) error {
	if !approved {
		if err := o.Abandon(ctx, sessionID); err != nil {
			sink.OnError(err.Error())
			return err
		}
		reply := "Task cancelled."
		_ = e.persistModelMessage(ctx, sessionID, reply)
		sink.OnComplete(reply)
		return nil
	}
	result, err := o.ResumeFromCheckpoint(ctx, feedback, true)
	if err != nil {
		sink.OnError(err.Error())
		return err
	}
	return e.handleExecResult(ctx, sessionID, result, sink)
}

// HandleCheckpointResponse applies an explicit client decision to
// sessionID's paused checkpoint, for the Boundary Transport's
// checkpoint_response frame (and, via a capturing Sink, the
// /api/tasks/resume admin endpoint).
func (e *Executor) HandleCheckpointResponse(ctx context.Context, sessionID, feedback string, approved bool, sink Sink) error {
	return e.respondToCheckpoint(ctx, sessionID, feedback, approved, e.orchestratorFor(sessionID), sink)
}

// Abandon cancels sessionID's active board without persisting a chat
// reply, for the Boundary Transport's abandon_task frame and the
// /api/tasks/abandon admin endpoint.
func (e *Executor) Abandon(ctx context.Context, sessionID string) error {
	return e.orchestratorFor(sessionID).Abandon(ctx, sessionID)
}

// Status reports sessionID's current orchestrator state, for the
// Boundary Transport's get_status frame and the /api/tasks/status admin
// endpoint.
func (e *Executor) Status(ctx context.Context, sessionID string) (orchestrator.SessionContext, error) {
	return e.orchestratorFor(sessionID).GetSessionContext(ctx, sessionID)
}

// runComplexPath subscribes to the session's Orchestrator events, creates a
// plan, and executes it, per spec.md §4.8 step 6.
func (e *Executor) runComplexPath(ctx context.Context, sessionID, message, memContext string, o *orchestrator.Orchestrator, sink Sink) error {
	o.OnEventFunc(func(ev orchestrator.Event) { e.forwardEvent(ev, sink) })

	if _, err := o.CreatePlan(ctx, sessionID, message, message, memContext); err != nil {
		sink.OnError(err.Error())
		return err
	}
	result, err := o.ExecuteUntilCheckpoint(ctx)
	if err != nil {
		sink.OnError(err.Error())
		return err
	}
	return e.handleExecResult(ctx, sessionID, result, sink)
}

func (e *Executor) forwardEvent(ev orchestrator.Event, sink Sink) {
	switch ev.Type {
	case orchestrator.EventPlanCreated:
		sink.OnPlanCreated(ev.TaskCount, ev.CheckpointCount, ev.Message)
	case orchestrator.EventTaskProgress:
		taskID := ""
		if ev.Task != nil {
			taskID = ev.Task.ID
		}
		sink.OnTaskProgress(taskID, ev.Message)
	case orchestrator.EventTaskCompleted:
		if ev.Task != nil {
			sink.OnTaskCompleted(ev.Task.ID, ev.Task.Name, previewOf(ev.Task.Result))
		}
	case orchestrator.EventTaskFailed:
		if ev.Task != nil {
			sink.OnTaskFailed(ev.Task.ID, ev.Message, ev.WillRetry)
		}
	}
}

func previewOf(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// handleExecResult translates an ExecResult into Sink frames per spec.md
// §4.8 step 6 / §6: a checkpoint is surfaced without persisting a partial
// message; completion persists the synthesised final output.
func (e *Executor) handleExecResult(ctx context.Context, sessionID string, result orchestrator.ExecResult, sink Sink) error {
	switch result.Status {
	case "checkpoint":
		sink.OnCheckpoint(result.CheckpointTask.CheckpointMessage, result.CheckpointTask)
		return nil
	case "completed":
		if err := e.persistModelMessage(ctx, sessionID, result.FinalOutput); err != nil {
			sink.OnError(err.Error())
			return err
		}
		e.bumpRollup(ctx, sessionID, result.FinalOutput)
		sink.OnComplete(result.FinalOutput)
		return nil
	default:
		sink.OnError(result.Message)
		return nil
	}
}

// runSimplePath runs the direct reason-act loop, per spec.md §4.8 step 7.
func (e *Executor) runSimplePath(ctx context.Context, sessionID, message, memContext string, files []FileRef, sink Sink) error {
	history, err := e.recentHistory(ctx, sessionID)
	if err != nil {
		history = nil
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: e.systemPrompt(memContext, len(files) > 0)})
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: "user", Content: message})

	schemas := e.deps.Tools.Schemas()
	toolNames := make([]string, len(schemas))
	for i, s := range schemas {
		toolNames[i] = s.Name
	}
	if len(toolNames) > 0 {
		sink.OnToolUse(toolNames)
	}

	var final string
	for turn := 0; turn < e.cfg.MaxTurns; turn++ {
		result, err := e.deps.Gateway.GenerateWithTools(ctx, msgs, schemas, llm.GenerateOptions{Stream: true}, sink.OnChunk)
		if err != nil {
			sink.OnError(err.Error())
			return err
		}

		msgs = append(msgs, llm.Message{Role: "assistant", Content: result.Text, ToolCalls: result.ToolCalls})
		if len(result.ToolCalls) == 0 {
			final = result.Text
			break
		}

		observation := e.dispatchTools(ctx, result.ToolCalls)
		msgs = append(msgs, llm.Message{Role: "user", Content: observation})
	}

	if err := e.persistModelMessage(ctx, sessionID, final); err != nil {
		sink.OnError(err.Error())
		return err
	}
	e.bumpRollup(ctx, sessionID, final)
	sink.OnComplete(final)
	return nil
}

// dispatchTools executes toolCalls in parallel (each under a 30s deadline)
// and renders the combined observation message, per spec.md §4.8 step 7.
// Grounded on internal/agent/engine.go's dispatchTools semaphore shape.
func (e *Executor) dispatchTools(ctx context.Context, toolCalls []llm.ToolCall) string {
	results := make([]string, len(toolCalls))
	var wg sync.WaitGroup
	for i, tc := range toolCalls {
		i, tc := i, tc
		wg.Add(1)
		go func() {
			defer wg.Done()
			tctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			payload, err := e.deps.Tools.Dispatch(tctx, tc.Name, tc.Args)
			mark := "✅"
			body := string(payload)
			if err != nil || payloadSignalsFailure(payload) {
				mark = "❌"
				if err != nil {
					body = err.Error()
				}
			}
			results[i] = fmt.Sprintf("[Observation: %s] %s %s", tc.Name, mark, body)
		}()
	}
	wg.Wait()
	return strings.Join(results, "\n\n")
}

// payloadSignalsFailure reports whether a tool's JSON payload carries an
// explicit {"ok": false, ...} shape, since tools.Registry.Dispatch folds
// call errors into the payload rather than returning a Go error.
func payloadSignalsFailure(payload []byte) bool {
	var probe struct {
		OK *bool `json:"ok"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return false
	}
	return probe.OK != nil && !*probe.OK
}

func (e *Executor) systemPrompt(memContext string, hasFiles bool) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant with access to tools and persistent memory.\n\n")
	if memContext != "" {
		fmt.Fprintf(&b, "## Memory context\n\n%s\n\n", memContext)
	}
	schemas := e.deps.Tools.Schemas()
	if len(schemas) > 0 {
		b.WriteString("## Available tools\n\n")
		for _, s := range schemas {
			fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
		}
		b.WriteString("\n")
	}
	if hasFiles {
		b.WriteString("The user has attached one or more files to this message.\n")
	}
	return b.String()
}

// recentHistory fetches the session's archived messages, deduplicates
// consecutive same-role entries, and keeps only the most recent
// MaxHistoryMessages, per spec.md §4.8 step 7.
func (e *Executor) recentHistory(ctx context.Context, sessionID string) ([]llm.Message, error) {
	if e.deps.Archive == nil {
		return nil, nil
	}
	rows, err := e.deps.Archive.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	deduped := make([]archive.Message, 0, len(rows))
	for _, r := range rows {
		if n := len(deduped); n > 0 && deduped[n-1].Role == r.Role {
			continue
		}
		deduped = append(deduped, r)
	}
	if len(deduped) > e.cfg.MaxHistoryMessages {
		deduped = deduped[len(deduped)-e.cfg.MaxHistoryMessages:]
	}

	out := make([]llm.Message, len(deduped))
	for i, r := range deduped {
		role := "user"
		if r.Role == "model" {
			role = "assistant"
		}
		out[i] = llm.Message{Role: role, Content: r.Content}
	}
	return out, nil
}

// bumpRollup advances the session's periodic-rollup counter, triggering a
// new LTM rollup once the configured interval is reached, per spec.md §4.6.
func (e *Executor) bumpRollup(ctx context.Context, sessionID, lastAnswer string) {
	interval := e.memCfg.RollupInterval
	if interval <= 0 {
		interval = 10
	}

	e.mu.Lock()
	e.rollupCounts[sessionID]++
	count := e.rollupCounts[sessionID]
	if count >= interval {
		e.rollupCounts[sessionID] = 0
	}
	e.mu.Unlock()

	if count < interval {
		return
	}

	log := observability.LoggerWithTrace(ctx)
	history, err := e.recentHistory(ctx, sessionID)
	if err != nil || len(history) == 0 {
		return
	}

	summary, err := e.deps.Memory.SummarizeConversation(ctx, history)
	if err != nil {
		log.Warn().Err(err).Msg("session_rollup_summarize_failed")
		return
	}
	topics, err := e.deps.Memory.ExtractTopics(ctx, summary)
	if err != nil {
		topics = nil
	}

	var userQueries []string
	for _, m := range history {
		if m.Role == "user" {
			userQueries = append(userQueries, m.Content)
		}
	}

	rollup := memory.Rollup{
		SessionID:       sessionID,
		RollupTimestamp: time.Now(),
		UserQueries:     strings.Join(userQueries, " | "),
		Summary:         summary,
		Answer:          lastAnswer,
		Topics:          topics,
		Importance:      memory.ScoreImportance(summary, topics),
		Interactions:    1,
		LastAccessed:    time.Now(),
	}
	if err := e.deps.Memory.AddLongTerm(ctx, rollup); err != nil {
		log.Warn().Err(err).Msg("session_rollup_add_long_term_failed")
	}
}
