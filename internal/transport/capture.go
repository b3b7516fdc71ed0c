package transport

import (
	"github.com/ubix08/orix/internal/session"
	"github.com/ubix08/orix/internal/task"
)

// captureSink collects a turn's terminal outcome for the synchronous,
// non-streaming admin endpoints (/api/chat, /api/tasks/resume), which
// return a single JSON response rather than a wire frame stream.
type captureSink struct {
	response   string
	checkpoint string
	task       *task.Task
	errMsg     string
}

func (c *captureSink) OnStatus(string)                                     {}
func (c *captureSink) OnChunk(string)                                      {}
func (c *captureSink) OnToolUse([]string)                                  {}
func (c *captureSink) OnPlanCreated(taskCount, checkpoints int, summary string) {}
func (c *captureSink) OnTaskProgress(taskID, message string)               {}
func (c *captureSink) OnTaskCompleted(taskID, taskName, preview string)     {}
func (c *captureSink) OnTaskFailed(taskID, errMsg string, willRetry bool)   {}
func (c *captureSink) OnCheckpoint(message string, t *task.Task) {
	c.checkpoint = message
	c.task = t
}
func (c *captureSink) OnComplete(response string) { c.response = response }
func (c *captureSink) OnError(errMsg string)      { c.errMsg = errMsg }

var _ session.Sink = (*captureSink)(nil)

// result renders the capture as resumeFromCheckpoint's admin JSON shape:
// either a completed response, a new checkpoint, or an error.
func (c *captureSink) result() map[string]any {
	switch {
	case c.errMsg != "":
		return map[string]any{"status": "failed", "error": c.errMsg}
	case c.task != nil:
		return map[string]any{"status": "checkpoint", "message": c.checkpoint, "task": c.task}
	default:
		return map[string]any{"status": "completed", "response": c.response}
	}
}
