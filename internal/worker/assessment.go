package worker

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// parseAssessment decodes the self-assessment JSON, falling back to the
// contents of a fenced code block when the model wraps its answer in one.
func parseAssessment(raw string, a *assessment) error {
	trimmed := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(trimmed), a); err == nil {
		return nil
	}
	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), a); err == nil {
			return nil
		}
	}
	return fmt.Errorf("worker: could not parse self-assessment JSON")
}
