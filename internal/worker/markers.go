package worker

import "strings"

// completionMarkers and blockedMarkers are the fixed, case-insensitive
// substrings the reason-act loop watches for, per spec.md §4.4.
var completionMarkers = []string{
	"TASK COMPLETE:", "TASK COMPLETED:", "FINAL OUTPUT:", "HERE IS THE FINAL",
}

var blockedMarkers = []string{
	"TASK BLOCKED:", "CANNOT PROCEED:", "UNABLE TO COMPLETE:",
}

// findMarker returns the text following the earliest-occurring marker from
// the set, case-insensitively, or ("", false) if none is present.
func findMarker(content string, markers []string) (string, bool) {
	upper := strings.ToUpper(content)
	bestIdx := -1
	bestLen := 0
	for _, marker := range markers {
		idx := strings.Index(upper, marker)
		if idx == -1 {
			continue
		}
		if bestIdx == -1 || idx < bestIdx {
			bestIdx = idx
			bestLen = len(marker)
		}
	}
	if bestIdx == -1 {
		return "", false
	}
	return strings.TrimSpace(content[bestIdx+bestLen:]), true
}

// firstLine returns s's first line (the text before the first newline,
// which may be empty), trimmed, or all of s if it's a single line.
func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}
