package memory

import "testing"

func TestScoreImportanceBaseline(t *testing.T) {
	score := ScoreImportance("", nil)
	if score != 0.5 {
		t.Fatalf("expected baseline 0.5, got %f", score)
	}
}

func TestScoreImportanceLengthAndTopicBoosts(t *testing.T) {
	longSummary := make([]byte, 600)
	for i := range longSummary {
		longSummary[i] = 'a'
	}
	score := ScoreImportance(string(longSummary), []string{"a", "b", "c", "d", "e"})
	// 0.5 base + 0.2 (len>500) + 0.2 (topic boost capped)
	if score < 0.89 || score > 0.91 {
		t.Fatalf("expected ~0.9, got %f", score)
	}
}

func TestScoreImportanceKeywordBoostIsCapped(t *testing.T) {
	summary := "error bug fix solution problem deploy production critical important api database configuration setup"
	score := ScoreImportance(summary, nil)
	// 0.5 base + 0.15 keyword cap (13 keywords * 0.05 = 0.65, capped at 0.15)
	if score != 0.65 {
		t.Fatalf("expected keyword-capped 0.65, got %f", score)
	}
}

func TestScoreImportanceClampsToOne(t *testing.T) {
	longSummary := make([]byte, 600)
	for i := range longSummary {
		longSummary[i] = 'a'
	}
	summary := string(longSummary) + " error bug fix solution problem deploy production critical"
	score := ScoreImportance(summary, []string{"a", "b", "c", "d", "e", "f"})
	if score != 1.0 {
		t.Fatalf("expected clamp to 1.0, got %f", score)
	}
}

func TestTruncateShortStringUnchanged(t *testing.T) {
	if got := truncate("hello", 300); got != "hello" {
		t.Fatalf("expected unchanged, got %q", got)
	}
}

func TestTruncateLongStringCutAt300(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	got := truncate(string(long), 300)
	if len(got) != 300 {
		t.Fatalf("expected length 300, got %d", len(got))
	}
}
