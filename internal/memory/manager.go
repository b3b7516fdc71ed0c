// Package memory implements the Memory Manager: embedding cache and
// batching, short-term and long-term tiers on the Recall Index, context
// assembly, and similarity-gated cached answers, per spec.md §4.5.
//
// Grounded on internal/agent/memory/evolving.go's relevanceBasedPrune and
// smartPruneBeforeAdd (the hits/age-weighted eviction shape, adapted here
// from "prune memory entries" to "evict cache entries") and on
// cosineSimilarity's threshold-gated-match idiom for the cached-answer
// gate. summarizeConversation/extractTopics follow the same
// prompt-via-strings.Builder-then-Gateway.GenerateWithTools pattern the
// teacher's own summarisation helpers use.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ubix08/orix/internal/config"
	"github.com/ubix08/orix/internal/llm"
	"github.com/ubix08/orix/internal/recall"
)

// STMRecord is one short-term memory write, per spec.md §3's
// MemoryRecord (short-term).
type STMRecord struct {
	SessionID  string
	Timestamp  time.Time
	Role       string
	Content    string
	Importance float64 // [0.5, 1.0]
	Tags       []string
}

// Rollup is one long-term memory write, per spec.md §3's MemoryRollup.
type Rollup struct {
	SessionID        string
	RollupTimestamp  time.Time
	UserQueries      string
	Summary          string
	Answer           string
	Topics           []string
	Importance       float64
	Interactions     int
	LastAccessed     time.Time
}

// SearchResult is one Recall Index hit as surfaced to Memory Manager callers.
type SearchResult struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]any
}

// CachedAnswer is the result of a cached-answer lookup.
type CachedAnswer struct {
	Hit    bool
	Answer string
}

// ContextOptions configures buildContext.
type ContextOptions struct {
	IncludeSTM     bool
	IncludeLTM     bool
	MaxSTMResults  int
	MaxLTMResults  int
}

// BuiltContext is buildContext's return shape.
type BuiltContext struct {
	Context  string
	STMCount int
	LTMCount int
}

// Manager is the Memory Manager's capability set, scoped to one session's
// embedding cache and batching queue (per spec.md §5's per-session
// resource policy).
type Manager struct {
	gateway *llm.Gateway
	index   *recall.Index
	cfg     config.MemoryConfig

	cache   *embeddingCache
	batcher *embeddingBatcher
}

// NewManager constructs a Memory Manager backed by the given Model Gateway
// and Recall Index.
func NewManager(cfg config.MemoryConfig, gateway *llm.Gateway, index *recall.Index) *Manager {
	m := &Manager{
		gateway: gateway,
		index:   index,
		cfg:     cfg,
		cache:   newEmbeddingCache(cfg.EmbeddingCacheSize, time.Duration(cfg.EmbeddingCacheTTLS)*time.Second),
	}
	m.batcher = newEmbeddingBatcher(m.embedBatchRaw, cfg.BatchSize, time.Duration(cfg.BatchWindowMS)*time.Millisecond)
	return m
}

// embedBatchRaw is the batcher's underlying embed call: the Model Gateway
// with unit-normalisation on, bypassing the cache since the batcher only ever
// sees cache misses.
func (m *Manager) embedBatchRaw(ctx context.Context, texts []string) ([][]float32, error) {
	return m.gateway.EmbedBatch(ctx, texts, llm.EmbedOptions{Normalize: true})
}

// embed resolves text's vector via the cache, falling back to the shared
// batcher (or a direct call for priority > 5 requests).
func (m *Manager) embed(ctx context.Context, text string, priority int) ([]float32, error) {
	if v, ok := m.cache.get(text); ok {
		return v, nil
	}
	v, err := m.batcher.embed(ctx, text, priority)
	if err != nil {
		return nil, err
	}
	m.cache.put(text, v)
	return v, nil
}

func stmID(sessionID string, ts time.Time, role string) string {
	return fmt.Sprintf("%s_stm_%d_%s", sessionID, ts.UnixNano(), role)
}

func ltmID(sessionID string, ts time.Time) string {
	return fmt.Sprintf("%s_ltm_%d", sessionID, ts.UnixNano())
}

// Save embeds record.Content and upserts it into the Recall Index's
// short-term tier.
func (m *Manager) Save(ctx context.Context, record STMRecord) error {
	vec, err := m.embed(ctx, record.Content, 0)
	if err != nil {
		return fmt.Errorf("memory: embed stm record: %w", err)
	}
	return m.index.Upsert(ctx, recall.Record{
		ID:     stmID(record.SessionID, record.Timestamp, record.Role),
		Vector: vec,
		Metadata: map[string]any{
			"type":       "short_term",
			"sessionId":  record.SessionID,
			"timestamp":  record.Timestamp.Format(time.RFC3339Nano),
			"role":       record.Role,
			"importance": record.Importance,
			"content":    record.Content,
			"tags":       strings.Join(record.Tags, ","),
		},
	})
}

// Search queries the short-term tier, scoped to sessionID plus any
// caller-supplied filter.
func (m *Manager) Search(ctx context.Context, sessionID, query string, topK int, extra recall.Filter) ([]SearchResult, error) {
	vec, err := m.embed(ctx, query, 10)
	if err != nil {
		return nil, fmt.Errorf("memory: embed stm query: %w", err)
	}
	filter := recall.Filter{"type": "short_term", "sessionId": sessionID}
	for k, v := range extra {
		filter[k] = v
	}
	matches, err := m.index.Query(ctx, vec, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("memory: stm search: %w", err)
	}
	return toSearchResults(matches), nil
}

// AddLongTerm embeds the concatenation of query, summary, and topics and
// upserts a long-term rollup.
func (m *Manager) AddLongTerm(ctx context.Context, rollup Rollup) error {
	topics := strings.Join(rollup.Topics, ",")
	text := rollup.UserQueries + " " + rollup.Summary + " " + topics
	vec, err := m.embed(ctx, text, 0)
	if err != nil {
		return fmt.Errorf("memory: embed rollup: %w", err)
	}
	return m.index.Upsert(ctx, recall.Record{
		ID:     ltmID(rollup.SessionID, rollup.RollupTimestamp),
		Vector: vec,
		Metadata: map[string]any{
			"type":         "long_term",
			"sessionId":    rollup.SessionID,
			"userQueries":  rollup.UserQueries,
			"summary":      rollup.Summary,
			"answer":       rollup.Answer,
			"topics":       topics,
			"importance":   rollup.Importance,
			"interactions": int64(rollup.Interactions),
			"lastAccessed": rollup.LastAccessed.Format(time.RFC3339Nano),
			"rollupAt":     rollup.RollupTimestamp.Format(time.RFC3339Nano),
		},
	})
}

func (m *Manager) ltmThreshold() float32 {
	if m.cfg.LTMThreshold <= 0 {
		return 0.65
	}
	return float32(m.cfg.LTMThreshold)
}

// SearchLongTerm queries the long-term tier, scoped to sessionID, returning
// only matches whose score clears the configured ltmThreshold.
func (m *Manager) SearchLongTerm(ctx context.Context, sessionID, query string, topK int) ([]SearchResult, error) {
	vec, err := m.embed(ctx, query, 10)
	if err != nil {
		return nil, fmt.Errorf("memory: embed ltm query: %w", err)
	}
	matches, err := m.index.Query(ctx, vec, topK, recall.Filter{"type": "long_term", "sessionId": sessionID})
	if err != nil {
		return nil, fmt.Errorf("memory: ltm search: %w", err)
	}
	threshold := m.ltmThreshold()
	out := make([]SearchResult, 0, len(matches))
	for _, mt := range matches {
		if mt.Score < threshold {
			continue
		}
		out = append(out, SearchResult{ID: mt.ID, Score: mt.Score, Metadata: mt.Metadata})
	}
	return out, nil
}

// Stats reports per-tier counts for a session, for the /api/memory/stats
// admin endpoint.
type Stats struct {
	SessionMemories  uint64
	LongTermMemories uint64
	TotalMemories    uint64
}

// Stats counts the short-term and long-term entries scoped to sessionID.
func (m *Manager) Stats(ctx context.Context, sessionID string) (Stats, error) {
	stm, err := m.index.Count(ctx, recall.Filter{"type": "short_term", "sessionId": sessionID})
	if err != nil {
		return Stats{}, fmt.Errorf("memory: count stm: %w", err)
	}
	ltm, err := m.index.Count(ctx, recall.Filter{"type": "long_term", "sessionId": sessionID})
	if err != nil {
		return Stats{}, fmt.Errorf("memory: count ltm: %w", err)
	}
	return Stats{SessionMemories: stm, LongTermMemories: ltm, TotalMemories: stm + ltm}, nil
}

// ClearSession deletes every short-term and long-term memory for sessionID.
func (m *Manager) ClearSession(ctx context.Context, sessionID string) error {
	if err := m.index.DeleteByFilter(ctx, recall.Filter{"type": "short_term", "sessionId": sessionID}); err != nil {
		return fmt.Errorf("memory: clear stm: %w", err)
	}
	if err := m.index.DeleteByFilter(ctx, recall.Filter{"type": "long_term", "sessionId": sessionID}); err != nil {
		return fmt.Errorf("memory: clear ltm: %w", err)
	}
	return nil
}

const cachedAnswerPrefix = "[Based on similar past query]\n\n"

// LookupCachedAnswer performs a 1-nearest long-term search; on a score ≥
// 0.90 hit against a rollup carrying a non-empty answer, it returns that
// answer (prefixed) and bumps the matched rollup's access statistics.
func (m *Manager) LookupCachedAnswer(ctx context.Context, sessionID, query string) (CachedAnswer, error) {
	vec, err := m.embed(ctx, query, 10)
	if err != nil {
		return CachedAnswer{}, fmt.Errorf("memory: embed cached-answer query: %w", err)
	}
	matches, err := m.index.Query(ctx, vec, 1, recall.Filter{"type": "long_term", "sessionId": sessionID})
	if err != nil {
		return CachedAnswer{}, fmt.Errorf("memory: cached-answer search: %w", err)
	}
	threshold := float32(m.cfg.CachedAnswerThresh)
	if threshold <= 0 {
		threshold = 0.90
	}
	if len(matches) == 0 || matches[0].Score < threshold {
		return CachedAnswer{}, nil
	}
	answer, _ := matches[0].Metadata["answer"].(string)
	if answer == "" {
		return CachedAnswer{}, nil
	}

	m.bumpRollupAccess(ctx, matches[0])
	return CachedAnswer{Hit: true, Answer: cachedAnswerPrefix + answer}, nil
}

// bumpRollupAccess re-upserts the matched rollup with lastAccessed advanced
// and interactions incremented; the point id is stable so this overwrites
// rather than duplicates.
func (m *Manager) bumpRollupAccess(ctx context.Context, match recall.Match) {
	meta := match.Metadata
	interactions, _ := meta["interactions"].(int64)
	interactions++
	meta["interactions"] = interactions
	meta["lastAccessed"] = time.Now().Format(time.RFC3339Nano)

	vec, err := m.embed(ctx, rollupEmbedText(meta), 6)
	if err != nil {
		return
	}
	_ = m.index.Upsert(ctx, recall.Record{ID: match.ID, Vector: vec, Metadata: meta})
}

func rollupEmbedText(meta map[string]any) string {
	q, _ := meta["userQueries"].(string)
	s, _ := meta["summary"].(string)
	t, _ := meta["topics"].(string)
	return q + " " + s + " " + t
}

// BuildContext assembles the fixed Markdown-ish context block used to
// prime the reason-act loop, per spec.md §4.5.
func (m *Manager) BuildContext(ctx context.Context, sessionID, query string, opts ContextOptions) (BuiltContext, error) {
	var ltm, stm []SearchResult

	if opts.IncludeLTM {
		n := opts.MaxLTMResults
		if n <= 0 {
			n = 3
		}
		results, err := m.SearchLongTerm(ctx, sessionID, query, n)
		if err == nil {
			ltm = results
		}
	}
	if opts.IncludeSTM {
		n := opts.MaxSTMResults
		if n <= 0 {
			n = 5
		}
		results, err := m.Search(ctx, sessionID, query, n, nil)
		if err == nil {
			stm = results
		}
	}

	if len(ltm) == 0 && len(stm) == 0 {
		return BuiltContext{Context: "No relevant past context found."}, nil
	}

	var b strings.Builder
	if len(ltm) > 0 {
		b.WriteString("## Long-term memory\n\n")
		for i, r := range ltm {
			summary, _ := r.Metadata["summary"].(string)
			fmt.Fprintf(&b, "%d. (%.0f%% relevant) %s\n", i+1, r.Score*100, summary)
		}
		b.WriteString("\n")
	}
	if len(stm) > 0 {
		b.WriteString("## Recent context\n\n")
		for i, r := range stm {
			content, _ := r.Metadata["content"].(string)
			fmt.Fprintf(&b, "%d. (%.0f%% relevant) %s\n", i+1, r.Score*100, truncate(content, 300))
		}
	}

	return BuiltContext{Context: strings.TrimRight(b.String(), "\n"), STMCount: len(stm), LTMCount: len(ltm)}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func toSearchResults(matches []recall.Match) []SearchResult {
	out := make([]SearchResult, len(matches))
	for i, mt := range matches {
		content, _ := mt.Metadata["content"].(string)
		out[i] = SearchResult{ID: mt.ID, Score: mt.Score, Content: content, Metadata: mt.Metadata}
	}
	return out
}

// SummarizeConversation asks the Model Gateway for a 2-3 sentence summary
// of the last 10 messages.
func (m *Manager) SummarizeConversation(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) > 10 {
		messages = messages[len(messages)-10:]
	}
	var transcript strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&transcript, "%s: %s\n", msg.Role, msg.Content)
	}

	prompt := []llm.Message{
		{Role: "system", Content: "Summarise the following conversation in 2-3 sentences. Respond with the summary only."},
		{Role: "user", Content: transcript.String()},
	}
	result, err := m.gateway.GenerateWithTools(ctx, prompt, nil, llm.GenerateOptions{}, nil)
	if err != nil {
		return "", fmt.Errorf("memory: summarize conversation: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// ExtractTopics asks the Model Gateway for 3-5 comma-separated topics,
// returning at most 5 after splitting and trimming.
func (m *Manager) ExtractTopics(ctx context.Context, text string) ([]string, error) {
	prompt := []llm.Message{
		{Role: "system", Content: "List 3 to 5 short topics for the following text as a comma-separated list. Respond with the list only."},
		{Role: "user", Content: text},
	}
	result, err := m.gateway.GenerateWithTools(ctx, prompt, nil, llm.GenerateOptions{}, nil)
	if err != nil {
		return nil, fmt.Errorf("memory: extract topics: %w", err)
	}
	parts := strings.Split(result.Text, ",")
	topics := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t == "" {
			continue
		}
		topics = append(topics, t)
		if len(topics) == 5 {
			break
		}
	}
	return topics, nil
}

// importanceKeywords is the fixed keyword list contributing to rollup
// importance scoring, per spec.md §4.6.
var importanceKeywords = []string{
	"error", "bug", "fix", "solution", "problem", "deploy", "production",
	"critical", "important", "api", "database", "configuration", "setup",
}

// ScoreImportance computes a rollup's importance score per spec.md §4.6:
// a 0.5 base, boosted by summary length, topic count, and fixed-keyword
// hits, clamped to [0.5, 1.0].
func ScoreImportance(summary string, topics []string) float64 {
	score := 0.5

	switch {
	case len(summary) > 500:
		score += 0.2
	case len(summary) > 200:
		score += 0.1
	}

	topicBoost := 0.05 * float64(len(topics))
	if topicBoost > 0.2 {
		topicBoost = 0.2
	}
	score += topicBoost

	lower := strings.ToLower(summary)
	keywordHits := 0
	for _, kw := range importanceKeywords {
		if strings.Contains(lower, kw) {
			keywordHits++
		}
	}
	keywordBoost := 0.05 * float64(keywordHits)
	if keywordBoost > 0.15 {
		keywordBoost = 0.15
	}
	score += keywordBoost

	if score < 0.5 {
		score = 0.5
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// FormatImportance is a small helper for logging/debugging rollup scores.
func FormatImportance(score float64) string {
	return strconv.FormatFloat(score, 'f', 2, 64)
}
