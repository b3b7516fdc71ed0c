package llm

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ubix08/orix/internal/config"
	"github.com/ubix08/orix/internal/embedding"
)

// GenerateOptions carries the advisory per-call knobs spec.md §4.1 names.
// Provider-native toggles are passed through as attributes on the request;
// concrete adapters interpret the ones they support and ignore the rest.
type GenerateOptions struct {
	Model             string
	Temperature       float64
	ReasoningBudget   int
	Stream            bool
	UseSearch         bool
	UseCodeExecution  bool
	UseMapsGrounding  bool
	UseVision         bool
	AttachedFileRefs  []string
}

// GenerateResult is the gateway's return shape for generateWithTools.
type GenerateResult struct {
	Text      string
	ToolCalls []ToolCall
}

// OnChunk receives streamed textual deltas when GenerateOptions.Stream is set.
type OnChunk func(delta string)

// EmbedOptions configures embedText/embedBatch. Normalize has no implicit
// default: vectors are unit-normalised only when it is true, and the zero
// value returns the embedding client's raw vectors.
type EmbedOptions struct {
	Model     string
	Normalize bool
	BatchSize int // default 16, embedBatch only
}

// Gateway wraps a selected Provider with circuit breaker, bounded retry, and
// a per-call deadline, per spec.md §4.1. Embeddings fall back to the plain
// HTTP embedding client (internal/embedding) since none of the wrapped
// Provider adapters expose a native embedding endpoint.
type Gateway struct {
	provider Provider
	embedCfg config.EmbeddingConfig

	retryAttempts int
	retryBaseDely time.Duration
	callTimeout   time.Duration

	brk *breaker
}

// NewGateway constructs a Gateway around provider using cfg.LLM's resilience
// knobs (falling back to spec.md §4.1's defaults: 3 retries, 1s base delay,
// 60s deadline, 5-failure/60s-cooldown breaker).
func NewGateway(cfg config.Config, provider Provider) *Gateway {
	attempts := cfg.LLM.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	baseDelay := time.Duration(cfg.LLM.RetryBaseDelayMS) * time.Millisecond
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	timeout := time.Duration(cfg.LLM.CallTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	threshold := cfg.LLM.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	cooldown := time.Duration(cfg.LLM.BreakerCooldownMS) * time.Millisecond
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}

	return &Gateway{
		provider:      provider,
		embedCfg:      cfg.LLM.Embedding,
		retryAttempts: attempts,
		retryBaseDely: baseDelay,
		callTimeout:   timeout,
		brk:           newBreaker(threshold, cooldown),
	}
}

// call runs fn with a deadline, the circuit breaker, and exponential-backoff
// retry, grounded on internal/sefii/engine.go's execWithRetry shape (N
// attempts, backoff starting at retryBaseDelay) but using
// cenkalti/backoff/v5 in place of a hand-rolled time.Sleep loop.
func (g *Gateway) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.retryBaseDely

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if !g.brk.allow() {
			return struct{}{}, backoff.Permanent(newErr(op, KindUnavailable, fmt.Errorf("circuit breaker open")))
		}

		cctx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()

		callErr := fn(cctx)
		if callErr == nil {
			g.brk.recordSuccess()
			return struct{}{}, nil
		}

		gerr := classifyError(op, cctx, callErr)
		g.brk.recordFailure()
		if !gerr.Kind.retryable() {
			return struct{}{}, backoff.Permanent(gerr)
		}
		return struct{}{}, gerr
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(g.retryAttempts)))

	return err
}

// BreakerState reports the circuit breaker's current state ("closed",
// "open", or "half_open"), for the /api/status admin endpoint.
func (g *Gateway) BreakerState() string { return g.brk.String() }

func classifyError(op string, ctx context.Context, err error) *GatewayError {
	if ge, ok := err.(*GatewayError); ok {
		return ge
	}
	if ctx.Err() == context.DeadlineExceeded {
		return newErr(op, KindTimeout, err)
	}
	return newErr(op, KindProviderError, err)
}

// GenerateWithTools wraps Provider.Chat/ChatStream with resilience and
// streaming. onChunk, when non-nil and opts.Stream is true, receives each
// textual delta as it is produced; the returned GenerateResult always
// carries the fully concatenated text plus order-preserved tool calls.
func (g *Gateway) GenerateWithTools(ctx context.Context, history []Message, toolDefs []ToolSchema, opts GenerateOptions, onChunk OnChunk) (GenerateResult, error) {
	model := opts.Model
	ctx, span := StartRequestSpan(ctx, "generateWithTools", model, len(toolDefs), len(history))
	defer span.End()
	LogRedactedPrompt(ctx, history)

	var result GenerateResult

	if opts.Stream {
		h := &gatewayStreamHandler{onChunk: onChunk}
		err := g.call(ctx, "generateWithTools", func(cctx context.Context) error {
			h.reset()
			return g.provider.ChatStream(cctx, history, toolDefs, model, h)
		})
		if err != nil {
			return GenerateResult{}, err
		}
		result = GenerateResult{Text: h.text, ToolCalls: h.toolCalls}
	} else {
		var msg Message
		err := g.call(ctx, "generateWithTools", func(cctx context.Context) error {
			m, cerr := g.provider.Chat(cctx, history, toolDefs, model)
			if cerr != nil {
				return cerr
			}
			msg = m
			return nil
		})
		if err != nil {
			return GenerateResult{}, err
		}
		result = GenerateResult{Text: msg.Content, ToolCalls: msg.ToolCalls}
	}

	LogRedactedResponse(ctx, result)
	prompt := EstimateTokensForMessages(history)
	completion := EstimateTokens(result.Text)
	RecordTokenMetrics(model, prompt, completion)
	RecordTokenAttributes(span, prompt, completion, prompt+completion)
	return result, nil
}

type gatewayStreamHandler struct {
	onChunk   OnChunk
	text      string
	toolCalls []ToolCall
}

func (h *gatewayStreamHandler) reset() {
	h.text = ""
	h.toolCalls = nil
}

func (h *gatewayStreamHandler) OnDelta(content string) {
	h.text += content
	if h.onChunk != nil {
		h.onChunk(content)
	}
}

func (h *gatewayStreamHandler) OnToolCall(tc ToolCall)          { h.toolCalls = append(h.toolCalls, tc) }
func (h *gatewayStreamHandler) OnImage(img GeneratedImage)      {}
func (h *gatewayStreamHandler) OnThoughtSummary(summary string) {}

// EmbedText embeds a single string, unit-normalising it only when
// opts.Normalize is true.
func (g *Gateway) EmbedText(ctx context.Context, text string, opts EmbedOptions) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text}, opts)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch chunks texts into groups of at most opts.BatchSize (default 16),
// embeds each chunk via the fallback HTTP embedding client, and reassembles
// the output preserving input order, per spec.md §4.1.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string, opts EmbedOptions) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	normalize := opts.Normalize
	cfg := g.embedCfg
	if opts.Model != "" {
		cfg.Model = opts.Model
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]

		var vecs [][]float32
		err := g.call(ctx, "embedBatch", func(cctx context.Context) error {
			v, eerr := embedding.EmbedText(cctx, cfg, chunk)
			if eerr != nil {
				return eerr
			}
			vecs = v
			return nil
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}

	if normalize {
		for i := range out {
			out[i] = normalizeVector(out[i])
		}
	}
	return out, nil
}

func normalizeVector(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
