package memory

import (
	"context"
	"sync"
	"time"
)

// embedRequest is one caller's pending slot in a batch, resolved in the
// order it was enqueued once the batch is embedded.
type embedRequest struct {
	text string
	done chan embedOutcome
}

type embedOutcome struct {
	vector []float32
	err    error
}

// batchEmbedFunc embeds a slice of texts, preserving input order, per
// spec.md §4.1's embedBatch contract.
type batchEmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// embeddingBatcher coalesces concurrent embed calls into shared batches.
// A request marked with priority > 5 bypasses batching entirely. Otherwise
// it joins a single pending queue; the queue flushes when it reaches
// batchSize or when the window timer fires, whichever comes first.
type embeddingBatcher struct {
	embedFn   batchEmbedFunc
	batchSize int
	window    time.Duration

	mu      sync.Mutex
	pending []*embedRequest
	timer   *time.Timer
}

func newEmbeddingBatcher(embedFn batchEmbedFunc, batchSize int, window time.Duration) *embeddingBatcher {
	if batchSize <= 0 {
		batchSize = 16
	}
	if window <= 0 {
		window = 100 * time.Millisecond
	}
	return &embeddingBatcher{embedFn: embedFn, batchSize: batchSize, window: window}
}

// embed resolves text's embedding, either immediately (priority > 5) or by
// joining the shared batch queue.
func (b *embeddingBatcher) embed(ctx context.Context, text string, priority int) ([]float32, error) {
	if priority > 5 {
		vecs, err := b.embedFn(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return vecs[0], nil
	}

	req := &embedRequest{text: text, done: make(chan embedOutcome, 1)}
	b.enqueue(req)

	select {
	case out := <-req.done:
		return out.vector, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *embeddingBatcher) enqueue(req *embedRequest) {
	b.mu.Lock()
	b.pending = append(b.pending, req)
	shouldFlushNow := len(b.pending) >= b.batchSize
	if shouldFlushNow {
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
	} else if b.timer == nil {
		b.timer = time.AfterFunc(b.window, b.flush)
	}
	b.mu.Unlock()

	if shouldFlushNow {
		b.flush()
	}
}

// flush drains the current queue and embeds it as one batch, resolving
// every waiting caller in input order. Safe to call concurrently: only the
// goroutine that actually grabs a non-empty queue does the embedding work.
func (b *embeddingBatcher) flush() {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.timer = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	texts := make([]string, len(batch))
	for i, r := range batch {
		texts[i] = r.text
	}

	vecs, err := b.embedFn(context.Background(), texts)
	for i, r := range batch {
		if err != nil {
			r.done <- embedOutcome{err: err}
			continue
		}
		r.done <- embedOutcome{vector: vecs[i]}
	}
}
