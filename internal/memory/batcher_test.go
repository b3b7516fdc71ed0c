package memory

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBatcherGroupsConcurrentRequests(t *testing.T) {
	var mu sync.Mutex
	var calls [][]string

	b := newEmbeddingBatcher(func(ctx context.Context, texts []string) ([][]float32, error) {
		mu.Lock()
		calls = append(calls, append([]string{}, texts...))
		mu.Unlock()
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{float32(i)}
		}
		return out, nil
	}, 3, 50*time.Millisecond)

	var wg sync.WaitGroup
	results := make([][]float32, 3)
	for i, text := range []string{"x", "y", "z"} {
		i, text := i, text
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := b.embed(context.Background(), text, 0)
			if err != nil {
				t.Errorf("embed: %v", err)
			}
			results[i] = v
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one batch call for a full batchSize, got %d", len(calls))
	}
	if len(calls[0]) != 3 {
		t.Fatalf("expected batch of 3, got %v", calls[0])
	}
}

func TestBatcherPriorityBypassesQueue(t *testing.T) {
	called := 0
	b := newEmbeddingBatcher(func(ctx context.Context, texts []string) ([][]float32, error) {
		called++
		return [][]float32{{9}}, nil
	}, 10, time.Hour)

	v, err := b.embed(context.Background(), "urgent", 10)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(v) != 1 || v[0] != 9 {
		t.Fatalf("unexpected vector: %v", v)
	}
	if called != 1 {
		t.Fatalf("expected immediate direct call, got %d calls", called)
	}
}

func TestBatcherFlushesOnTimerWhenBelowBatchSize(t *testing.T) {
	b := newEmbeddingBatcher(func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	}, 10, 20*time.Millisecond)

	v, err := b.embed(context.Background(), "lonely", 0)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(v) != 1 {
		t.Fatalf("unexpected vector: %v", v)
	}
}
