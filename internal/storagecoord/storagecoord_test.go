package storagecoord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ubix08/orix/internal/config"
)

type recordingLayer struct {
	mu    sync.Mutex
	calls [][]Message
	err   error
}

func (l *recordingLayer) Write(ctx context.Context, msgs []Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	batch := append([]Message{}, msgs...)
	l.calls = append(l.calls, batch)
	return nil
}

func (l *recordingLayer) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func testCfg() config.StorageCoordinatorConfig {
	return config.StorageCoordinatorConfig{BatchSize: 2, FlushIntervalS: 1, MaxRetries: 1}
}

func TestSaveMessageFlushesAtBatchSize(t *testing.T) {
	critical := &recordingLayer{}
	archiveL := &recordingLayer{}
	memoryL := &recordingLayer{}
	c := New(testCfg(), critical, archiveL, memoryL)

	ctx := context.Background()
	if err := c.SaveMessage(ctx, Message{SessionID: "s1", Content: "a"}); err != nil {
		t.Fatalf("save 1: %v", err)
	}
	if critical.callCount() != 0 {
		t.Fatal("expected no flush before batchSize reached")
	}
	if err := c.SaveMessage(ctx, Message{SessionID: "s1", Content: "b"}); err != nil {
		t.Fatalf("save 2: %v", err)
	}
	if critical.callCount() != 1 {
		t.Fatalf("expected flush once batchSize reached, got %d calls", critical.callCount())
	}
	if len(critical.calls[0]) != 2 {
		t.Fatalf("expected batch of 2, got %d", len(critical.calls[0]))
	}
	if archiveL.callCount() != 1 || memoryL.callCount() != 1 {
		t.Fatal("expected lower-priority layers to also receive the flush")
	}
}

func TestCriticalFailureRequeuesAndReturnsPersistenceError(t *testing.T) {
	critical := &recordingLayer{err: errors.New("redis down")}
	archiveL := &recordingLayer{}
	memoryL := &recordingLayer{}
	c := New(testCfg(), critical, archiveL, memoryL)

	ctx := context.Background()
	c.SaveMessage(ctx, Message{SessionID: "s1", Content: "a"})
	err := c.SaveMessage(ctx, Message{SessionID: "s1", Content: "b"})

	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if archiveL.callCount() != 0 {
		t.Fatal("expected archive layer not written when critical layer fails")
	}

	c.mu.Lock()
	queued := len(c.queue)
	c.mu.Unlock()
	if queued != 2 {
		t.Fatalf("expected failed batch requeued, got %d queued", queued)
	}
}

func TestLowerPriorityFailureIsSwallowed(t *testing.T) {
	critical := &recordingLayer{}
	archiveL := &recordingLayer{err: errors.New("pg down")}
	memoryL := &recordingLayer{}
	c := New(testCfg(), critical, archiveL, memoryL)

	ctx := context.Background()
	c.SaveMessage(ctx, Message{SessionID: "s1", Content: "a"})
	err := c.SaveMessage(ctx, Message{SessionID: "s1", Content: "b"})
	if err != nil {
		t.Fatalf("expected archive failure to be swallowed, got %v", err)
	}
	if memoryL.callCount() != 1 {
		t.Fatal("expected memory layer still written despite archive failure")
	}
}

func TestPriorityMessageFlushesImmediatelyBelowBatchSize(t *testing.T) {
	critical := &recordingLayer{}
	archiveL := &recordingLayer{}
	memoryL := &recordingLayer{}
	c := New(testCfg(), critical, archiveL, memoryL)

	ctx := context.Background()
	if err := c.SaveMessage(ctx, Message{SessionID: "s1", Content: "a", Priority: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if critical.callCount() != 1 {
		t.Fatalf("expected immediate flush for a priority message below batchSize, got %d calls", critical.callCount())
	}
	if len(critical.calls[0]) != 1 {
		t.Fatalf("expected batch of 1, got %d", len(critical.calls[0]))
	}
}

func TestFlushTimerFiresBelowBatchSize(t *testing.T) {
	critical := &recordingLayer{}
	archiveL := &recordingLayer{}
	memoryL := &recordingLayer{}
	cfg := config.StorageCoordinatorConfig{BatchSize: 10, FlushIntervalS: 0, MaxRetries: 1}
	c := New(cfg, critical, archiveL, memoryL)
	c.flushInterval = 20 * time.Millisecond

	c.SaveMessage(context.Background(), Message{SessionID: "s1", Content: "lonely"})

	deadline := time.Now().Add(500 * time.Millisecond)
	for critical.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if critical.callCount() != 1 {
		t.Fatalf("expected timer-triggered flush, got %d calls", critical.callCount())
	}
}
