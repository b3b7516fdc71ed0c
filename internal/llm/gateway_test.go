package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/ubix08/orix/internal/config"
)

type fakeProvider struct {
	chatCalls int
	failUntil int
	reply     Message
	err       error
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error) {
	f.chatCalls++
	if f.chatCalls <= f.failUntil {
		return Message{}, newErr("chat", KindRateLimited, errors.New("boom"))
	}
	return f.reply, f.err
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error {
	f.chatCalls++
	if f.chatCalls <= f.failUntil {
		return newErr("chat", KindRateLimited, errors.New("boom"))
	}
	h.OnDelta(f.reply.Content)
	for _, tc := range f.reply.ToolCalls {
		h.OnToolCall(tc)
	}
	return f.err
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.LLM.RetryAttempts = 3
	cfg.LLM.RetryBaseDelayMS = 1
	cfg.LLM.CallTimeoutSec = 5
	cfg.LLM.BreakerThreshold = 5
	cfg.LLM.BreakerCooldownMS = 50
	return cfg
}

func TestGenerateWithToolsNonStreaming(t *testing.T) {
	fp := &fakeProvider{reply: Message{Content: "4"}}
	gw := NewGateway(testConfig(), fp)
	res, err := gw.GenerateWithTools(context.Background(), []Message{{Role: "user", Content: "2+2"}}, nil, GenerateOptions{Model: "m"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "4" {
		t.Fatalf("got %q", res.Text)
	}
}

func TestGenerateWithToolsRetriesThenSucceeds(t *testing.T) {
	fp := &fakeProvider{failUntil: 2, reply: Message{Content: "ok"}}
	gw := NewGateway(testConfig(), fp)
	res, err := gw.GenerateWithTools(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, GenerateOptions{Model: "m"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "ok" {
		t.Fatalf("got %q", res.Text)
	}
	if fp.chatCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", fp.chatCalls)
	}
}

func TestGenerateWithToolsStreaming(t *testing.T) {
	fp := &fakeProvider{reply: Message{Content: "hello", ToolCalls: []ToolCall{{Name: "x"}}}}
	gw := NewGateway(testConfig(), fp)
	var got string
	res, err := gw.GenerateWithTools(context.Background(), nil, nil, GenerateOptions{Model: "m", Stream: true}, func(d string) { got += d })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" || res.Text != "hello" {
		t.Fatalf("got delta=%q result=%q", got, res.Text)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Name != "x" {
		t.Fatalf("expected one tool call preserved in order, got %+v", res.ToolCalls)
	}
}

func TestGenerateWithToolsExhaustsRetriesAndOpensBreaker(t *testing.T) {
	fp := &fakeProvider{failUntil: 100}
	cfg := testConfig()
	cfg.LLM.RetryAttempts = 2
	cfg.LLM.BreakerThreshold = 2
	gw := NewGateway(cfg, fp)
	_, err := gw.GenerateWithTools(context.Background(), nil, nil, GenerateOptions{Model: "m"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if gw.BreakerState() != "open" {
		t.Fatalf("expected breaker open after 2 consecutive failures, got %s", gw.BreakerState())
	}
}
