package eventbus

import (
	"context"
	"testing"

	"github.com/ubix08/orix/internal/config"
)

func TestNewReturnsNoopWhenDisabled(t *testing.T) {
	p := New(config.KafkaConfig{Enabled: false})
	if err := p.Publish(context.Background(), Envelope{Type: "plan_created"}); err != nil {
		t.Fatalf("expected no-op publisher to succeed, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("expected no-op close to succeed, got %v", err)
	}
}

func TestNewReturnsNoopWhenMissingTopicOrBrokers(t *testing.T) {
	p := New(config.KafkaConfig{Enabled: true})
	if _, ok := p.(*KafkaPublisher); ok {
		t.Fatal("expected noop publisher when topic/brokers are unset even if enabled")
	}
}
