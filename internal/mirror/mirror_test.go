package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"calcstream/internal/domain"
	"calcstream/internal/event"

	"github.com/rabbitmq/amqp091-go"
)

func TestConfigValidate(t *testing.T) {
	if err := (Config{}).Validate(); err != nil {
		t.Fatalf("disabled mirror must validate: %v", err)
	}
	if err := (Config{Enabled: true}).Validate(); err == nil {
		t.Fatalf("expected error without url")
	}
	if err := (Config{Enabled: true, URL: "amqp://localhost"}).Validate(); err == nil {
		t.Fatalf("expected error without exchange")
	}
	cfg := Config{Enabled: true, URL: "amqp://localhost", Exchange: "calculations.audit"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestOnCompletedPublishesRoutedMessage(t *testing.T) {
	p := &Publisher{cfg: Config{Enabled: true, Exchange: "calculations.audit"}}
	var gotKey string
	var gotMsg amqp091.Publishing
	p.publish = func(_ context.Context, key string, msg amqp091.Publishing) error {
		gotKey = key
		gotMsg = msg
		return nil
	}

	result := 15.0
	ev := event.CompletedEvent{
		OperationID: "op-1", Operation: domain.OpAdd, X: 10, Y: 5,
		Result: &result, Success: true, ExecutionTimeMs: 2,
	}
	if err := p.OnCompleted(context.Background(), ev); err != nil {
		t.Fatalf("on completed: %v", err)
	}
	if gotKey != "completed.add" {
		t.Fatalf("routing key = %q", gotKey)
	}
	if gotMsg.Headers[event.HeaderEventType] != event.TypeCompleted {
		t.Fatalf("eventType header = %v", gotMsg.Headers)
	}

	var decoded event.CompletedEvent
	if err := json.Unmarshal(gotMsg.Body, &decoded); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if decoded.OperationID != "op-1" || !decoded.Success || *decoded.Result != 15 {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestOnCompletedSurfacesPublishError(t *testing.T) {
	p := &Publisher{cfg: Config{Enabled: true, Exchange: "x"}}
	p.publish = func(context.Context, string, amqp091.Publishing) error {
		return errors.New("channel closed")
	}
	if err := p.OnCompleted(context.Background(), event.CompletedEvent{OperationID: "op-2"}); err == nil {
		t.Fatalf("expected publish error to surface to the hook caller")
	}
}

func TestOnStartedIsNotMirrored(t *testing.T) {
	p := &Publisher{cfg: Config{Enabled: true, Exchange: "x"}}
	calls := 0
	p.publish = func(context.Context, string, amqp091.Publishing) error {
		calls++
		return nil
	}
	if err := p.OnStarted(context.Background(), event.StartedEvent{OperationID: "op-3"}); err != nil {
		t.Fatalf("on started: %v", err)
	}
	if calls != 0 {
		t.Fatalf("started events must not be mirrored")
	}
}
