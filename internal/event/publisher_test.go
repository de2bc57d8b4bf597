package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"calcstream/internal/domain"

	"github.com/twmb/franz-go/pkg/kgo"
)

func TestPublisherConfigDefaults(t *testing.T) {
	cfg := PublisherConfig{Brokers: []string{"127.0.0.1:9092"}}
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.StartedTopic != "calculations.started" || cfg.CompletedTopic != "calculations.completed" {
		t.Fatalf("unexpected default topics: %+v", cfg)
	}
	if cfg.DeliveryTimeout != 10*time.Second {
		t.Fatalf("unexpected default delivery timeout: %v", cfg.DeliveryTimeout)
	}
}

func TestPublisherConfigRequiresBrokers(t *testing.T) {
	cfg := PublisherConfig{}
	cfg.withDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error without brokers")
	}
}

func newTestPublisher(produce func(context.Context, *kgo.Record) error) *Publisher {
	cfg := PublisherConfig{Brokers: []string{"127.0.0.1:9092"}}
	cfg.withDefaults()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Publisher{cfg: cfg, produce: produce, now: func() time.Time { return fixed }}
}

func TestPublishStartedRecordShape(t *testing.T) {
	var got *kgo.Record
	p := newTestPublisher(func(_ context.Context, rec *kgo.Record) error {
		got = rec
		return nil
	})

	ev := StartedEvent{
		OperationID: "op-1",
		Operation:   domain.OpAdd,
		X:           10, Y: 5,
		UserID:    "u1",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := p.PublishStarted(context.Background(), ev); err != nil {
		t.Fatalf("publish started: %v", err)
	}
	if got.Topic != "calculations.started" {
		t.Fatalf("topic = %q", got.Topic)
	}
	if string(got.Key) != "op-1" {
		t.Fatalf("partition key = %q, want operation id", got.Key)
	}
	if headerValue(got, HeaderEventType) != TypeStarted {
		t.Fatalf("eventType header = %q", headerValue(got, HeaderEventType))
	}
	if _, err := time.Parse(time.RFC3339Nano, headerValue(got, HeaderTimestamp)); err != nil {
		t.Fatalf("timestamp header unparsable: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(got.Value, &body); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	for _, key := range []string{"operationId", "operation", "x", "y", "userId", "timestamp"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("payload missing %q: %v", key, body)
		}
	}
}

func TestPublishCompletedRecordShape(t *testing.T) {
	var got *kgo.Record
	p := newTestPublisher(func(_ context.Context, rec *kgo.Record) error {
		got = rec
		return nil
	})

	result := 15.0
	ev := CompletedEvent{
		OperationID: "op-2",
		Operation:   domain.OpAdd,
		X:           10, Y: 5,
		Result:          &result,
		Success:         true,
		ExecutionTimeMs: 3,
		CacheHit:        true,
		Timestamp:       time.Now().UTC(),
	}
	if err := p.PublishCompleted(context.Background(), ev); err != nil {
		t.Fatalf("publish completed: %v", err)
	}
	if got.Topic != "calculations.completed" {
		t.Fatalf("topic = %q", got.Topic)
	}
	if headerValue(got, HeaderEventType) != TypeCompleted {
		t.Fatalf("eventType header = %q", headerValue(got, HeaderEventType))
	}

	var body map[string]any
	if err := json.Unmarshal(got.Value, &body); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if body["success"] != true || body["cacheHit"] != true {
		t.Fatalf("unexpected outcome fields: %v", body)
	}
	if body["result"] != 15.0 {
		t.Fatalf("result = %v", body["result"])
	}
	if _, ok := body["executionTimeMs"]; !ok {
		t.Fatalf("payload missing executionTimeMs: %v", body)
	}
	if _, ok := body["error"]; ok {
		t.Fatalf("error must be omitted on success: %v", body)
	}
}

func TestPublishSurfacesTransportError(t *testing.T) {
	transportErr := errors.New("delivery timeout exceeded")
	p := newTestPublisher(func(context.Context, *kgo.Record) error { return transportErr })
	err := p.PublishStarted(context.Background(), StartedEvent{OperationID: "op-3"})
	if !errors.Is(err, transportErr) {
		t.Fatalf("err = %v, want wrapped transport error", err)
	}
}
