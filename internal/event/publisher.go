package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

type PublisherConfig struct {
	Brokers         []string
	StartedTopic    string
	CompletedTopic  string
	ClientID        string
	DeliveryTimeout time.Duration
}

func (c *PublisherConfig) withDefaults() {
	if c.StartedTopic == "" {
		c.StartedTopic = "calculations.started"
	}
	if c.CompletedTopic == "" {
		c.CompletedTopic = "calculations.completed"
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 10 * time.Second
	}
}

func (c PublisherConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("broker.brokers is required")
	}
	return nil
}

// Publisher writes Started/Completed events with at-least-once,
// idempotent-producer semantics: all in-sync replicas must acknowledge and
// the client deduplicates its own retries. The record key is the operation
// id so both events of one request land in the same partition, preserving
// Started-before-Completed order for that id.
type Publisher struct {
	cfg    PublisherConfig
	client *kgo.Client

	produce func(context.Context, *kgo.Record) error
	ping    func(context.Context) error
	now     func() time.Time
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka producer: %w", err)
	}
	p := &Publisher{cfg: cfg, client: cl, now: time.Now}
	p.produce = func(ctx context.Context, rec *kgo.Record) error {
		return cl.ProduceSync(ctx, rec).FirstErr()
	}
	p.ping = cl.Ping
	return p, nil
}

func (p *Publisher) PublishStarted(ctx context.Context, ev StartedEvent) error {
	return p.publish(ctx, p.cfg.StartedTopic, TypeStarted, ev.OperationID, ev)
}

func (p *Publisher) PublishCompleted(ctx context.Context, ev CompletedEvent) error {
	return p.publish(ctx, p.cfg.CompletedTopic, TypeCompleted, ev.OperationID, ev)
}

func (p *Publisher) publish(ctx context.Context, topic, eventType, operationID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}
	rec := &kgo.Record{
		Topic: topic,
		Key:   []byte(operationID),
		Value: body,
		Headers: []kgo.RecordHeader{
			{Key: HeaderEventType, Value: []byte(eventType)},
			{Key: HeaderTimestamp, Value: []byte(p.now().UTC().Format(time.RFC3339Nano))},
		},
	}
	if err := p.produce(ctx, rec); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// Ping requests broker metadata, reporting cluster reachability.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.ping(ctx)
}

func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Close()
	}
}
