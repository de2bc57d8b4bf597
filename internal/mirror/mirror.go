// Package mirror republishes completed calculations to an AMQP exchange
// so audit consumers outside the Kafka cluster can subscribe to them.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"calcstream/internal/event"

	"github.com/rabbitmq/amqp091-go"
)

type Config struct {
	Enabled  bool
	URL      string
	Exchange string
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("mirror url is required")
	}
	if c.Exchange == "" {
		return errors.New("mirror exchange is required")
	}
	return nil
}

// Publisher is an event hook that forwards Completed events to a durable
// topic exchange, routed by operation so audit queues can bind
// selectively. Started events are not mirrored.
type Publisher struct {
	cfg  Config
	conn *amqp091.Connection
	ch   *amqp091.Channel

	publish func(ctx context.Context, routingKey string, msg amqp091.Publishing) error
}

func New(cfg Config) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Publisher{cfg: cfg}, nil
}

// Start dials the broker and declares the exchange. Callers must Close on
// shutdown.
func (p *Publisher) Start() error {
	conn, err := amqp091.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	p.conn, p.ch = conn, ch
	p.publish = func(ctx context.Context, routingKey string, msg amqp091.Publishing) error {
		return ch.PublishWithContext(ctx, p.cfg.Exchange, routingKey, false, false, msg)
	}
	return nil
}

func (p *Publisher) Close() error {
	var errs []error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) OnStarted(context.Context, event.StartedEvent) error {
	return nil
}

func (p *Publisher) OnCompleted(ctx context.Context, ev event.CompletedEvent) error {
	if p.publish == nil {
		return errors.New("mirror not started")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode mirrored event: %w", err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers: amqp091.Table{
			event.HeaderEventType: event.TypeCompleted,
			event.HeaderTimestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
		},
		Body: body,
	}
	key := "completed." + string(ev.Operation)
	if err := p.publish(ctx, key, msg); err != nil {
		return fmt.Errorf("mirror completed %s: %w", ev.OperationID, err)
	}
	return nil
}
