package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

type ConsumerConfig struct {
	Brokers        []string
	StartedTopic   string
	CompletedTopic string
	GroupID        string
	ClientID       string

	PollInterval  time.Duration
	ReadyInterval time.Duration
	ReadyTimeout  time.Duration
	ReadyAttempts int

	TopicMissingBackoff time.Duration
	BrokerDownBackoff   time.Duration
	ErrorBackoff        time.Duration
}

func (c *ConsumerConfig) withDefaults() {
	if c.StartedTopic == "" {
		c.StartedTopic = "calculations.started"
	}
	if c.CompletedTopic == "" {
		c.CompletedTopic = "calculations.completed"
	}
	if c.GroupID == "" {
		c.GroupID = "calcstream-consumers"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ReadyInterval <= 0 {
		c.ReadyInterval = time.Second
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 5 * time.Second
	}
	if c.ReadyAttempts <= 0 {
		c.ReadyAttempts = 30
	}
	if c.TopicMissingBackoff <= 0 {
		c.TopicMissingBackoff = 10 * time.Second
	}
	if c.BrokerDownBackoff <= 0 {
		c.BrokerDownBackoff = 10 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 2 * time.Second
	}
}

func (c ConsumerConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("broker.brokers is required")
	}
	return nil
}

type errClass int

const (
	classGeneric errClass = iota
	classTopicMissing
	classBrokerDown
)

func (c errClass) String() string {
	switch c {
	case classTopicMissing:
		return "topic_missing"
	case classBrokerDown:
		return "broker_down"
	}
	return "generic"
}

type topicPartition struct {
	topic     string
	partition int32
}

// Consumer drains both calculation topics in a long-running poll loop with
// manual offset commit. Consume errors never terminate the loop; they map
// to a per-class backoff and the loop retries. Cancellation is observed at
// the poll boundary.
type Consumer struct {
	cfg    ConsumerConfig
	log    *slog.Logger
	hook   Hook
	client *kgo.Client

	mu      sync.Mutex
	offsets map[topicPartition]int64

	poll   func(context.Context) kgo.Fetches
	commit func(context.Context, *kgo.Record) error
	ping   func(context.Context) error
	wait   func(context.Context, time.Duration) bool
}

func NewConsumer(cfg ConsumerConfig, hook Hook, log *slog.Logger) (*Consumer, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if hook == nil {
		hook = NopHook{}
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.StartedTopic, cfg.CompletedTopic),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.FetchMaxWait(cfg.PollInterval),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka consumer: %w", err)
	}
	c := &Consumer{
		cfg:     cfg,
		log:     log,
		hook:    hook,
		client:  cl,
		offsets: make(map[topicPartition]int64),
	}
	c.poll = func(ctx context.Context) kgo.Fetches { return cl.PollFetches(ctx) }
	c.commit = func(ctx context.Context, rec *kgo.Record) error { return cl.CommitRecords(ctx, rec) }
	c.ping = cl.Ping
	c.wait = waitFor
	return c, nil
}

// Run blocks until ctx is cancelled or the loop fails in a way no backoff
// class covers. The broker connection is released on every exit path.
func (c *Consumer) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("consumer run loop failed, stopping", "panic", r)
			err = fmt.Errorf("consumer fatal: %v", r)
		}
		if c.client != nil {
			c.client.Close()
		}
	}()

	c.waitForBroker(ctx)
	return c.runLoop(ctx)
}

// waitForBroker gates consumption on broker readiness, best-effort: after
// the attempt cap it logs a warning and consumption starts anyway.
func (c *Consumer) waitForBroker(ctx context.Context) {
	for attempt := 1; attempt <= c.cfg.ReadyAttempts; attempt++ {
		probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ReadyTimeout)
		err := c.ping(probeCtx)
		cancel()
		if err == nil {
			c.log.Info("broker reachable", "attempt", attempt)
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.log.Debug("broker not ready", "attempt", attempt, "error", err)
		if !c.wait(ctx, c.cfg.ReadyInterval) {
			return
		}
	}
	c.log.Warn("broker readiness not confirmed, consuming anyway", "attempts", c.cfg.ReadyAttempts)
}

func (c *Consumer) runLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			c.log.Info("consumer stopped")
			return ctx.Err()
		}
		pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollInterval)
		fetches := c.poll(pollCtx)
		cancel()
		if fetches.IsClientClosed() {
			c.log.Info("consumer stopped: client closed")
			return nil
		}
		if err := firstFetchError(fetches); err != nil {
			class := classifyConsumeError(err)
			delay := c.backoffFor(class)
			c.log.Warn("consume error, backing off", "class", class.String(), "delay", delay, "error", err)
			if !c.wait(ctx, delay) {
				continue
			}
			continue
		}
		c.processFetches(ctx, fetches)
	}
}

// firstFetchError surfaces the first real fetch error. Context errors are
// the poll deadline or shutdown, not broker failures; the loop handles
// those at its top.
func firstFetchError(fetches kgo.Fetches) error {
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
			continue
		}
		return fe.Err
	}
	return nil
}

// processFetches handles records in order, committing each synchronously
// after its handler returns. A handler or commit failure aborts the rest
// of this poll iteration and leaves the failed offset uncommitted, so the
// message is redelivered later.
func (c *Consumer) processFetches(ctx context.Context, fetches kgo.Fetches) {
	for _, rec := range fetches.Records() {
		if err := c.handleRecord(ctx, rec); err != nil {
			c.log.Error("message handling failed, offset left uncommitted",
				"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "error", err)
			return
		}
		if err := c.commit(ctx, rec); err != nil {
			c.log.Error("offset commit failed",
				"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "error", err)
			return
		}
		c.advance(rec)
	}
}

func (c *Consumer) handleRecord(ctx context.Context, rec *kgo.Record) error {
	switch et := headerValue(rec, HeaderEventType); et {
	case TypeStarted:
		var ev StartedEvent
		if err := json.Unmarshal(rec.Value, &ev); err != nil {
			return fmt.Errorf("decode started event: %w", err)
		}
		c.log.Info("calculation started",
			"operationId", ev.OperationID, "operation", ev.Operation, "x", ev.X, "y", ev.Y)
		return c.hook.OnStarted(ctx, ev)
	case TypeCompleted:
		var ev CompletedEvent
		if err := json.Unmarshal(rec.Value, &ev); err != nil {
			return fmt.Errorf("decode completed event: %w", err)
		}
		c.log.Info("calculation completed",
			"operationId", ev.OperationID, "success", ev.Success, "cacheHit", ev.CacheHit, "executionTimeMs", ev.ExecutionTimeMs)
		return c.hook.OnCompleted(ctx, ev)
	default:
		// Nothing further to do with it; committing is the correct outcome.
		c.log.Warn("unknown event type, committing without processing",
			"eventType", et, "topic", rec.Topic, "offset", rec.Offset)
		return nil
	}
}

func (c *Consumer) advance(rec *kgo.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offsets[topicPartition{rec.Topic, rec.Partition}] = rec.Offset + 1
}

// NextOffset reports the locally stored next-offset-to-commit for a
// partition. Diagnostics and tests only; the consumer is the sole writer.
func (c *Consumer) NextOffset(topic string, partition int32) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	off, ok := c.offsets[topicPartition{topic, partition}]
	return off, ok
}

func classifyConsumeError(err error) errClass {
	var ke *kerr.Error
	if errors.As(err, &ke) {
		switch ke.Code {
		case kerr.UnknownTopicOrPartition.Code, kerr.UnknownTopicID.Code:
			return classTopicMissing
		case kerr.BrokerNotAvailable.Code, kerr.LeaderNotAvailable.Code,
			kerr.NotLeaderForPartition.Code, kerr.NetworkException.Code:
			return classBrokerDown
		}
		return classGeneric
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return classBrokerDown
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return classBrokerDown
	}
	return classGeneric
}

func (c *Consumer) backoffFor(class errClass) time.Duration {
	switch class {
	case classTopicMissing:
		return c.cfg.TopicMissingBackoff
	case classBrokerDown:
		return c.cfg.BrokerDownBackoff
	}
	return c.cfg.ErrorBackoff
}

func headerValue(rec *kgo.Record, key string) string {
	for _, h := range rec.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func waitFor(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
