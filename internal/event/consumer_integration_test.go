package event

import (
	"context"
	"fmt"
	"testing"
	"time"

	"calcstream/internal/domain"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestKafkaContainerRoundTrip(t *testing.T) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("docker/container runtime unavailable: %v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        "docker.redpanda.com/redpandadata/redpanda:v24.1.8",
		ExposedPorts: []string{"9092/tcp"},
		Cmd:          []string{"redpanda", "start", "--overprovisioned", "--smp", "1", "--memory", "512M", "--reserve-memory", "0M", "--check=false", "--node-id", "0", "--kafka-addr", "0.0.0.0:9092", "--advertise-kafka-addr", "127.0.0.1:9092"},
		WaitingFor:   wait.ForLog("Successfully started Redpanda"),
	}
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("docker/container runtime unavailable: %v", err)
	}
	defer func() { _ = ctr.Terminate(ctx) }()

	host, _ := ctr.Host(ctx)
	port, _ := ctr.MappedPort(ctx, "9092")
	broker := fmt.Sprintf("%s:%s", host, port.Port())

	pub, err := NewPublisher(PublisherConfig{Brokers: []string{broker}})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	started := StartedEvent{
		OperationID: "it-op-1",
		Operation:   domain.OpMultiply,
		X:           7, Y: 6,
		Timestamp: time.Now().UTC(),
	}
	if err := pub.PublishStarted(ctx, started); err != nil {
		t.Fatalf("publish started: %v", err)
	}
	result := 42.0
	completed := CompletedEvent{
		OperationID: "it-op-1",
		Operation:   domain.OpMultiply,
		X:           7, Y: 6,
		Result:  &result,
		Success: true, ExecutionTimeMs: 1,
		Timestamp: time.Now().UTC(),
	}
	if err := pub.PublishCompleted(ctx, completed); err != nil {
		t.Fatalf("publish completed: %v", err)
	}

	hook := &captureHook{}
	consumer, err := NewConsumer(ConsumerConfig{Brokers: []string{broker}, GroupID: "calcstream-it", ReadyAttempts: 5}, hook, discardLogger())
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	go func() { _ = consumer.Run(runCtx) }()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-runCtx.Done():
			t.Fatalf("timed out waiting for consumed events")
		case <-ticker.C:
			hook.mu.Lock()
			gotStarted := len(hook.started)
			gotCompleted := len(hook.completed)
			hook.mu.Unlock()
			if gotStarted > 0 && gotCompleted > 0 {
				if _, ok := consumer.NextOffset("calculations.started", 0); !ok {
					t.Fatalf("next offset not stored after processing")
				}
				return
			}
		}
	}
}
