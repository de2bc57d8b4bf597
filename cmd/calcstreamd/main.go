package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"calcstream/internal/cache"
	"calcstream/internal/config"
	"calcstream/internal/domain"
	"calcstream/internal/event"
	"calcstream/internal/history"
	"calcstream/internal/mirror"
	"calcstream/internal/workflow"

	"github.com/google/uuid"
)

func main() {
	cfgPath := flag.String("config", "calcstream.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store := cache.New(cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB, logger)
	publisher, err := event.NewPublisher(event.PublisherConfig{
		Brokers:        cfg.Broker.Brokers,
		StartedTopic:   cfg.Broker.StartedTopic,
		CompletedTopic: cfg.Broker.CompletedTopic,
		ClientID:       cfg.Broker.ClientID,
	})
	if err != nil {
		log.Fatalf("new publisher: %v", err)
	}
	defer publisher.Close()

	orch := workflow.New(workflow.Config{CacheTTL: cfg.Cache.TTL}, store, publisher, logger)

	if args := flag.Args(); len(args) > 0 {
		code := runOnce(orch, args)
		publisher.Close()
		os.Exit(code)
	}

	var hooks event.MultiHook
	if cfg.History.Enabled {
		hs, err := history.Open(cfg.History.Path)
		if err != nil {
			log.Fatalf("open history store: %v", err)
		}
		defer hs.Close()
		hooks = append(hooks, history.NewRecorder(hs))
		logger.Info("history store enabled", "path", cfg.History.Path)
	}
	if cfg.Mirror.Enabled {
		m, err := mirror.New(mirror.Config{Enabled: true, URL: cfg.Mirror.URL, Exchange: cfg.Mirror.Exchange})
		if err != nil {
			log.Fatalf("new mirror: %v", err)
		}
		if err := m.Start(); err != nil {
			log.Fatalf("start mirror: %v", err)
		}
		defer m.Close()
		hooks = append(hooks, m)
		logger.Info("audit mirror enabled", "exchange", cfg.Mirror.Exchange)
	}
	var hook event.Hook = event.NopHook{}
	if len(hooks) > 0 {
		hook = hooks
	}

	consumer, err := event.NewConsumer(event.ConsumerConfig{
		Brokers:        cfg.Broker.Brokers,
		StartedTopic:   cfg.Broker.StartedTopic,
		CompletedTopic: cfg.Broker.CompletedTopic,
		GroupID:        cfg.Broker.GroupID,
		ClientID:       cfg.Broker.ClientID,
	}, hook, logger)
	if err != nil {
		log.Fatalf("new consumer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("calcstreamd running",
		"brokers", cfg.Broker.Brokers,
		"group", cfg.Broker.GroupID,
		"history", cfg.History.Enabled,
		"mirror", cfg.Mirror.Enabled,
	)
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("consumer: %v", err)
	}
}

// runOnce executes a single calculation from the command line, e.g.
// `calcstreamd add 10 5`, and prints the response.
func runOnce(orch *workflow.Orchestrator, args []string) int {
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: calcstreamd [add|subtract|multiply|divide] <x> <y>")
		return 2
	}
	op, err := domain.ParseOperation(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	x, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid operand x: %v\n", err)
		return 2
	}
	y, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid operand y: %v\n", err)
		return 2
	}

	req := domain.CalculationRequest{Operation: op, X: x, Y: y}
	resp := orch.Execute(context.Background(), &req, uuid.NewString())
	if !resp.Success {
		fmt.Fprintf(os.Stderr, "error: %s\n", resp.Error)
		return 1
	}
	cached := ""
	if resp.CacheHit {
		cached = " (cached)"
	}
	fmt.Printf("%v%s\n", *resp.Result, cached)
	return 0
}
