package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"calcstream/internal/besteffort"
	"calcstream/internal/calc"
	"calcstream/internal/domain"
	"calcstream/internal/event"
)

// ResultCache is the cache surface the workflow needs. Reads never fail;
// they report a miss instead.
type ResultCache interface {
	Get(ctx context.Context, req domain.CalculationRequest) (float64, bool)
	Set(ctx context.Context, req domain.CalculationRequest, result float64, ttl time.Duration) error
}

// EventSink publishes the two lifecycle events. Errors are reported to the
// orchestrator, which absorbs them best-effort.
type EventSink interface {
	PublishStarted(ctx context.Context, ev event.StartedEvent) error
	PublishCompleted(ctx context.Context, ev event.CompletedEvent) error
}

type Config struct {
	CacheTTL time.Duration
}

func (c *Config) withDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
}

// Orchestrator runs the request protocol: validate, emit Started, consult
// the cache, compute on miss and write through, emit Completed, return.
// Broker and cache availability never change the returned result; the
// caller only ever sees a success or a structured validation/calculation
// failure.
type Orchestrator struct {
	cfg    Config
	cache  ResultCache
	events EventSink
	side   besteffort.Runner
	log    *slog.Logger

	compute func(domain.Operation, float64, float64) (float64, error)
	now     func() time.Time
}

func New(cfg Config, cache ResultCache, events EventSink, log *slog.Logger) *Orchestrator {
	cfg.withDefaults()
	return &Orchestrator{
		cfg:     cfg,
		cache:   cache,
		events:  events,
		side:    besteffort.New(log),
		log:     log,
		compute: calc.Compute,
		now:     time.Now,
	}
}

type userIDKey struct{}

// WithUserID attaches the caller's identity to the context. Event
// emission picks it up best-effort; absence is fine.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

func UserIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// Execute runs one calculation end to end. Validation failures
// short-circuit before any event or cache access. Every request that
// passes validation produces one Started and one Completed event,
// best-effort, regardless of outcome — including a panic escaping the
// later steps, which is converted into a workflow-error response.
func (o *Orchestrator) Execute(ctx context.Context, req *domain.CalculationRequest, operationID string) (resp domain.CalculationResponse) {
	start := o.now()

	if req == nil {
		return domain.FailureResponse("request is required")
	}
	if strings.TrimSpace(operationID) == "" {
		return domain.FailureResponse("operation id is required")
	}
	if err := req.Validate(); err != nil {
		return domain.FailureResponse(err.Error())
	}

	r := *req
	userID := UserIDFrom(ctx)
	cacheHit := false

	defer func() {
		if rec := recover(); rec != nil {
			o.log.Error("workflow panicked", "operationId", operationID, "panic", fmt.Sprint(rec))
			resp = domain.FailureResponse(fmt.Sprintf("workflow error: %v", rec))
			o.emitCompleted(ctx, r, operationID, userID, resp, cacheHit, start)
		}
	}()

	started := event.StartedEvent{
		OperationID: operationID,
		Operation:   r.Operation,
		X:           r.X,
		Y:           r.Y,
		UserID:      userID,
		Timestamp:   o.now().UTC(),
	}
	o.side.Do(ctx, "publish started event", func(ctx context.Context) error {
		return o.events.PublishStarted(ctx, started)
	})

	if cached, ok := o.cache.Get(ctx, r); ok {
		cacheHit = true
		resp = domain.SuccessResponse(cached, true)
	} else if result, err := o.compute(r.Operation, r.X, r.Y); err != nil {
		resp = domain.FailureResponse(err.Error())
	} else {
		resp = domain.SuccessResponse(result, false)
		o.side.Do(ctx, "cache result", func(ctx context.Context) error {
			return o.cache.Set(ctx, r, result, o.cfg.CacheTTL)
		})
	}

	o.emitCompleted(ctx, r, operationID, userID, resp, cacheHit, start)
	return resp
}

func (o *Orchestrator) emitCompleted(ctx context.Context, r domain.CalculationRequest, operationID, userID string, resp domain.CalculationResponse, cacheHit bool, start time.Time) {
	completed := event.CompletedEvent{
		OperationID:     operationID,
		Operation:       r.Operation,
		X:               r.X,
		Y:               r.Y,
		UserID:          userID,
		Result:          resp.Result,
		Success:         resp.Success,
		Error:           resp.Error,
		ExecutionTimeMs: o.now().Sub(start).Milliseconds(),
		CacheHit:        cacheHit,
		Timestamp:       o.now().UTC(),
	}
	o.side.Do(ctx, "publish completed event", func(ctx context.Context) error {
		return o.events.PublishCompleted(ctx, completed)
	})
}
