package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"calcstream/internal/domain"

	"github.com/redis/go-redis/v9"
)

// Client is the slice of the redis command surface the store uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store caches calculation results in Redis, keyed by operation and
// operands. Entries are TTL-bounded and shared across all workflow
// instances; writes are last-writer-wins.
type Store struct {
	client Client
	log    *slog.Logger
}

func New(addr, password string, db int, log *slog.Logger) *Store {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &Store{client: rdb, log: log}
}

// NewWithClient injects a prebuilt client, used by tests.
func NewWithClient(client Client, log *slog.Logger) *Store {
	return &Store{client: client, log: log}
}

// Key derives the cache key for a request. Both lookups and writes go
// through this one function so identical operation/operand tuples always
// collide to the same key.
func Key(op domain.Operation, x, y float64) string {
	return fmt.Sprintf("%s:%s:%s", op, formatOperand(x), formatOperand(y))
}

// formatOperand renders an operand in its shortest lossless form, with no
// locale-specific separators. The stored value uses the same rendering.
func formatOperand(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Get returns the cached result for the request. Absent keys, transport
// errors, and unparsable stored values all read as a miss; the caller
// never sees a cache error.
func (s *Store) Get(ctx context.Context, req domain.CalculationRequest) (float64, bool) {
	key := Key(req.Operation, req.X, req.Y)
	raw, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("cache read failed, treating as miss", "key", key, "error", err)
		}
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.log.Warn("cache value unparsable, treating as miss", "key", key, "value", raw)
		return 0, false
	}
	return v, true
}

// Set writes the result unconditionally with the given TTL.
func (s *Store) Set(ctx context.Context, req domain.CalculationRequest, result float64, ttl time.Duration) error {
	key := Key(req.Operation, req.X, req.Y)
	if err := s.client.Set(ctx, key, formatOperand(result), ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Exists reports whether a key is present. Diagnostics only; the request
// path uses Get.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("cache exists %s: %w", key, err)
	}
	return n > 0, nil
}
