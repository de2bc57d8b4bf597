// Package besteffort isolates side effects whose failure must never reach
// the caller. A Runner call has no return value, so call sites cannot
// accidentally propagate the error; it is logged and dropped.
package besteffort

import (
	"context"
	"fmt"
	"log/slog"
)

type Runner struct {
	log *slog.Logger
}

func New(log *slog.Logger) Runner {
	return Runner{log: log}
}

// Do runs fn and absorbs its failure, including a panic. The name labels
// the side effect in logs.
func (r Runner) Do(ctx context.Context, name string, fn func(context.Context) error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("best-effort side effect panicked", "name", name, "panic", fmt.Sprint(rec))
		}
	}()
	if err := fn(ctx); err != nil {
		r.log.Warn("best-effort side effect failed", "name", name, "error", err)
	}
}
