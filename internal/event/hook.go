package event

import "context"

// Hook is the consumer-side processing extension point. A hook error means
// the triggering message is not committed and will be redelivered.
type Hook interface {
	OnStarted(ctx context.Context, ev StartedEvent) error
	OnCompleted(ctx context.Context, ev CompletedEvent) error
}

// NopHook processes nothing; the consumer still logs and commits.
type NopHook struct{}

func (NopHook) OnStarted(context.Context, StartedEvent) error     { return nil }
func (NopHook) OnCompleted(context.Context, CompletedEvent) error { return nil }

// MultiHook fans an event out to several hooks in order, stopping at the
// first failure.
type MultiHook []Hook

func (m MultiHook) OnStarted(ctx context.Context, ev StartedEvent) error {
	for _, h := range m {
		if err := h.OnStarted(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiHook) OnCompleted(ctx context.Context, ev CompletedEvent) error {
	for _, h := range m {
		if err := h.OnCompleted(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
