package event

import (
	"time"

	"calcstream/internal/domain"
)

// Message headers carried by every published record.
const (
	HeaderEventType = "eventType"
	HeaderTimestamp = "timestamp"
)

// eventType header values.
const (
	TypeStarted   = "CalculationStarted"
	TypeCompleted = "CalculationCompleted"
)

// StartedEvent is emitted once per request before the cache is consulted.
// Immutable once constructed.
type StartedEvent struct {
	OperationID string           `json:"operationId"`
	Operation   domain.Operation `json:"operation"`
	X           float64          `json:"x"`
	Y           float64          `json:"y"`
	UserID      string           `json:"userId,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// CompletedEvent is emitted once per request regardless of outcome,
// correlated to its StartedEvent by operation id.
type CompletedEvent struct {
	OperationID     string           `json:"operationId"`
	Operation       domain.Operation `json:"operation"`
	X               float64          `json:"x"`
	Y               float64          `json:"y"`
	UserID          string           `json:"userId,omitempty"`
	Result          *float64         `json:"result,omitempty"`
	Success         bool             `json:"success"`
	Error           string           `json:"error,omitempty"`
	ExecutionTimeMs int64            `json:"executionTimeMs"`
	CacheHit        bool             `json:"cacheHit"`
	Timestamp       time.Time        `json:"timestamp"`
}
