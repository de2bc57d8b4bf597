package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Operation is the arithmetic kind a request asks for.
type Operation string

const (
	OpAdd      Operation = "add"
	OpSubtract Operation = "subtract"
	OpMultiply Operation = "multiply"
	OpDivide   Operation = "divide"
)

var ErrUnknownOperation = errors.New("unknown operation")

// ParseOperation maps a caller-supplied tag onto an Operation.
// Tags are matched case-insensitively.
func ParseOperation(tag string) (Operation, error) {
	switch Operation(strings.ToLower(strings.TrimSpace(tag))) {
	case OpAdd:
		return OpAdd, nil
	case OpSubtract:
		return OpSubtract, nil
	case OpMultiply:
		return OpMultiply, nil
	case OpDivide:
		return OpDivide, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOperation, tag)
}

type CalculationRequest struct {
	Operation Operation
	X         float64
	Y         float64
}

// Validate enforces the request input invariants: a known operation tag
// and finite operands. A zero divisor is not rejected here; that failure
// belongs to the calculation itself so that it still produces lifecycle
// events. A valid computation is free to produce NaN or Inf.
func (r CalculationRequest) Validate() error {
	if _, err := ParseOperation(string(r.Operation)); err != nil {
		return err
	}
	if !isFinite(r.X) {
		return fmt.Errorf("operand x must be finite, got %v", r.X)
	}
	if !isFinite(r.Y) {
		return fmt.Errorf("operand y must be finite, got %v", r.Y)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// CalculationResponse is what the caller sees. Result and Error are mutually
// exclusive: Result is set iff Success, Error iff !Success.
type CalculationResponse struct {
	Success  bool
	Result   *float64
	Error    string
	CacheHit bool
}

func SuccessResponse(result float64, cacheHit bool) CalculationResponse {
	return CalculationResponse{Success: true, Result: &result, CacheHit: cacheHit}
}

func FailureResponse(msg string) CalculationResponse {
	return CalculationResponse{Success: false, Error: msg}
}
