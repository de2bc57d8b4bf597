package calc

import (
	"errors"
	"fmt"

	"calcstream/internal/domain"
)

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrUnsupported    = errors.New("unsupported operation")
)

// Compute evaluates one binary arithmetic operation. It is pure and
// deterministic: no I/O, no state, and it never panics on finite inputs.
// The zero divisor is rejected before dividing so the result never relies
// on IEEE infinity propagation.
func Compute(op domain.Operation, x, y float64) (float64, error) {
	switch op {
	case domain.OpAdd:
		return x + y, nil
	case domain.OpSubtract:
		return x - y, nil
	case domain.OpMultiply:
		return x * y, nil
	case domain.OpDivide:
		if y == 0 {
			return 0, ErrDivisionByZero
		}
		return x / y, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupported, op)
}
