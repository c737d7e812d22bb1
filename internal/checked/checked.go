// checked.go - Overflow-checked arithmetic over the ledger value domain.
//
// Every balance computation in the validator and the applier goes through
// this package. A failed operation is a per-operation rejection, never a
// process failure.

package checked

import (
	"math"
	"math/bits"

	"github.com/pkg/errors"
)

// Arithmetic failure classes. All are recoverable: callers reject the
// offending transaction and keep going.
var (
	ErrOverflow      = errors.New("arithmetic overflow")
	ErrUnderflow     = errors.New("arithmetic underflow")
	ErrPrecisionLoss = errors.New("precision loss rejected")
)

// Add returns a + b, or ErrOverflow if the sum does not fit in uint64.
func Add(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, errors.Wrapf(ErrOverflow, "add %d %d", a, b)
	}
	return a + b, nil
}

// Sub returns a - b, or ErrUnderflow if b > a. Values are unsigned, so
// underflow is the only failure mode.
func Sub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, errors.Wrapf(ErrUnderflow, "sub %d %d", a, b)
	}
	return a - b, nil
}

// Mul returns a * b, or ErrOverflow if the product does not fit in uint64.
func Mul(a, b uint64) (uint64, error) {
	if b != 0 && a > math.MaxUint64/b {
		return 0, errors.Wrapf(ErrOverflow, "mul %d %d", a, b)
	}
	return a * b, nil
}

// MulDiv returns floor(v * num / den). Multiplication happens before
// division so no precision is lost ahead of the final truncation; the
// result rounds down. Used for fee and reward scaling.
func MulDiv(v, num, den uint64) (uint64, error) {
	if den == 0 {
		return 0, errors.Wrap(ErrPrecisionLoss, "zero denominator")
	}
	hi, lo := bits.Mul64(v, num)
	if hi >= den {
		// Quotient would not fit in uint64.
		return 0, errors.Wrapf(ErrOverflow, "muldiv %d*%d/%d", v, num, den)
	}
	q, _ := bits.Div64(hi, lo, den)
	return q, nil
}

// ToUint32 narrows v to uint32, or returns ErrPrecisionLoss if v does not
// fit. Narrowing conversions are only permitted through this function.
func ToUint32(v uint64) (uint32, error) {
	if v > math.MaxUint32 {
		return 0, errors.Wrapf(ErrPrecisionLoss, "uint32 narrowing of %d", v)
	}
	return uint32(v), nil
}

// ToInt64 narrows v to int64, or returns ErrPrecisionLoss if v does not fit.
func ToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, errors.Wrapf(ErrPrecisionLoss, "int64 narrowing of %d", v)
	}
	return int64(v), nil
}

// FromInt64 widens v to uint64, or returns ErrUnderflow for negative input.
func FromInt64(v int64) (uint64, error) {
	if v < 0 {
		return 0, errors.Wrapf(ErrUnderflow, "negative value %d", v)
	}
	return uint64(v), nil
}

// Sum folds Add over vs, so a batch of values fails the same way a single
// addition does.
func Sum(vs ...uint64) (uint64, error) {
	var total uint64
	var err error
	for _, v := range vs {
		total, err = Add(total, v)
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
