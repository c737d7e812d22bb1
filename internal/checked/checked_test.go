package checked

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd(t *testing.T) {
	sum, err := Add(40, 60)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), sum)

	_, err = Add(math.MaxUint64, 1)
	require.ErrorIs(t, err, ErrOverflow)

	sum, err = Add(math.MaxUint64, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), sum)
}

func TestSub(t *testing.T) {
	diff, err := Sub(100, 60)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), diff)

	_, err = Sub(60, 100)
	require.ErrorIs(t, err, ErrUnderflow)
}

func TestMul(t *testing.T) {
	product, err := Mul(1<<32, 1<<31)
	require.NoError(t, err)
	assert.Equal(t, uint64(1)<<63, product)

	_, err = Mul(1<<32, 1<<32)
	require.ErrorIs(t, err, ErrOverflow)

	product, err = Mul(math.MaxUint64, 0)
	require.NoError(t, err)
	assert.Zero(t, product)
}

func TestMulDiv(t *testing.T) {
	t.Run("rounds down", func(t *testing.T) {
		// 7 * 1 / 3 = 2.33... -> 2
		q, err := MulDiv(7, 1, 3)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), q)
	})

	t.Run("multiplies before dividing", func(t *testing.T) {
		// Dividing first would truncate 5/10 to 0; the correct result
		// keeps the full product.
		q, err := MulDiv(5, 3, 10)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), q)
	})

	t.Run("intermediate product wider than 64 bits", func(t *testing.T) {
		q, err := MulDiv(math.MaxUint64, 2, 4)
		require.NoError(t, err)
		assert.Equal(t, uint64(math.MaxUint64/2), q)
	})

	t.Run("quotient overflow", func(t *testing.T) {
		_, err := MulDiv(math.MaxUint64, 3, 2)
		require.ErrorIs(t, err, ErrOverflow)
	})

	t.Run("zero denominator", func(t *testing.T) {
		_, err := MulDiv(1, 1, 0)
		require.ErrorIs(t, err, ErrPrecisionLoss)
	})
}

func TestNarrowing(t *testing.T) {
	v, err := ToUint32(math.MaxUint32)
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), v)

	_, err = ToUint32(math.MaxUint32 + 1)
	require.ErrorIs(t, err, ErrPrecisionLoss)

	_, err = ToInt64(math.MaxInt64 + 1)
	require.ErrorIs(t, err, ErrPrecisionLoss)

	_, err = FromInt64(-1)
	require.ErrorIs(t, err, ErrUnderflow)
}

func TestSum(t *testing.T) {
	total, err := Sum(1, 2, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), total)

	_, err = Sum(math.MaxUint64, 1)
	require.ErrorIs(t, err, ErrOverflow)
}
