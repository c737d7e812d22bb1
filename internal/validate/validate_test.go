package validate

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgercore/internal/checked"
	"ledgercore/internal/hasher"
	"ledgercore/internal/proof"
	"ledgercore/internal/tx"
)

func token(b byte) tx.TokenID {
	var t tx.TokenID
	t[0] = b
	return t
}

func input(tok tx.TokenID, value uint64, seed byte) tx.Input {
	var cm hasher.Digest
	cm[0] = seed
	return tx.Input{Commitment: cm, Value: value, Token: tok}
}

func output(tok tx.TokenID, value uint64, seed byte) tx.Output {
	var salt [32]byte
	salt[0] = seed
	return tx.Output{Value: value, Token: tok, Salt: salt}
}

func newValidator(t *testing.T, cfg Config) *Validator {
	t.Helper()
	v, err := New(cfg, nil)
	require.NoError(t, err)
	return v
}

func TestConservation(t *testing.T) {
	v := newValidator(t, Config{})
	tokenX := token('x')

	t.Run("balanced split accepted", func(t *testing.T) {
		// One input of 100, outputs of 40 and 60, fee 0.
		txn := &tx.Transaction{
			Inputs:  []tx.Input{input(tokenX, 100, 1)},
			Outputs: []tx.Output{output(tokenX, 40, 1), output(tokenX, 60, 2)},
		}
		verdict, err := v.Validate(txn)
		require.NoError(t, err)
		assert.Equal(t, txn.ID(), verdict.TxID)
		assert.Len(t, verdict.Nullifiers, 1)
		assert.Len(t, verdict.Commitments, 2)
	})

	t.Run("value destroyed rejected", func(t *testing.T) {
		// Same input split into 40 and 50: ten units vanish.
		txn := &tx.Transaction{
			Inputs:  []tx.Input{input(tokenX, 100, 1)},
			Outputs: []tx.Output{output(tokenX, 40, 1), output(tokenX, 50, 2)},
		}
		_, err := v.Validate(txn)
		require.ErrorIs(t, err, ErrConservationViolation)
	})

	t.Run("value created rejected", func(t *testing.T) {
		txn := &tx.Transaction{
			Inputs:  []tx.Input{input(tokenX, 100, 1)},
			Outputs: []tx.Output{output(tokenX, 150, 1)},
		}
		_, err := v.Validate(txn)
		require.ErrorIs(t, err, ErrConservationViolation)
	})

	t.Run("fee balances the equation", func(t *testing.T) {
		txn := &tx.Transaction{
			Inputs:  []tx.Input{input(tokenX, 100, 1)},
			Outputs: []tx.Output{output(tokenX, 90, 1)},
			Fees:    map[tx.TokenID]tx.Value{tokenX: 10},
		}
		_, err := v.Validate(txn)
		require.NoError(t, err)
	})

	t.Run("per token id scoping", func(t *testing.T) {
		tokenY := token('y')
		// Balanced in aggregate but broken per token: 100x in, 100y out.
		txn := &tx.Transaction{
			Inputs:  []tx.Input{input(tokenX, 100, 1)},
			Outputs: []tx.Output{output(tokenY, 100, 1)},
		}
		_, err := v.Validate(txn)
		require.ErrorIs(t, err, ErrConservationViolation)
	})

	t.Run("two tokens each balanced", func(t *testing.T) {
		tokenY := token('y')
		txn := &tx.Transaction{
			Inputs: []tx.Input{
				input(tokenX, 100, 1),
				input(tokenY, 7, 2),
			},
			Outputs: []tx.Output{
				output(tokenX, 100, 1),
				output(tokenY, 5, 2),
			},
			Fees: map[tx.TokenID]tx.Value{tokenY: 2},
		}
		_, err := v.Validate(txn)
		require.NoError(t, err)
	})
}

func TestResourceBound(t *testing.T) {
	v := newValidator(t, Config{MaxElements: 4})
	tokenX := token('x')
	txn := &tx.Transaction{
		Inputs: []tx.Input{input(tokenX, 100, 1)},
		Outputs: []tx.Output{
			output(tokenX, 25, 1), output(tokenX, 25, 2),
			output(tokenX, 25, 3), output(tokenX, 25, 4),
		},
	}
	_, err := v.Validate(txn)
	require.ErrorIs(t, err, ErrTooManyElements)
}

func TestArithmeticPropagation(t *testing.T) {
	v := newValidator(t, Config{})
	tokenX := token('x')
	txn := &tx.Transaction{
		Inputs: []tx.Input{
			input(tokenX, math.MaxUint64, 1),
			input(tokenX, 1, 2),
		},
		Outputs: []tx.Output{output(tokenX, 1, 1)},
	}
	_, err := v.Validate(txn)
	require.ErrorIs(t, err, checked.ErrOverflow)
}

func TestDuplicateInput(t *testing.T) {
	v := newValidator(t, Config{})
	tokenX := token('x')
	in := input(tokenX, 50, 1)
	txn := &tx.Transaction{
		Inputs:  []tx.Input{in, in},
		Outputs: []tx.Output{output(tokenX, 100, 1)},
	}
	_, err := v.Validate(txn)
	require.ErrorIs(t, err, ErrDuplicateInput)
}

func TestMinimumFee(t *testing.T) {
	// Rate 1/100, round down: inputs of 250 require a fee of 2.
	v := newValidator(t, Config{FeeRateNum: 1, FeeRateDen: 100})
	tokenX := token('x')

	txn := &tx.Transaction{
		Inputs:  []tx.Input{input(tokenX, 250, 1)},
		Outputs: []tx.Output{output(tokenX, 249, 1)},
		Fees:    map[tx.TokenID]tx.Value{tokenX: 1},
	}
	_, err := v.Validate(txn)
	require.ErrorIs(t, err, ErrFeeTooLow)

	txn = &tx.Transaction{
		Inputs:  []tx.Input{input(tokenX, 250, 1)},
		Outputs: []tx.Output{output(tokenX, 248, 1)},
		Fees:    map[tx.TokenID]tx.Value{tokenX: 2},
	}
	_, err = v.Validate(txn)
	require.NoError(t, err)
}

type rejectingChecker struct{}

func (rejectingChecker) Check(hasher.Digest, []byte) error {
	return errors.Wrap(proof.ErrInvalidProof, "verdict: reject")
}

func TestProofVerdict(t *testing.T) {
	v, err := New(Config{}, rejectingChecker{})
	require.NoError(t, err)
	tokenX := token('x')
	txn := &tx.Transaction{
		Inputs:  []tx.Input{input(tokenX, 10, 1)},
		Outputs: []tx.Output{output(tokenX, 10, 1)},
	}
	_, err = v.Validate(txn)
	require.ErrorIs(t, err, proof.ErrInvalidProof)
}

func TestVerdictCache(t *testing.T) {
	v := newValidator(t, Config{})
	tokenX := token('x')
	txn := &tx.Transaction{
		Inputs:  []tx.Input{input(tokenX, 10, 1)},
		Outputs: []tx.Output{output(tokenX, 10, 1)},
	}
	first, err := v.Validate(txn)
	require.NoError(t, err)
	second, err := v.Validate(txn)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestValidateIsPure(t *testing.T) {
	v := newValidator(t, Config{})
	tokenX := token('x')
	txn := &tx.Transaction{
		Inputs:  []tx.Input{input(tokenX, 10, 1)},
		Outputs: []tx.Output{output(tokenX, 10, 1)},
	}
	a, err := v.Validate(txn)
	require.NoError(t, err)
	b, err := v.Validate(txn)
	require.NoError(t, err)
	assert.Equal(t, a.TxID, b.TxID)
	assert.Equal(t, a.Nullifiers, b.Nullifiers)
	assert.Equal(t, a.Commitments, b.Commitments)
}
