// validate.go - Conservation validation of parsed transactions.
//
// The validator is a pure check: no state is read or written. For every
// token id present it compares the checked input sum against the checked
// output sum plus fee, enforces the configured element bound, and consults
// the external proof verdict. Success returns an Accepted verdict carrying
// the derived nullifiers and commitments for the applier.

package validate

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"ledgercore/internal/checked"
	"ledgercore/internal/hasher"
	"ledgercore/internal/proof"
	"ledgercore/internal/tx"
)

// Rejection classes. All are per-transaction recoverable.
var (
	ErrConservationViolation = errors.New("conservation violation")
	ErrTooManyElements       = errors.New("too many elements")
	ErrFeeTooLow             = errors.New("fee below required rate")
	ErrDuplicateInput        = errors.New("duplicate input in transaction")
)

// Config bounds the validator. MaxElements caps len(inputs)+len(outputs)
// as a defense against unbounded-allocation inputs. A zero FeeRateNum
// disables the minimum-fee policy.
type Config struct {
	MaxElements int
	FeeRateNum  uint64
	FeeRateDen  uint64
	CacheSize   int
}

// DefaultConfig returns the bounds used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxElements: 1024,
		CacheSize:   4096,
	}
}

// Accepted is the verdict for a valid transaction. It carries everything
// the applier needs so derivation happens exactly once.
type Accepted struct {
	Tx          *tx.Transaction
	TxID        hasher.Digest
	Nullifiers  []hasher.Digest
	Commitments []hasher.Digest
}

// Validator checks transactions against the conservation invariant.
// Validation is deterministic, so verdicts are memoized by transaction id.
// Safe for concurrent use across independent transactions.
type Validator struct {
	cfg     Config
	checker proof.Checker
	cache   *lru.Cache[hasher.Digest, *Accepted]
}

// New returns a Validator with the given bounds and proof checker.
func New(cfg Config, checker proof.Checker) (*Validator, error) {
	if cfg.MaxElements <= 0 {
		cfg.MaxElements = DefaultConfig().MaxElements
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultConfig().CacheSize
	}
	if checker == nil {
		checker = proof.AcceptAll{}
	}
	cache, err := lru.New[hasher.Digest, *Accepted](cfg.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "verdict cache")
	}
	return &Validator{cfg: cfg, checker: checker, cache: cache}, nil
}

// Validate checks one transaction. It returns an Accepted verdict, or a
// structured rejection reason. The error is one of the sentinels above, a
// checked.* arithmetic failure, or proof.ErrInvalidProof.
func (v *Validator) Validate(t *tx.Transaction) (*Accepted, error) {
	if n := len(t.Inputs) + len(t.Outputs); n > v.cfg.MaxElements {
		return nil, errors.Wrapf(ErrTooManyElements, "%d elements, max %d", n, v.cfg.MaxElements)
	}

	id := t.ID()
	if verdict, ok := v.cache.Get(id); ok {
		return verdict, nil
	}

	nullifiers := t.Nullifiers()
	seen := make(map[hasher.Digest]struct{}, len(nullifiers))
	for _, n := range nullifiers {
		if _, dup := seen[n]; dup {
			return nil, errors.Wrapf(ErrDuplicateInput, "nullifier %s", n)
		}
		seen[n] = struct{}{}
	}

	for _, token := range t.Tokens() {
		if err := v.checkToken(t, token); err != nil {
			return nil, err
		}
	}

	if err := v.checker.Check(id, t.ProofRef); err != nil {
		return nil, err
	}

	verdict := &Accepted{
		Tx:          t,
		TxID:        id,
		Nullifiers:  nullifiers,
		Commitments: t.Commitments(),
	}
	v.cache.Add(id, verdict)
	return verdict, nil
}

// checkToken enforces sum(inputs) == sum(outputs) + fee for one token id,
// plus the minimum-fee policy when configured.
func (v *Validator) checkToken(t *tx.Transaction, token tx.TokenID) error {
	var sumIn, sumOut uint64
	var err error
	for _, in := range t.Inputs {
		if in.Token != token {
			continue
		}
		sumIn, err = checked.Add(sumIn, in.Value)
		if err != nil {
			return errors.Wrapf(err, "token %s inputs", token)
		}
	}
	for _, out := range t.Outputs {
		if out.Token != token {
			continue
		}
		sumOut, err = checked.Add(sumOut, out.Value)
		if err != nil {
			return errors.Wrapf(err, "token %s outputs", token)
		}
	}
	spent, err := checked.Add(sumOut, t.Fee(token))
	if err != nil {
		return errors.Wrapf(err, "token %s fee", token)
	}
	if sumIn != spent {
		return errors.Wrapf(ErrConservationViolation,
			"token %s: inputs %d, outputs+fee %d", token, sumIn, spent)
	}
	if v.cfg.FeeRateNum > 0 {
		// Required fee rounds down; multiply before divide.
		required, err := checked.MulDiv(sumIn, v.cfg.FeeRateNum, v.cfg.FeeRateDen)
		if err != nil {
			return errors.Wrapf(err, "token %s fee rate", token)
		}
		if t.Fee(token) < required {
			return errors.Wrapf(ErrFeeTooLow,
				"token %s: fee %d, required %d", token, t.Fee(token), required)
		}
	}
	return nil
}
