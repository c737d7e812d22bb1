// proof.go - External proof-verdict adapter.
//
// The proving system itself lives outside the core: the validator only
// consumes a boolean verdict for a transaction's opaque proof reference.
// Groth16Checker adapts a gnark verifying key into that verdict interface.

package proof

import (
	"bytes"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/pkg/errors"

	"ledgercore/internal/hasher"
)

// ErrInvalidProof is returned for any proof that fails to decode or verify.
var ErrInvalidProof = errors.New("invalid proof")

// Checker renders a verdict on a transaction's proof reference.
// Implementations must be safe for concurrent use.
type Checker interface {
	Check(txID hasher.Digest, proofRef []byte) error
}

// AcceptAll renders an accepting verdict unconditionally. Used when proofs
// are checked upstream of the core, and in tests.
type AcceptAll struct{}

func (AcceptAll) Check(hasher.Digest, []byte) error { return nil }

// WitnessFunc rebuilds the public witness assignment for a transaction.
// The assignment's public fields must be derived from data any validator
// can reproduce.
type WitnessFunc func(txID hasher.Digest) (frontend.Circuit, error)

// Groth16Checker verifies Groth16 proof references against a fixed
// verifying key.
type Groth16Checker struct {
	curve   ecc.ID
	vk      groth16.VerifyingKey
	witness WitnessFunc
}

// NewGroth16Checker returns a Checker for the given curve and verifying key.
func NewGroth16Checker(curve ecc.ID, vk groth16.VerifyingKey, witness WitnessFunc) *Groth16Checker {
	return &Groth16Checker{curve: curve, vk: vk, witness: witness}
}

// Check decodes the proof reference, rebuilds the public witness, and
// verifies. Every failure mode maps to ErrInvalidProof: a malformed proof
// is as rejected as a wrong one.
func (c *Groth16Checker) Check(txID hasher.Digest, proofRef []byte) error {
	if len(proofRef) == 0 {
		return errors.Wrap(ErrInvalidProof, "empty proof reference")
	}
	p := groth16.NewProof(c.curve)
	if _, err := p.ReadFrom(bytes.NewReader(proofRef)); err != nil {
		return errors.Wrapf(ErrInvalidProof, "unmarshal: %v", err)
	}
	assignment, err := c.witness(txID)
	if err != nil {
		return errors.Wrapf(ErrInvalidProof, "public witness: %v", err)
	}
	w, err := frontend.NewWitness(assignment, c.curve.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return errors.Wrapf(ErrInvalidProof, "witness build: %v", err)
	}
	if err := groth16.Verify(p, c.vk, w); err != nil {
		return errors.Wrapf(ErrInvalidProof, "tx %s: %v", txID, err)
	}
	return nil
}
