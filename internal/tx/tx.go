// tx.go - Transaction, input, and output types for the conservation ledger.
//
// A transaction consumes inputs (references to prior outputs, each spent
// exactly once via its nullifier) and creates outputs (commitments that
// become spendable once applied). For every token id present, the sum of
// input values must equal the sum of output values plus the fee.

package tx

import (
	"bytes"
	"encoding/hex"
	"sort"

	"github.com/pkg/errors"

	"ledgercore/internal/hasher"
)

// TokenID distinguishes asset classes. All conservation checks are scoped
// per token id.
type TokenID [32]byte

// String returns the token id as lowercase hex.
func (t TokenID) String() string {
	return hex.EncodeToString(t[:])
}

// MarshalText encodes the token id as hex, so it can key JSON fee maps.
func (t TokenID) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a hex token id.
func (t *TokenID) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil {
		return err
	}
	if len(raw) != len(t) {
		return errors.Errorf("token id must be %d bytes, got %d", len(t), len(raw))
	}
	copy(t[:], raw)
	return nil
}

// Value is the ledger value domain. All arithmetic on Values goes through
// internal/checked.
type Value = uint64

// Input references a prior output by its commitment and declares the value
// and token id being consumed. Its nullifier is re-derivable by any
// validator from the reference alone.
type Input struct {
	Commitment hasher.Digest `json:"commitment"`
	Value      Value         `json:"value"`
	Token      TokenID       `json:"token"`
}

// Nullifier derives the spend marker for this input. Inserting it into the
// ledger's nullifier set is what prevents reuse.
func (in *Input) Nullifier() hasher.Digest {
	return hasher.New(hasher.TagNullifier).
		DigestField(hasher.FieldDigest, in.Commitment).
		Field(hasher.FieldToken, in.Token[:]).
		Sum()
}

// Output declares a value, a token id, and a salt. The salt keeps two
// otherwise identical outputs from committing to the same digest.
type Output struct {
	Value Value    `json:"value"`
	Token TokenID  `json:"token"`
	Salt  [32]byte `json:"salt"`
}

// Commitment derives the output's commitment digest.
func (out *Output) Commitment() hasher.Digest {
	return hasher.New(hasher.TagCommitment).
		Field(hasher.FieldToken, out.Token[:]).
		Uint64Field(hasher.FieldValue, out.Value).
		Field(hasher.FieldSalt, out.Salt[:]).
		Sum()
}

// Transaction is an ordered sequence of inputs and outputs, a per-token fee,
// and an opaque reference to an externally checked proof.
type Transaction struct {
	Inputs   []Input           `json:"inputs"`
	Outputs  []Output          `json:"outputs"`
	Fees     map[TokenID]Value `json:"fees"`
	ProofRef []byte            `json:"proof_ref,omitempty"`
}

// Fee returns the declared fee for a token id, zero if absent.
func (t *Transaction) Fee(token TokenID) Value {
	return t.Fees[token]
}

// Tokens returns every token id present in inputs, outputs, or fees, in
// canonical (byte-sorted) order. Map iteration order never leaks into
// anything consensus-relevant.
func (t *Transaction) Tokens() []TokenID {
	seen := make(map[TokenID]struct{})
	for _, in := range t.Inputs {
		seen[in.Token] = struct{}{}
	}
	for _, out := range t.Outputs {
		seen[out.Token] = struct{}{}
	}
	for token := range t.Fees {
		seen[token] = struct{}{}
	}
	tokens := make([]TokenID, 0, len(seen))
	for token := range seen {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return bytes.Compare(tokens[i][:], tokens[j][:]) < 0
	})
	return tokens
}

// ID computes the transaction digest. It covers every input, output, and
// fee in declared order, so the id doubles as the canonical sort key for
// batch application.
func (t *Transaction) ID() hasher.Digest {
	h := hasher.New(hasher.TagTxID)
	h.Uint64Field(hasher.FieldCount, uint64(len(t.Inputs)))
	for _, in := range t.Inputs {
		h.DigestField(hasher.FieldDigest, in.Commitment)
		h.Uint64Field(hasher.FieldValue, in.Value)
		h.Field(hasher.FieldToken, in.Token[:])
	}
	h.Uint64Field(hasher.FieldCount, uint64(len(t.Outputs)))
	for _, out := range t.Outputs {
		h.Uint64Field(hasher.FieldValue, out.Value)
		h.Field(hasher.FieldToken, out.Token[:])
		h.Field(hasher.FieldSalt, out.Salt[:])
	}
	tokens := t.Tokens()
	h.Uint64Field(hasher.FieldCount, uint64(len(t.Fees)))
	for _, token := range tokens {
		if fee, ok := t.Fees[token]; ok {
			h.Field(hasher.FieldToken, token[:])
			h.Uint64Field(hasher.FieldValue, fee)
		}
	}
	h.Field(hasher.FieldBytes, t.ProofRef)
	return h.Sum()
}

// Nullifiers derives the nullifier for every input, in input order.
func (t *Transaction) Nullifiers() []hasher.Digest {
	ns := make([]hasher.Digest, len(t.Inputs))
	for i := range t.Inputs {
		ns[i] = t.Inputs[i].Nullifier()
	}
	return ns
}

// Commitments derives the commitment for every output, in output order.
func (t *Transaction) Commitments() []hasher.Digest {
	cs := make([]hasher.Digest, len(t.Outputs))
	for i := range t.Outputs {
		cs[i] = t.Outputs[i].Commitment()
	}
	return cs
}
