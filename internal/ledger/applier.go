// applier.go - Canonically-ordered, all-or-nothing application of accepted
// transactions to ledger state.
//
// The applier is the sole mutator of ledger state. It owns the nullifier
// set (grows only), the commitment set (grows by addition, shrinks only
// when a spend pairs the removal with a nullifier insertion), and the
// state root. Replaying the same batch from the same prior state yields a
// bit-identical root on any validator: iteration is always over the
// canonical sort order, never a map's native enumeration, and wall-clock
// time is not an input.

package ledger

import (
	"bytes"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ledgercore/internal/hasher"
	"ledgercore/internal/store"
	"ledgercore/internal/tx"
	"ledgercore/internal/validate"
)

// ErrDoubleSpend marks a transaction referencing an already-spent
// nullifier. Per-transaction recoverable: the rest of the batch proceeds.
var ErrDoubleSpend = errors.New("double spend")

// Key prefixes in the backing store.
const (
	prefixNullifier  byte = 'n'
	prefixCommitment byte = 'c'
)

var rootKey = []byte("meta/root")

func nullifierKey(d hasher.Digest) []byte {
	return append([]byte{prefixNullifier}, d[:]...)
}

func commitmentKey(d hasher.Digest) []byte {
	return append([]byte{prefixCommitment}, d[:]...)
}

// Rejection reports one transaction dropped from a batch, with its reason.
type Rejection struct {
	TxID hasher.Digest
	Err  error
}

// Applier applies accepted transactions to the ledger state. All mutation
// is serialized through a single lock; reads of committed state do not
// block the writer.
type Applier struct {
	mu   sync.Mutex
	db   store.KVDB
	log  *zap.Logger
	root hasher.Digest
}

// NewApplier restores the state root from the store, or starts from the
// genesis (zero) root on an empty store.
func NewApplier(db store.KVDB, log *zap.Logger) (*Applier, error) {
	a := &Applier{db: db, log: log}
	v, closer, err := db.Get(rootKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return a, nil
		}
		return nil, errors.Wrap(err, "restore state root")
	}
	defer closer.Close()
	if len(v) != hasher.DigestSize {
		// A store reporting impossible content is an internal-invariant
		// breach, the one class where refusing to continue is correct.
		return nil, errors.Errorf("corrupt state root: %d bytes", len(v))
	}
	copy(a.root[:], v)
	return a, nil
}

// Root returns the current committed state root.
func (a *Applier) Root() hasher.Digest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.root
}

// HasNullifier reports whether a nullifier is spent, against committed
// state. Safe to call concurrently with an in-progress batch apply.
func (a *Applier) HasNullifier(d hasher.Digest) (bool, error) {
	return store.Has(a.db, nullifierKey(d))
}

// HasCommitment reports whether a commitment is unspent, against committed
// state.
func (a *Applier) HasCommitment(d hasher.Digest) (bool, error) {
	return store.Has(a.db, commitmentKey(d))
}

// Bootstrap seeds genesis outputs into an empty state. It refuses to run
// on a state that has already applied anything.
func (a *Applier) Bootstrap(outputs []tx.Output) (hasher.Digest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.root.IsZero() {
		return hasher.Digest{}, errors.New("bootstrap on non-empty state")
	}
	b := a.db.NewBatch(true)
	root := a.root
	for i := range outputs {
		cm := outputs[i].Commitment()
		if err := b.Set(commitmentKey(cm), nil); err != nil {
			b.Abort()
			return hasher.Digest{}, errors.Wrap(err, "bootstrap commitment")
		}
		root = foldRoot(root, cm)
	}
	if err := commitRoot(b, root); err != nil {
		return hasher.Digest{}, err
	}
	a.root = root
	a.log.Info("bootstrapped genesis state",
		zap.Int("outputs", len(outputs)),
		zap.String("root", root.String()))
	return root, nil
}

// ApplyBatch applies accepted transactions in canonical order (sorted by
// transaction id). A transaction whose nullifiers collide with spent ones
// is rejected alone with ErrDoubleSpend and the batch continues; a
// transaction is never partially applied. A store failure aborts the whole
// batch before anything commits.
func (a *Applier) ApplyBatch(batch []*validate.Accepted) (hasher.Digest, []Rejection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ordered := canonicalOrder(batch)
	b := a.db.NewBatch(true)
	root := a.root
	var rejected []Rejection

	for _, acc := range ordered {
		newRoot, err := applyOne(b, root, acc)
		if err != nil {
			if errors.Is(err, ErrDoubleSpend) {
				rejected = append(rejected, Rejection{TxID: acc.TxID, Err: err})
				a.log.Debug("rejected transaction",
					zap.String("txid", acc.TxID.String()),
					zap.Error(err))
				continue
			}
			b.Abort()
			return hasher.Digest{}, nil, errors.Wrap(err, "batch apply aborted")
		}
		root = newRoot
	}

	if err := commitRoot(b, root); err != nil {
		return hasher.Digest{}, nil, err
	}
	a.root = root
	a.log.Info("applied batch",
		zap.Int("accepted", len(ordered)-len(rejected)),
		zap.Int("rejected", len(rejected)),
		zap.String("root", root.String()))
	return root, rejected, nil
}

// ApplyPair applies exactly two accepted transactions with both-or-neither
// semantics: if either leg fails, neither commits. Used for atomic swap
// legs.
func (a *Applier) ApplyPair(first, second *validate.Accepted) (hasher.Digest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ordered := canonicalOrder([]*validate.Accepted{first, second})
	b := a.db.NewBatch(true)
	root := a.root
	for _, acc := range ordered {
		newRoot, err := applyOne(b, root, acc)
		if err != nil {
			b.Abort()
			return hasher.Digest{}, errors.Wrapf(err, "pair apply aborted at tx %s", acc.TxID)
		}
		root = newRoot
	}
	if err := commitRoot(b, root); err != nil {
		return hasher.Digest{}, err
	}
	a.root = root
	return root, nil
}

// applyOne stages one transaction into the batch. All nullifier checks run
// before any of the transaction's writes are staged, so a rejection leaves
// the batch untouched by this transaction.
func applyOne(b store.Batch, root hasher.Digest, acc *validate.Accepted) (hasher.Digest, error) {
	for _, n := range acc.Nullifiers {
		spent, err := store.Has(b, nullifierKey(n))
		if err != nil {
			return hasher.Digest{}, errors.Wrap(err, "nullifier lookup")
		}
		if spent {
			return hasher.Digest{}, errors.Wrapf(ErrDoubleSpend, "nullifier %s", n)
		}
	}
	for i, in := range acc.Tx.Inputs {
		// Spend: remove the consumed commitment and insert its nullifier
		// in the same staged batch.
		if err := b.Delete(commitmentKey(in.Commitment)); err != nil {
			return hasher.Digest{}, errors.Wrap(err, "remove spent commitment")
		}
		if err := b.Set(nullifierKey(acc.Nullifiers[i]), nil); err != nil {
			return hasher.Digest{}, errors.Wrap(err, "insert nullifier")
		}
	}
	for _, cm := range acc.Commitments {
		if err := b.Set(commitmentKey(cm), nil); err != nil {
			return hasher.Digest{}, errors.Wrap(err, "insert commitment")
		}
	}
	return foldRoot(root, acc.TxID), nil
}

// canonicalOrder returns the batch sorted by transaction id without
// mutating the caller's slice.
func canonicalOrder(batch []*validate.Accepted) []*validate.Accepted {
	ordered := make([]*validate.Accepted, len(batch))
	copy(ordered, batch)
	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i].TxID[:], ordered[j].TxID[:]) < 0
	})
	return ordered
}

// foldRoot advances the state root by one applied digest.
func foldRoot(prev, applied hasher.Digest) hasher.Digest {
	return hasher.New(hasher.TagStateRoot).
		DigestField(hasher.FieldDigest, prev).
		DigestField(hasher.FieldDigest, applied).
		Sum()
}

// commitRoot stages the new root and commits the batch atomically.
func commitRoot(b store.Batch, root hasher.Digest) error {
	if err := b.Set(rootKey, root[:]); err != nil {
		b.Abort()
		return errors.Wrap(err, "stage state root")
	}
	if err := b.Commit(); err != nil {
		b.Abort()
		return errors.Wrap(err, "commit batch")
	}
	return nil
}
