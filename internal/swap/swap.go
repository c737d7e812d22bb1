// swap.go - Atomic swap coordination over the validator and applier.
//
// A swap links two transaction legs under a hash lock and a block-height
// expiry. Either both legs commit (redeem before expiry, with the correct
// secret) or neither does (refund/expiry). Height is supplied by the
// caller's block counter, never the OS clock, so every validator resolves
// a swap identically.

package swap

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ledgercore/internal/hasher"
	"ledgercore/internal/ledger"
	"ledgercore/internal/tx"
	"ledgercore/internal/validate"
)

// Failure classes. All are per-swap recoverable; independent swaps keep
// progressing.
var (
	ErrSecretMismatch = errors.New("swap secret mismatch")
	ErrSwapExpired    = errors.New("swap expired")
	ErrNotExpired     = errors.New("swap not yet expired")
	ErrNotFound       = errors.New("swap not found")
	ErrBadTransition  = errors.New("invalid swap state transition")
)

// Status tags the swap state machine:
// Proposed -> Locked -> {Redeemed | Refunded | Expired}, with cancellation
// permitted only before Locked. Redeemed, Refunded, Expired, and Canceled
// are terminal; terminal swaps are dropped from the coordinator.
type Status string

const (
	StatusProposed Status = "proposed"
	StatusLocked   Status = "locked"
	StatusRedeemed Status = "redeemed"
	StatusRefunded Status = "refunded"
	StatusExpired  Status = "expired"
	StatusCanceled Status = "canceled"
)

// Swap is a read-only snapshot of one swap's state.
type Swap struct {
	ID       uuid.UUID
	HashLock hasher.Digest
	Expiry   uint64
	Status   Status
}

// LockDigest derives the hash lock for a shared secret, under the swap
// lock domain.
func LockDigest(secret []byte) hasher.Digest {
	return hasher.New(hasher.TagSwapLock).
		Field(hasher.FieldBytes, secret).
		Sum()
}

type entry struct {
	mu       sync.Mutex
	swap     Swap
	legs     [2]*tx.Transaction
	verdicts [2]*validate.Accepted
	done     bool
}

// Coordinator drives swaps through their state machine. Operations on one
// swap id are serialized; different swap ids progress independently.
type Coordinator struct {
	mu        sync.RWMutex
	swaps     map[uuid.UUID]*entry
	validator *validate.Validator
	applier   *ledger.Applier
	log       *zap.Logger
}

// NewCoordinator returns a Coordinator applying redeemed legs through the
// given validator and applier.
func NewCoordinator(v *validate.Validator, a *ledger.Applier, log *zap.Logger) *Coordinator {
	return &Coordinator{
		swaps:     make(map[uuid.UUID]*entry),
		validator: v,
		applier:   a,
		log:       log,
	}
}

// Propose registers a new swap from two leg templates, a hash lock, and an
// expiry height. The legs are not validated or applied yet.
func (c *Coordinator) Propose(legA, legB *tx.Transaction, hashLock hasher.Digest, expiry uint64) (Swap, error) {
	if legA == nil || legB == nil {
		return Swap{}, errors.Wrap(ErrBadTransition, "missing leg")
	}
	e := &entry{
		swap: Swap{
			ID:       uuid.New(),
			HashLock: hashLock,
			Expiry:   expiry,
			Status:   StatusProposed,
		},
		legs: [2]*tx.Transaction{legA, legB},
	}
	c.mu.Lock()
	c.swaps[e.swap.ID] = e
	c.mu.Unlock()
	c.log.Info("swap proposed",
		zap.String("swap", e.swap.ID.String()),
		zap.Uint64("expiry", expiry))
	return e.swap, nil
}

// Lock moves a proposed swap to Locked once both legs' funds are committed:
// each leg must independently pass the conservation validator. Locking at
// or past the expiry height is refused.
func (c *Coordinator) Lock(id uuid.UUID, height uint64) (Swap, error) {
	e, err := c.lookup(id)
	if err != nil {
		return Swap{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return Swap{}, errors.Wrapf(ErrNotFound, "swap %s", id)
	}
	if e.swap.Status != StatusProposed {
		return e.swap, errors.Wrapf(ErrBadTransition, "lock from %s", e.swap.Status)
	}
	if height >= e.swap.Expiry {
		return e.swap, errors.Wrapf(ErrSwapExpired, "lock at height %d, expiry %d", height, e.swap.Expiry)
	}
	for i, leg := range e.legs {
		verdict, err := c.validator.Validate(leg)
		if err != nil {
			return e.swap, errors.Wrapf(err, "leg %d", i)
		}
		e.verdicts[i] = verdict
	}
	e.swap.Status = StatusLocked
	c.log.Info("swap locked", zap.String("swap", id.String()))
	return e.swap, nil
}

// Redeem resolves a locked swap before expiry, given the shared secret.
// Both legs are applied atomically as a pair: either both commit or
// neither does. At or past the expiry height the swap transitions to
// Expired instead, and can never be redeemed afterwards.
func (c *Coordinator) Redeem(id uuid.UUID, secret []byte, height uint64) (Swap, error) {
	e, err := c.lookup(id)
	if err != nil {
		return Swap{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return Swap{}, errors.Wrapf(ErrNotFound, "swap %s", id)
	}
	if e.swap.Status != StatusLocked {
		return e.swap, errors.Wrapf(ErrBadTransition, "redeem from %s", e.swap.Status)
	}
	if height >= e.swap.Expiry {
		e.swap.Status = StatusExpired
		c.remove(e)
		c.log.Info("swap expired", zap.String("swap", id.String()))
		return e.swap, errors.Wrapf(ErrSwapExpired, "redeem at height %d, expiry %d", height, e.swap.Expiry)
	}
	if LockDigest(secret) != e.swap.HashLock {
		return e.swap, errors.Wrap(ErrSecretMismatch, "revealed secret does not match lock")
	}
	if _, err := c.applier.ApplyPair(e.verdicts[0], e.verdicts[1]); err != nil {
		// Neither leg committed; the swap stays locked until expiry.
		return e.swap, errors.Wrap(err, "apply swap legs")
	}
	e.swap.Status = StatusRedeemed
	c.remove(e)
	c.log.Info("swap redeemed", zap.String("swap", id.String()))
	return e.swap, nil
}

// Refund resolves a locked swap whose expiry height has been reached
// without redemption. The legs were never applied, so the proposers'
// original funds remain theirs.
func (c *Coordinator) Refund(id uuid.UUID, height uint64) (Swap, error) {
	e, err := c.lookup(id)
	if err != nil {
		return Swap{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return Swap{}, errors.Wrapf(ErrNotFound, "swap %s", id)
	}
	if e.swap.Status != StatusLocked {
		return e.swap, errors.Wrapf(ErrBadTransition, "refund from %s", e.swap.Status)
	}
	if height < e.swap.Expiry {
		return e.swap, errors.Wrapf(ErrNotExpired, "height %d, expiry %d", height, e.swap.Expiry)
	}
	e.swap.Status = StatusRefunded
	c.remove(e)
	c.log.Info("swap refunded", zap.String("swap", id.String()))
	return e.swap, nil
}

// Cancel withdraws a swap that has not locked yet. No cancellation exists
// once Locked; resolution is then secret-reveal or expiry only.
func (c *Coordinator) Cancel(id uuid.UUID) (Swap, error) {
	e, err := c.lookup(id)
	if err != nil {
		return Swap{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return Swap{}, errors.Wrapf(ErrNotFound, "swap %s", id)
	}
	if e.swap.Status != StatusProposed {
		return e.swap, errors.Wrapf(ErrBadTransition, "cancel from %s", e.swap.Status)
	}
	e.swap.Status = StatusCanceled
	c.remove(e)
	return e.swap, nil
}

// Get returns a snapshot of a live (non-terminal) swap.
func (c *Coordinator) Get(id uuid.UUID) (Swap, error) {
	e, err := c.lookup(id)
	if err != nil {
		return Swap{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return Swap{}, errors.Wrapf(ErrNotFound, "swap %s", id)
	}
	return e.swap, nil
}

// SweepExpired transitions every locked swap whose expiry has passed to
// Expired. Called by the owner of the block-height counter on each new
// height.
func (c *Coordinator) SweepExpired(height uint64) []Swap {
	c.mu.RLock()
	entries := make([]*entry, 0, len(c.swaps))
	for _, e := range c.swaps {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	var expired []Swap
	for _, e := range entries {
		e.mu.Lock()
		if !e.done && e.swap.Status == StatusLocked && height >= e.swap.Expiry {
			e.swap.Status = StatusExpired
			c.remove(e)
			expired = append(expired, e.swap)
			c.log.Info("swap expired", zap.String("swap", e.swap.ID.String()))
		}
		e.mu.Unlock()
	}
	return expired
}

func (c *Coordinator) lookup(id uuid.UUID) (*entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.swaps[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "swap %s", id)
	}
	return e, nil
}

// remove drops a terminal swap from the table. Caller holds e.mu.
func (c *Coordinator) remove(e *entry) {
	e.done = true
	c.mu.Lock()
	delete(c.swaps, e.swap.ID)
	c.mu.Unlock()
}
