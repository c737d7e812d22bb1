// store.go - Key-value persistence interface consumed by the applier.
//
// The core does not implement a storage engine; it talks get/put/atomic
// batch to whatever the persistence collaborator supplies. KVDB is that
// boundary, with a pebble-backed implementation below.

package store

import (
	"io"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("store: not found")

// KVDB is the persistence boundary. Batches created from it commit
// atomically: a batch is the unit of all-or-nothing application.
type KVDB interface {
	Get(key []byte) ([]byte, io.Closer, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	NewBatch(indexed bool) Batch
	Close() error
}

// Batch is a staged set of writes committed atomically. An indexed batch
// additionally reads through its own staged writes.
type Batch interface {
	Get(key []byte) ([]byte, io.Closer, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Commit() error
	Abort() error
}

// Has reports whether key exists, through any Get-capable view.
func Has(g interface {
	Get(key []byte) ([]byte, io.Closer, error)
}, key []byte) (bool, error) {
	_, closer, err := g.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) || errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if closer != nil {
		closer.Close()
	}
	return true, nil
}
