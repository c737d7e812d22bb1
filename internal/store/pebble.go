// pebble.go - Pebble-backed implementation of the KVDB boundary.

package store

import (
	"io"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"
)

// PebbleDB wraps a pebble database behind the KVDB interface.
type PebbleDB struct {
	db *pebble.DB
}

var _ KVDB = (*PebbleDB)(nil)

// NewPebbleDB opens (or creates) a pebble database at path.
func NewPebbleDB(path string) (*PebbleDB, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "open pebble")
	}
	return &PebbleDB{db: db}, nil
}

// NewMemDB opens an in-memory pebble database. Used in tests and for
// ephemeral validators.
func NewMemDB() (*PebbleDB, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, errors.Wrap(err, "open in-memory pebble")
	}
	return &PebbleDB{db: db}, nil
}

func (p *PebbleDB) Get(key []byte) ([]byte, io.Closer, error) {
	v, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil, errors.Wrapf(ErrNotFound, "%x", key)
	}
	return v, closer, err
}

func (p *PebbleDB) Set(key, value []byte) error {
	return p.db.Set(key, value, &pebble.WriteOptions{Sync: true})
}

func (p *PebbleDB) Delete(key []byte) error {
	return p.db.Delete(key, &pebble.WriteOptions{Sync: true})
}

func (p *PebbleDB) NewBatch(indexed bool) Batch {
	if indexed {
		return &pebbleBatch{b: p.db.NewIndexedBatch()}
	}
	return &pebbleBatch{b: p.db.NewBatch()}
}

func (p *PebbleDB) Close() error {
	return p.db.Close()
}

type pebbleBatch struct {
	b *pebble.Batch
}

var _ Batch = (*pebbleBatch)(nil)

func (t *pebbleBatch) Get(key []byte) ([]byte, io.Closer, error) {
	v, closer, err := t.b.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil, errors.Wrapf(ErrNotFound, "%x", key)
	}
	return v, closer, err
}

func (t *pebbleBatch) Set(key, value []byte) error {
	return t.b.Set(key, value, &pebble.WriteOptions{})
}

func (t *pebbleBatch) Delete(key []byte) error {
	return t.b.Delete(key, &pebble.WriteOptions{})
}

func (t *pebbleBatch) Commit() error {
	return t.b.Commit(&pebble.WriteOptions{Sync: true})
}

func (t *pebbleBatch) Abort() error {
	return t.b.Close()
}
