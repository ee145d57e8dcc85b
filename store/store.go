// Package store wraps modernc.org/kv, an embedded ordered-key-value
// B+tree file store, into the minimal ordered byte-key interface the
// table and index packages need: point get/set, a single atomic
// commit for a batch of entries, and a half-open range iterator.
package store

import (
	"bytes"
	"io"
	"sync"

	"modernc.org/kv"

	"github.com/jeromekelleher/wormtable/internal/werr"
)

// Store is an ordered byte-key to byte-value file, backed by a single
// modernc.org/kv database file.
type Store struct {
	path string
	db   *kv.DB
	opts *kv.Options
	mu   sync.Mutex
}

// Create makes a new, empty store at path, failing if one already
// exists.
func Create(path string) (*Store, error) {
	opts := &kv.Options{}
	db, err := kv.Create(path, opts)
	if err != nil {
		return nil, werr.Wrapf(werr.IOError, err, "store: create %s", path)
	}
	return &Store{path: path, db: db, opts: opts}, nil
}

// Open opens an existing store file for reading and writing.
func Open(path string) (*Store, error) {
	opts := &kv.Options{}
	db, err := kv.Open(path, opts)
	if err != nil {
		return nil, werr.Wrapf(werr.IOError, err, "store: open %s", path)
	}
	return &Store{path: path, db: db, opts: opts}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return werr.Wrapf(werr.IOError, err, "store: close %s", s.path)
	}
	return nil
}

// Get looks up key, reporting found=false rather than an error if it
// is absent.
func (s *Store) Get(key []byte) (value []byte, found bool, err error) {
	v, err := s.db.Get(nil, key)
	if err != nil {
		return nil, false, werr.Wrapf(werr.IOError, err, "store: get")
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// Set writes a single key/value pair outside of any batch.
func (s *Store) Set(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Set(key, value); err != nil {
		return werr.Wrapf(werr.IOError, err, "store: set")
	}
	return nil
}

// Entry is one key/value pair in a CommitBatch call.
type Entry struct {
	Key   []byte
	Value []byte
}

// CommitBatch writes every entry within a single underlying
// transaction: either all of them land, or none do.
func (s *Store) CommitBatch(entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.BeginTransaction(); err != nil {
		return werr.Wrapf(werr.IOError, err, "store: begin transaction")
	}
	for _, e := range entries {
		if err := s.db.Set(e.Key, e.Value); err != nil {
			s.db.Rollback()
			return werr.Wrapf(werr.IOError, err, "store: set in batch")
		}
	}
	if err := s.db.Commit(); err != nil {
		return werr.Wrapf(werr.IOError, err, "store: commit batch")
	}
	return nil
}

// Iterator walks keys in ascending order over the half-open range
// [min, max). A nil min starts at the first key; a nil max has no
// upper bound.
type Iterator struct {
	enum *kv.Enumerator
	max  []byte
	key  []byte
	val  []byte
	err  error
	done bool
}

// Iterator returns a forward iterator over [min, max). Call Next
// before the first Key/Value.
func (s *Store) Iterator(min, max []byte) (*Iterator, error) {
	enum, _, err := s.db.Seek(min)
	if err != nil {
		return nil, werr.Wrapf(werr.IOError, err, "store: seek")
	}
	return &Iterator{enum: enum, max: max}, nil
}

// Next advances the iterator, returning false when the range is
// exhausted or an error occurred (check Err).
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	k, v, err := it.enum.Next()
	if err == io.EOF {
		it.done = true
		return false
	}
	if err != nil {
		it.err = err
		it.done = true
		return false
	}
	if it.max != nil && bytes.Compare(k, it.max) >= 0 {
		it.done = true
		return false
	}
	it.key, it.val = k, v
	return true
}

// Key returns the current entry's key. Valid only after Next returns
// true.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current entry's value. Valid only after Next
// returns true.
func (it *Iterator) Value() []byte { return it.val }

// Err returns the first error encountered during iteration, if any.
func (it *Iterator) Err() error {
	if it.err == nil {
		return nil
	}
	return werr.Wrap(werr.IOError, it.err, "store: iteration")
}
