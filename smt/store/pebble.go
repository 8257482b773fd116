// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"errors"

	"github.com/cockroachdb/pebble"
)

// PebbleStore is the default backend: an embedded LSM tree, durable across
// process restarts, opened once per SMT database directory (spec.md §9
// "SMT database directory — owned by the engine, contains the live tree").
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (and creates, if absent) a pebble database at dir.
func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), v...)
	return out, closer.Close()
}

func (s *PebbleStore) Has(key []byte) (bool, error) {
	_, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PebbleStore) Set(key, value []byte) error {
	return s.db.Set(key, value, pebble.Sync)
}

func (s *PebbleStore) Delete(key []byte) error {
	return s.db.Delete(key, pebble.Sync)
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) NewBatch() Batch {
	return &pebbleBatch{b: s.db.NewBatch()}
}

type pebbleBatch struct {
	b *pebble.Batch
}

func (b *pebbleBatch) Set(key, value []byte) error { return b.b.Set(key, value, nil) }
func (b *pebbleBatch) Delete(key []byte) error      { return b.b.Delete(key, nil) }
func (b *pebbleBatch) Commit() error                { return b.b.Commit(pebble.Sync) }

func (s *PebbleStore) NewIterator(start, end []byte) Iterator {
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		return &errIterator{err: err}
	}
	return &pebbleIterator{it: it, first: true}
}

type pebbleIterator struct {
	it    *pebble.Iterator
	first bool
}

func (i *pebbleIterator) Next() bool {
	if i.first {
		i.first = false
		return i.it.First()
	}
	return i.it.Next()
}

func (i *pebbleIterator) Key() []byte   { return append([]byte(nil), i.it.Key()...) }
func (i *pebbleIterator) Value() []byte { return append([]byte(nil), i.it.Value()...) }
func (i *pebbleIterator) Error() error  { return i.it.Error() }
func (i *pebbleIterator) Close() error  { return i.it.Close() }

type errIterator struct{ err error }

func (i *errIterator) Next() bool      { return false }
func (i *errIterator) Key() []byte     { return nil }
func (i *errIterator) Value() []byte   { return nil }
func (i *errIterator) Error() error    { return i.err }
func (i *errIterator) Close() error    { return nil }
