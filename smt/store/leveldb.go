// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelStore is the alternate backend named alongside pebble in the
// teacher's own database package (database/leveldb in the wider
// Juneo-io-juneogo tree). Operators who already run goleveldb-backed
// infrastructure elsewhere can point the SMT engine at it without a
// pebble dependency in their deployment.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevel opens (and creates, if absent) a goleveldb database at dir.
func OpenLevel(dir string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *LevelStore) Has(key []byte) (bool, error) {
	return s.db.Has(key, nil)
}

func (s *LevelStore) Set(key, value []byte) error { return s.db.Put(key, value, nil) }

func (s *LevelStore) Delete(key []byte) error { return s.db.Delete(key, nil) }

func (s *LevelStore) Close() error { return s.db.Close() }

func (s *LevelStore) NewBatch() Batch {
	return &levelBatch{db: s.db, b: new(leveldb.Batch)}
}

type levelBatch struct {
	db *leveldb.DB
	b  *leveldb.Batch
}

func (b *levelBatch) Set(key, value []byte) error {
	b.b.Put(key, value)
	return nil
}

func (b *levelBatch) Delete(key []byte) error {
	b.b.Delete(key)
	return nil
}

func (b *levelBatch) Commit() error { return b.db.Write(b.b, nil) }

func (s *LevelStore) NewIterator(start, end []byte) Iterator {
	it := s.db.NewIterator(&util.Range{Start: start, Limit: end}, nil)
	return &levelIterator{it: it}
}

type levelIterator struct {
	it iterator
}

// iterator is the subset of goleveldb's iterator.Iterator this package
// needs; declared locally so levelIterator can wrap the concrete type
// returned by (*leveldb.DB).NewIterator without re-importing it here.
type iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

func (i *levelIterator) Next() bool      { return i.it.Next() }
func (i *levelIterator) Key() []byte     { return append([]byte(nil), i.it.Key()...) }
func (i *levelIterator) Value() []byte   { return append([]byte(nil), i.it.Value()...) }
func (i *levelIterator) Error() error    { return i.it.Error() }
func (i *levelIterator) Close() error    { i.it.Release(); return nil }
