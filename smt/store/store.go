// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store is the persistent key-value layer the SMT engine is built
// on: one handle per process, shared by every namespace and addressed with
// column-family-style key prefixing rather than separate databases (spec.md
// §4.1 "SMT on-disk layout"). Two backends are provided, mirroring the
// teacher's own database package, which ships both cockroachdb/pebble and
// syndtr/goleveldb drivers behind the same shape of interface.
package store

import "io"

// Iterator walks a key range in ascending key order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	io.Closer
}

// Batch accumulates writes to be applied atomically.
type Batch interface {
	Set(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// KVStore is the minimal persistent key-value contract the SMT engine
// depends on. Ranged reads use a [start, end) half-open byte range.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	NewBatch() Batch
	NewIterator(start, end []byte) Iterator
	Close() error
}

// ErrNotFound is returned by Get when the key is absent. Both backends
// translate their own not-found sentinel into this one so callers never
// import a backend package directly.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "store: key not found" }
