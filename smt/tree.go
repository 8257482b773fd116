// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package smt

import (
	"errors"
	"fmt"

	"github.com/ckb-spark/spark/smt/store"
)

// tree is one persistent 256-bit sparse Merkle (sub-)tree, addressed by a
// namespace byte plus a sub-prefix within a single shared store (spec.md
// §4.1 "SMT on-disk layout": one key-value store, column-family-style
// prefixing). Branch nodes are stored content-addressed by (height,
// canonical path prefix); a node equal to the precomputed zero hash for
// its height is never written, and is deleted if an update collapses it
// back to zero, so an empty or sparsely populated tree costs no storage.
type tree struct {
	db     store.KVStore
	prefix []byte // namespace byte + sub-prefix, shared by every key below
}

const (
	kindLeaf   byte = 'L'
	kindBranch byte = 'B'
	kindRoot   byte = 'R'
)

func (t *tree) leafKey(k Key) []byte {
	out := make([]byte, 0, len(t.prefix)+1+32)
	out = append(out, t.prefix...)
	out = append(out, kindLeaf)
	return append(out, k[:]...)
}

func (t *tree) branchKey(height int, masked Key) []byte {
	out := make([]byte, 0, len(t.prefix)+1+2+32)
	out = append(out, t.prefix...)
	out = append(out, kindBranch, byte(height>>8), byte(height))
	return append(out, masked[:]...)
}

func (t *tree) rootKey() []byte {
	return append(append([]byte{}, t.prefix...), kindRoot)
}

func (t *tree) getNode(height int, masked Key) (node, error) {
	var key []byte
	if height == 0 {
		key = t.leafKey(masked)
	} else {
		key = t.branchKey(height, masked)
	}
	v, err := t.db.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		return zeroHash[height], nil
	}
	if err != nil {
		return node{}, err
	}
	var n node
	copy(n[:], v)
	return n, nil
}

func (t *tree) setNode(batch store.Batch, height int, masked Key, value node) error {
	var key []byte
	if height == 0 {
		key = t.leafKey(masked)
	} else {
		key = t.branchKey(height, masked)
	}
	if value == zeroHash[height] {
		return batch.Delete(key)
	}
	return batch.Set(key, value[:])
}

// Root returns the tree's current root, or the canonical empty-tree root
// if nothing has ever been written.
func (t *tree) Root() (node, error) {
	v, err := t.db.Get(t.rootKey())
	if errors.Is(err, store.ErrNotFound) {
		return zeroHash[depth], nil
	}
	if err != nil {
		return node{}, err
	}
	var r node
	copy(r[:], v)
	return r, nil
}

// Get reads the leaf value at k; a zero value denotes absence, matching
// the tree's own "absence == zero leaf" invariant (spec.md §3).
func (t *tree) Get(k Key) (node, error) {
	return t.getNode(0, k)
}

// Set writes value at k, recomputing every ancestor hash up to the root
// in a single atomic batch. Passing the zero value is how callers remove
// a leaf (spec.md §4.1 stake.remove: "set leaves to zero").
func (t *tree) Set(k Key, value node) error {
	batch := t.db.NewBatch()
	if err := t.setNode(batch, 0, k, value); err != nil {
		return err
	}

	cur := value
	for h := 1; h <= depth; h++ {
		bitPos := depth - h
		siblingKey := k.withBit(bitPos, 1-k.bit(bitPos))
		siblingMasked := siblingKey.maskedPrefix(depth - h + 1)
		sibling, err := t.getNode(h-1, siblingMasked)
		if err != nil {
			return err
		}

		var left, right node
		if k.bit(bitPos) == 0 {
			left, right = cur, sibling
		} else {
			left, right = sibling, cur
		}
		cur = merge(left, right)

		if h == depth {
			if cur == zeroHash[depth] {
				if err := batch.Delete(t.rootKey()); err != nil {
					return err
				}
			} else if err := batch.Set(t.rootKey(), cur[:]); err != nil {
				return err
			}
			continue
		}
		parentMasked := k.maskedPrefix(depth - h)
		if err := t.setNode(batch, h, parentMasked, cur); err != nil {
			return err
		}
	}
	return batch.Commit()
}

// SetBatch applies a sequence of Sets, one Set per map entry in map
// order. Nothing in this module calls it: the forest's NewEpoch, Insert
// and Remove call Set directly while holding the namespace mutex.
//
// It is implemented as sequential, internally-batched Set calls rather
// than one shared store.Batch: each Set must read back the in-progress
// tree state (sibling nodes a prior Set in the same call just wrote) to
// compute the next key's path correctly, which a single unread-back batch
// cannot provide. Callers needing cross-tree atomicity (top and sub
// together) hold the forest's namespace mutex for the whole call instead.
func (t *tree) SetBatch(kvs map[Key]node) error {
	for k, v := range kvs {
		if err := t.Set(k, v); err != nil {
			return fmt.Errorf("smt: set batch: %w", err)
		}
	}
	return nil
}

// Leaves enumerates every non-zero leaf in the tree via a prefix scan
// (spec.md §4.1 "get_sub_leaves ... enumerate all non-zero leaves ... by
// prefix scan").
func (t *tree) Leaves() (map[Key]node, error) {
	start := append(append([]byte{}, t.prefix...), kindLeaf)
	end := append(append([]byte{}, t.prefix...), kindLeaf+1)
	it := t.db.NewIterator(start, end)
	defer it.Close()

	out := make(map[Key]node)
	for it.Next() {
		var k Key
		copy(k[:], it.Key()[len(start):])
		var v node
		copy(v[:], it.Value())
		out[k] = v
	}
	return out, it.Error()
}
