// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package smt

import (
	"golang.org/x/crypto/blake2b"

	"github.com/ckb-spark/spark/types"
)

// depth is the fixed hasher width: every tree in this engine is a 256-bit
// binary sparse Merkle tree (spec.md §4.1 "fixed 256-bit hasher").
const depth = 256

// node is the 32-byte content of a tree node at any height: at height 0 it
// is the raw leaf value, at height > 0 it is the blake2b-256 hash of its
// two children.
type node = types.LeafValue

var zeroHash [depth + 1]node

func init() {
	zeroHash[0] = types.ZeroLeaf
	for h := 1; h <= depth; h++ {
		zeroHash[h] = merge(zeroHash[h-1], zeroHash[h-1])
	}
}

// merge combines a node's two children into its parent hash. Domain
// separation (a leading tag byte) keeps an internal node from ever
// colliding with a raw leaf value that happens to look like a hash.
func merge(left, right node) node {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // blake2b-256 with a nil key never errors
	}
	h.Write([]byte{0x01})
	h.Write(left[:])
	h.Write(right[:])
	var out node
	copy(out[:], h.Sum(nil))
	return out
}
