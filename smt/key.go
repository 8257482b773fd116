// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package smt

import (
	"encoding/binary"

	"github.com/ckb-spark/spark/types"
)

// Key is a 256-bit tree leaf identity (spec.md §4.1 "Key encoding").
type Key [32]byte

// AddressKey left-aligns a 20-byte address into a 32-byte tree key.
func AddressKey(a types.Address) Key {
	var k Key
	copy(k[:types.AddrSize], a[:])
	return k
}

// EpochKey left-aligns an 8-byte little-endian epoch into a 32-byte tree key.
func EpochKey(e types.Epoch) Key {
	var k Key
	binary.LittleEndian.PutUint64(k[:8], uint64(e))
	return k
}

// bit reports the i-th bit of k, most-significant bit first (i == 0
// selects the top bit of k[0]).
func (k Key) bit(i int) int {
	return int((k[i/8] >> (7 - uint(i%8))) & 1)
}

// withBit returns a copy of k with its i-th bit set to v (0 or 1).
func (k Key) withBit(i, v int) Key {
	out := k
	mask := byte(1) << (7 - uint(i%8))
	if v == 0 {
		out[i/8] &^= mask
	} else {
		out[i/8] |= mask
	}
	return out
}

// maskedPrefix zeroes every bit of k from position bits onward, leaving a
// canonical identity for the subtree all keys sharing k's top `bits` bits
// belong to.
func (k Key) maskedPrefix(bits int) Key {
	var out Key
	full := bits / 8
	copy(out[:full], k[:full])
	if rem := bits % 8; rem != 0 {
		mask := byte(0xFF) << uint(8-rem)
		out[full] = k[full] & mask
	}
	return out
}
