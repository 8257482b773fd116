// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package types holds the shared wire-level primitives every other package
// in this module builds on: epochs, amounts, addresses and the fixed
// 32-byte leaf value that backs every sparse-Merkle-tree entry.
package types

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mr-tron/base58"
)

// Epoch is a monotonic, unsigned 64-bit epoch counter.
type Epoch uint64

// Inauguration is the fixed epoch offset between the epoch a delta is
// submitted in and the epoch it becomes committed stake.
const Inauguration Epoch = 2

// Target returns the inauguration epoch a delta submitted during e targets.
func (e Epoch) Target() Epoch { return e + Inauguration }

// AddrSize is the width, in bytes, of every account identifier.
const AddrSize = 20

// Address is a 20-byte account identifier, used interchangeably for
// stakers, delegators and validators per spec.md §3.
type Address [AddrSize]byte

func (a Address) String() string { return base58.Encode(a[:]) }

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == Address{} }

// MarshalText renders a as base58, so a is readable directly wherever it
// is embedded in JSON (e.g. the rollover context spooler).
func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText parses a's base58 rendering back into the fixed-width
// address.
func (a *Address) UnmarshalText(b []byte) error {
	decoded, err := base58.Decode(string(b))
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	if len(decoded) != AddrSize {
		return fmt.Errorf("address: decoded length %d, want %d", len(decoded), AddrSize)
	}
	copy(a[:], decoded)
	return nil
}

// LeafSize is the fixed width of every SMT leaf value.
const LeafSize = 32

// LeafValue is the fixed 32-byte opaque value stored at every SMT leaf.
// The absent/zero leaf is the SMT's encoding of "no entry" (spec.md §3).
type LeafValue [LeafSize]byte

// ZeroLeaf is the canonical "absent" leaf value.
var ZeroLeaf = LeafValue{}

// IsZero reports whether v denotes an absent leaf.
func (v LeafValue) IsZero() bool { return v == ZeroLeaf }

// AmountLeaf left-aligns a little-endian 128-bit amount into a leaf value.
func AmountLeaf(a Amount) LeafValue {
	var v LeafValue
	a.PutLE16(v[:16])
	return v
}

// EpochLeaf left-aligns a little-endian 64-bit epoch into a leaf value.
func EpochLeaf(e Epoch) LeafValue {
	var v LeafValue
	binary.LittleEndian.PutUint64(v[:8], uint64(e))
	return v
}

// CountLeaf left-aligns a little-endian 64-bit count into a leaf value.
func CountLeaf(c uint64) LeafValue {
	var v LeafValue
	binary.LittleEndian.PutUint64(v[:8], c)
	return v
}

// RootLeaf copies a 32-byte Merkle root verbatim into a leaf value.
func RootLeaf(root [32]byte) LeafValue { return LeafValue(root) }

// AmountFromLeaf reads back the 16-byte little-endian amount prefix.
func AmountFromLeaf(v LeafValue) Amount {
	return AmountFromLE16(v[:16])
}

// EpochFromLeaf reads back the 8-byte little-endian epoch prefix.
func EpochFromLeaf(v LeafValue) Epoch {
	return Epoch(binary.LittleEndian.Uint64(v[:8]))
}

// CountFromLeaf reads back the 8-byte little-endian count prefix.
func CountFromLeaf(v LeafValue) uint64 {
	return binary.LittleEndian.Uint64(v[:8])
}

// AmountSize is the width, in bytes, of every on-disk amount encoding.
const AmountSize = 16

// Amount is an unsigned 128-bit token amount, little-endian at rest.
// It is layered on uint256.Int (already load-bearing elsewhere in the
// dependency graph) rather than a hand-rolled 128-bit type, trading four
// unused high words for a well-tested arithmetic implementation.
type Amount struct {
	v uint256.Int
}

// NewAmount builds an Amount from a uint64.
func NewAmount(u uint64) Amount {
	var a Amount
	a.v.SetUint64(u)
	return a
}

// AmountFromLE16 decodes a 16-byte little-endian amount.
func AmountFromLE16(b []byte) Amount {
	var a Amount
	var buf [32]byte
	copy(buf[:16], b)
	a.v.SetBytes(reverse(buf[:]))
	return a
}

// PutLE16 encodes a into a 16-byte little-endian buffer. Panics if a does
// not fit in 128 bits; callers operate on token amounts that are bounded
// far below that by the parent chain's own supply caps.
func (a Amount) PutLE16(dst []byte) {
	if a.v.BitLen() > 128 {
		panic(fmt.Sprintf("amount %s overflows 128 bits", a.v.String()))
	}
	be := a.v.Bytes32()
	for i := 0; i < 16; i++ {
		dst[i] = be[31-i]
	}
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// MaxAmount returns the largest value representable in the 128-bit
// on-disk encoding (2^128 - 1). Used as a symbolic "unbounded wallet"
// sentinel by callers that need the elect-amount calculator's pure
// bookkeeping arithmetic without a real wallet-sufficiency check (the
// real check happens at cell-collection time against actual on-chain
// token cells).
func MaxAmount() Amount {
	var a Amount
	a.v.SetAllOne()
	a.v.Rsh(&a.v, 128)
	return a
}

// Add returns a+b.
func (a Amount) Add(b Amount) Amount {
	var out Amount
	out.v.Add(&a.v, &b.v)
	return out
}

// Sub returns a-b. Callers must check Cmp first; this never clamps.
func (a Amount) Sub(b Amount) Amount {
	var out Amount
	out.v.Sub(&a.v, &b.v)
	return out
}

// Mul returns a*b. Used by the reward builder's proportional-share
// arithmetic (spec.md §4.3 "Reward"), which multiplies before dividing to
// match the spec's literal integer arithmetic.
func (a Amount) Mul(b Amount) Amount {
	var out Amount
	out.v.Mul(&a.v, &b.v)
	return out
}

// Div returns a/b, truncated toward zero. Div by zero returns zero rather
// than panicking, since the reward builder's only division-by-total is
// already guarded by a zero check on the bond total.
func (a Amount) Div(b Amount) Amount {
	if b.IsZero() {
		return Amount{}
	}
	var out Amount
	out.v.Div(&a.v, &b.v)
	return out
}

// Cmp returns -1/0/1 as a is less than, equal to, or greater than b.
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

// IsZero reports whether a is zero.
func (a Amount) IsZero() bool { return a.v.IsZero() }

// Uint64 returns the low 64 bits of a. Used only where the caller has
// already bounded the value (e.g. test fixtures, proposal counts).
func (a Amount) Uint64() uint64 { return a.v.Uint64() }

func (a Amount) String() string { return a.v.Dec() }
