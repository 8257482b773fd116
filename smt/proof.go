// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package smt

import (
	"fmt"

	"github.com/ckb-spark/spark/codec"
)

// PathProof is one key's compiled inclusion (or absence) path: the
// sibling hash at every height the key's value differs from the
// all-zero sibling is carried explicitly; every other height is implied
// to be the precomputed zero hash for that height, so an entry in a
// mostly-empty tree costs far fewer than 256 hashes (spec.md §4.1
// "Proof format ... standard compiled sparse-Merkle proofs").
type PathProof struct {
	Key      Key
	Value    node
	Present  [depth]bool
	Siblings []node // in height order 1..depth, only where Present[h-1] is true
}

// Proof bundles the entries a caller asked for against one tree root, in
// self-contained bytes a verifier can check without touching the store
// (spec.md §4.1 "proofs are self-contained bytes consumed by on-chain
// scripts").
type Proof struct {
	Root    node
	Entries []PathProof
}

func (t *tree) generateProof(keys []Key) (*Proof, error) {
	root, err := t.Root()
	if err != nil {
		return nil, err
	}
	proof := &Proof{Root: root}
	for _, k := range keys {
		entry, err := t.pathProof(k)
		if err != nil {
			return nil, err
		}
		proof.Entries = append(proof.Entries, entry)
	}
	return proof, nil
}

func (t *tree) pathProof(k Key) (PathProof, error) {
	value, err := t.getNode(0, k)
	if err != nil {
		return PathProof{}, err
	}
	entry := PathProof{Key: k, Value: value}

	for h := 1; h <= depth; h++ {
		bitPos := depth - h
		siblingKey := k.withBit(bitPos, 1-k.bit(bitPos))
		siblingMasked := siblingKey.maskedPrefix(depth - h + 1)
		sibling, err := t.getNode(h-1, siblingMasked)
		if err != nil {
			return PathProof{}, err
		}
		if sibling != zeroHash[h-1] {
			entry.Present[h-1] = true
			entry.Siblings = append(entry.Siblings, sibling)
		}
	}
	return entry, nil
}

// Verify recomputes the root implied by every entry in p and reports
// whether each one both resolves to its claimed value and collectively
// matches p.Root, the root a caller independently fetched via Root /
// GetSubRoot / GetTopRoot.
func (p *Proof) Verify() bool {
	for _, e := range p.Entries {
		if !e.verify(p.Root) {
			return false
		}
	}
	return true
}

func (e PathProof) verify(root node) bool {
	cur := e.Value
	idx := 0
	for h := 1; h <= depth; h++ {
		bitPos := depth - h
		var sib node
		if e.Present[h-1] {
			if idx >= len(e.Siblings) {
				return false
			}
			sib = e.Siblings[idx]
			idx++
		} else {
			sib = zeroHash[h-1]
		}
		if e.Key.bit(bitPos) == 0 {
			cur = merge(cur, sib)
		} else {
			cur = merge(sib, cur)
		}
	}
	return idx == len(e.Siblings) && cur == root
}

// Marshal serializes the proof with the fixed-layout codec used for
// every other wire-facing structure in this module (spec.md §4.1 "proofs
// are self-contained bytes").
func (p *Proof) Marshal() []byte {
	w := codec.NewWriter()
	w.PutByte(codec.Version)
	w.PutFixed(p.Root[:])
	w.PutU32(uint32(len(p.Entries)))
	for _, e := range p.Entries {
		ew := codec.NewWriter()
		ew.PutFixed(e.Key[:])
		ew.PutFixed(e.Value[:])
		var bitmap [32]byte
		for h := 0; h < depth; h++ {
			if e.Present[h] {
				bitmap[h/8] |= 1 << uint(7-h%8)
			}
		}
		ew.PutFixed(bitmap[:])
		items := make([][]byte, len(e.Siblings))
		for i, s := range e.Siblings {
			b := make([]byte, 32)
			copy(b, s[:])
			items[i] = b
		}
		ew.PutTable(items)
		w.PutTable([][]byte{ew.Bytes()})
	}
	return w.Bytes()
}

// UnmarshalProof parses bytes produced by Proof.Marshal.
func UnmarshalProof(b []byte) (*Proof, error) {
	r := codec.NewReader(b)
	v, err := r.GetByte()
	if err != nil {
		return nil, err
	}
	if v != codec.Version {
		return nil, fmt.Errorf("smt: unsupported proof version %d", v)
	}
	rootBytes, err := r.GetFixed(32)
	if err != nil {
		return nil, err
	}
	count, err := r.GetU32()
	if err != nil {
		return nil, err
	}

	p := &Proof{}
	copy(p.Root[:], rootBytes)

	for i := uint32(0); i < count; i++ {
		wrapped, err := r.GetTable()
		if err != nil {
			return nil, err
		}
		if len(wrapped) != 1 {
			return nil, fmt.Errorf("smt: malformed proof entry")
		}
		er := codec.NewReader(wrapped[0])
		var entry PathProof

		keyBytes, err := er.GetFixed(32)
		if err != nil {
			return nil, err
		}
		copy(entry.Key[:], keyBytes)

		valBytes, err := er.GetFixed(32)
		if err != nil {
			return nil, err
		}
		copy(entry.Value[:], valBytes)

		bitmapBytes, err := er.GetFixed(32)
		if err != nil {
			return nil, err
		}
		for h := 0; h < depth; h++ {
			if bitmapBytes[h/8]&(1<<uint(7-h%8)) != 0 {
				entry.Present[h] = true
			}
		}

		siblingItems, err := er.GetTable()
		if err != nil {
			return nil, err
		}
		if err := er.Done(); err != nil {
			return nil, err
		}
		for _, s := range siblingItems {
			var n node
			copy(n[:], s)
			entry.Siblings = append(entry.Siblings, n)
		}
		p.Entries = append(p.Entries, entry)
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return p, nil
}
