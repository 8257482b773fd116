// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

// CellInput references a cell being consumed by a transaction.
type CellInput struct {
	PreviousOutput OutPoint
	Since          uint64
}

// CellOutput is a cell being produced by a transaction: a capacity, a
// lock script and an optional type script. Its data lives in the parallel
// OutputsData slice on Transaction (mirrors the parent chain's own
// split between fixed-size cell outputs and their variable-length data).
type CellOutput struct {
	Capacity uint64
	Lock     Script
	Type     *Script
}

// CellDep references a cell whose data/type is required to be resolvable
// at verification time without being consumed (scripts, shared libraries).
type CellDep struct {
	OutPoint OutPoint
	DepType  byte // 0 = code, 1 = dep-group
}

// Transaction is a fully (or partially, pre-signing) assembled parent-chain
// transaction: inputs, outputs, per-output data and cell-deps, plus a
// witness per input. Builders fill Inputs, Outputs, OutputsData and one
// placeholder witness per input; no builder in this module fills CellDeps
// or HeaderDeps, and nothing here signs (spec.md §4.3 step 6).
type Transaction struct {
	CellDeps    []CellDep
	HeaderDeps  []Hash
	Inputs      []CellInput
	Outputs     []CellOutput
	OutputsData [][]byte
	Witnesses   [][]byte
}

// InputCapacity sums the capacity of every input cell resolved from
// resolved (same order as Inputs).
func (tx *Transaction) InputCapacity(resolved []Cell) uint64 {
	var sum uint64
	for _, c := range resolved {
		sum += c.Capacity
	}
	return sum
}

// OutputCapacity sums the capacity of every output cell.
func (tx *Transaction) OutputCapacity() uint64 {
	var sum uint64
	for _, o := range tx.Outputs {
		sum += o.Capacity
	}
	return sum
}

// AddOutput appends a cell output and its data in lock-step, keeping the
// two parallel slices from drifting apart (every builder in this module
// appends through this helper rather than indexing both slices by hand).
func (tx *Transaction) AddOutput(out CellOutput, data []byte) {
	tx.Outputs = append(tx.Outputs, out)
	tx.OutputsData = append(tx.OutputsData, data)
}

// AddInput appends a cell input and a placeholder witness in lock-step.
// Builders pass a one-byte codec-version placeholder for a role cell
// whose lock witness is verified by its type script rather than signed by
// the builder, and nil for plain wallet or fee inputs (spec.md §4.3 step 6).
func (tx *Transaction) AddInput(in CellInput, witnessPlaceholder []byte) {
	tx.Inputs = append(tx.Inputs, in)
	tx.Witnesses = append(tx.Witnesses, witnessPlaceholder)
}

// EstimatedSize is a coarse, deterministic transaction-size estimate used
// by fee balancing (spec.md §4.3 step 7 "fee = tx_size * fee_rate / 1000").
// It is not a bit-exact on-chain serialization size; it is stable across
// repeated calls with the same transaction shape, which is all balancing
// needs to converge.
func (tx *Transaction) EstimatedSize() uint64 {
	const (
		fixedOverhead = 8 + 32 // version + misc header fields, headroom
		perCellDep    = 37
		perHeaderDep  = 32
		perInput      = 44
		perOutputBase = 8 + 1 + 32 + 1 // capacity + hash_type + code_hash + has_type
	)
	size := uint64(fixedOverhead)
	size += uint64(len(tx.CellDeps)) * perCellDep
	size += uint64(len(tx.HeaderDeps)) * perHeaderDep
	size += uint64(len(tx.Inputs)) * perInput
	for i, out := range tx.Outputs {
		size += perOutputBase + uint64(len(out.Lock.Args))
		if out.Type != nil {
			size += 33 + uint64(len(out.Type.Args))
		}
		size += 4 + uint64(len(tx.OutputsData[i]))
	}
	for _, w := range tx.Witnesses {
		size += 4 + uint64(len(w))
	}
	return size
}
