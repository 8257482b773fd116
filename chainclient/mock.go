// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chainclient

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ckb-spark/spark/types"
)

var _ ChainClient = (*Mock)(nil)

// Mock is an in-memory ChainClient used by every builder test in this
// module (spec.md §9 "Dynamic dispatch over chain backend"), grounded on
// the teacher's own chain-UTXOs test double (wallet/supernet/primary/
// common/test_utxos.go, wallet/supernet/primary/utxos.go): a mutex-guarded
// map standing in for what a live indexer would answer. Cells are keyed
// by their OutPoint; iteration order for GetCells is canonicalized by
// OutPoint so repeated collection over the same state is reproducible
// (spec.md §8 property 5, rollover idempotence, depends on this).
type Mock struct {
	mu  sync.Mutex
	tip uint64

	cells map[types.OutPoint]types.Cell
	subs  map[types.Hash]StatusResponse

	// nextTxSeq numbers submitted transactions, so SendTransaction mints
	// deterministic hashes (and output OutPoints) without a per-test
	// counter.
	nextTxSeq uint64
}

// NewMock returns an empty mock chain at indexer tip 0.
func NewMock() *Mock {
	return &Mock{
		cells: make(map[types.OutPoint]types.Cell),
		subs:  make(map[types.Hash]StatusResponse),
	}
}

// PutCell inserts or overwrites a cell, as test setup or a prior builder's
// "submission" would. Returns the mock for chaining in table-driven setup.
func (m *Mock) PutCell(c types.Cell) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cells[c.OutPoint] = c
	return m
}

// RemoveCell deletes a cell by OutPoint, as a consuming transaction would.
func (m *Mock) RemoveCell(out types.OutPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cells, out)
}

// SetTip advances the mock indexer tip, for scanner tests.
func (m *Mock) SetTip(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tip = n
}

func scriptMatches(candidate, want types.Script, mode ScriptSearchMode) bool {
	if candidate.CodeHash != want.CodeHash || candidate.HashType != want.HashType {
		return false
	}
	switch mode {
	case SearchModePrefix:
		return len(candidate.Args) >= len(want.Args) && string(candidate.Args[:len(want.Args)]) == string(want.Args)
	default:
		return string(candidate.Args) == string(want.Args)
	}
}

func (m *Mock) GetCells(_ context.Context, key SearchKey, order Order, limit uint32, after []byte) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []types.Cell
	for _, c := range m.cells {
		primary := c.Lock
		if key.Primary == FieldType {
			primary = typeOrEmpty(c)
		}
		if !scriptMatches(primary, key.Script, key.SearchMode) {
			continue
		}
		if key.TypeFilter != nil {
			if c.Type == nil || !scriptMatches(*c.Type, key.TypeFilter.Script, key.TypeFilter.SearchMode) {
				continue
			}
		}
		if key.OutputDataLenRange != nil {
			n := uint64(len(c.Data))
			if n < key.OutputDataLenRange[0] || n >= key.OutputDataLenRange[1] {
				continue
			}
		}
		if key.OutputCapacityRange != nil {
			if c.Capacity < key.OutputCapacityRange[0] || c.Capacity >= key.OutputCapacityRange[1] {
				continue
			}
		}
		matches = append(matches, c)
	}

	sort.Slice(matches, func(i, j int) bool {
		less := outPointLess(matches[i].OutPoint, matches[j].OutPoint)
		if order == OrderDesc {
			return !less
		}
		return less
	})

	start := 0
	if len(after) > 0 {
		for i, c := range matches {
			if outPointKey(c.OutPoint) == string(after) {
				start = i + 1
				break
			}
		}
	}
	if start > len(matches) {
		start = len(matches)
	}
	end := start
	if limit == 0 || uint32(len(matches)-start) <= limit {
		end = len(matches)
	} else {
		end = start + int(limit)
	}

	page := Page{Cells: append([]types.Cell(nil), matches[start:end]...)}
	if end < len(matches) {
		page.LastCursor = []byte(outPointKey(matches[end-1].OutPoint))
	}
	return page, nil
}

func typeOrEmpty(c types.Cell) types.Script {
	if c.Type == nil {
		return types.Script{}
	}
	return *c.Type
}

func outPointKey(o types.OutPoint) string {
	return fmt.Sprintf("%x:%d", o.TxHash[:], o.Index)
}

func outPointLess(a, b types.OutPoint) bool {
	ka, kb := outPointKey(a), outPointKey(b)
	return ka < kb
}

func (m *Mock) GetLiveCell(_ context.Context, out types.OutPoint, _ bool) (*CellInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cells[out]
	if !ok {
		return &CellInfo{Live: false}, nil
	}
	return &CellInfo{Cell: c, Live: true}, nil
}

func (m *Mock) GetIndexerTip(_ context.Context) (Tip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Tip{BlockNumber: m.tip}, nil
}

// SendTransaction "submits" tx by applying its inputs/outputs directly to
// the mock's cell set and returns a deterministic hash derived from a
// monotonic sequence counter, so repeated test runs against a freshly
// built Mock are reproducible (spec.md §8 property 5).
func (m *Mock) SendTransaction(_ context.Context, tx *types.Transaction, _ ValidatorKind) (types.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextTxSeq++
	var h types.Hash
	h[0], h[1] = byte(m.nextTxSeq>>8), byte(m.nextTxSeq)

	for _, in := range tx.Inputs {
		delete(m.cells, in.PreviousOutput)
	}
	for i, out := range tx.Outputs {
		op := types.OutPoint{TxHash: h, Index: uint32(i)}
		m.cells[op] = types.Cell{
			OutPoint: op,
			Capacity: out.Capacity,
			Lock:     out.Lock,
			Type:     out.Type,
			Data:     tx.OutputsData[i],
		}
	}
	m.subs[h] = StatusResponse{Status: StatusCommitted}
	return h, nil
}

func (m *Mock) GetTransaction(_ context.Context, hash types.Hash) (*StatusResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[hash]
	if !ok {
		return nil, nil
	}
	return &s, nil
}
