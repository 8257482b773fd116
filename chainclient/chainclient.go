// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chainclient is the narrow async interface the core consumes the
// parent chain through (spec.md §4.5): live-cell lookup by script filter,
// paginated cell search, transaction submission and status polling. The
// core never talks to a chain transport directly; every builder and the
// cell collector hold a ChainClient value instead (spec.md §9 "Dynamic
// dispatch over chain backend ... implement as an interface abstraction
// with the live backend and an in-memory mock for tests").
//
// Grounded on the teacher's wallet/chain/p/backend.go shape: a small
// interface the builder package depends on, with a real network-backed
// implementation and a test double satisfying the same contract.
package chainclient

import (
	"context"

	"github.com/ckb-spark/spark/types"
)

// ScriptSearchMode selects how Args is matched against a candidate
// script's own args (spec.md §4.5 "script search mode prefix|exact").
type ScriptSearchMode byte

const (
	SearchModeExact  ScriptSearchMode = iota
	SearchModePrefix
)

// Order selects ascending or descending iteration order for GetCells.
type Order byte

const (
	OrderAsc Order = iota
	OrderDesc
)

// ScriptFilter narrows a SearchKey by an additional inner script
// (spec.md §4.5 "optional filters (inner script, ...)").
type ScriptFilter struct {
	Script     types.Script
	SearchMode ScriptSearchMode
}

// SearchKey selects the set of cells GetCells enumerates: a primary
// script (either the cell's lock or its type, selected by Primary) plus
// optional secondary filters (spec.md §4.5).
type SearchKey struct {
	Script      types.Script
	Primary     ScriptField // which of the candidate cell's scripts Script is matched against
	SearchMode  ScriptSearchMode
	TypeFilter  *ScriptFilter
	BlockRange  *[2]uint64 // [from, to), inclusive-exclusive
	OutputDataLenRange  *[2]uint64
	OutputCapacityRange *[2]uint64
}

// ScriptField selects which script on a candidate cell SearchKey.Script is
// matched against.
type ScriptField byte

const (
	FieldLock ScriptField = iota
	FieldType
)

// Page is one page of a paginated cell search.
type Page struct {
	Cells      []types.Cell
	LastCursor []byte // pass back as `after` to continue; nil when exhausted
}

// Tip is the indexer's currently-indexed block height.
type Tip struct {
	BlockNumber uint64
}

// Status is the lifecycle state of a submitted transaction, as reported
// by GetTransaction.
type Status int

const (
	StatusUnknown Status = iota
	StatusPending
	StatusProposed
	StatusCommitted
	StatusRejected
)

// StatusResponse is the result of polling a submitted transaction.
type StatusResponse struct {
	Status Status
	Reason string // populated only when Status == StatusRejected
}

// ValidatorKind selects which pass the chain transport runs over a
// submitted transaction before relaying it (spec.md §4.5 "send_transaction
// (tx, validator)"); passthrough skips local script validation entirely.
type ValidatorKind int

const (
	ValidatorDefault ValidatorKind = iota
	ValidatorPassthrough
)

// CellInfo is the result of a single live-cell lookup, with an optional
// WithData payload when the caller asked for it.
type CellInfo struct {
	Cell types.Cell
	Live bool
}

// ChainClient is the single abstraction every builder and the cell
// collector depend on (spec.md §4.5). This package ships one
// implementation, Mock (in-memory, used by every builder test); it has no
// network-backed implementation.
type ChainClient interface {
	GetCells(ctx context.Context, key SearchKey, order Order, limit uint32, after []byte) (Page, error)
	GetLiveCell(ctx context.Context, out types.OutPoint, withData bool) (*CellInfo, error)
	GetIndexerTip(ctx context.Context) (Tip, error)
	SendTransaction(ctx context.Context, tx *types.Transaction, validator ValidatorKind) (types.Hash, error)
	GetTransaction(ctx context.Context, hash types.Hash) (*StatusResponse, error)
}
