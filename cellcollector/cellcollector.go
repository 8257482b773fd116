// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package cellcollector implements the two ChainClient query modes every
// transaction builder needs (spec.md §4.5(a)/(b)): finding the unique cell
// of a given role, and accumulating token cells until their amounts sum
// to at least a target. Grounded on the teacher's
// wallet/supernet/primary/utxos.go UTXO-accumulation idiom, generalized
// from AVAX-native-asset UTXOs to arbitrary XUDT token cells whose amount
// lives in the cell's own 16-byte data prefix rather than in a typed
// "asset ID + amount" UTXO struct.
package cellcollector

import (
	"context"
	"fmt"

	"github.com/ckb-spark/spark/chainclient"
	"github.com/ckb-spark/spark/types"
)

// ErrNoMatch is returned by FindTarget when zero cells satisfy the search.
var ErrNoMatch = fmt.Errorf("%w: zero cells matched", types.ErrCellNotFound)

// ErrAmbiguous is returned by FindTarget when more than one cell matches
// a search that is supposed to identify a unique role cell.
var ErrAmbiguous = fmt.Errorf("%w: more than one cell matched a unique search", types.ErrCellNotFound)

// Collector wraps a ChainClient with the two collection modes builders use.
type Collector struct {
	Client chainclient.ChainClient
}

// New builds a Collector over client.
func New(client chainclient.ChainClient) *Collector { return &Collector{Client: client} }

// FindTarget looks up the single cell expected to exist for a given
// (lock, type) script pair — the stake AT cell for one staker, the
// unique metadata cell, and so on (spec.md §4.5(a) "unique-by-type").
// It pages through every result rather than trusting limit=1, so a
// caller finds out about an ambiguous on-chain state instead of silently
// picking whichever cell the indexer happened to return first.
func (c *Collector) FindTarget(ctx context.Context, key chainclient.SearchKey) (types.Cell, error) {
	var found *types.Cell
	after := []byte(nil)
	for {
		page, err := c.Client.GetCells(ctx, key, chainclient.OrderAsc, 100, after)
		if err != nil {
			return types.Cell{}, fmt.Errorf("%w: %v", types.ErrChain, err)
		}
		for i := range page.Cells {
			if found != nil {
				return types.Cell{}, ErrAmbiguous
			}
			found = &page.Cells[i]
		}
		if page.LastCursor == nil {
			break
		}
		after = page.LastCursor
	}
	if found == nil {
		return types.Cell{}, ErrNoMatch
	}
	return *found, nil
}

// TryFindTarget is FindTarget but reports absence as (false, nil) instead
// of an error, for callers (first-stake, first-delegate) for whom "no
// cell yet" is an expected, non-error branch.
func (c *Collector) TryFindTarget(ctx context.Context, key chainclient.SearchKey) (types.Cell, bool, error) {
	cell, err := c.FindTarget(ctx, key)
	if err == ErrNoMatch {
		return types.Cell{}, false, nil
	}
	if err != nil {
		return types.Cell{}, false, err
	}
	return cell, true, nil
}

// FindAll pages through every cell matching key, for callers that need
// the whole set rather than a unique or amount-bounded subset (spec.md
// §4.3 "Stake-SMT / Delegate-SMT ... reads current AT cells").
func (c *Collector) FindAll(ctx context.Context, key chainclient.SearchKey) ([]types.Cell, error) {
	var all []types.Cell
	after := []byte(nil)
	for {
		page, err := c.Client.GetCells(ctx, key, chainclient.OrderAsc, 100, after)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrChain, err)
		}
		all = append(all, page.Cells...)
		if page.LastCursor == nil {
			break
		}
		after = page.LastCursor
	}
	return all, nil
}

// AmountOf extracts a token cell's 16-byte little-endian amount prefix
// (spec.md §6 "every token-bearing cell begins with a 16-byte little-
// endian amount").
func AmountOf(c types.Cell) types.Amount {
	if len(c.Data) < types.AmountSize {
		return types.Amount{}
	}
	return types.AmountFromLE16(c.Data[:types.AmountSize])
}

// CollectUntilCovered accumulates cells matching key, in the chain
// client's deterministic (by-OutPoint) order, until their summed amounts
// reach at least target (spec.md §4.5(b) "collect-until-covered"). It
// returns the cells collected and their actual sum, which the caller uses
// to size a change output.
func (c *Collector) CollectUntilCovered(ctx context.Context, key chainclient.SearchKey, target types.Amount) ([]types.Cell, types.Amount, error) {
	var (
		collected []types.Cell
		sum       = types.NewAmount(0)
		after     []byte
	)
	for sum.Cmp(target) < 0 {
		page, err := c.Client.GetCells(ctx, key, chainclient.OrderAsc, 32, after)
		if err != nil {
			return nil, types.Amount{}, fmt.Errorf("%w: %v", types.ErrChain, err)
		}
		if len(page.Cells) == 0 {
			break
		}
		for _, cell := range page.Cells {
			collected = append(collected, cell)
			sum = sum.Add(AmountOf(cell))
			if sum.Cmp(target) >= 0 {
				break
			}
		}
		if page.LastCursor == nil {
			break
		}
		after = page.LastCursor
	}
	if sum.Cmp(target) < 0 {
		return nil, types.Amount{}, fmt.Errorf("%w: only collected %s of %s", ErrNoMatch, sum, target)
	}
	return collected, sum, nil
}
