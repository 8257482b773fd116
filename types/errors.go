// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import "errors"

// Sentinel errors for the taxonomy in spec.md §7. Builders and the amount
// calculator return these unchanged (wrapped with fmt.Errorf("%w: ...")
// for context) so callers can branch with errors.Is.
var (
	ErrCellNotFound        = errors.New("expected cell not found")
	ErrInaugurationEpoch   = errors.New("inauguration epoch outside permitted window")
	ErrExceedWalletAmount  = errors.New("proposed debit exceeds wallet amount")
	ErrExceedTotalAmount   = errors.New("proposed redeem exceeds current total")
	ErrFirstIncreaseOnly   = errors.New("first delta must be an increase")
	ErrInsufficientCapacity = errors.New("balancing could not cover fees")
	ErrNotCheckpointOccasion = errors.New("epoch/period does not legally succeed the last checkpoint")
	ErrExceedMaxSupply     = errors.New("mint would exceed max supply")
	ErrFirstStake          = errors.New("first stake requires l1_pub_key, bls_pub_key and delegate_requirement")
	ErrStorage             = errors.New("smt storage failure")
	ErrChain               = errors.New("chain RPC failure or invalid status")
)
