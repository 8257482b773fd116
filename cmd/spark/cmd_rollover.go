// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ckb-spark/spark/cellcollector"
	"github.com/ckb-spark/spark/chainclient"
	"github.com/ckb-spark/spark/rollover"
	"github.com/ckb-spark/spark/types"
)

// resolveRolloverParams finds every role cell the rollover builder
// spends by (lock, type) script fingerprint, the same discovery idiom
// every txbuilder builder uses internally (spec.md §9 "cyclic
// references ... resolved by identifying each cell by its (lock, type)
// script fingerprint").
func resolveRolloverParams(ctx context.Context, a *app, kickerAddr types.Address) (rollover.Params, error) {
	col := cellcollector.New(a.client)
	kickerLock := a.scripts.LockFor(kickerAddr)

	find := func(lock types.Script, typ types.Script) (types.Cell, error) {
		return col.FindTarget(ctx, chainclient.SearchKey{Script: lock, TypeFilter: &chainclient.ScriptFilter{Script: typ}})
	}

	metadata, err := find(a.scripts.ATLock, a.scripts.MetadataType)
	if err != nil {
		return rollover.Params{}, fmt.Errorf("spark: find metadata cell: %w", err)
	}
	stakeSMT, err := find(a.scripts.ATLock, a.scripts.StakeSMTType)
	if err != nil {
		return rollover.Params{}, fmt.Errorf("spark: find stake SMT cell: %w", err)
	}
	delegateSMT, err := find(a.scripts.ATLock, a.scripts.DelegateSMTType)
	if err != nil {
		return rollover.Params{}, fmt.Errorf("spark: find delegate SMT cell: %w", err)
	}
	checkpoint, err := find(a.scripts.ATLock, a.scripts.CheckpointType)
	if err != nil {
		return rollover.Params{}, fmt.Errorf("spark: find checkpoint cell: %w", err)
	}
	feeFunding, err := find(kickerLock, a.scripts.TokenType)
	if err != nil {
		return rollover.Params{}, fmt.Errorf("spark: find fee funding cell: %w", err)
	}

	return rollover.Params{
		MetadataCell:    metadata,
		StakeSMTCell:    stakeSMT,
		DelegateSMTCell: delegateSMT,
		CheckpointCell:  checkpoint,
		FeeFunding:      feeFunding,
		KickerLock:      kickerLock,
	}, nil
}

func newRolloverCmd(flags *rootFlags) *cobra.Command {
	var kicker string
	cmd := &cobra.Command{
		Use:   "rollover",
		Short: "build and submit one epoch-rollover transaction (spec.md §4.4)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				kickerAddr, err := parseAddress(kicker)
				if err != nil {
					return err
				}
				b := rollover.New(a.cfg, a.client, a.forest, a.scripts, a.log)

				p, err := resolveRolloverParams(ctx, a, kickerAddr)
				if err != nil {
					return err
				}

				start := time.Now()
				tx, err := b.Build(ctx, p)
				a.metrics.ObserveRolloverDuration(time.Since(start))
				if err != nil {
					a.metrics.IncRolloverOutcome("failed")
					return fmt.Errorf("spark: build rollover: %w", err)
				}
				a.metrics.IncRolloverOutcome("built")
				return submit(ctx, a, tx)
			})
		},
	}
	cmd.Flags().StringVar(&kicker, "kicker", "", "address of the account funding the rollover's fee (base58)")
	cmd.MarkFlagRequired("kicker")
	return cmd
}
