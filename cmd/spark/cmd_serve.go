// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ckb-spark/spark/chainclient"
	"github.com/ckb-spark/spark/scanner"
	"github.com/ckb-spark/spark/types"
)

// metricsConsumer forwards every scanned cell into the metrics surface
// and is a no-op sink otherwise; a real deployment would chain this into
// whatever history store or notification pipeline consumes cell
// process events (spec.md §4.6).
type metricsConsumer struct {
	m interface{ IncScanMatch(int) }
}

func (c metricsConsumer) Notify(cell types.Cell) bool {
	c.m.IncScanMatch(1)
	return true
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var stateFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the cell-process subscription scanner until signaled (spec.md §4.6)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				sc := scanner.New(a.client, a.log, stateFile)
				key := chainclient.SearchKey{
					Script:     a.scripts.ATLock,
					TypeFilter: &chainclient.ScriptFilter{Script: a.scripts.StakeType},
				}
				if _, err := sc.Subscribe(ctx, key, metricsConsumer{m: a.metrics}); err != nil {
					return err
				}

				a.log.Info("spark: scanner started", zap.String("state_file", stateFile))
				return sc.Janitor(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&stateFile, "state-file", "./scan-state.json", "path the scanner persists scan tips to")
	return cmd
}
