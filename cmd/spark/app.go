// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package main is spark's CLI entrypoint: a thin cobra-based wrapper
// that wires the core (config, logging, storage, chain client, SMT
// forest, tx builders, rollover builder, scanner, metrics) and dispatches
// to it. It never re-implements core logic; every subcommand is a few
// lines of flag parsing around a call into txbuilder, rollover or
// scanner (spec.md §6 "CLI ... out of scope beyond this interface").
//
// Grounded on the teacher's main/main.go: a pflag.FlagSet plus viper
// config load, then handoff to the real entrypoint. Subcommand
// structure (one package-level constructor per verb, all AddCommand'd
// onto a single root) follows the pack's chainmaker yzc CLI
// (tools/yzc/main.go).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/ckb-spark/spark/chainclient"
	"github.com/ckb-spark/spark/config"
	"github.com/ckb-spark/spark/logging"
	"github.com/ckb-spark/spark/metrics"
	"github.com/ckb-spark/spark/smt"
	"github.com/ckb-spark/spark/smt/store"
	"github.com/ckb-spark/spark/txbuilder"
	"github.com/ckb-spark/spark/types"
)

// app is every long-lived service a subcommand may need, built once from
// the resolved Config and torn down on exit.
type app struct {
	cfg     *config.Config
	log     logging.Logger
	client  chainclient.ChainClient
	forest  *smt.Forest
	store   store.KVStore
	scripts txbuilder.Scripts
	builder *txbuilder.Context
	metrics metrics.Metrics

	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("spark: cleanup failed")
		}
	}
}

// buildScripts turns config.ScriptHashes into txbuilder.Scripts. Per-role
// type scripts share config.ScriptHashes.HashType; the AT lock's Args is
// left empty here and filled in per-owner by txbuilder.Scripts.LockFor.
func buildScripts(h config.ScriptHashes) (txbuilder.Scripts, error) {
	mk := func(hexHash string) (types.Script, error) {
		ch, err := config.CodeHash(hexHash)
		if err != nil {
			return types.Script{}, err
		}
		return types.Script{CodeHash: ch, HashType: h.HashType}, nil
	}

	var out txbuilder.Scripts
	var err error
	for _, pair := range []struct {
		dst *types.Script
		hex string
	}{
		{&out.ATLock, h.ATLockCodeHash},
		{&out.StakeType, h.StakeTypeCodeHash},
		{&out.DelegateType, h.DelegateTypeCodeHash},
		{&out.WithdrawType, h.WithdrawTypeCodeHash},
		{&out.CheckpointType, h.CheckpointTypeCodeHash},
		{&out.MetadataType, h.MetadataTypeCodeHash},
		{&out.StakeSMTType, h.StakeSMTTypeCodeHash},
		{&out.DelegateSMTType, h.DelegateSMTTypeCodeHash},
		{&out.RewardSMTType, h.RewardSMTTypeCodeHash},
		{&out.RequirementType, h.RequirementTypeCodeHash},
		{&out.IssueType, h.IssueTypeCodeHash},
		{&out.SelectionType, h.SelectionTypeCodeHash},
		{&out.TokenType, h.TokenTypeCodeHash},
	} {
		*pair.dst, err = mk(pair.hex)
		if err != nil {
			return txbuilder.Scripts{}, err
		}
	}
	return out, nil
}

// openStore opens the configured KV backend. "leveldb" mirrors the
// teacher's dual-backend `database` package; pebble is the default
// (SPEC_FULL.md §3 "Persistent KV for the SMT forests").
func openStore(kvPath, backend string) (store.KVStore, error) {
	switch backend {
	case "leveldb":
		return store.OpenLevel(kvPath)
	default:
		return store.OpenPebble(kvPath)
	}
}

// newApp resolves configPath into a fully wired app. logLevel follows
// zap's level names ("debug", "info", "warn", "error").
func newApp(configPath, logLevel, kvBackend string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("spark: load config: %w", err)
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("spark: log level %q: %w", logLevel, err)
	}
	log, err := logging.New(level)
	if err != nil {
		return nil, fmt.Errorf("spark: build logger: %w", err)
	}

	kv, err := openStore(cfg.KVPath, kvBackend)
	if err != nil {
		return nil, fmt.Errorf("spark: open store: %w", err)
	}

	scripts, err := buildScripts(cfg.Scripts)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("spark: build scripts: %w", err)
	}

	// chainclient.Live is left unimplemented (DESIGN.md): no gRPC/HTTP
	// indexer client was retrievable from the example corpus, so this
	// process runs against Mock until a transport adapter lands. A real
	// deployment would Dial here instead.
	client := chainclient.NewMock()

	forest := smt.NewForest(kv)
	builder := txbuilder.NewContext(cfg, client, forest, scripts, log)

	m, err := metrics.New(metrics.NamespaceFor(string(cfg.Network)), prometheus.DefaultRegisterer)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("spark: register metrics: %w", err)
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		client:  client,
		forest:  forest,
		store:   kv,
		scripts: scripts,
		builder: builder,
		metrics: m,
	}
	a.closers = append(a.closers, kv.Close)
	return a, nil
}

// rootFlags are bound to every subcommand via cobra's PersistentFlags.
type rootFlags struct {
	configPath string
	logLevel   string
	kvBackend  string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:   "spark",
		Short: "spark: off-chain coordination core for a CKB-anchored DPoS sidechain",
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "./spark.toml", "path to the TOML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	root.PersistentFlags().StringVar(&flags.kvBackend, "kv-backend", "pebble", "SMT storage backend (pebble|leveldb)")

	root.AddCommand(
		newVersionCmd(),
		newStakeCmd(&flags),
		newDelegateCmd(&flags),
		newWithdrawCmd(&flags),
		newRewardCmd(&flags),
		newRolloverCmd(&flags),
		newServeCmd(&flags),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parseAddress decodes a base58 address flag value.
func parseAddress(s string) (types.Address, error) {
	var a types.Address
	err := a.UnmarshalText([]byte(s))
	return a, err
}

// withApp wires an app from the root flags and guarantees Close runs,
// even on an early return from runFn.
func withApp(flags *rootFlags, runFn func(context.Context, *app) error) error {
	a, err := newApp(flags.configPath, flags.logLevel, flags.kvBackend)
	if err != nil {
		return err
	}
	defer a.Close()
	return runFn(context.Background(), a)
}
