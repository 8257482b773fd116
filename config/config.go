// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads the process-wide, read-only-after-boot
// configuration described in spec.md §9 ("Global state ... model as a
// once-initialized configuration struct passed by reference into builders
// rather than as a global"). Loading follows the teacher's convention of
// binding a viper instance over a TOML file plus environment overrides
// (the teacher binds JSON/flags via viper in config/config.go; here the
// external collaborator is a TOML file per spec.md §6).
package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Network identifies which parent-chain network a Config targets.
type Network string

const (
	NetworkDev  Network = "dev"
	NetworkTest Network = "test"
	NetworkMain Network = "main"
)

// Config is the fully resolved, immutable configuration handed to every
// builder and to the SMT engine at construction. It is never read from a
// package-level global after boot (spec.md §9).
type Config struct {
	Network Network

	// RDB_URL / KV_PATH / CKB_URL per spec.md §6 "Environment".
	RDBURL string
	KVPath string
	CKBURL string

	// FeeRatePerKB is shillings-per-KB used by the fee balancing step
	// (spec.md §4.3 step 7: fee = tx_size * fee_rate / 1000).
	FeeRatePerKB uint64

	// RolloverContextDir is the caller-configured directory the context
	// spooler persists `metadata_context` into (spec.md §6).
	RolloverContextDir string

	// Reward economics (spec.md §4.3 "Reward"): BaseReward is the
	// per-epoch reward pool before the proposal-coefficient and halving
	// terms are applied; HalfCycleEpochs is the halving period;
	// TheoreticalProposalsPerEpoch is the expected proposal count a
	// fully-performing validator produces in one epoch.
	BaseReward                   uint64
	HalfCycleEpochs              uint64
	TheoreticalProposalsPerEpoch uint64

	// Scripts binds every role's on-chain script fingerprint, hex-encoded
	// in the TOML file the same way the teacher binds its own deployed
	// contract IDs (config/config.go's *IDKey bindings). cmd/spark turns
	// these into txbuilder.Scripts at startup; the core itself never
	// parses script bytecode (spec.md §1 non-goal).
	Scripts ScriptHashes
}

// ScriptHashes is every role's 32-byte code hash plus the shared
// hash-type byte, hex-encoded at rest. AT-cell lock Args are never
// configured here; they are derived per-owner at construction time
// (txbuilder.Scripts.LockFor).
type ScriptHashes struct {
	HashType byte

	ATLockCodeHash          string
	StakeTypeCodeHash       string
	DelegateTypeCodeHash    string
	WithdrawTypeCodeHash    string
	CheckpointTypeCodeHash  string
	MetadataTypeCodeHash    string
	StakeSMTTypeCodeHash    string
	DelegateSMTTypeCodeHash string
	RewardSMTTypeCodeHash   string
	RequirementTypeCodeHash string
	IssueTypeCodeHash       string
	SelectionTypeCodeHash   string
	TokenTypeCodeHash       string
}

// CodeHash decodes one of ScriptHashes's hex fields into a 32-byte array.
func CodeHash(hexStr string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
	if err != nil {
		return out, fmt.Errorf("config: decode code hash %q: %w", hexStr, err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("config: code hash %q has length %d, want 32", hexStr, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// Load reads path (a TOML file) with environment overrides layered on
// top, mirroring the teacher's viper usage (config/config.go) but scoped
// to this core's much smaller surface.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("network", string(NetworkDev))
	v.SetDefault("fee_rate_per_kb", uint64(1000))
	v.SetDefault("rollover_context_dir", "./rollover-context")
	v.SetDefault("base_reward", uint64(10000))
	v.SetDefault("half_cycle_epochs", uint64(200))
	v.SetDefault("theoretical_proposals_per_epoch", uint64(100))
	v.SetDefault("scripts.hash_type", byte(1))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{
		Network:            Network(v.GetString("network")),
		RDBURL:             v.GetString("rdb_url"),
		KVPath:             v.GetString("kv_path"),
		CKBURL:             v.GetString("ckb_url"),
		FeeRatePerKB:       v.GetUint64("fee_rate_per_kb"),
		RolloverContextDir: v.GetString("rollover_context_dir"),

		BaseReward:                   v.GetUint64("base_reward"),
		HalfCycleEpochs:              v.GetUint64("half_cycle_epochs"),
		TheoreticalProposalsPerEpoch: v.GetUint64("theoretical_proposals_per_epoch"),

		Scripts: ScriptHashes{
			HashType:                byte(v.GetUint32("scripts.hash_type")),
			ATLockCodeHash:          v.GetString("scripts.at_lock_code_hash"),
			StakeTypeCodeHash:       v.GetString("scripts.stake_type_code_hash"),
			DelegateTypeCodeHash:    v.GetString("scripts.delegate_type_code_hash"),
			WithdrawTypeCodeHash:    v.GetString("scripts.withdraw_type_code_hash"),
			CheckpointTypeCodeHash:  v.GetString("scripts.checkpoint_type_code_hash"),
			MetadataTypeCodeHash:    v.GetString("scripts.metadata_type_code_hash"),
			StakeSMTTypeCodeHash:    v.GetString("scripts.stake_smt_type_code_hash"),
			DelegateSMTTypeCodeHash: v.GetString("scripts.delegate_smt_type_code_hash"),
			RewardSMTTypeCodeHash:   v.GetString("scripts.reward_smt_type_code_hash"),
			RequirementTypeCodeHash: v.GetString("scripts.requirement_type_code_hash"),
			IssueTypeCodeHash:       v.GetString("scripts.issue_type_code_hash"),
			SelectionTypeCodeHash:   v.GetString("scripts.selection_type_code_hash"),
			TokenTypeCodeHash:       v.GetString("scripts.token_type_code_hash"),
		},
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Network {
	case NetworkDev, NetworkTest, NetworkMain:
	default:
		return fmt.Errorf("unknown network %q", c.Network)
	}
	if c.KVPath == "" {
		return fmt.Errorf("kv_path must be set")
	}
	if c.CKBURL == "" {
		return fmt.Errorf("ckb_url must be set")
	}
	return nil
}
