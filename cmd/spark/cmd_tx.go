// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ckb-spark/spark/chainclient"
	"github.com/ckb-spark/spark/txbuilder"
	"github.com/ckb-spark/spark/types"
)

// submit hands tx to the chain client and reports the resulting hash.
// Every tx-producing subcommand ends the same way (spec.md §4.3 step 7's
// "emit one balanced transaction" applies uniformly across builders).
func submit(ctx context.Context, a *app, tx *types.Transaction) error {
	hash, err := a.client.SendTransaction(ctx, tx, chainclient.ValidatorDefault)
	if err != nil {
		return fmt.Errorf("spark: submit transaction: %w", err)
	}
	fmt.Println(hash.String())
	return nil
}

func newStakeCmd(flags *rootFlags) *cobra.Command {
	var (
		staker   string
		wallet   string
		amount   uint64
		increase bool
		epoch    uint64
	)
	cmd := &cobra.Command{
		Use:   "stake",
		Short: "add to, redeem from, or register a stake AT cell (spec.md §4.3 Stake)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				stakerAddr, err := parseAddress(staker)
				if err != nil {
					return err
				}
				walletAddr, err := parseAddress(wallet)
				if err != nil {
					return err
				}
				cur := types.Epoch(epoch)
				tx, err := a.builder.BuildStake(ctx, txbuilder.StakeParams{
					Staker:            stakerAddr,
					WalletLock:        a.scripts.LockFor(walletAddr),
					IsIncrease:        increase,
					Amount:            types.NewAmount(amount),
					CurrentEpoch:      cur,
					InaugurationEpoch: cur.Target(),
				})
				if err != nil {
					return fmt.Errorf("spark: build stake: %w", err)
				}
				return submit(ctx, a, tx)
			})
		},
	}
	cmd.Flags().StringVar(&staker, "staker", "", "staker address (base58)")
	cmd.Flags().StringVar(&wallet, "wallet", "", "wallet address whose plain cells fund/receive the delta")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "delta amount")
	cmd.Flags().BoolVar(&increase, "increase", true, "true to stake more, false to redeem")
	cmd.Flags().Uint64Var(&epoch, "current-epoch", 0, "the epoch this request is submitted in")
	cmd.MarkFlagRequired("staker")
	cmd.MarkFlagRequired("wallet")
	return cmd
}

func newDelegateCmd(flags *rootFlags) *cobra.Command {
	var (
		delegator string
		staker    string
		wallet    string
		amount    uint64
		increase  bool
		epoch     uint64
	)
	cmd := &cobra.Command{
		Use:   "delegate",
		Short: "add to or redeem from a delegate AT cell (spec.md §4.3 Delegate)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				delegatorAddr, err := parseAddress(delegator)
				if err != nil {
					return err
				}
				stakerAddr, err := parseAddress(staker)
				if err != nil {
					return err
				}
				walletAddr, err := parseAddress(wallet)
				if err != nil {
					return err
				}
				cur := types.Epoch(epoch)
				tx, err := a.builder.BuildDelegate(ctx, txbuilder.DelegateParams{
					Delegator:         delegatorAddr,
					WalletLock:        a.scripts.LockFor(walletAddr),
					Staker:            stakerAddr,
					IsIncrease:        increase,
					Amount:            types.NewAmount(amount),
					CurrentEpoch:      cur,
					InaugurationEpoch: cur.Target(),
				})
				if err != nil {
					return fmt.Errorf("spark: build delegate: %w", err)
				}
				return submit(ctx, a, tx)
			})
		},
	}
	cmd.Flags().StringVar(&delegator, "delegator", "", "delegator address (base58)")
	cmd.Flags().StringVar(&staker, "staker", "", "staker address being delegated to (base58)")
	cmd.Flags().StringVar(&wallet, "wallet", "", "wallet address whose plain cells fund/receive the delta")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "delta amount")
	cmd.Flags().BoolVar(&increase, "increase", true, "true to delegate more, false to redeem")
	cmd.Flags().Uint64Var(&epoch, "current-epoch", 0, "the epoch this request is submitted in")
	cmd.MarkFlagRequired("delegator")
	cmd.MarkFlagRequired("staker")
	cmd.MarkFlagRequired("wallet")
	return cmd
}

func newWithdrawCmd(flags *rootFlags) *cobra.Command {
	var (
		owner  string
		wallet string
		epoch  uint64
	)
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "sweep every matured withdraw-cell entry into the wallet (spec.md §4.3 Withdraw)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				ownerAddr, err := parseAddress(owner)
				if err != nil {
					return err
				}
				walletAddr, err := parseAddress(wallet)
				if err != nil {
					return err
				}
				tx, err := a.builder.BuildWithdraw(ctx, txbuilder.WithdrawParams{
					Owner:        ownerAddr,
					WalletLock:   a.scripts.LockFor(walletAddr),
					CurrentEpoch: types.Epoch(epoch),
				})
				if err != nil {
					return fmt.Errorf("spark: build withdraw: %w", err)
				}
				return submit(ctx, a, tx)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "withdraw-cell owner address (base58)")
	cmd.Flags().StringVar(&wallet, "wallet", "", "wallet address credited with matured funds")
	cmd.Flags().Uint64Var(&epoch, "current-epoch", 0, "the epoch this request is submitted in")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("wallet")
	return cmd
}

func newRewardCmd(flags *rootFlags) *cobra.Command {
	var (
		address string
		wallet  string
		stakers []string
		epoch   uint64
	)
	cmd := &cobra.Command{
		Use:   "reward",
		Short: "claim every unclaimed epoch's validator/delegator reward share (spec.md §4.3 Reward)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				addr, err := parseAddress(address)
				if err != nil {
					return err
				}
				walletAddr, err := parseAddress(wallet)
				if err != nil {
					return err
				}
				stakerAddrs := make([]types.Address, len(stakers))
				for i, s := range stakers {
					stakerAddrs[i], err = parseAddress(s)
					if err != nil {
						return err
					}
				}
				tx, err := a.builder.BuildReward(ctx, txbuilder.RewardParams{
					Address:      addr,
					WalletLock:   a.scripts.LockFor(walletAddr),
					Stakers:      stakerAddrs,
					CurrentEpoch: types.Epoch(epoch),
				})
				if err != nil {
					return fmt.Errorf("spark: build reward: %w", err)
				}
				if tx == nil {
					fmt.Println("nothing to claim")
					return nil
				}
				return submit(ctx, a, tx)
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "validator/delegator address claiming reward")
	cmd.Flags().StringVar(&wallet, "wallet", "", "wallet address credited with the reward")
	cmd.Flags().StringSliceVar(&stakers, "staker", nil, "staker(s) address is delegating to, if claiming as a delegator")
	cmd.Flags().Uint64Var(&epoch, "current-epoch", 0, "the epoch this request is submitted in")
	cmd.MarkFlagRequired("address")
	cmd.MarkFlagRequired("wallet")
	return cmd
}
