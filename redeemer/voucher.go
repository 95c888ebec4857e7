// Copyright 2025 The indexer-go Authors
// This file is part of the indexer-go library.
//
// The indexer-go library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The indexer-go library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the indexer-go library. If not, see <http://www.gnu.org/licenses/>.

// Package redeemer turns locally held vouchers and RAVs into on-chain
// withdrawals: a periodic batcher with value thresholds for legacy vouchers,
// and a per-RAV redeemer that re-derives the allocation signer for its
// proof.
package redeemer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/graphprotocol/indexer-go/allocations"
	"github.com/graphprotocol/indexer-go/contracts"
	"github.com/graphprotocol/indexer-go/eventual"
	"github.com/graphprotocol/indexer-go/vouchers"
)

// DefaultTickInterval paces both redemption engines.
const DefaultTickInterval = 30 * time.Second

// VoucherDB is the slice of the store the voucher engine needs.
type VoucherDB interface {
	PendingVouchers(ctx context.Context, network string, limit int) ([]*vouchers.Voucher, error)
	DeleteVoucher(ctx context.Context, id allocations.ID, network string) error
	MarkWithdrawn(ctx context.Context, batch []*vouchers.Voucher, network string) error
}

// ExchangeContract is the on-chain surface for legacy voucher redemption.
type ExchangeContract interface {
	AllocationsRedeemed(ctx context.Context, allocation allocations.ID) (bool, error)
	RedeemMany(ctx context.Context, batch []contracts.RedeemableVoucher) (*types.Receipt, error)
}

// Config carries the thresholds shared by both engines.
type Config struct {
	ProtocolNetwork string

	// Threshold is the minimum per-voucher (or per-RAV) amount worth the
	// gas of redeeming.
	Threshold *big.Int

	// BatchThreshold is the minimum summed batch value worth a multi-redeem
	// transaction.
	BatchThreshold *big.Int

	// MaxBatchSize bounds the multi-redeem arity.
	MaxBatchSize int

	TickInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold == nil {
		c.Threshold = new(big.Int)
	}
	if c.BatchThreshold == nil {
		c.BatchThreshold = new(big.Int)
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 100
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	return c
}

// VoucherRedeemer batches pending vouchers into multi-redeem transactions.
type VoucherRedeemer struct {
	cfg      Config
	db       VoucherDB
	exchange ExchangeContract
	logger   log.Logger
	timer    *eventual.Timer

	successRedeems metrics.Counter
	invalidRedeems metrics.Counter
	failedRedeems  metrics.Counter
	redeemDuration metrics.Timer
	batchSize      metrics.Gauge
}

// NewVoucher builds a voucher redemption engine.
func NewVoucher(cfg Config, db VoucherDB, exchange ExchangeContract, logger log.Logger) *VoucherRedeemer {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Root()
	}
	return &VoucherRedeemer{
		cfg:      cfg,
		db:       db,
		exchange: exchange,
		logger:   logger.New("component", "voucher-redeemer", "network", cfg.ProtocolNetwork),

		successRedeems: metrics.GetOrRegisterCounter(metricName(cfg.ProtocolNetwork, "success_voucher_redeems"), nil),
		invalidRedeems: metrics.GetOrRegisterCounter(metricName(cfg.ProtocolNetwork, "invalid_voucher_redeems"), nil),
		failedRedeems:  metrics.GetOrRegisterCounter(metricName(cfg.ProtocolNetwork, "failed_voucher_redeems"), nil),
		redeemDuration: metrics.GetOrRegisterTimer(metricName(cfg.ProtocolNetwork, "vouchers_redeem_duration"), nil),
		batchSize:      metrics.GetOrRegisterGauge(metricName(cfg.ProtocolNetwork, "vouchers_batch_redeem_size"), nil),
	}
}

func metricName(network, name string) string {
	return fmt.Sprintf("indexer/%s/%s", network, name)
}

// Start launches the periodic tick.
func (r *VoucherRedeemer) Start(ctx context.Context) {
	r.timer = eventual.NewTimer(r.cfg.TickInterval, r.tick, eventual.WithLogger(r.logger))
	r.timer.Start(ctx)
}

// Stop halts the tick loop.
func (r *VoucherRedeemer) Stop() {
	if r.timer != nil {
		r.timer.Stop()
	}
}

// tick runs one redemption round: drop vouchers already redeemed elsewhere,
// gate the rest on the per-voucher and batch thresholds, submit one
// multi-redeem, and settle the local rows on success.
func (r *VoucherRedeemer) tick(ctx context.Context) error {
	start := time.Now()
	defer func() { r.redeemDuration.UpdateSince(start) }()

	pending, err := r.db.PendingVouchers(ctx, r.cfg.ProtocolNetwork, r.cfg.MaxBatchSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	var eligible []*vouchers.Voucher
	for _, v := range pending {
		redeemed, err := r.exchange.AllocationsRedeemed(ctx, v.Allocation)
		if err != nil {
			return err
		}
		if redeemed {
			r.logger.Warn("Voucher already redeemed elsewhere; deleting local copy",
				"allocation", v.Allocation, "amount", v.Amount.String())
			if err := r.db.DeleteVoucher(ctx, v.Allocation, r.cfg.ProtocolNetwork); err != nil {
				return err
			}
			continue
		}
		if v.Amount.Cmp(r.cfg.Threshold) < 0 {
			r.logger.Debug("Voucher below redemption threshold",
				"allocation", v.Allocation, "amount", v.Amount.String(), "threshold", r.cfg.Threshold)
			continue
		}
		eligible = append(eligible, v)
	}
	if len(eligible) == 0 {
		return nil
	}
	if len(eligible) > r.cfg.MaxBatchSize {
		eligible = eligible[:r.cfg.MaxBatchSize]
	}

	total := new(big.Int)
	batch := make([]contracts.RedeemableVoucher, 0, len(eligible))
	for _, v := range eligible {
		total.Add(total, v.Amount.Int)
		batch = append(batch, contracts.RedeemableVoucher{
			AllocationID: v.Allocation,
			Amount:       v.Amount.Int,
			Signature:    v.Signature,
		})
	}
	if total.Cmp(r.cfg.BatchThreshold) <= 0 {
		r.logger.Info("Batch value below redemption batch threshold; waiting for more vouchers",
			"vouchers", len(batch), "value", total, "threshold", r.cfg.BatchThreshold)
		return nil
	}

	r.batchSize.Update(int64(len(batch)))
	if _, err := r.exchange.RedeemMany(ctx, batch); err != nil {
		if errors.Is(err, contracts.ErrContractPaused) || errors.Is(err, contracts.ErrContractUnauthorized) {
			r.invalidRedeems.Inc(1)
			r.logger.Warn("Voucher redemption rejected by contract", "err", err)
			return nil
		}
		r.failedRedeems.Inc(1)
		return fmt.Errorf("redeeming %d vouchers: %w", len(batch), err)
	}

	if err := r.db.MarkWithdrawn(ctx, eligible, r.cfg.ProtocolNetwork); err != nil {
		return err
	}
	r.successRedeems.Inc(1)
	r.logger.Info("Redeemed voucher batch", "vouchers", len(batch), "value", total)
	return nil
}
