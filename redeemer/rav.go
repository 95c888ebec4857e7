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

package redeemer

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/graphprotocol/indexer-go/allocations"
	"github.com/graphprotocol/indexer-go/eventual"
	"github.com/graphprotocol/indexer-go/vouchers"
)

// ErrAllocationNotFound means a final RAV references an allocation absent
// from the monitor's current set; the signer cannot be recovered without it.
var ErrAllocationNotFound = errors.New("no local allocation found for RAV")

// RAVDB is the slice of the store the RAV engine needs.
type RAVDB interface {
	FinalRAVs(ctx context.Context) ([]*vouchers.RAV, error)
	SettleRAV(ctx context.Context, rav *vouchers.RAV, network string) error
}

// EscrowContract is the on-chain surface for RAV redemption.
type EscrowContract interface {
	Redeem(ctx context.Context, rav *vouchers.SignedRAV, proof []byte) (*types.Receipt, error)
}

// AllocationSet exposes the monitor's latest eligible allocations.
type AllocationSet interface {
	Get() ([]*allocations.Allocation, bool)
}

// RAVRedeemer redeems finalized receipt aggregate vouchers one at a time;
// the escrow has no multi-redeem entry point, so there is no batching across
// allocations.
type RAVRedeemer struct {
	cfg     Config
	db      RAVDB
	escrow  EscrowContract
	allocs  AllocationSet
	indexer common.Address

	// mnemonic re-derives each allocation's signer at redemption time.
	mnemonic string

	logger log.Logger
	timer  *eventual.Timer

	successRedeems metrics.Counter
	failedRedeems  metrics.Counter
}

// NewRAV builds a RAV redemption engine.
func NewRAV(cfg Config, db RAVDB, escrow EscrowContract, allocs AllocationSet, indexer common.Address, mnemonic string, logger log.Logger) *RAVRedeemer {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Root()
	}
	return &RAVRedeemer{
		cfg:      cfg,
		db:       db,
		escrow:   escrow,
		allocs:   allocs,
		indexer:  indexer,
		mnemonic: mnemonic,
		logger:   logger.New("component", "rav-redeemer", "network", cfg.ProtocolNetwork),

		successRedeems: metrics.GetOrRegisterCounter(metricName(cfg.ProtocolNetwork, "success_rav_redeems"), nil),
		failedRedeems:  metrics.GetOrRegisterCounter(metricName(cfg.ProtocolNetwork, "failed_rav_redeems"), nil),
	}
}

// Start launches the periodic tick.
func (r *RAVRedeemer) Start(ctx context.Context) {
	r.timer = eventual.NewTimer(r.cfg.TickInterval, r.tick, eventual.WithLogger(r.logger))
	r.timer.Start(ctx)
}

// Stop halts the tick loop.
func (r *RAVRedeemer) Stop() {
	if r.timer != nil {
		r.timer.Stop()
	}
}

// tick scans for finalized RAVs and redeems each eligible one
// independently; a failure on one RAV does not block the others.
func (r *RAVRedeemer) tick(ctx context.Context) error {
	ravs, err := r.db.FinalRAVs(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for _, rav := range ravs {
		if rav.RAV.Message.ValueAggregate.Cmp(r.cfg.Threshold) < 0 {
			r.logger.Debug("RAV below redemption threshold",
				"allocation", rav.AllocationID, "value", rav.RAV.Message.ValueAggregate.String())
			continue
		}
		if err := r.redeem(ctx, rav); err != nil {
			r.failedRedeems.Inc(1)
			r.logger.Warn("Failed to redeem RAV",
				"allocation", rav.AllocationID, "sender", rav.SenderAddress, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		r.successRedeems.Inc(1)
	}
	return firstErr
}

// redeem submits one RAV: resolve the local allocation, re-derive its
// signer, build the allocation-id proof, call the escrow, and settle the
// local row.
func (r *RAVRedeemer) redeem(ctx context.Context, rav *vouchers.RAV) error {
	alloc := r.findAllocation(rav.RAV.Message.AllocationID)
	if alloc == nil {
		return ErrAllocationNotFound
	}
	key, err := allocations.RecoverSigner(r.mnemonic, alloc)
	if err != nil {
		return err
	}
	proof, err := allocations.Proof(key, r.indexer, alloc.ID)
	if err != nil {
		return err
	}
	if _, err := r.escrow.Redeem(ctx, &rav.RAV, proof); err != nil {
		return err
	}
	if err := r.db.SettleRAV(ctx, rav, r.cfg.ProtocolNetwork); err != nil {
		return err
	}
	r.logger.Info("Redeemed RAV", "allocation", alloc.ID,
		"value", rav.RAV.Message.ValueAggregate.String())
	return nil
}

func (r *RAVRedeemer) findAllocation(id allocations.ID) *allocations.Allocation {
	set, ok := r.allocs.Get()
	if !ok {
		return nil
	}
	for _, alloc := range set {
		if alloc.ID == id {
			return alloc
		}
	}
	return nil
}
