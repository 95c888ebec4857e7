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

package collector

import (
	"context"

	"github.com/ethereum/go-ethereum/log"
	"github.com/graphprotocol/indexer-go/allocations"
)

// TapCollector is the TAP-flavored ReceiptCollector. TAP receipts are
// aggregated into RAVs by the sender side, so closing an allocation only
// latches its summary; nothing goes through the gateway exchange.
type TapCollector struct {
	cfg    Config
	db     DB
	logger log.Logger
}

// NewTap builds a TAP collector.
func NewTap(cfg Config, db DB, logger log.Logger) *TapCollector {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Root()
	}
	return &TapCollector{
		cfg:    cfg,
		db:     db,
		logger: logger.New("component", "tap-collector", "network", cfg.ProtocolNetwork),
	}
}

// RememberAllocations shares the legacy collector's summary-upsert path.
func (c *TapCollector) RememberAllocations(ctx context.Context, actionID string, ids []allocations.ID) bool {
	if err := c.db.EnsureAllocationSummaries(ctx, ids, c.cfg.ProtocolNetwork); err != nil {
		c.logger.Error("Failed to remember allocations for collecting receipts later",
			"code", "IE056", "action", actionID, "allocations", len(ids), "err", err)
		return false
	}
	return true
}

// CollectReceipts latches closed_at so the RAV redemption path can pick the
// allocation up once its final aggregate lands; there is no local batch to
// queue.
func (c *TapCollector) CollectReceipts(ctx context.Context, actionID string, alloc *allocations.Allocation) (bool, error) {
	_, _, err := c.db.CloseAllocation(ctx, alloc.ID, c.cfg.ProtocolNetwork)
	if err != nil {
		c.logger.Error("Failed to mark allocation closed", "code", "IE053",
			"action", actionID, "allocation", alloc.ID, "err", err)
		return false, err
	}
	c.logger.Info("Marked allocation closed; awaiting final RAV", "allocation", alloc.ID)
	return true, nil
}
