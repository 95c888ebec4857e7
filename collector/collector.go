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

// Package collector schedules the exchange of closed allocations' receipts
// for gateway vouchers. Batches wait out a collection delay on a deadline
// heap so the last inflight receipts can land in the store before the batch
// freezes, then go through the single-shot or partial-voucher flow.
package collector

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/graphprotocol/indexer-go/allocations"
	"github.com/graphprotocol/indexer-go/eventual"
	"github.com/graphprotocol/indexer-go/receipts"
	"github.com/graphprotocol/indexer-go/store"
	"github.com/graphprotocol/indexer-go/vouchers"
)

const (
	// DefaultCollectDelay is how long a closed allocation's batch rests
	// before collection.
	DefaultCollectDelay = 20 * time.Minute

	// DefaultTickInterval paces the deadline scan.
	DefaultTickInterval = 10 * time.Second
)

// ReceiptCollector is the capability set the agent drives: summaries for
// newly decided allocations and receipt collection at close time.
type ReceiptCollector interface {
	RememberAllocations(ctx context.Context, actionID string, ids []allocations.ID) bool
	CollectReceipts(ctx context.Context, actionID string, alloc *allocations.Allocation) (bool, error)
}

// DB is the slice of the store the collector needs.
type DB interface {
	EnsureAllocationSummaries(ctx context.Context, ids []allocations.ID, network string) error
	CloseAllocation(ctx context.Context, id allocations.ID, network string) (time.Time, []*receipts.Receipt, error)
	ClosedAllocationBatches(ctx context.Context, network string) ([]*store.ClosedBatch, error)
	SettleBatch(ctx context.Context, voucher *vouchers.Voucher, receiptIDs []uint64, network string) error
}

// Exchange is the gateway client surface used for the voucher exchange.
type Exchange interface {
	Collect(ctx context.Context, encoded []byte) (*vouchers.Voucher, error)
	CollectPartial(ctx context.Context, encoded []byte) (*vouchers.PartialVoucher, error)
	MergePartial(ctx context.Context, partials []*vouchers.PartialVoucher) (*vouchers.Voucher, error)
}

// Config carries the collector's tunables.
type Config struct {
	ProtocolNetwork string
	CollectDelay    time.Duration
	TickInterval    time.Duration
}

func (c Config) withDefaults() Config {
	if c.CollectDelay <= 0 {
		c.CollectDelay = DefaultCollectDelay
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	return c
}

// AllocationReceiptCollector is the legacy-voucher ReceiptCollector: it owns
// the deadline heap and drives the gateway exchange client.
type AllocationReceiptCollector struct {
	cfg      Config
	db       DB
	exchange Exchange
	logger   log.Logger
	now      func() time.Time

	// The heap is shared between the tick loop and CollectReceipts callers;
	// one mutex serializes access, and nothing suspends while holding it.
	heapMu sync.Mutex
	heap   batchHeap

	timer *eventual.Timer

	receiptsToCollect  metrics.Gauge
	failedReceipts     metrics.Counter
	partialsToExchange metrics.Gauge
	collectDuration    metrics.Timer
	vouchersCreated    metrics.Counter
	collectedFees      metrics.GaugeFloat64
}

// New builds a collector. Start must be called to begin ticking.
func New(cfg Config, db DB, exchange Exchange, logger log.Logger) *AllocationReceiptCollector {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Root()
	}
	c := &AllocationReceiptCollector{
		cfg:      cfg,
		db:       db,
		exchange: exchange,
		logger:   logger.New("component", "collector", "network", cfg.ProtocolNetwork),
		now:      time.Now,

		receiptsToCollect:  metrics.GetOrRegisterGauge(metricName(cfg.ProtocolNetwork, "receipts_to_collect"), nil),
		failedReceipts:     metrics.GetOrRegisterCounter(metricName(cfg.ProtocolNetwork, "failed_receipts"), nil),
		partialsToExchange: metrics.GetOrRegisterGauge(metricName(cfg.ProtocolNetwork, "partial_vouchers_to_exchange"), nil),
		collectDuration:    metrics.GetOrRegisterTimer(metricName(cfg.ProtocolNetwork, "receipts_collect_duration"), nil),
		vouchersCreated:    metrics.GetOrRegisterCounter(metricName(cfg.ProtocolNetwork, "vouchers"), nil),
		collectedFees:      metrics.GetOrRegisterGaugeFloat64(metricName(cfg.ProtocolNetwork, "voucher_collected_fees"), nil),
	}
	return c
}

func metricName(network, name string) string {
	return fmt.Sprintf("indexer/%s/%s", network, name)
}

// Start recovers pending batches from the database and launches the tick
// loop.
func (c *AllocationReceiptCollector) Start(ctx context.Context) error {
	if err := c.queuePendingReceipts(ctx); err != nil {
		return err
	}
	c.timer = eventual.NewTimer(c.cfg.TickInterval, c.tick, eventual.WithLogger(c.logger))
	c.timer.Start(ctx)
	return nil
}

// Stop halts the tick loop; an in-flight exchange completes first.
func (c *AllocationReceiptCollector) Stop() {
	if c.timer != nil {
		c.timer.Stop()
	}
}

// RememberAllocations makes sure a summary row exists for every id so fee
// totals have somewhere to accumulate. Failures are reported, not raised.
func (c *AllocationReceiptCollector) RememberAllocations(ctx context.Context, actionID string, ids []allocations.ID) bool {
	if err := c.db.EnsureAllocationSummaries(ctx, ids, c.cfg.ProtocolNetwork); err != nil {
		c.logger.Error("Failed to remember allocations for collecting receipts later",
			"code", "IE056", "action", actionID, "allocations", len(ids), "err", err)
		return false
	}
	return true
}

// CollectReceipts latches the allocation closed and queues its receipt
// snapshot behind the collection delay. The closed_at latch makes the
// snapshot happen at most once: repeated calls for the same allocation find
// no receipt rows and return false.
func (c *AllocationReceiptCollector) CollectReceipts(ctx context.Context, actionID string, alloc *allocations.Allocation) (bool, error) {
	closedAt, batch, err := c.db.CloseAllocation(ctx, alloc.ID, c.cfg.ProtocolNetwork)
	if err != nil {
		c.logger.Error("Failed to queue receipts for collection", "code", "IE053",
			"action", actionID, "allocation", alloc.ID, "err", err)
		return false, err
	}
	if len(batch) == 0 {
		c.logger.Info("No receipts to collect for allocation", "allocation", alloc.ID)
		return false, nil
	}
	c.enqueue(batch, closedAt.Add(c.cfg.CollectDelay))
	c.logger.Info("Queued receipts for collection",
		"allocation", alloc.ID, "receipts", len(batch), "delay", c.cfg.CollectDelay)
	return true, nil
}

// queuePendingReceipts reloads every closed allocation's receipts after a
// restart, rebuilding the heap with the original close-time deadlines.
func (c *AllocationReceiptCollector) queuePendingReceipts(ctx context.Context) error {
	batches, err := c.db.ClosedAllocationBatches(ctx, c.cfg.ProtocolNetwork)
	if err != nil {
		return fmt.Errorf("queueing pending receipts from database: %w", err)
	}
	for _, b := range batches {
		c.enqueue(b.Receipts, b.ClosedAt.Add(c.cfg.CollectDelay))
	}
	if len(batches) > 0 {
		c.logger.Info("Recovered pending receipt batches", "batches", len(batches))
	}
	return nil
}

func (c *AllocationReceiptCollector) enqueue(batch []*receipts.Receipt, deadline time.Time) {
	c.heapMu.Lock()
	defer c.heapMu.Unlock()
	c.heap.pushBatch(&receiptsBatch{receipts: batch, timeoutMs: deadline.UnixMilli()})
	c.receiptsToCollect.Inc(int64(len(batch)))
}

// tick pops every due batch and exchanges it. A failed exchange re-enters
// the heap with an immediate deadline, so liveness does not depend on a
// restart; since due batches are drained before any exchange starts, the
// retry lands on the next tick.
func (c *AllocationReceiptCollector) tick(ctx context.Context) error {
	c.heapMu.Lock()
	due := c.heap.popDue(c.now().UnixMilli())
	c.heapMu.Unlock()

	for _, batch := range due {
		if err := c.obtainReceiptsVoucher(ctx, batch.receipts); err != nil {
			c.failedReceipts.Inc(int64(len(batch.receipts)))
			c.logger.Warn("Failed to exchange receipts for voucher; will retry",
				"allocation", batch.receipts[0].Allocation, "receipts", len(batch.receipts), "err", err)
			c.heapMu.Lock()
			c.heap.pushBatch(&receiptsBatch{receipts: batch.receipts, timeoutMs: c.now().UnixMilli()})
			c.heapMu.Unlock()
			continue
		}
		c.receiptsToCollect.Dec(int64(len(batch.receipts)))
	}
	return nil
}

// obtainReceiptsVoucher runs one batch through the gateway: a single
// collect-receipts post for small batches, or per-chunk partial vouchers
// merged into the final voucher for large ones. On success the settlement
// transaction deletes the receipts, accrues the collected fees and inserts
// the voucher.
func (c *AllocationReceiptCollector) obtainReceiptsVoucher(ctx context.Context, batch []*receipts.Receipt) error {
	start := time.Now()
	defer func() { c.collectDuration.UpdateSince(start) }()

	allocation := batch[0].Allocation
	var (
		voucher *vouchers.Voucher
		err     error
	)
	if len(batch) <= receipts.MaxReceiptsPerEncode {
		var encoded []byte
		if encoded, err = receipts.EncodeBatch(batch); err != nil {
			return err
		}
		if voucher, err = c.exchange.Collect(ctx, encoded); err != nil {
			return err
		}
	} else {
		var partials []*vouchers.PartialVoucher
		for offset := 0; offset < len(batch); offset += receipts.MaxReceiptsPerEncode {
			end := offset + receipts.MaxReceiptsPerEncode
			if end > len(batch) {
				end = len(batch)
			}
			encoded, err := receipts.EncodeBatch(batch[offset:end])
			if err != nil {
				return err
			}
			partial, err := c.exchange.CollectPartial(ctx, encoded)
			if err != nil {
				return err
			}
			partials = append(partials, partial)
			c.partialsToExchange.Update(int64(len(partials)))
		}
		voucher, err = c.exchange.MergePartial(ctx, partials)
		c.partialsToExchange.Update(0)
		if err != nil {
			return err
		}
	}

	ids := make([]uint64, len(batch))
	for i, r := range batch {
		ids[i] = r.ID
	}
	voucher.ProtocolNetwork = c.cfg.ProtocolNetwork
	if err := c.db.SettleBatch(ctx, voucher, ids, c.cfg.ProtocolNetwork); err != nil {
		return err
	}
	c.vouchersCreated.Inc(1)
	fees, _ := new(big.Float).SetInt(voucher.Amount.Int).Float64()
	c.collectedFees.Update(fees)
	c.logger.Info("Exchanged receipts for voucher",
		"allocation", allocation, "receipts", len(batch), "fees", voucher.Amount.String())
	return nil
}
