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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/graphprotocol/indexer-go/allocations"
	"github.com/graphprotocol/indexer-go/gateway"
	"github.com/graphprotocol/indexer-go/receipts"
	"github.com/graphprotocol/indexer-go/store"
	"github.com/graphprotocol/indexer-go/vouchers"
)

const testNetwork = "eip155:1"

// fakeDB is an in-memory stand-in for the store's collector surface.
type fakeDB struct {
	closedAt  time.Time
	receipts  map[allocations.ID][]*receipts.Receipt
	closed    map[allocations.ID]bool
	recovery  []*store.ClosedBatch
	summaries map[allocations.ID]*big.Int // collected fees
	vouchers  map[allocations.ID]*vouchers.Voucher
	settleErr error
	closeErr  error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		closedAt:  time.Unix(1700000000, 0).UTC(),
		receipts:  make(map[allocations.ID][]*receipts.Receipt),
		closed:    make(map[allocations.ID]bool),
		summaries: make(map[allocations.ID]*big.Int),
		vouchers:  make(map[allocations.ID]*vouchers.Voucher),
	}
}

func (db *fakeDB) EnsureAllocationSummaries(ctx context.Context, ids []allocations.ID, network string) error {
	for _, id := range ids {
		if _, ok := db.summaries[id]; !ok {
			db.summaries[id] = new(big.Int)
		}
	}
	return nil
}

func (db *fakeDB) CloseAllocation(ctx context.Context, id allocations.ID, network string) (time.Time, []*receipts.Receipt, error) {
	if db.closeErr != nil {
		return time.Time{}, nil, db.closeErr
	}
	if db.closed[id] {
		// The closed_at latch: repeated closes see no receipt rows.
		return db.closedAt, nil, nil
	}
	db.closed[id] = true
	return db.closedAt, db.receipts[id], nil
}

func (db *fakeDB) ClosedAllocationBatches(ctx context.Context, network string) ([]*store.ClosedBatch, error) {
	return db.recovery, nil
}

func (db *fakeDB) SettleBatch(ctx context.Context, voucher *vouchers.Voucher, receiptIDs []uint64, network string) error {
	if db.settleErr != nil {
		return db.settleErr
	}
	drop := make(map[uint64]bool, len(receiptIDs))
	for _, id := range receiptIDs {
		drop[id] = true
	}
	var kept []*receipts.Receipt
	for _, r := range db.receipts[voucher.Allocation] {
		if !drop[r.ID] {
			kept = append(kept, r)
		}
	}
	db.receipts[voucher.Allocation] = kept
	if db.summaries[voucher.Allocation] == nil {
		db.summaries[voucher.Allocation] = new(big.Int)
	}
	db.summaries[voucher.Allocation].Add(db.summaries[voucher.Allocation], voucher.Amount.Int)
	if _, ok := db.vouchers[voucher.Allocation]; !ok {
		db.vouchers[voucher.Allocation] = voucher
	}
	return nil
}

func makeReceipts(allocation allocations.ID, fees ...int64) []*receipts.Receipt {
	out := make([]*receipts.Receipt, 0, len(fees))
	for i, fee := range fees {
		out = append(out, &receipts.Receipt{
			ID:              uint64(i + 1),
			Allocation:      allocation,
			Fees:            big.NewInt(fee),
			Signature:       bytes.Repeat([]byte{0xab}, receipts.SignatureLength),
			ProtocolNetwork: testNetwork,
		})
	}
	return out
}

func newTestCollector(t *testing.T, db *fakeDB, handler http.Handler) *AllocationReceiptCollector {
	t.Helper()
	var exchange Exchange
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		client, err := gateway.NewClient(srv.URL, 0)
		if err != nil {
			t.Fatalf("Failed to create gateway client: %v", err)
		}
		exchange = client
	}
	return New(Config{ProtocolNetwork: testNetwork}, db, exchange, nil)
}

// Single-shot flow: 3 receipts with fees 100+200+300 produce one 356-byte
// collect-receipts post and a settled voucher of 600.
func TestSingleShotCollect(t *testing.T) {
	allocation := common.HexToAddress("0xAAAA000000000000000000000000000000000000")
	db := newFakeDB()
	db.receipts[allocation] = makeReceipts(allocation, 100, 200, 300)

	var posts []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts = append(posts, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		if len(body) != 356 {
			t.Errorf("body length mismatch: have %d want 356", len(body))
		}
		gotAllocation, batch, err := receipts.DecodeBatch(body)
		if err != nil {
			t.Errorf("Failed to decode posted batch: %v", err)
		}
		if gotAllocation != allocation || len(batch) != 3 {
			t.Errorf("posted batch mismatch: %s, %d receipts", gotAllocation.Hex(), len(batch))
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"allocation": allocation, "fees": "600", "signature": "0x0102",
		})
	})

	c := newTestCollector(t, db, handler)
	now := db.closedAt
	c.now = func() time.Time { return now }

	ok, err := c.CollectReceipts(context.Background(), "action-1", &allocations.Allocation{ID: allocation})
	if err != nil || !ok {
		t.Fatalf("CollectReceipts = %v, %v", ok, err)
	}

	// Before the collection delay elapses nothing may be exchanged.
	if err := c.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if len(posts) != 0 {
		t.Fatal("batch exchanged before the collection delay elapsed")
	}

	now = now.Add(DefaultCollectDelay)
	if err := c.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if len(posts) != 1 || posts[0] != "/collect-receipts" {
		t.Fatalf("posts mismatch: %v", posts)
	}
	if len(db.receipts[allocation]) != 0 {
		t.Errorf("receipts not deleted: %d left", len(db.receipts[allocation]))
	}
	if v := db.vouchers[allocation]; v == nil || v.Amount.String() != "600" {
		t.Errorf("voucher mismatch: %+v", v)
	}
	if db.summaries[allocation].String() != "600" {
		t.Errorf("collected fees mismatch: %s", db.summaries[allocation])
	}
}

// Large-batch flow: 30k receipts produce two partial-voucher posts
// (25k + 5k) and one merge.
func TestLargeBatchPartialFlow(t *testing.T) {
	allocation := common.HexToAddress("0xBBBB000000000000000000000000000000000000")
	db := newFakeDB()
	const n = 30_000
	batch := make([]*receipts.Receipt, 0, n)
	total := new(big.Int)
	sig := bytes.Repeat([]byte{0xcd}, receipts.SignatureLength)
	for i := 0; i < n; i++ {
		batch = append(batch, &receipts.Receipt{
			ID:              uint64(i + 1),
			Allocation:      allocation,
			Fees:            big.NewInt(2),
			Signature:       sig,
			ProtocolNetwork: testNetwork,
		})
		total.Add(total, big.NewInt(2))
	}
	db.receipts[allocation] = batch

	var partialSizes []int
	var merges int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/partial-voucher":
			body, _ := io.ReadAll(r.Body)
			count := (len(body) - 20) / 112
			partialSizes = append(partialSizes, count)
			fees := new(big.Int).Mul(big.NewInt(2), big.NewInt(int64(count)))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"allocation": allocation, "fees": fees.String(), "signature": "0x01",
				"receipt_id_min": 1, "receipt_id_max": count,
			})
		case "/voucher":
			merges++
			var req struct {
				PartialVouchers []*vouchers.PartialVoucher `json:"partialVouchers"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			sum := new(big.Int)
			for _, p := range req.PartialVouchers {
				sum.Add(sum, p.Fees.Int)
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"allocation": allocation, "fees": sum.String(), "signature": "0x02",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	c := newTestCollector(t, db, handler)
	now := db.closedAt.Add(DefaultCollectDelay)
	c.now = func() time.Time { return now }

	if ok, err := c.CollectReceipts(context.Background(), "action-1", &allocations.Allocation{ID: allocation}); err != nil || !ok {
		t.Fatalf("CollectReceipts = %v, %v", ok, err)
	}
	if err := c.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if len(partialSizes) != 2 || partialSizes[0] != 25_000 || partialSizes[1] != 5_000 {
		t.Fatalf("partial chunk sizes mismatch: %v", partialSizes)
	}
	if merges != 1 {
		t.Fatalf("merge count mismatch: %d", merges)
	}
	if db.summaries[allocation].Cmp(total) != 0 {
		t.Errorf("collected fees mismatch: have %s want %s", db.summaries[allocation], total)
	}
	if len(db.receipts[allocation]) != 0 {
		t.Errorf("receipts not deleted: %d left", len(db.receipts[allocation]))
	}
}

// A second CollectReceipts for the same allocation sees no rows thanks to
// the closed_at latch.
func TestCollectReceiptsAtMostOnce(t *testing.T) {
	allocation := common.HexToAddress("0xCCCC000000000000000000000000000000000000")
	db := newFakeDB()
	db.receipts[allocation] = makeReceipts(allocation, 5)

	c := newTestCollector(t, db, nil)
	if ok, _ := c.CollectReceipts(context.Background(), "action-1", &allocations.Allocation{ID: allocation}); !ok {
		t.Fatal("first collect should queue the batch")
	}
	if ok, _ := c.CollectReceipts(context.Background(), "action-1", &allocations.Allocation{ID: allocation}); ok {
		t.Fatal("second collect should find nothing")
	}
	if len(c.heap) != 1 {
		t.Fatalf("heap length mismatch: %d", len(c.heap))
	}
}

func TestCollectReceiptsPropagatesErrors(t *testing.T) {
	db := newFakeDB()
	db.closeErr = errors.New("connection refused")
	c := newTestCollector(t, db, nil)
	if _, err := c.CollectReceipts(context.Background(), "action-1", &allocations.Allocation{}); err == nil {
		t.Fatal("expected the close error to propagate")
	}
}

// A failed exchange re-enters the heap with an immediate deadline and
// succeeds on the following tick.
func TestFailedExchangeRetried(t *testing.T) {
	allocation := common.HexToAddress("0xDDDD000000000000000000000000000000000000")
	db := newFakeDB()
	db.receipts[allocation] = makeReceipts(allocation, 7)

	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"allocation": allocation, "fees": "7", "signature": "0x01",
		})
	})

	c := newTestCollector(t, db, handler)
	now := db.closedAt.Add(DefaultCollectDelay)
	c.now = func() time.Time { return now }

	if ok, err := c.CollectReceipts(context.Background(), "action-1", &allocations.Allocation{ID: allocation}); err != nil || !ok {
		t.Fatalf("CollectReceipts = %v, %v", ok, err)
	}
	if err := c.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("first tick should post once, posted %d times", calls)
	}
	if len(c.heap) != 1 {
		t.Fatal("failed batch not re-pushed")
	}
	// The receipts survived in the store because settle never ran.
	if len(db.receipts[allocation]) != 1 {
		t.Fatal("receipts vanished without a settled voucher")
	}
	if err := c.tick(context.Background()); err != nil {
		t.Fatalf("retry tick failed: %v", err)
	}
	if calls != 2 || len(db.receipts[allocation]) != 0 {
		t.Fatalf("retry did not settle: calls=%d receipts=%d", calls, len(db.receipts[allocation]))
	}
}

// Restart recovery shapes one batch per closed allocation with the original
// close-time deadlines.
func TestQueuePendingReceiptsFromDatabase(t *testing.T) {
	a1 := common.HexToAddress("0x1111000000000000000000000000000000000000")
	a2 := common.HexToAddress("0x2222000000000000000000000000000000000000")
	db := newFakeDB()
	closed1 := time.Unix(1700000000, 0).UTC()
	closed2 := closed1.Add(5 * time.Minute)
	db.recovery = []*store.ClosedBatch{
		{Allocation: a2, ClosedAt: closed2, Receipts: makeReceipts(a2, 1, 2, 3, 4, 5)},
		{Allocation: a1, ClosedAt: closed1, Receipts: makeReceipts(a1, 1, 2, 3, 4, 5)},
	}

	c := newTestCollector(t, db, nil)
	if err := c.queuePendingReceipts(context.Background()); err != nil {
		t.Fatalf("Failed to queue pending receipts: %v", err)
	}
	if len(c.heap) != 2 {
		t.Fatalf("heap length mismatch: %d", len(c.heap))
	}
	due := c.heap.popDue(closed2.Add(DefaultCollectDelay).UnixMilli())
	if len(due) != 2 {
		t.Fatalf("due batches mismatch: %d", len(due))
	}
	// Earliest closed_at pops first, with timeout = closed_at + delay.
	if due[0].timeoutMs != closed1.Add(DefaultCollectDelay).UnixMilli() {
		t.Errorf("first deadline mismatch: %d", due[0].timeoutMs)
	}
	if due[0].receipts[0].Allocation != a1 || due[1].receipts[0].Allocation != a2 {
		t.Error("batches popped out of closed_at order")
	}
}

// Heap pops must come out in non-decreasing deadline order.
func TestHeapOrdering(t *testing.T) {
	var h batchHeap
	allocation := common.HexToAddress("0x9999000000000000000000000000000000000000")
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		h.pushBatch(&receiptsBatch{
			receipts:  makeReceipts(allocation, 1),
			timeoutMs: rng.Int63n(1_000_000),
		})
	}
	due := h.popDue(1_000_000)
	if len(due) != 100 {
		t.Fatalf("pop count mismatch: %d", len(due))
	}
	if !sort.SliceIsSorted(due, func(i, j int) bool { return due[i].timeoutMs < due[j].timeoutMs }) {
		t.Error("pops out of deadline order")
	}
}

func TestHeapRejectsEmptyBatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("empty batch must not reach the heap")
		}
	}()
	var h batchHeap
	h.pushBatch(&receiptsBatch{})
}

func TestTapCollectorLatchesClose(t *testing.T) {
	allocation := common.HexToAddress("0xEEEE000000000000000000000000000000000000")
	db := newFakeDB()
	c := NewTap(Config{ProtocolNetwork: testNetwork}, db, nil)

	if !c.RememberAllocations(context.Background(), "action-2", []allocations.ID{allocation}) {
		t.Fatal("RememberAllocations failed")
	}
	if _, ok := db.summaries[allocation]; !ok {
		t.Fatal("summary row not ensured")
	}
	ok, err := c.CollectReceipts(context.Background(), "action-1", &allocations.Allocation{ID: allocation})
	if err != nil || !ok {
		t.Fatalf("CollectReceipts = %v, %v", ok, err)
	}
	if !db.closed[allocation] {
		t.Fatal("allocation not latched closed")
	}
}

func TestRememberAllocationsSucceeds(t *testing.T) {
	db := newFakeDB()
	c := newTestCollector(t, db, nil)
	if !c.RememberAllocations(context.Background(), "action-3", []allocations.ID{{}}) {
		t.Fatal("RememberAllocations should succeed")
	}
}
