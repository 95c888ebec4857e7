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
	"container/heap"

	"github.com/graphprotocol/indexer-go/receipts"
)

// receiptsBatch is one closed allocation's receipt set waiting out the
// collection delay. timeoutMs is the wall-clock millisecond deadline at
// which the batch becomes eligible for exchange.
type receiptsBatch struct {
	receipts  []*receipts.Receipt
	timeoutMs int64
}

// batchHeap is a min-heap over timeoutMs. The collector guards it with its
// own mutex; the heap itself is not safe for concurrent use.
type batchHeap []*receiptsBatch

func (h batchHeap) Len() int            { return len(h) }
func (h batchHeap) Less(i, j int) bool  { return h[i].timeoutMs < h[j].timeoutMs }
func (h batchHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *batchHeap) Push(x interface{}) { *h = append(*h, x.(*receiptsBatch)) }

func (h *batchHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// pushBatch adds a batch, asserting it is non-empty. Empty groups must be
// rejected before they reach the heap.
func (h *batchHeap) pushBatch(b *receiptsBatch) {
	if len(b.receipts) == 0 {
		panic("collector: empty receipts batch pushed on heap")
	}
	heap.Push(h, b)
}

// popDue removes and returns every batch whose deadline is at or before
// nowMs, in deadline order.
func (h *batchHeap) popDue(nowMs int64) []*receiptsBatch {
	var due []*receiptsBatch
	for h.Len() > 0 && (*h)[0].timeoutMs <= nowMs {
		due = append(due, heap.Pop(h).(*receiptsBatch))
	}
	return due
}
