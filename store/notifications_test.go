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

package store

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

func TestParseReceiptNotification(t *testing.T) {
	payload := `{"id":7,"allocation_id":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa","sender_address":"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb","timestamp_ns":1700000000000000000,"value":340282366920938463463374607431768211456}`
	n, err := parseReceiptNotification(payload)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if n.ID != 7 || n.AllocationID != "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" {
		t.Errorf("fields mismatch: %+v", n)
	}
	if n.TimestampNs != 1700000000000000000 {
		t.Errorf("timestamp mismatch: %d", n.TimestampNs)
	}
	// 2^128 does not fit any machine integer; the value must survive as a
	// big.Int.
	if n.Value.BitLen() != 129 {
		t.Errorf("value mismatch: %v", n.Value)
	}

	if _, err := parseReceiptNotification(`{"value":"not-a-number"}`); err == nil {
		t.Error("expected parse failure")
	}
}

func TestParseDenyNotification(t *testing.T) {
	n, err := parseDenyNotification(`{"tg_op":"INSERT","sender_address":"cccccccccccccccccccccccccccccccccccccccc"}`)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if n.TgOp != "INSERT" || n.SenderAddress == nil || *n.SenderAddress != "cccccccccccccccccccccccccccccccccccccccc" {
		t.Errorf("fields mismatch: %+v", n)
	}
	// Unexpected updates carry a null sender.
	n, err = parseDenyNotification(`{"tg_op":"UPDATE","sender_address":null}`)
	if err != nil {
		t.Fatalf("Failed to parse null sender: %v", err)
	}
	if n.SenderAddress != nil {
		t.Errorf("expected nil sender, have %v", *n.SenderAddress)
	}
}

func TestParseCostModelNotification(t *testing.T) {
	n, err := parseCostModelNotification(`{"tg_op":"DELETE","deployment":"QmXyz"}`)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if n.TgOp != "DELETE" || n.Deployment != "QmXyz" {
		t.Errorf("fields mismatch: %+v", n)
	}
}

func TestListenerDispatch(t *testing.T) {
	l := &Listener{
		logger: log.Root(),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	receipts := make(chan ReceiptNotification, 1)
	denies := make(chan DenyNotification, 1)
	models := make(chan CostModelNotification, 1)
	defer l.SubscribeReceipts(receipts).Unsubscribe()
	defer l.SubscribeDenylist(denies).Unsubscribe()
	defer l.SubscribeCostModels(models).Unsubscribe()

	l.dispatch(ReceiptNotificationChannel, `{"id":1,"allocation_id":"aa","sender_address":"bb","timestamp_ns":2,"value":3}`)
	l.dispatch(DenyNotificationChannel, `{"tg_op":"DELETE","sender_address":"cc"}`)
	l.dispatch(CostModelNotificationChannel, `{"tg_op":"INSERT","deployment":"QmA"}`)
	// Malformed payloads are dropped, not delivered.
	l.dispatch(ReceiptNotificationChannel, `{"value":"bogus"}`)

	select {
	case n := <-receipts:
		if n.ID != 1 || n.Value.Int64() != 3 {
			t.Errorf("receipt notification mismatch: %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no receipt notification delivered")
	}
	select {
	case n := <-denies:
		if n.TgOp != "DELETE" {
			t.Errorf("deny notification mismatch: %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no deny notification delivered")
	}
	select {
	case n := <-models:
		if n.Deployment != "QmA" {
			t.Errorf("cost model notification mismatch: %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no cost model notification delivered")
	}
	select {
	case <-receipts:
		t.Fatal("malformed payload should have been dropped")
	case <-time.After(10 * time.Millisecond):
	}
}
