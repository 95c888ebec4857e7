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

// Package monitor maintains the observable set of allocations eligible for
// settlement: the indexer's active allocations plus those closed within the
// last epoch.
package monitor

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/graphprotocol/indexer-go/allocations"
	"github.com/graphprotocol/indexer-go/eventual"
)

// DefaultInterval paces the allocation refresh.
const DefaultInterval = 60 * time.Second

// pageSize is the subgraph query page size.
const pageSize = 1000

// errEmptyAllocationSet marks a tick that found nothing; the previous value
// is kept because an empty set is always a sign of a bad query, not of an
// indexer without work.
var errEmptyAllocationSet = errors.New("empty allocation set")

// SubgraphClient is the network-subgraph surface the monitor consumes. The
// query transport lives outside this package.
type SubgraphClient interface {
	// CurrentEpoch returns the protocol's current epoch.
	CurrentEpoch(ctx context.Context) (uint64, error)

	// Allocations pages through the indexer's allocations with the given
	// status, ordered by id ascending. minClosedEpoch only applies to
	// closed allocations.
	Allocations(ctx context.Context, status allocations.Status, minClosedEpoch uint64, first, skip int) ([]*allocations.Allocation, error)
}

// Monitor periodically refreshes the eligible allocation set and surfaces
// it as an eventual. The observable never emits an empty set.
type Monitor struct {
	client   SubgraphClient
	interval time.Duration
	logger   log.Logger

	set   *eventual.Eventual[[]*allocations.Allocation]
	timer *eventual.Timer
}

// New builds a monitor over the given subgraph client.
func New(client SubgraphClient, interval time.Duration, logger log.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = log.Root()
	}
	m := &Monitor{
		client:   client,
		interval: interval,
		logger:   logger.New("component", "allocation-monitor"),
	}
	m.set, m.timer = eventual.ReduceTimer(interval, []*allocations.Allocation(nil), sameAllocations,
		m.refresh,
		eventual.WithOnError(func(err error) {
			m.logger.Warn("Failed to refresh allocations; keeping previous set", "err", err)
		}),
	)
	return m
}

// Allocations returns the observable allocation set.
func (m *Monitor) Allocations() *eventual.Eventual[[]*allocations.Allocation] {
	return m.set
}

// Start launches the refresh loop.
func (m *Monitor) Start(ctx context.Context) {
	m.timer.Start(ctx)
}

// Stop halts the refresh loop.
func (m *Monitor) Stop() {
	m.timer.Stop()
}

// refresh performs one full active + recently-closed sweep. Any failure or
// an empty result keeps prev.
func (m *Monitor) refresh(ctx context.Context, prev []*allocations.Allocation) ([]*allocations.Allocation, error) {
	epoch, err := m.client.CurrentEpoch(ctx)
	if err != nil {
		return prev, err
	}
	active, err := m.page(ctx, allocations.StatusActive, 0)
	if err != nil {
		return prev, err
	}
	minClosed := uint64(0)
	if epoch > 0 {
		minClosed = epoch - 1
	}
	closed, err := m.page(ctx, allocations.StatusClosed, minClosed)
	if err != nil {
		return prev, err
	}
	merged := append(active, closed...)
	if len(merged) == 0 {
		return prev, errEmptyAllocationSet
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ID.Hex() < merged[j].ID.Hex()
	})
	m.logger.Debug("Refreshed allocations", "active", len(active), "recently_closed", len(closed))
	return merged, nil
}

func (m *Monitor) page(ctx context.Context, status allocations.Status, minClosedEpoch uint64) ([]*allocations.Allocation, error) {
	var out []*allocations.Allocation
	for skip := 0; ; skip += pageSize {
		page, err := m.client.Allocations(ctx, status, minClosedEpoch, pageSize, skip)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return out, nil
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
	}
}

func sameAllocations(a, b []*allocations.Allocation) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Status != b[i].Status {
			return false
		}
	}
	return true
}
