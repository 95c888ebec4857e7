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

package agent

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/graphprotocol/indexer-go/allocations"
	"github.com/graphprotocol/indexer-go/collector"
	"github.com/graphprotocol/indexer-go/monitor"
	"github.com/graphprotocol/indexer-go/redeemer"
	"github.com/graphprotocol/indexer-go/store"
)

// Components are the external collaborators the agent runs against. Escrow
// and Exchange may be nil, disabling the corresponding redemption engine.
type Components struct {
	Store    *store.Store
	Listener *store.Listener
	Subgraph monitor.SubgraphClient
	Gateway  collector.Exchange
	Exchange redeemer.ExchangeContract
	Escrow   redeemer.EscrowContract
}

// Agent owns the three settlement loops and the allocation monitor.
type Agent struct {
	cfg    *Config
	comps  Components
	logger log.Logger

	monitor          *monitor.Monitor
	receiptCollector collector.ReceiptCollector
	legacyCollector  *collector.AllocationReceiptCollector
	voucherRedeemer  *redeemer.VoucherRedeemer
	ravRedeemer      *redeemer.RAVRedeemer
}

// New wires the agent. Start everything with Run.
func New(cfg *Config, comps Components, logger log.Logger) (*Agent, error) {
	if err := cfg.Sanitize(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Root()
	}
	a := &Agent{cfg: cfg, comps: comps, logger: logger.New("component", "agent")}

	a.monitor = monitor.New(comps.Subgraph, cfg.MonitorInterval(), logger)

	collectorCfg := collector.Config{
		ProtocolNetwork: cfg.ProtocolNetwork,
		CollectDelay:    cfg.CollectDelay(),
		TickInterval:    cfg.CollectionTick(),
	}
	if cfg.UseTapCollector {
		a.receiptCollector = collector.NewTap(collectorCfg, comps.Store, logger)
	} else {
		a.legacyCollector = collector.New(collectorCfg, comps.Store, comps.Gateway, logger)
		a.receiptCollector = a.legacyCollector
	}

	redeemCfg := redeemer.Config{
		ProtocolNetwork: cfg.ProtocolNetwork,
		Threshold:       cfg.Threshold(),
		BatchThreshold:  cfg.BatchThreshold(),
		MaxBatchSize:    cfg.VoucherRedemptionMaxBatchSize,
		TickInterval:    cfg.VoucherTick(),
	}
	if comps.Exchange != nil {
		a.voucherRedeemer = redeemer.NewVoucher(redeemCfg, comps.Store, comps.Exchange, logger)
	}
	if comps.Escrow != nil {
		indexer := common.HexToAddress(cfg.IndexerAddress)
		a.ravRedeemer = redeemer.NewRAV(redeemCfg, comps.Store, comps.Escrow,
			a.monitor.Allocations(), indexer, cfg.IndexerMnemonic, logger)
	}
	return a, nil
}

// ReceiptCollector exposes the active collector variant to the management
// surface.
func (a *Agent) ReceiptCollector() collector.ReceiptCollector {
	return a.receiptCollector
}

// RememberAllocations forwards to the active collector.
func (a *Agent) RememberAllocations(ctx context.Context, actionID string, ids []allocations.ID) bool {
	return a.receiptCollector.RememberAllocations(ctx, actionID, ids)
}

// CollectReceipts forwards to the active collector.
func (a *Agent) CollectReceipts(ctx context.Context, actionID string, alloc *allocations.Allocation) (bool, error) {
	return a.receiptCollector.CollectReceipts(ctx, actionID, alloc)
}

// Run starts every loop and blocks until ctx is cancelled or a component
// fails to start. Shutdown happens at tick boundaries: each loop lets its
// in-flight work complete.
func (a *Agent) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.comps.Listener != nil {
		g.Go(func() error {
			a.comps.Listener.Start(ctx)
			<-ctx.Done()
			a.comps.Listener.Stop()
			return nil
		})
	}
	g.Go(func() error {
		a.monitor.Start(ctx)
		<-ctx.Done()
		a.monitor.Stop()
		return nil
	})
	if a.legacyCollector != nil {
		g.Go(func() error {
			if err := a.legacyCollector.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			a.legacyCollector.Stop()
			return nil
		})
	}
	if a.voucherRedeemer != nil {
		g.Go(func() error {
			a.voucherRedeemer.Start(ctx)
			<-ctx.Done()
			a.voucherRedeemer.Stop()
			return nil
		})
	}
	if a.ravRedeemer != nil {
		g.Go(func() error {
			a.ravRedeemer.Start(ctx)
			<-ctx.Done()
			a.ravRedeemer.Stop()
			return nil
		})
	}
	a.logger.Info("Indexer agent started", "network", a.cfg.ProtocolNetwork,
		"tap", a.cfg.UseTapCollector)
	return g.Wait()
}
