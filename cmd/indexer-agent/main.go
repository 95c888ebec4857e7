// Copyright 2025 The indexer-go Authors
// This file is part of indexer-go.
//
// indexer-go is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// indexer-go is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with indexer-go. If not, see <http://www.gnu.org/licenses/>.

// indexer-agent runs the query-fee settlement loops of an indexer: receipt
// collection, voucher redemption and RAV redemption.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/graphprotocol/indexer-go/agent"
	"github.com/graphprotocol/indexer-go/allocations"
	"github.com/graphprotocol/indexer-go/contracts"
	"github.com/graphprotocol/indexer-go/gateway"
	"github.com/graphprotocol/indexer-go/monitor"
	"github.com/graphprotocol/indexer-go/store"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to the YAML configuration file",
	}
	postgresFlag = &cli.StringFlag{
		Name:  "postgres-url",
		Usage: "Postgres connection URL",
	}
	gatewayFlag = &cli.StringFlag{
		Name:  "gateway-url",
		Usage: "Gateway base URL for voucher exchange",
	}
	ethereumFlag = &cli.StringFlag{
		Name:  "ethereum",
		Usage: "Ethereum JSON-RPC endpoint",
	}
	subgraphFlag = &cli.StringFlag{
		Name:  "network-subgraph",
		Usage: "Network subgraph query endpoint",
	}
	networkFlag = &cli.StringFlag{
		Name:  "network",
		Usage: "Protocol network identifier (CAIP-2, e.g. eip155:1)",
	}
	mnemonicFlag = &cli.StringFlag{
		Name:  "mnemonic",
		Usage: "Indexer wallet mnemonic",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (0=crit .. 5=trace)",
		Value: 3,
	}
)

func main() {
	app := &cli.App{
		Name:   "indexer-agent",
		Usage:  "query-fee settlement agent",
		Flags:  []cli.Flag{configFlag, postgresFlag, gatewayFlag, ethereumFlag, subgraphFlag, networkFlag, mnemonicFlag, verbosityFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(c.Int(verbosityFlag.Name)), false)
	log.SetDefault(log.NewLogger(handler))
	logger := log.Root()

	cfg := new(agent.Config)
	if path := c.String(configFlag.Name); path != "" {
		loaded, err := agent.LoadConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	applyFlags(c, cfg)
	if err := cfg.Sanitize(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()
	listener := store.NewListener(cfg.DatabaseURL, logger)

	comps := agent.Components{
		Store:    db,
		Listener: listener,
		Subgraph: monitor.NewNetworkSubgraph(cfg.SubgraphURL, common.HexToAddress(cfg.IndexerAddress), 0),
	}
	if cfg.GatewayBaseURL != "" {
		gw, err := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayTimeout())
		if err != nil {
			return err
		}
		comps.Gateway = gw
	}

	if cfg.EthereumRPC != "" {
		client, err := ethclient.DialContext(ctx, cfg.EthereumRPC)
		if err != nil {
			return fmt.Errorf("dialing ethereum: %w", err)
		}
		defer client.Close()

		chainID, err := client.ChainID(ctx)
		if err != nil {
			return err
		}
		key, err := allocations.WalletKey(cfg.IndexerMnemonic)
		if err != nil {
			return err
		}
		opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return err
		}
		mgr, err := contracts.NewTxManager(client, opts, cfg.ChainTimeout(), logger)
		if err != nil {
			return err
		}
		logger.Info("Connected to chain", "chainid", chainID, "operator", crypto.PubkeyToAddress(key.PublicKey))

		if cfg.AllocationExchangeAddress != "" {
			exchange, err := contracts.NewAllocationExchange(common.HexToAddress(cfg.AllocationExchangeAddress), client, mgr)
			if err != nil {
				return err
			}
			comps.Exchange = exchange
		}
		if cfg.EscrowAddress != "" {
			escrow, err := contracts.NewEscrow(common.HexToAddress(cfg.EscrowAddress), client, mgr)
			if err != nil {
				return err
			}
			comps.Escrow = escrow
		}
	}

	a, err := agent.New(cfg, comps, logger)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func applyFlags(c *cli.Context, cfg *agent.Config) {
	if v := c.String(postgresFlag.Name); v != "" {
		cfg.DatabaseURL = v
	}
	if v := c.String(gatewayFlag.Name); v != "" {
		cfg.GatewayBaseURL = v
	}
	if v := c.String(ethereumFlag.Name); v != "" {
		cfg.EthereumRPC = v
	}
	if v := c.String(subgraphFlag.Name); v != "" {
		cfg.SubgraphURL = v
	}
	if v := c.String(networkFlag.Name); v != "" {
		cfg.ProtocolNetwork = v
	}
	if v := c.String(mnemonicFlag.Name); v != "" {
		cfg.IndexerMnemonic = v
	}
}
