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

// Package agent wires the settlement components into one runnable unit.
package agent

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Defaults for every recognized option.
const (
	DefaultReceiptCollectDelayMs       = 1_200_000
	DefaultCollectionTickMs            = 10_000
	DefaultVoucherTickMs               = 30_000
	DefaultAllocationMonitorIntervalMs = 60_000
	DefaultGatewayTimeoutMs            = 60_000
	DefaultChainTimeoutMs              = 120_000
	DefaultVoucherMaxBatchSize         = 100
)

// Config is the agent's YAML-loadable configuration.
type Config struct {
	ProtocolNetwork string `yaml:"protocol_network"`

	DatabaseURL    string `yaml:"database_url"`
	GatewayBaseURL string `yaml:"gateway_base_url"`
	EthereumRPC    string `yaml:"ethereum_rpc"`
	SubgraphURL    string `yaml:"network_subgraph_url"`

	IndexerAddress  string `yaml:"indexer_address"`
	IndexerMnemonic string `yaml:"indexer_mnemonic"`

	AllocationExchangeAddress string `yaml:"allocation_exchange_address"`
	EscrowAddress             string `yaml:"escrow_address"`

	// UseTapCollector switches the close path to the TAP collector; legacy
	// receipts stop flowing through the gateway exchange.
	UseTapCollector bool `yaml:"use_tap_collector"`

	VoucherRedemptionThreshold      string `yaml:"voucher_redemption_threshold"`
	VoucherRedemptionBatchThreshold string `yaml:"voucher_redemption_batch_threshold"`
	VoucherRedemptionMaxBatchSize   int    `yaml:"voucher_redemption_max_batch_size"`

	ReceiptCollectDelayMs       int64 `yaml:"receipt_collect_delay_ms"`
	CollectionTickMs            int64 `yaml:"collection_tick_ms"`
	VoucherTickMs               int64 `yaml:"voucher_tick_ms"`
	AllocationMonitorIntervalMs int64 `yaml:"allocation_monitor_interval_ms"`
	GatewayTimeoutMs            int64 `yaml:"gateway_timeout_ms"`
	ChainTimeoutMs              int64 `yaml:"chain_timeout_ms"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := new(Config)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Sanitize fills defaults and validates the required fields.
func (c *Config) Sanitize() error {
	if c.ProtocolNetwork == "" {
		return errors.New("protocol_network is required")
	}
	if c.DatabaseURL == "" {
		return errors.New("database_url is required")
	}
	if c.IndexerMnemonic == "" {
		return errors.New("indexer_mnemonic is required")
	}
	if c.IndexerAddress != "" && !common.IsHexAddress(c.IndexerAddress) {
		return fmt.Errorf("invalid indexer_address %q", c.IndexerAddress)
	}
	if c.ReceiptCollectDelayMs <= 0 {
		c.ReceiptCollectDelayMs = DefaultReceiptCollectDelayMs
	}
	if c.CollectionTickMs <= 0 {
		c.CollectionTickMs = DefaultCollectionTickMs
	}
	if c.VoucherTickMs <= 0 {
		c.VoucherTickMs = DefaultVoucherTickMs
	}
	if c.AllocationMonitorIntervalMs <= 0 {
		c.AllocationMonitorIntervalMs = DefaultAllocationMonitorIntervalMs
	}
	if c.GatewayTimeoutMs <= 0 {
		c.GatewayTimeoutMs = DefaultGatewayTimeoutMs
	}
	if c.ChainTimeoutMs <= 0 {
		c.ChainTimeoutMs = DefaultChainTimeoutMs
	}
	if c.VoucherRedemptionMaxBatchSize <= 0 {
		c.VoucherRedemptionMaxBatchSize = DefaultVoucherMaxBatchSize
	}
	if _, err := c.threshold(c.VoucherRedemptionThreshold); err != nil {
		return err
	}
	if _, err := c.threshold(c.VoucherRedemptionBatchThreshold); err != nil {
		return err
	}
	return nil
}

func (c *Config) threshold(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid threshold %q", s)
	}
	return v, nil
}

// Threshold returns voucher_redemption_threshold as a big integer.
func (c *Config) Threshold() *big.Int {
	v, _ := c.threshold(c.VoucherRedemptionThreshold)
	return v
}

// BatchThreshold returns voucher_redemption_batch_threshold as a big
// integer.
func (c *Config) BatchThreshold() *big.Int {
	v, _ := c.threshold(c.VoucherRedemptionBatchThreshold)
	return v
}

// Durations converted from their millisecond options.
func (c *Config) CollectDelay() time.Duration {
	return time.Duration(c.ReceiptCollectDelayMs) * time.Millisecond
}

func (c *Config) CollectionTick() time.Duration {
	return time.Duration(c.CollectionTickMs) * time.Millisecond
}

func (c *Config) VoucherTick() time.Duration {
	return time.Duration(c.VoucherTickMs) * time.Millisecond
}

func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.AllocationMonitorIntervalMs) * time.Millisecond
}

func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutMs) * time.Millisecond
}

func (c *Config) ChainTimeout() time.Duration {
	return time.Duration(c.ChainTimeoutMs) * time.Millisecond
}
