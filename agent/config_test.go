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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		ProtocolNetwork: "eip155:1",
		DatabaseURL:     "postgres://localhost/indexer",
		IndexerMnemonic: "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about",
	}
}

func TestSanitizeDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Sanitize(); err != nil {
		t.Fatalf("Failed to sanitize: %v", err)
	}
	if cfg.CollectDelay() != 20*time.Minute {
		t.Errorf("collect delay default mismatch: %v", cfg.CollectDelay())
	}
	if cfg.VoucherTick() != 30*time.Second {
		t.Errorf("voucher tick default mismatch: %v", cfg.VoucherTick())
	}
	if cfg.CollectionTick() != 10*time.Second {
		t.Errorf("collection tick default mismatch: %v", cfg.CollectionTick())
	}
	if cfg.GatewayTimeout() != time.Minute {
		t.Errorf("gateway timeout default mismatch: %v", cfg.GatewayTimeout())
	}
	if cfg.ChainTimeout() != 2*time.Minute {
		t.Errorf("chain timeout default mismatch: %v", cfg.ChainTimeout())
	}
	if cfg.VoucherRedemptionMaxBatchSize != DefaultVoucherMaxBatchSize {
		t.Errorf("max batch size default mismatch: %d", cfg.VoucherRedemptionMaxBatchSize)
	}
	if cfg.Threshold().Sign() != 0 || cfg.BatchThreshold().Sign() != 0 {
		t.Error("thresholds should default to zero")
	}
}

func TestSanitizeRequiredFields(t *testing.T) {
	for _, breakIt := range []func(*Config){
		func(c *Config) { c.ProtocolNetwork = "" },
		func(c *Config) { c.DatabaseURL = "" },
		func(c *Config) { c.IndexerMnemonic = "" },
		func(c *Config) { c.IndexerAddress = "not-an-address" },
		func(c *Config) { c.VoucherRedemptionThreshold = "12x4" },
	} {
		cfg := validConfig()
		breakIt(cfg)
		if err := cfg.Sanitize(); err == nil {
			t.Errorf("expected sanitize failure for %+v", cfg)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	blob := `
protocol_network: eip155:42161
database_url: postgres://localhost/indexer
indexer_mnemonic: "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
voucher_redemption_threshold: "1000000000000000000"
voucher_redemption_batch_threshold: "5000000000000000000"
voucher_redemption_max_batch_size: 25
receipt_collect_delay_ms: 600000
`
	if err := os.WriteFile(path, []byte(blob), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Sanitize(); err != nil {
		t.Fatalf("Failed to sanitize: %v", err)
	}
	if cfg.ProtocolNetwork != "eip155:42161" {
		t.Errorf("network mismatch: %s", cfg.ProtocolNetwork)
	}
	if cfg.Threshold().String() != "1000000000000000000" {
		t.Errorf("threshold mismatch: %s", cfg.Threshold())
	}
	if cfg.BatchThreshold().String() != "5000000000000000000" {
		t.Errorf("batch threshold mismatch: %s", cfg.BatchThreshold())
	}
	if cfg.VoucherRedemptionMaxBatchSize != 25 {
		t.Errorf("max batch size mismatch: %d", cfg.VoucherRedemptionMaxBatchSize)
	}
	if cfg.CollectDelay() != 10*time.Minute {
		t.Errorf("collect delay mismatch: %v", cfg.CollectDelay())
	}
}
