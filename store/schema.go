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
	"context"
	"fmt"
)

// Notification channels. Payload shapes are fixed; downstream caches rely on
// the exact field names.
const (
	ReceiptNotificationChannel   = "scalar_tap_receipt_notification"
	DenyNotificationChannel      = "scalar_tap_deny_notification"
	CostModelNotificationChannel = "cost_models_update_notification"
)

var tables = []string{
	`CREATE TABLE IF NOT EXISTS allocation_receipts (
		id               BIGINT       NOT NULL,
		signer           VARCHAR      NOT NULL,
		allocation       CHAR(40)     NOT NULL,
		fees             NUMERIC      NOT NULL,
		signature        BYTEA        NOT NULL,
		protocol_network VARCHAR      NOT NULL,
		PRIMARY KEY (id, signer, allocation, protocol_network)
	)`,
	`CREATE TABLE IF NOT EXISTS scalar_tap_receipts (
		id             BIGSERIAL PRIMARY KEY,
		allocation_id  CHAR(40)     NOT NULL,
		sender_address CHAR(40)     NOT NULL,
		timestamp_ns   BIGINT       NOT NULL,
		value          NUMERIC(39)  NOT NULL,
		receipt        JSON         NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scalar_tap_ravs (
		allocation_id  CHAR(40)    NOT NULL,
		sender_address CHAR(40)    NOT NULL,
		rav            JSON        NOT NULL,
		final          BOOLEAN     NOT NULL DEFAULT FALSE,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (allocation_id, sender_address)
	)`,
	`CREATE TABLE IF NOT EXISTS vouchers (
		allocation       CHAR(40) NOT NULL,
		amount           NUMERIC  NOT NULL,
		signature        BYTEA    NOT NULL,
		protocol_network VARCHAR  NOT NULL,
		PRIMARY KEY (allocation, protocol_network)
	)`,
	`CREATE TABLE IF NOT EXISTS allocation_summaries (
		allocation       CHAR(40)    NOT NULL,
		protocol_network VARCHAR     NOT NULL,
		closed_at        TIMESTAMPTZ,
		collected_fees   NUMERIC     NOT NULL DEFAULT 0,
		withdrawn_fees   NUMERIC     NOT NULL DEFAULT 0,
		PRIMARY KEY (allocation, protocol_network)
	)`,
	`CREATE TABLE IF NOT EXISTS scalar_tap_denylist (
		id             BIGSERIAL PRIMARY KEY,
		sender_address CHAR(40) NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS "CostModelsHistory" (
		id         BIGSERIAL PRIMARY KEY,
		deployment VARCHAR NOT NULL,
		model      TEXT,
		variables  JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS "IndexingRules" (
		identifier        VARCHAR NOT NULL,
		identifier_type   VARCHAR NOT NULL DEFAULT 'deployment',
		protocol_network  VARCHAR NOT NULL,
		allocation_amount NUMERIC,
		allocation_lifetime INTEGER,
		auto_renewal      BOOLEAN,
		parallel_allocations INTEGER,
		max_allocation_percentage DOUBLE PRECISION,
		min_signal        NUMERIC,
		max_signal        NUMERIC,
		min_stake         NUMERIC,
		min_average_query_fees NUMERIC,
		custom            TEXT,
		decision_basis    VARCHAR,
		require_supported BOOLEAN,
		safety            BOOLEAN,
		PRIMARY KEY (identifier, protocol_network)
	)`,
	`CREATE TABLE IF NOT EXISTS poi_disputes (
		allocation_id         CHAR(40) NOT NULL,
		subgraph_deployment_id VARCHAR NOT NULL,
		allocation_indexer    CHAR(42) NOT NULL,
		allocation_amount     NUMERIC  NOT NULL,
		allocation_proof      VARCHAR  NOT NULL,
		closed_epoch          INTEGER  NOT NULL,
		closed_epoch_reference_proof VARCHAR,
		previous_epoch_reference_proof VARCHAR,
		status                VARCHAR  NOT NULL,
		protocol_network      VARCHAR  NOT NULL,
		PRIMARY KEY (allocation_id, protocol_network)
	)`,
	`CREATE TABLE IF NOT EXISTS indexing_agreements (
		id         UUID PRIMARY KEY,
		payer      CHAR(40) NOT NULL,
		deployment VARCHAR  NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS dips_receipts (
		id               BIGSERIAL PRIMARY KEY,
		agreement_id     UUID     NOT NULL REFERENCES indexing_agreements (id),
		amount           NUMERIC  NOT NULL,
		status           VARCHAR  NOT NULL DEFAULT 'PENDING',
		transaction_hash CHAR(66),
		retry_count      INTEGER  NOT NULL DEFAULT 0
	)`,
}

type indexSpec struct {
	name, ddl string
}

var indexes = []indexSpec{
	{"scalar_tap_receipts_allocation_id_idx",
		`CREATE INDEX scalar_tap_receipts_allocation_id_idx ON scalar_tap_receipts (allocation_id)`},
	{"scalar_tap_receipts_timestamp_ns_idx",
		`CREATE INDEX scalar_tap_receipts_timestamp_ns_idx ON scalar_tap_receipts (timestamp_ns)`},
	{"allocation_receipts_allocation_idx",
		`CREATE INDEX allocation_receipts_allocation_idx ON allocation_receipts (allocation, protocol_network)`},
}

var notifyFunctions = []string{
	`CREATE OR REPLACE FUNCTION scalar_tap_receipt_notify() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + ReceiptNotificationChannel + `', json_build_object(
			'id', NEW.id,
			'allocation_id', NEW.allocation_id,
			'sender_address', NEW.sender_address,
			'timestamp_ns', NEW.timestamp_ns,
			'value', NEW.value
		)::text);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`CREATE OR REPLACE FUNCTION scalar_tap_deny_notify() RETURNS trigger AS $$
	BEGIN
		IF TG_OP = 'INSERT' THEN
			PERFORM pg_notify('` + DenyNotificationChannel + `', json_build_object(
				'tg_op', 'INSERT', 'sender_address', NEW.sender_address)::text);
			RETURN NEW;
		ELSIF TG_OP = 'DELETE' THEN
			PERFORM pg_notify('` + DenyNotificationChannel + `', json_build_object(
				'tg_op', 'DELETE', 'sender_address', OLD.sender_address)::text);
			RETURN OLD;
		ELSE
			-- Updates are unexpected on the denylist; emit a null sender so
			-- consumers drop their whole cache rather than a single entry.
			PERFORM pg_notify('` + DenyNotificationChannel + `', json_build_object(
				'tg_op', TG_OP, 'sender_address', NULL)::text);
			RETURN NEW;
		END IF;
	END;
	$$ LANGUAGE plpgsql`,
	`CREATE OR REPLACE FUNCTION cost_models_update_notify() RETURNS trigger AS $$
	BEGIN
		IF TG_OP = 'DELETE' THEN
			PERFORM pg_notify('` + CostModelNotificationChannel + `', json_build_object(
				'tg_op', 'DELETE', 'deployment', OLD.deployment)::text);
			RETURN OLD;
		ELSE
			PERFORM pg_notify('` + CostModelNotificationChannel + `', json_build_object(
				'tg_op', TG_OP, 'deployment', NEW.deployment)::text);
			RETURN NEW;
		END IF;
	END;
	$$ LANGUAGE plpgsql`,
}

type triggerSpec struct {
	name, table, ddl string
}

var triggers = []triggerSpec{
	{"scalar_tap_receipt_notification_trigger", "scalar_tap_receipts",
		`CREATE TRIGGER scalar_tap_receipt_notification_trigger
		 AFTER INSERT OR UPDATE ON scalar_tap_receipts
		 FOR EACH ROW EXECUTE PROCEDURE scalar_tap_receipt_notify()`},
	{"scalar_tap_deny_notification_trigger", "scalar_tap_denylist",
		`CREATE TRIGGER scalar_tap_deny_notification_trigger
		 AFTER INSERT OR UPDATE OR DELETE ON scalar_tap_denylist
		 FOR EACH ROW EXECUTE PROCEDURE scalar_tap_deny_notify()`},
	{"cost_models_update_notification_trigger", "\"CostModelsHistory\"",
		`CREATE TRIGGER cost_models_update_notification_trigger
		 AFTER INSERT OR UPDATE OR DELETE ON "CostModelsHistory"
		 FOR EACH ROW EXECUTE PROCEDURE cost_models_update_notify()`},
}

// installSchema creates all tables, triggers, the CostModels view and the
// supporting indexes. It is idempotent: triggers and indexes are only
// created when a catalog EXISTS probe reports them missing.
func (s *Store) installSchema(ctx context.Context) error {
	for _, ddl := range tables {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("creating table: %w", err)
		}
	}
	for _, fn := range notifyFunctions {
		if _, err := s.pool.Exec(ctx, fn); err != nil {
			return fmt.Errorf("creating notify function: %w", err)
		}
	}
	for _, idx := range indexes {
		exists, err := s.indexExists(ctx, idx.name)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := s.pool.Exec(ctx, idx.ddl); err != nil {
				return fmt.Errorf("creating index %s: %w", idx.name, err)
			}
		}
	}
	for _, trg := range triggers {
		exists, err := s.triggerExists(ctx, trg.name)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := s.pool.Exec(ctx, trg.ddl); err != nil {
				return fmt.Errorf("creating trigger %s: %w", trg.name, err)
			}
		}
	}

	// The latest row per deployment is the live cost model.
	if _, err := s.pool.Exec(ctx, `
		CREATE OR REPLACE VIEW "CostModels" AS
		SELECT h.id, h.deployment, h.model, h.variables, h.created_at, h.updated_at
		FROM "CostModelsHistory" h
		JOIN (
			SELECT deployment, MAX(id) AS id
			FROM "CostModelsHistory"
			GROUP BY deployment
		) latest ON h.id = latest.id`); err != nil {
		return fmt.Errorf("creating CostModels view: %w", err)
	}

	// Rebase the history id sequence past any rows imported by hand.
	if _, err := s.pool.Exec(ctx, `
		SELECT setval(
			pg_get_serial_sequence('"CostModelsHistory"', 'id'),
			COALESCE((SELECT MAX(id) FROM "CostModelsHistory"), 0) + 1,
			false)`); err != nil {
		return fmt.Errorf("rebasing CostModelsHistory sequence: %w", err)
	}
	return nil
}

// triggerExists probes pg_trigger. EXISTS yields exactly one boolean row;
// objects are created only when it reads false.
func (s *Store) triggerExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = $1)`, name).Scan(&exists)
	return exists, err
}

func (s *Store) indexExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = $1)`, name).Scan(&exists)
	return exists, err
}
