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
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/graphprotocol/indexer-go/allocations"
	"github.com/graphprotocol/indexer-go/receipts"
	"github.com/graphprotocol/indexer-go/vouchers"
)

// InsertReceipt records one intake receipt. The (id, signer, allocation,
// network) key makes re-delivery a no-op. Shape violations surface to the
// caller and nothing is written.
func (s *Store) InsertReceipt(ctx context.Context, r *receipts.Receipt) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO allocation_receipts (id, signer, allocation, fees, signature, protocol_network)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
		ON CONFLICT DO NOTHING`,
		int64(r.ID), r.Signer, allocations.CanonicalHex(r.Allocation), r.Fees.String(), r.Signature, r.ProtocolNetwork)
	return err
}

// InsertTapReceipt records one TAP receipt; the insert trigger fans the
// scalar fields out on the receipt notification channel.
func (s *Store) InsertTapReceipt(ctx context.Context, r *receipts.TapReceipt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scalar_tap_receipts (allocation_id, sender_address, timestamp_ns, value, receipt)
		VALUES ($1, $2, $3, $4::numeric, $5)`,
		allocations.CanonicalHex(r.AllocationID), allocations.CanonicalHex(r.SenderAddress), int64(r.TimestampNs), r.Value.String(), r.Receipt)
	return err
}

// EnsureAllocationSummaries makes sure a summary row exists for every id,
// all inside one transaction. Existing rows are left untouched.
func (s *Store) EnsureAllocationSummaries(ctx context.Context, ids []allocations.ID, network string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		for _, id := range ids {
			if _, err := tx.Exec(ctx, `
				INSERT INTO allocation_summaries (allocation, protocol_network)
				VALUES ($1, $2)
				ON CONFLICT (allocation, protocol_network) DO NOTHING`,
				allocations.CanonicalHex(id), network); err != nil {
				return err
			}
		}
		return nil
	})
}

// CloseAllocation latches the allocation's closed_at timestamp and snapshots
// its receipts in one transaction. The latch makes the snapshot happen at
// most once: a later call finds closed_at already set and returns the
// original close time with an empty batch.
func (s *Store) CloseAllocation(ctx context.Context, id allocations.ID, network string) (time.Time, []*receipts.Receipt, error) {
	var (
		closedAt time.Time
		batch    []*receipts.Receipt
	)
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var latched *time.Time
		err := tx.QueryRow(ctx, `
			SELECT closed_at FROM allocation_summaries
			WHERE allocation = $1 AND protocol_network = $2`,
			allocations.CanonicalHex(id), network).Scan(&latched)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if latched != nil {
			closedAt, batch = *latched, nil
			return nil
		}
		closedAt = nowUTC()
		if _, err := tx.Exec(ctx, `
			UPDATE allocation_summaries
			SET closed_at = $3
			WHERE allocation = $1 AND protocol_network = $2`,
			allocations.CanonicalHex(id), network, closedAt); err != nil {
			return err
		}
		batch, err = scanReceipts(ctx, tx, `
			SELECT id, signer, allocation, fees::text, signature, protocol_network
			FROM allocation_receipts
			WHERE allocation = $1 AND protocol_network = $2
			ORDER BY id`,
			allocations.CanonicalHex(id), network)
		return err
	})
	if err != nil {
		return time.Time{}, nil, err
	}
	return closedAt, batch, nil
}

// ClosedBatch is one closed allocation's receipt snapshot used for restart
// recovery.
type ClosedBatch struct {
	Allocation allocations.ID
	ClosedAt   time.Time
	Receipts   []*receipts.Receipt
}

// ClosedAllocationBatches loads the receipts of every closed allocation,
// grouped per allocation and ordered by receipt id. Allocations without
// receipts are skipped.
func (s *Store) ClosedAllocationBatches(ctx context.Context, network string) ([]*ClosedBatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.allocation, s.closed_at
		FROM allocation_summaries s
		WHERE s.closed_at IS NOT NULL AND s.protocol_network = $1
		ORDER BY s.closed_at`, network)
	if err != nil {
		return nil, err
	}
	type closed struct {
		allocation string
		closedAt   time.Time
	}
	var summaries []closed
	for rows.Next() {
		var c closed
		if err := rows.Scan(&c.allocation, &c.closedAt); err != nil {
			rows.Close()
			return nil, err
		}
		summaries = append(summaries, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var batches []*ClosedBatch
	for _, c := range summaries {
		batch, err := scanReceipts(ctx, s.pool, `
			SELECT id, signer, allocation, fees::text, signature, protocol_network
			FROM allocation_receipts
			WHERE allocation = $1 AND protocol_network = $2
			ORDER BY id`, c.allocation, network)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			continue
		}
		id, err := allocations.ParseID(c.allocation)
		if err != nil {
			return nil, err
		}
		batches = append(batches, &ClosedBatch{Allocation: id, ClosedAt: c.closedAt, Receipts: batch})
	}
	return batches, nil
}

// SettleBatch finishes a successful voucher exchange in one transaction:
// the submitted receipts are deleted, the collected fees land on the
// allocation summary, and the voucher row is inserted. A pre-existing
// voucher for the same (allocation, network) wins; the fresh one is dropped.
func (s *Store) SettleBatch(ctx context.Context, voucher *vouchers.Voucher, receiptIDs []uint64, network string) error {
	ids := make([]int64, len(receiptIDs))
	for i, id := range receiptIDs {
		ids[i] = int64(id)
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		canonical := allocations.CanonicalHex(voucher.Allocation)
		if _, err := tx.Exec(ctx, `
			DELETE FROM allocation_receipts
			WHERE id = ANY($1) AND allocation = $2 AND protocol_network = $3`,
			ids, canonical, network); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO allocation_summaries (allocation, protocol_network, collected_fees)
			VALUES ($1, $2, $3::numeric)
			ON CONFLICT (allocation, protocol_network)
			DO UPDATE SET collected_fees = allocation_summaries.collected_fees + EXCLUDED.collected_fees`,
			canonical, network, voucher.Amount.String()); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO vouchers (allocation, amount, signature, protocol_network)
			VALUES ($1, $2::numeric, $3, $4)
			ON CONFLICT (allocation, protocol_network) DO NOTHING`,
			canonical, voucher.Amount.String(), []byte(voucher.Signature), network)
		return err
	})
}

// querier lets receipt scans run against both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanReceipts(ctx context.Context, q querier, sql string, args ...any) ([]*receipts.Receipt, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*receipts.Receipt
	for rows.Next() {
		var (
			r          receipts.Receipt
			id         int64
			allocation string
			fees       string
		)
		if err := rows.Scan(&id, &r.Signer, &allocation, &fees, &r.Signature, &r.ProtocolNetwork); err != nil {
			return nil, err
		}
		r.ID = uint64(id)
		if r.Allocation, err = allocations.ParseID(allocation); err != nil {
			return nil, err
		}
		if r.Fees, err = numericToBig(fees); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
