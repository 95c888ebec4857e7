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
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/graphprotocol/indexer-go/allocations"
	"github.com/graphprotocol/indexer-go/vouchers"
)

// UpsertRAV stores the latest aggregate voucher for one
// (allocation, sender) pair, bumping updated_at on replacement.
func (s *Store) UpsertRAV(ctx context.Context, rav *vouchers.RAV) error {
	raw, err := json.Marshal(rav.RAV)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO scalar_tap_ravs (allocation_id, sender_address, rav, final)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (allocation_id, sender_address)
		DO UPDATE SET rav = EXCLUDED.rav, final = EXCLUDED.final, updated_at = now()`,
		allocations.CanonicalHex(rav.AllocationID), allocations.CanonicalHex(rav.SenderAddress), raw, rav.Final)
	return err
}

// FinalRAVs returns every RAV marked final; only those are eligible for
// redemption.
func (s *Store) FinalRAVs(ctx context.Context) ([]*vouchers.RAV, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT allocation_id, sender_address, rav, final, created_at, updated_at
		FROM scalar_tap_ravs
		WHERE final = TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*vouchers.RAV
	for rows.Next() {
		var (
			rav                  vouchers.RAV
			allocationID, sender string
			raw                  []byte
		)
		if err := rows.Scan(&allocationID, &sender, &raw, &rav.Final, &rav.CreatedAt, &rav.UpdatedAt); err != nil {
			return nil, err
		}
		if rav.AllocationID, err = allocations.ParseID(allocationID); err != nil {
			return nil, err
		}
		if rav.SenderAddress, err = allocations.ParseID(sender); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &rav.RAV); err != nil {
			return nil, err
		}
		out = append(out, &rav)
	}
	return out, rows.Err()
}

// SettleRAV finishes a successful escrow redemption in one transaction: the
// aggregate value is added to the summary's withdrawn fees and the local RAV
// row is deleted.
func (s *Store) SettleRAV(ctx context.Context, rav *vouchers.RAV, network string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		canonical := allocations.CanonicalHex(rav.AllocationID)
		if _, err := tx.Exec(ctx, `
			INSERT INTO allocation_summaries (allocation, protocol_network, withdrawn_fees)
			VALUES ($1, $2, $3::numeric)
			ON CONFLICT (allocation, protocol_network)
			DO UPDATE SET withdrawn_fees = allocation_summaries.withdrawn_fees + EXCLUDED.withdrawn_fees`,
			canonical, network, rav.RAV.Message.ValueAggregate.String()); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			DELETE FROM scalar_tap_ravs
			WHERE allocation_id = $1 AND sender_address = $2`,
			canonical, allocations.CanonicalHex(rav.SenderAddress))
		return err
	})
}
