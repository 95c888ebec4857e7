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

	"github.com/jackc/pgx/v5"
	"github.com/graphprotocol/indexer-go/allocations"
	"github.com/graphprotocol/indexer-go/vouchers"
)

// PendingVouchers returns up to limit unredeemed vouchers for the network,
// largest amounts first.
func (s *Store) PendingVouchers(ctx context.Context, network string, limit int) ([]*vouchers.Voucher, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT allocation, amount::text, signature
		FROM vouchers
		WHERE protocol_network = $1
		ORDER BY amount DESC
		LIMIT $2`, network, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*vouchers.Voucher
	for rows.Next() {
		var (
			v          vouchers.Voucher
			allocation string
			amount     string
		)
		if err := rows.Scan(&allocation, &amount, (*[]byte)(&v.Signature)); err != nil {
			return nil, err
		}
		if v.Allocation, err = allocations.ParseID(allocation); err != nil {
			return nil, err
		}
		value, err := numericToBig(amount)
		if err != nil {
			return nil, err
		}
		v.Amount = vouchers.NewAmount(value)
		v.ProtocolNetwork = network
		out = append(out, &v)
	}
	return out, rows.Err()
}

// DeleteVoucher drops a single voucher row, used when the contract reports
// the allocation redeemed elsewhere.
func (s *Store) DeleteVoucher(ctx context.Context, id allocations.ID, network string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM vouchers WHERE allocation = $1 AND protocol_network = $2`,
		allocations.CanonicalHex(id), network)
	return err
}

// MarkWithdrawn finishes a successful multi-redeem in one transaction: every
// voucher's amount is added to its summary's withdrawn fees and the voucher
// rows are deleted.
func (s *Store) MarkWithdrawn(ctx context.Context, batch []*vouchers.Voucher, network string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		ids := make([]string, 0, len(batch))
		for _, v := range batch {
			canonical := allocations.CanonicalHex(v.Allocation)
			if _, err := tx.Exec(ctx, `
				INSERT INTO allocation_summaries (allocation, protocol_network, withdrawn_fees)
				VALUES ($1, $2, $3::numeric)
				ON CONFLICT (allocation, protocol_network)
				DO UPDATE SET withdrawn_fees = allocation_summaries.withdrawn_fees + EXCLUDED.withdrawn_fees`,
				canonical, network, v.Amount.String()); err != nil {
				return err
			}
			ids = append(ids, canonical)
		}
		_, err := tx.Exec(ctx, `
			DELETE FROM vouchers WHERE allocation = ANY($1) AND protocol_network = $2`,
			ids, network)
		return err
	})
}
