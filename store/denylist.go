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

	"github.com/graphprotocol/indexer-go/allocations"
)

// DenySender adds a TAP sender to the denylist. The insert trigger notifies
// receipt consumers so they can drop the sender's unaggregated receipts.
func (s *Store) DenySender(ctx context.Context, sender allocations.ID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scalar_tap_denylist (sender_address)
		VALUES ($1)
		ON CONFLICT (sender_address) DO NOTHING`,
		allocations.CanonicalHex(sender))
	return err
}

// AllowSender removes a TAP sender from the denylist.
func (s *Store) AllowSender(ctx context.Context, sender allocations.ID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM scalar_tap_denylist WHERE sender_address = $1`,
		allocations.CanonicalHex(sender))
	return err
}

// DeniedSenders returns the current denylist.
func (s *Store) DeniedSenders(ctx context.Context) ([]allocations.ID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sender_address FROM scalar_tap_denylist ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []allocations.ID
	for rows.Next() {
		var sender string
		if err := rows.Scan(&sender); err != nil {
			return nil, err
		}
		id, err := allocations.ParseID(sender)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
