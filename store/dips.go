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
	"math/big"
)

// DIPS receipt lifecycle states.
const (
	DipsPending   = "PENDING"
	DipsSubmitted = "SUBMITTED"
	DipsFailed    = "FAILED"
)

// DipsReceipt is one indexing-fee receipt issued under an indexing
// agreement.
type DipsReceipt struct {
	ID              int64
	AgreementID     string
	Amount          *big.Int
	Status          string
	TransactionHash *string
	RetryCount      int
}

// InsertDipsReceipt records a pending receipt against an agreement.
func (s *Store) InsertDipsReceipt(ctx context.Context, agreementID string, amount *big.Int) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO dips_receipts (agreement_id, amount)
		VALUES ($1, $2::numeric)
		RETURNING id`,
		agreementID, amount.String()).Scan(&id)
	return id, err
}

// MarkDipsReceiptSubmitted transitions PENDING → SUBMITTED, recording the
// transaction hash.
func (s *Store) MarkDipsReceiptSubmitted(ctx context.Context, id int64, txHash string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE dips_receipts
		SET status = $2, transaction_hash = $3
		WHERE id = $1 AND status = $4`,
		id, DipsSubmitted, txHash, DipsPending)
	return err
}

// MarkDipsReceiptFailed transitions PENDING → FAILED and bumps the retry
// counter.
func (s *Store) MarkDipsReceiptFailed(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE dips_receipts
		SET status = $2, retry_count = retry_count + 1
		WHERE id = $1 AND status = $3`,
		id, DipsFailed, DipsPending)
	return err
}

// PendingDipsReceipts lists receipts still awaiting submission.
func (s *Store) PendingDipsReceipts(ctx context.Context) ([]*DipsReceipt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, agreement_id, amount::text, status, transaction_hash, retry_count
		FROM dips_receipts
		WHERE status = $1
		ORDER BY id`, DipsPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DipsReceipt
	for rows.Next() {
		var (
			r      DipsReceipt
			amount string
		)
		if err := rows.Scan(&r.ID, &r.AgreementID, &amount, &r.Status, &r.TransactionHash, &r.RetryCount); err != nil {
			return nil, err
		}
		if r.Amount, err = numericToBig(amount); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
