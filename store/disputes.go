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

	"github.com/graphprotocol/indexer-go/allocations"
)

// POIDispute records a proof-of-indexing mismatch observed for a closed
// allocation. Pure data shape; the dispute workflow lives outside the core.
type POIDispute struct {
	AllocationID                allocations.ID
	SubgraphDeploymentID        string
	AllocationIndexer           string
	AllocationAmount            *big.Int
	AllocationProof             string
	ClosedEpoch                 int
	ClosedEpochReferenceProof   *string
	PreviousEpochReferenceProof *string
	Status                      string
	ProtocolNetwork             string
}

// UpsertPOIDispute stores or refreshes one dispute row.
func (s *Store) UpsertPOIDispute(ctx context.Context, d *POIDispute) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO poi_disputes (allocation_id, subgraph_deployment_id, allocation_indexer,
			allocation_amount, allocation_proof, closed_epoch,
			closed_epoch_reference_proof, previous_epoch_reference_proof, status, protocol_network)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (allocation_id, protocol_network) DO UPDATE SET
			status = EXCLUDED.status,
			closed_epoch_reference_proof = EXCLUDED.closed_epoch_reference_proof,
			previous_epoch_reference_proof = EXCLUDED.previous_epoch_reference_proof`,
		allocations.CanonicalHex(d.AllocationID), d.SubgraphDeploymentID, d.AllocationIndexer,
		d.AllocationAmount.String(), d.AllocationProof, d.ClosedEpoch,
		d.ClosedEpochReferenceProof, d.PreviousEpochReferenceProof, d.Status, d.ProtocolNetwork)
	return err
}

// POIDisputes lists the disputes recorded for a network.
func (s *Store) POIDisputes(ctx context.Context, network string) ([]*POIDispute, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT allocation_id, subgraph_deployment_id, allocation_indexer,
			allocation_amount::text, allocation_proof, closed_epoch,
			closed_epoch_reference_proof, previous_epoch_reference_proof, status, protocol_network
		FROM poi_disputes
		WHERE protocol_network = $1
		ORDER BY closed_epoch`, network)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*POIDispute
	for rows.Next() {
		var (
			d            POIDispute
			allocationID string
			amount       string
		)
		if err := rows.Scan(&allocationID, &d.SubgraphDeploymentID, &d.AllocationIndexer,
			&amount, &d.AllocationProof, &d.ClosedEpoch,
			&d.ClosedEpochReferenceProof, &d.PreviousEpochReferenceProof, &d.Status, &d.ProtocolNetwork); err != nil {
			return nil, err
		}
		if d.AllocationID, err = allocations.ParseID(allocationID); err != nil {
			return nil, err
		}
		if d.AllocationAmount, err = numericToBig(amount); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
