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
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/graphprotocol/indexer-go/rules"
)

// ErrNotFound is returned by point lookups with no matching row.
var ErrNotFound = errors.New("store: not found")

const ruleColumns = `identifier, identifier_type, protocol_network,
	allocation_amount::text, allocation_lifetime, auto_renewal, parallel_allocations,
	max_allocation_percentage, min_signal::text, max_signal::text, min_stake::text,
	min_average_query_fees::text, custom, decision_basis, require_supported, safety`

// SetIndexingRule upserts one rule row keyed by (identifier, network).
func (s *Store) SetIndexingRule(ctx context.Context, r *rules.Rule) error {
	var basis *string
	if r.DecisionBasis != nil {
		v := string(*r.DecisionBasis)
		basis = &v
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO "IndexingRules" (identifier, identifier_type, protocol_network,
			allocation_amount, allocation_lifetime, auto_renewal, parallel_allocations,
			max_allocation_percentage, min_signal, max_signal, min_stake,
			min_average_query_fees, custom, decision_basis, require_supported, safety)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9::numeric, $10::numeric,
			$11::numeric, $12::numeric, $13, $14, $15, $16)
		ON CONFLICT (identifier, protocol_network) DO UPDATE SET
			identifier_type = EXCLUDED.identifier_type,
			allocation_amount = EXCLUDED.allocation_amount,
			allocation_lifetime = EXCLUDED.allocation_lifetime,
			auto_renewal = EXCLUDED.auto_renewal,
			parallel_allocations = EXCLUDED.parallel_allocations,
			max_allocation_percentage = EXCLUDED.max_allocation_percentage,
			min_signal = EXCLUDED.min_signal,
			max_signal = EXCLUDED.max_signal,
			min_stake = EXCLUDED.min_stake,
			min_average_query_fees = EXCLUDED.min_average_query_fees,
			custom = EXCLUDED.custom,
			decision_basis = EXCLUDED.decision_basis,
			require_supported = EXCLUDED.require_supported,
			safety = EXCLUDED.safety`,
		r.Identifier, r.IdentifierType, r.ProtocolNetwork,
		bigString(r.AllocationAmount), r.AllocationLifetime, r.AutoRenewal, r.ParallelAllocations,
		r.MaxAllocationPercentage, bigString(r.MinSignal), bigString(r.MaxSignal), bigString(r.MinStake),
		bigString(r.MinAverageQueryFees), r.Custom, basis, r.RequireSupported, r.Safety)
	return err
}

// IndexingRule loads one rule. When merged is true the deployment rule is
// merged with the network's global rule before being returned.
func (s *Store) IndexingRule(ctx context.Context, identifier, network string, merged bool) (*rules.Rule, error) {
	local, err := s.indexingRule(ctx, identifier, network)
	if err != nil && !(merged && errors.Is(err, ErrNotFound)) {
		return nil, err
	}
	if !merged || identifier == rules.GlobalIdentifier {
		return local, nil
	}
	global, err := s.indexingRule(ctx, rules.GlobalIdentifier, network)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if local == nil && global == nil {
		return nil, ErrNotFound
	}
	return rules.Merge(local, global), nil
}

// DeleteIndexingRule removes one rule row.
func (s *Store) DeleteIndexingRule(ctx context.Context, identifier, network string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM "IndexingRules" WHERE identifier = $1 AND protocol_network = $2`,
		identifier, network)
	return err
}

// IndexingRules returns all rules for the network.
func (s *Store) IndexingRules(ctx context.Context, network string) ([]*rules.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ruleColumns+` FROM "IndexingRules" WHERE protocol_network = $1
		ORDER BY identifier`, network)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*rules.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) indexingRule(ctx context.Context, identifier, network string) (*rules.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ruleColumns+` FROM "IndexingRules"
		WHERE identifier = $1 AND protocol_network = $2`, identifier, network)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanRule(rows)
}

func scanRule(rows pgx.Rows) (*rules.Rule, error) {
	var (
		r     rules.Rule
		amount, minSignal, maxSignal, minStake, minFees *string
		basis *string
	)
	if err := rows.Scan(&r.Identifier, &r.IdentifierType, &r.ProtocolNetwork,
		&amount, &r.AllocationLifetime, &r.AutoRenewal, &r.ParallelAllocations,
		&r.MaxAllocationPercentage, &minSignal, &maxSignal, &minStake,
		&minFees, &r.Custom, &basis, &r.RequireSupported, &r.Safety); err != nil {
		return nil, err
	}
	var err error
	if r.AllocationAmount, err = bigFromPtr(amount); err != nil {
		return nil, err
	}
	if r.MinSignal, err = bigFromPtr(minSignal); err != nil {
		return nil, err
	}
	if r.MaxSignal, err = bigFromPtr(maxSignal); err != nil {
		return nil, err
	}
	if r.MinStake, err = bigFromPtr(minStake); err != nil {
		return nil, err
	}
	if r.MinAverageQueryFees, err = bigFromPtr(minFees); err != nil {
		return nil, err
	}
	if basis != nil {
		b := rules.DecisionBasis(*basis)
		r.DecisionBasis = &b
	}
	return &r, nil
}

func bigString(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func bigFromPtr(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}
	return numericToBig(*s)
}
