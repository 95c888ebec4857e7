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
	"time"
)

// CostModel is one row of the CostModels view: the latest pricing model for
// a deployment. Model and Variables are nil when unset.
type CostModel struct {
	ID         int64
	Deployment string
	Model      *string
	Variables  []byte // jsonb
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SetCostModel appends a history row for the deployment; the view picks it
// up as the live model and the trigger broadcasts the change.
func (s *Store) SetCostModel(ctx context.Context, deployment string, model *string, variables []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO "CostModelsHistory" (deployment, model, variables)
		VALUES ($1, $2, $3)`,
		deployment, model, variables)
	return err
}

// DeleteCostModel removes a deployment's entire pricing history.
func (s *Store) DeleteCostModel(ctx context.Context, deployment string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM "CostModelsHistory" WHERE deployment = $1`, deployment)
	return err
}

// CostModels returns the live model per deployment; with no filter it
// returns all of them.
func (s *Store) CostModels(ctx context.Context, deployments []string) ([]*CostModel, error) {
	query := `SELECT id, deployment, model, variables, created_at, updated_at FROM "CostModels"`
	var args []any
	if len(deployments) > 0 {
		query += ` WHERE deployment = ANY($1)`
		args = append(args, deployments)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CostModel
	for rows.Next() {
		var m CostModel
		if err := rows.Scan(&m.ID, &m.Deployment, &m.Model, &m.Variables, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
