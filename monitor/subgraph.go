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

package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/graphprotocol/indexer-go/allocations"
)

// NetworkSubgraph is the default SubgraphClient: a GraphQL POST client
// against the protocol's network subgraph.
type NetworkSubgraph struct {
	url     string
	indexer common.Address
	client  *http.Client
}

// NewNetworkSubgraph builds a client querying the given indexer's
// allocations.
func NewNetworkSubgraph(url string, indexer common.Address, timeout time.Duration) *NetworkSubgraph {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NetworkSubgraph{
		url:     url,
		indexer: indexer,
		client:  &http.Client{Timeout: timeout},
	}
}

const currentEpochQuery = `{ graphNetworks(first: 1) { currentEpoch } }`

const allocationsQuery = `query ($indexer: String!, $status: AllocationStatus!, $minClosedEpoch: Int!, $first: Int!, $skip: Int!) {
	allocations(
		where: { indexer: $indexer, status: $status, closedAtEpoch_gte: $minClosedEpoch }
		orderBy: id, orderDirection: asc, first: $first, skip: $skip
	) {
		id
		indexer { id }
		subgraphDeployment { id }
		createdAtEpoch
		closedAtEpoch
		status
	}
}`

// CurrentEpoch implements SubgraphClient.
func (c *NetworkSubgraph) CurrentEpoch(ctx context.Context) (uint64, error) {
	var out struct {
		GraphNetworks []struct {
			CurrentEpoch json.Number `json:"currentEpoch"`
		} `json:"graphNetworks"`
	}
	if err := c.query(ctx, currentEpochQuery, nil, &out); err != nil {
		return 0, err
	}
	if len(out.GraphNetworks) == 0 {
		return 0, fmt.Errorf("network subgraph has no graphNetworks entity")
	}
	return strconv.ParseUint(out.GraphNetworks[0].CurrentEpoch.String(), 10, 64)
}

// Allocations implements SubgraphClient.
func (c *NetworkSubgraph) Allocations(ctx context.Context, status allocations.Status, minClosedEpoch uint64, first, skip int) ([]*allocations.Allocation, error) {
	vars := map[string]interface{}{
		"indexer":        allocations.CanonicalHex(c.indexer),
		"status":         status.String(),
		"minClosedEpoch": minClosedEpoch,
		"first":          first,
		"skip":           skip,
	}
	var out struct {
		Allocations []struct {
			ID      string `json:"id"`
			Indexer struct {
				ID string `json:"id"`
			} `json:"indexer"`
			SubgraphDeployment struct {
				ID string `json:"id"`
			} `json:"subgraphDeployment"`
			CreatedAtEpoch json.Number `json:"createdAtEpoch"`
			ClosedAtEpoch  json.Number `json:"closedAtEpoch"`
			Status         string      `json:"status"`
		} `json:"allocations"`
	}
	if err := c.query(ctx, allocationsQuery, vars, &out); err != nil {
		return nil, err
	}

	result := make([]*allocations.Allocation, 0, len(out.Allocations))
	for _, raw := range out.Allocations {
		id, err := allocations.ParseID(raw.ID)
		if err != nil {
			return nil, err
		}
		indexer, err := allocations.ParseID(raw.Indexer.ID)
		if err != nil {
			return nil, err
		}
		deployment, err := allocations.ParseDeploymentID(raw.SubgraphDeployment.ID)
		if err != nil {
			return nil, err
		}
		alloc := &allocations.Allocation{
			ID:                 id,
			Indexer:            indexer,
			SubgraphDeployment: deployment,
			Status:             status,
		}
		if alloc.CreatedAtEpoch, err = strconv.ParseUint(raw.CreatedAtEpoch.String(), 10, 64); err != nil {
			return nil, err
		}
		if raw.ClosedAtEpoch.String() != "" {
			if alloc.ClosedAtEpoch, err = strconv.ParseUint(raw.ClosedAtEpoch.String(), 10, 64); err != nil {
				return nil, err
			}
		}
		result = append(result, alloc)
	}
	return result, nil
}

func (c *NetworkSubgraph) query(ctx context.Context, query string, vars map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": vars,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("network subgraph returned status %d: %s", resp.StatusCode, data)
	}
	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("network subgraph query failed: %s", envelope.Errors[0].Message)
	}
	return json.Unmarshal(envelope.Data, out)
}
