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

// Package allocations models the indexer's on-chain allocations and the HD
// key material tied to them. An allocation identity is an Ethereum address
// derived from the indexer's mnemonic; checksum-cased externally and
// lowercase 40-hex in the database.
package allocations

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ID identifies an allocation: the address of its derived signing key.
type ID = common.Address

// Status is the lifecycle state of an allocation as reported by the network
// subgraph.
type Status int

const (
	StatusActive Status = iota
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Allocation is the slice of subgraph-reported allocation state the
// settlement core needs.
type Allocation struct {
	ID                 ID
	Indexer            common.Address
	SubgraphDeployment DeploymentID
	CreatedAtEpoch     uint64
	ClosedAtEpoch      uint64
	Status             Status
}

// CanonicalHex returns the database form of an allocation id: lowercase
// 40-hex without the 0x prefix.
func CanonicalHex(id ID) string {
	return strings.ToLower(id.Hex()[2:])
}

// ParseID parses an allocation id from either checksum-cased or lowercase
// hex, with or without the 0x prefix.
func ParseID(s string) (ID, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	if !common.IsHexAddress(s) {
		return ID{}, ErrInvalidAllocationID
	}
	return common.HexToAddress(s), nil
}
