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

package allocations

import (
	"bytes"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	ErrInvalidAllocationID = errors.New("invalid allocation id")
	ErrInvalidDeploymentID = errors.New("invalid subgraph deployment id")
)

// multihash prefix for sha2-256: function code 0x12, digest length 0x20.
var sha256MultihashPrefix = []byte{0x12, 0x20}

// DeploymentID is a subgraph deployment identifier: the 32-byte sha2-256
// digest inside the deployment's IPFS multihash. It renders as "Qm…" base58
// towards IPFS and as 0x-prefixed hex towards the chain.
type DeploymentID [32]byte

// ParseDeploymentID accepts either the base58 "Qm…" IPFS form or the
// 0x-prefixed 32-byte hex form.
func ParseDeploymentID(s string) (DeploymentID, error) {
	var d DeploymentID
	if strings.HasPrefix(s, "0x") {
		raw, err := hexutil.Decode(s)
		if err != nil || len(raw) != 32 {
			return d, ErrInvalidDeploymentID
		}
		copy(d[:], raw)
		return d, nil
	}
	raw := base58.Decode(s)
	if len(raw) != 34 || !bytes.HasPrefix(raw, sha256MultihashPrefix) {
		return d, ErrInvalidDeploymentID
	}
	copy(d[:], raw[2:])
	return d, nil
}

// IPFSHash returns the "Qm…" base58 rendering.
func (d DeploymentID) IPFSHash() string {
	return base58.Encode(d.Multihash())
}

// Multihash returns the full 34-byte multihash, prefix included. The key
// derivation path walks these bytes.
func (d DeploymentID) Multihash() []byte {
	return append(append([]byte{}, sha256MultihashPrefix...), d[:]...)
}

func (d DeploymentID) String() string {
	return hexutil.Encode(d[:])
}

// Hash returns the deployment id as a chain-side bytes32.
func (d DeploymentID) Hash() common.Hash {
	return common.BytesToHash(d[:])
}
