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

// Package receipts models the per-query micropayment receipts issued by
// gateways and their wire encoding for bulk submission.
package receipts

import (
	"errors"
	"math/big"

	"github.com/graphprotocol/indexer-go/allocations"
)

// SignatureLength is the size of a gateway receipt signature (r ‖ s ‖ v).
const SignatureLength = 65

var (
	ErrInvalidSignature = errors.New("receipt signature must be 65 bytes")
	ErrMissingFees      = errors.New("receipt fees missing or negative")
)

// Receipt is a single signed micropayment attestation tying a fee to an
// allocation. Rows live in allocation_receipts until their batch is exchanged
// for a voucher.
type Receipt struct {
	ID              uint64
	Signer          string
	Allocation      allocations.ID
	Fees            *big.Int
	Signature       []byte
	ProtocolNetwork string
}

// Validate checks the intake-layer shape constraints. A receipt failing them
// is surfaced to the caller and never queued.
func (r *Receipt) Validate() error {
	if len(r.Signature) != SignatureLength {
		return ErrInvalidSignature
	}
	if r.Fees == nil || r.Fees.Sign() < 0 {
		return ErrMissingFees
	}
	return nil
}

// TapReceipt is the successor receipt family delivered by TAP senders as
// opaque signed JSON, tracked in scalar_tap_receipts.
type TapReceipt struct {
	ID            uint64
	AllocationID  allocations.ID
	SenderAddress allocations.ID
	TimestampNs   uint64
	Value         *big.Int
	Receipt       []byte // raw signed receipt JSON
}
