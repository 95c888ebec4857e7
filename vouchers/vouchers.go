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

// Package vouchers defines the aggregated payment artifacts the settlement
// core shuttles between the gateway, the database and the chain: legacy
// single-signed vouchers, partial vouchers and receipt aggregate vouchers.
package vouchers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/graphprotocol/indexer-go/allocations"
)

var errMalformedAmount = errors.New("malformed voucher amount")

// Amount is a uint256 fee total carried as a decimal string (or bare number)
// on the gateway wire.
type Amount struct {
	*big.Int
}

// NewAmount wraps v; a nil big.Int reads as zero.
func NewAmount(v *big.Int) Amount {
	if v == nil {
		v = new(big.Int)
	}
	return Amount{v}
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if a.Int == nil {
		return []byte(`"0"`), nil
	}
	return json.Marshal(a.Int.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Some gateways send bare JSON numbers.
		s = string(data)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return fmt.Errorf("%w: %q", errMalformedAmount, s)
	}
	a.Int = v
	return nil
}

// Voucher is a gateway-signed aggregation of one allocation's receipts,
// redeemable on-chain for the summed fees. One row per
// (allocation, protocol_network).
type Voucher struct {
	Allocation      allocations.ID `json:"allocation"`
	Amount          Amount         `json:"fees"`
	Signature       hexutil.Bytes  `json:"signature"`
	ProtocolNetwork string         `json:"-"`
}

// PartialVoucher covers a contiguous id range of one allocation's receipts.
// Partials from the large-batch flow are merged into a final Voucher by the
// gateway.
type PartialVoucher struct {
	Allocation   allocations.ID `json:"allocation"`
	Fees         Amount         `json:"fees"`
	Signature    hexutil.Bytes  `json:"signature"`
	ReceiptIDMin uint64         `json:"receipt_id_min"`
	ReceiptIDMax uint64         `json:"receipt_id_max"`
}

// RAVMessage is the signed payload of a receipt aggregate voucher.
type RAVMessage struct {
	AllocationID   allocations.ID `json:"allocationId"`
	TimestampNs    uint64         `json:"timestampNs"`
	ValueAggregate Amount         `json:"valueAggregate"`
}

// SignedRAV is a RAV message plus the sender's signature, stored as opaque
// JSON in scalar_tap_ravs.rav.
type SignedRAV struct {
	Message   RAVMessage    `json:"message"`
	Signature hexutil.Bytes `json:"signature"`
}

// RAV is one scalar_tap_ravs row. Only final RAVs are eligible for
// redemption.
type RAV struct {
	AllocationID  allocations.ID
	SenderAddress allocations.ID
	RAV           SignedRAV
	Final         bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
