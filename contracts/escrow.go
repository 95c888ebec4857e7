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

package contracts

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/graphprotocol/indexer-go/vouchers"
)

// ravMessage mirrors the escrow's RAV tuple layout.
type ravMessage struct {
	AllocationId   common.Address
	TimestampNs    uint64
	ValueAggregate *big.Int
}

// signedRAV mirrors the escrow's signed-RAV tuple layout.
type signedRAV struct {
	Message   ravMessage
	Signature []byte
}

// Escrow wraps the TAP escrow contract RAVs are redeemed against.
type Escrow struct {
	contract *bind.BoundContract
	mgr      *TxManager
}

// NewEscrow binds the escrow contract at addr.
func NewEscrow(addr common.Address, backend Backend, mgr *TxManager) (*Escrow, error) {
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, err
	}
	return &Escrow{
		contract: bind.NewBoundContract(addr, parsed, backend, backend, backend),
		mgr:      mgr,
	}, nil
}

// Redeem submits one RAV with its allocation-id proof and waits for the
// transaction to be mined.
func (e *Escrow) Redeem(ctx context.Context, rav *vouchers.SignedRAV, proof []byte) (*types.Receipt, error) {
	arg := signedRAV{
		Message: ravMessage{
			AllocationId:   rav.Message.AllocationID,
			TimestampNs:    rav.Message.TimestampNs,
			ValueAggregate: rav.Message.ValueAggregate.Int,
		},
		Signature: rav.Signature,
	}
	return e.mgr.submit(ctx, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return e.contract.Transact(opts, "redeem", arg, proof)
	})
}
