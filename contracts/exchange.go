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
)

// RedeemableVoucher is the redeemMany tuple: one allocation's gateway-signed
// fee total.
type RedeemableVoucher struct {
	AllocationID common.Address
	Amount       *big.Int
	Signature    []byte
}

// AllocationExchange wraps the voucher exchange contract.
type AllocationExchange struct {
	contract *bind.BoundContract
	mgr      *TxManager
}

// NewAllocationExchange binds the contract at addr.
func NewAllocationExchange(addr common.Address, backend Backend, mgr *TxManager) (*AllocationExchange, error) {
	parsed, err := abi.JSON(strings.NewReader(allocationExchangeABI))
	if err != nil {
		return nil, err
	}
	return &AllocationExchange{
		contract: bind.NewBoundContract(addr, parsed, backend, backend, backend),
		mgr:      mgr,
	}, nil
}

// AllocationsRedeemed reports whether the allocation's voucher was already
// redeemed on-chain, by this agent or anyone else.
func (e *AllocationExchange) AllocationsRedeemed(ctx context.Context, allocation common.Address) (bool, error) {
	var out []interface{}
	err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "allocationsRedeemed", allocation)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// RedeemMany submits one multi-redeem transaction for a batch of vouchers
// and waits for it to be mined.
func (e *AllocationExchange) RedeemMany(ctx context.Context, batch []RedeemableVoucher) (*types.Receipt, error) {
	return e.mgr.submit(ctx, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return e.contract.Transact(opts, "redeemMany", batch)
	})
}
