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

// Package contracts wraps the on-chain surface the settlement core consumes:
// the AllocationExchange for legacy vouchers, the TAP escrow for RAVs, and
// the transaction manager that estimates, submits and awaits the
// transactions they produce.
package contracts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// DefaultTxTimeout bounds gas estimation, submission and the receipt wait
// for one transaction.
const DefaultTxTimeout = 2 * time.Minute

var (
	// ErrContractPaused is a rejection because the contract is paused;
	// vouchers are retained and retried once the pause lifts.
	ErrContractPaused = errors.New("contract is paused")

	// ErrContractUnauthorized is a rejection of the submitting account.
	ErrContractUnauthorized = errors.New("sender not authorized")

	// ErrTxReverted means the transaction was mined but failed.
	ErrTxReverted = errors.New("transaction reverted")

	// ErrEventNotFound is returned by FindEvent when a receipt carries no
	// log of the requested event.
	ErrEventNotFound = errors.New("event not found in receipt")
)

// Backend is the chain access the manager needs; *ethclient.Client and the
// simulated backend both satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// TxManager submits contract transactions and awaits their receipts under a
// per-transaction timeout.
type TxManager struct {
	backend Backend
	opts    *bind.TransactOpts
	timeout time.Duration
	logger  log.Logger

	events abi.ABI
}

// NewTxManager builds a manager signing with opts.
func NewTxManager(backend Backend, opts *bind.TransactOpts, timeout time.Duration, logger log.Logger) (*TxManager, error) {
	events, err := abi.JSON(strings.NewReader(stakingEventsABI))
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTxTimeout
	}
	if logger == nil {
		logger = log.Root()
	}
	return &TxManager{
		backend: backend,
		opts:    opts,
		timeout: timeout,
		logger:  logger.New("component", "txmgr"),
		events:  events,
	}, nil
}

// transactor returns TransactOpts bound to a timeout context.
func (m *TxManager) transactor(ctx context.Context) (*bind.TransactOpts, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	opts := *m.opts
	opts.Context = ctx
	return &opts, cancel
}

// submit runs one contract write through gas estimation, submission and the
// mined-receipt wait, classifying rejections.
func (m *TxManager) submit(ctx context.Context, call func(*bind.TransactOpts) (*types.Transaction, error)) (*types.Receipt, error) {
	opts, cancel := m.transactor(ctx)
	defer cancel()

	tx, err := call(opts)
	if err != nil {
		return nil, classifyRejection(err)
	}
	m.logger.Debug("Submitted transaction", "hash", tx.Hash(), "nonce", tx.Nonce())

	receipt, err := bind.WaitMined(opts.Context, m.backend, tx)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, ErrTxReverted
	}
	return receipt, nil
}

// classifyRejection maps revert reasons onto the two rejection sentinels the
// redemption engine treats specially.
func classifyRejection(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "paused"):
		return ErrContractPaused
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "caller must be the asset holder"):
		return ErrContractUnauthorized
	default:
		return err
	}
}

// FindEvent unpacks the first log of the named staking event from a receipt.
func (m *TxManager) FindEvent(name string, receipt *types.Receipt) (map[string]interface{}, error) {
	ev, ok := m.events.Events[name]
	if !ok {
		return nil, ErrEventNotFound
	}
	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
			continue
		}
		out := make(map[string]interface{})
		if len(lg.Data) > 0 {
			if err := m.events.UnpackIntoMap(out, name, lg.Data); err != nil {
				return nil, err
			}
		}
		if err := abi.ParseTopicsIntoMap(out, indexedArgs(ev), lg.Topics[1:]); err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, ErrEventNotFound
}

func indexedArgs(ev abi.Event) abi.Arguments {
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
