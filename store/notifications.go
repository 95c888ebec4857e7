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
	"encoding/json"
	"fmt"
	"math/big"
)

// ReceiptNotification is the payload of the TAP receipt channel. Value can
// exceed 64 bits, so it rides as a raw JSON number.
type ReceiptNotification struct {
	ID            uint64   `json:"id"`
	AllocationID  string   `json:"allocation_id"`
	SenderAddress string   `json:"sender_address"`
	TimestampNs   uint64   `json:"timestamp_ns"`
	Value         *big.Int `json:"-"`
}

func (n *ReceiptNotification) UnmarshalJSON(data []byte) error {
	type alias ReceiptNotification
	aux := struct {
		*alias
		Value json.Number `json:"value"`
	}{alias: (*alias)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	v, ok := new(big.Int).SetString(aux.Value.String(), 10)
	if !ok {
		return fmt.Errorf("malformed receipt notification value %q", aux.Value)
	}
	n.Value = v
	return nil
}

// DenyNotification is the payload of the denylist channel. SenderAddress is
// nil for unexpected operations (updates), telling consumers to rebuild
// rather than patch.
type DenyNotification struct {
	TgOp          string  `json:"tg_op"`
	SenderAddress *string `json:"sender_address"`
}

// CostModelNotification is the payload of the cost-model channel.
type CostModelNotification struct {
	TgOp       string `json:"tg_op"`
	Deployment string `json:"deployment"`
}

func parseReceiptNotification(payload string) (ReceiptNotification, error) {
	var n ReceiptNotification
	err := json.Unmarshal([]byte(payload), &n)
	return n, err
}

func parseDenyNotification(payload string) (DenyNotification, error) {
	var n DenyNotification
	err := json.Unmarshal([]byte(payload), &n)
	return n, err
}

func parseCostModelNotification(payload string) (CostModelNotification, error) {
	var n CostModelNotification
	err := json.Unmarshal([]byte(payload), &n)
	return n, err
}
