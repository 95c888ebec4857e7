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

package receipts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/graphprotocol/indexer-go/allocations"
)

// Batch wire layout: a 20-byte allocation id followed by one fixed-size
// record per receipt.
const (
	feeSlotLength    = 33 // fees up to 2^264-1
	idSlotLength     = 14
	recordLength     = feeSlotLength + idSlotLength + SignatureLength
	allocationLength = 20

	// MaxReceiptsPerEncode is the largest batch the encoder accepts in one
	// call. Larger receipt sets go through the partial-voucher flow in
	// chunks of this size.
	MaxReceiptsPerEncode = 25_000
)

var (
	ErrEmptyBatch        = errors.New("receipt batch is empty")
	ErrBatchTooLarge     = fmt.Errorf("receipt batch exceeds %d receipts", MaxReceiptsPerEncode)
	ErrMixedAllocations  = errors.New("receipt batch spans multiple allocations")
	ErrFeeTooLarge       = errors.New("receipt fee exceeds 2^264-1")
	ErrTruncatedEncoding = errors.New("truncated receipt batch encoding")
)

// EncodeBatch packs a batch of receipts belonging to one allocation into the
// gateway submission format: the allocation id, then for each receipt the
// zero-padded big-endian fee, the receipt id and the signature.
func EncodeBatch(batch []*Receipt) ([]byte, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(batch) > MaxReceiptsPerEncode {
		return nil, ErrBatchTooLarge
	}
	allocation := batch[0].Allocation
	out := make([]byte, allocationLength+recordLength*len(batch))
	copy(out, allocation.Bytes())

	offset := allocationLength
	for _, receipt := range batch {
		if receipt.Allocation != allocation {
			return nil, ErrMixedAllocations
		}
		if receipt.Fees == nil || receipt.Fees.Sign() < 0 {
			return nil, ErrMissingFees
		}
		fee := receipt.Fees.Bytes()
		if len(fee) > feeSlotLength {
			return nil, ErrFeeTooLarge
		}
		if len(receipt.Signature) != SignatureLength {
			return nil, ErrInvalidSignature
		}
		// Left-pad the fee into its slot; unused prefix bytes stay zero.
		copy(out[offset+feeSlotLength-len(fee):], fee)
		offset += feeSlotLength
		binary.BigEndian.PutUint64(out[offset+idSlotLength-8:], receipt.ID)
		offset += idSlotLength
		copy(out[offset:], receipt.Signature)
		offset += SignatureLength
	}
	return out, nil
}

// DecodeBatch is the inverse of EncodeBatch. The gateway does the real
// decoding; this one backs tests and local tooling.
func DecodeBatch(data []byte) (allocations.ID, []*Receipt, error) {
	if len(data) < allocationLength || (len(data)-allocationLength)%recordLength != 0 {
		return allocations.ID{}, nil, ErrTruncatedEncoding
	}
	var allocation allocations.ID
	copy(allocation[:], data[:allocationLength])

	count := (len(data) - allocationLength) / recordLength
	batch := make([]*Receipt, 0, count)
	offset := allocationLength
	for i := 0; i < count; i++ {
		fees := new(big.Int).SetBytes(data[offset : offset+feeSlotLength])
		offset += feeSlotLength
		id := binary.BigEndian.Uint64(data[offset+idSlotLength-8 : offset+idSlotLength])
		offset += idSlotLength
		sig := make([]byte, SignatureLength)
		copy(sig, data[offset:offset+SignatureLength])
		offset += SignatureLength
		batch = append(batch, &Receipt{
			ID:         id,
			Allocation: allocation,
			Fees:       fees,
			Signature:  sig,
		})
	}
	return allocation, batch, nil
}
