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

package redeemer

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/graphprotocol/indexer-go/allocations"
	"github.com/graphprotocol/indexer-go/contracts"
	"github.com/graphprotocol/indexer-go/vouchers"
)

const testNetwork = "eip155:1"

func voucher(addr string, amount int64) *vouchers.Voucher {
	return &vouchers.Voucher{
		Allocation:      common.HexToAddress(addr),
		Amount:          vouchers.NewAmount(big.NewInt(amount)),
		Signature:       []byte{0x01},
		ProtocolNetwork: testNetwork,
	}
}

type fakeVoucherDB struct {
	pending   []*vouchers.Voucher
	deleted   []allocations.ID
	withdrawn []*vouchers.Voucher
}

func (db *fakeVoucherDB) PendingVouchers(ctx context.Context, network string, limit int) ([]*vouchers.Voucher, error) {
	if len(db.pending) > limit {
		return db.pending[:limit], nil
	}
	return db.pending, nil
}

func (db *fakeVoucherDB) DeleteVoucher(ctx context.Context, id allocations.ID, network string) error {
	db.deleted = append(db.deleted, id)
	return nil
}

func (db *fakeVoucherDB) MarkWithdrawn(ctx context.Context, batch []*vouchers.Voucher, network string) error {
	db.withdrawn = append(db.withdrawn, batch...)
	return nil
}

type fakeExchange struct {
	redeemed  map[allocations.ID]bool
	submitted [][]contracts.RedeemableVoucher
	redeemErr error
}

func (e *fakeExchange) AllocationsRedeemed(ctx context.Context, allocation allocations.ID) (bool, error) {
	return e.redeemed[allocation], nil
}

func (e *fakeExchange) RedeemMany(ctx context.Context, batch []contracts.RedeemableVoucher) (*types.Receipt, error) {
	if e.redeemErr != nil {
		return nil, e.redeemErr
	}
	e.submitted = append(e.submitted, batch)
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

// Threshold gate: vouchers [30 20 10] with threshold 15 and batch threshold
// 40 redeem [30 20]; the 10 stays behind as below-threshold.
func TestVoucherThresholdGate(t *testing.T) {
	db := &fakeVoucherDB{pending: []*vouchers.Voucher{
		voucher("0x0000000000000000000000000000000000000030", 30),
		voucher("0x0000000000000000000000000000000000000020", 20),
		voucher("0x0000000000000000000000000000000000000010", 10),
	}}
	exchange := &fakeExchange{redeemed: map[allocations.ID]bool{}}
	r := NewVoucher(Config{
		ProtocolNetwork: testNetwork,
		Threshold:       big.NewInt(15),
		BatchThreshold:  big.NewInt(40),
	}, db, exchange, nil)

	if err := r.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if len(exchange.submitted) != 1 {
		t.Fatalf("submit count mismatch: %d", len(exchange.submitted))
	}
	batch := exchange.submitted[0]
	if len(batch) != 2 || batch[0].Amount.Int64() != 30 || batch[1].Amount.Int64() != 20 {
		t.Fatalf("batch mismatch: %+v", batch)
	}
	if len(db.withdrawn) != 2 {
		t.Fatalf("withdrawn count mismatch: %d", len(db.withdrawn))
	}
	if len(db.deleted) != 0 {
		t.Fatalf("below-threshold voucher must remain: deleted %v", db.deleted)
	}
}

// Below the batch threshold nothing is submitted and nothing changes.
func TestVoucherBatchThresholdHolds(t *testing.T) {
	db := &fakeVoucherDB{pending: []*vouchers.Voucher{
		voucher("0x0000000000000000000000000000000000000030", 30),
	}}
	exchange := &fakeExchange{redeemed: map[allocations.ID]bool{}}
	r := NewVoucher(Config{
		ProtocolNetwork: testNetwork,
		Threshold:       big.NewInt(1),
		BatchThreshold:  big.NewInt(40),
	}, db, exchange, nil)

	if err := r.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if len(exchange.submitted) != 0 || len(db.withdrawn) != 0 {
		t.Fatal("nothing should be submitted below the batch threshold")
	}
}

// A voucher already redeemed on-chain is deleted locally without any
// transaction.
func TestVoucherRedeemedElsewhere(t *testing.T) {
	target := common.HexToAddress("0xBBBB000000000000000000000000000000000000")
	db := &fakeVoucherDB{pending: []*vouchers.Voucher{
		{Allocation: target, Amount: vouchers.NewAmount(big.NewInt(100)), ProtocolNetwork: testNetwork},
	}}
	exchange := &fakeExchange{redeemed: map[allocations.ID]bool{target: true}}
	r := NewVoucher(Config{ProtocolNetwork: testNetwork}, db, exchange, nil)

	if err := r.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if len(db.deleted) != 1 || db.deleted[0] != target {
		t.Fatalf("deleted mismatch: %v", db.deleted)
	}
	if len(exchange.submitted) != 0 {
		t.Fatal("no transaction may be submitted for a redeemed allocation")
	}
}

// Contract rejections keep the vouchers; a paused contract is not an error.
func TestVoucherContractRejection(t *testing.T) {
	for _, rejection := range []error{contracts.ErrContractPaused, contracts.ErrContractUnauthorized} {
		db := &fakeVoucherDB{pending: []*vouchers.Voucher{
			voucher("0x0000000000000000000000000000000000000030", 100),
		}}
		exchange := &fakeExchange{redeemed: map[allocations.ID]bool{}, redeemErr: rejection}
		r := NewVoucher(Config{ProtocolNetwork: testNetwork, BatchThreshold: big.NewInt(1)}, db, exchange, nil)

		if err := r.tick(context.Background()); err != nil {
			t.Fatalf("rejection %v should not fail the tick: %v", rejection, err)
		}
		if len(db.withdrawn) != 0 || len(db.deleted) != 0 {
			t.Fatalf("rejected redeem must not mutate state: %+v", db)
		}
	}

	// Generic failures surface as tick errors, also without mutation.
	db := &fakeVoucherDB{pending: []*vouchers.Voucher{
		voucher("0x0000000000000000000000000000000000000030", 100),
	}}
	exchange := &fakeExchange{redeemed: map[allocations.ID]bool{}, redeemErr: errors.New("nonce too low")}
	r := NewVoucher(Config{ProtocolNetwork: testNetwork, BatchThreshold: big.NewInt(1)}, db, exchange, nil)
	if err := r.tick(context.Background()); err == nil {
		t.Fatal("generic chain failure should surface")
	}
	if len(db.withdrawn) != 0 {
		t.Fatal("failed redeem must not mark vouchers withdrawn")
	}
}

type fakeRAVDB struct {
	ravs    []*vouchers.RAV
	settled []*vouchers.RAV
}

func (db *fakeRAVDB) FinalRAVs(ctx context.Context) ([]*vouchers.RAV, error) {
	var out []*vouchers.RAV
	for _, rav := range db.ravs {
		if rav.Final {
			out = append(out, rav)
		}
	}
	return out, nil
}

func (db *fakeRAVDB) SettleRAV(ctx context.Context, rav *vouchers.RAV, network string) error {
	db.settled = append(db.settled, rav)
	return nil
}

type fakeEscrow struct {
	redeems []struct {
		rav   *vouchers.SignedRAV
		proof []byte
	}
}

func (e *fakeEscrow) Redeem(ctx context.Context, rav *vouchers.SignedRAV, proof []byte) (*types.Receipt, error) {
	e.redeems = append(e.redeems, struct {
		rav   *vouchers.SignedRAV
		proof []byte
	}{rav, proof})
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

type staticAllocations []*allocations.Allocation

func (s staticAllocations) Get() ([]*allocations.Allocation, bool) { return s, len(s) > 0 }

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testRAV(allocation allocations.ID, value int64, final bool) *vouchers.RAV {
	return &vouchers.RAV{
		AllocationID:  allocation,
		SenderAddress: common.HexToAddress("0x00000000000000000000000000000000000000AA"),
		Final:         final,
		RAV: vouchers.SignedRAV{
			Message: vouchers.RAVMessage{
				AllocationID:   allocation,
				TimestampNs:    1,
				ValueAggregate: vouchers.NewAmount(big.NewInt(value)),
			},
			Signature: []byte{0x05},
		},
	}
}

// Only final RAVs above the threshold are redeemed, with a proof whose
// keccak(indexer ‖ allocation) signature recovers to the allocation key.
func TestRAVFinalityAndProof(t *testing.T) {
	deployment, err := allocations.ParseDeploymentID("QmWmyoMoctfbAaiEs2G46gpeUmhqFRDW6KWo64y5r581Vz")
	if err != nil {
		t.Fatalf("Failed to parse deployment: %v", err)
	}
	_, id, err := allocations.DeriveKeyPair(testMnemonic, 4, deployment, 0)
	if err != nil {
		t.Fatalf("Failed to derive allocation key: %v", err)
	}
	indexer := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	alloc := &allocations.Allocation{
		ID:                 id,
		Indexer:            indexer,
		SubgraphDeployment: deployment,
		CreatedAtEpoch:     4,
	}

	db := &fakeRAVDB{ravs: []*vouchers.RAV{
		testRAV(id, 500, true),
		testRAV(common.HexToAddress("0x00000000000000000000000000000000000000BB"), 500, false),
	}}
	escrow := &fakeEscrow{}
	r := NewRAV(Config{ProtocolNetwork: testNetwork, Threshold: big.NewInt(100)},
		db, escrow, staticAllocations{alloc}, indexer, testMnemonic, nil)

	if err := r.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if len(escrow.redeems) != 1 {
		t.Fatalf("redeem count mismatch: %d", len(escrow.redeems))
	}
	redeem := escrow.redeems[0]
	if redeem.rav.Message.AllocationID != id {
		t.Errorf("redeemed wrong RAV: %s", redeem.rav.Message.AllocationID.Hex())
	}
	digest := crypto.Keccak256(indexer.Bytes(), id.Bytes())
	pub, err := crypto.SigToPub(digest, redeem.proof)
	if err != nil {
		t.Fatalf("Failed to recover proof signer: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != id {
		t.Errorf("proof signer mismatch: have %s want %s", crypto.PubkeyToAddress(*pub).Hex(), id.Hex())
	}
	if len(db.settled) != 1 || db.settled[0].AllocationID != id {
		t.Errorf("RAV not settled locally: %+v", db.settled)
	}
}

func TestRAVBelowThresholdSkipped(t *testing.T) {
	id := common.HexToAddress("0x00000000000000000000000000000000000000CC")
	db := &fakeRAVDB{ravs: []*vouchers.RAV{testRAV(id, 50, true)}}
	escrow := &fakeEscrow{}
	r := NewRAV(Config{ProtocolNetwork: testNetwork, Threshold: big.NewInt(100)},
		db, escrow, staticAllocations{}, common.Address{}, testMnemonic, nil)

	if err := r.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if len(escrow.redeems) != 0 || len(db.settled) != 0 {
		t.Fatal("below-threshold RAV must be skipped")
	}
}

func TestRAVUnknownAllocation(t *testing.T) {
	id := common.HexToAddress("0x00000000000000000000000000000000000000DD")
	db := &fakeRAVDB{ravs: []*vouchers.RAV{testRAV(id, 500, true)}}
	escrow := &fakeEscrow{}
	r := NewRAV(Config{ProtocolNetwork: testNetwork, Threshold: big.NewInt(100)},
		db, escrow, staticAllocations{}, common.Address{}, testMnemonic, nil)

	err := r.tick(context.Background())
	if !errors.Is(err, ErrAllocationNotFound) {
		t.Fatalf("error mismatch: have %v want %v", err, ErrAllocationNotFound)
	}
	if len(escrow.redeems) != 0 {
		t.Fatal("no redeem may be submitted without a local allocation")
	}
}
