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
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	bip39 "github.com/tyler-smith/go-bip39"
)

// maxAllocationIndex bounds the number of parallel allocations per
// epoch/deployment pair and keeps brute-force signer recovery cheap.
const maxAllocationIndex = 100

var (
	// ErrExhaustedAllocationIndex means all derivation indices for an
	// epoch/deployment pair collide with existing allocations.
	ErrExhaustedAllocationIndex = errors.New("exhausted allocation index space")

	// ErrAllocationSignerNotFound means no derivation index in the creation
	// epoch or the one before it produces the allocation's address.
	ErrAllocationSignerNotFound = errors.New("allocation signer not found")
)

// deriveChild walks the HD path m / epoch / b_0 / … / b_n / index, where the
// b_i are the bytes of the deployment's IPFS multihash. All steps are
// non-hardened.
func deriveChild(master *hdkeychain.ExtendedKey, epoch uint64, deployment DeploymentID, index uint32) (*ecdsa.PrivateKey, error) {
	node, err := master.Derive(uint32(epoch))
	if err != nil {
		return nil, err
	}
	for _, b := range deployment.Multihash() {
		if node, err = node.Derive(uint32(b)); err != nil {
			return nil, err
		}
	}
	if node, err = node.Derive(index); err != nil {
		return nil, err
	}
	priv, err := node.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return priv.ToECDSA(), nil
}

func masterFromMnemonic(mnemonic string) (*hdkeychain.ExtendedKey, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	return hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
}

// WalletKey derives the indexer's operator account at the standard Ethereum
// path m/44'/60'/0'/0/0.
func WalletKey(mnemonic string) (*ecdsa.PrivateKey, error) {
	master, err := masterFromMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}
	node := master
	for _, step := range []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart,
		0,
		0,
	} {
		if node, err = node.Derive(step); err != nil {
			return nil, err
		}
	}
	priv, err := node.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return priv.ToECDSA(), nil
}

// DeriveKeyPair derives the allocation signing key and its address for one
// (epoch, deployment, index) triple.
func DeriveKeyPair(mnemonic string, epoch uint64, deployment DeploymentID, index uint32) (*ecdsa.PrivateKey, ID, error) {
	master, err := masterFromMnemonic(mnemonic)
	if err != nil {
		return nil, ID{}, err
	}
	key, err := deriveChild(master, epoch, deployment, index)
	if err != nil {
		return nil, ID{}, err
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

// UniqueAllocationID returns the first derived allocation id not present in
// existing, together with its signing key. Indices 0..99 are tried in order.
func UniqueAllocationID(mnemonic string, epoch uint64, deployment DeploymentID, existing []ID) (ID, *ecdsa.PrivateKey, error) {
	master, err := masterFromMnemonic(mnemonic)
	if err != nil {
		return ID{}, nil, err
	}
	taken := make(map[ID]struct{}, len(existing))
	for _, id := range existing {
		taken[id] = struct{}{}
	}
	for index := uint32(0); index < maxAllocationIndex; index++ {
		key, err := deriveChild(master, epoch, deployment, index)
		if err != nil {
			return ID{}, nil, err
		}
		id := crypto.PubkeyToAddress(key.PublicKey)
		if _, ok := taken[id]; !ok {
			return id, key, nil
		}
	}
	return ID{}, nil, ErrExhaustedAllocationIndex
}

// RecoverSigner re-derives the signing key of an existing allocation. The
// allocation decision and its on-chain acceptance can straddle an epoch
// boundary, so both createdAtEpoch and the epoch before it are scanned.
func RecoverSigner(mnemonic string, alloc *Allocation) (*ecdsa.PrivateKey, error) {
	master, err := masterFromMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}
	epochs := []uint64{alloc.CreatedAtEpoch}
	if alloc.CreatedAtEpoch > 0 {
		epochs = append(epochs, alloc.CreatedAtEpoch-1)
	}
	for _, epoch := range epochs {
		for index := uint32(0); index <= maxAllocationIndex; index++ {
			key, err := deriveChild(master, epoch, alloc.SubgraphDeployment, index)
			if err != nil {
				return nil, err
			}
			if crypto.PubkeyToAddress(key.PublicKey) == alloc.ID {
				return key, nil
			}
		}
	}
	return nil, ErrAllocationSignerNotFound
}

// Proof signs keccak256(indexer ‖ allocation) with the allocation key,
// binding the indexer to the allocation id. The contract verifies the raw
// digest signature, so no personal-message prefix is applied.
func Proof(key *ecdsa.PrivateKey, indexer common.Address, allocation ID) ([]byte, error) {
	digest := crypto.Keccak256(indexer.Bytes(), allocation.Bytes())
	return crypto.Sign(digest, key)
}
