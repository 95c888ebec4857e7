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

// allocationExchangeABI covers the slice of the AllocationExchange contract
// the redemption engine touches.
const allocationExchangeABI = `[
	{
		"type": "function",
		"name": "allocationsRedeemed",
		"stateMutability": "view",
		"inputs": [{"name": "allocationID", "type": "address"}],
		"outputs": [{"name": "", "type": "bool"}]
	},
	{
		"type": "function",
		"name": "redeemMany",
		"stateMutability": "nonpayable",
		"inputs": [{
			"name": "vouchers",
			"type": "tuple[]",
			"components": [
				{"name": "allocationID", "type": "address"},
				{"name": "amount", "type": "uint256"},
				{"name": "signature", "type": "bytes"}
			]
		}],
		"outputs": []
	}
]`

// escrowABI covers the TAP escrow redeem entry point.
const escrowABI = `[
	{
		"type": "function",
		"name": "redeem",
		"stateMutability": "nonpayable",
		"inputs": [
			{
				"name": "signedRAV",
				"type": "tuple",
				"components": [
					{
						"name": "message",
						"type": "tuple",
						"components": [
							{"name": "allocationId", "type": "address"},
							{"name": "timestampNs", "type": "uint64"},
							{"name": "valueAggregate", "type": "uint128"}
						]
					},
					{"name": "signature", "type": "bytes"}
				]
			},
			{"name": "allocationIDProof", "type": "bytes"}
		],
		"outputs": []
	}
]`

// stakingEventsABI carries the events post-processing scans transaction
// receipts for.
const stakingEventsABI = `[
	{
		"type": "event",
		"name": "AllocationCreated",
		"inputs": [
			{"name": "indexer", "type": "address", "indexed": true},
			{"name": "subgraphDeploymentID", "type": "bytes32", "indexed": true},
			{"name": "epoch", "type": "uint256", "indexed": false},
			{"name": "tokens", "type": "uint256", "indexed": false},
			{"name": "allocationID", "type": "address", "indexed": true},
			{"name": "metadata", "type": "bytes32", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "AllocationClosed",
		"inputs": [
			{"name": "indexer", "type": "address", "indexed": true},
			{"name": "subgraphDeploymentID", "type": "bytes32", "indexed": true},
			{"name": "epoch", "type": "uint256", "indexed": false},
			{"name": "tokens", "type": "uint256", "indexed": false},
			{"name": "allocationID", "type": "address", "indexed": true},
			{"name": "effectiveAllocation", "type": "uint256", "indexed": false},
			{"name": "sender", "type": "address", "indexed": false},
			{"name": "poi", "type": "bytes32", "indexed": false},
			{"name": "isDelegator", "type": "bool", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "RewardsAssigned",
		"inputs": [
			{"name": "indexer", "type": "address", "indexed": true},
			{"name": "allocationID", "type": "address", "indexed": true},
			{"name": "epoch", "type": "uint256", "indexed": false},
			{"name": "amount", "type": "uint256", "indexed": false}
		]
	}
]`
