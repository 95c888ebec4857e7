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

// Package rules holds the indexing-rule record and its global/local merge.
// The agent keeps one rule per deployment plus a global fallback rule;
// unset fields of the local rule are filled from the global one.
package rules

import "math/big"

// GlobalIdentifier names the fallback rule every deployment merges against.
const GlobalIdentifier = "global"

// DecisionBasis picks how the agent decides to allocate towards a
// deployment.
type DecisionBasis string

const (
	DecisionRules    DecisionBasis = "rules"
	DecisionAlways   DecisionBasis = "always"
	DecisionNever    DecisionBasis = "never"
	DecisionOffchain DecisionBasis = "offchain"
)

// Rule is one indexing rule. All decision fields are optional; nil means
// "inherit from the global rule".
type Rule struct {
	Identifier      string
	IdentifierType  string
	ProtocolNetwork string

	AllocationAmount        *big.Int
	AllocationLifetime      *int
	AutoRenewal             *bool
	ParallelAllocations     *int
	MaxAllocationPercentage *float64
	MinSignal               *big.Int
	MaxSignal               *big.Int
	MinStake                *big.Int
	MinAverageQueryFees     *big.Int
	Custom                  *string
	DecisionBasis           *DecisionBasis
	RequireSupported        *bool
	Safety                  *bool
}

// Merge fills the unset fields of local from global, preferring local
// wherever both are set. Identity fields always come from local. Neither
// input is mutated.
func Merge(local, global *Rule) *Rule {
	if local == nil && global == nil {
		return nil
	}
	if local == nil {
		merged := *global
		return &merged
	}
	merged := *local
	if global == nil {
		return &merged
	}
	if merged.AllocationAmount == nil {
		merged.AllocationAmount = global.AllocationAmount
	}
	if merged.AllocationLifetime == nil {
		merged.AllocationLifetime = global.AllocationLifetime
	}
	if merged.AutoRenewal == nil {
		merged.AutoRenewal = global.AutoRenewal
	}
	if merged.ParallelAllocations == nil {
		merged.ParallelAllocations = global.ParallelAllocations
	}
	if merged.MaxAllocationPercentage == nil {
		merged.MaxAllocationPercentage = global.MaxAllocationPercentage
	}
	if merged.MinSignal == nil {
		merged.MinSignal = global.MinSignal
	}
	if merged.MaxSignal == nil {
		merged.MaxSignal = global.MaxSignal
	}
	if merged.MinStake == nil {
		merged.MinStake = global.MinStake
	}
	if merged.MinAverageQueryFees == nil {
		merged.MinAverageQueryFees = global.MinAverageQueryFees
	}
	if merged.Custom == nil {
		merged.Custom = global.Custom
	}
	if merged.DecisionBasis == nil {
		merged.DecisionBasis = global.DecisionBasis
	}
	if merged.RequireSupported == nil {
		merged.RequireSupported = global.RequireSupported
	}
	if merged.Safety == nil {
		merged.Safety = global.Safety
	}
	return &merged
}
