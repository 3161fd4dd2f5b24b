// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"math"

	"github.com/insightzen/dialerd/internal/db"
)

// CapacityLimit computes the maximum number of completed-plus-running
// interviews that a cell admits under the given overflow policy.
//
// A cell with target = 0 and no soft cap is unlimited, which is reported via
// unlimited = true (and the limit value is meaningless in that case).
func CapacityLimit(cell db.QuotaCell, policy db.OverflowPolicy) (limit uint64, unlimited bool) {
	if cell.Target == 0 && cell.SoftCap == nil {
		return 0, true
	}
	switch policy {
	case db.OverflowPolicySoft, db.OverflowPolicyWeighted:
		// both policies honor the soft cap; they only differ in cell ranking
		if cell.SoftCap != nil {
			return *cell.SoftCap, false
		}
	}
	return cell.Target, false
}

// RemainingSlots computes how many more reservations a cell admits.
func RemainingSlots(cell db.QuotaCell, policy db.OverflowPolicy) (remaining uint64, unlimited bool) {
	limit, unlimited := CapacityLimit(cell, policy)
	if unlimited {
		return 0, true
	}
	used := cell.Achieved + cell.InProgress
	if used >= limit {
		return 0, false
	}
	return limit - used, false
}

// HasCapacity returns whether a cell admits at least one more reservation.
func HasCapacity(cell db.QuotaCell, policy db.OverflowPolicy) bool {
	remaining, unlimited := RemainingSlots(cell, policy)
	return unlimited || remaining > 0
}

// WeightedScore ranks cells under the "weighted" overflow policy. Unlimited
// cells score +Inf and therefore always sort first.
func WeightedScore(cell db.QuotaCell, policy db.OverflowPolicy) float64 {
	remaining, unlimited := RemainingSlots(cell, policy)
	if unlimited {
		return math.Inf(+1)
	}
	return cell.Weight * float64(remaining)
}

// RankScore is the descending sort key for candidate cells during
// reservation: weighted score under "weighted", remaining slots otherwise.
// Ties are broken by cell ID ascending (the caller sorts on that).
func RankScore(cell db.QuotaCell, policy db.OverflowPolicy) float64 {
	if policy == db.OverflowPolicyWeighted {
		return WeightedScore(cell, policy)
	}
	remaining, unlimited := RemainingSlots(cell, policy)
	if unlimited {
		return math.Inf(+1)
	}
	return float64(remaining)
}
