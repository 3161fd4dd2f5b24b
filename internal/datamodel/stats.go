// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/insightzen/dialerd/internal/core"
	"github.com/insightzen/dialerd/internal/db"
)

// unspecifiedBucket collects cells whose selector does not constrain a
// dimension that the scheme declares.
const unspecifiedBucket = "Unspecified"

// StatsCounters is one row of aggregated quota progress.
type StatsCounters struct {
	Target     uint64 `json:"target"`
	Achieved   uint64 `json:"achieved"`
	InProgress uint64 `json:"in_progress"`
	Reserved   uint64 `json:"reserved"`
	// Remaining is zero for unlimited cells; they never run out, so there is
	// nothing meaningful to count down.
	Remaining uint64 `json:"remaining"`
}

func (c *StatsCounters) add(cell db.QuotaCell, policy db.OverflowPolicy) {
	c.Target += cell.Target
	c.Achieved += cell.Achieved
	c.InProgress += cell.InProgress
	c.Reserved += cell.Reserved
	remaining, unlimited := core.RemainingSlots(cell, policy)
	if !unlimited {
		c.Remaining += remaining
	}
}

// CellStats is the per-cell portion of a stats report.
type CellStats struct {
	CellID    db.QuotaCellID `json:"cell_id"`
	Label     string         `json:"label,omitempty"`
	Selector  core.Selector  `json:"selector"`
	Unlimited bool           `json:"unlimited,omitempty"`
	StatsCounters
}

// DimensionBucket aggregates the cells that share one value of a scheme
// dimension.
type DimensionBucket struct {
	Value string `json:"value"`
	StatsCounters
}

// SchemeStats is the progress report for one quota scheme.
type SchemeStats struct {
	SchemeID    db.QuotaSchemeID             `json:"scheme_id"`
	Status      db.SchemeStatus              `json:"status"`
	Totals      StatsCounters                `json:"totals"`
	Cells       []CellStats                  `json:"cells"`
	ByDimension map[string][]DimensionBucket `json:"by_dimension,omitempty"`
}

// GetSchemeStats aggregates quota progress for one scheme: overall totals,
// per-cell counters, and per-dimension buckets for every dimension the
// scheme declares.
func GetSchemeStats(dbi db.Interface, schemeID db.QuotaSchemeID) (*SchemeStats, error) {
	var scheme db.QuotaScheme
	err := dbi.SelectOne(&scheme, `SELECT * FROM quota_schemes WHERE id = $1`, schemeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ValidationErrorf("scheme", "no such quota scheme: %d", schemeID)
	}
	if err != nil {
		return nil, err
	}

	var cells []db.QuotaCell
	_, err = dbi.Select(&cells, `SELECT * FROM quota_cells WHERE scheme_id = $1 ORDER BY id`, schemeID)
	if err != nil {
		return nil, err
	}

	var dimensions []SchemeDimension
	if scheme.DimensionsJSON != "" {
		err = json.Unmarshal([]byte(scheme.DimensionsJSON), &dimensions)
		if err != nil {
			return nil, err
		}
	}

	stats := SchemeStats{
		SchemeID:    scheme.ID,
		Status:      scheme.Status,
		Cells:       make([]CellStats, 0, len(cells)),
		ByDimension: make(map[string][]DimensionBucket, len(dimensions)),
	}
	selectors := make([]core.Selector, len(cells))

	for idx, cell := range cells {
		selector, err := core.ParseSelector(cell.SelectorJSON)
		if err != nil {
			return nil, err
		}
		selectors[idx] = selector

		_, unlimited := core.CapacityLimit(cell, scheme.OverflowPolicy)
		cs := CellStats{
			CellID:    cell.ID,
			Label:     cell.Label,
			Selector:  selector,
			Unlimited: unlimited,
		}
		cs.add(cell, scheme.OverflowPolicy)
		stats.Totals.add(cell, scheme.OverflowPolicy)
		stats.Cells = append(stats.Cells, cs)
	}

	for _, dim := range dimensions {
		buckets := make(map[string]*StatsCounters)
		for idx, cell := range cells {
			value := dimensionValue(selectors[idx], dim.Key)
			bucket := buckets[value]
			if bucket == nil {
				bucket = &StatsCounters{}
				buckets[value] = bucket
			}
			bucket.add(cell, scheme.OverflowPolicy)
		}

		values := make([]string, 0, len(buckets))
		for value := range buckets {
			values = append(values, value)
		}
		sort.Strings(values)
		result := make([]DimensionBucket, 0, len(values))
		for _, value := range values {
			result = append(result, DimensionBucket{Value: value, StatsCounters: *buckets[value]})
		}
		stats.ByDimension[dim.Key] = result
	}

	return &stats, nil
}

// dimensionValue renders a cell's position on one dimension. List-valued
// selectors render as a comma-joined label since the cell covers all of
// those values at once.
func dimensionValue(selector core.Selector, key string) string {
	values := core.StringValues(selector[key])
	if len(values) == 0 {
		return unspecifiedBucket
	}
	return strings.Join(values, ",")
}
