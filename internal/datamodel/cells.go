// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"database/sql"
	"errors"
	"time"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/insightzen/dialerd/internal/core"
	"github.com/insightzen/dialerd/internal/db"
)

// CellSpec describes one cell in a BulkUpsertCells payload.
type CellSpec struct {
	Selector core.Selector
	Label    string
	Target   int64
	SoftCap  *int64
	Weight   *float64
}

var getCellBySelectorQuery = sqlext.SimplifyWhitespace(`
	SELECT * FROM quota_cells WHERE scheme_id = $1 AND selector = $2 FOR UPDATE
`)

// BulkUpsertCells creates or updates the given cells on a draft scheme.
// Cells are identified by their selector: a cell with a known selector has
// its label/target/soft_cap/weight updated, everything else is inserted.
// Counters are never touched by this path.
func BulkUpsertCells(dbm *gorp.DbMap, schemeID db.QuotaSchemeID, specs []CellSpec, now time.Time) ([]db.QuotaCell, error) {
	tx, err := dbm.Begin()
	if err != nil {
		return nil, err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	var scheme db.QuotaScheme
	err = tx.SelectOne(&scheme, getSchemeForUpdateQuery, schemeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ValidationErrorf("scheme", "no such quota scheme: %d", schemeID)
	}
	if err != nil {
		return nil, err
	}
	if scheme.Status != db.SchemeStatusDraft {
		return nil, core.ValidationErrorf("status", "only draft schemes accept cell edits")
	}

	result := make([]db.QuotaCell, 0, len(specs))
	for _, spec := range specs {
		if len(spec.Selector) == 0 {
			return nil, core.ValidationErrorf("selector", "selector information is required for each cell")
		}
		selectorJSON, err := core.SerializeSelector(spec.Selector)
		if err != nil {
			return nil, core.ValidationErrorf("selector", "cannot serialize selector: %s", err.Error())
		}

		if spec.Target < 0 {
			return nil, core.ValidationErrorf("target", "target must not be negative")
		}
		var softCap *uint64
		if spec.SoftCap != nil {
			if *spec.SoftCap < 0 {
				return nil, core.ValidationErrorf("soft_cap", "soft_cap must not be negative")
			}
			softCap = pointerTo(uint64(*spec.SoftCap))
		}
		weight := 1.0
		if spec.Weight != nil {
			if *spec.Weight <= 0 {
				return nil, core.ValidationErrorf("weight", "weight must be positive")
			}
			weight = *spec.Weight
		}

		var cell db.QuotaCell
		err = tx.SelectOne(&cell, getCellBySelectorQuery, schemeID, selectorJSON)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			cell = db.QuotaCell{
				SchemeID:     schemeID,
				SelectorJSON: selectorJSON,
				Label:        spec.Label,
				Target:       uint64(spec.Target),
				SoftCap:      softCap,
				Weight:       weight,
				UpdatedAt:    now,
			}
			err = db.WrapIfConflict(tx.Insert(&cell))
			if err != nil {
				return nil, err
			}
		case err != nil:
			return nil, err
		default:
			cell.Label = spec.Label
			cell.Target = uint64(spec.Target)
			cell.SoftCap = softCap
			cell.Weight = weight
			cell.UpdatedAt = now
			_, err = tx.Update(&cell)
			if err != nil {
				return nil, err
			}
		}
		result = append(result, cell)
	}

	return result, tx.Commit()
}

// UpdateCell patches a single cell on a draft scheme. Nil fields are left
// unchanged.
func UpdateCell(dbm *gorp.DbMap, cellID db.QuotaCellID, label *string, target *int64, softCap *int64, weight *float64, now time.Time) (*db.QuotaCell, error) {
	tx, err := dbm.Begin()
	if err != nil {
		return nil, err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	var cell db.QuotaCell
	err = tx.SelectOne(&cell, `SELECT * FROM quota_cells WHERE id = $1 FOR UPDATE`, cellID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ValidationErrorf("cell", "no such quota cell: %d", cellID)
	}
	if err != nil {
		return nil, err
	}

	var scheme db.QuotaScheme
	err = tx.SelectOne(&scheme, `SELECT * FROM quota_schemes WHERE id = $1`, cell.SchemeID)
	if err != nil {
		return nil, err
	}
	if scheme.Status != db.SchemeStatusDraft {
		return nil, core.ValidationErrorf("status", "only draft schemes accept cell edits")
	}

	if label != nil {
		cell.Label = *label
	}
	if target != nil {
		if *target < 0 {
			return nil, core.ValidationErrorf("target", "target must not be negative")
		}
		cell.Target = uint64(*target)
	}
	if softCap != nil {
		if *softCap < 0 {
			return nil, core.ValidationErrorf("soft_cap", "soft_cap must not be negative")
		}
		cell.SoftCap = pointerTo(uint64(*softCap))
	}
	if weight != nil {
		if *weight <= 0 {
			return nil, core.ValidationErrorf("weight", "weight must be positive")
		}
		cell.Weight = *weight
	}
	cell.UpdatedAt = now
	_, err = tx.Update(&cell)
	if err != nil {
		return nil, err
	}

	return &cell, tx.Commit()
}

func pointerTo[T any](value T) *T {
	return &value
}
