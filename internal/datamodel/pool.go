// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/insightzen/dialerd/internal/bank"
	"github.com/insightzen/dialerd/internal/core"
	"github.com/insightzen/dialerd/internal/db"
)

// poolFloor is the minimum number of candidates that a pool build asks the
// bank for when neither an explicit limit nor a cell target gives a better
// number.
const poolFloor = 1000

var insertSampleQuery = sqlext.SimplifyWhitespace(`
	INSERT INTO sample_contacts
		(project_id, quota_cell_id, phone_id, person_id, phone_number, full_name,
		 gender, age_band, province_code, city_code, attributes,
		 is_active, status, attempt_count, created_at)
	VALUES ($1, $2, $3, $4, $5, '', $6, $7, $8, $9, $10, TRUE, 'available', 0, $11)
	ON CONFLICT (project_id, quota_cell_id, phone_id) DO NOTHING
`)

var countAvailableSamplesQuery = sqlext.SimplifyWhitespace(`
	SELECT COUNT(*) FROM sample_contacts
	 WHERE quota_cell_id = $1 AND status = 'available' AND is_active
`)

// PoolBuildResult reports the outcome of one BuildPoolForCell call.
type PoolBuildResult struct {
	// Attempted is how many candidates the bank returned for this build.
	// Candidates already present in the pool count towards Attempted but do
	// not produce new rows.
	Attempted int
	// Inserted is how many new sample rows this build produced.
	Inserted int
}

// BuildPoolForCell materializes bank candidates matching the cell's selector
// into the project's sample pool. When `limit` is nil, the pool size is
// derived from the cell target and the configured multiplier, with a floor of
// poolFloor for unlimited cells.
func BuildPoolForCell(dbm *gorp.DbMap, gw bank.Gateway, cfg core.DialerConfig, cellID db.QuotaCellID, limit *int, now time.Time) (PoolBuildResult, error) {
	var cell db.QuotaCell
	err := dbm.SelectOne(&cell, `SELECT * FROM quota_cells WHERE id = $1`, cellID)
	if errors.Is(err, sql.ErrNoRows) {
		return PoolBuildResult{}, core.ValidationErrorf("cell", "no such quota cell: %d", cellID)
	}
	if err != nil {
		return PoolBuildResult{}, err
	}
	var scheme db.QuotaScheme
	err = dbm.SelectOne(&scheme, `SELECT * FROM quota_schemes WHERE id = $1`, cell.SchemeID)
	if err != nil {
		return PoolBuildResult{}, err
	}

	selector, err := core.ParseSelector(cell.SelectorJSON)
	if err != nil {
		return PoolBuildResult{}, err
	}
	pred, bandLabels := bank.PredicateFromSelector(selector)

	effectiveLimit := max(int(cell.Target)*cfg.PoolMultiplier, poolFloor)
	if limit != nil && *limit > 0 {
		effectiveLimit = *limit
	}

	today := now.Truncate(24 * time.Hour)
	candidates, err := gw.SelectCandidates(dbm, scheme.ProjectID, pred, effectiveLimit, today)
	if err != nil {
		return PoolBuildResult{}, fmt.Errorf("while selecting bank candidates for cell %d: %w", cellID, err)
	}

	tx, err := dbm.Begin()
	if err != nil {
		return PoolBuildResult{}, err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	result := PoolBuildResult{Attempted: len(candidates)}
	for _, c := range candidates {
		attributes, err := sampleAttributes(c, selector)
		if err != nil {
			return PoolBuildResult{}, err
		}
		var ageBand *string
		if c.DOB != nil {
			ageBand = core.MatchingAgeBand(bandLabels, core.AgeOn(*c.DOB, today))
		}
		sqlResult, err := tx.Exec(insertSampleQuery,
			scheme.ProjectID, cellID, c.PhoneID, c.PersonID, c.MSISDN,
			c.Gender, ageBand, c.ProvinceCode, c.CityCode, attributes, now)
		if err != nil {
			return PoolBuildResult{}, err
		}
		rowsAffected, err := sqlResult.RowsAffected()
		if err != nil {
			return PoolBuildResult{}, err
		}
		result.Inserted += int(rowsAffected)
	}

	return result, tx.Commit()
}

// sampleAttributes builds the attributes blob for a materialized sample:
// the selector's non-promoted keys, so that MatchesSelector holds for the
// sample even for attributes the bank does not carry as columns.
func sampleAttributes(c bank.Candidate, selector core.Selector) (string, error) {
	attributes := map[string]any{}
	for key, value := range selector {
		switch key {
		case "gender", "age_band", "province_code", "city_code", "age", "age_range":
			continue
		}
		// for list-valued selector entries there is no single value to record
		if _, isList := value.([]any); isList {
			continue
		}
		attributes[key] = value
	}
	if c.DOB != nil {
		attributes["dob"] = c.DOB.Format("2006-01-02")
	}
	buf, err := json.Marshal(attributes)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// CountAvailableSamples reports how many samples in the cell's pool are still
// claimable. The replenisher uses this to decide when to rebuild.
func CountAvailableSamples(dbi db.Interface, cellID db.QuotaCellID) (int64, error) {
	return dbi.SelectInt(countAvailableSamplesQuery, cellID)
}
