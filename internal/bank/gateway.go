// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

// Package bank reads candidate contacts from the external bank schema. The
// bank tables are owned by an outside data provider and are strictly
// read-only for this service.
package bank

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/insightzen/dialerd/internal/core"
	"github.com/insightzen/dialerd/internal/db"
)

// Candidate is one phone/person pair read from the bank.
type Candidate struct {
	PhoneID      db.BankPhoneID
	MSISDN       string
	PersonID     db.BankPersonID
	Gender       *string
	DOB          *time.Time
	ProvinceCode *string
	CityCode     *string
}

// Predicate is the normalized filter that a cell selector imposes on the
// bank. Equality filters are disjunctive within a field (IN semantics) and
// conjunctive across fields; age ranges are disjunctive among themselves.
type Predicate struct {
	Genders   []string
	Provinces []string
	Cities    []string
	AgeRanges []core.AgeRange
}

// PredicateFromSelector splits a cell selector into bank filter predicates.
// The returned band labels are used to tag materialized samples with the
// age band they fell into.
func PredicateFromSelector(selector core.Selector) (Predicate, []string) {
	ranges, bandLabels := core.AgeRangesFromSelector(selector)
	return Predicate{
		Genders:   core.StringValues(selector["gender"]),
		Provinces: core.StringValues(selector["province_code"]),
		Cities:    core.StringValues(selector["city_code"]),
		AgeRanges: ranges,
	}, bandLabels
}

// Gateway executes selector-predicate queries against the bank schema.
type Gateway struct {
	// Schema is the Postgres schema holding bank_person and bank_phone.
	Schema string
}

var schemaNameRx = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// NewGateway validates the schema name and builds a Gateway.
func NewGateway(schema string) (Gateway, error) {
	if !schemaNameRx.MatchString(schema) {
		return Gateway{}, fmt.Errorf("invalid bank schema name: %q", schema)
	}
	return Gateway{Schema: schema}, nil
}

// SelectCandidates returns up to `limit` candidates matching the predicate,
// ordered by phone ID ascending. It only considers active mobile phones, and
// excludes phones on the do-not-contact list as well as phones that are
// already in the project's sample pool.
//
// `today` must be computed once by the caller from the injected clock, so
// that all age comparisons within one call agree on the reference date.
func (g Gateway) SelectCandidates(dbi db.Interface, projectID db.ProjectID, pred Predicate, limit int, today time.Time) ([]Candidate, error) {
	conditions := []string{"d.msisdn IS NULL", "ph.is_active", "ph.is_mobile"}
	var args []any

	addArg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(pred.Genders) > 0 {
		conditions = append(conditions, fmt.Sprintf("p.gender = ANY(%s)", addArg(pq.Array(pred.Genders))))
	}
	if len(pred.Provinces) > 0 {
		conditions = append(conditions, fmt.Sprintf("p.province_code = ANY(%s)", addArg(pq.Array(pred.Provinces))))
	}
	if len(pred.Cities) > 0 {
		conditions = append(conditions, fmt.Sprintf("p.city_code = ANY(%s)", addArg(pq.Array(pred.Cities))))
	}

	var ageConditions []string
	for _, r := range pred.AgeRanges {
		// someone aged within [Min, Max] today was born within this window
		lowerBound := core.YearsAgo(today, r.Max)
		upperBound := core.YearsAgo(today, r.Min)
		ageConditions = append(ageConditions,
			fmt.Sprintf("(p.dob BETWEEN %s AND %s)", addArg(lowerBound), addArg(upperBound)))
	}
	if len(ageConditions) > 0 {
		conditions = append(conditions, "("+strings.Join(ageConditions, " OR ")+")")
	}

	conditions = append(conditions, fmt.Sprintf(`NOT EXISTS (
		SELECT 1 FROM sample_contacts pool
		WHERE pool.phone_number = ph.msisdn AND pool.project_id = %s
	)`, addArg(projectID)))

	query := sqlext.SimplifyWhitespace(fmt.Sprintf(`
		SELECT ph.phone_id, ph.msisdn, p.person_id, p.gender, p.dob, p.province_code, p.city_code
		  FROM %[1]s.bank_phone ph
		  JOIN %[1]s.bank_person p ON p.person_id = ph.person_id
		  LEFT JOIN do_not_contact d ON d.msisdn = ph.msisdn
		WHERE %[2]s
		ORDER BY ph.phone_id
		LIMIT %[3]s
	`, g.Schema, strings.Join(conditions, " AND "), addArg(limit)))

	var result []Candidate
	err := sqlext.ForeachRow(dbi, query, args, func(rows *sql.Rows) error {
		var c Candidate
		err := rows.Scan(&c.PhoneID, &c.MSISDN, &c.PersonID, &c.Gender, &c.DOB, &c.ProvinceCode, &c.CityCode)
		if err != nil {
			return err
		}
		result = append(result, c)
		return nil
	})
	if err != nil {
		if db.IsMissingRelation(err) {
			return nil, fmt.Errorf("%w: %s", core.ErrBankUnavailable, err.Error())
		}
		return nil, err
	}
	return result, nil
}
