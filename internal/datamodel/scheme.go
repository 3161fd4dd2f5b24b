// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/insightzen/dialerd/internal/core"
	"github.com/insightzen/dialerd/internal/db"
)

var (
	getSchemeForUpdateQuery = sqlext.SimplifyWhitespace(`
		SELECT * FROM quota_schemes WHERE id = $1 FOR UPDATE
	`)
	pickSchemeByIDQuery = sqlext.SimplifyWhitespace(`
		SELECT * FROM quota_schemes
		 WHERE id = $1 AND project_id = $2 AND status = 'published'
		 FOR UPDATE
	`)
	pickSchemeQuery = sqlext.SimplifyWhitespace(`
		SELECT * FROM quota_schemes
		 WHERE project_id = $1 AND status = 'published'
		 ORDER BY is_default DESC, priority DESC, published_at DESC
		 LIMIT 1
		 FOR UPDATE
	`)
	clearOtherDefaultsQuery = sqlext.SimplifyWhitespace(`
		UPDATE quota_schemes SET is_default = FALSE WHERE project_id = $1 AND id != $2 AND is_default
	`)
)

// PublishScheme moves a draft scheme into the published state. Publishing an
// already-published scheme only re-evaluates the default flag. When the
// scheme ends up as the project default, every other scheme in the project
// loses its default flag (there is at most one published default per
// project).
func PublishScheme(dbm *gorp.DbMap, schemeID db.QuotaSchemeID, isDefault *bool, now time.Time) (*db.QuotaScheme, error) {
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
	if scheme.Status == db.SchemeStatusArchived {
		return nil, core.ValidationErrorf("status", "cannot publish an archived scheme")
	}

	if isDefault != nil {
		scheme.IsDefault = *isDefault
	}
	if scheme.Status != db.SchemeStatusPublished {
		scheme.Status = db.SchemeStatusPublished
		scheme.PublishedAt = &now
	}
	scheme.UpdatedAt = now
	_, err = tx.Update(&scheme)
	if err != nil {
		return nil, err
	}

	if scheme.IsDefault {
		_, err = tx.Exec(clearOtherDefaultsQuery, scheme.ProjectID, scheme.ID)
		if err != nil {
			return nil, err
		}
	}

	return &scheme, tx.Commit()
}

// ArchiveScheme moves a scheme into the archived state and clears its default
// flag. Archiving an archived scheme is a no-op.
func ArchiveScheme(dbm *gorp.DbMap, schemeID db.QuotaSchemeID, now time.Time) (*db.QuotaScheme, error) {
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

	if scheme.Status != db.SchemeStatusArchived {
		scheme.Status = db.SchemeStatusArchived
		scheme.IsDefault = false
		scheme.UpdatedAt = now
		_, err = tx.Update(&scheme)
		if err != nil {
			return nil, err
		}
	}

	return &scheme, tx.Commit()
}

// pickSchemeForReservation selects and locks the scheme that a reservation
// will draw from:
//
//  1. An explicitly requested scheme must exist in this project and be
//     published.
//  2. Otherwise the published default scheme wins.
//  3. Otherwise any published scheme, by priority and recency of publication.
func pickSchemeForReservation(tx *gorp.Transaction, projectID db.ProjectID, schemeID *db.QuotaSchemeID) (db.QuotaScheme, error) {
	var scheme db.QuotaScheme
	if schemeID != nil {
		err := tx.SelectOne(&scheme, pickSchemeByIDQuery, *schemeID, projectID)
		if errors.Is(err, sql.ErrNoRows) {
			return db.QuotaScheme{}, core.ValidationErrorf("scheme", "no published scheme matches the requested identifier")
		}
		return scheme, err
	}

	err := tx.SelectOne(&scheme, pickSchemeQuery, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return db.QuotaScheme{}, core.ErrNoSchemeAvailable
	}
	return scheme, err
}

// SchemeDimension is one entry of QuotaScheme.DimensionsJSON.
type SchemeDimension struct {
	Key    string   `json:"key"`
	Values []string `json:"values,omitempty"`
}

// GetProject loads a project by ID.
func GetProject(dbi db.Interface, projectID db.ProjectID) (*db.Project, error) {
	var project db.Project
	err := dbi.SelectOne(&project, `SELECT * FROM projects WHERE id = $1`, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ValidationErrorf("project", "no such project: %d", projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("while loading project %d: %w", projectID, err)
	}
	return &project, nil
}
