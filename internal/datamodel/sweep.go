// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"database/sql"
	"errors"
	"time"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/insightzen/dialerd/internal/db"
)

var (
	findExpiredAssignmentsQuery = sqlext.SimplifyWhitespace(`
		SELECT id FROM dialer_assignments
		 WHERE status = 'reserved' AND expires_at <= $1
		 ORDER BY id
	`)
	findExpiredAssignmentsInProjectQuery = sqlext.SimplifyWhitespace(`
		SELECT id FROM dialer_assignments
		 WHERE status = 'reserved' AND expires_at <= $1 AND project_id = $2
		 ORDER BY id
	`)
	lockExpiredAssignmentQuery = sqlext.SimplifyWhitespace(`
		SELECT * FROM dialer_assignments
		 WHERE id = $1 AND status = 'reserved' AND expires_at <= $2
		 FOR UPDATE SKIP LOCKED
	`)
)

// SweepExpired expires every reservation that has outlived its TTL,
// releasing the samples and cell counters it held. With a non-nil projectID,
// only that project's reservations are considered.
//
// Each reservation is expired in its own transaction. Rows that an API
// request is concurrently transitioning are skipped; the next sweep picks up
// whatever they leave behind.
func SweepExpired(dbm *gorp.DbMap, projectID *db.ProjectID, now time.Time) (expired int, err error) {
	var ids []db.DialerAssignmentID
	if projectID == nil {
		_, err = dbm.Select(&ids, findExpiredAssignmentsQuery, now)
	} else {
		_, err = dbm.Select(&ids, findExpiredAssignmentsInProjectQuery, now, *projectID)
	}
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		didExpire, err := expireByID(dbm, id, now)
		if err != nil {
			return expired, err
		}
		if didExpire {
			expired++
		}
	}
	return expired, nil
}

func expireByID(dbm *gorp.DbMap, assignmentID db.DialerAssignmentID, now time.Time) (bool, error) {
	tx, err := dbm.Begin()
	if err != nil {
		return false, err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	var assignment db.DialerAssignment
	err = tx.SelectOne(&assignment, lockExpiredAssignmentQuery, assignmentID, now)
	if errors.Is(err, sql.ErrNoRows) {
		// already transitioned or locked elsewhere
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = expireAssignmentTx(tx, assignment, now)
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}
