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

	"github.com/insightzen/dialerd/internal/core"
	"github.com/insightzen/dialerd/internal/db"
)

// defaultFailureOutcome is recorded when a fail request does not name an
// outcome code.
const defaultFailureOutcome = "FAIL"

var (
	getAssignmentForUpdateQuery = sqlext.SimplifyWhitespace(`
		SELECT * FROM dialer_assignments WHERE id = $1 FOR UPDATE
	`)
	releaseCellCountersQuery = sqlext.SimplifyWhitespace(`
		UPDATE quota_cells
		   SET reserved = reserved - 1, in_progress = in_progress - 1, updated_at = $2
		 WHERE id = $1
	`)
	achieveCellCountersQuery = sqlext.SimplifyWhitespace(`
		UPDATE quota_cells
		   SET reserved = reserved - 1, in_progress = in_progress - 1,
		       achieved = achieved + 1, updated_at = $2
		 WHERE id = $1
	`)
	// used_at is stamped at claim time already
	completeSampleQuery = sqlext.SimplifyWhitespace(`
		UPDATE sample_contacts SET status = 'completed' WHERE id = $1
	`)
	releaseSampleQuery = sqlext.SimplifyWhitespace(`
		UPDATE sample_contacts SET status = 'available', interviewer_id = NULL WHERE id = $1
	`)
	deleteInterviewQuery = sqlext.SimplifyWhitespace(`
		DELETE FROM interviews WHERE assignment_id = $1
	`)
)

// GetAssignmentByUUID resolves the public assignment identifier.
func GetAssignmentByUUID(dbi db.Interface, assignmentUUID db.DialerAssignmentUUID) (*db.DialerAssignment, error) {
	var assignment db.DialerAssignment
	err := dbi.SelectOne(&assignment, `SELECT * FROM dialer_assignments WHERE uuid = $1`, assignmentUUID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ValidationErrorf("assignment", "no such assignment: %s", assignmentUUID)
	}
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

// CompleteAssignment finishes an assignment successfully: the cell gains an
// achievement, the sample is marked as used, and the interview (if the
// interviewer never explicitly started one, it is created on the fly) is
// closed. Completing an already-terminal assignment is a no-op and returns
// the stored record unchanged.
func CompleteAssignment(dbm *gorp.DbMap, assignmentID db.DialerAssignmentID, outcomeCode *string, meta map[string]any, now time.Time) (*db.DialerAssignment, error) {
	tx, err := dbm.Begin()
	if err != nil {
		return nil, err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	assignment, err := getAssignmentForUpdate(tx, assignmentID)
	if err != nil {
		return nil, err
	}
	if assignment.Status.IsTerminal() {
		return assignment, tx.Commit()
	}

	assignment.Status = db.AssignmentStatusCompleted
	assignment.CompletedAt = &now
	assignment.OutcomeCode = outcomeCode
	assignment.MetaJSON, err = mergeMeta(assignment.MetaJSON, meta)
	if err != nil {
		return nil, err
	}
	_, err = tx.Update(assignment)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(achieveCellCountersQuery, assignment.CellID, now)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(completeSampleQuery, assignment.SampleID)
	if err != nil {
		return nil, err
	}
	err = closeInterview(tx, *assignment, outcomeCode, now)
	if err != nil {
		return nil, err
	}

	return assignment, tx.Commit()
}

// FailAssignment finishes an assignment unsuccessfully (busy, refusal, wrong
// number). The sample goes back into the pool, and the free-text reason is
// recorded in the assignment metadata for later analysis. Failing an
// already-terminal assignment is a no-op.
func FailAssignment(dbm *gorp.DbMap, assignmentID db.DialerAssignmentID, outcomeCode *string, reason string, meta map[string]any, now time.Time) (*db.DialerAssignment, error) {
	if outcomeCode == nil {
		outcomeCode = pointerTo(defaultFailureOutcome)
	}
	if reason != "" {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["failure_reason"] = reason
	}

	return releaseAssignment(dbm, assignmentID, db.AssignmentStatusFailed, outcomeCode, meta, true, now)
}

// CancelAssignment voluntarily gives an assignment back, e.g. when the
// interviewer ends their shift. The sample becomes claimable again without
// recording a failed attempt outcome.
func CancelAssignment(dbm *gorp.DbMap, assignmentID db.DialerAssignmentID, meta map[string]any, now time.Time) (*db.DialerAssignment, error) {
	return releaseAssignment(dbm, assignmentID, db.AssignmentStatusCancelled, nil, meta, true, now)
}

// ExpireAssignment forcibly expires a single assignment, regardless of its
// expires_at timestamp. The sweeper goes through expireAssignmentTx instead;
// this entry point serves supervisor tooling. Expiring an already-terminal
// assignment is a no-op.
func ExpireAssignment(dbm *gorp.DbMap, assignmentID db.DialerAssignmentID, now time.Time) (*db.DialerAssignment, error) {
	tx, err := dbm.Begin()
	if err != nil {
		return nil, err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	assignment, err := getAssignmentForUpdate(tx, assignmentID)
	if err != nil {
		return nil, err
	}
	err = expireAssignmentTx(tx, *assignment, now)
	if err != nil {
		return nil, err
	}
	if !assignment.Status.IsTerminal() {
		assignment.Status = db.AssignmentStatusExpired
	}
	return assignment, tx.Commit()
}

// releaseAssignment is the shared terminal transition for every outcome that
// gives the sample back to the pool.
func releaseAssignment(dbm *gorp.DbMap, assignmentID db.DialerAssignmentID, status db.AssignmentStatus, outcomeCode *string, meta map[string]any, stampCompletedAt bool, now time.Time) (*db.DialerAssignment, error) {
	tx, err := dbm.Begin()
	if err != nil {
		return nil, err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	assignment, err := getAssignmentForUpdate(tx, assignmentID)
	if err != nil {
		return nil, err
	}
	if assignment.Status.IsTerminal() {
		return assignment, tx.Commit()
	}

	assignment.Status = status
	if stampCompletedAt {
		assignment.CompletedAt = &now
	}
	if outcomeCode != nil {
		assignment.OutcomeCode = outcomeCode
	}
	assignment.MetaJSON, err = mergeMeta(assignment.MetaJSON, meta)
	if err != nil {
		return nil, err
	}
	_, err = tx.Update(assignment)
	if err != nil {
		return nil, err
	}
	err = releaseSampleAndCounters(tx, *assignment, now)
	if err != nil {
		return nil, err
	}

	return assignment, tx.Commit()
}

// expireAssignmentTx performs the expiry transition within the caller's
// transaction. The assignment row must already be locked. Unlike the other
// terminal transitions, expiry does not stamp completed_at since nobody
// finished anything.
func expireAssignmentTx(tx *gorp.Transaction, assignment db.DialerAssignment, now time.Time) error {
	if assignment.Status.IsTerminal() {
		return nil
	}
	assignment.Status = db.AssignmentStatusExpired
	_, err := tx.Update(&assignment)
	if err != nil {
		return err
	}
	return releaseSampleAndCounters(tx, assignment, now)
}

func releaseSampleAndCounters(tx *gorp.Transaction, assignment db.DialerAssignment, now time.Time) error {
	_, err := tx.Exec(releaseCellCountersQuery, assignment.CellID, now)
	if err != nil {
		return err
	}
	_, err = tx.Exec(releaseSampleQuery, assignment.SampleID)
	if err != nil {
		return err
	}
	// the interview record goes with its assignment; only a completed
	// assignment keeps one
	_, err = tx.Exec(deleteInterviewQuery, assignment.ID)
	return err
}

func getAssignmentForUpdate(tx *gorp.Transaction, assignmentID db.DialerAssignmentID) (*db.DialerAssignment, error) {
	var assignment db.DialerAssignment
	err := tx.SelectOne(&assignment, getAssignmentForUpdateQuery, assignmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ValidationErrorf("assignment", "no such assignment: %d", assignmentID)
	}
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

// mergeMeta overlays the given keys onto an assignment's meta blob.
func mergeMeta(metaJSON string, updates map[string]any) (string, error) {
	if len(updates) == 0 {
		return metaJSON, nil
	}
	meta := map[string]any{}
	if metaJSON != "" && metaJSON != "{}" {
		err := json.Unmarshal([]byte(metaJSON), &meta)
		if err != nil {
			return "", fmt.Errorf("invalid assignment meta %q: %w", metaJSON, err)
		}
	}
	for key, value := range updates {
		meta[key] = value
	}
	buf, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}
