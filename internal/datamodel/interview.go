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

var getInterviewForUpdateQuery = sqlext.SimplifyWhitespace(`
	SELECT * FROM interviews WHERE assignment_id = $1 FOR UPDATE
`)

// StartInterview records that the interviewer has opened the survey form for
// an assignment. The interview starts at the assignment's reservation time,
// not at the time of this call, so that form-open latency does not eat into
// the measured interview duration. Calling this twice is harmless.
func StartInterview(dbm *gorp.DbMap, assignmentID db.DialerAssignmentID, now time.Time) (*db.Interview, error) {
	tx, err := dbm.Begin()
	if err != nil {
		return nil, err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	assignment, err := getAssignmentForUpdate(tx, assignmentID)
	if err != nil {
		return nil, err
	}
	if !assignment.IsActiveAt(now) {
		return nil, core.ValidationErrorf("assignment", "cannot start an interview on a %s assignment", string(assignment.Status))
	}

	var interview db.Interview
	err = tx.SelectOne(&interview, getInterviewForUpdateQuery, assignmentID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		interview = db.Interview{
			AssignmentID: assignmentID,
			StartForm:    pointerTo(assignment.ReservedAt),
			Status:       db.InterviewStatusInProgress,
			MetaJSON:     "{}",
		}
		err = tx.Insert(&interview)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if interview.Status == db.InterviewStatusNotStarted {
			interview.Status = db.InterviewStatusInProgress
			interview.StartForm = pointerTo(assignment.ReservedAt)
			_, err = tx.Update(&interview)
			if err != nil {
				return nil, err
			}
		}
	}

	return &interview, tx.Commit()
}

// CompleteInterview closes the interview attached to an assignment without
// touching the assignment itself. Most callers want CompleteAssignment
// instead; this exists for survey tools that submit the form before the
// dialer confirms the call outcome.
func CompleteInterview(dbm *gorp.DbMap, assignmentID db.DialerAssignmentID, outcomeCode *string, meta map[string]any, now time.Time) (*db.Interview, error) {
	tx, err := dbm.Begin()
	if err != nil {
		return nil, err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	assignment, err := getAssignmentForUpdate(tx, assignmentID)
	if err != nil {
		return nil, err
	}

	var interview db.Interview
	err = tx.SelectOne(&interview, getInterviewForUpdateQuery, assignmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ValidationErrorf("interview", "assignment %d has no interview", assignmentID)
	}
	if err != nil {
		return nil, err
	}
	if interview.Status == db.InterviewStatusCompleted {
		return &interview, tx.Commit()
	}

	interview.Status = db.InterviewStatusCompleted
	interview.EndForm = &now
	if interview.StartForm == nil {
		interview.StartForm = pointerTo(assignment.ReservedAt)
	}
	if outcomeCode != nil {
		interview.OutcomeCode = outcomeCode
	}
	interview.MetaJSON, err = mergeMeta(interview.MetaJSON, meta)
	if err != nil {
		return nil, err
	}
	_, err = tx.Update(&interview)
	if err != nil {
		return nil, err
	}

	return &interview, tx.Commit()
}

// GetInterview loads the interview attached to an assignment, if any.
func GetInterview(dbi db.Interface, assignmentID db.DialerAssignmentID) (*db.Interview, error) {
	var interview db.Interview
	err := dbi.SelectOne(&interview, `SELECT * FROM interviews WHERE assignment_id = $1`, assignmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &interview, nil
}

// closeInterview closes (or lazily creates) the interview record while its
// assignment is being completed. Runs in the caller's transaction.
func closeInterview(tx *gorp.Transaction, assignment db.DialerAssignment, outcomeCode *string, now time.Time) error {
	var interview db.Interview
	err := tx.SelectOne(&interview, getInterviewForUpdateQuery, assignment.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		interview = db.Interview{
			AssignmentID: assignment.ID,
			StartForm:    pointerTo(assignment.ReservedAt),
			EndForm:      &now,
			Status:       db.InterviewStatusCompleted,
			OutcomeCode:  outcomeCode,
			MetaJSON:     "{}",
		}
		return tx.Insert(&interview)
	case err != nil:
		return err
	}

	if interview.Status == db.InterviewStatusCompleted {
		return nil
	}
	interview.Status = db.InterviewStatusCompleted
	interview.EndForm = &now
	if interview.StartForm == nil {
		interview.StartForm = pointerTo(assignment.ReservedAt)
	}
	if outcomeCode != nil {
		interview.OutcomeCode = outcomeCode
	}
	_, err = tx.Update(&interview)
	return err
}
