// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"cmp"
	"database/sql"
	"errors"
	"slices"
	"time"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/gofrs/uuid/v5"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/insightzen/dialerd/internal/core"
	"github.com/insightzen/dialerd/internal/db"
)

// ReserveRequest is the input of ReserveNext.
type ReserveRequest struct {
	ProjectID     db.ProjectID
	InterviewerID db.UserID
	// SchemeID optionally pins the reservation to one published scheme.
	SchemeID *db.QuotaSchemeID
	// TTL optionally overrides the configured default reservation lifetime.
	TTL *time.Duration
}

// ReserveResult is the output of ReserveNext.
type ReserveResult struct {
	Assignment db.DialerAssignment
	Sample     db.SampleContact
	Cell       db.QuotaCell
	Scheme     db.QuotaScheme
}

var (
	lockInterviewerAssignmentsQuery = sqlext.SimplifyWhitespace(`
		SELECT * FROM dialer_assignments
		 WHERE interviewer_id = $1 AND status = 'reserved'
		 FOR UPDATE
	`)
	lockSchemeCellsQuery = sqlext.SimplifyWhitespace(`
		SELECT * FROM quota_cells
		 WHERE scheme_id = $1
		 ORDER BY id
		 FOR UPDATE SKIP LOCKED
	`)
	// "NULLS FIRST" makes never-attempted samples win over retries.
	claimNextSampleQuery = sqlext.SimplifyWhitespace(`
		SELECT * FROM sample_contacts
		 WHERE quota_cell_id = $1 AND status = 'available' AND is_active
		   AND phone_number NOT IN (SELECT msisdn FROM do_not_contact)
		 ORDER BY last_attempt_at ASC NULLS FIRST, id ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED
	`)
	claimSampleQuery = sqlext.SimplifyWhitespace(`
		UPDATE sample_contacts
		   SET status = 'claimed', attempt_count = attempt_count + 1,
		       last_attempt_at = $2, used_at = $2, interviewer_id = $3
		 WHERE id = $1
	`)
	reserveCellCountersQuery = sqlext.SimplifyWhitespace(`
		UPDATE quota_cells
		   SET reserved = reserved + 1, in_progress = in_progress + 1, updated_at = $2
		 WHERE id = $1
	`)
)

// ReserveNext hands the interviewer the next sample contact to dial:
//
//  1. The project's overdue reservations are expired first, so their samples
//     and cell slots are up for grabs again. A stale reservation therefore
//     never wedges its interviewer. The sweep commits in its own
//     transactions before the reservation transaction opens, so its
//     expirations stick even when the reservation below fails or rolls back.
//  2. If the interviewer still holds an active reservation, the call fails
//     with ErrAlreadyReserved (one active assignment per interviewer).
//  3. A published scheme is picked, its cells are locked with SKIP LOCKED,
//     and the open cells are ranked by the scheme's overflow policy.
//  4. The best-ranked cell with a claimable sample wins. The sample is
//     claimed, the assignment is created, and the cell's reserved and
//     in_progress counters move up by one.
//
// Concurrent callers racing for the same cells skip each other's row locks,
// so two interviewers never claim the same sample.
func ReserveNext(dbm *gorp.DbMap, cfg core.DialerConfig, req ReserveRequest, now time.Time) (ReserveResult, error) {
	ttl := cfg.DefaultTTL
	if req.TTL != nil {
		if *req.TTL <= 0 {
			return ReserveResult{}, core.ValidationErrorf("ttl", "ttl must be positive")
		}
		ttl = *req.TTL
	}

	// release whatever overdue reservations are still holding samples and
	// counters in this project, so they are up for grabs below
	_, err := SweepExpired(dbm, &req.ProjectID, now)
	if err != nil {
		return ReserveResult{}, err
	}

	tx, err := dbm.Begin()
	if err != nil {
		return ReserveResult{}, err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	project, err := getProjectTx(tx, req.ProjectID)
	if err != nil {
		return ReserveResult{}, err
	}
	if project.Status != db.ProjectStatusActive {
		return ReserveResult{}, core.ValidationErrorf("project", "project %q is not active", project.Code)
	}

	// lock and inspect this interviewer's reservations
	var held []db.DialerAssignment
	_, err = tx.Select(&held, lockInterviewerAssignmentsQuery, req.InterviewerID)
	if err != nil {
		return ReserveResult{}, err
	}
	for _, a := range held {
		if a.IsActiveAt(now) {
			return ReserveResult{}, core.ErrAlreadyReserved
		}
		err = expireAssignmentTx(tx, a, now)
		if err != nil {
			return ReserveResult{}, err
		}
	}

	scheme, err := pickSchemeForReservation(tx, req.ProjectID, req.SchemeID)
	if err != nil {
		return ReserveResult{}, err
	}

	var cells []db.QuotaCell
	_, err = tx.Select(&cells, lockSchemeCellsQuery, scheme.ID)
	if err != nil {
		return ReserveResult{}, err
	}
	open := make([]db.QuotaCell, 0, len(cells))
	for _, cell := range cells {
		if core.HasCapacity(cell, scheme.OverflowPolicy) {
			open = append(open, cell)
		}
	}
	if len(open) == 0 {
		return ReserveResult{}, core.ErrNoCapacity
	}
	slices.SortStableFunc(open, func(lhs, rhs db.QuotaCell) int {
		lhsScore := core.RankScore(lhs, scheme.OverflowPolicy)
		rhsScore := core.RankScore(rhs, scheme.OverflowPolicy)
		if lhsScore != rhsScore {
			return cmp.Compare(rhsScore, lhsScore)
		}
		return cmp.Compare(lhs.ID, rhs.ID)
	})

	for _, cell := range open {
		var sample db.SampleContact
		err := tx.SelectOne(&sample, claimNextSampleQuery, cell.ID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return ReserveResult{}, err
		}

		_, err = tx.Exec(claimSampleQuery, sample.ID, now, req.InterviewerID)
		if err != nil {
			return ReserveResult{}, err
		}
		sample.Status = db.SampleStatusClaimed
		sample.AttemptCount++
		sample.LastAttemptAt = &now
		sample.UsedAt = &now
		sample.InterviewerID = pointerTo(req.InterviewerID)

		assignmentUUID, err := uuid.NewV4()
		if err != nil {
			return ReserveResult{}, err
		}
		assignment := db.DialerAssignment{
			UUID:          db.DialerAssignmentUUID(assignmentUUID.String()),
			ProjectID:     req.ProjectID,
			SchemeID:      scheme.ID,
			CellID:        cell.ID,
			InterviewerID: req.InterviewerID,
			SampleID:      sample.ID,
			Status:        db.AssignmentStatusReserved,
			ReservedAt:    now,
			ExpiresAt:     now.Add(ttl),
			MetaJSON:      "{}",
		}
		err = tx.Insert(&assignment)
		if err != nil {
			// the partial unique index on (interviewer_id) WHERE status =
			// 'reserved' backstops the lock above against races
			if db.IsConflict(err) {
				return ReserveResult{}, core.ErrAlreadyReserved
			}
			return ReserveResult{}, err
		}

		_, err = tx.Exec(reserveCellCountersQuery, cell.ID, now)
		if err != nil {
			return ReserveResult{}, err
		}
		cell.Reserved++
		cell.InProgress++
		cell.UpdatedAt = now

		return ReserveResult{
			Assignment: assignment,
			Sample:     sample,
			Cell:       cell,
			Scheme:     scheme,
		}, tx.Commit()
	}

	return ReserveResult{}, core.ErrNoSample
}

func getProjectTx(tx *gorp.Transaction, projectID db.ProjectID) (db.Project, error) {
	var project db.Project
	err := tx.SelectOne(&project, `SELECT * FROM projects WHERE id = $1`, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return db.Project{}, core.ValidationErrorf("project", "no such project: %d", projectID)
	}
	return project, err
}
