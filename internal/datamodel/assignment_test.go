// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"strings"
	"testing"
	"time"

	"github.com/insightzen/dialerd/internal/core"
	"github.com/insightzen/dialerd/internal/db"
	"github.com/insightzen/dialerd/internal/test"
)

// reserveOne seeds a minimal project with one cell and one sample, and
// reserves that sample for interviewer 42.
func reserveOne(t *testing.T, s test.Setup) ReserveResult {
	t.Helper()
	project := seedProject(t, s)
	scheme := seedScheme(t, s, project.ID, schemeOpts{IsDefault: true})
	cell := seedCell(t, s, scheme.ID, cellOpts{Selector: core.Selector{"gender": "F"}, Target: 5})
	seedSample(t, s, project.ID, cell.ID, sampleOpts{Phone: "0912000001", Gender: "F"})

	result, err := ReserveNext(s.DB, s.Cfg.Dialer, ReserveRequest{ProjectID: project.ID, InterviewerID: 42}, s.Clock.Now())
	mustT(t, err)
	return result
}

func TestCompleteAssignment(t *testing.T) {
	s := test.NewSetup(t)
	result := reserveOne(t, s)
	s.Clock.StepBy(5 * time.Minute)

	outcome := "SUCCESS"
	updated, err := CompleteAssignment(s.DB, result.Assignment.ID, &outcome, map[string]any{"note": "smooth call"}, s.Clock.Now())
	mustT(t, err)

	if updated.Status != db.AssignmentStatusCompleted {
		t.Errorf("expected status completed, got %s", updated.Status)
	}
	if updated.CompletedAt == nil || !updated.CompletedAt.Equal(s.Clock.Now()) {
		t.Errorf("unexpected completed_at: %v", updated.CompletedAt)
	}
	if updated.OutcomeCode == nil || *updated.OutcomeCode != "SUCCESS" {
		t.Errorf("unexpected outcome_code: %v", updated.OutcomeCode)
	}
	if !strings.Contains(updated.MetaJSON, "smooth call") {
		t.Errorf("meta was not merged: %s", updated.MetaJSON)
	}

	assertCounters(t, s, result.Cell.ID, 1, 0, 0)

	sample := getSample(t, s, result.Sample.ID)
	if sample.Status != db.SampleStatusCompleted {
		t.Errorf("expected sample completed, got %s", sample.Status)
	}

	// the interview is lazily created and closed
	interview, err := GetInterview(s.DB, result.Assignment.ID)
	mustT(t, err)
	if interview == nil {
		t.Fatal("expected an interview to exist")
	}
	if interview.Status != db.InterviewStatusCompleted {
		t.Errorf("expected interview completed, got %s", interview.Status)
	}
	if interview.StartForm == nil || !interview.StartForm.Equal(result.Assignment.ReservedAt) {
		t.Errorf("expected start_form = reserved_at, got %v", interview.StartForm)
	}
	if interview.EndForm == nil || !interview.EndForm.Equal(s.Clock.Now()) {
		t.Errorf("expected end_form = now, got %v", interview.EndForm)
	}
}

func TestFailAssignment(t *testing.T) {
	s := test.NewSetup(t)
	result := reserveOne(t, s)

	// the interviewer had opened the form already
	_, err := StartInterview(s.DB, result.Assignment.ID, s.Clock.Now())
	mustT(t, err)

	updated, err := FailAssignment(s.DB, result.Assignment.ID, nil, "no answer", nil, s.Clock.Now())
	mustT(t, err)

	if updated.Status != db.AssignmentStatusFailed {
		t.Errorf("expected status failed, got %s", updated.Status)
	}
	if updated.OutcomeCode == nil || *updated.OutcomeCode != "FAIL" {
		t.Errorf("expected default outcome FAIL, got %v", updated.OutcomeCode)
	}
	if !strings.Contains(updated.MetaJSON, `"failure_reason":"no answer"`) {
		t.Errorf("failure reason was not recorded: %s", updated.MetaJSON)
	}

	assertCounters(t, s, result.Cell.ID, 0, 0, 0)

	// the sample goes back into the pool
	sample := getSample(t, s, result.Sample.ID)
	if sample.Status != db.SampleStatusAvailable || sample.InterviewerID != nil {
		t.Errorf("sample was not released: %+v", sample)
	}
	if sample.AttemptCount != 1 {
		t.Errorf("attempt_count must survive the release, got %d", sample.AttemptCount)
	}

	// the unfinished interview is discarded
	interview, err := GetInterview(s.DB, result.Assignment.ID)
	mustT(t, err)
	if interview != nil {
		t.Errorf("expected the interview to be deleted, got %+v", interview)
	}
}

func TestCancelAssignment(t *testing.T) {
	s := test.NewSetup(t)
	result := reserveOne(t, s)

	updated, err := CancelAssignment(s.DB, result.Assignment.ID, nil, s.Clock.Now())
	mustT(t, err)

	if updated.Status != db.AssignmentStatusCancelled {
		t.Errorf("expected status cancelled, got %s", updated.Status)
	}
	if updated.OutcomeCode != nil {
		t.Errorf("cancel must not set an outcome code, got %v", updated.OutcomeCode)
	}
	assertCounters(t, s, result.Cell.ID, 0, 0, 0)
	sample := getSample(t, s, result.Sample.ID)
	if sample.Status != db.SampleStatusAvailable {
		t.Errorf("sample was not released: %+v", sample)
	}
}

func TestExpireAssignment(t *testing.T) {
	s := test.NewSetup(t)
	result := reserveOne(t, s)
	_, err := StartInterview(s.DB, result.Assignment.ID, s.Clock.Now())
	mustT(t, err)

	updated, err := ExpireAssignment(s.DB, result.Assignment.ID, s.Clock.Now())
	mustT(t, err)

	if updated.Status != db.AssignmentStatusExpired {
		t.Errorf("expected status expired, got %s", updated.Status)
	}
	stored := getAssignment(t, s, result.Assignment.ID)
	if stored.CompletedAt != nil {
		t.Error("expire must not stamp completed_at")
	}
	assertCounters(t, s, result.Cell.ID, 0, 0, 0)

	interview, err := GetInterview(s.DB, result.Assignment.ID)
	mustT(t, err)
	if interview != nil {
		t.Errorf("expected the interview to be deleted, got %+v", interview)
	}
}

func TestTerminalTransitionsAreIdempotent(t *testing.T) {
	s := test.NewSetup(t)
	result := reserveOne(t, s)

	outcome := "SUCCESS"
	_, err := CompleteAssignment(s.DB, result.Assignment.ID, &outcome, nil, s.Clock.Now())
	mustT(t, err)

	// every further transition is a no-op that reports the stored state
	updated, err := FailAssignment(s.DB, result.Assignment.ID, nil, "too late", nil, s.Clock.Now())
	mustT(t, err)
	if updated.Status != db.AssignmentStatusCompleted {
		t.Errorf("fail on terminal assignment must not change status, got %s", updated.Status)
	}
	updated, err = CancelAssignment(s.DB, result.Assignment.ID, nil, s.Clock.Now())
	mustT(t, err)
	if updated.Status != db.AssignmentStatusCompleted {
		t.Errorf("cancel on terminal assignment must not change status, got %s", updated.Status)
	}
	updated, err = ExpireAssignment(s.DB, result.Assignment.ID, s.Clock.Now())
	mustT(t, err)
	if updated.Status != db.AssignmentStatusCompleted {
		t.Errorf("expire on terminal assignment must not change status, got %s", updated.Status)
	}

	// counters moved exactly once
	assertCounters(t, s, result.Cell.ID, 1, 0, 0)
}

func TestStartInterviewIsIdempotent(t *testing.T) {
	s := test.NewSetup(t)
	result := reserveOne(t, s)

	first, err := StartInterview(s.DB, result.Assignment.ID, s.Clock.Now())
	mustT(t, err)
	if first.Status != db.InterviewStatusInProgress {
		t.Errorf("expected in_progress, got %s", first.Status)
	}
	if first.StartForm == nil || !first.StartForm.Equal(result.Assignment.ReservedAt) {
		t.Errorf("expected start_form = reserved_at, got %v", first.StartForm)
	}

	second, err := StartInterview(s.DB, result.Assignment.ID, s.Clock.Now())
	mustT(t, err)
	if second.ID != first.ID {
		t.Errorf("second start created a new interview: %d != %d", second.ID, first.ID)
	}
}

func TestCompleteInterviewWithoutAssignmentTransition(t *testing.T) {
	s := test.NewSetup(t)
	result := reserveOne(t, s)

	_, err := StartInterview(s.DB, result.Assignment.ID, s.Clock.Now())
	mustT(t, err)
	s.Clock.StepBy(10 * time.Minute)

	outcome := "OK"
	interview, err := CompleteInterview(s.DB, result.Assignment.ID, &outcome, nil, s.Clock.Now())
	mustT(t, err)
	if interview.Status != db.InterviewStatusCompleted {
		t.Errorf("expected completed, got %s", interview.Status)
	}
	if interview.EndForm == nil || !interview.EndForm.Equal(s.Clock.Now()) {
		t.Errorf("unexpected end_form: %v", interview.EndForm)
	}

	// the assignment itself stays reserved
	stored := getAssignment(t, s, result.Assignment.ID)
	if stored.Status != db.AssignmentStatusReserved {
		t.Errorf("assignment must stay reserved, got %s", stored.Status)
	}

	// a later fail of the assignment discards the interview, completed or not
	_, err = FailAssignment(s.DB, result.Assignment.ID, nil, "", nil, s.Clock.Now())
	mustT(t, err)
	discarded, err := GetInterview(s.DB, result.Assignment.ID)
	mustT(t, err)
	if discarded != nil {
		t.Errorf("expected the interview to be deleted, got %+v", discarded)
	}
}

func TestStartInterviewOnTerminalAssignment(t *testing.T) {
	s := test.NewSetup(t)
	result := reserveOne(t, s)

	_, err := CancelAssignment(s.DB, result.Assignment.ID, nil, s.Clock.Now())
	mustT(t, err)

	_, err = StartInterview(s.DB, result.Assignment.ID, s.Clock.Now())
	if !core.IsValidationError(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	s := test.NewSetup(t)
	project := seedProject(t, s)
	scheme := seedScheme(t, s, project.ID, schemeOpts{IsDefault: true})
	cell := seedCell(t, s, scheme.ID, cellOpts{Selector: core.Selector{"gender": "F"}, Target: 10})
	seedSample(t, s, project.ID, cell.ID, sampleOpts{Phone: "0912000001"})
	seedSample(t, s, project.ID, cell.ID, sampleOpts{Phone: "0912000002"})

	shortTTL := 1 * time.Minute
	_, err := ReserveNext(s.DB, s.Cfg.Dialer,
		ReserveRequest{ProjectID: project.ID, InterviewerID: 42, TTL: &shortTTL}, s.Clock.Now())
	mustT(t, err)
	_, err = ReserveNext(s.DB, s.Cfg.Dialer,
		ReserveRequest{ProjectID: project.ID, InterviewerID: 43}, s.Clock.Now())
	mustT(t, err)

	// only the short-TTL reservation is overdue
	s.Clock.StepBy(5 * time.Minute)
	expired, err := SweepExpired(s.DB, &project.ID, s.Clock.Now())
	mustT(t, err)
	if expired != 1 {
		t.Errorf("expected 1 expiration, got %d", expired)
	}
	assertCounters(t, s, cell.ID, 0, 1, 1)

	// sweeping again finds nothing
	expired, err = SweepExpired(s.DB, nil, s.Clock.Now())
	mustT(t, err)
	if expired != 0 {
		t.Errorf("expected 0 expirations, got %d", expired)
	}
}
