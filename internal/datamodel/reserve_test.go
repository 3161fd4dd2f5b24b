// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/insightzen/dialerd/internal/core"
	"github.com/insightzen/dialerd/internal/db"
	"github.com/insightzen/dialerd/internal/test"
)

func TestReserveNextHappyPath(t *testing.T) {
	s := test.NewSetup(t)
	project := seedProject(t, s)
	scheme := seedScheme(t, s, project.ID, schemeOpts{IsDefault: true})
	// cellA has 1 slot left, cellB has 5; cellB must win
	cellA := seedCell(t, s, scheme.ID, cellOpts{Selector: core.Selector{"gender": "M"}, Target: 5, Achieved: 4})
	cellB := seedCell(t, s, scheme.ID, cellOpts{Selector: core.Selector{"gender": "F"}, Target: 5})
	seedSample(t, s, project.ID, cellA.ID, sampleOpts{Phone: "0912000001", Gender: "M"})
	sampleB := seedSample(t, s, project.ID, cellB.ID, sampleOpts{Phone: "0912000002", Gender: "F"})

	now := s.Clock.Now()
	result, err := ReserveNext(s.DB, s.Cfg.Dialer, ReserveRequest{ProjectID: project.ID, InterviewerID: 42}, now)
	mustT(t, err)

	if result.Cell.ID != cellB.ID {
		t.Errorf("expected reservation from cell %d, got cell %d", cellB.ID, result.Cell.ID)
	}
	if result.Sample.ID != sampleB.ID {
		t.Errorf("expected sample %d, got %d", sampleB.ID, result.Sample.ID)
	}
	a := result.Assignment
	if a.UUID == "" || a.Status != db.AssignmentStatusReserved || a.InterviewerID != 42 {
		t.Errorf("unexpected assignment: %+v", a)
	}
	if !a.ExpiresAt.Equal(now.Add(s.Cfg.Dialer.DefaultTTL)) {
		t.Errorf("unexpected expires_at: %s", a.ExpiresAt)
	}

	assertCounters(t, s, cellB.ID, 0, 1, 1)
	assertCounters(t, s, cellA.ID, 4, 0, 0)

	claimed := getSample(t, s, sampleB.ID)
	if claimed.Status != db.SampleStatusClaimed || claimed.AttemptCount != 1 ||
		claimed.InterviewerID == nil || *claimed.InterviewerID != 42 ||
		claimed.LastAttemptAt == nil || claimed.UsedAt == nil {
		t.Errorf("sample was not claimed properly: %+v", claimed)
	}
}

func TestReserveNextAlreadyReserved(t *testing.T) {
	s := test.NewSetup(t)
	project := seedProject(t, s)
	scheme := seedScheme(t, s, project.ID, schemeOpts{IsDefault: true})
	cell := seedCell(t, s, scheme.ID, cellOpts{Selector: core.Selector{"gender": "F"}, Target: 5})
	seedSample(t, s, project.ID, cell.ID, sampleOpts{Phone: "0912000001"})
	seedSample(t, s, project.ID, cell.ID, sampleOpts{Phone: "0912000002"})

	req := ReserveRequest{ProjectID: project.ID, InterviewerID: 42}
	_, err := ReserveNext(s.DB, s.Cfg.Dialer, req, s.Clock.Now())
	mustT(t, err)

	_, err = ReserveNext(s.DB, s.Cfg.Dialer, req, s.Clock.Now())
	if !errors.Is(err, core.ErrAlreadyReserved) {
		t.Errorf("expected ErrAlreadyReserved, got %v", err)
	}

	// a different interviewer is not affected
	_, err = ReserveNext(s.DB, s.Cfg.Dialer, ReserveRequest{ProjectID: project.ID, InterviewerID: 43}, s.Clock.Now())
	mustT(t, err)
}

func TestReserveNextNoCapacity(t *testing.T) {
	s := test.NewSetup(t)
	project := seedProject(t, s)
	scheme := seedScheme(t, s, project.ID, schemeOpts{IsDefault: true})
	cell := seedCell(t, s, scheme.ID, cellOpts{Selector: core.Selector{"gender": "F"}, Target: 3, Achieved: 3})
	seedSample(t, s, project.ID, cell.ID, sampleOpts{Phone: "0912000001"})

	_, err := ReserveNext(s.DB, s.Cfg.Dialer, ReserveRequest{ProjectID: project.ID, InterviewerID: 42}, s.Clock.Now())
	if !errors.Is(err, core.ErrNoCapacity) {
		t.Errorf("expected ErrNoCapacity, got %v", err)
	}
}

func TestReserveNextNoSample(t *testing.T) {
	s := test.NewSetup(t)
	project := seedProject(t, s)
	scheme := seedScheme(t, s, project.ID, schemeOpts{IsDefault: true})
	cell := seedCell(t, s, scheme.ID, cellOpts{Selector: core.Selector{"gender": "F"}, Target: 3})
	// the only sample is inactive
	seedSample(t, s, project.ID, cell.ID, sampleOpts{Phone: "0912000001", Inactive: true})

	_, err := ReserveNext(s.DB, s.Cfg.Dialer, ReserveRequest{ProjectID: project.ID, InterviewerID: 42}, s.Clock.Now())
	if !errors.Is(err, core.ErrNoSample) {
		t.Errorf("expected ErrNoSample, got %v", err)
	}
}

func TestReserveNextNoScheme(t *testing.T) {
	s := test.NewSetup(t)
	project := seedProject(t, s)
	seedScheme(t, s, project.ID, schemeOpts{Status: db.SchemeStatusDraft})

	_, err := ReserveNext(s.DB, s.Cfg.Dialer, ReserveRequest{ProjectID: project.ID, InterviewerID: 42}, s.Clock.Now())
	if !errors.Is(err, core.ErrNoSchemeAvailable) {
		t.Errorf("expected ErrNoSchemeAvailable, got %v", err)
	}
}

func TestReserveNextExplicitSchemeMustBePublished(t *testing.T) {
	s := test.NewSetup(t)
	project := seedProject(t, s)
	draft := seedScheme(t, s, project.ID, schemeOpts{Status: db.SchemeStatusDraft})

	_, err := ReserveNext(s.DB, s.Cfg.Dialer,
		ReserveRequest{ProjectID: project.ID, InterviewerID: 42, SchemeID: &draft.ID}, s.Clock.Now())
	if !core.IsValidationError(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestReserveNextExcludesDNC(t *testing.T) {
	s := test.NewSetup(t)
	project := seedProject(t, s)
	scheme := seedScheme(t, s, project.ID, schemeOpts{IsDefault: true})
	cell := seedCell(t, s, scheme.ID, cellOpts{Selector: core.Selector{"gender": "F"}, Target: 5})
	seedSample(t, s, project.ID, cell.ID, sampleOpts{Phone: "0912000001"})
	good := seedSample(t, s, project.ID, cell.ID, sampleOpts{Phone: "0912000002"})
	mustT(t, s.DB.Insert(&db.DoNotContactEntry{MSISDN: "0912000001", Reason: "opt-out", AddedAt: s.Clock.Now()}))

	result, err := ReserveNext(s.DB, s.Cfg.Dialer, ReserveRequest{ProjectID: project.ID, InterviewerID: 42}, s.Clock.Now())
	mustT(t, err)
	if result.Sample.ID != good.ID {
		t.Errorf("expected the non-DNC sample %d, got %d", good.ID, result.Sample.ID)
	}
}

func TestReserveNextFairnessOrdering(t *testing.T) {
	s := test.NewSetup(t)
	project := seedProject(t, s)
	scheme := seedScheme(t, s, project.ID, schemeOpts{IsDefault: true})
	cell := seedCell(t, s, scheme.ID, cellOpts{Selector: core.Selector{"gender": "F"}, Target: 10})

	attempted := s.Clock.Now().Add(-1 * time.Hour)
	older := s.Clock.Now().Add(-2 * time.Hour)
	recent := seedSample(t, s, project.ID, cell.ID, sampleOpts{Phone: "0912000001", LastAttemptAt: &attempted})
	staler := seedSample(t, s, project.ID, cell.ID, sampleOpts{Phone: "0912000002", LastAttemptAt: &older})
	fresh := seedSample(t, s, project.ID, cell.ID, sampleOpts{Phone: "0912000003"})

	// never-attempted first, then least recently attempted
	expectedOrder := []db.SampleContactID{fresh.ID, staler.ID, recent.ID}
	for idx, expected := range expectedOrder {
		result, err := ReserveNext(s.DB, s.Cfg.Dialer,
			ReserveRequest{ProjectID: project.ID, InterviewerID: db.UserID(100 + idx)}, s.Clock.Now())
		mustT(t, err)
		if result.Sample.ID != expected {
			t.Errorf("pick %d: expected sample %d, got %d", idx, expected, result.Sample.ID)
		}
	}
}

func TestReserveNextWeightedPolicy(t *testing.T) {
	s := test.NewSetup(t)
	project := seedProject(t, s)
	scheme := seedScheme(t, s, project.ID, schemeOpts{IsDefault: true, Policy: db.OverflowPolicyWeighted})
	// cellA: 3 slots × weight 1 = 3, cellB: 2 slots × weight 5 = 10
	cellA := seedCell(t, s, scheme.ID, cellOpts{Selector: core.Selector{"gender": "M"}, Target: 3, Weight: 1})
	cellB := seedCell(t, s, scheme.ID, cellOpts{Selector: core.Selector{"gender": "F"}, Target: 2, Weight: 5})
	seedSample(t, s, project.ID, cellA.ID, sampleOpts{Phone: "0912000001"})
	seedSample(t, s, project.ID, cellB.ID, sampleOpts{Phone: "0912000002"})

	result, err := ReserveNext(s.DB, s.Cfg.Dialer, ReserveRequest{ProjectID: project.ID, InterviewerID: 42}, s.Clock.Now())
	mustT(t, err)
	if result.Cell.ID != cellB.ID {
		t.Errorf("weighted policy should pick cell %d, got %d", cellB.ID, result.Cell.ID)
	}
}

func TestReserveNextWeightedDistribution(t *testing.T) {
	s := test.NewSetup(t)
	project := seedProject(t, s)
	scheme := seedScheme(t, s, project.ID, schemeOpts{IsDefault: true, Policy: db.OverflowPolicyWeighted})
	// equal targets, 2:1 weights; held reservations shrink the weighted
	// score, so picks interleave instead of draining cellA first
	cellA := seedCell(t, s, scheme.ID, cellOpts{Selector: core.Selector{"gender": "M"}, Target: 10, Weight: 2})
	cellB := seedCell(t, s, scheme.ID, cellOpts{Selector: core.Selector{"gender": "F"}, Target: 10, Weight: 1})
	for idx := range 10 {
		seedSample(t, s, project.ID, cellA.ID, sampleOpts{Phone: fmt.Sprintf("09121000%02d", idx)})
		seedSample(t, s, project.ID, cellB.ID, sampleOpts{Phone: fmt.Sprintf("09122000%02d", idx)})
	}

	picks := make(map[db.QuotaCellID]int)
	for idx := range 10 {
		result, err := ReserveNext(s.DB, s.Cfg.Dialer,
			ReserveRequest{ProjectID: project.ID, InterviewerID: db.UserID(100 + idx)}, s.Clock.Now())
		mustT(t, err)
		picks[result.Cell.ID]++
	}

	// score(A) = 2 * (10 - picksA), score(B) = 10 - picksB, ties go to the
	// lower cell ID; ten greedy picks land at 7:3
	if picks[cellA.ID] != 7 || picks[cellB.ID] != 3 {
		t.Errorf("expected a 7:3 split, got %d:%d", picks[cellA.ID], picks[cellB.ID])
	}
}

func TestReserveNextOnlyDNCSamplesLeft(t *testing.T) {
	s := test.NewSetup(t)
	project := seedProject(t, s)
	scheme := seedScheme(t, s, project.ID, schemeOpts{IsDefault: true})
	cell := seedCell(t, s, scheme.ID, cellOpts{Selector: core.Selector{"gender": "F"}, Target: 5})
	seedSample(t, s, project.ID, cell.ID, sampleOpts{Phone: "0912000001"})
	seedSample(t, s, project.ID, cell.ID, sampleOpts{Phone: "0912000002"})
	mustT(t, s.DB.Insert(&db.DoNotContactEntry{MSISDN: "0912000001", Reason: "opt-out", AddedAt: s.Clock.Now()}))
	mustT(t, s.DB.Insert(&db.DoNotContactEntry{MSISDN: "0912000002", Reason: "opt-out", AddedAt: s.Clock.Now()}))

	_, err := ReserveNext(s.DB, s.Cfg.Dialer, ReserveRequest{ProjectID: project.ID, InterviewerID: 42}, s.Clock.Now())
	if !errors.Is(err, core.ErrNoSample) {
		t.Errorf("expected ErrNoSample, got %v", err)
	}
}

func TestReserveNextReleasesExpiredReservation(t *testing.T) {
	s := test.NewSetup(t)
	project := seedProject(t, s)
	scheme := seedScheme(t, s, project.ID, schemeOpts{IsDefault: true})
	cell := seedCell(t, s, scheme.ID, cellOpts{Selector: core.Selector{"gender": "F"}, Target: 5})
	seedSample(t, s, project.ID, cell.ID, sampleOpts{Phone: "0912000001"})

	req := ReserveRequest{ProjectID: project.ID, InterviewerID: 42}
	first, err := ReserveNext(s.DB, s.Cfg.Dialer, req, s.Clock.Now())
	mustT(t, err)

	// the reservation outlives its TTL, so the same interviewer can reserve
	// again and gets the same (released) sample
	s.Clock.StepBy(s.Cfg.Dialer.DefaultTTL + time.Minute)
	second, err := ReserveNext(s.DB, s.Cfg.Dialer, req, s.Clock.Now())
	mustT(t, err)

	if second.Sample.ID != first.Sample.ID {
		t.Errorf("expected the released sample %d, got %d", first.Sample.ID, second.Sample.ID)
	}
	expired := getAssignment(t, s, first.Assignment.ID)
	if expired.Status != db.AssignmentStatusExpired {
		t.Errorf("expected first assignment to be expired, got %s", expired.Status)
	}
	if expired.CompletedAt != nil {
		t.Error("expiry must not stamp completed_at")
	}
	assertCounters(t, s, cell.ID, 0, 1, 1)

	sample := getSample(t, s, second.Sample.ID)
	if sample.AttemptCount != 2 {
		t.Errorf("expected attempt_count 2, got %d", sample.AttemptCount)
	}
}

func TestReserveNextValidation(t *testing.T) {
	s := test.NewSetup(t)
	project := seedProject(t, s)

	// non-positive TTL
	badTTL := -5 * time.Second
	_, err := ReserveNext(s.DB, s.Cfg.Dialer,
		ReserveRequest{ProjectID: project.ID, InterviewerID: 42, TTL: &badTTL}, s.Clock.Now())
	if !core.IsValidationError(err) {
		t.Errorf("expected validation error for negative TTL, got %v", err)
	}

	// unknown project
	_, err = ReserveNext(s.DB, s.Cfg.Dialer, ReserveRequest{ProjectID: 4711, InterviewerID: 42}, s.Clock.Now())
	if !core.IsValidationError(err) {
		t.Errorf("expected validation error for unknown project, got %v", err)
	}

	// paused project
	_, err = s.DB.Exec(`UPDATE projects SET status = 'paused' WHERE id = $1`, project.ID)
	mustT(t, err)
	_, err = ReserveNext(s.DB, s.Cfg.Dialer, ReserveRequest{ProjectID: project.ID, InterviewerID: 42}, s.Clock.Now())
	if !core.IsValidationError(err) {
		t.Errorf("expected validation error for paused project, got %v", err)
	}
}

func TestReserveNextUnlimitedCellComesFirst(t *testing.T) {
	s := test.NewSetup(t)
	project := seedProject(t, s)
	scheme := seedScheme(t, s, project.ID, schemeOpts{IsDefault: true})
	limited := seedCell(t, s, scheme.ID, cellOpts{Selector: core.Selector{"gender": "M"}, Target: 100})
	unlimited := seedCell(t, s, scheme.ID, cellOpts{Selector: core.Selector{"gender": "F"}, Target: 0})
	seedSample(t, s, project.ID, limited.ID, sampleOpts{Phone: "0912000001"})
	seedSample(t, s, project.ID, unlimited.ID, sampleOpts{Phone: "0912000002"})

	result, err := ReserveNext(s.DB, s.Cfg.Dialer, ReserveRequest{ProjectID: project.ID, InterviewerID: 42}, s.Clock.Now())
	mustT(t, err)
	if result.Cell.ID != unlimited.ID {
		t.Errorf("expected the unlimited cell %d to rank first, got %d", unlimited.ID, result.Cell.ID)
	}
}
