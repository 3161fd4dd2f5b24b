// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"testing"
	"time"

	"github.com/insightzen/dialerd/internal/core"
	"github.com/insightzen/dialerd/internal/db"
	"github.com/insightzen/dialerd/internal/test"
)

func mustT(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func seedProject(t *testing.T, s test.Setup) db.Project {
	t.Helper()
	project := db.Project{
		Code:      "omnibus-2025",
		Name:      "National Omnibus 2025",
		OwnerID:   1,
		Status:    db.ProjectStatusActive,
		CreatedAt: s.Clock.Now(),
		UpdatedAt: s.Clock.Now(),
	}
	mustT(t, s.DB.Insert(&project))
	return project
}

type schemeOpts struct {
	Status    db.SchemeStatus
	Policy    db.OverflowPolicy
	Priority  int
	IsDefault bool
}

func seedScheme(t *testing.T, s test.Setup, projectID db.ProjectID, opts schemeOpts) db.QuotaScheme {
	t.Helper()
	if opts.Status == "" {
		opts.Status = db.SchemeStatusPublished
	}
	if opts.Policy == "" {
		opts.Policy = db.OverflowPolicyStrict
	}
	scheme := db.QuotaScheme{
		ProjectID:      projectID,
		Name:           "main",
		Version:        1,
		Status:         opts.Status,
		DimensionsJSON: `[{"key":"gender","values":["M","F"]}]`,
		OverflowPolicy: opts.Policy,
		Priority:       opts.Priority,
		IsDefault:      opts.IsDefault,
		CreatedAt:      s.Clock.Now(),
		UpdatedAt:      s.Clock.Now(),
	}
	if opts.Status == db.SchemeStatusPublished {
		now := s.Clock.Now()
		scheme.PublishedAt = &now
	}
	mustT(t, s.DB.Insert(&scheme))
	return scheme
}

type cellOpts struct {
	Selector   core.Selector
	Target     uint64
	SoftCap    *uint64
	Weight     float64
	Achieved   uint64
	InProgress uint64
}

func seedCell(t *testing.T, s test.Setup, schemeID db.QuotaSchemeID, opts cellOpts) db.QuotaCell {
	t.Helper()
	selectorJSON, err := core.SerializeSelector(opts.Selector)
	mustT(t, err)
	if opts.Weight == 0 {
		opts.Weight = 1
	}
	cell := db.QuotaCell{
		SchemeID:     schemeID,
		SelectorJSON: selectorJSON,
		Target:       opts.Target,
		SoftCap:      opts.SoftCap,
		Weight:       opts.Weight,
		Achieved:     opts.Achieved,
		InProgress:   opts.InProgress,
		UpdatedAt:    s.Clock.Now(),
	}
	mustT(t, s.DB.Insert(&cell))
	return cell
}

type sampleOpts struct {
	Phone         string
	Gender        string
	LastAttemptAt *time.Time
	Status        db.SampleStatus
	Inactive      bool
}

func seedSample(t *testing.T, s test.Setup, projectID db.ProjectID, cellID db.QuotaCellID, opts sampleOpts) db.SampleContact {
	t.Helper()
	if opts.Status == "" {
		opts.Status = db.SampleStatusAvailable
	}
	sample := db.SampleContact{
		ProjectID:      projectID,
		QuotaCellID:    &cellID,
		PhoneNumber:    opts.Phone,
		AttributesJSON: "{}",
		IsActive:       !opts.Inactive,
		Status:         opts.Status,
		LastAttemptAt:  opts.LastAttemptAt,
		CreatedAt:      s.Clock.Now(),
	}
	if opts.Gender != "" {
		sample.Gender = &opts.Gender
	}
	mustT(t, s.DB.Insert(&sample))
	return sample
}

func getCell(t *testing.T, s test.Setup, cellID db.QuotaCellID) db.QuotaCell {
	t.Helper()
	var cell db.QuotaCell
	mustT(t, s.DB.SelectOne(&cell, `SELECT * FROM quota_cells WHERE id = $1`, cellID))
	return cell
}

func getSample(t *testing.T, s test.Setup, sampleID db.SampleContactID) db.SampleContact {
	t.Helper()
	var sample db.SampleContact
	mustT(t, s.DB.SelectOne(&sample, `SELECT * FROM sample_contacts WHERE id = $1`, sampleID))
	return sample
}

func getAssignment(t *testing.T, s test.Setup, assignmentID db.DialerAssignmentID) db.DialerAssignment {
	t.Helper()
	var assignment db.DialerAssignment
	mustT(t, s.DB.SelectOne(&assignment, `SELECT * FROM dialer_assignments WHERE id = $1`, assignmentID))
	return assignment
}

func assertCounters(t *testing.T, s test.Setup, cellID db.QuotaCellID, achieved, inProgress, reserved uint64) {
	t.Helper()
	cell := getCell(t, s, cellID)
	if cell.Achieved != achieved || cell.InProgress != inProgress || cell.Reserved != reserved {
		t.Errorf("unexpected counters on cell %d: got achieved=%d/in_progress=%d/reserved=%d, want %d/%d/%d",
			cellID, cell.Achieved, cell.InProgress, cell.Reserved, achieved, inProgress, reserved)
	}
}
