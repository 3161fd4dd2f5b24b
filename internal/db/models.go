// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"time"

	"github.com/go-gorp/gorp/v3"
)

// ProjectStatus is an enum for Project.Status.
type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "active"
	ProjectStatusPaused   ProjectStatus = "paused"
	ProjectStatusArchived ProjectStatus = "archived"
)

// SchemeStatus is an enum for QuotaScheme.Status.
type SchemeStatus string

const (
	SchemeStatusDraft     SchemeStatus = "draft"
	SchemeStatusPublished SchemeStatus = "published"
	SchemeStatusArchived  SchemeStatus = "archived"
)

// OverflowPolicy is an enum for QuotaScheme.OverflowPolicy.
//
// "strict" caps each cell at its target. "soft" allows overshooting up to the
// cell's soft cap. "weighted" uses the same capacity limit as "soft", but
// ranks cells by weighted score instead of remaining slots during reservation.
type OverflowPolicy string

const (
	OverflowPolicyStrict   OverflowPolicy = "strict"
	OverflowPolicySoft     OverflowPolicy = "soft"
	OverflowPolicyWeighted OverflowPolicy = "weighted"
)

// SampleStatus is an enum for SampleContact.Status.
type SampleStatus string

const (
	SampleStatusAvailable SampleStatus = "available"
	SampleStatusClaimed   SampleStatus = "claimed"
	SampleStatusCompleted SampleStatus = "completed"
	SampleStatusBlocked   SampleStatus = "blocked"
)

// AssignmentStatus is an enum for DialerAssignment.Status.
type AssignmentStatus string

const (
	AssignmentStatusReserved  AssignmentStatus = "reserved"
	AssignmentStatusCompleted AssignmentStatus = "completed"
	AssignmentStatusFailed    AssignmentStatus = "failed"
	AssignmentStatusExpired   AssignmentStatus = "expired"
	AssignmentStatusCancelled AssignmentStatus = "cancelled"
)

// IsTerminal returns whether this status is one of the sticky end states.
func (s AssignmentStatus) IsTerminal() bool {
	return s != AssignmentStatusReserved
}

// InterviewStatus is an enum for Interview.Status.
type InterviewStatus string

const (
	InterviewStatusNotStarted InterviewStatus = "not_started"
	InterviewStatusInProgress InterviewStatus = "in_progress"
	InterviewStatusCompleted  InterviewStatus = "completed"
)

// Project contains a record from the `projects` table.
type Project struct {
	ID          ProjectID     `db:"id"`
	Code        string        `db:"code"`
	Name        string        `db:"name"`
	Description string        `db:"description"`
	OwnerID     UserID        `db:"owner_id"`
	Status      ProjectStatus `db:"status"`
	StartDate   *time.Time    `db:"start_date"` // pointer type to allow for NULL value
	EndDate     *time.Time    `db:"end_date"`
	CreatedAt   time.Time     `db:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"`
}

// QuotaScheme contains a record from the `quota_schemes` table.
//
// DimensionsJSON contains an ordered list of objects like
// `{"key": "gender", "values": ["M", "F"]}`, serialized as JSON.
type QuotaScheme struct {
	ID             QuotaSchemeID  `db:"id"`
	ProjectID      ProjectID      `db:"project_id"`
	Name           string         `db:"name"`
	Version        uint64         `db:"version"`
	Status         SchemeStatus   `db:"status"`
	DimensionsJSON string         `db:"dimensions"`
	OverflowPolicy OverflowPolicy `db:"overflow_policy"`
	Priority       int            `db:"priority"`
	IsDefault      bool           `db:"is_default"`
	CreatedBy      *UserID        `db:"created_by"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	PublishedAt    *time.Time     `db:"published_at"` // NULL until first published
}

// QuotaCell contains a record from the `quota_cells` table.
//
// SelectorJSON is the canonical JSON serialization of the cell's selector,
// i.e. with object keys sorted alphabetically. The UNIQUE constraint on
// (scheme_id, selector) relies on this canonical form.
//
// The Achieved/InProgress/Reserved counters are only ever mutated through
// atomic in-place UPDATE statements, never through gorp.Update(), to avoid
// read-modify-write cycles across the application boundary.
type QuotaCell struct {
	ID           QuotaCellID   `db:"id"`
	SchemeID     QuotaSchemeID `db:"scheme_id"`
	SelectorJSON string        `db:"selector"`
	Label        string        `db:"label"`
	Target       uint64        `db:"target"`
	SoftCap      *uint64       `db:"soft_cap"`
	Weight       float64       `db:"weight"`
	Achieved     uint64        `db:"achieved"`
	InProgress   uint64        `db:"in_progress"`
	Reserved     uint64        `db:"reserved"`
	UpdatedAt    time.Time     `db:"updated_at"`
	// NextReplenishAt is the checkpoint of the pool replenish job. It stays
	// at the zero value until the job first considers this cell.
	NextReplenishAt time.Time `db:"next_replenish_at"`
}

// SampleContact contains a record from the `sample_contacts` table.
type SampleContact struct {
	ID             SampleContactID `db:"id"`
	ProjectID      ProjectID       `db:"project_id"`
	QuotaCellID    *QuotaCellID    `db:"quota_cell_id"`
	PhoneID        *BankPhoneID    `db:"phone_id"`
	PersonID       *BankPersonID   `db:"person_id"`
	PhoneNumber    string          `db:"phone_number"`
	FullName       string          `db:"full_name"`
	Gender         *string         `db:"gender"`
	AgeBand        *string         `db:"age_band"`
	ProvinceCode   *string         `db:"province_code"`
	CityCode       *string         `db:"city_code"`
	AttributesJSON string          `db:"attributes"`
	IsActive       bool            `db:"is_active"`
	Status         SampleStatus    `db:"status"`
	AttemptCount   uint64          `db:"attempt_count"`
	LastAttemptAt  *time.Time      `db:"last_attempt_at"`
	InterviewerID  *UserID         `db:"interviewer_id"`
	UsedAt         *time.Time      `db:"used_at"`
	CreatedAt      time.Time       `db:"created_at"`
}

// DoNotContactEntry contains a record from the `do_not_contact` table.
type DoNotContactEntry struct {
	MSISDN  string    `db:"msisdn"`
	Reason  string    `db:"reason"`
	AddedAt time.Time `db:"added_at"`
}

// DialerAssignment contains a record from the `dialer_assignments` table.
type DialerAssignment struct {
	ID            DialerAssignmentID   `db:"id"`
	UUID          DialerAssignmentUUID `db:"uuid"`
	ProjectID     ProjectID            `db:"project_id"`
	SchemeID      QuotaSchemeID        `db:"scheme_id"`
	CellID        QuotaCellID          `db:"cell_id"`
	InterviewerID UserID               `db:"interviewer_id"`
	SampleID      SampleContactID      `db:"sample_id"`
	Status        AssignmentStatus     `db:"status"`
	ReservedAt    time.Time            `db:"reserved_at"`
	ExpiresAt     time.Time            `db:"expires_at"`
	CompletedAt   *time.Time           `db:"completed_at"`
	OutcomeCode   *string              `db:"outcome_code"`
	MetaJSON      string               `db:"meta"`
}

// IsActiveAt returns whether this assignment still holds its sample at the
// given point in time.
func (a DialerAssignment) IsActiveAt(now time.Time) bool {
	return a.Status == AssignmentStatusReserved && a.ExpiresAt.After(now)
}

// Interview contains a record from the `interviews` table.
// Each interview belongs to exactly one assignment.
type Interview struct {
	ID           InterviewID        `db:"id"`
	AssignmentID DialerAssignmentID `db:"assignment_id"`
	StartForm    *time.Time         `db:"start_form"`
	EndForm      *time.Time         `db:"end_form"`
	Status       InterviewStatus    `db:"status"`
	OutcomeCode  *string            `db:"outcome_code"`
	MetaJSON     string             `db:"meta"`
}

// initGorp is used by Init() to setup the ORM part of the database connection.
func initGorp(db *gorp.DbMap) {
	db.AddTableWithName(Project{}, "projects").SetKeys(true, "id")
	db.AddTableWithName(QuotaScheme{}, "quota_schemes").SetKeys(true, "id")
	db.AddTableWithName(QuotaCell{}, "quota_cells").SetKeys(true, "id")
	db.AddTableWithName(SampleContact{}, "sample_contacts").SetKeys(true, "id")
	db.AddTableWithName(DoNotContactEntry{}, "do_not_contact").SetKeys(false, "msisdn")
	db.AddTableWithName(DialerAssignment{}, "dialer_assignments").SetKeys(true, "id")
	db.AddTableWithName(Interview{}, "interviews").SetKeys(true, "id")
}
