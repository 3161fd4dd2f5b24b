// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"time"

	"github.com/insightzen/dialerd/internal/db"
)

// assignmentJSON is the API representation of a dialer assignment. The
// numeric primary key stays internal; clients address assignments by UUID.
type assignmentJSON struct {
	UUID          db.DialerAssignmentUUID `json:"uuid"`
	ProjectID     db.ProjectID            `json:"project_id"`
	SchemeID      db.QuotaSchemeID        `json:"scheme_id"`
	CellID        db.QuotaCellID          `json:"cell_id"`
	InterviewerID db.UserID               `json:"interviewer_id"`
	Status        db.AssignmentStatus     `json:"status"`
	ReservedAt    time.Time               `json:"reserved_at"`
	ExpiresAt     time.Time               `json:"expires_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
	OutcomeCode   *string                 `json:"outcome_code,omitempty"`
	Meta          json.RawMessage         `json:"meta"`
	Sample        *sampleJSON             `json:"sample,omitempty"`
}

type sampleJSON struct {
	PhoneNumber  string          `json:"phone_number"`
	FullName     string          `json:"full_name,omitempty"`
	Gender       *string         `json:"gender,omitempty"`
	AgeBand      *string         `json:"age_band,omitempty"`
	ProvinceCode *string         `json:"province_code,omitempty"`
	CityCode     *string         `json:"city_code,omitempty"`
	AttemptCount uint64          `json:"attempt_count"`
	Attributes   json.RawMessage `json:"attributes"`
}

type interviewJSON struct {
	AssignmentUUID db.DialerAssignmentUUID `json:"assignment_uuid"`
	Status         db.InterviewStatus      `json:"status"`
	StartForm      *time.Time              `json:"start_form,omitempty"`
	EndForm        *time.Time              `json:"end_form,omitempty"`
	OutcomeCode    *string                 `json:"outcome_code,omitempty"`
	Meta           json.RawMessage         `json:"meta"`
}

func renderAssignment(a db.DialerAssignment, sample *db.SampleContact) assignmentJSON {
	result := assignmentJSON{
		UUID:          a.UUID,
		ProjectID:     a.ProjectID,
		SchemeID:      a.SchemeID,
		CellID:        a.CellID,
		InterviewerID: a.InterviewerID,
		Status:        a.Status,
		ReservedAt:    a.ReservedAt,
		ExpiresAt:     a.ExpiresAt,
		CompletedAt:   a.CompletedAt,
		OutcomeCode:   a.OutcomeCode,
		Meta:          rawJSONOrEmptyObject(a.MetaJSON),
	}
	if sample != nil {
		result.Sample = &sampleJSON{
			PhoneNumber:  sample.PhoneNumber,
			FullName:     sample.FullName,
			Gender:       sample.Gender,
			AgeBand:      sample.AgeBand,
			ProvinceCode: sample.ProvinceCode,
			CityCode:     sample.CityCode,
			AttemptCount: sample.AttemptCount,
			Attributes:   rawJSONOrEmptyObject(sample.AttributesJSON),
		}
	}
	return result
}

func renderInterview(i db.Interview, assignmentUUID db.DialerAssignmentUUID) interviewJSON {
	return interviewJSON{
		AssignmentUUID: assignmentUUID,
		Status:         i.Status,
		StartForm:      i.StartForm,
		EndForm:        i.EndForm,
		OutcomeCode:    i.OutcomeCode,
		Meta:           rawJSONOrEmptyObject(i.MetaJSON),
	}
}

func rawJSONOrEmptyObject(buf string) json.RawMessage {
	if buf == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(buf)
}
