// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/insightzen/dialerd/internal/datamodel"
	"github.com/insightzen/dialerd/internal/db"
)

// findAssignment resolves the {uuid} path variable. On failure it writes the
// error response and returns nil.
func (p *v1Provider) findAssignment(w http.ResponseWriter, r *http.Request) *db.DialerAssignment {
	assignment, err := datamodel.GetAssignmentByUUID(p.DB, db.DialerAssignmentUUID(mux.Vars(r)["uuid"]))
	if err != nil {
		respondToError(w, err)
		return nil
	}
	return assignment
}

func (p *v1Provider) loadSample(w http.ResponseWriter, sampleID db.SampleContactID) *db.SampleContact {
	var sample db.SampleContact
	err := p.DB.SelectOne(&sample, `SELECT * FROM sample_contacts WHERE id = $1`, sampleID)
	if respondToError(w, err) {
		return nil
	}
	return &sample
}

// GetAssignment handles GET /v1/assignments/:uuid.
func (p *v1Provider) GetAssignment(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/assignments/:uuid")
	assignment := p.findAssignment(w, r)
	if assignment == nil {
		return
	}
	sample := p.loadSample(w, assignment.SampleID)
	if sample == nil {
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{
		"assignment": renderAssignment(*assignment, sample),
	})
}

// CompleteAssignment handles POST /v1/assignments/:uuid/complete.
func (p *v1Provider) CompleteAssignment(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/assignments/:uuid/complete")
	assignment := p.findAssignment(w, r)
	if assignment == nil {
		return
	}

	var payload struct {
		OutcomeCode *string        `json:"outcome_code"`
		Meta        map[string]any `json:"meta"`
	}
	if !parseRequestBody(w, r, &payload) {
		return
	}

	updated, err := datamodel.CompleteAssignment(p.DB, assignment.ID, payload.OutcomeCode, payload.Meta, p.timeNow())
	if respondToError(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"assignment": renderAssignment(*updated, nil)})
}

// FailAssignment handles POST /v1/assignments/:uuid/fail.
func (p *v1Provider) FailAssignment(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/assignments/:uuid/fail")
	assignment := p.findAssignment(w, r)
	if assignment == nil {
		return
	}

	var payload struct {
		OutcomeCode *string        `json:"outcome_code"`
		Reason      string         `json:"reason"`
		Meta        map[string]any `json:"meta"`
	}
	if !parseRequestBody(w, r, &payload) {
		return
	}

	updated, err := datamodel.FailAssignment(p.DB, assignment.ID, payload.OutcomeCode, payload.Reason, payload.Meta, p.timeNow())
	if respondToError(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"assignment": renderAssignment(*updated, nil)})
}

// CancelAssignment handles POST /v1/assignments/:uuid/cancel.
func (p *v1Provider) CancelAssignment(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/assignments/:uuid/cancel")
	assignment := p.findAssignment(w, r)
	if assignment == nil {
		return
	}

	var payload struct {
		Meta map[string]any `json:"meta"`
	}
	if !parseRequestBody(w, r, &payload) {
		return
	}

	updated, err := datamodel.CancelAssignment(p.DB, assignment.ID, payload.Meta, p.timeNow())
	if respondToError(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"assignment": renderAssignment(*updated, nil)})
}

// ExpireAssignment handles POST /v1/assignments/:uuid/expire.
func (p *v1Provider) ExpireAssignment(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/assignments/:uuid/expire")
	assignment := p.findAssignment(w, r)
	if assignment == nil {
		return
	}

	updated, err := datamodel.ExpireAssignment(p.DB, assignment.ID, p.timeNow())
	if respondToError(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"assignment": renderAssignment(*updated, nil)})
}

// GetInterview handles GET /v1/assignments/:uuid/interview.
func (p *v1Provider) GetInterview(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/assignments/:uuid/interview")
	assignment := p.findAssignment(w, r)
	if assignment == nil {
		return
	}

	interview, err := datamodel.GetInterview(p.DB, assignment.ID)
	if respondToError(w, err) {
		return
	}
	if interview == nil {
		respondwith.JSON(w, http.StatusNotFound, errorBody{
			Code: "no_interview", Message: "this assignment has no interview yet",
		})
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"interview": renderInterview(*interview, assignment.UUID)})
}

// StartInterview handles POST /v1/assignments/:uuid/interview/start.
func (p *v1Provider) StartInterview(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/assignments/:uuid/interview/start")
	assignment := p.findAssignment(w, r)
	if assignment == nil {
		return
	}

	interview, err := datamodel.StartInterview(p.DB, assignment.ID, p.timeNow())
	if respondToError(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"interview": renderInterview(*interview, assignment.UUID)})
}

// CompleteInterview handles POST /v1/assignments/:uuid/interview/complete.
func (p *v1Provider) CompleteInterview(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/assignments/:uuid/interview/complete")
	assignment := p.findAssignment(w, r)
	if assignment == nil {
		return
	}

	var payload struct {
		OutcomeCode *string        `json:"outcome_code"`
		Meta        map[string]any `json:"meta"`
	}
	if !parseRequestBody(w, r, &payload) {
		return
	}

	interview, err := datamodel.CompleteInterview(p.DB, assignment.ID, payload.OutcomeCode, payload.Meta, p.timeNow())
	if respondToError(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"interview": renderInterview(*interview, assignment.UUID)})
}
