// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/insightzen/dialerd/internal/core"
	"github.com/insightzen/dialerd/internal/datamodel"
	"github.com/insightzen/dialerd/internal/db"
)

// parseRequestBody decodes an optional JSON request body. An empty body
// leaves the payload at its zero value.
func parseRequestBody(w http.ResponseWriter, r *http.Request, payload any) bool {
	err := json.NewDecoder(r.Body).Decode(payload)
	if err != nil && !errors.Is(err, io.EOF) {
		respondwith.JSON(w, http.StatusBadRequest, errorBody{
			Code: "malformed_body", Message: "request body is not valid JSON: " + err.Error(),
		})
		return false
	}
	return true
}

// ReserveNext handles POST /v1/projects/:project_id/reserve-next.
func (p *v1Provider) ReserveNext(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/projects/:project_id/reserve-next")

	projectID, ok := pathID[db.ProjectID](r, "project_id")
	if !ok {
		http.Error(w, "invalid project ID", http.StatusNotFound)
		return
	}
	interviewer, ok := interviewerID(r)
	if !ok {
		respondToError(w, core.ValidationErrorf("interviewer", "missing or invalid X-Interviewer-ID header"))
		return
	}

	var payload struct {
		SchemeID   *db.QuotaSchemeID `json:"scheme_id"`
		TTLSeconds *int64            `json:"ttl_seconds"`
	}
	if !parseRequestBody(w, r, &payload) {
		return
	}
	req := datamodel.ReserveRequest{
		ProjectID:     projectID,
		InterviewerID: interviewer,
		SchemeID:      payload.SchemeID,
	}
	if payload.TTLSeconds != nil {
		ttl := time.Duration(*payload.TTLSeconds) * time.Second
		req.TTL = &ttl
	}

	result, err := datamodel.ReserveNext(p.DB, p.Cfg.Dialer, req, p.timeNow())
	if respondToError(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusCreated, map[string]any{
		"assignment": renderAssignment(result.Assignment, &result.Sample),
	})
}

// SweepExpired handles POST /v1/projects/:project_id/sweep-expired.
//
// The background job does this continuously; the endpoint exists for
// supervisor tooling that wants fresh counters right now.
func (p *v1Provider) SweepExpired(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/projects/:project_id/sweep-expired")

	projectID, ok := pathID[db.ProjectID](r, "project_id")
	if !ok {
		http.Error(w, "invalid project ID", http.StatusNotFound)
		return
	}

	expired, err := datamodel.SweepExpired(p.DB, &projectID, p.timeNow())
	if respondToError(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"expired_count": expired})
}
