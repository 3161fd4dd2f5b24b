// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

// Package api serves the dialerd v1 API. Authentication and permission
// checks happen in the platform gateway in front of this service; the API
// trusts the X-Interviewer-ID header that the gateway injects.
package api

import (
	"net/http"
	"strconv"
	"time"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/insightzen/dialerd/internal/bank"
	"github.com/insightzen/dialerd/internal/core"
	"github.com/insightzen/dialerd/internal/db"
)

// VersionData is used by the version advertisement on "GET /".
type VersionData struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

type v1Provider struct {
	DB   *gorp.DbMap
	Cfg  core.Config
	Bank bank.Gateway
	// slot for test doubles
	timeNow func() time.Time
}

// NewV1API creates an httpapi.API that serves the dialerd v1 API.
func NewV1API(dbm *gorp.DbMap, cfg core.Config, gw bank.Gateway, timeNow func() time.Time) httpapi.API {
	return &v1Provider{DB: dbm, Cfg: cfg, Bank: gw, timeNow: timeNow}
}

// AddTo implements the httpapi.API interface.
func (p *v1Provider) AddTo(r *mux.Router) {
	r.Methods("GET").Path("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpapi.IdentifyEndpoint(r, "/")
		respondwith.JSON(w, http.StatusMultipleChoices, map[string]any{
			"versions": []VersionData{{Status: "CURRENT", ID: "v1"}},
		})
	})

	r.Methods("POST").Path("/v1/projects/{project_id}/reserve-next").HandlerFunc(p.ReserveNext)
	r.Methods("POST").Path("/v1/projects/{project_id}/sweep-expired").HandlerFunc(p.SweepExpired)

	r.Methods("GET").Path("/v1/assignments/{uuid}").HandlerFunc(p.GetAssignment)
	r.Methods("POST").Path("/v1/assignments/{uuid}/complete").HandlerFunc(p.CompleteAssignment)
	r.Methods("POST").Path("/v1/assignments/{uuid}/fail").HandlerFunc(p.FailAssignment)
	r.Methods("POST").Path("/v1/assignments/{uuid}/cancel").HandlerFunc(p.CancelAssignment)
	r.Methods("POST").Path("/v1/assignments/{uuid}/expire").HandlerFunc(p.ExpireAssignment)

	r.Methods("GET").Path("/v1/assignments/{uuid}/interview").HandlerFunc(p.GetInterview)
	r.Methods("POST").Path("/v1/assignments/{uuid}/interview/start").HandlerFunc(p.StartInterview)
	r.Methods("POST").Path("/v1/assignments/{uuid}/interview/complete").HandlerFunc(p.CompleteInterview)

	r.Methods("POST").Path("/v1/schemes/{scheme_id}/publish").HandlerFunc(p.PublishScheme)
	r.Methods("POST").Path("/v1/schemes/{scheme_id}/archive").HandlerFunc(p.ArchiveScheme)
	r.Methods("POST").Path("/v1/schemes/{scheme_id}/cells").HandlerFunc(p.BulkUpsertCells)
	r.Methods("GET").Path("/v1/schemes/{scheme_id}/stats").HandlerFunc(p.GetSchemeStats)
	r.Methods("POST").Path("/v1/schemes/{scheme_id}/pool/build").HandlerFunc(p.BuildPools)
}

// interviewerID reads the X-Interviewer-ID header that the gateway injects
// after authentication.
func interviewerID(r *http.Request) (db.UserID, bool) {
	value, err := strconv.ParseInt(r.Header.Get("X-Interviewer-ID"), 10, 64)
	if err != nil || value <= 0 {
		return 0, false
	}
	return db.UserID(value), true
}

func pathID[I ~int64](r *http.Request, key string) (I, bool) {
	value, err := strconv.ParseInt(mux.Vars(r)[key], 10, 64)
	if err != nil || value <= 0 {
		return 0, false
	}
	return I(value), true
}
