// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/insightzen/dialerd/internal/core"
	"github.com/insightzen/dialerd/internal/datamodel"
	"github.com/insightzen/dialerd/internal/db"
)

type schemeJSON struct {
	ID             db.QuotaSchemeID  `json:"id"`
	ProjectID      db.ProjectID      `json:"project_id"`
	Name           string            `json:"name"`
	Version        uint64            `json:"version"`
	Status         db.SchemeStatus   `json:"status"`
	OverflowPolicy db.OverflowPolicy `json:"overflow_policy"`
	Priority       int               `json:"priority"`
	IsDefault      bool              `json:"is_default"`
}

func renderScheme(s db.QuotaScheme) schemeJSON {
	return schemeJSON{
		ID:             s.ID,
		ProjectID:      s.ProjectID,
		Name:           s.Name,
		Version:        s.Version,
		Status:         s.Status,
		OverflowPolicy: s.OverflowPolicy,
		Priority:       s.Priority,
		IsDefault:      s.IsDefault,
	}
}

type cellJSON struct {
	ID         db.QuotaCellID `json:"id"`
	Selector   core.Selector  `json:"selector"`
	Label      string         `json:"label,omitempty"`
	Target     uint64         `json:"target"`
	SoftCap    *uint64        `json:"soft_cap,omitempty"`
	Weight     float64        `json:"weight"`
	Achieved   uint64         `json:"achieved"`
	InProgress uint64         `json:"in_progress"`
	Reserved   uint64         `json:"reserved"`
}

func renderCell(w http.ResponseWriter, c db.QuotaCell) (cellJSON, bool) {
	selector, err := core.ParseSelector(c.SelectorJSON)
	if respondToError(w, err) {
		return cellJSON{}, false
	}
	return cellJSON{
		ID:         c.ID,
		Selector:   selector,
		Label:      c.Label,
		Target:     c.Target,
		SoftCap:    c.SoftCap,
		Weight:     c.Weight,
		Achieved:   c.Achieved,
		InProgress: c.InProgress,
		Reserved:   c.Reserved,
	}, true
}

// PublishScheme handles POST /v1/schemes/:scheme_id/publish.
func (p *v1Provider) PublishScheme(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/schemes/:scheme_id/publish")
	schemeID, ok := pathID[db.QuotaSchemeID](r, "scheme_id")
	if !ok {
		http.Error(w, "invalid scheme ID", http.StatusNotFound)
		return
	}

	var payload struct {
		IsDefault *bool `json:"is_default"`
	}
	if !parseRequestBody(w, r, &payload) {
		return
	}

	scheme, err := datamodel.PublishScheme(p.DB, schemeID, payload.IsDefault, p.timeNow())
	if respondToError(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"scheme": renderScheme(*scheme)})
}

// ArchiveScheme handles POST /v1/schemes/:scheme_id/archive.
func (p *v1Provider) ArchiveScheme(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/schemes/:scheme_id/archive")
	schemeID, ok := pathID[db.QuotaSchemeID](r, "scheme_id")
	if !ok {
		http.Error(w, "invalid scheme ID", http.StatusNotFound)
		return
	}

	scheme, err := datamodel.ArchiveScheme(p.DB, schemeID, p.timeNow())
	if respondToError(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"scheme": renderScheme(*scheme)})
}

// BulkUpsertCells handles POST /v1/schemes/:scheme_id/cells.
func (p *v1Provider) BulkUpsertCells(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/schemes/:scheme_id/cells")
	schemeID, ok := pathID[db.QuotaSchemeID](r, "scheme_id")
	if !ok {
		http.Error(w, "invalid scheme ID", http.StatusNotFound)
		return
	}

	var payload struct {
		Cells []struct {
			Selector core.Selector `json:"selector"`
			Label    string        `json:"label"`
			Target   int64         `json:"target"`
			SoftCap  *int64        `json:"soft_cap"`
			Weight   *float64      `json:"weight"`
		} `json:"cells"`
	}
	if !parseRequestBody(w, r, &payload) {
		return
	}
	if len(payload.Cells) == 0 {
		respondToError(w, core.ValidationErrorf("cells", "at least one cell is required"))
		return
	}

	specs := make([]datamodel.CellSpec, len(payload.Cells))
	for idx, c := range payload.Cells {
		specs[idx] = datamodel.CellSpec{
			Selector: c.Selector,
			Label:    c.Label,
			Target:   c.Target,
			SoftCap:  c.SoftCap,
			Weight:   c.Weight,
		}
	}

	cells, err := datamodel.BulkUpsertCells(p.DB, schemeID, specs, p.timeNow())
	if respondToError(w, err) {
		return
	}
	result := make([]cellJSON, 0, len(cells))
	for _, cell := range cells {
		rendered, ok := renderCell(w, cell)
		if !ok {
			return
		}
		result = append(result, rendered)
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"cells": result})
}

// GetSchemeStats handles GET /v1/schemes/:scheme_id/stats.
func (p *v1Provider) GetSchemeStats(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/schemes/:scheme_id/stats")
	schemeID, ok := pathID[db.QuotaSchemeID](r, "scheme_id")
	if !ok {
		http.Error(w, "invalid scheme ID", http.StatusNotFound)
		return
	}

	stats, err := datamodel.GetSchemeStats(p.DB, schemeID)
	if respondToError(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, stats)
}

// BuildPools handles POST /v1/schemes/:scheme_id/pool/build. It builds the
// sample pools of all cells in the scheme (or of the cells listed in the
// request), and reports per-cell counts.
func (p *v1Provider) BuildPools(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/schemes/:scheme_id/pool/build")
	schemeID, ok := pathID[db.QuotaSchemeID](r, "scheme_id")
	if !ok {
		http.Error(w, "invalid scheme ID", http.StatusNotFound)
		return
	}

	var payload struct {
		CellIDs []db.QuotaCellID `json:"cell_ids"`
		Limit   *int             `json:"limit"`
	}
	if !parseRequestBody(w, r, &payload) {
		return
	}

	cellIDs := payload.CellIDs
	if len(cellIDs) == 0 {
		_, err := p.DB.Select(&cellIDs, `SELECT id FROM quota_cells WHERE scheme_id = $1 ORDER BY id`, schemeID)
		if respondToError(w, err) {
			return
		}
		if len(cellIDs) == 0 {
			respondToError(w, core.ValidationErrorf("scheme", "scheme %d has no cells", schemeID))
			return
		}
	}

	type buildResultJSON struct {
		CellID    db.QuotaCellID `json:"cell_id"`
		Attempted int            `json:"attempted"`
		Inserted  int            `json:"inserted"`
	}
	results := make([]buildResultJSON, 0, len(cellIDs))
	insertedTotal := 0
	for _, cellID := range cellIDs {
		result, err := datamodel.BuildPoolForCell(p.DB, p.Bank, p.Cfg.Dialer, cellID, payload.Limit, p.timeNow())
		if respondToError(w, err) {
			return
		}
		results = append(results, buildResultJSON{
			CellID:    cellID,
			Attempted: result.Attempted,
			Inserted:  result.Inserted,
		})
		insertedTotal += result.Inserted
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{
		"results":        results,
		"inserted_total": insertedTotal,
	})
}
