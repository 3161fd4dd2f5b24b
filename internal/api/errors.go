// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"errors"
	"net/http"

	"github.com/sapcc/go-bits/respondwith"

	"github.com/insightzen/dialerd/internal/core"
	"github.com/insightzen/dialerd/internal/db"
)

// errorBody is the JSON shape of every error response. The code field lets
// the dialer frontend distinguish "no capacity left" from "pool drained"
// without parsing the human-readable message.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// respondToError writes an error response and reports whether err was
// non-nil, in the style of respondwith.ErrorText. Reservation outcomes map
// to machine-readable codes; anything unrecognized is a plain 500.
func respondToError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}

	var verr core.ValidationError
	if errors.As(err, &verr) {
		respondwith.JSON(w, http.StatusUnprocessableEntity, errorBody{
			Code: "validation", Message: verr.Msg, Field: verr.Field,
		})
		return true
	}

	switch {
	case errors.Is(err, core.ErrAlreadyReserved):
		respondwith.JSON(w, http.StatusConflict, errorBody{
			Code: "already_reserved", Message: err.Error(),
		})
	case db.IsConflict(err):
		respondwith.JSON(w, http.StatusConflict, errorBody{
			Code: "conflict", Message: err.Error(),
		})
	case errors.Is(err, core.ErrNoSchemeAvailable):
		respondwith.JSON(w, http.StatusNotFound, errorBody{
			Code: "no_scheme_available", Message: err.Error(),
		})
	case errors.Is(err, core.ErrNoCapacity):
		respondwith.JSON(w, http.StatusNotFound, errorBody{
			Code: "no_capacity", Message: err.Error(),
		})
	case errors.Is(err, core.ErrNoSample):
		respondwith.JSON(w, http.StatusNotFound, errorBody{
			Code: "no_sample", Message: err.Error(),
		})
	case errors.Is(err, core.ErrBankUnavailable):
		respondwith.JSON(w, http.StatusBadGateway, errorBody{
			Code: "bank_unavailable", Message: err.Error(),
		})
	default:
		respondwith.ErrorText(w, err)
	}
	return true
}
