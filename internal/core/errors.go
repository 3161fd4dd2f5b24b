// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the reservation path. The API layer maps each of these
// to a distinct machine-readable error code, so that the frontend can explain
// to the interviewer why no number was handed out.
var (
	// ErrAlreadyReserved is returned by ReserveNext when the interviewer
	// already holds an active (non-expired) reservation.
	ErrAlreadyReserved = errors.New("interviewer already has an active assignment")

	// ErrNoSchemeAvailable is returned when no published quota scheme matches
	// the reservation request.
	ErrNoSchemeAvailable = errors.New("no published quota scheme is available for this project")

	// ErrNoCapacity is returned when no quota cell of the selected scheme has
	// remaining capacity under its overflow policy.
	ErrNoCapacity = errors.New("no quota cells with available capacity were found")

	// ErrNoSample is returned when cells have capacity, but none of them has a
	// claimable sample contact.
	ErrNoSample = errors.New("no available sample contact to assign")

	// ErrBankUnavailable is returned when the external bank schema cannot be
	// read, e.g. because the data provider has not provisioned it yet.
	ErrBankUnavailable = errors.New("bank schema is not available")
)

// ValidationError reports malformed input (bad selector, non-positive TTL,
// unknown scheme ID, and so on). It is distinguishable from internal errors
// so that the API layer can respond with 422 instead of 500.
type ValidationError struct {
	Field string
	Msg   string
}

// Error implements the builtin/error interface.
func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// ValidationErrorf builds a ValidationError for the given field.
func ValidationErrorf(field, msg string, args ...any) ValidationError {
	return ValidationError{Field: field, Msg: fmt.Sprintf(msg, args...)}
}

// IsValidationError returns whether this error (or any error in its tree) is
// a ValidationError.
func IsValidationError(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}
