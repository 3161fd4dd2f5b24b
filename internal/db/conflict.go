// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ConflictError is returned when an INSERT or UPDATE runs into a unique
// constraint. Callers can recover by retrying with different values or by
// switching to an update of the existing row.
type ConflictError struct {
	Constraint string
	inner      error
}

// Error implements the builtin/error interface.
func (e ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Constraint, e.inner.Error())
}

// Unwrap implements the interface implied by errors.Unwrap().
func (e ConflictError) Unwrap() error {
	return e.inner
}

const (
	pqUniqueViolation  = "23505"
	pqUndefinedTable   = "42P01"
	pqInvalidSchemaRef = "3F000"
)

// WrapIfConflict converts unique-constraint violations from the Postgres
// driver into a ConflictError, and passes through all other errors unchanged.
func WrapIfConflict(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		return ConflictError{Constraint: pqErr.Constraint, inner: err}
	}
	return err
}

// IsConflict returns whether this error (or any error in its tree) is a
// unique-constraint violation.
func IsConflict(err error) bool {
	var c ConflictError
	if errors.As(err, &c) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}

// IsMissingRelation returns whether this error reports an undefined table or
// schema. The bank gateway uses this to detect that the external bank schema
// has not been provisioned.
func IsMissingRelation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == pqUndefinedTable || string(pqErr.Code) == pqInvalidSchemaRef
}
