// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package db

// ProjectID is an ID into the projects table. This typedef is used to
// distinguish these IDs from IDs of other tables or raw int64 values.
type ProjectID int64

// QuotaSchemeID is an ID into the quota_schemes table. This typedef is used to
// distinguish these IDs from IDs of other tables or raw int64 values.
type QuotaSchemeID int64

// QuotaCellID is an ID into the quota_cells table. This typedef is used to
// distinguish these IDs from IDs of other tables or raw int64 values.
type QuotaCellID int64

// SampleContactID is an ID into the sample_contacts table. This typedef is used
// to distinguish these IDs from IDs of other tables or raw int64 values.
type SampleContactID int64

// DialerAssignmentID is an ID into the dialer_assignments table. This typedef
// is used to distinguish these IDs from IDs of other tables or raw int64 values.
type DialerAssignmentID int64

// InterviewID is an ID into the interviews table. This typedef is used to
// distinguish these IDs from IDs of other tables or raw int64 values.
type InterviewID int64

// UserID identifies a user in the identity system that sits in front of this
// service. Users are not owned by this service, so this is a plain foreign
// identifier without a REFERENCES constraint.
type UserID int64

// BankPersonID is an ID into the external bank.bank_person table.
type BankPersonID int64

// BankPhoneID is an ID into the external bank.bank_phone table.
type BankPhoneID int64

// DialerAssignmentUUID is the public identifier of a DialerAssignment that we
// hand out through the API, to avoid exposing the serial primary keys.
type DialerAssignmentUUID string
