// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package db

var sqlMigrations = map[string]string{
	"001_initial.down.sql": `
		DROP TABLE interviews;
		DROP TABLE dialer_assignments;
		DROP TABLE do_not_contact;
		DROP TABLE sample_contacts;
		DROP TABLE quota_cells;
		DROP TABLE quota_schemes;
		DROP TABLE projects;
	`,
	"001_initial.up.sql": `
		---------- project level

		CREATE TABLE projects (
			id           BIGSERIAL  NOT NULL PRIMARY KEY,
			code         TEXT       NOT NULL UNIQUE,
			name         TEXT       NOT NULL,
			description  TEXT       NOT NULL DEFAULT '',
			owner_id     BIGINT     NOT NULL,
			status       TEXT       NOT NULL DEFAULT 'active',
			start_date   TIMESTAMP  DEFAULT NULL,
			end_date     TIMESTAMP  DEFAULT NULL,
			created_at   TIMESTAMP  NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMP  NOT NULL DEFAULT NOW()
		);
		CREATE INDEX projects_status_idx ON projects (status);

		---------- quota schemes and cells

		CREATE TABLE quota_schemes (
			id               BIGSERIAL         NOT NULL PRIMARY KEY,
			project_id       BIGINT            NOT NULL REFERENCES projects ON DELETE CASCADE,
			name             TEXT              NOT NULL,
			version          BIGINT            NOT NULL DEFAULT 1 CHECK (version >= 1),
			status           TEXT              NOT NULL DEFAULT 'draft',
			dimensions       TEXT              NOT NULL DEFAULT '[]',
			overflow_policy  TEXT              NOT NULL DEFAULT 'strict',
			priority         INT               NOT NULL DEFAULT 0,
			is_default       BOOLEAN           NOT NULL DEFAULT FALSE,
			created_by       BIGINT            DEFAULT NULL,
			created_at       TIMESTAMP         NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMP         NOT NULL DEFAULT NOW(),
			published_at     TIMESTAMP         DEFAULT NULL, -- null until first published
			UNIQUE (project_id, name, version)
		);
		CREATE INDEX quota_schemes_project_status_idx ON quota_schemes (project_id, status);
		CREATE INDEX quota_schemes_project_default_idx ON quota_schemes (project_id, is_default);
		CREATE INDEX quota_schemes_project_priority_idx ON quota_schemes (project_id, priority);

		CREATE TABLE quota_cells (
			id           BIGSERIAL         NOT NULL PRIMARY KEY,
			scheme_id    BIGINT            NOT NULL REFERENCES quota_schemes ON DELETE CASCADE,
			selector     TEXT              NOT NULL, -- canonical JSON (sorted keys)
			label        TEXT              NOT NULL DEFAULT '',
			target       BIGINT            NOT NULL CHECK (target >= 0),
			soft_cap     BIGINT            DEFAULT NULL CHECK (soft_cap IS NULL OR soft_cap >= 0),
			weight       DOUBLE PRECISION  NOT NULL DEFAULT 1.0 CHECK (weight > 0),
			achieved     BIGINT            NOT NULL DEFAULT 0 CHECK (achieved >= 0),
			in_progress  BIGINT            NOT NULL DEFAULT 0 CHECK (in_progress >= 0),
			reserved     BIGINT            NOT NULL DEFAULT 0 CHECK (reserved >= 0),
			updated_at   TIMESTAMP         NOT NULL DEFAULT NOW(),
			-- checkpoint for the pool replenish job
			next_replenish_at  TIMESTAMP   NOT NULL DEFAULT '1970-01-01',
			UNIQUE (scheme_id, selector)
		);
		CREATE INDEX quota_cells_scheme_achieved_idx ON quota_cells (scheme_id, achieved);

		---------- sample pool

		CREATE TABLE sample_contacts (
			id               BIGSERIAL  NOT NULL PRIMARY KEY,
			project_id       BIGINT     NOT NULL REFERENCES projects ON DELETE CASCADE,
			quota_cell_id    BIGINT     DEFAULT NULL REFERENCES quota_cells ON DELETE CASCADE,
			phone_id         BIGINT     DEFAULT NULL,
			person_id        BIGINT     DEFAULT NULL,
			phone_number     TEXT       NOT NULL,
			full_name        TEXT       NOT NULL DEFAULT '',
			gender           TEXT       DEFAULT NULL,
			age_band         TEXT       DEFAULT NULL,
			province_code    TEXT       DEFAULT NULL,
			city_code        TEXT       DEFAULT NULL,
			attributes       TEXT       NOT NULL DEFAULT '{}',
			is_active        BOOLEAN    NOT NULL DEFAULT TRUE,
			status           TEXT       NOT NULL DEFAULT 'available',
			attempt_count    BIGINT     NOT NULL DEFAULT 0 CHECK (attempt_count >= 0),
			last_attempt_at  TIMESTAMP  DEFAULT NULL,
			interviewer_id   BIGINT     DEFAULT NULL,
			used_at          TIMESTAMP  DEFAULT NULL,
			created_at       TIMESTAMP  NOT NULL DEFAULT NOW(),
			UNIQUE (project_id, quota_cell_id, phone_id)
		);
		CREATE INDEX sample_contacts_pool_idx ON sample_contacts (project_id, quota_cell_id, status);
		CREATE INDEX sample_contacts_fairness_idx ON sample_contacts (project_id, status, last_attempt_at);
		CREATE INDEX sample_contacts_phone_idx ON sample_contacts (phone_number);

		CREATE TABLE do_not_contact (
			msisdn    TEXT       NOT NULL PRIMARY KEY,
			reason    TEXT       NOT NULL DEFAULT '',
			added_at  TIMESTAMP  NOT NULL DEFAULT NOW()
		);

		---------- assignments and interviews

		CREATE TABLE dialer_assignments (
			id              BIGSERIAL  NOT NULL PRIMARY KEY,
			uuid            TEXT       NOT NULL UNIQUE,
			project_id      BIGINT     NOT NULL REFERENCES projects ON DELETE CASCADE,
			scheme_id       BIGINT     NOT NULL REFERENCES quota_schemes ON DELETE RESTRICT,
			cell_id         BIGINT     NOT NULL REFERENCES quota_cells ON DELETE RESTRICT,
			interviewer_id  BIGINT     NOT NULL,
			sample_id       BIGINT     NOT NULL REFERENCES sample_contacts ON DELETE RESTRICT,
			status          TEXT       NOT NULL DEFAULT 'reserved',
			reserved_at     TIMESTAMP  NOT NULL DEFAULT NOW(),
			expires_at      TIMESTAMP  NOT NULL,
			completed_at    TIMESTAMP  DEFAULT NULL,
			outcome_code    TEXT       DEFAULT NULL,
			meta            TEXT       NOT NULL DEFAULT '{}',
			CHECK (expires_at > reserved_at)
		);
		CREATE INDEX dialer_assignments_project_status_idx ON dialer_assignments (project_id, status);
		CREATE INDEX dialer_assignments_cell_status_idx ON dialer_assignments (cell_id, status);
		-- backstop for the at-most-one-active-reservation guarantees; the
		-- reservation path also enforces these procedurally under row locks
		CREATE UNIQUE INDEX dialer_assignments_active_interviewer_idx
			ON dialer_assignments (interviewer_id) WHERE status = 'reserved';
		CREATE UNIQUE INDEX dialer_assignments_active_sample_idx
			ON dialer_assignments (sample_id) WHERE status = 'reserved';

		CREATE TABLE interviews (
			id             BIGSERIAL  NOT NULL PRIMARY KEY,
			assignment_id  BIGINT     NOT NULL UNIQUE REFERENCES dialer_assignments ON DELETE CASCADE,
			start_form     TIMESTAMP  DEFAULT NULL,
			end_form       TIMESTAMP  DEFAULT NULL,
			status         TEXT       NOT NULL DEFAULT 'not_started',
			outcome_code   TEXT       DEFAULT NULL,
			meta           TEXT       NOT NULL DEFAULT '{}'
		);
		CREATE INDEX interviews_assignment_status_idx ON interviews (assignment_id, status);
	`,
	"002_bank_schema.down.sql": `
		DROP TABLE IF EXISTS bank.bank_phone;
		DROP TABLE IF EXISTS bank.bank_person;
		DROP SCHEMA IF EXISTS bank;
	`,
	// The bank schema is owned by an external data provider in production.
	// This migration creates an empty stand-in when it is absent, so that
	// development and test databases have the tables that the gateway reads.
	"002_bank_schema.up.sql": `
		CREATE SCHEMA IF NOT EXISTS bank;

		CREATE TABLE IF NOT EXISTS bank.bank_person (
			person_id      BIGINT  NOT NULL PRIMARY KEY,
			national_code  TEXT    DEFAULT NULL,
			gender         TEXT    DEFAULT NULL,
			dob            DATE    DEFAULT NULL,
			province_code  TEXT    DEFAULT NULL,
			city_code      TEXT    DEFAULT NULL
		);
		CREATE INDEX IF NOT EXISTS bank_person_province_idx ON bank.bank_person (province_code);
		CREATE INDEX IF NOT EXISTS bank_person_city_idx ON bank.bank_person (city_code);
		CREATE INDEX IF NOT EXISTS bank_person_gender_idx ON bank.bank_person (gender);

		CREATE TABLE IF NOT EXISTS bank.bank_phone (
			phone_id   BIGINT   NOT NULL PRIMARY KEY,
			person_id  BIGINT   NOT NULL REFERENCES bank.bank_person ON DELETE CASCADE,
			msisdn     TEXT     NOT NULL UNIQUE,
			is_mobile  BOOLEAN  NOT NULL DEFAULT TRUE,
			is_active  BOOLEAN  NOT NULL DEFAULT TRUE
		);
		CREATE INDEX IF NOT EXISTS bank_phone_person_idx ON bank.bank_phone (person_id);
		CREATE INDEX IF NOT EXISTS bank_phone_active_idx ON bank.bank_phone (is_active);
	`,
}
