package repository

import "context"

// The unique constraints on roles and permissions are load-bearing: they are
// the backstop for concurrent find-or-create races and for idempotent
// seeding.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS schools (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		board TEXT NOT NULL DEFAULT '',
		medium TEXT NOT NULL DEFAULT '',
		school_type TEXT NOT NULL DEFAULT '',
		establishment_year INT NOT NULL DEFAULT 0,
		address TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS school_code_seqs (
		location_code TEXT PRIMARY KEY,
		next_seq INT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS roles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		school_code TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (name, school_code)
	)`,
	`CREATE TABLE IF NOT EXISTS permissions (
		id TEXT PRIMARY KEY,
		role_id TEXT NOT NULL REFERENCES roles (id),
		module TEXT NOT NULL,
		school_code TEXT NOT NULL,
		can_create BOOLEAN NOT NULL DEFAULT FALSE,
		can_read BOOLEAN NOT NULL DEFAULT FALSE,
		can_update BOOLEAN NOT NULL DEFAULT FALSE,
		can_delete BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (role_id, module, school_code)
	)`,
	`CREATE TABLE IF NOT EXISTS principals (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		school_code TEXT NOT NULL,
		username TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role_id TEXT NOT NULL REFERENCES roles (id),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (kind, school_code, username)
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_sessions (
		id TEXT PRIMARY KEY,
		principal_id TEXT NOT NULL REFERENCES principals (id) ON DELETE CASCADE,
		token_hash TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		revoked_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		school_code TEXT NOT NULL,
		student_id TEXT NOT NULL,
		date DATE NOT NULL,
		status TEXT NOT NULL,
		recorded_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (school_code, student_id, date)
	)`,
	// Owner logins carry no tenant segment, so owner usernames must be
	// unique across all schools, not just within one.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_principals_owner_username
		ON principals (username) WHERE kind = 'schoolOwner'`,
	`CREATE INDEX IF NOT EXISTS idx_permissions_role ON permissions (role_id, school_code)`,
	`CREATE INDEX IF NOT EXISTS idx_principals_school ON principals (school_code, kind)`,
}

// EnsureSchema applies the idempotent schema bootstrap.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
