package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/School-ERP-Techneat/school-add-sub000/internal/model"
)

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so every query helper
// can run inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (s *Postgres) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

// Principals

const principalColumns = `id, kind, school_code, username, name, email, password_hash, role_id, active, created_at, updated_at`

func scanPrincipal(row pgx.Row) (model.Principal, error) {
	var p model.Principal
	err := row.Scan(
		&p.ID,
		&p.Kind,
		&p.SchoolCode,
		&p.Username,
		&p.Name,
		&p.Email,
		&p.PasswordHash,
		&p.RoleID,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, mapError(err)
}

func createPrincipal(ctx context.Context, q querier, p model.Principal) (model.Principal, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Active = true
	_, err := q.Exec(ctx, `
		INSERT INTO principals (`+principalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.Kind, p.SchoolCode, p.Username, p.Name, p.Email, p.PasswordHash, p.RoleID, p.Active, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return model.Principal{}, mapError(err)
	}
	return p, nil
}

func (s *Postgres) CreatePrincipal(ctx context.Context, p model.Principal) (model.Principal, error) {
	return createPrincipal(ctx, s.pool, p)
}

func (s *Postgres) GetPrincipalByID(ctx context.Context, id string) (model.Principal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = $1`, id)
	return scanPrincipal(row)
}

func (s *Postgres) GetPrincipalByUsername(ctx context.Context, kind model.Kind, schoolCode, username string) (model.Principal, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+principalColumns+`
		FROM principals
		WHERE kind = $1 AND username = $2 AND ($3 = '' OR school_code = $3)
	`, kind, username, schoolCode)
	return scanPrincipal(row)
}

func (s *Postgres) UpdatePrincipal(ctx context.Context, id string, upd PrincipalUpdate) (model.Principal, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE principals
		SET name = COALESCE($2, name),
		    email = COALESCE($3, email),
		    username = COALESCE($4, username),
		    updated_at = $5
		WHERE id = $1
		RETURNING `+principalColumns+`
	`, id, upd.Name, upd.Email, upd.Username, time.Now().UTC())
	return scanPrincipal(row)
}

func (s *Postgres) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE principals SET password_hash = $2, updated_at = $3 WHERE id = $1
	`, id, passwordHash, time.Now().UTC())
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) DeactivatePrincipal(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE principals SET active = FALSE, updated_at = $2 WHERE id = $1
	`, id, time.Now().UTC())
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) DeletePrincipal(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM principals WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Role registry

func findOrCreateRole(ctx context.Context, q querier, name, schoolCode string) (model.Role, error) {
	// Lost races surface as a conflict no-op; the re-select below returns the
	// winner's row either way.
	_, err := q.Exec(ctx, `
		INSERT INTO roles (id, name, school_code, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name, school_code) DO NOTHING
	`, uuid.NewString(), name, schoolCode, time.Now().UTC())
	if err != nil {
		return model.Role{}, mapError(err)
	}
	return getRole(ctx, q, name, schoolCode)
}

func getRole(ctx context.Context, q querier, name, schoolCode string) (model.Role, error) {
	var role model.Role
	row := q.QueryRow(ctx, `
		SELECT id, name, school_code, created_at FROM roles WHERE name = $1 AND school_code = $2
	`, name, schoolCode)
	err := row.Scan(&role.ID, &role.Name, &role.SchoolCode, &role.CreatedAt)
	return role, mapError(err)
}

func getRoleByID(ctx context.Context, q querier, id string) (model.Role, error) {
	var role model.Role
	row := q.QueryRow(ctx, `
		SELECT id, name, school_code, created_at FROM roles WHERE id = $1
	`, id)
	err := row.Scan(&role.ID, &role.Name, &role.SchoolCode, &role.CreatedAt)
	return role, mapError(err)
}

func (s *Postgres) FindOrCreateRole(ctx context.Context, name, schoolCode string) (model.Role, error) {
	return findOrCreateRole(ctx, s.pool, name, schoolCode)
}

func (s *Postgres) GetRole(ctx context.Context, name, schoolCode string) (model.Role, error) {
	return getRole(ctx, s.pool, name, schoolCode)
}

func (s *Postgres) GetRoleByID(ctx context.Context, id string) (model.Role, error) {
	return getRoleByID(ctx, s.pool, id)
}

// Permission matrix

func seedPermission(ctx context.Context, q querier, roleID string, module model.Module, schoolCode string, caps model.Capabilities) error {
	role, err := getRoleByID(ctx, q, roleID)
	if err != nil {
		return err
	}
	if role.SchoolCode != schoolCode {
		return ErrSchoolMismatch
	}
	_, err = q.Exec(ctx, `
		INSERT INTO permissions (id, role_id, module, school_code, can_create, can_read, can_update, can_delete, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (role_id, module, school_code) DO NOTHING
	`, uuid.NewString(), roleID, module, schoolCode, caps.CanCreate, caps.CanRead, caps.CanUpdate, caps.CanDelete, time.Now().UTC())
	return mapError(err)
}

func (s *Postgres) SeedPermission(ctx context.Context, roleID string, module model.Module, schoolCode string, caps model.Capabilities) error {
	return seedPermission(ctx, s.pool, roleID, module, schoolCode, caps)
}

func (s *Postgres) CheckPermission(ctx context.Context, roleID string, module model.Module, schoolCode string, action model.Action) (bool, error) {
	perm, err := s.GetPermission(ctx, roleID, module, schoolCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return perm.Allows(action), nil
}

func (s *Postgres) GetPermission(ctx context.Context, roleID string, module model.Module, schoolCode string) (model.Permission, error) {
	var perm model.Permission
	row := s.pool.QueryRow(ctx, `
		SELECT id, role_id, module, school_code, can_create, can_read, can_update, can_delete, created_at
		FROM permissions
		WHERE role_id = $1 AND module = $2 AND school_code = $3
	`, roleID, module, schoolCode)
	err := row.Scan(&perm.ID, &perm.RoleID, &perm.Module, &perm.SchoolCode, &perm.CanCreate, &perm.CanRead, &perm.CanUpdate, &perm.CanDelete, &perm.CreatedAt)
	return perm, mapError(err)
}

func (s *Postgres) ListPermissionsByRole(ctx context.Context, roleID, schoolCode string) ([]model.Permission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, role_id, module, school_code, can_create, can_read, can_update, can_delete, created_at
		FROM permissions
		WHERE role_id = $1 AND school_code = $2
		ORDER BY module
	`, roleID, schoolCode)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var perms []model.Permission
	for rows.Next() {
		var perm model.Permission
		if err := rows.Scan(&perm.ID, &perm.RoleID, &perm.Module, &perm.SchoolCode, &perm.CanCreate, &perm.CanRead, &perm.CanUpdate, &perm.CanDelete, &perm.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// Schools

func nextSchoolCode(ctx context.Context, q querier, locationCode string) (string, error) {
	var seq int
	row := q.QueryRow(ctx, `
		INSERT INTO school_code_seqs (location_code, next_seq)
		VALUES ($1, 1)
		ON CONFLICT (location_code) DO UPDATE SET next_seq = school_code_seqs.next_seq + 1
		RETURNING next_seq - 1
	`, locationCode)
	if err := row.Scan(&seq); err != nil {
		return "", mapError(err)
	}
	return fmt.Sprintf("SCHOOL-%s-%04d", locationCode, seq), nil
}

func (s *Postgres) CreateSchool(ctx context.Context, school model.School) (model.School, error) {
	now := time.Now().UTC()
	school.CreatedAt = now
	school.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO schools (code, name, board, medium, school_type, establishment_year, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, school.Code, school.Name, school.Board, school.Medium, school.SchoolType, school.EstablishmentYear, school.Address, school.CreatedAt, school.UpdatedAt)
	if err != nil {
		return model.School{}, mapError(err)
	}
	return school, nil
}

func (s *Postgres) GetSchool(ctx context.Context, code string) (model.School, error) {
	var school model.School
	row := s.pool.QueryRow(ctx, `
		SELECT code, name, board, medium, school_type, establishment_year, address, created_at, updated_at
		FROM schools
		WHERE code = $1
	`, code)
	err := row.Scan(&school.Code, &school.Name, &school.Board, &school.Medium, &school.SchoolType, &school.EstablishmentYear, &school.Address, &school.CreatedAt, &school.UpdatedAt)
	return school, mapError(err)
}

func (s *Postgres) UpdateSchool(ctx context.Context, code string, upd SchoolUpdate) (model.School, error) {
	var school model.School
	row := s.pool.QueryRow(ctx, `
		UPDATE schools
		SET name = COALESCE($2, name),
		    board = COALESCE($3, board),
		    medium = COALESCE($4, medium),
		    school_type = COALESCE($5, school_type),
		    establishment_year = COALESCE($6, establishment_year),
		    address = COALESCE($7, address),
		    updated_at = $8
		WHERE code = $1
		RETURNING code, name, board, medium, school_type, establishment_year, address, created_at, updated_at
	`, code, upd.Name, upd.Board, upd.Medium, upd.SchoolType, upd.EstablishmentYear, upd.Address, time.Now().UTC())
	err := row.Scan(&school.Code, &school.Name, &school.Board, &school.Medium, &school.SchoolType, &school.EstablishmentYear, &school.Address, &school.CreatedAt, &school.UpdatedAt)
	return school, mapError(err)
}

// Refresh sessions

func (s *Postgres) CreateRefreshSession(ctx context.Context, session model.RefreshSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_sessions (id, principal_id, token_hash, created_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, session.ID, session.PrincipalID, session.TokenHash, session.CreatedAt, session.ExpiresAt, session.RevokedAt)
	return mapError(err)
}

func (s *Postgres) GetRefreshSession(ctx context.Context, tokenHash string) (model.RefreshSession, error) {
	var session model.RefreshSession
	row := s.pool.QueryRow(ctx, `
		SELECT id, principal_id, token_hash, created_at, expires_at, revoked_at
		FROM refresh_sessions
		WHERE token_hash = $1
	`, tokenHash)
	err := row.Scan(&session.ID, &session.PrincipalID, &session.TokenHash, &session.CreatedAt, &session.ExpiresAt, &session.RevokedAt)
	return session, mapError(err)
}

func (s *Postgres) RevokeRefreshSession(ctx context.Context, id string, revokedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE refresh_sessions SET revoked_at = $1 WHERE id = $2`, revokedAt, id)
	return mapError(err)
}

func (s *Postgres) RevokeRefreshSessionsByPrincipal(ctx context.Context, principalID string, revokedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_sessions SET revoked_at = $1 WHERE principal_id = $2 AND revoked_at IS NULL
	`, revokedAt, principalID)
	return mapError(err)
}

// Attendance collaborator

func (s *Postgres) CreateAttendanceRecord(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attendance_records (id, school_code, student_id, date, status, recorded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.SchoolCode, rec.StudentID, rec.Date, rec.Status, rec.RecordedBy, rec.CreatedAt)
	if err != nil {
		return model.AttendanceRecord{}, mapError(err)
	}
	return rec, nil
}

func (s *Postgres) ListAttendanceByStudent(ctx context.Context, schoolCode, studentID string) ([]model.AttendanceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, school_code, student_id, date, status, recorded_by, created_at
		FROM attendance_records
		WHERE school_code = $1 AND student_id = $2
		ORDER BY date DESC
	`, schoolCode, studentID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var records []model.AttendanceRecord
	for rows.Next() {
		var rec model.AttendanceRecord
		if err := rows.Scan(&rec.ID, &rec.SchoolCode, &rec.StudentID, &rec.Date, &rec.Status, &rec.RecordedBy, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Compound registration flows

func (s *Postgres) RegisterOwner(ctx context.Context, owner model.Principal, locationCode string) (model.Principal, model.Role, error) {
	var created model.Principal
	var ownerRole model.Role
	err := s.withTx(ctx, func(q querier) error {
		code, err := nextSchoolCode(ctx, q, locationCode)
		if err != nil {
			return err
		}

		superRole, err := findOrCreateRole(ctx, q, model.RoleSuperUser, code)
		if err != nil {
			return err
		}
		ownerRole, err = findOrCreateRole(ctx, q, model.RoleSchoolOwner, code)
		if err != nil {
			return err
		}

		for _, module := range model.SuperUserSeedModules {
			if err := seedPermission(ctx, q, superRole.ID, module, code, model.AllCapabilities()); err != nil {
				return err
			}
			if err := seedPermission(ctx, q, ownerRole.ID, module, code, model.AllCapabilities()); err != nil {
				return err
			}
		}

		owner.Kind = model.KindSchoolOwner
		owner.SchoolCode = code
		owner.RoleID = ownerRole.ID
		created, err = createPrincipal(ctx, q, owner)
		return err
	})
	if err != nil {
		return model.Principal{}, model.Role{}, err
	}
	return created, ownerRole, nil
}

func (s *Postgres) RegisterAdmin(ctx context.Context, admin model.Principal) (model.Principal, model.Role, error) {
	var created model.Principal
	var role model.Role
	err := s.withTx(ctx, func(q querier) error {
		var err error
		role, err = findOrCreateRole(ctx, q, model.RoleAdmin, admin.SchoolCode)
		if err != nil {
			return err
		}
		for _, module := range model.AdminSeedModules {
			if err := seedPermission(ctx, q, role.ID, module, admin.SchoolCode, model.AllCapabilities()); err != nil {
				return err
			}
		}
		admin.Kind = model.KindAdmin
		admin.RoleID = role.ID
		created, err = createPrincipal(ctx, q, admin)
		return err
	})
	if err != nil {
		return model.Principal{}, model.Role{}, err
	}
	return created, role, nil
}

func (s *Postgres) RegisterMember(ctx context.Context, p model.Principal) (model.Principal, model.Role, error) {
	var grants []model.SeedGrant
	switch p.Kind {
	case model.KindTeacher:
		grants = model.TeacherSeedGrants
	case model.KindStudent:
		grants = model.StudentSeedGrants
	default:
		return model.Principal{}, model.Role{}, fmt.Errorf("kind %q is not a member principal", p.Kind)
	}

	var created model.Principal
	var role model.Role
	err := s.withTx(ctx, func(q querier) error {
		var err error
		role, err = findOrCreateRole(ctx, q, string(p.Kind), p.SchoolCode)
		if err != nil {
			return err
		}
		for _, grant := range grants {
			if err := seedPermission(ctx, q, role.ID, grant.Module, p.SchoolCode, grant.Caps); err != nil {
				return err
			}
		}
		p.RoleID = role.ID
		created, err = createPrincipal(ctx, q, p)
		return err
	})
	if err != nil {
		return model.Principal{}, model.Role{}, err
	}
	return created, role, nil
}
