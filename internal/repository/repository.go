package repository

import (
	"context"
	"errors"
	"time"

	"github.com/School-ERP-Techneat/school-add-sub000/internal/model"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
	// ErrSchoolMismatch is returned when a permission write names a school
	// other than the school of the role it references.
	ErrSchoolMismatch = errors.New("permission school does not match role school")
)

// PrincipalUpdate carries the mutable principal fields; nil means unchanged.
type PrincipalUpdate struct {
	Name     *string
	Email    *string
	Username *string
}

type SchoolUpdate struct {
	Name              *string
	Board             *string
	Medium            *string
	SchoolType        *string
	EstablishmentYear *int
	Address           *string
}

// Store is the persistence boundary of the authorization core. Postgres is
// the production implementation; Memory backs handler tests.
type Store interface {
	// Principals. Teacher and student rows are soft-deleted via
	// DeactivatePrincipal; owner and admin rows are hard-deletable.
	CreatePrincipal(ctx context.Context, p model.Principal) (model.Principal, error)
	GetPrincipalByID(ctx context.Context, id string) (model.Principal, error)
	// GetPrincipalByUsername scopes the lookup to a school; schoolCode is
	// empty only for school owners, whose login route carries no tenant.
	GetPrincipalByUsername(ctx context.Context, kind model.Kind, schoolCode, username string) (model.Principal, error)
	UpdatePrincipal(ctx context.Context, id string, upd PrincipalUpdate) (model.Principal, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	DeactivatePrincipal(ctx context.Context, id string) error
	DeletePrincipal(ctx context.Context, id string) error

	// Role registry. FindOrCreateRole is idempotent: concurrent first
	// requests may both attempt the insert and the (name, school_code)
	// unique constraint is the backstop; losing the race is not an error.
	FindOrCreateRole(ctx context.Context, name, schoolCode string) (model.Role, error)
	GetRole(ctx context.Context, name, schoolCode string) (model.Role, error)
	GetRoleByID(ctx context.Context, id string) (model.Role, error)

	// Permission matrix. SeedPermission is create-if-missing and never
	// overwrites an existing grant. CheckPermission treats an absent row as
	// false for every action.
	SeedPermission(ctx context.Context, roleID string, module model.Module, schoolCode string, caps model.Capabilities) error
	CheckPermission(ctx context.Context, roleID string, module model.Module, schoolCode string, action model.Action) (bool, error)
	GetPermission(ctx context.Context, roleID string, module model.Module, schoolCode string) (model.Permission, error)
	ListPermissionsByRole(ctx context.Context, roleID, schoolCode string) ([]model.Permission, error)

	// Schools.
	CreateSchool(ctx context.Context, school model.School) (model.School, error)
	GetSchool(ctx context.Context, code string) (model.School, error)
	UpdateSchool(ctx context.Context, code string, upd SchoolUpdate) (model.School, error)

	// Refresh sessions.
	CreateRefreshSession(ctx context.Context, session model.RefreshSession) error
	GetRefreshSession(ctx context.Context, tokenHash string) (model.RefreshSession, error)
	RevokeRefreshSession(ctx context.Context, id string, revokedAt time.Time) error
	RevokeRefreshSessionsByPrincipal(ctx context.Context, principalID string, revokedAt time.Time) error

	// Attendance collaborator.
	CreateAttendanceRecord(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error)
	ListAttendanceByStudent(ctx context.Context, schoolCode, studentID string) ([]model.AttendanceRecord, error)

	// Compound registration flows. Each runs as one atomic unit so a created
	// principal can never be left without a role or usable permissions.
	//
	// RegisterOwner generates the school code from locationCode, creates the
	// schoolOwner and superUser roles, seeds the full bundle for both, and
	// creates the owner principal holding the schoolOwner role.
	RegisterOwner(ctx context.Context, owner model.Principal, locationCode string) (model.Principal, model.Role, error)
	// RegisterAdmin finds or creates the per-school admin role, seeds
	// {admin, teacher, student} with all four bits, and creates the admin.
	RegisterAdmin(ctx context.Context, admin model.Principal) (model.Principal, model.Role, error)
	// RegisterMember covers teachers and students: the role named after the
	// principal kind is created lazily and its baseline grants are seeded.
	RegisterMember(ctx context.Context, p model.Principal) (model.Principal, model.Role, error)
}
