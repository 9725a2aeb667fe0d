package model

import (
	"fmt"
	"time"
)

// Module is a named resource category subject to permission checks. The set
// is closed so a typo cannot silently create an unreachable permission.
type Module string

const (
	ModuleAdmin          Module = "admin"
	ModuleTeacher        Module = "teacher"
	ModuleStudent        Module = "student"
	ModuleSchool         Module = "school"
	ModuleRole           Module = "role"
	ModuleSuperUser      Module = "superUser"
	ModuleClassTeacher   Module = "class_teacher"
	ModuleAttendance     Module = "attendance"
	ModuleStudentDetails Module = "student_details"
	ModuleClass          Module = "class"
	ModuleSection        Module = "section"
	ModuleBatch          Module = "batch"
)

var allModules = map[Module]bool{
	ModuleAdmin:          true,
	ModuleTeacher:        true,
	ModuleStudent:        true,
	ModuleSchool:         true,
	ModuleRole:           true,
	ModuleSuperUser:      true,
	ModuleClassTeacher:   true,
	ModuleAttendance:     true,
	ModuleStudentDetails: true,
	ModuleClass:          true,
	ModuleSection:        true,
	ModuleBatch:          true,
}

// forbiddenModules are structurally privileged and must never be delegable
// through the generic grant endpoint, regardless of caller identity.
var forbiddenModules = map[Module]bool{
	ModuleSchool:    true,
	ModuleRole:      true,
	ModuleSuperUser: true,
}

func ParseModule(s string) (Module, error) {
	m := Module(s)
	if !allModules[m] {
		return "", fmt.Errorf("unknown module %q", s)
	}
	return m, nil
}

// Grantable reports whether the module may be granted through the generic
// permission creation endpoint.
func (m Module) Grantable() bool {
	return allModules[m] && !forbiddenModules[m]
}

// Action is one of the four capabilities a role can hold on a module.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete:
		return Action(s), nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Well-known role names. Roles are unique on (name, school_code); every role,
// the superUser role included, belongs to exactly one school.
const (
	RoleSuperUser   = "superUser"
	RoleSchoolOwner = "schoolOwner"
	RoleAdmin       = "admin"
	RoleTeacher     = "teacher"
	RoleStudent     = "student"
)

type Role struct {
	ID         string
	Name       string
	SchoolCode string
	CreatedAt  time.Time
}

type Capabilities struct {
	CanCreate bool `json:"can_create"`
	CanRead   bool `json:"can_read"`
	CanUpdate bool `json:"can_update"`
	CanDelete bool `json:"can_delete"`
}

func AllCapabilities() Capabilities {
	return Capabilities{CanCreate: true, CanRead: true, CanUpdate: true, CanDelete: true}
}

func (c Capabilities) Allows(action Action) bool {
	switch action {
	case ActionCreate:
		return c.CanCreate
	case ActionRead:
		return c.CanRead
	case ActionUpdate:
		return c.CanUpdate
	case ActionDelete:
		return c.CanDelete
	default:
		return false
	}
}

// Permission is one role's capability set on one module within one school.
// Unique on (role_id, module, school_code); its school must equal the school
// of the role it references.
type Permission struct {
	ID         string
	RoleID     string
	Module     Module
	SchoolCode string
	Capabilities
	CreatedAt time.Time
}

type School struct {
	Code              string
	Name              string
	Board             string
	Medium            string
	SchoolType        string
	EstablishmentYear int
	Address           string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Kind discriminates the four principal varieties. They share one
// authentication path; per-kind data stays per-kind in storage.
type Kind string

const (
	KindSchoolOwner Kind = "schoolOwner"
	KindAdmin       Kind = "admin"
	KindTeacher     Kind = "teacher"
	KindStudent     Kind = "student"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSchoolOwner, KindAdmin, KindTeacher, KindStudent:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown principal kind %q", s)
	}
}

type Principal struct {
	ID           string
	Kind         Kind
	SchoolCode   string
	Username     string
	Name         string
	Email        string
	PasswordHash string
	RoleID       string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type RefreshSession struct {
	ID          string
	PrincipalID string
	TokenHash   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
}

// Seed bundles. Each is granted with all four capability bits set when the
// corresponding role is created; seeding is additive and never overwrites
// rows that already exist.
var (
	// SuperUserSeedModules covers every module, the structurally privileged
	// ones included. The privileged modules are seedable internally; they are
	// only barred from the generic grant endpoint.
	SuperUserSeedModules = []Module{
		ModuleSchool, ModuleRole, ModuleSuperUser,
		ModuleAdmin, ModuleTeacher, ModuleStudent,
		ModuleClass, ModuleSection, ModuleBatch,
		ModuleAttendance, ModuleClassTeacher, ModuleStudentDetails,
	}

	AdminSeedModules = []Module{ModuleAdmin, ModuleTeacher, ModuleStudent}
)

// Member seed bundles carry per-action grants rather than all-true ones.
type SeedGrant struct {
	Module Module
	Caps   Capabilities
}

var (
	TeacherSeedGrants = []SeedGrant{
		{Module: ModuleAttendance, Caps: Capabilities{CanCreate: true, CanRead: true, CanUpdate: true}},
		{Module: ModuleClassTeacher, Caps: Capabilities{CanRead: true}},
	}
	StudentSeedGrants = []SeedGrant{
		{Module: ModuleStudentDetails, Caps: Capabilities{CanRead: true, CanUpdate: true}},
	}
)

// AttendanceRecord is the persistence shape behind the attendance
// collaborator endpoints.
type AttendanceRecord struct {
	ID         string
	SchoolCode string
	StudentID  string
	Date       time.Time
	Status     string
	RecordedBy string
	CreatedAt  time.Time
}
