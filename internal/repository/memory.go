package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/School-ERP-Techneat/school-add-sub000/internal/model"
)

// Memory is an in-memory Store used by tests. It upholds the same uniqueness
// invariants the Postgres schema enforces.
type Memory struct {
	mu          sync.Mutex
	principals  map[string]model.Principal
	roles       map[string]model.Role     // by ID
	roleKeys    map[string]string         // name|schoolCode -> ID
	permissions map[string]model.Permission
	permKeys    map[string]string // roleID|module|schoolCode -> ID
	schools     map[string]model.School
	codeSeqs    map[string]int
	sessions    map[string]model.RefreshSession // by token hash
	attendance  []model.AttendanceRecord
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		principals:  make(map[string]model.Principal),
		roles:       make(map[string]model.Role),
		roleKeys:    make(map[string]string),
		permissions: make(map[string]model.Permission),
		permKeys:    make(map[string]string),
		schools:     make(map[string]model.School),
		codeSeqs:    make(map[string]int),
		sessions:    make(map[string]model.RefreshSession),
	}
}

func roleKey(name, schoolCode string) string {
	return name + "|" + schoolCode
}

func permKey(roleID string, module model.Module, schoolCode string) string {
	return roleID + "|" + string(module) + "|" + schoolCode
}

// Principals

func (m *Memory) createPrincipalLocked(p model.Principal) (model.Principal, error) {
	for _, existing := range m.principals {
		if existing.Kind != p.Kind || existing.Username != p.Username {
			continue
		}
		// Owner usernames are unique across all schools because owner login
		// carries no tenant; everyone else is unique per school.
		if p.Kind == model.KindSchoolOwner || existing.SchoolCode == p.SchoolCode {
			return model.Principal{}, ErrDuplicate
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Active = true
	m.principals[p.ID] = p
	return p, nil
}

func (m *Memory) CreatePrincipal(_ context.Context, p model.Principal) (model.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPrincipalLocked(p)
}

func (m *Memory) GetPrincipalByID(_ context.Context, id string) (model.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return model.Principal{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) GetPrincipalByUsername(_ context.Context, kind model.Kind, schoolCode, username string) (model.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.principals {
		if p.Kind == kind && strings.EqualFold(p.Username, username) && (schoolCode == "" || p.SchoolCode == schoolCode) {
			return p, nil
		}
	}
	return model.Principal{}, ErrNotFound
}

func (m *Memory) UpdatePrincipal(_ context.Context, id string, upd PrincipalUpdate) (model.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return model.Principal{}, ErrNotFound
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Email != nil {
		p.Email = *upd.Email
	}
	if upd.Username != nil {
		p.Username = *upd.Username
	}
	p.UpdatedAt = time.Now().UTC()
	m.principals[id] = p
	return p, nil
}

func (m *Memory) UpdatePassword(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.PasswordHash = passwordHash
	p.UpdatedAt = time.Now().UTC()
	m.principals[id] = p
	return nil
}

func (m *Memory) DeactivatePrincipal(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.Active = false
	p.UpdatedAt = time.Now().UTC()
	m.principals[id] = p
	return nil
}

func (m *Memory) DeletePrincipal(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.principals[id]; !ok {
		return ErrNotFound
	}
	delete(m.principals, id)
	return nil
}

// Role registry

func (m *Memory) findOrCreateRoleLocked(name, schoolCode string) model.Role {
	if id, ok := m.roleKeys[roleKey(name, schoolCode)]; ok {
		return m.roles[id]
	}
	role := model.Role{
		ID:         uuid.NewString(),
		Name:       name,
		SchoolCode: schoolCode,
		CreatedAt:  time.Now().UTC(),
	}
	m.roles[role.ID] = role
	m.roleKeys[roleKey(name, schoolCode)] = role.ID
	return role
}

func (m *Memory) FindOrCreateRole(_ context.Context, name, schoolCode string) (model.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findOrCreateRoleLocked(name, schoolCode), nil
}

func (m *Memory) GetRole(_ context.Context, name, schoolCode string) (model.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.roleKeys[roleKey(name, schoolCode)]
	if !ok {
		return model.Role{}, ErrNotFound
	}
	return m.roles[id], nil
}

func (m *Memory) GetRoleByID(_ context.Context, id string) (model.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return model.Role{}, ErrNotFound
	}
	return role, nil
}

// Permission matrix

func (m *Memory) seedPermissionLocked(roleID string, module model.Module, schoolCode string, caps model.Capabilities) error {
	role, ok := m.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	if role.SchoolCode != schoolCode {
		return ErrSchoolMismatch
	}
	key := permKey(roleID, module, schoolCode)
	if _, ok := m.permKeys[key]; ok {
		return nil // seeding never overwrites
	}
	perm := model.Permission{
		ID:           uuid.NewString(),
		RoleID:       roleID,
		Module:       module,
		SchoolCode:   schoolCode,
		Capabilities: caps,
		CreatedAt:    time.Now().UTC(),
	}
	m.permissions[perm.ID] = perm
	m.permKeys[key] = perm.ID
	return nil
}

func (m *Memory) SeedPermission(_ context.Context, roleID string, module model.Module, schoolCode string, caps model.Capabilities) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seedPermissionLocked(roleID, module, schoolCode, caps)
}

func (m *Memory) CheckPermission(_ context.Context, roleID string, module model.Module, schoolCode string, action model.Action) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.permKeys[permKey(roleID, module, schoolCode)]
	if !ok {
		return false, nil
	}
	return m.permissions[id].Allows(action), nil
}

func (m *Memory) GetPermission(_ context.Context, roleID string, module model.Module, schoolCode string) (model.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.permKeys[permKey(roleID, module, schoolCode)]
	if !ok {
		return model.Permission{}, ErrNotFound
	}
	return m.permissions[id], nil
}

func (m *Memory) ListPermissionsByRole(_ context.Context, roleID, schoolCode string) ([]model.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var perms []model.Permission
	for _, perm := range m.permissions {
		if perm.RoleID == roleID && perm.SchoolCode == schoolCode {
			perms = append(perms, perm)
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Module < perms[j].Module })
	return perms, nil
}

// Schools

func (m *Memory) nextSchoolCodeLocked(locationCode string) string {
	seq := m.codeSeqs[locationCode]
	m.codeSeqs[locationCode] = seq + 1
	return fmt.Sprintf("SCHOOL-%s-%04d", locationCode, seq)
}

func (m *Memory) CreateSchool(_ context.Context, school model.School) (model.School, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schools[school.Code]; ok {
		return model.School{}, ErrDuplicate
	}
	now := time.Now().UTC()
	school.CreatedAt = now
	school.UpdatedAt = now
	m.schools[school.Code] = school
	return school, nil
}

func (m *Memory) GetSchool(_ context.Context, code string) (model.School, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	school, ok := m.schools[code]
	if !ok {
		return model.School{}, ErrNotFound
	}
	return school, nil
}

func (m *Memory) UpdateSchool(_ context.Context, code string, upd SchoolUpdate) (model.School, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	school, ok := m.schools[code]
	if !ok {
		return model.School{}, ErrNotFound
	}
	if upd.Name != nil {
		school.Name = *upd.Name
	}
	if upd.Board != nil {
		school.Board = *upd.Board
	}
	if upd.Medium != nil {
		school.Medium = *upd.Medium
	}
	if upd.SchoolType != nil {
		school.SchoolType = *upd.SchoolType
	}
	if upd.EstablishmentYear != nil {
		school.EstablishmentYear = *upd.EstablishmentYear
	}
	if upd.Address != nil {
		school.Address = *upd.Address
	}
	school.UpdatedAt = time.Now().UTC()
	m.schools[code] = school
	return school, nil
}

// Refresh sessions

func (m *Memory) CreateRefreshSession(_ context.Context, session model.RefreshSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.TokenHash]; ok {
		return ErrDuplicate
	}
	m.sessions[session.TokenHash] = session
	return nil
}

func (m *Memory) GetRefreshSession(_ context.Context, tokenHash string) (model.RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[tokenHash]
	if !ok {
		return model.RefreshSession{}, ErrNotFound
	}
	return session, nil
}

func (m *Memory) RevokeRefreshSession(_ context.Context, id string, revokedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, session := range m.sessions {
		if session.ID == id {
			session.RevokedAt = &revokedAt
			m.sessions[hash] = session
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) RevokeRefreshSessionsByPrincipal(_ context.Context, principalID string, revokedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, session := range m.sessions {
		if session.PrincipalID == principalID && session.RevokedAt == nil {
			session.RevokedAt = &revokedAt
			m.sessions[hash] = session
		}
	}
	return nil
}

// Attendance collaborator

func (m *Memory) CreateAttendanceRecord(_ context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.attendance {
		if existing.SchoolCode == rec.SchoolCode && existing.StudentID == rec.StudentID && existing.Date.Equal(rec.Date) {
			return model.AttendanceRecord{}, ErrDuplicate
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now().UTC()
	m.attendance = append(m.attendance, rec)
	return rec, nil
}

func (m *Memory) ListAttendanceByStudent(_ context.Context, schoolCode, studentID string) ([]model.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []model.AttendanceRecord
	for _, rec := range m.attendance {
		if rec.SchoolCode == schoolCode && rec.StudentID == studentID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date.After(records[j].Date) })
	return records, nil
}

// Compound registration flows

func (m *Memory) RegisterOwner(_ context.Context, owner model.Principal, locationCode string) (model.Principal, model.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code := m.nextSchoolCodeLocked(locationCode)
	superRole := m.findOrCreateRoleLocked(model.RoleSuperUser, code)
	ownerRole := m.findOrCreateRoleLocked(model.RoleSchoolOwner, code)

	for _, module := range model.SuperUserSeedModules {
		if err := m.seedPermissionLocked(superRole.ID, module, code, model.AllCapabilities()); err != nil {
			return model.Principal{}, model.Role{}, err
		}
		if err := m.seedPermissionLocked(ownerRole.ID, module, code, model.AllCapabilities()); err != nil {
			return model.Principal{}, model.Role{}, err
		}
	}

	owner.Kind = model.KindSchoolOwner
	owner.SchoolCode = code
	owner.RoleID = ownerRole.ID
	created, err := m.createPrincipalLocked(owner)
	if err != nil {
		return model.Principal{}, model.Role{}, err
	}
	return created, ownerRole, nil
}

func (m *Memory) RegisterAdmin(_ context.Context, admin model.Principal) (model.Principal, model.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	role := m.findOrCreateRoleLocked(model.RoleAdmin, admin.SchoolCode)
	for _, module := range model.AdminSeedModules {
		if err := m.seedPermissionLocked(role.ID, module, admin.SchoolCode, model.AllCapabilities()); err != nil {
			return model.Principal{}, model.Role{}, err
		}
	}
	admin.Kind = model.KindAdmin
	admin.RoleID = role.ID
	created, err := m.createPrincipalLocked(admin)
	if err != nil {
		return model.Principal{}, model.Role{}, err
	}
	return created, role, nil
}

func (m *Memory) RegisterMember(_ context.Context, p model.Principal) (model.Principal, model.Role, error) {
	var grants []model.SeedGrant
	switch p.Kind {
	case model.KindTeacher:
		grants = model.TeacherSeedGrants
	case model.KindStudent:
		grants = model.StudentSeedGrants
	default:
		return model.Principal{}, model.Role{}, fmt.Errorf("kind %q is not a member principal", p.Kind)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	role := m.findOrCreateRoleLocked(string(p.Kind), p.SchoolCode)
	for _, grant := range grants {
		if err := m.seedPermissionLocked(role.ID, grant.Module, p.SchoolCode, grant.Caps); err != nil {
			return model.Principal{}, model.Role{}, err
		}
	}
	p.RoleID = role.ID
	created, err := m.createPrincipalLocked(p)
	if err != nil {
		return model.Principal{}, model.Role{}, err
	}
	return created, role, nil
}
