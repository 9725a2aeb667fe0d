package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/School-ERP-Techneat/school-add-sub000/internal/model"
)

func TestSchoolCodeSequence(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	first, _, err := store.RegisterOwner(ctx, model.Principal{Username: "owner1", PasswordHash: "x"}, "1234")
	if err != nil {
		t.Fatalf("register owner: %v", err)
	}
	if first.SchoolCode != "SCHOOL-1234-0000" {
		t.Fatalf("expected SCHOOL-1234-0000, got %s", first.SchoolCode)
	}

	second, _, err := store.RegisterOwner(ctx, model.Principal{Username: "owner2", PasswordHash: "x"}, "1234")
	if err != nil {
		t.Fatalf("register owner: %v", err)
	}
	if second.SchoolCode != "SCHOOL-1234-0001" {
		t.Fatalf("expected SCHOOL-1234-0001, got %s", second.SchoolCode)
	}

	other, _, err := store.RegisterOwner(ctx, model.Principal{Username: "owner3", PasswordHash: "x"}, "9999")
	if err != nil {
		t.Fatalf("register owner: %v", err)
	}
	if other.SchoolCode != "SCHOOL-9999-0000" {
		t.Fatalf("expected per-location sequence, got %s", other.SchoolCode)
	}
}

func TestFindOrCreateRoleConverges(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	const callers = 16
	roles := make([]model.Role, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			role, err := store.FindOrCreateRole(ctx, model.RoleTeacher, "SCHOOL-1234-0000")
			if err != nil {
				t.Errorf("find or create: %v", err)
				return
			}
			roles[i] = role
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if roles[i].ID != roles[0].ID {
			t.Fatalf("concurrent callers must converge to one role row")
		}
	}
}

func TestSeedPermissionIdempotent(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	role, err := store.FindOrCreateRole(ctx, model.RoleAdmin, "SCHOOL-1234-0000")
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}

	caps := model.Capabilities{CanRead: true}
	if err := store.SeedPermission(ctx, role.ID, model.ModuleAdmin, role.SchoolCode, caps); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// A second seed with wider capabilities must not overwrite the grant.
	if err := store.SeedPermission(ctx, role.ID, model.ModuleAdmin, role.SchoolCode, model.AllCapabilities()); err != nil {
		t.Fatalf("reseed: %v", err)
	}

	perm, err := store.GetPermission(ctx, role.ID, model.ModuleAdmin, role.SchoolCode)
	if err != nil {
		t.Fatalf("get permission: %v", err)
	}
	if perm.CanCreate || perm.CanUpdate || perm.CanDelete {
		t.Fatalf("second seed overwrote existing grant: %+v", perm.Capabilities)
	}
	if !perm.CanRead {
		t.Fatalf("original grant lost")
	}

	perms, err := store.ListPermissionsByRole(ctx, role.ID, role.SchoolCode)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(perms) != 1 {
		t.Fatalf("expected exactly one permission row, got %d", len(perms))
	}
}

func TestSeedPermissionRejectsSchoolMismatch(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	role, err := store.FindOrCreateRole(ctx, model.RoleAdmin, "SCHOOL-1234-0000")
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	err = store.SeedPermission(ctx, role.ID, model.ModuleAdmin, "SCHOOL-9999-0000", model.AllCapabilities())
	if err != ErrSchoolMismatch {
		t.Fatalf("expected ErrSchoolMismatch, got %v", err)
	}
}

func TestCheckPermissionAbsentRowDenies(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	role, err := store.FindOrCreateRole(ctx, model.RoleStudent, "SCHOOL-1234-0000")
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	for _, action := range []model.Action{model.ActionCreate, model.ActionRead, model.ActionUpdate, model.ActionDelete} {
		ok, err := store.CheckPermission(ctx, role.ID, model.ModuleAttendance, role.SchoolCode, action)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if ok {
			t.Fatalf("absent permission row must deny %s", action)
		}
	}
}

func TestRegisterAdminSeedsBundle(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	admin, role, err := store.RegisterAdmin(ctx, model.Principal{
		SchoolCode:   "SCHOOL-1234-0000",
		Username:     "admin1",
		PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("register admin: %v", err)
	}
	if admin.RoleID != role.ID {
		t.Fatalf("admin must hold the admin role")
	}

	for _, module := range []model.Module{model.ModuleAdmin, model.ModuleTeacher, model.ModuleStudent} {
		ok, err := store.CheckPermission(ctx, role.ID, module, "SCHOOL-1234-0000", model.ActionDelete)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if !ok {
			t.Fatalf("expected all-capability seed for module %s", module)
		}
	}
	if ok, _ := store.CheckPermission(ctx, role.ID, model.ModuleSchool, "SCHOOL-1234-0000", model.ActionRead); ok {
		t.Fatalf("admin bundle must not include the school module")
	}
}

func TestMemberSoftDelete(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	student, _, err := store.RegisterMember(ctx, model.Principal{
		Kind:         model.KindStudent,
		SchoolCode:   "SCHOOL-1234-0000",
		Username:     "student1",
		PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("register member: %v", err)
	}
	if err := store.DeactivatePrincipal(ctx, student.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, err := store.GetPrincipalByID(ctx, student.ID)
	if err != nil {
		t.Fatalf("soft-deleted principal must still exist: %v", err)
	}
	if got.Active {
		t.Fatalf("expected principal to be inactive")
	}
}

func TestOwnerUsernameGloballyUnique(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if _, _, err := store.RegisterOwner(ctx, model.Principal{Username: "sameowner", PasswordHash: "x"}, "1111"); err != nil {
		t.Fatalf("first owner: %v", err)
	}

	// Owner lookups are tenant-less, so a second school cannot reuse the
	// username.
	_, _, err := store.RegisterOwner(ctx, model.Principal{Username: "sameowner", PasswordHash: "y"}, "2222")
	if err != ErrDuplicate {
		t.Fatalf("duplicate owner err = %v, want ErrDuplicate", err)
	}

	// Per-school kinds are unaffected: two schools may each have an admin
	// named the same.
	if _, _, err := store.RegisterAdmin(ctx, model.Principal{Username: "headadmin", PasswordHash: "x", SchoolCode: "SCHOOL-1111-0000"}); err != nil {
		t.Fatalf("admin at first school: %v", err)
	}
	if _, _, err := store.RegisterAdmin(ctx, model.Principal{Username: "headadmin", PasswordHash: "y", SchoolCode: "SCHOOL-2222-0000"}); err != nil {
		t.Fatalf("admin at second school: %v", err)
	}
}
