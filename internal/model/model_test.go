package model

import "testing"

func TestParseModule(t *testing.T) {
	valid := []string{"admin", "teacher", "student", "school", "role", "superUser", "class_teacher", "attendance", "student_details", "class", "section", "batch"}
	for _, name := range valid {
		if _, err := ParseModule(name); err != nil {
			t.Fatalf("expected module %s to be valid", name)
		}
	}
	if _, err := ParseModule("homework"); err == nil {
		t.Fatalf("expected unknown module to error")
	}
	if _, err := ParseModule(""); err == nil {
		t.Fatalf("expected empty module to error")
	}
}

func TestGrantable(t *testing.T) {
	forbidden := []Module{ModuleSchool, ModuleRole, ModuleSuperUser}
	for _, m := range forbidden {
		if m.Grantable() {
			t.Fatalf("expected module %s to be non-grantable", m)
		}
	}
	grantable := []Module{ModuleAdmin, ModuleTeacher, ModuleStudent, ModuleAttendance, ModuleClassTeacher}
	for _, m := range grantable {
		if !m.Grantable() {
			t.Fatalf("expected module %s to be grantable", m)
		}
	}
	if Module("homework").Grantable() {
		t.Fatalf("unknown module must never be grantable")
	}
}

func TestCapabilitiesAllows(t *testing.T) {
	caps := Capabilities{CanRead: true, CanUpdate: true}
	if !caps.Allows(ActionRead) || !caps.Allows(ActionUpdate) {
		t.Fatalf("expected read and update to be allowed")
	}
	if caps.Allows(ActionCreate) || caps.Allows(ActionDelete) {
		t.Fatalf("expected create and delete to be denied")
	}
	if caps.Allows(Action("truncate")) {
		t.Fatalf("unknown action must be denied")
	}
}

func TestParseAction(t *testing.T) {
	for _, name := range []string{"create", "read", "update", "delete"} {
		if _, err := ParseAction(name); err != nil {
			t.Fatalf("expected action %s to be valid", name)
		}
	}
	if _, err := ParseAction("list"); err == nil {
		t.Fatalf("expected unknown action to error")
	}
}
