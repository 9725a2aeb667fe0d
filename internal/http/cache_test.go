package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/School-ERP-Techneat/school-add-sub000/internal/model"
	"github.com/School-ERP-Techneat/school-add-sub000/internal/repository"
)

func newTestCache(t *testing.T, ttl time.Duration) (*permissionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return newPermissionCache(client, ttl), mr
}

func TestPermissionCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	if _, ok := cache.get(ctx, "role-1", model.ModuleStudent, "SCHOOL-1234-0000"); ok {
		t.Fatal("expected miss on empty cache")
	}

	want := model.Capabilities{CanRead: true, CanUpdate: true}
	cache.set(ctx, "role-1", model.ModuleStudent, "SCHOOL-1234-0000", want)

	got, ok := cache.get(ctx, "role-1", model.ModuleStudent, "SCHOOL-1234-0000")
	if !ok {
		t.Fatal("expected hit after set")
	}
	if got != want {
		t.Fatalf("cached caps = %+v, want %+v", got, want)
	}

	// Same role, different school: distinct entry.
	if _, ok := cache.get(ctx, "role-1", model.ModuleStudent, "SCHOOL-9999-0000"); ok {
		t.Fatal("cache leaked across schools")
	}
}

func TestPermissionCacheExpires(t *testing.T) {
	cache, mr := newTestCache(t, time.Second)
	ctx := context.Background()

	cache.set(ctx, "role-1", model.ModuleClass, "SCHOOL-1234-0000", model.AllCapabilities())
	if _, ok := cache.get(ctx, "role-1", model.ModuleClass, "SCHOOL-1234-0000"); !ok {
		t.Fatal("expected hit before expiry")
	}

	mr.FastForward(2 * time.Second)
	if _, ok := cache.get(ctx, "role-1", model.ModuleClass, "SCHOOL-1234-0000"); ok {
		t.Fatal("expected miss after expiry")
	}
}

func TestPermissionCacheNilClientAlwaysMisses(t *testing.T) {
	cache := newPermissionCache(nil, time.Minute)
	ctx := context.Background()

	cache.set(ctx, "role-1", model.ModuleClass, "SCHOOL-1234-0000", model.AllCapabilities())
	if _, ok := cache.get(ctx, "role-1", model.ModuleClass, "SCHOOL-1234-0000"); ok {
		t.Fatal("nil-client cache must never hit")
	}
}

// A cached denial must not outlive a new grant: creating the grant drops the
// cache entry so the next check sees the fresh row.
func TestGrantCreationDropsCachedDenial(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	server, store := newTestServer(t)
	server.cache = newPermissionCache(client, time.Hour)
	handler := server.Router()
	ctx := context.Background()

	auth, code := signupOwner(t, handler, "owner", "1234")
	registerPrincipal(t, handler, auth.AccessToken, "teacher", code, "teacher-one")
	teacherRole, err := store.GetRole(ctx, model.RoleTeacher, code)
	if err != nil {
		t.Fatalf("get teacher role: %v", err)
	}

	// Prime the cache with the absent-row denial.
	allowed, err := server.checkPermission(ctx, teacherRole.ID, model.ModuleClass, code, model.ActionRead)
	if err != nil || allowed {
		t.Fatalf("pre-grant check = %v, %v", allowed, err)
	}

	rec := doRequest(t, handler, http.MethodPost, "/api/permission/"+code, auth.AccessToken, map[string]interface{}{
		"roleId":  teacherRole.ID,
		"module":  "class",
		"canRead": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("grant returned %d: %s", rec.Code, rec.Body.String())
	}

	allowed, err = server.checkPermission(ctx, teacherRole.ID, model.ModuleClass, code, model.ActionRead)
	if err != nil || !allowed {
		t.Fatalf("post-grant check = %v, %v, want allowed", allowed, err)
	}
}

// A stale cache entry keeps answering until it expires, even if the backing
// row changed underneath it. That staleness window is the documented
// trade-off of caching permission rows.
func TestCheckPermissionServesCachedEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	server, store := newTestServer(t)
	server.cache = newPermissionCache(client, time.Minute)
	ctx := context.Background()

	role, err := store.FindOrCreateRole(ctx, model.RoleTeacher, "SCHOOL-1234-0000")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	caps := model.Capabilities{CanRead: true}
	if err := store.SeedPermission(ctx, role.ID, model.ModuleClass, "SCHOOL-1234-0000", caps); err != nil {
		t.Fatalf("seed permission: %v", err)
	}

	allowed, err := server.checkPermission(ctx, role.ID, model.ModuleClass, "SCHOOL-1234-0000", model.ActionRead)
	if err != nil || !allowed {
		t.Fatalf("first check = %v, %v", allowed, err)
	}

	// Swap in an empty store: a fresh lookup would now deny, the cache still
	// answers from the row it captured.
	server.store = repository.NewMemory()

	allowed, err = server.checkPermission(ctx, role.ID, model.ModuleClass, "SCHOOL-1234-0000", model.ActionRead)
	if err != nil || !allowed {
		t.Fatalf("cached check = %v, %v", allowed, err)
	}
}
