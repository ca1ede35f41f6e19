package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*SnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSnapshotCache(client, time.Minute), mr
}

func TestSnapshotCacheFetchPopulatesOnce(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	loads := 0
	loader := func(context.Context) ([]Grant, error) {
		loads++
		return []Grant{{RoleID: "r1", Scope: ScopeOrganization}}, nil
	}

	key, err := cache.BuildKey(ctx, "rbac", "grants", "u1")
	if err != nil {
		t.Fatalf("build key: %v", err)
	}
	var grants []Grant
	if err := cache.FetchJSON(ctx, key, &grants, loader); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if err := cache.FetchJSON(ctx, key, &grants, loader); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if loads != 1 {
		t.Fatalf("expected one loader call, got %d", loads)
	}
	if len(grants) != 1 || grants[0].RoleID != "r1" {
		t.Fatalf("unexpected grants: %+v", grants)
	}
}

func TestSnapshotCacheBumpRetiresOldKeys(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	keyBefore, err := cache.BuildKey(ctx, "rbac", "grants", "u1")
	if err != nil {
		t.Fatalf("build key: %v", err)
	}
	if err := cache.Bump(ctx); err != nil {
		t.Fatalf("bump: %v", err)
	}
	keyAfter, err := cache.BuildKey(ctx, "rbac", "grants", "u1")
	if err != nil {
		t.Fatalf("build key after bump: %v", err)
	}
	if keyBefore == keyAfter {
		t.Fatalf("bump must change the composed key: %s", keyAfter)
	}
}

func TestSnapshotCacheServesStaleUntilBump(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	current := []Grant{{RoleID: "old", Scope: ScopeOrganization}}
	loader := func(context.Context) ([]Grant, error) { return current, nil }

	key, _ := cache.BuildKey(ctx, "rbac", "grants", "u1")
	var grants []Grant
	if err := cache.FetchJSON(ctx, key, &grants, loader); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	// The store changes but the version does not: the snapshot stays.
	current = []Grant{{RoleID: "new", Scope: ScopeOrganization}}
	if err := cache.FetchJSON(ctx, key, &grants, loader); err != nil {
		t.Fatalf("fetch cached: %v", err)
	}
	if grants[0].RoleID != "old" {
		t.Fatalf("expected cached snapshot, got %+v", grants)
	}

	// A bump retires the snapshot and the next fetch sees the new state.
	if err := cache.Bump(ctx); err != nil {
		t.Fatalf("bump: %v", err)
	}
	key, _ = cache.BuildKey(ctx, "rbac", "grants", "u1")
	if err := cache.FetchJSON(ctx, key, &grants, loader); err != nil {
		t.Fatalf("fetch after bump: %v", err)
	}
	if grants[0].RoleID != "new" {
		t.Fatalf("expected rebuilt snapshot, got %+v", grants)
	}
}

func TestSnapshotCacheNilSafe(t *testing.T) {
	var cache *SnapshotCache
	ctx := context.Background()

	if err := cache.Bump(ctx); err != nil {
		t.Fatalf("nil bump: %v", err)
	}
	var grants []Grant
	key, err := cache.BuildKey(ctx, "rbac", "grants", "u1")
	if err != nil {
		t.Fatalf("nil build key: %v", err)
	}
	err = cache.FetchJSON(ctx, key, &grants, func(context.Context) ([]Grant, error) {
		return []Grant{{RoleID: "r1"}}, nil
	})
	if err != nil || len(grants) != 1 {
		t.Fatalf("nil cache must pass through loader, got %v %+v", err, grants)
	}
}
