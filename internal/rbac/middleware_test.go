package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/veritas-hq/veritas/internal/shared"
)

func testGuard() Middleware {
	dir := stubDirectory{perms: map[string]PermissionSet{
		"viewer": NewPermissionSet(Permission{ResourceRoles, ActionRead, ScopeOrganization}),
	}}
	src := stubAssignments{byUser: map[string][]Assignment{
		"u1": {activeAssignment("u1", "viewer", ScopeOrganization)},
	}}
	return Middleware{Service: NewService(dir, src, &decisionLog{}, nil, nil)}
}

func doGuarded(t *testing.T, mw func(http.Handler) http.Handler, userID string) *httptest.ResponseRecorder {
	t.Helper()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if userID != "" {
		req = req.WithContext(shared.ContextWithUserID(context.Background(), userID))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireAnyAllowsHolder(t *testing.T) {
	guard := testGuard()
	rec := doGuarded(t, guard.RequireAny(shared.PermRolesView), "u1")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
}

func TestRequireAnyRejectsMissingPermission(t *testing.T) {
	guard := testGuard()
	rec := doGuarded(t, guard.RequireAny(shared.PermRolesDelete), "u1")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRequireAnyRejectsAnonymous(t *testing.T) {
	guard := testGuard()
	rec := doGuarded(t, guard.RequireAny(shared.PermRolesView), "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing identity, got %d", rec.Code)
	}
}

func TestRequireAllNeedsEveryPermission(t *testing.T) {
	guard := testGuard()
	rec := doGuarded(t, guard.RequireAll(shared.PermRolesView, shared.PermRolesDelete), "u1")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with one permission missing, got %d", rec.Code)
	}
	rec = doGuarded(t, guard.RequireAll(shared.PermRolesView), "u1")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
}
