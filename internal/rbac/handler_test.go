package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-hq/veritas/internal/shared"
)

func newAccessRouter(rec *decisionLog) chi.Router {
	dir := stubDirectory{perms: map[string]PermissionSet{
		"viewer": NewPermissionSet(
			Permission{ResourcePermissions, ActionRead, ScopeOrganization},
			Permission{ResourceDocuments, ActionRead, ScopeOrganization},
		),
	}}
	src := stubAssignments{byUser: map[string][]Assignment{
		"u1": {activeAssignment("u1", "viewer", ScopeOrganization)},
	}}
	svc := NewService(dir, src, rec, nil, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(logger, svc, Middleware{Service: svc})

	r := chi.NewRouter()
	r.Route("/access", handler.MountRoutes)
	return r
}

func doAccess(router chi.Router, method, path, userID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req = req.WithContext(shared.ContextWithUserID(context.Background(), userID))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCheckEndpoint(t *testing.T) {
	log := &decisionLog{}
	router := newAccessRouter(log)

	rec := doAccess(router, http.MethodPost, "/access/check", "u1", map[string]string{
		"user_id": "u1", "resource": "documents", "action": "read",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp checkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Allowed)
	assert.Len(t, log.decisions, 1)

	rec = doAccess(router, http.MethodPost, "/access/check", "u1", map[string]string{
		"user_id": "u1", "resource": "documents", "action": "delete",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Allowed)
	assert.Len(t, log.decisions, 2)
}

func TestCheckEndpointValidatesBody(t *testing.T) {
	router := newAccessRouter(&decisionLog{})

	rec := doAccess(router, http.MethodPost, "/access/check", "u1", map[string]string{
		"user_id": "u1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckEndpointRequiresPermission(t *testing.T) {
	router := newAccessRouter(&decisionLog{})

	// u2 has no assignments, so the route guard rejects before any check.
	rec := doAccess(router, http.MethodPost, "/access/check", "u2", map[string]string{
		"user_id": "u1", "resource": "documents", "action": "read",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUserPermissionsEndpoint(t *testing.T) {
	router := newAccessRouter(&decisionLog{})

	rec := doAccess(router, http.MethodGet, "/access/users/u1/permissions", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		UserID      string       `json:"user_id"`
		Permissions []Permission `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "u1", resp.UserID)
	assert.Len(t, resp.Permissions, 2)
}

func TestCatalogEndpoint(t *testing.T) {
	router := newAccessRouter(&decisionLog{})

	rec := doAccess(router, http.MethodGet, "/access/catalog", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Resources []Resource `json:"resources"`
		Actions   []Action   `json:"actions"`
		Scopes    []Scope    `json:"scopes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, Resources(), resp.Resources)
	assert.Equal(t, Actions(), resp.Actions)
	assert.Equal(t, Scopes(), resp.Scopes)
}
