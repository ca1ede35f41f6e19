package rbac

import (
	"log/slog"
	"net/http"

	"github.com/veritas-hq/veritas/internal/shared"
)

// Middleware wires authorization helpers for the engine's own HTTP surface.
// Gate checks read the cached effective permission set rather than going
// through HasPermission, so routine route guards do not flood the audit log;
// the explicit /access/check endpoint is the audited path.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequireAny ensures the current user holds at least one of the required
// "resource:action" permissions at organization scope.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	required := parseRefs(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID := shared.UserIDFromContext(r.Context())
			if userID == "" {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			granted, err := m.Service.UserEffectivePermissions(r.Context(), userID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac require any", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			for _, p := range required {
				if granted.Has(p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// RequireAll ensures the current user holds every required permission.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	required := parseRefs(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID := shared.UserIDFromContext(r.Context())
			if userID == "" {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			granted, err := m.Service.UserEffectivePermissions(r.Context(), userID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac require all", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			for _, p := range required {
				if !granted.Has(p) {
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// parseRefs converts "resource:action" references into permissions at
// organization scope, dropping malformed entries.
func parseRefs(refs []string) []Permission {
	out := make([]Permission, 0, len(refs))
	seen := make(map[Permission]struct{}, len(refs))
	for _, ref := range refs {
		p, err := ParsePermission(ref)
		if err != nil {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
