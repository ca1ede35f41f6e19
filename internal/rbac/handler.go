package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/veritas-hq/veritas/internal/platform/httpx"
	"github.com/veritas-hq/veritas/internal/shared"
)

// Handler exposes the resolver over HTTP: explicit checks, effective
// permission queries, and the permission catalog.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	mw        Middleware
	validator *validator.Validate
}

// NewHandler builds the access handler.
func NewHandler(logger *slog.Logger, service *Service, mw Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		mw:        mw,
		validator: validator.New(),
	}
}

// MountRoutes registers access routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny(shared.PermPermissionsView))
		r.Post("/check", h.check)
		r.Get("/users/{id}/permissions", h.userPermissions)
		r.Get("/catalog", h.catalog)
	})
}

type checkRequest struct {
	UserID     string `json:"user_id" validate:"required"`
	Resource   string `json:"resource" validate:"required"`
	Action     string `json:"action" validate:"required"`
	Scope      string `json:"scope,omitempty"`
	ScopeValue string `json:"scope_value,omitempty"`
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	allowed, err := h.service.HasPermission(r.Context(), CheckRequest{
		UserID:     req.UserID,
		Resource:   Resource(req.Resource),
		Action:     Action(req.Action),
		Scope:      Scope(req.Scope),
		ScopeValue: req.ScopeValue,
	})
	if err != nil {
		// Fail closed: the denial has already been audited with the cause.
		h.logger.Error("permission check", slog.Any("error", err))
		httpx.JSON(w, http.StatusOK, checkResponse{Allowed: false})
		return
	}
	httpx.JSON(w, http.StatusOK, checkResponse{Allowed: allowed})
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "user id required")
		return
	}
	perms, err := h.service.UserEffectivePermissions(r.Context(), userID)
	if err != nil {
		h.logger.Error("user effective permissions", slog.Any("error", err), slog.String("user_id", userID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"permissions": perms.List(),
	})
}

func (h *Handler) catalog(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{
		"resources": Resources(),
		"actions":   Actions(),
		"scopes":    Scopes(),
	})
}
