package assignments

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/veritas-hq/veritas/internal/platform/httpx"
	"github.com/veritas-hq/veritas/internal/rbac"
	"github.com/veritas-hq/veritas/internal/shared"
)

// maxImportBody bounds how much CSV a single import request may carry.
const maxImportBody = 4 << 20

// Handler exposes assignment operations over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	mw        rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds the assignments handler.
func NewHandler(logger *slog.Logger, service *Service, mw rbac.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		mw:        mw,
		validator: validator.New(),
	}
}

// MountRoutes registers assignment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny(shared.PermAssignmentsView))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/users/{userID}", h.listForUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAll(shared.PermAssignmentsCreate))
		r.Post("/", h.assign)
		r.Post("/bulk", h.bulkAssign)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAll(shared.PermAssignmentsRevoke))
		r.Delete("/{id}", h.revokeByID)
		r.Post("/revoke", h.revoke)
		r.Post("/revoke/bulk", h.bulkRevoke)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAll(shared.PermAssignmentsImport))
		r.Post("/import", h.importCSV)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	req := ListAssignmentsRequest{Limit: 50}
	q := r.URL.Query()
	if v := q.Get("user_id"); v != "" {
		req.UserID = &v
	}
	if v := q.Get("role_id"); v != "" {
		req.RoleID = &v
	}
	if v := q.Get("scope"); v != "" {
		req.Scope = &v
	}
	req.ActiveOnly = q.Get("active") == "true"
	if raw := q.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			req.Limit = parsed
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			req.Offset = parsed
		}
	}

	result, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list assignments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"assignments": result,
		"pagination":  shared.NewPagination(req.Offset/req.Limit+1, req.Limit, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	assignment, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignment)
}

func (h *Handler) listForUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	assignments, err := h.service.ActiveForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("list user assignments", slog.Any("error", err), slog.String("user_id", userID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"assignments": assignments,
	})
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	assignment, err := h.service.Assign(r.Context(), req, shared.UserIDFromContext(r.Context()))
	if err != nil {
		h.logger.Error("assign role", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, assignment)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.Revoke(r.Context(), req, shared.UserIDFromContext(r.Context())); err != nil {
		h.logger.Error("revoke role", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeByID(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if err := h.service.RevokeByID(r.Context(), chi.URLParam(r, "id"), reason, shared.UserIDFromContext(r.Context())); err != nil {
		h.logger.Error("revoke assignment", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) bulkAssign(w http.ResponseWriter, r *http.Request) {
	var req BulkAssignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	results, err := h.service.BulkAssign(r.Context(), req.Items, shared.UserIDFromContext(r.Context()))
	if err != nil {
		h.logger.Error("bulk assign", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) bulkRevoke(w http.ResponseWriter, r *http.Request) {
	var req BulkRevokeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	results, err := h.service.BulkRevoke(r.Context(), req.Items, shared.UserIDFromContext(r.Context()))
	if err != nil {
		h.logger.Error("bulk revoke", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) importCSV(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportBody)
	defer body.Close()

	results, err := h.service.ImportCSV(r.Context(), body, shared.UserIDFromContext(r.Context()))
	if err != nil {
		h.logger.Error("import assignments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	imported := 0
	for _, res := range results {
		if res.OK {
			imported++
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"imported": imported,
		"rows":     results,
	})
}
