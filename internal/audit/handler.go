package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/veritas-hq/veritas/internal/platform/httpx"
	"github.com/veritas-hq/veritas/internal/rbac"
	"github.com/veritas-hq/veritas/internal/shared"
)

// Handler exposes trail queries, analytics, and exports over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
	mw      rbac.Middleware
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service *Service, mw rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, mw: mw}
}

// MountRoutes registers audit routes. Exports walk the full filtered trail,
// so they get their own tighter rate limit.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny(shared.PermAuditView))
		r.Get("/", h.query)
		r.Get("/summary", h.summary)
		r.Get("/risk/users/{userID}", h.userRisk)
		r.Get("/risk/flagged", h.flagged)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAll(shared.PermAuditExport))
		r.Use(httprate.LimitByIP(5, time.Minute))
		r.Get("/export", h.exportCSV)
	})
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	f := filtersFromQuery(r)
	result, err := h.service.Query(r.Context(), f)
	if err != nil {
		h.logger.Error("query audit trail", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries": result.Entries,
		"paging":  result.Paging,
	})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	from, to := windowFromQuery(r, 24*time.Hour)
	summary, err := h.service.Summarize(r.Context(), from, to)
	if err != nil {
		h.logger.Error("summarize audit trail", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) userRisk(w http.ResponseWriter, r *http.Request) {
	from, to := windowFromQuery(r, 24*time.Hour)
	risk, err := h.service.ScoreUser(r.Context(), chi.URLParam(r, "userID"), from, to)
	if err != nil {
		h.logger.Error("score user risk", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, risk)
}

func (h *Handler) flagged(w http.ResponseWriter, r *http.Request) {
	from, to := windowFromQuery(r, 24*time.Hour)
	flagged, err := h.service.ScanWindow(r.Context(), from, to)
	if err != nil {
		h.logger.Error("scan risk window", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"from":    from,
		"to":      to,
		"flagged": flagged,
	})
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	f := filtersFromQuery(r)
	entries, err := h.service.Export(r.Context(), f)
	if err != nil {
		h.logger.Error("export audit trail", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-trail.csv"`)
	if err := WriteCSV(w, entries); err != nil {
		h.logger.Error("stream audit csv", slog.Any("error", err))
	}
}

func filtersFromQuery(r *http.Request) Filters {
	q := r.URL.Query()
	f := Filters{
		UserID:   q.Get("user_id"),
		Resource: rbac.Resource(q.Get("resource")),
		Action:   Action(q.Get("action")),
	}
	if raw := q.Get("success"); raw != "" {
		val := raw == "true"
		f.Success = &val
	}
	if raw := q.Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			f.From = t
		}
	}
	if raw := q.Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			f.To = t
		}
	}
	if raw := q.Get("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			f.Page = parsed
		}
	}
	if raw := q.Get("page_size"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			f.PageSize = parsed
		}
	}
	return f
}

func windowFromQuery(r *http.Request, fallback time.Duration) (time.Time, time.Time) {
	q := r.URL.Query()
	to := time.Now().UTC()
	if raw := q.Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			to = t
		}
	}
	from := to.Add(-fallback)
	if raw := q.Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			from = t
		}
	}
	return from, to
}
