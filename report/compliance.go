package report

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/veritas-hq/veritas/internal/audit"
	"github.com/veritas-hq/veritas/internal/rbac"
	"github.com/veritas-hq/veritas/internal/shared"
)

// Handler renders audit compliance reports as PDF documents.
type Handler struct {
	client *Client
	audits *audit.Service
	logger *slog.Logger
	mw     rbac.Middleware
}

// NewHandler creates a report handler.
func NewHandler(client *Client, audits *audit.Service, logger *slog.Logger, mw rbac.Middleware) *Handler {
	return &Handler{client: client, audits: audits, logger: logger, mw: mw}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ping", h.ping)
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAll(shared.PermAuditExport))
		r.Get("/compliance", h.compliance)
	})
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Ping(r.Context()); err != nil {
		h.logger.Warn("gotenberg ping failed", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// compliance renders the audit summary for a window (default the trailing
// 7 days) into a printable PDF.
func (h *Handler) compliance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to := time.Now().UTC()
	if raw := q.Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			to = t
		}
	}
	from := to.Add(-7 * 24 * time.Hour)
	if raw := q.Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			from = t
		}
	}

	summary, err := h.audits.Summarize(r.Context(), from, to)
	if err != nil {
		h.logger.Error("summarize for compliance report", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	flagged, err := h.audits.ScanWindow(r.Context(), from, to)
	if err != nil {
		h.logger.Error("risk scan for compliance report", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	html, err := RenderComplianceHTML(summary, flagged, time.Now().UTC())
	if err != nil {
		h.logger.Error("render compliance html", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	pdf, err := h.client.RenderHTML(r.Context(), html)
	if err != nil {
		h.logger.Error("render compliance pdf", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=compliance-%s.pdf", to.Format("2006-01-02")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

var complianceTmpl = template.Must(template.New("compliance").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Access Compliance Report</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; margin: 2em; color: #1a1a1a; }
h1 { font-size: 20px; border-bottom: 2px solid #333; padding-bottom: 6px; }
h2 { font-size: 14px; margin-top: 1.5em; }
table { border-collapse: collapse; width: 100%; font-size: 12px; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
th { background: #f2f2f2; }
.meta { color: #666; font-size: 11px; }
.risk { font-weight: bold; }
</style>
</head>
<body>
<h1>Access Compliance Report</h1>
<p class="meta">Window {{.Summary.From.Format "2006-01-02 15:04"}} &ndash; {{.Summary.To.Format "2006-01-02 15:04"}} UTC &middot; generated {{.GeneratedAt.Format "2006-01-02 15:04:05"}} UTC</p>

<h2>Overview</h2>
<table>
<tr><th>Total entries</th><th>Denied</th><th>Window risk score</th></tr>
<tr><td>{{.Summary.TotalEntries}}</td><td>{{.Summary.DeniedCount}}</td><td class="risk">{{printf "%.1f" .Summary.RiskScore}}</td></tr>
</table>

<h2>Most active users</h2>
<table>
<tr><th>User</th><th>Entries</th></tr>
{{range .Summary.TopUsers}}<tr><td>{{.Key}}</td><td>{{.Count}}</td></tr>
{{else}}<tr><td colspan="2">No activity in window.</td></tr>
{{end}}</table>

<h2>Most touched resources</h2>
<table>
<tr><th>Resource</th><th>Entries</th></tr>
{{range .Summary.TopResources}}<tr><td>{{.Key}}</td><td>{{.Count}}</td></tr>
{{else}}<tr><td colspan="2">No activity in window.</td></tr>
{{end}}</table>

<h2>Flagged users</h2>
<table>
<tr><th>User</th><th>Entries</th><th>Denied</th><th>Risk score</th></tr>
{{range .Flagged}}<tr><td>{{.UserID}}</td><td>{{.Entries}}</td><td>{{.Denied}}</td><td class="risk">{{printf "%.1f" .RiskScore}}</td></tr>
{{else}}<tr><td colspan="4">No users above the risk threshold.</td></tr>
{{end}}</table>
</body>
</html>`))

// RenderComplianceHTML builds the report body handed to the PDF renderer.
func RenderComplianceHTML(summary audit.Summary, flagged []audit.UserRisk, generatedAt time.Time) (string, error) {
	var buf bytes.Buffer
	err := complianceTmpl.Execute(&buf, struct {
		Summary     audit.Summary
		Flagged     []audit.UserRisk
		GeneratedAt time.Time
	}{summary, flagged, generatedAt})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
