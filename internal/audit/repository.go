package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veritas-hq/veritas/internal/rbac"
)

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the PostgreSQL-backed trail store. The table carries
// no UPDATE or DELETE path; inserts are the only write.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const entryColumns = `id, ts, user_id, action, resource, success, reason, ip_address, user_agent`

func (r *repository) Insert(ctx context.Context, e Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_entries (id, ts, user_id, action, resource, success, reason, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Timestamp, e.UserID, string(e.Action), string(e.Resource),
		e.Success, nullable(e.Reason), nullable(e.IPAddress), nullable(e.UserAgent),
	)
	return err
}

func (r *repository) Window(ctx context.Context, f Filters, limit, offset int) ([]Entry, error) {
	whereClause, args := buildFilter(f)
	query := fmt.Sprintf(`SELECT %s FROM audit_entries %s ORDER BY ts DESC LIMIT $%d OFFSET $%d`,
		entryColumns, whereClause, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (r *repository) All(ctx context.Context, f Filters) ([]Entry, error) {
	whereClause, args := buildFilter(f)
	query := fmt.Sprintf(`SELECT %s FROM audit_entries %s ORDER BY ts DESC`, entryColumns, whereClause)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (r *repository) RecentByUser(ctx context.Context, userID string, since, until time.Time) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM audit_entries
		WHERE user_id = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts DESC`, userID, since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func buildFilter(f Filters) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	argPos := 1

	add := func(cond string, val interface{}) {
		conditions = append(conditions, fmt.Sprintf(cond, argPos))
		args = append(args, val)
		argPos++
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Resource != "" {
		add("resource = $%d", string(f.Resource))
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.Success != nil {
		add("success = $%d", *f.Success)
	}
	if !f.From.IsZero() {
		add("ts >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("ts < $%d", f.To)
	}
	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	var result []Entry
	for rows.Next() {
		var e Entry
		var action, resource string
		var ts pgtype.Timestamptz
		var reason, ip, agent pgtype.Text
		if err := rows.Scan(&e.ID, &ts, &e.UserID, &action, &resource,
			&e.Success, &reason, &ip, &agent); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		e.Resource = rbac.Resource(resource)
		if ts.Valid {
			e.Timestamp = ts.Time
		}
		if reason.Valid {
			e.Reason = reason.String
		}
		if ip.Valid {
			e.IPAddress = ip.String
		}
		if agent.Valid {
			e.UserAgent = agent.String
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func nullable(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
