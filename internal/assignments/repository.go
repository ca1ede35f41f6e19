package assignments

import (
	"context"
	"errors"
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

// NewRepository builds the PostgreSQL-backed assignment store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const assignmentColumns = `id, user_id, role_id, scope, scope_values, valid_until, assigned_at, assigned_by, reason, is_active, revoked_at, revoked_by`

func (r *repository) Get(ctx context.Context, id string) (*rbac.Assignment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id)
	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

func (r *repository) Create(ctx context.Context, a rbac.Assignment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO assignments (id, user_id, role_id, scope, scope_values, valid_until, assigned_at, assigned_by, reason, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.UserID, a.RoleID, string(a.Scope), a.ScopeValues,
		optionalTimestamptz(a.ValidUntil), a.AssignedAt, a.AssignedBy,
		optionalText(a.Reason), a.IsActive,
	)
	return err
}

func (r *repository) Deactivate(ctx context.Context, id string, revokedAt time.Time, revokedBy, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE assignments
		SET is_active = FALSE, revoked_at = $2, revoked_by = $3,
		    reason = COALESCE(NULLIF($4, ''), reason)
		WHERE id = $1 AND is_active`,
		id, revokedAt, revokedBy, reason,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) ListByUser(ctx context.Context, userID string, activeOnly bool) ([]rbac.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE user_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY assigned_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAssignments(rows)
}

func (r *repository) List(ctx context.Context, req ListAssignmentsRequest) ([]rbac.Assignment, int, error) {
	var conditions []string
	var args []interface{}
	argPos := 1

	if req.UserID != nil && *req.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argPos))
		args = append(args, *req.UserID)
		argPos++
	}
	if req.RoleID != nil && *req.RoleID != "" {
		conditions = append(conditions, fmt.Sprintf("role_id = $%d", argPos))
		args = append(args, *req.RoleID)
		argPos++
	}
	if req.Scope != nil && *req.Scope != "" {
		conditions = append(conditions, fmt.Sprintf("scope = $%d", argPos))
		args = append(args, *req.Scope)
		argPos++
	}
	if req.ActiveOnly {
		conditions = append(conditions, "is_active")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM assignments %s", whereClause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM assignments %s ORDER BY assigned_at DESC LIMIT $%d OFFSET $%d`,
		assignmentColumns, whereClause, argPos, argPos+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	result, err := collectAssignments(rows)
	if err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (r *repository) ActiveByUserAndRole(ctx context.Context, userID, roleID string) ([]rbac.Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE user_id = $1 AND role_id = $2 AND is_active
		ORDER BY assigned_at DESC`, userID, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAssignments(rows)
}

func (r *repository) ExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]rbac.Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE is_active AND valid_until IS NOT NULL AND valid_until < $1
		ORDER BY valid_until
		LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAssignments(rows)
}

func collectAssignments(rows pgx.Rows) ([]rbac.Assignment, error) {
	var result []rbac.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func scanAssignment(row pgx.Row) (*rbac.Assignment, error) {
	var a rbac.Assignment
	var scope string
	var validUntil, assignedAt, revokedAt pgtype.Timestamptz
	var reason, revokedBy pgtype.Text

	err := row.Scan(&a.ID, &a.UserID, &a.RoleID, &scope, &a.ScopeValues,
		&validUntil, &assignedAt, &a.AssignedBy, &reason, &a.IsActive,
		&revokedAt, &revokedBy)
	if err != nil {
		return nil, err
	}
	a.Scope = rbac.Scope(scope)
	if validUntil.Valid {
		t := validUntil.Time
		a.ValidUntil = &t
	}
	if assignedAt.Valid {
		a.AssignedAt = assignedAt.Time
	}
	if reason.Valid {
		a.Reason = reason.String
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		a.RevokedAt = &t
	}
	if revokedBy.Valid {
		a.RevokedBy = revokedBy.String
	}
	return &a, nil
}

func optionalTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func optionalText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
