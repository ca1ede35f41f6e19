package roles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/cases"

	"github.com/veritas-hq/veritas/internal/platform/db"
	"github.com/veritas-hq/veritas/internal/rbac"
)

const pgUniqueViolation = "23505"

type repository struct {
	pool   *pgxpool.Pool
	folder cases.Caser
}

// NewRepository builds the PostgreSQL-backed role store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool, folder: cases.Fold()}
}

const roleColumns = `id, name, display_name, description, level, permissions, inherits_from, is_system, created_by, created_at, updated_at`

func (r *repository) Get(ctx context.Context, id string) (*rbac.Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return role, nil
}

func (r *repository) GetByFoldedName(ctx context.Context, folded string) (*rbac.Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name_folded = $1`, folded)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return role, nil
}

func (r *repository) List(ctx context.Context, req ListRolesRequest) ([]rbac.Role, int, error) {
	var conditions []string
	var args []interface{}
	argPos := 1

	if req.IsSystem != nil {
		conditions = append(conditions, fmt.Sprintf("is_system = $%d", argPos))
		args = append(args, *req.IsSystem)
		argPos++
	}
	if req.Search != nil && *req.Search != "" {
		pattern := "%" + *req.Search + "%"
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR display_name ILIKE $%d)", argPos, argPos))
		args = append(args, pattern)
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM roles %s", whereClause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM roles %s ORDER BY level, name LIMIT $%d OFFSET $%d`,
		roleColumns, whereClause, argPos, argPos+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []rbac.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *role)
	}
	return result, total, rows.Err()
}

func (r *repository) Create(ctx context.Context, role rbac.Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO roles (id, name, name_folded, display_name, description, level, permissions, inherits_from, is_system, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		role.ID, role.Name, r.folder.String(role.Name), role.DisplayName, role.Description,
		role.Level, perms, optionalText(role.InheritsFrom), role.IsSystem,
		role.CreatedBy, role.CreatedAt, role.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateName
		}
		return err
	}
	return nil
}

func (r *repository) Update(ctx context.Context, role rbac.Role, prevUpdatedAt time.Time) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE roles
		SET name = $2, name_folded = $3, display_name = $4, description = $5,
		    level = $6, permissions = $7, inherits_from = $8, updated_at = $9
		WHERE id = $1 AND updated_at = $10`,
		role.ID, role.Name, r.folder.String(role.Name), role.DisplayName, role.Description,
		role.Level, perms, optionalText(role.InheritsFrom), role.UpdatedAt, prevUpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateName
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, role.ID); err != nil {
			return err
		}
		return ErrStaleUpdate
	}
	return nil
}

// Delete removes the role inside one transaction, re-checking for active
// assignments so a grant landing between the service's check and the delete
// cannot orphan an assignment.
func (r *repository) Delete(ctx context.Context, id string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var count int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM assignments WHERE role_id = $1 AND is_active`, id).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return ErrRoleInUse
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *repository) CountActiveAssignments(ctx context.Context, roleID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM assignments WHERE role_id = $1 AND is_active`, roleID).Scan(&count)
	return count, err
}

func scanRole(row pgx.Row) (*rbac.Role, error) {
	var role rbac.Role
	var description, inheritsFrom pgtype.Text
	var perms []byte
	var createdAt, updatedAt pgtype.Timestamptz

	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &description, &role.Level,
		&perms, &inheritsFrom, &role.IsSystem, &role.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if description.Valid {
		role.Description = description.String
	}
	if inheritsFrom.Valid {
		val := inheritsFrom.String
		role.InheritsFrom = &val
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &role.Permissions); err != nil {
			return nil, fmt.Errorf("decode role permissions: %w", err)
		}
	}
	if createdAt.Valid {
		role.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		role.UpdatedAt = updatedAt.Time
	}
	return &role, nil
}

func optionalText(s *string) pgtype.Text {
	if s == nil || *s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}
