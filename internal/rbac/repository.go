package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/passport/internal/platform/db"
)

// Repository is the persistence port for the role/permission graph.
// Insert and attach methods are idempotent: an existing row is reported, not overwritten.
type Repository interface {
	FindPermission(ctx context.Context, ref Ref) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	InsertPermission(ctx context.Context, p Permission) (Permission, bool, error)
	DeletePermission(ctx context.Context, id int64) error

	FindRole(ctx context.Context, ref Ref) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	InsertRole(ctx context.Context, r Role) (Role, bool, error)
	RolePermissions(ctx context.Context, roleID int64) ([]Permission, error)

	AttachPermission(ctx context.Context, roleID, permissionID int64) (bool, error)
	DetachPermission(ctx context.Context, roleID, permissionID int64) (bool, error)
	SyncPermissions(ctx context.Context, roleID int64, permissionIDs []int64) (SyncResult, error)

	AttachRole(ctx context.Context, userID, roleID int64) (bool, error)
	DetachRole(ctx context.Context, userID, roleID int64) (bool, error)

	LoadGraph(ctx context.Context, userID int64) (Graph, error)

	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
}

// SyncResult reports which links a replace-all changed.
type SyncResult struct {
	Attached []int64
	Detached []int64
}

// Changed reports whether the sync touched any link.
func (s SyncResult) Changed() bool {
	return len(s.Attached) > 0 || len(s.Detached) > 0
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
	q    db.Querier
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, q: pool}
}

// WithTx runs fn inside a RepeatableRead transaction. Nested calls reuse the open transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PGRepository{q: tx})
	})
}

const permissionColumns = `id, name, display_name, description, created_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.DisplayName, &p.Description, &p.CreatedAt)
	return p, err
}

func collectPermissions(rows pgx.Rows) ([]Permission, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Permission, error) {
		return scanPermission(row)
	})
}

// FindPermission resolves a name or id reference.
func (r *PGRepository) FindPermission(ctx context.Context, ref Ref) (Permission, error) {
	var row pgx.Row
	if id, ok := ref.ID(); ok {
		row = r.q.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id)
	} else if name, ok := ref.Name(); ok {
		row = r.q.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE name = $1`, name)
	} else {
		return Permission{}, ErrInvalidRef
	}
	p, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, fmt.Errorf("%w: permission %s", ErrNotFound, ref)
		}
		return Permission{}, err
	}
	return p, nil
}

// ListPermissions returns all permissions ordered by name.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.q.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

// InsertPermission creates the row unless the name exists. The bool reports creation.
func (r *PGRepository) InsertPermission(ctx context.Context, p Permission) (Permission, bool, error) {
	created, err := scanPermission(r.q.QueryRow(ctx, `INSERT INTO permissions (name, display_name, description)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO NOTHING
RETURNING `+permissionColumns, p.Name, p.DisplayName, p.Description))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) && !db.IsUniqueViolation(err) {
		return Permission{}, false, err
	}
	existing, err := r.FindPermission(ctx, ByName(p.Name))
	return existing, false, err
}

// DeletePermission removes the row; role_permission links cascade.
func (r *PGRepository) DeletePermission(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: permission #%d", ErrNotFound, id)
	}
	return nil
}

const roleColumns = `id, name, display_name, description, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

// FindRole resolves a name or id reference. Permissions are not loaded.
func (r *PGRepository) FindRole(ctx context.Context, ref Ref) (Role, error) {
	var row pgx.Row
	if id, ok := ref.ID(); ok {
		row = r.q.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	} else if name, ok := ref.Name(); ok {
		row = r.q.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name)
	} else {
		return Role{}, ErrInvalidRef
	}
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("%w: role %s", ErrNotFound, ref)
		}
		return Role{}, err
	}
	return role, nil
}

// ListRoles returns all roles ordered by name.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.q.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Role, error) {
		return scanRole(row)
	})
}

// InsertRole creates the row unless the name exists. The bool reports creation.
func (r *PGRepository) InsertRole(ctx context.Context, role Role) (Role, bool, error) {
	created, err := scanRole(r.q.QueryRow(ctx, `INSERT INTO roles (name, display_name, description)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO NOTHING
RETURNING `+roleColumns, role.Name, role.DisplayName, role.Description))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) && !db.IsUniqueViolation(err) {
		return Role{}, false, err
	}
	existing, err := r.FindRole(ctx, ByName(role.Name))
	return existing, false, err
}

// RolePermissions lists the permissions granted to a role ordered by name.
func (r *PGRepository) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.q.Query(ctx, `SELECT p.id, p.name, p.display_name, p.description, p.created_at
FROM role_permission rp
JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = $1
ORDER BY p.name`, roleID)
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

// AttachPermission links permission to role if absent. The bool reports a new link.
func (r *PGRepository) AttachPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	tag, err := r.q.Exec(ctx, `INSERT INTO role_permission (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, roleID, permissionID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		if db.IsForeignKeyViolation(err) {
			return false, fmt.Errorf("%w: role #%d or permission #%d", ErrNotFound, roleID, permissionID)
		}
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DetachPermission removes the link if present.
func (r *PGRepository) DetachPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM role_permission WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SyncPermissions sets the role's links to exactly permissionIDs.
// It locks the role row so concurrent syncs of one role apply one after another;
// call it inside WithTx so readers see either the old or the new set.
func (r *PGRepository) SyncPermissions(ctx context.Context, roleID int64, permissionIDs []int64) (SyncResult, error) {
	var locked int64
	if err := r.q.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, roleID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SyncResult{}, fmt.Errorf("%w: role #%d", ErrNotFound, roleID)
		}
		return SyncResult{}, err
	}
	if permissionIDs == nil {
		permissionIDs = []int64{}
	}

	var result SyncResult
	detached, err := r.q.Query(ctx, `DELETE FROM role_permission
WHERE role_id = $1 AND NOT (permission_id = ANY($2::bigint[]))
RETURNING permission_id`, roleID, permissionIDs)
	if err != nil {
		return SyncResult{}, err
	}
	if result.Detached, err = collectIDs(detached); err != nil {
		return SyncResult{}, err
	}

	attached, err := r.q.Query(ctx, `INSERT INTO role_permission (role_id, permission_id)
SELECT $1, pid FROM unnest($2::bigint[]) AS pid
ON CONFLICT DO NOTHING
RETURNING permission_id`, roleID, permissionIDs)
	if err != nil {
		return SyncResult{}, err
	}
	if result.Attached, err = collectIDs(attached); err != nil {
		return SyncResult{}, err
	}
	if result.Changed() {
		if _, err := r.q.Exec(ctx, `UPDATE roles SET updated_at = NOW() WHERE id = $1`, roleID); err != nil {
			return SyncResult{}, err
		}
	}
	return result, nil
}

func collectIDs(rows pgx.Rows) ([]int64, error) {
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// AttachRole links role to user if absent. A missing user surfaces as ErrUserNotFound.
func (r *PGRepository) AttachRole(ctx context.Context, userID, roleID int64) (bool, error) {
	tag, err := r.q.Exec(ctx, `INSERT INTO user_role (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		if db.IsForeignKeyViolation(err) {
			return false, fmt.Errorf("%w: #%d", ErrUserNotFound, userID)
		}
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DetachRole removes the link if present.
func (r *PGRepository) DetachRole(ctx context.Context, userID, roleID int64) (bool, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM user_role WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// LoadGraph reads every role of the user with its permissions in one statement.
func (r *PGRepository) LoadGraph(ctx context.Context, userID int64) (Graph, error) {
	rows, err := r.q.Query(ctx, `SELECT r.id, r.name, r.display_name, r.description, r.created_at, r.updated_at,
       p.id, p.name, p.display_name, p.description, p.created_at
FROM user_role ur
JOIN roles r ON r.id = ur.role_id
LEFT JOIN role_permission rp ON rp.role_id = r.id
LEFT JOIN permissions p ON p.id = rp.permission_id
WHERE ur.user_id = $1
ORDER BY r.id, p.name`, userID)
	if err != nil {
		return Graph{}, err
	}
	type graphRow struct {
		role Role
		perm *Permission
	}
	flat, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (graphRow, error) {
		var (
			out     graphRow
			permID  *int64
			name    *string
			display *string
			desc    *string
			created pgtype.Timestamptz
		)
		if err := row.Scan(&out.role.ID, &out.role.Name, &out.role.DisplayName, &out.role.Description, &out.role.CreatedAt, &out.role.UpdatedAt,
			&permID, &name, &display, &desc, &created); err != nil {
			return graphRow{}, err
		}
		if permID != nil {
			out.perm = &Permission{
				ID:          *permID,
				Name:        deref(name),
				DisplayName: deref(display),
				Description: deref(desc),
				CreatedAt:   created.Time,
			}
		}
		return out, nil
	})
	if err != nil {
		return Graph{}, err
	}

	graph := Graph{UserID: userID, Roles: make([]Role, 0)}
	index := make(map[int64]int)
	for _, fr := range flat {
		pos, ok := index[fr.role.ID]
		if !ok {
			pos = len(graph.Roles)
			index[fr.role.ID] = pos
			graph.Roles = append(graph.Roles, fr.role)
		}
		if fr.perm != nil {
			graph.Roles[pos].Permissions = append(graph.Roles[pos].Permissions, *fr.perm)
		}
	}
	return graph, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ Repository = (*PGRepository)(nil)
