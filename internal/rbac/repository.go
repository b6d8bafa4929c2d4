package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hugin-munin/hm-api/internal/shared"
)

// Repository defines persistence for permissions, roles, and their
// associations. Implementations map storage errors to the shared taxonomy.
type Repository interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
	ListPermissionsPage(ctx context.Context, limit, offset int) ([]Permission, error)
	CountPermissions(ctx context.Context) (int, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	GetPermissionByName(ctx context.Context, name string) (Permission, error)
	SearchPermissions(ctx context.Context, fragment string) ([]Permission, error)
	CreatePermission(ctx context.Context, name string) (Permission, error)
	UpdatePermission(ctx context.Context, p Permission) error
	DeletePermission(ctx context.Context, id int64) error
	PermissionInUse(ctx context.Context, id int64) (bool, error)

	PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error)
	PermissionsNotAssignedToRole(ctx context.Context, roleID int64) ([]Permission, error)
	RoleHasPermission(ctx context.Context, roleID, permissionID int64) (bool, error)
	AssignPermission(ctx context.Context, permissionID, roleID int64) error
	RemovePermission(ctx context.Context, permissionID, roleID int64) (bool, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, remove, add []int64) error
	UsageStats(ctx context.Context) ([]PermissionUsage, error)

	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, name string) (Role, error)
	UpdateRole(ctx context.Context, r Role) error
	DeleteRole(ctx context.Context, id int64) error
	RoleExists(ctx context.Context, id int64) (bool, error)
}

// PermissionUsage counts the roles holding a permission.
type PermissionUsage struct {
	Permission Permission `json:"permiso"`
	Roles      int        `json:"roles_asignados"`
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ListPermissions returns every permission ordered by id.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	return r.queryPermissions(ctx, `SELECT id_permiso, nombre_permiso FROM permiso ORDER BY id_permiso`)
}

// ListPermissionsPage returns one page of permissions ordered by id.
func (r *PGRepository) ListPermissionsPage(ctx context.Context, limit, offset int) ([]Permission, error) {
	return r.queryPermissions(ctx,
		`SELECT id_permiso, nombre_permiso FROM permiso ORDER BY id_permiso LIMIT $1 OFFSET $2`, limit, offset)
}

// CountPermissions returns the total number of permissions.
func (r *PGRepository) CountPermissions(ctx context.Context) (int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM permiso`).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// GetPermission fetches a permission by id.
func (r *PGRepository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx,
		`SELECT id_permiso, nombre_permiso FROM permiso WHERE id_permiso = $1`, id).Scan(&p.ID, &p.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, shared.NotFoundf("permiso %d no encontrado", id)
	}
	return p, err
}

// GetPermissionByName fetches a permission by exact, case-sensitive name.
func (r *PGRepository) GetPermissionByName(ctx context.Context, name string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx,
		`SELECT id_permiso, nombre_permiso FROM permiso WHERE nombre_permiso = $1`, name).Scan(&p.ID, &p.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, shared.NotFoundf("permiso %q no encontrado", name)
	}
	return p, err
}

// SearchPermissions lists permissions whose name contains the fragment.
func (r *PGRepository) SearchPermissions(ctx context.Context, fragment string) ([]Permission, error) {
	return r.queryPermissions(ctx,
		`SELECT id_permiso, nombre_permiso FROM permiso WHERE nombre_permiso LIKE '%' || $1 || '%' ORDER BY nombre_permiso`,
		fragment)
}

// CreatePermission inserts a permission, surfacing duplicates as conflicts.
func (r *PGRepository) CreatePermission(ctx context.Context, name string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx,
		`INSERT INTO permiso (nombre_permiso) VALUES ($1) RETURNING id_permiso, nombre_permiso`, name).
		Scan(&p.ID, &p.Name)
	if isUniqueViolation(err) {
		return Permission{}, shared.Conflictf("ya existe un permiso con el nombre %q", name)
	}
	return p, err
}

// UpdatePermission renames a permission.
func (r *PGRepository) UpdatePermission(ctx context.Context, p Permission) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE permiso SET nombre_permiso = $1 WHERE id_permiso = $2`, p.Name, p.ID)
	if isUniqueViolation(err) {
		return shared.Conflictf("ya existe un permiso con el nombre %q", p.Name)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("permiso %d no encontrado", p.ID)
	}
	return nil
}

// DeletePermission removes a permission row. Guards live in the service.
func (r *PGRepository) DeletePermission(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permiso WHERE id_permiso = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("permiso %d no encontrado", id)
	}
	return nil
}

// PermissionInUse reports whether any role still holds the permission.
func (r *PGRepository) PermissionInUse(ctx context.Context, id int64) (bool, error) {
	var n int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM rol_permiso WHERE id_permiso = $1`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// PermissionsForRole joins the association table. DISTINCT keeps the result
// duplicate free even if the schema somehow held repeated rows.
func (r *PGRepository) PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	return r.queryPermissions(ctx, `
		SELECT DISTINCT p.id_permiso, p.nombre_permiso
		FROM permiso p
		JOIN rol_permiso rp ON rp.id_permiso = p.id_permiso
		WHERE rp.id_rol = $1
		ORDER BY p.id_permiso`, roleID)
}

// PermissionsNotAssignedToRole lists permissions the role does not hold.
func (r *PGRepository) PermissionsNotAssignedToRole(ctx context.Context, roleID int64) ([]Permission, error) {
	return r.queryPermissions(ctx, `
		SELECT p.id_permiso, p.nombre_permiso
		FROM permiso p
		WHERE NOT EXISTS (
			SELECT 1 FROM rol_permiso rp
			WHERE rp.id_permiso = p.id_permiso AND rp.id_rol = $1
		)
		ORDER BY p.id_permiso`, roleID)
}

// RoleHasPermission reports association membership.
func (r *PGRepository) RoleHasPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM rol_permiso WHERE id_rol = $1 AND id_permiso = $2`, roleID, permissionID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AssignPermission inserts one association pair. A duplicate pair surfaces as
// a conflict so callers can tell "already granted" from "granted now".
func (r *PGRepository) AssignPermission(ctx context.Context, permissionID, roleID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO rol_permiso (id_rol, id_permiso) VALUES ($1, $2)`, roleID, permissionID)
	if isUniqueViolation(err) {
		return shared.Conflictf("el permiso %d ya está asignado al rol %d", permissionID, roleID)
	}
	return err
}

// RemovePermission deletes one association pair. A missing pair is reported
// as false, not as an error.
func (r *PGRepository) RemovePermission(ctx context.Context, permissionID, roleID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM rol_permiso WHERE id_rol = $1 AND id_permiso = $2`, roleID, permissionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReplaceRolePermissions applies a sync diff in one transaction, removals
// before additions so a partial failure biases toward the narrower set.
func (r *PGRepository) ReplaceRolePermissions(ctx context.Context, roleID int64, remove, add []int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, id := range remove {
		if _, err := tx.Exec(ctx,
			`DELETE FROM rol_permiso WHERE id_rol = $1 AND id_permiso = $2`, roleID, id); err != nil {
			return fmt.Errorf("remove permiso %d: %w", id, err)
		}
	}
	for _, id := range add {
		if _, err := tx.Exec(ctx,
			`INSERT INTO rol_permiso (id_rol, id_permiso) VALUES ($1, $2) ON CONFLICT DO NOTHING`, roleID, id); err != nil {
			return fmt.Errorf("add permiso %d: %w", id, err)
		}
	}
	return tx.Commit(ctx)
}

// UsageStats counts how many roles hold each permission.
func (r *PGRepository) UsageStats(ctx context.Context) ([]PermissionUsage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id_permiso, p.nombre_permiso, COUNT(rp.id_rol)
		FROM permiso p
		LEFT JOIN rol_permiso rp ON rp.id_permiso = p.id_permiso
		GROUP BY p.id_permiso, p.nombre_permiso
		ORDER BY COUNT(rp.id_rol) DESC, p.id_permiso`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []PermissionUsage
	for rows.Next() {
		var u PermissionUsage
		if err := rows.Scan(&u.Permission.ID, &u.Permission.Name, &u.Roles); err != nil {
			return nil, err
		}
		stats = append(stats, u)
	}
	return stats, rows.Err()
}

// ListRoles returns every role ordered by id.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id_rol, nombre_rol, activo, created_at, updated_at FROM rol ORDER BY id_rol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Active, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by id.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx,
		`SELECT id_rol, nombre_rol, activo, created_at, updated_at FROM rol WHERE id_rol = $1`, id).
		Scan(&role.ID, &role.Name, &role.Active, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.NotFoundf("rol %d no encontrado", id)
	}
	return role, err
}

// CreateRole inserts an active role.
func (r *PGRepository) CreateRole(ctx context.Context, name string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `
		INSERT INTO rol (nombre_rol, activo) VALUES ($1, TRUE)
		RETURNING id_rol, nombre_rol, activo, created_at, updated_at`, name).
		Scan(&role.ID, &role.Name, &role.Active, &role.CreatedAt, &role.UpdatedAt)
	if isUniqueViolation(err) {
		return Role{}, shared.Conflictf("ya existe un rol con el nombre %q", name)
	}
	return role, err
}

// UpdateRole renames a role or toggles its active flag.
func (r *PGRepository) UpdateRole(ctx context.Context, role Role) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE rol SET nombre_rol = $1, activo = $2, updated_at = NOW() WHERE id_rol = $3`,
		role.Name, role.Active, role.ID)
	if isUniqueViolation(err) {
		return shared.Conflictf("ya existe un rol con el nombre %q", role.Name)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("rol %d no encontrado", role.ID)
	}
	return nil
}

// DeleteRole removes the role and its association rows in one transaction so
// no dangling pairs survive.
func (r *PGRepository) DeleteRole(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM rol_permiso WHERE id_rol = $1`, id); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM rol WHERE id_rol = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("rol %d no encontrado", id)
	}
	return tx.Commit(ctx)
}

// RoleExists reports whether the role id is known.
func (r *PGRepository) RoleExists(ctx context.Context, id int64) (bool, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rol WHERE id_rol = $1`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PGRepository) queryPermissions(ctx context.Context, query string, args ...any) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
