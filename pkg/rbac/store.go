package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// RoleRepository is the role persistence used by the handlers
type RoleRepository interface {
	ListForTenant(ctx context.Context, tenantID int64) ([]Role, error)
	Get(ctx context.Context, roleID int64) (*Role, error)
	Update(ctx context.Context, role *Role, update RoleUpdate) error
	Delete(ctx context.Context, role *Role) error
}

// Store handles role persistence
type Store struct {
	db     *sql.DB
	reader *sql.DB
	now    func() time.Time
}

// NewStore creates a new role store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, reader: db, now: time.Now}
}

// WithReader routes role listings to a read replica. Get, Update and
// Delete stay on the primary so guards never see a stale role.
func (s *Store) WithReader(reader *sql.DB) *Store {
	s.reader = reader
	return s
}

// ListForTenant returns every system role plus the custom roles of tenantID
func (s *Store) ListForTenant(ctx context.Context, tenantID int64) ([]Role, error) {
	query := `
		SELECT id, tenant_id, name, label, description, created_at, updated_at
		FROM roles
		WHERE tenant_id IS NULL OR tenant_id = $1
		ORDER BY tenant_id NULLS FIRST, name
	`

	rows, err := s.reader.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	index := make(map[int64]int)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		index[role.ID] = len(roles)
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}

	permQuery := `
		SELECT rp.role_id, p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		JOIN roles r ON r.id = rp.role_id
		WHERE r.tenant_id IS NULL OR r.tenant_id = $1
		ORDER BY p.name
	`
	permRows, err := s.reader.QueryContext(ctx, permQuery, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer permRows.Close()

	for permRows.Next() {
		var roleID int64
		var name string
		if err := permRows.Scan(&roleID, &name); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		if i, ok := index[roleID]; ok {
			roles[i].Permissions = append(roles[i].Permissions, name)
		}
	}
	if err := permRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate role permissions: %w", err)
	}

	return roles, nil
}

// Get retrieves a role and its permissions by id
func (s *Store) Get(ctx context.Context, roleID int64) (*Role, error) {
	query := `
		SELECT id, tenant_id, name, label, description, created_at, updated_at
		FROM roles
		WHERE id = $1
	`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, roleID))
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, err
	}

	permissions, err := s.rolePermissions(ctx, roleID)
	if err != nil {
		return nil, err
	}
	role.Permissions = permissions
	return role, nil
}

func (s *Store) rolePermissions(ctx context.Context, roleID int64) ([]string, error) {
	query := `
		SELECT p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	defer rows.Close()

	permissions := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		permissions = append(permissions, name)
	}
	return permissions, rows.Err()
}

// Update applies update to a custom role inside one transaction. The
// tenant filter in the WHERE clause keeps the write tenant-scoped even if
// a caller skipped GuardRoleMutation.
func (s *Store) Update(ctx context.Context, role *Role, update RoleUpdate) error {
	if role.TenantID == nil {
		return ErrSystemRoleProtected
	}

	if update.Label != nil {
		role.Label = *update.Label
	}
	if update.Description != nil {
		role.Description = *update.Description
	}
	role.UpdatedAt = s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE roles SET label = $1, description = $2, updated_at = $3
		WHERE id = $4 AND tenant_id = $5
	`, role.Label, role.Description, role.UpdatedAt, role.ID, *role.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrRoleNotFound
	}

	if update.Permissions != nil {
		names := *update.Permissions
		if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, role.ID); err != nil {
			return fmt.Errorf("failed to clear role permissions: %w", err)
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			SELECT $1, id FROM permissions WHERE name = ANY($2)
		`, role.ID, pq.Array(names))
		if err != nil {
			return fmt.Errorf("failed to grant role permissions: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil && int(n) != len(dedupe(names)) {
			return ErrUnknownPermission
		}
		role.Permissions = dedupe(names)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role update: %w", err)
	}
	return nil
}

// Delete removes a custom role. Assignments and grants go with it through
// ON DELETE CASCADE.
func (s *Store) Delete(ctx context.Context, role *Role) error {
	if role.TenantID == nil {
		return ErrSystemRoleProtected
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM roles WHERE id = $1 AND tenant_id = $2`, role.ID, *role.TenantID)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrRoleNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (*Role, error) {
	var (
		role        Role
		tenantID    sql.NullInt64
		description sql.NullString
	)
	err := row.Scan(&role.ID, &tenantID, &role.Name, &role.Label, &description, &role.CreatedAt, &role.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan role: %w", err)
	}
	if tenantID.Valid {
		id := tenantID.Int64
		role.TenantID = &id
	}
	role.Description = description.String
	role.Permissions = []string{}
	return &role, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
