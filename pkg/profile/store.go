package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/tenantgate/pkg/auth"
)

// CodeProfileNotFound is written when an authenticated identity has no profile
const CodeProfileNotFound = "PROFILE_NOT_FOUND"

// ErrProfileNotFound means no profile row is bound to the identity
var ErrProfileNotFound = errors.New("profile not found")

// Loader loads profiles by identity subject
type Loader interface {
	GetByIdentity(ctx context.Context, identityID string) (*auth.Profile, error)
}

// Store reads profiles from PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore creates a profile store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const profileQuery = `
	SELECT p.id, p.identity_id, p.tenant_id, p.type, p.email,
		r.id, r.name, r.label, perm.name
	FROM profiles p
	LEFT JOIN user_roles ur ON ur.profile_id = p.id
	LEFT JOIN roles r ON r.id = ur.role_id
	LEFT JOIN role_permissions rp ON rp.role_id = r.id
	LEFT JOIN permissions perm ON perm.id = rp.permission_id
	WHERE p.identity_id = $1
	ORDER BY ur.role_id, perm.name
`

// GetByIdentity loads the profile bound to identityID with its first role
// and the de-duplicated union of all its roles' permission names.
// A profile without roles has a nil Role and an empty permission list.
func (s *Store) GetByIdentity(ctx context.Context, identityID string) (*auth.Profile, error) {
	rows, err := s.db.QueryContext(ctx, profileQuery, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	defer rows.Close()

	var p *auth.Profile
	seen := make(map[string]struct{})

	for rows.Next() {
		var (
			id         int64
			identity   string
			tenantID   int64
			kind       string
			email      sql.NullString
			roleID     sql.NullInt64
			roleName   sql.NullString
			roleLabel  sql.NullString
			permission sql.NullString
		)
		if err := rows.Scan(&id, &identity, &tenantID, &kind, &email,
			&roleID, &roleName, &roleLabel, &permission); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}

		if p == nil {
			p = &auth.Profile{
				ID:          id,
				IdentityID:  identity,
				TenantID:    tenantID,
				Type:        auth.ProfileType(kind),
				Email:       email.String,
				Permissions: []string{},
			}
		}

		if p.Role == nil && roleID.Valid {
			p.Role = &auth.RoleSummary{
				ID:    roleID.Int64,
				Name:  roleName.String,
				Label: roleLabel.String,
			}
		}

		if permission.Valid {
			if _, dup := seen[permission.String]; !dup {
				seen[permission.String] = struct{}{}
				p.Permissions = append(p.Permissions, permission.String)
			}
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profile rows: %w", err)
	}
	if p == nil {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

// TenantIDForIdentity returns only the tenant of the identity's profile.
// It is the lookup used when no profile has been loaded for the request.
func (s *Store) TenantIDForIdentity(ctx context.Context, identityID string) (int64, error) {
	var tenantID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id FROM profiles WHERE identity_id = $1`, identityID).Scan(&tenantID)
	if err == sql.ErrNoRows {
		return 0, ErrProfileNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query profile tenant: %w", err)
	}
	return tenantID, nil
}
