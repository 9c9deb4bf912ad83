package roles

import (
	"context"

	"github.com/odyssey-erp/passport/internal/rbac"
)

// Service is the subset of the RBAC service the role endpoints need.
type Service interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	FindRole(ctx context.Context, ref rbac.Ref) (rbac.Role, error)
	EnsureRole(ctx context.Context, name, displayName, description string) (rbac.Role, error)
	Grant(ctx context.Context, role, permission rbac.Ref) error
	Revoke(ctx context.Context, role, permission rbac.Ref) error
	ReplacePermissions(ctx context.Context, role rbac.Ref, permissions []rbac.Ref) (rbac.Role, error)
}

var _ Service = (*rbac.Service)(nil)
