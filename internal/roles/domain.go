package roles

import "github.com/odyssey-erp/passport/internal/rbac"

// CreateRoleRequest ensures a role exists.
type CreateRoleRequest struct {
	Name        string `json:"name" validate:"required,max=100,excludesall=0x7C0x2C"`
	DisplayName string `json:"display_name" validate:"max=255"`
	Description string `json:"description" validate:"max=1000"`
}

// ReplacePermissionsRequest sets a role's permissions to exactly the listed set.
// Each entry is a permission name or id.
type ReplacePermissionsRequest struct {
	Permissions []rbac.Ref `json:"permissions" validate:"max=500"`
}

// GrantRequest attaches one permission.
type GrantRequest struct {
	Permission rbac.Ref `json:"permission"`
}
