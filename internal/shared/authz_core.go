package shared

// Well-known role names created by the baseline seed.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleUser   = "user"
)

// Baseline permissions.
const (
	PermCreatePost = "create-post"
	PermEditPost   = "edit-post"
	PermDeletePost = "delete-post"
	PermCreateUser = "create-user"
	PermEditUser   = "edit-user"
	PermDeleteUser = "delete-user"

	// PermAssignRole only exists in the extended catalogue.
	PermAssignRole = "assign-role"
)
