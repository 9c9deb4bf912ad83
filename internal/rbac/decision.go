package rbac

import (
	"sort"

	"github.com/odyssey-erp/passport/internal/shared"
)

// Tier is the coarse classification attached to responses.
type Tier string

const (
	TierAdmin  Tier = "admin"
	TierEditor Tier = "editor"
	TierUser   Tier = "user"
)

// tierPriority is checked top to bottom; the first held role wins.
var tierPriority = []struct {
	role string
	tier Tier
}{
	{shared.RoleAdmin, TierAdmin},
	{shared.RoleEditor, TierEditor},
}

// HasRole reports whether the graph holds a role with exactly this name.
func HasRole(g Graph, name string) bool {
	if name == "" {
		return false
	}
	for _, r := range g.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// HasAnyRole is a logical OR over HasRole.
func HasAnyRole(g Graph, names ...string) bool {
	for _, n := range names {
		if HasRole(g, n) {
			return true
		}
	}
	return false
}

// HasPermission reports whether any held role grants the referenced permission.
// A reference that matches nothing yields false.
func HasPermission(g Graph, ref Ref) bool {
	if ref.IsZero() {
		return false
	}
	for _, r := range g.Roles {
		for _, p := range r.Permissions {
			if ref.Matches(p.ID, p.Name) {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission is a logical OR over HasPermission.
func HasAnyPermission(g Graph, refs ...Ref) bool {
	for _, ref := range refs {
		if HasPermission(g, ref) {
			return true
		}
	}
	return false
}

// ResolveTier classifies the graph by fixed role priority, never by assignment order.
func ResolveTier(g Graph) Tier {
	for _, candidate := range tierPriority {
		if HasRole(g, candidate.role) {
			return candidate.tier
		}
	}
	return TierUser
}

// EffectivePermissions is the union of every role's permissions,
// deduplicated by id and sorted by name.
func EffectivePermissions(g Graph) []Permission {
	seen := make(map[int64]struct{})
	perms := make([]Permission, 0)
	for _, r := range g.Roles {
		for _, p := range r.Permissions {
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			perms = append(perms, p)
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	return perms
}

// PermissionNames flattens permissions to their names.
func PermissionNames(perms []Permission) []string {
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return names
}
