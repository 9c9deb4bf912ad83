package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/passport/internal/shared"
)

// PermissionSeed describes one catalogue permission.
type PermissionSeed struct {
	Name        string
	DisplayName string
	Description string
}

// RoleSeed describes one catalogue role and the permissions it starts with.
// AllPermissions grants the whole catalogue and is re-affirmed on every run.
type RoleSeed struct {
	Name           string
	DisplayName    string
	Description    string
	Permissions    []string
	AllPermissions bool
}

// Catalogue is the fixed baseline the bootstrap produces.
type Catalogue struct {
	Permissions []PermissionSeed
	Roles       []RoleSeed
}

// BaselineReport summarises one bootstrap run.
type BaselineReport struct {
	Permissions int
	Roles       int
	Grants      int
}

// DefaultCatalogue returns the baseline catalogue. extended adds assign-role.
func DefaultCatalogue(extended bool) Catalogue {
	perms := []PermissionSeed{
		{shared.PermCreatePost, "Create post", "Create new posts"},
		{shared.PermEditPost, "Edit post", "Edit existing posts"},
		{shared.PermDeletePost, "Delete post", "Delete posts"},
		{shared.PermCreateUser, "Create user", "Create user accounts"},
		{shared.PermEditUser, "Edit user", "Edit user accounts"},
		{shared.PermDeleteUser, "Delete user", "Delete user accounts"},
	}
	if extended {
		perms = append(perms, PermissionSeed{shared.PermAssignRole, "Assign role", "Assign roles to users"})
	}
	return Catalogue{
		Permissions: perms,
		Roles: []RoleSeed{
			{Name: shared.RoleAdmin, DisplayName: "Administrator", Description: "Full access", AllPermissions: true},
			{Name: shared.RoleEditor, DisplayName: "Editor", Description: "Creates and edits content", Permissions: []string{shared.PermCreatePost, shared.PermEditPost}},
			{Name: shared.RoleUser, DisplayName: "User", Description: "Default role"},
		},
	}
}

// EnsureBaseline idempotently creates the catalogue and wires its grants.
// Existing rows are left as they are. A role's seed grants are applied only
// when this run creates the role, so later revokes survive; full-catalogue
// roles are re-affirmed on every run. Safe to run from several instances at
// once: every write is an upsert and only one of them sees the role created.
func (s *Service) EnsureBaseline(ctx context.Context, cat Catalogue) (BaselineReport, error) {
	var report BaselineReport
	byName := make(map[string]Permission, len(cat.Permissions))
	for _, seed := range cat.Permissions {
		p, err := s.EnsurePermission(ctx, seed.Name, seed.DisplayName, seed.Description)
		if err != nil {
			return report, err
		}
		byName[p.Name] = p
		report.Permissions++
	}

	for _, seed := range cat.Roles {
		var wanted []Permission
		if seed.AllPermissions {
			for _, p := range cat.Permissions {
				wanted = append(wanted, byName[p.Name])
			}
		} else {
			for _, name := range seed.Permissions {
				p, ok := byName[name]
				if !ok {
					return report, fmt.Errorf("rbac: catalogue role %q references unknown permission %q: %w", seed.Name, name, shared.ErrConfiguration)
				}
				wanted = append(wanted, p)
			}
		}

		role, created, err := s.ensureRole(ctx, seed.Name, seed.DisplayName, seed.Description)
		if err != nil {
			return report, err
		}
		report.Roles++
		if !created && !seed.AllPermissions {
			continue
		}
		for _, p := range wanted {
			attached, err := s.repo.AttachPermission(ctx, role.ID, p.ID)
			if err != nil {
				return report, fmt.Errorf("rbac: grant %s to %s: %w", p.Name, role.Name, err)
			}
			if attached {
				report.Grants++
			}
		}
	}

	if report.Grants > 0 {
		if err := s.invalidate(ctx); err != nil {
			return report, err
		}
	}
	s.logger.Info("rbac baseline ensured",
		slog.Int("permissions", report.Permissions),
		slog.Int("roles", report.Roles),
		slog.Int("new_grants", report.Grants))
	return report, nil
}

// ResolveRegistrationRole picks the role a new account receives.
// An unknown or empty request falls back to the default role; when that is
// missing too the bootstrap never ran and ErrConfiguration is returned.
func (s *Service) ResolveRegistrationRole(ctx context.Context, requested string) (Role, error) {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		role, err := s.repo.FindRole(ctx, ByName(requested))
		if err == nil {
			return role, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Role{}, err
		}
		s.logger.Info("registration role not found, using default",
			slog.String("requested", requested), slog.String("fallback", shared.RoleUser))
	}
	role, err := s.repo.FindRole(ctx, ByName(shared.RoleUser))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Error("default role missing", slog.String("kind", "configuration"), slog.String("role", shared.RoleUser))
			return Role{}, fmt.Errorf("%w: default role %q missing", ErrConfiguration, shared.RoleUser)
		}
		return Role{}, err
	}
	return role, nil
}
