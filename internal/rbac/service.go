package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/odyssey-erp/passport/internal/platform/db"
	"github.com/odyssey-erp/passport/internal/shared"
)

var (
	// ErrNotFound indicates that a referenced role or permission does not exist.
	ErrNotFound = fmt.Errorf("rbac: %w", shared.ErrNotFound)
	// ErrUserNotFound is returned when assigning a role to an unknown user.
	ErrUserNotFound = fmt.Errorf("rbac: user %w", shared.ErrNotFound)
	// ErrConfiguration means the baseline roles are missing.
	ErrConfiguration = fmt.Errorf("rbac: %w", shared.ErrConfiguration)
	// ErrForbidden is a decision-procedure deny.
	ErrForbidden = fmt.Errorf("rbac: %w", shared.ErrForbidden)
	// ErrInvalidRef is returned for a zero reference.
	ErrInvalidRef = fmt.Errorf("rbac: empty reference: %w", shared.ErrValidation)
	// ErrInvalidName is returned for a blank role or permission name.
	ErrInvalidName = fmt.Errorf("rbac: name required: %w", shared.ErrValidation)
)

const maxTxAttempts = 3

// Auditor records graph mutations.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates RBAC operations.
type Service struct {
	repo   Repository
	cache  *GraphCache
	audit  Auditor
	logger *slog.Logger
}

// NewService constructs a Service. cache and audit may be nil.
func NewService(repo Repository, cache *GraphCache, audit Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger}
}

// EnsurePermission creates the permission unless a row with this name exists.
// An existing row is returned unchanged.
func (s *Service) EnsurePermission(ctx context.Context, name, displayName, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, ErrInvalidName
	}
	p, _, err := s.repo.InsertPermission(ctx, Permission{
		Name:        name,
		DisplayName: strings.TrimSpace(displayName),
		Description: strings.TrimSpace(description),
	})
	if err != nil {
		return Permission{}, fmt.Errorf("rbac: ensure permission %q: %w", name, err)
	}
	return p, nil
}

// FindPermission resolves a permission by name or id.
func (s *Service) FindPermission(ctx context.Context, ref Ref) (Permission, error) {
	if ref.IsZero() {
		return Permission{}, ErrInvalidRef
	}
	return s.repo.FindPermission(ctx, ref)
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// DeletePermission removes a permission and every grant of it.
func (s *Service) DeletePermission(ctx context.Context, ref Ref) error {
	p, err := s.FindPermission(ctx, ref)
	if err != nil {
		return err
	}
	if err := s.repo.DeletePermission(ctx, p.ID); err != nil {
		return err
	}
	s.record(ctx, "permission.delete", "permission", p.Name, nil)
	return s.invalidate(ctx)
}

// EnsureRole creates the role unless a row with this name exists.
// An existing row is returned unchanged.
func (s *Service) EnsureRole(ctx context.Context, name, displayName, description string) (Role, error) {
	role, _, err := s.ensureRole(ctx, name, displayName, description)
	return role, err
}

// ensureRole is EnsureRole that also reports whether this call inserted the row.
func (s *Service) ensureRole(ctx context.Context, name, displayName, description string) (Role, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, false, ErrInvalidName
	}
	role, created, err := s.repo.InsertRole(ctx, Role{
		Name:        name,
		DisplayName: strings.TrimSpace(displayName),
		Description: strings.TrimSpace(description),
	})
	if err != nil {
		return Role{}, false, fmt.Errorf("rbac: ensure role %q: %w", name, err)
	}
	return role, created, nil
}

// FindRole resolves a role and loads its permissions.
func (s *Service) FindRole(ctx context.Context, ref Ref) (Role, error) {
	if ref.IsZero() {
		return Role{}, ErrInvalidRef
	}
	role, err := s.repo.FindRole(ctx, ref)
	if err != nil {
		return Role{}, err
	}
	perms, err := s.repo.RolePermissions(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	role.Permissions = perms
	return role, nil
}

// ListRoles returns all roles with their permissions.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		perms, err := s.repo.RolePermissions(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

// Grant attaches the permission to the role if it is not already granted.
func (s *Service) Grant(ctx context.Context, role, permission Ref) error {
	r, p, err := s.resolvePair(ctx, role, permission)
	if err != nil {
		return err
	}
	attached, err := s.repo.AttachPermission(ctx, r.ID, p.ID)
	if err != nil {
		return err
	}
	if !attached {
		return nil
	}
	s.record(ctx, "role.grant", "role", r.Name, map[string]any{"permission": p.Name})
	return s.invalidate(ctx)
}

// Revoke detaches the permission from the role. A missing link is not an error.
func (s *Service) Revoke(ctx context.Context, role, permission Ref) error {
	r, p, err := s.resolvePair(ctx, role, permission)
	if err != nil {
		return err
	}
	detached, err := s.repo.DetachPermission(ctx, r.ID, p.ID)
	if err != nil {
		return err
	}
	if !detached {
		return nil
	}
	s.record(ctx, "role.revoke", "role", r.Name, map[string]any{"permission": p.Name})
	return s.invalidate(ctx)
}

// ReplacePermissions sets the role's permissions to exactly the referenced set.
// Every reference is resolved before anything changes; one unknown name fails the whole call.
func (s *Service) ReplacePermissions(ctx context.Context, role Ref, permissions []Ref) (Role, error) {
	if role.IsZero() {
		return Role{}, ErrInvalidRef
	}
	var (
		target Role
		result SyncResult
	)
	err := s.withRetry(ctx, func(ctx context.Context, tx Repository) error {
		r, err := tx.FindRole(ctx, role)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(permissions))
		seen := make(map[int64]struct{}, len(permissions))
		for _, ref := range permissions {
			if ref.IsZero() {
				return ErrInvalidRef
			}
			p, err := tx.FindPermission(ctx, ref)
			if err != nil {
				return err
			}
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			ids = append(ids, p.ID)
		}
		res, err := tx.SyncPermissions(ctx, r.ID, ids)
		if err != nil {
			return err
		}
		perms, err := tx.RolePermissions(ctx, r.ID)
		if err != nil {
			return err
		}
		r.Permissions = perms
		target, result = r, res
		return nil
	})
	if err != nil {
		return Role{}, err
	}
	if result.Changed() {
		s.record(ctx, "role.replace", "role", target.Name, map[string]any{
			"permissions": PermissionNames(target.Permissions),
			"attached":    len(result.Attached),
			"detached":    len(result.Detached),
		})
		if err := s.invalidate(ctx); err != nil {
			return Role{}, err
		}
	}
	return target, nil
}

// AssignRole links the role to the user if absent. An unknown role fails with ErrNotFound
// and leaves the user's roles untouched.
func (s *Service) AssignRole(ctx context.Context, userID int64, role Ref) error {
	if role.IsZero() {
		return ErrInvalidRef
	}
	r, err := s.repo.FindRole(ctx, role)
	if err != nil {
		return err
	}
	attached, err := s.repo.AttachRole(ctx, userID, r.ID)
	if err != nil {
		return err
	}
	if !attached {
		return nil
	}
	s.record(ctx, "user.assign_role", "user", strconv.FormatInt(userID, 10), map[string]any{"role": r.Name})
	return s.invalidate(ctx)
}

// RemoveRole detaches the role from the user. It reports whether a link was removed.
func (s *Service) RemoveRole(ctx context.Context, userID int64, role Ref) (bool, error) {
	if role.IsZero() {
		return false, ErrInvalidRef
	}
	r, err := s.repo.FindRole(ctx, role)
	if err != nil {
		return false, err
	}
	detached, err := s.repo.DetachRole(ctx, userID, r.ID)
	if err != nil || !detached {
		return false, err
	}
	s.record(ctx, "user.remove_role", "user", strconv.FormatInt(userID, 10), map[string]any{"role": r.Name})
	return true, s.invalidate(ctx)
}

// Graph returns the user's role/permission snapshot.
func (s *Service) Graph(ctx context.Context, userID int64) (Graph, error) {
	g, err := s.cache.Load(ctx, userID, func(ctx context.Context) (Graph, error) {
		return s.repo.LoadGraph(ctx, userID)
	})
	if err != nil {
		return Graph{}, fmt.Errorf("rbac: load graph for user %d: %w", userID, err)
	}
	return g, nil
}

// HasRole reports whether the user holds the named role.
// On a store error the answer is false together with the error.
func (s *Service) HasRole(ctx context.Context, userID int64, name string) (bool, error) {
	g, err := s.Graph(ctx, userID)
	if err != nil {
		return false, err
	}
	return HasRole(g, name), nil
}

// HasAnyRole reports whether the user holds at least one of the named roles.
func (s *Service) HasAnyRole(ctx context.Context, userID int64, names ...string) (bool, error) {
	g, err := s.Graph(ctx, userID)
	if err != nil {
		return false, err
	}
	return HasAnyRole(g, names...), nil
}

// HasPermission reports whether any of the user's roles grants the permission.
// Unknown permission names yield false, not an error.
func (s *Service) HasPermission(ctx context.Context, userID int64, permission Ref) (bool, error) {
	g, err := s.Graph(ctx, userID)
	if err != nil {
		return false, err
	}
	return HasPermission(g, permission), nil
}

// HasAnyPermission reports whether at least one reference is granted.
func (s *Service) HasAnyPermission(ctx context.Context, userID int64, permissions ...Ref) (bool, error) {
	g, err := s.Graph(ctx, userID)
	if err != nil {
		return false, err
	}
	return HasAnyPermission(g, permissions...), nil
}

// Classify resolves the user's access tier.
func (s *Service) Classify(ctx context.Context, userID int64) (Tier, error) {
	g, err := s.Graph(ctx, userID)
	if err != nil {
		return "", err
	}
	return ResolveTier(g), nil
}

// EffectivePermissions returns the deduplicated union of the user's permissions.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]Permission, error) {
	g, err := s.Graph(ctx, userID)
	if err != nil {
		return nil, err
	}
	return EffectivePermissions(g), nil
}

// Invalidate drops every cached graph. Callers that write user_role outside
// this service, such as registration, call it after commit.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.invalidate(ctx)
}

func (s *Service) resolvePair(ctx context.Context, role, permission Ref) (Role, Permission, error) {
	if role.IsZero() || permission.IsZero() {
		return Role{}, Permission{}, ErrInvalidRef
	}
	r, err := s.repo.FindRole(ctx, role)
	if err != nil {
		return Role{}, Permission{}, err
	}
	p, err := s.repo.FindPermission(ctx, permission)
	if err != nil {
		return Role{}, Permission{}, err
	}
	return r, p, nil
}

func (s *Service) withRetry(ctx context.Context, fn func(context.Context, Repository) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.repo.WithTx(ctx, fn)
		if err == nil || !db.IsSerializationFailure(err) {
			return err
		}
		s.logger.Warn("rbac tx serialization failure, retrying", slog.Int("attempt", attempt))
	}
	return err
}

func (s *Service) invalidate(ctx context.Context) error {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Error("rbac cache bump", slog.Any("error", err))
		return fmt.Errorf("rbac: invalidate cache: %w", err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: entity, EntityID: entityID, Meta: meta}); err != nil {
		s.logger.Warn("rbac audit record", slog.String("action", action), slog.Any("error", err))
	}
}

// IsNotFound reports whether err is a resolution failure.
func IsNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
