package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/passport/internal/rbac"
	"github.com/odyssey-erp/passport/internal/shared"
)

// Repository defines data access methods for users.
type Repository interface {
	ListUsers(ctx context.Context, filters ListFilters) ([]User, int, error)
	FindByID(ctx context.Context, id int64) (User, error)
}

// RoleManager is the subset of the RBAC service user management needs.
type RoleManager interface {
	Graph(ctx context.Context, userID int64) (rbac.Graph, error)
	AssignRole(ctx context.Context, userID int64, role rbac.Ref) error
	RemoveRole(ctx context.Context, userID int64, role rbac.Ref) (bool, error)
}

// TokenRevoker schedules revocation of every token a user holds.
type TokenRevoker interface {
	EnqueueRevokeUserTokens(ctx context.Context, userID int64) error
}

// Service handles user business logic.
type Service struct {
	repo    Repository
	roles   RoleManager
	revoker TokenRevoker
	logger  *slog.Logger
}

// NewService builds Service instance. revoker may be nil.
func NewService(repo Repository, roles RoleManager, revoker TokenRevoker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, roles: roles, revoker: revoker, logger: logger}
}

// ListUsers returns one page of users.
func (s *Service) ListUsers(ctx context.Context, filters ListFilters) (Page, error) {
	users, total, err := s.repo.ListUsers(ctx, filters)
	if err != nil {
		return Page{}, err
	}
	return Page{Users: users, Pagination: shared.NewPagination(filters.Page, filters.PerPage, total)}, nil
}

// GetUser returns the user with role names, effective permissions and tier.
func (s *Service) GetUser(ctx context.Context, id int64) (Detail, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	g, err := s.roles.Graph(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return Detail{
		User:        user,
		Roles:       g.RoleNames(),
		Permissions: rbac.PermissionNames(rbac.EffectivePermissions(g)),
		UserType:    string(rbac.ResolveTier(g)),
	}, nil
}

// AssignRole attaches the role to the user.
func (s *Service) AssignRole(ctx context.Context, id int64, role rbac.Ref) (Detail, error) {
	if err := s.roles.AssignRole(ctx, id, role); err != nil {
		if errors.Is(err, rbac.ErrUserNotFound) {
			return Detail{}, ErrNotFound
		}
		return Detail{}, err
	}
	return s.GetUser(ctx, id)
}

// RemoveRole detaches the role and schedules revocation of the user's tokens
// so the next request re-authenticates against the reduced graph.
func (s *Service) RemoveRole(ctx context.Context, id int64, role rbac.Ref) (Detail, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return Detail{}, err
	}
	removed, err := s.roles.RemoveRole(ctx, id, role)
	if err != nil {
		return Detail{}, err
	}
	if removed && s.revoker != nil {
		if err := s.revoker.EnqueueRevokeUserTokens(ctx, id); err != nil {
			s.logger.Warn("enqueue token revocation", slog.Int64("user_id", id), slog.Any("error", err))
		}
	}
	detail, err := s.GetUser(ctx, id)
	if err != nil {
		return Detail{}, fmt.Errorf("users: reload after role removal: %w", err)
	}
	return detail, nil
}
