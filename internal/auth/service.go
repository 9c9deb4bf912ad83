package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/passport/internal/rbac"
	"github.com/odyssey-erp/passport/internal/shared"
)

// Authorizer is the slice of the RBAC service the auth flows depend on.
type Authorizer interface {
	ResolveRegistrationRole(ctx context.Context, requested string) (rbac.Role, error)
	Graph(ctx context.Context, userID int64) (rbac.Graph, error)
	Invalidate(ctx context.Context) error
}

// RegisterInput carries a registration request.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	authz    Authorizer
	tokens   *TokenStore
	logger   *slog.Logger
	hashCost int
}

// NewService constructs a new Service.
func NewService(repo Repository, authz Authorizer, tokens *TokenStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, authz: authz, tokens: tokens, logger: logger, hashCost: bcrypt.DefaultCost}
}

// Register creates the account with the resolved role and signs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	role, err := s.authz.ResolveRegistrationRole(ctx, in.Role)
	if err != nil {
		if errors.Is(err, shared.ErrConfiguration) {
			s.logger.Error("registration unavailable", slog.String("kind", "configuration"), slog.Any("error", err))
		}
		return Session{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return Session{}, fmt.Errorf("%w: password longer than 72 bytes", shared.ErrValidation)
	}
	if err != nil {
		return Session{}, fmt.Errorf("auth: hash password: %w", err)
	}
	user, err := s.repo.CreateWithRole(ctx, NewUser{
		Name:         strings.TrimSpace(in.Name),
		Email:        normalizeEmail(in.Email),
		PasswordHash: string(hash),
	}, role.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.authz.Invalidate(ctx); err != nil {
		s.logger.Warn("invalidate role cache after registration", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}
	s.logger.Info("user registered", slog.Int64("user_id", user.ID), slog.String("role", role.Name))
	return s.startSession(ctx, user)
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Error("credential lookup", slog.Any("error", err))
		}
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.startSession(ctx, user)
}

// Logout revokes the presented token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}

// Refresh issues a new token for the principal and revokes the presented one.
func (s *Service) Refresh(ctx context.Context, principal shared.Principal, token string) (Session, error) {
	user, err := s.activeUser(ctx, principal.UserID)
	if err != nil {
		return Session{}, err
	}
	session, err := s.startSession(ctx, user)
	if err != nil {
		return Session{}, err
	}
	if err := s.tokens.Revoke(ctx, token); err != nil {
		s.logger.Warn("revoke rotated token", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}
	return session, nil
}

// Profile returns the caller's account and authorization graph.
func (s *Service) Profile(ctx context.Context, userID int64) (Session, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.describe(ctx, user)
}

// CheckPermission reports whether the user holds the named permission.
func (s *Service) CheckPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	g, err := s.authz.Graph(ctx, userID)
	if err != nil {
		return false, err
	}
	return rbac.HasPermission(g, rbac.ByName(permission)), nil
}

func (s *Service) activeUser(ctx context.Context, id int64) (*User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, shared.ErrNotFound) || (err == nil && !user.IsActive) {
		return nil, ErrInvalidToken
	}
	return user, err
}

func (s *Service) startSession(ctx context.Context, user *User) (Session, error) {
	session, err := s.describe(ctx, user)
	if err != nil {
		return Session{}, err
	}
	tok, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	session.Token = &tok
	return session, nil
}

func (s *Service) describe(ctx context.Context, user *User) (Session, error) {
	g, err := s.authz.Graph(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{
		User:        user,
		Roles:       g.RoleNames(),
		Permissions: rbac.PermissionNames(rbac.EffectivePermissions(g)),
		UserType:    string(rbac.ResolveTier(g)),
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
