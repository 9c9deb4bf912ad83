package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/passport/internal/platform/httpx"
	"github.com/odyssey-erp/passport/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	tokens    *TokenStore
	limit     func(http.Handler) http.Handler
	validator *validator.Validate
}

// NewHandler constructs a Handler instance. limit throttles register and
// login and may be nil.
func NewHandler(logger *slog.Logger, service *Service, tokens *TokenStore, limit func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		tokens:    tokens,
		limit:     limit,
		validator: httpx.NewValidator(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.limit != nil {
			r.Use(h.limit)
		}
		r.Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.tokens.Authenticate)
		r.Post("/logout", h.handleLogout)
		r.Post("/refresh-token", h.handleRefresh)
		r.Get("/profile", h.handleProfile)
		r.Get("/permissions", h.handlePermissions)
		r.Get("/roles", h.handleRoles)
		r.Get("/check-permission/{permission}", h.handleCheckPermission)
	})
}

type registerRequest struct {
	Name                 string `json:"name" validate:"required,max=255"`
	Email                string `json:"email" validate:"required,email,max=255"`
	Password             string `json:"password" validate:"required,min=8,maxbytes=72"`
	PasswordConfirmation string `json:"password_confirmation" validate:"required,eqfield=Password"`
	Role                 string `json:"role" validate:"max=100"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type sessionResponse struct {
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	User        *User     `json:"user"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions,omitempty"`
	UserType    string    `json:"user_type"`
	Token       string    `json:"token,omitempty"`
	TokenType   string    `json:"token_type,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

func newSessionResponse(message string, s Session) sessionResponse {
	resp := sessionResponse{
		Status:      "success",
		Message:     message,
		User:        s.User,
		Roles:       s.Roles,
		Permissions: s.Permissions,
		UserType:    s.UserType,
	}
	if s.Token != nil {
		resp.Token = s.Token.Value
		resp.TokenType = "Bearer"
		resp.ExpiresAt = s.Token.ExpiresAt
	}
	return resp
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, err := h.service.Register(r.Context(), RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		if !errors.Is(err, shared.ErrConflict) && !errors.Is(err, shared.ErrConfiguration) && !errors.Is(err, shared.ErrValidation) {
			h.logger.Error("register", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newSessionResponse("User registered successfully", session))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if !errors.Is(err, shared.ErrInvalidCredentials) {
			h.logger.Error("login", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newSessionResponse("Login successful", session))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), TokenFromContext(r.Context())); err != nil {
		h.logger.Error("logout", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Logged out successfully"})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	session, err := h.service.Refresh(r.Context(), principal, TokenFromContext(r.Context()))
	if err != nil {
		h.respondSessionError(w, "refresh token", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newSessionResponse("Token refreshed", session))
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	session, err := h.service.Profile(r.Context(), principal.UserID)
	if err != nil {
		h.respondSessionError(w, "profile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newSessionResponse("", session))
}

func (h *Handler) handlePermissions(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	session, err := h.service.Profile(r.Context(), principal.UserID)
	if err != nil {
		h.respondSessionError(w, "permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": nonNil(session.Permissions)})
}

func (h *Handler) handleRoles(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	session, err := h.service.Profile(r.Context(), principal.UserID)
	if err != nil {
		h.respondSessionError(w, "roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": nonNil(session.Roles)})
}

func (h *Handler) handleCheckPermission(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	permission := chi.URLParam(r, "permission")
	ok, err := h.service.CheckPermission(r.Context(), principal.UserID, permission)
	if err != nil {
		h.respondSessionError(w, "check permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permission": permission, "has_permission": ok})
}

func (h *Handler) respondSessionError(w http.ResponseWriter, op string, err error) {
	if !errors.Is(err, shared.ErrUnauthorized) {
		h.logger.Error(op, slog.String("kind", "store"), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if fields := httpx.ValidationErrors(h.validator.Struct(target)); fields != nil {
		httpx.ValidationProblem(w, fields)
		return false
	}
	return true
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
