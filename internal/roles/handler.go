package roles

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/passport/internal/platform/httpx"
	"github.com/odyssey-erp/passport/internal/rbac"
	"github.com/odyssey-erp/passport/internal/shared"
)

// Handler manages role management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validator: httpx.NewValidator()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(shared.RoleAdmin))
		r.Get("/", h.listRoles)
		r.Post("/", h.createRole)
		r.Get("/{role}", h.showRole)
		r.Put("/{role}/permissions", h.replacePermissions)
		r.Post("/{role}/permissions", h.grantPermission)
		r.Delete("/{role}/permissions/{permission}", h.revokePermission)
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if fields := httpx.ValidationErrors(h.validator.Struct(req)); fields != nil {
		httpx.ValidationProblem(w, fields)
		return
	}
	role, err := h.service.EnsureRole(r.Context(), req.Name, req.DisplayName, req.Description)
	if err != nil {
		h.fail(w, "ensure role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": role})
}

func (h *Handler) showRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.FindRole(r.Context(), roleRef(r))
	if err != nil {
		h.fail(w, "find role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": role})
}

func (h *Handler) replacePermissions(w http.ResponseWriter, r *http.Request) {
	var req ReplacePermissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if fields := httpx.ValidationErrors(h.validator.Struct(req)); fields != nil {
		httpx.ValidationProblem(w, fields)
		return
	}
	role, err := h.service.ReplacePermissions(r.Context(), roleRef(r), req.Permissions)
	if err != nil {
		h.fail(w, "replace permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": role})
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.Permission.IsZero() {
		httpx.ValidationProblem(w, map[string]string{"permission": "required"})
		return
	}
	ref := roleRef(r)
	if err := h.service.Grant(r.Context(), ref, req.Permission); err != nil {
		h.fail(w, "grant permission", err)
		return
	}
	h.respondRole(w, r, ref)
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	ref := roleRef(r)
	perm := rbac.ByName(chi.URLParam(r, "permission"))
	if err := h.service.Revoke(r.Context(), ref, perm); err != nil {
		h.fail(w, "revoke permission", err)
		return
	}
	h.respondRole(w, r, ref)
}

func (h *Handler) respondRole(w http.ResponseWriter, r *http.Request, ref rbac.Ref) {
	role, err := h.service.FindRole(r.Context(), ref)
	if err != nil {
		h.fail(w, "find role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": role})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrValidation) {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// roleRef reads {role} as an id when numeric, otherwise as a name.
func roleRef(r *http.Request) rbac.Ref {
	raw := chi.URLParam(r, "role")
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
		return rbac.ByID(id)
	}
	return rbac.ByName(raw)
}
