package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/passport/internal/platform/httpx"
	"github.com/odyssey-erp/passport/internal/shared"
)

// PermissionsHandler exposes the permission catalogue to administrators.
type PermissionsHandler struct {
	logger    *slog.Logger
	service   *Service
	rbac      Middleware
	validator *validator.Validate
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, rbac Middleware) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, service: service, rbac: rbac, validator: httpx.NewValidator()}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(shared.RoleAdmin))
		r.Get("/", h.listPermissions)
		r.Post("/", h.ensurePermission)
		r.Get("/{permission}", h.showPermission)
		r.Delete("/{permission}", h.deletePermission)
	})
}

type permissionRequest struct {
	Name        string `json:"name" validate:"required,max=100,excludesall=0x7C0x2C"`
	DisplayName string `json:"display_name" validate:"max=255"`
	Description string `json:"description" validate:"max=1000"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *PermissionsHandler) ensurePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if fields := httpx.ValidationErrors(h.validator.Struct(req)); fields != nil {
		httpx.ValidationProblem(w, fields)
		return
	}
	p, err := h.service.EnsurePermission(r.Context(), req.Name, req.DisplayName, req.Description)
	if err != nil {
		h.logger.Error("ensure permission", slog.String("name", req.Name), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permission": p})
}

func (h *PermissionsHandler) showPermission(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.FindPermission(r.Context(), ByName(chi.URLParam(r, "permission")))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permission": p})
}

func (h *PermissionsHandler) deletePermission(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "permission")
	if err := h.service.DeletePermission(r.Context(), ByName(name)); err != nil {
		if !IsNotFound(err) {
			h.logger.Error("delete permission", slog.String("name", name), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
