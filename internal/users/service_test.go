package users_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/passport/internal/rbac"
	"github.com/odyssey-erp/passport/internal/shared"
	"github.com/odyssey-erp/passport/internal/users"
)

type stubRepo struct {
	users map[int64]users.User
	err   error
}

func (s *stubRepo) ListUsers(ctx context.Context, filters users.ListFilters) ([]users.User, int, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	out := make([]users.User, 0, len(s.users))
	for id := int64(1); id <= int64(len(s.users)); id++ {
		out = append(out, s.users[id])
	}
	return out, len(out), nil
}

func (s *stubRepo) FindByID(ctx context.Context, id int64) (users.User, error) {
	u, ok := s.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

// stubRoles keeps role names per user over a fixed role catalogue.
type stubRoles struct {
	catalogue map[string]rbac.Role
	held      map[int64][]string
	graphErr  error
}

func (s *stubRoles) Graph(ctx context.Context, userID int64) (rbac.Graph, error) {
	if s.graphErr != nil {
		return rbac.Graph{}, s.graphErr
	}
	g := rbac.Graph{UserID: userID}
	for _, name := range s.held[userID] {
		g.Roles = append(g.Roles, s.catalogue[name])
	}
	return g, nil
}

func (s *stubRoles) AssignRole(ctx context.Context, userID int64, role rbac.Ref) error {
	name, _ := role.Name()
	if _, ok := s.catalogue[name]; !ok {
		return fmt.Errorf("%w: role %s", rbac.ErrNotFound, role)
	}
	if userID > 100 {
		return rbac.ErrUserNotFound
	}
	for _, held := range s.held[userID] {
		if held == name {
			return nil
		}
	}
	s.held[userID] = append(s.held[userID], name)
	return nil
}

func (s *stubRoles) RemoveRole(ctx context.Context, userID int64, role rbac.Ref) (bool, error) {
	name, _ := role.Name()
	if _, ok := s.catalogue[name]; !ok {
		return false, fmt.Errorf("%w: role %s", rbac.ErrNotFound, role)
	}
	kept := s.held[userID][:0]
	removed := false
	for _, held := range s.held[userID] {
		if held == name {
			removed = true
			continue
		}
		kept = append(kept, held)
	}
	s.held[userID] = kept
	return removed, nil
}

type stubRevoker struct {
	enqueued []int64
	err      error
}

func (s *stubRevoker) EnqueueRevokeUserTokens(ctx context.Context, userID int64) error {
	s.enqueued = append(s.enqueued, userID)
	return s.err
}

const (
	adminID  int64 = 1
	editorID int64 = 2
	plainID  int64 = 3
)

func fixtures() (*stubRepo, *stubRoles, *stubRevoker) {
	perms := func(names ...string) []rbac.Permission {
		out := make([]rbac.Permission, 0, len(names))
		for i, n := range names {
			out = append(out, rbac.Permission{ID: int64(i + 1), Name: n})
		}
		return out
	}
	repo := &stubRepo{users: map[int64]users.User{
		adminID:  {ID: adminID, Name: "Admin", Email: "admin@example.com", IsActive: true},
		editorID: {ID: editorID, Name: "Editor", Email: "editor@example.com", IsActive: true},
		plainID:  {ID: plainID, Name: "Plain", Email: "plain@example.com", IsActive: true},
	}}
	roles := &stubRoles{
		catalogue: map[string]rbac.Role{
			"admin":  {ID: 1, Name: "admin", Permissions: perms("create-post", "edit-post", "delete-post", "create-user", "edit-user", "delete-user", "assign-role")},
			"editor": {ID: 2, Name: "editor", Permissions: perms("create-post", "edit-post")},
			"user":   {ID: 3, Name: "user"},
		},
		held: map[int64][]string{
			adminID:  {"admin"},
			editorID: {"editor"},
			plainID:  {"user"},
		},
	}
	return repo, roles, &stubRevoker{}
}

func TestGetUserResolvesGraph(t *testing.T) {
	repo, roles, revoker := fixtures()
	svc := users.NewService(repo, roles, revoker, nil)

	detail, err := svc.GetUser(context.Background(), editorID)
	require.NoError(t, err)
	assert.Equal(t, "editor@example.com", detail.User.Email)
	assert.Equal(t, []string{"editor"}, detail.Roles)
	assert.Equal(t, []string{"create-post", "edit-post"}, detail.Permissions)
	assert.Equal(t, "editor", detail.UserType)

	_, err = svc.GetUser(context.Background(), 42)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAssignRoleMapsUnknownUser(t *testing.T) {
	repo, roles, revoker := fixtures()
	svc := users.NewService(repo, roles, revoker, nil)

	_, err := svc.AssignRole(context.Background(), 500, rbac.ByName("editor"))
	assert.ErrorIs(t, err, users.ErrNotFound)

	_, err = svc.AssignRole(context.Background(), plainID, rbac.ByName("nonexistent-role"))
	assert.ErrorIs(t, err, rbac.ErrNotFound)
	assert.Equal(t, []string{"user"}, roles.held[plainID])
}

func TestRemoveRoleEnqueuesRevocationOnlyWhenRemoved(t *testing.T) {
	repo, roles, revoker := fixtures()
	svc := users.NewService(repo, roles, revoker, nil)
	ctx := context.Background()

	detail, err := svc.RemoveRole(ctx, editorID, rbac.ByName("editor"))
	require.NoError(t, err)
	assert.Empty(t, detail.Roles)
	assert.Equal(t, []int64{editorID}, revoker.enqueued)

	_, err = svc.RemoveRole(ctx, editorID, rbac.ByName("editor"))
	require.NoError(t, err)
	assert.Equal(t, []int64{editorID}, revoker.enqueued)
}

func TestRemoveRoleToleratesEnqueueFailure(t *testing.T) {
	repo, roles, revoker := fixtures()
	revoker.err = errors.New("redis down")
	svc := users.NewService(repo, roles, revoker, nil)

	_, err := svc.RemoveRole(context.Background(), editorID, rbac.ByName("editor"))
	require.NoError(t, err)
	assert.Empty(t, roles.held[editorID])
}

func newRouter(repo *stubRepo, roles *stubRoles, revoker *stubRevoker) http.Handler {
	mw := rbac.Middleware{Graphs: roles}
	r := chi.NewRouter()
	r.Route("/users", users.NewHandler(nil, users.NewService(repo, roles, revoker, nil), mw).MountRoutes)
	return r
}

func call(h http.Handler, method, path, body string, userID int64) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: userID}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUserRoutesArePermissionGated(t *testing.T) {
	h := newRouter(fixtures())

	assert.Equal(t, http.StatusOK, call(h, http.MethodGet, "/users/", "", adminID).Code)
	rec := call(h, http.MethodGet, "/users/", "", editorID)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), rbac.ReasonInsufficientPermission)

	rec = call(h, http.MethodPost, "/users/3/roles", `{"role":"editor"}`, editorID)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestShowUserHandler(t *testing.T) {
	h := newRouter(fixtures())

	rec := call(h, http.MethodGet, "/users/2", "", adminID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user_type":"editor"`)
	assert.NotContains(t, rec.Body.String(), "password")

	assert.Equal(t, http.StatusNotFound, call(h, http.MethodGet, "/users/99", "", adminID).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, call(h, http.MethodGet, "/users/abc", "", adminID).Code)
}

func TestAssignAndRemoveRoleHandlers(t *testing.T) {
	repo, roles, revoker := fixtures()
	h := newRouter(repo, roles, revoker)

	rec := call(h, http.MethodPost, "/users/3/roles", `{"role":"editor"}`, adminID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"user", "editor"}, roles.held[plainID])

	rec = call(h, http.MethodPost, "/users/3/roles", `{"role":"nonexistent-role"}`, adminID)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(h, http.MethodPost, "/users/3/roles", `{}`, adminID)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = call(h, http.MethodDelete, "/users/3/roles/editor", "", adminID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"user"}, roles.held[plainID])
	assert.Equal(t, []int64{plainID}, revoker.enqueued)
}

func TestListUsersStoreFailure(t *testing.T) {
	repo, roles, revoker := fixtures()
	repo.err = errors.New("connection reset by peer")
	h := newRouter(repo, roles, revoker)

	rec := call(h, http.MethodGet, "/users/", "", adminID)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}
