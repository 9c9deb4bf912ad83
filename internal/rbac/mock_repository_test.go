package rbac

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/odyssey-erp/passport/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type linkKey struct{ a, b int64 }

type mockState struct {
	permissions     map[int64]Permission
	roles           map[int64]Role
	rolePermissions map[linkKey]struct{}
	userRoles       map[linkKey]struct{}
	users           map[int64]struct{}
	nextPermID      int64
	nextRoleID      int64
}

func (s *mockState) clone() *mockState {
	c := &mockState{
		permissions:     make(map[int64]Permission, len(s.permissions)),
		roles:           make(map[int64]Role, len(s.roles)),
		rolePermissions: make(map[linkKey]struct{}, len(s.rolePermissions)),
		userRoles:       make(map[linkKey]struct{}, len(s.userRoles)),
		users:           make(map[int64]struct{}, len(s.users)),
		nextPermID:      s.nextPermID,
		nextRoleID:      s.nextRoleID,
	}
	for k, v := range s.permissions {
		c.permissions[k] = v
	}
	for k, v := range s.roles {
		c.roles[k] = v
	}
	for k := range s.rolePermissions {
		c.rolePermissions[k] = struct{}{}
	}
	for k := range s.userRoles {
		c.userRoles[k] = struct{}{}
	}
	for k := range s.users {
		c.users[k] = struct{}{}
	}
	return c
}

type mockRepository struct {
	state *mockState

	// Error injection
	txError        error
	loadGraphError error
	findRoleError  error
	syncError      error
	attachError    error

	loadGraphCalls int
}

func newMockRepository(userIDs ...int64) *mockRepository {
	st := &mockState{
		permissions:     make(map[int64]Permission),
		roles:           make(map[int64]Role),
		rolePermissions: make(map[linkKey]struct{}),
		userRoles:       make(map[linkKey]struct{}),
		users:           make(map[int64]struct{}),
		nextPermID:      1,
		nextRoleID:      1,
	}
	for _, id := range userIDs {
		st.users[id] = struct{}{}
	}
	return &mockRepository{state: st}
}

// WithTx runs fn against a copy of the state and publishes it only on success.
func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if m.txError != nil {
		return m.txError
	}
	tx := &mockRepository{
		state:     m.state.clone(),
		syncError: m.syncError,
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *mockRepository) FindPermission(ctx context.Context, ref Ref) (Permission, error) {
	for _, p := range m.state.permissions {
		if ref.Matches(p.ID, p.Name) {
			return p, nil
		}
	}
	return Permission{}, fmt.Errorf("%w: permission %s", ErrNotFound, ref)
}

func (m *mockRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	perms := make([]Permission, 0, len(m.state.permissions))
	for _, p := range m.state.permissions {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	return perms, nil
}

func (m *mockRepository) InsertPermission(ctx context.Context, p Permission) (Permission, bool, error) {
	if existing, err := m.FindPermission(ctx, ByName(p.Name)); err == nil {
		return existing, false, nil
	}
	p.ID = m.state.nextPermID
	p.CreatedAt = time.Now()
	m.state.nextPermID++
	m.state.permissions[p.ID] = p
	return p, true, nil
}

func (m *mockRepository) DeletePermission(ctx context.Context, id int64) error {
	if _, ok := m.state.permissions[id]; !ok {
		return ErrNotFound
	}
	delete(m.state.permissions, id)
	for k := range m.state.rolePermissions {
		if k.b == id {
			delete(m.state.rolePermissions, k)
		}
	}
	return nil
}

func (m *mockRepository) FindRole(ctx context.Context, ref Ref) (Role, error) {
	if m.findRoleError != nil {
		return Role{}, m.findRoleError
	}
	for _, r := range m.state.roles {
		if ref.Matches(r.ID, r.Name) {
			return r, nil
		}
	}
	return Role{}, fmt.Errorf("%w: role %s", ErrNotFound, ref)
}

func (m *mockRepository) ListRoles(ctx context.Context) ([]Role, error) {
	roles := make([]Role, 0, len(m.state.roles))
	for _, r := range m.state.roles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (m *mockRepository) InsertRole(ctx context.Context, r Role) (Role, bool, error) {
	for _, existing := range m.state.roles {
		if existing.Name == r.Name {
			return existing, false, nil
		}
	}
	r.ID = m.state.nextRoleID
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	m.state.nextRoleID++
	m.state.roles[r.ID] = r
	return r, true, nil
}

func (m *mockRepository) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	perms := make([]Permission, 0)
	for k := range m.state.rolePermissions {
		if k.a == roleID {
			perms = append(perms, m.state.permissions[k.b])
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	return perms, nil
}

func (m *mockRepository) AttachPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	if m.attachError != nil {
		return false, m.attachError
	}
	key := linkKey{roleID, permissionID}
	if _, ok := m.state.rolePermissions[key]; ok {
		return false, nil
	}
	m.state.rolePermissions[key] = struct{}{}
	return true, nil
}

func (m *mockRepository) DetachPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	key := linkKey{roleID, permissionID}
	if _, ok := m.state.rolePermissions[key]; !ok {
		return false, nil
	}
	delete(m.state.rolePermissions, key)
	return true, nil
}

func (m *mockRepository) SyncPermissions(ctx context.Context, roleID int64, permissionIDs []int64) (SyncResult, error) {
	want := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		want[id] = struct{}{}
	}
	var res SyncResult
	for k := range m.state.rolePermissions {
		if k.a != roleID {
			continue
		}
		if _, ok := want[k.b]; !ok {
			delete(m.state.rolePermissions, k)
			res.Detached = append(res.Detached, k.b)
		}
	}
	// Fail after a partial mutation so tests can prove the copy is discarded.
	if m.syncError != nil {
		return SyncResult{}, m.syncError
	}
	for id := range want {
		key := linkKey{roleID, id}
		if _, ok := m.state.rolePermissions[key]; !ok {
			m.state.rolePermissions[key] = struct{}{}
			res.Attached = append(res.Attached, id)
		}
	}
	return res, nil
}

func (m *mockRepository) AttachRole(ctx context.Context, userID, roleID int64) (bool, error) {
	if _, ok := m.state.users[userID]; !ok {
		return false, ErrUserNotFound
	}
	key := linkKey{userID, roleID}
	if _, ok := m.state.userRoles[key]; ok {
		return false, nil
	}
	m.state.userRoles[key] = struct{}{}
	return true, nil
}

func (m *mockRepository) DetachRole(ctx context.Context, userID, roleID int64) (bool, error) {
	key := linkKey{userID, roleID}
	if _, ok := m.state.userRoles[key]; !ok {
		return false, nil
	}
	delete(m.state.userRoles, key)
	return true, nil
}

func (m *mockRepository) LoadGraph(ctx context.Context, userID int64) (Graph, error) {
	m.loadGraphCalls++
	if m.loadGraphError != nil {
		return Graph{}, m.loadGraphError
	}
	g := Graph{UserID: userID, Roles: make([]Role, 0)}
	roleIDs := make([]int64, 0)
	for k := range m.state.userRoles {
		if k.a == userID {
			roleIDs = append(roleIDs, k.b)
		}
	}
	sort.Slice(roleIDs, func(i, j int) bool { return roleIDs[i] < roleIDs[j] })
	for _, id := range roleIDs {
		role := m.state.roles[id]
		role.Permissions, _ = m.RolePermissions(ctx, id)
		g.Roles = append(g.Roles, role)
	}
	return g, nil
}

// roleNames lists role names held by the user, sorted.
func (m *mockRepository) roleNames(userID int64) []string {
	names := make([]string, 0)
	for k := range m.state.userRoles {
		if k.a == userID {
			names = append(names, m.state.roles[k.b].Name)
		}
	}
	sort.Strings(names)
	return names
}

func (m *mockRepository) countRoles(name string) int {
	n := 0
	for _, r := range m.state.roles {
		if r.Name == name {
			n++
		}
	}
	return n
}

type recordingAuditor struct {
	actions []string
	err     error
}

func (a *recordingAuditor) Record(ctx context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return a.err
}
