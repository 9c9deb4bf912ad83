package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/passport/internal/rbac"
	"github.com/odyssey-erp/passport/jobs"
)

type stubGraphs struct {
	graphs map[int64]rbac.Graph
	err    error
}

func (s stubGraphs) Graph(ctx context.Context, userID int64) (rbac.Graph, error) {
	if s.err != nil {
		return rbac.Graph{}, s.err
	}
	return s.graphs[userID], nil
}

type stubSeeder struct {
	extended bool
	report   rbac.BaselineReport
}

func (s *stubSeeder) EnsureBaseline(ctx context.Context, cat rbac.Catalogue) (rbac.BaselineReport, error) {
	s.extended = len(cat.Permissions) == 7
	return s.report, nil
}

func editorGraph() rbac.Graph {
	return rbac.Graph{UserID: 7, Roles: []rbac.Role{{
		ID:   2,
		Name: "editor",
		Permissions: []rbac.Permission{
			{ID: 2, Name: "edit-post"},
			{ID: 1, Name: "create-post"},
		},
	}}}
}

func TestAccessCommandText(t *testing.T) {
	c := NewAccessCLI(stubGraphs{graphs: map[int64]rbac.Graph{7: editorGraph()}}, nil)
	var out, errOut bytes.Buffer

	code := c.AccessCommand(context.Background(), AccessOptions{UserID: 7, Permission: "delete-post", Stdout: &out, Stderr: &errOut})

	assert.Equal(t, 1, code)
	assert.Empty(t, errOut.String())
	assert.Equal(t, "user 7 (editor)\nroles: editor\npermissions: create-post, edit-post\ndelete-post: denied\n", out.String())
}

func TestAccessCommandJSON(t *testing.T) {
	c := NewAccessCLI(stubGraphs{graphs: map[int64]rbac.Graph{7: editorGraph()}}, nil)
	var out bytes.Buffer

	code := c.AccessCommand(context.Background(), AccessOptions{UserID: 7, Permission: "edit-post", JSONOutput: true, Stdout: &out})
	require.Equal(t, 0, code)

	var summary AccessSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.Equal(t, "editor", summary.Tier)
	require.NotNil(t, summary.Allowed)
	assert.True(t, *summary.Allowed)
}

func TestAccessCommandUserWithoutRoles(t *testing.T) {
	c := NewAccessCLI(stubGraphs{graphs: map[int64]rbac.Graph{}}, nil)
	var out bytes.Buffer

	code := c.AccessCommand(context.Background(), AccessOptions{UserID: 9, Stdout: &out})
	assert.Equal(t, 0, code)
	assert.Equal(t, "user 9 (user)\nroles: -\npermissions: -\n", out.String())
}

func TestAccessCommandFailures(t *testing.T) {
	var errOut bytes.Buffer
	c := NewAccessCLI(stubGraphs{err: errors.New("connection refused")}, nil)

	assert.Equal(t, 2, c.AccessCommand(context.Background(), AccessOptions{UserID: 0, Stderr: &errOut}))
	assert.Equal(t, 2, c.AccessCommand(context.Background(), AccessOptions{UserID: 1, Stderr: &errOut}))
	assert.Contains(t, errOut.String(), "connection refused")
}

func TestSeedCommand(t *testing.T) {
	seeder := &stubSeeder{report: rbac.BaselineReport{Permissions: 7, Roles: 3, Grants: 9}}
	var out bytes.Buffer

	require.NoError(t, NewAccessCLI(nil, seeder).SeedCommand(context.Background(), true, &out))
	assert.True(t, seeder.extended)
	assert.Equal(t, "permissions=7 roles=3 new_grants=9\n", out.String())

	assert.Error(t, NewAccessCLI(nil, nil).SeedCommand(context.Background(), false, &out))
}

func TestBuildTask(t *testing.T) {
	task, err := BuildTask(jobs.TaskReconcileBaseline, 0)
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskReconcileBaseline, task.Type())

	task, err = BuildTask(jobs.TaskRevokeUserTokens, 42)
	require.NoError(t, err)
	var payload jobs.RevokeUserTokensPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, int64(42), payload.UserID)

	_, err = BuildTask(jobs.TaskRevokeUserTokens, 0)
	assert.Error(t, err)
	_, err = BuildTask("unknown", 1)
	assert.Error(t, err)
}
