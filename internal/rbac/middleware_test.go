package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/passport/internal/platform/httpx"
	"github.com/odyssey-erp/passport/internal/shared"
)

type countingRecorder struct {
	counts map[string]int
}

func (r *countingRecorder) ObserveDecision(check, outcome string) {
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[check+":"+outcome]++
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serveAs(h http.Handler, userID int64) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if userID > 0 {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: userID}))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	return p
}

func newGatedMiddleware(t *testing.T) (Middleware, *mockRepository, *countingRecorder) {
	t.Helper()
	svc, repo, _ := seeded(t, 1, 2, 3)
	ctx := context.Background()
	require.NoError(t, svc.AssignRole(ctx, 1, ByName("admin")))
	require.NoError(t, svc.AssignRole(ctx, 2, ByName("editor")))
	require.NoError(t, svc.AssignRole(ctx, 3, ByName("user")))
	rec := &countingRecorder{}
	return Middleware{Graphs: svc, Logger: discardLogger(), Recorder: rec}, repo, rec
}

func TestRequireRole(t *testing.T) {
	mw, _, recorder := newGatedMiddleware(t)
	h := mw.RequireRole("admin|editor")(okHandler)

	assert.Equal(t, http.StatusOK, serveAs(h, 1).Code)
	assert.Equal(t, http.StatusOK, serveAs(h, 2).Code)

	rec := serveAs(h, 3)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, ReasonInsufficientRole, decodeProblem(t, rec).Detail)

	assert.Equal(t, 2, recorder.counts["role:allow"])
	assert.Equal(t, 1, recorder.counts["role:deny"])
}

func TestRequirePermission(t *testing.T) {
	mw, _, _ := newGatedMiddleware(t)

	h := mw.RequirePermission("edit-post")(okHandler)
	assert.Equal(t, http.StatusOK, serveAs(h, 2).Code)
	rec := serveAs(h, 3)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, ReasonInsufficientPermission, decodeProblem(t, rec).Detail)

	h = mw.RequirePermission("delete-user", "create-post")(okHandler)
	assert.Equal(t, http.StatusOK, serveAs(h, 2).Code)

	h = mw.RequirePermission("no-such-permission")(okHandler)
	assert.Equal(t, http.StatusForbidden, serveAs(h, 1).Code)
}

func TestGateWithoutPrincipalIsUnauthorized(t *testing.T) {
	mw, _, recorder := newGatedMiddleware(t)

	rec := serveAs(mw.RequireRole("admin")(okHandler), 0)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1, recorder.counts["role:deny"])
}

func TestGateFailsClosedOnStoreError(t *testing.T) {
	mw, repo, recorder := newGatedMiddleware(t)
	repo.loadGraphError = errors.New("pq: connection refused")

	rec := serveAs(mw.RequirePermission("edit-post")(okHandler), 1)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	p := decodeProblem(t, rec)
	assert.Empty(t, p.Detail)
	assert.NotContains(t, rec.Body.String(), "connection refused")
	assert.Equal(t, 1, recorder.counts["permission:error"])
}

func TestEmptyRequirementDenies(t *testing.T) {
	mw, _, recorder := newGatedMiddleware(t)

	for _, req := range []string{"", "|", " , ", " | "} {
		assert.Equal(t, http.StatusUnauthorized, serveAs(mw.RequireRole(req)(okHandler), 0).Code, "role %q", req)
		assert.Equal(t, http.StatusUnauthorized, serveAs(mw.RequirePermission(req)(okHandler), 0).Code, "permission %q", req)

		rec := serveAs(mw.RequireRole(req)(okHandler), 1)
		assert.Equal(t, http.StatusForbidden, rec.Code, "role %q", req)
		assert.Equal(t, ReasonInsufficientRole, decodeProblem(t, rec).Detail)
		rec = serveAs(mw.RequirePermission(req)(okHandler), 1)
		assert.Equal(t, http.StatusForbidden, rec.Code, "permission %q", req)
	}
	assert.Equal(t, 8, recorder.counts["role:deny"])
	assert.Equal(t, 8, recorder.counts["permission:deny"])
}
