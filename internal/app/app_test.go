package app

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/passport/internal/observability"
	"github.com/odyssey-erp/passport/internal/platform/httpx"
	"github.com/odyssey-erp/passport/internal/rbac"
	"github.com/odyssey-erp/passport/internal/shared"
	"github.com/odyssey-erp/passport/jobs"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/passport")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "pp_", cfg.TokenPrefix)
	assert.Equal(t, time.Minute, cfg.RBACCacheTTL)
	assert.True(t, cfg.RBACSeedOnBoot)
	assert.True(t, cfg.RBACExtendedCatalogue)
	assert.Equal(t, "@hourly", cfg.RBACReconcileCron)
	assert.Equal(t, 60, cfg.RateLimitPerMinute)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresBackends(t *testing.T) {
	t.Setenv("PG_DSN", "")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRejectsZeroTokenTTL(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/passport")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("TOKEN_TTL", "0s")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogLevel: "warn", LogFormat: "json"})

	logger.Info("hidden")
	logger.Warn("shown", slog.String("kind", "store"))

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"kind":"store"`)
}

func TestInTestMode(t *testing.T) {
	t.Setenv(TestModeEnv, "1")
	RefreshTestMode()
	assert.True(t, InTestMode())

	t.Setenv(TestModeEnv, "")
	RefreshTestMode()
	assert.False(t, InTestMode())
}

type fixedGraphs map[int64]rbac.Graph

func (f fixedGraphs) Graph(ctx context.Context, userID int64) (rbac.Graph, error) {
	return f[userID], nil
}

// headerPrincipal stands in for the bearer middleware.
func headerPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer admin":
			r = r.WithContext(shared.ContextWithPrincipal(r.Context(), shared.Principal{UserID: 1}))
		case "Bearer user":
			r = r.WithContext(shared.ContextWithPrincipal(r.Context(), shared.Principal{UserID: 2}))
		default:
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newTestRouter() http.Handler {
	graphs := fixedGraphs{
		1: {UserID: 1, Roles: []rbac.Role{{ID: 1, Name: shared.RoleAdmin}}},
		2: {UserID: 2, Roles: []rbac.Role{{ID: 3, Name: shared.RoleUser}}},
	}
	metrics := observability.NewMetrics()
	mw := rbac.Middleware{Graphs: graphs, Recorder: metrics}
	return NewRouter(RouterParams{
		Logger:         slog.Default(),
		Config:         &Config{AppEnv: "test"},
		Authenticate:   headerPrincipal,
		RBACMiddleware: mw,
		JobHandler:     jobs.NewHandler(nil, nil),
		Metrics:        metrics,
	})
}

func get(h http.Handler, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	h := newTestRouter()

	rec := get(h, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRouterNotFoundIsProblem(t *testing.T) {
	rec := get(newTestRouter(), "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestAdminJobsRequireAdmin(t *testing.T) {
	h := newTestRouter()

	assert.Equal(t, http.StatusUnauthorized, get(h, "/api/admin/jobs/health", "").Code)
	assert.Equal(t, http.StatusForbidden, get(h, "/api/admin/jobs/health", "Bearer user").Code)
	assert.Equal(t, http.StatusOK, get(h, "/api/admin/jobs/health", "Bearer admin").Code)

	rec := get(h, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `passport_authz_decisions_total{check="role",outcome="deny"} 1`)
}

func TestCredentialRateLimit(t *testing.T) {
	limited := CredentialRateLimit(&Config{RateLimitPerMinute: 2})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
