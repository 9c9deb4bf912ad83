package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/passport/internal/platform/httpx"
	"github.com/odyssey-erp/passport/internal/shared"
)

// Refusal reasons reported to clients.
const (
	ReasonInsufficientRole       = "insufficient role"
	ReasonInsufficientPermission = "insufficient permission"
)

// Decision outcomes reported to the DecisionRecorder.
const (
	OutcomeAllow = "allow"
	OutcomeDeny  = "deny"
	OutcomeError = "error"
)

// DecisionRecorder receives one observation per authorization check.
type DecisionRecorder interface {
	ObserveDecision(check, outcome string)
}

// GraphLoader resolves a user's role graph. *Service implements it.
type GraphLoader interface {
	Graph(ctx context.Context, userID int64) (Graph, error)
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
// It expects the bearer middleware to have stored a shared.Principal.
type Middleware struct {
	Graphs   GraphLoader
	Logger   *slog.Logger
	Recorder DecisionRecorder
}

// RequireRole lets the request through when the caller holds any of the roles.
// Each argument may itself be a pipe-separated list, e.g. "admin|editor".
func (m Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	required := SplitRequirement(roles...)
	return m.gate("role", ReasonInsufficientRole, required, func(g Graph) bool {
		return HasAnyRole(g, required...)
	})
}

// RequirePermission lets the request through when the caller holds any of the permissions.
func (m Middleware) RequirePermission(perms ...string) func(http.Handler) http.Handler {
	required := SplitRequirement(perms...)
	refs := Names(required...)
	return m.gate("permission", ReasonInsufficientPermission, required, func(g Graph) bool {
		return HasAnyPermission(g, refs...)
	})
}

func (m Middleware) gate(check, reason string, required []string, allowed func(Graph) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				m.observe(check, OutcomeDeny)
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			// Any-of over an empty list holds for nobody.
			if len(required) == 0 {
				m.observe(check, OutcomeDeny)
				m.logger().Warn("rbac deny: empty requirement",
					slog.String("check", check),
					slog.Int64("user_id", principal.UserID))
				httpx.Forbidden(w, reason)
				return
			}
			graph, err := m.Graphs.Graph(r.Context(), principal.UserID)
			if err != nil {
				m.observe(check, OutcomeError)
				m.logger().Error("rbac check failed",
					slog.String("check", check),
					slog.Int64("user_id", principal.UserID),
					slog.String("kind", "store"),
					slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			if !allowed(graph) {
				m.observe(check, OutcomeDeny)
				m.logger().Info("rbac deny",
					slog.String("check", check),
					slog.Int64("user_id", principal.UserID),
					slog.String("required", strings.Join(required, "|")))
				httpx.Forbidden(w, reason)
				return
			}
			m.observe(check, OutcomeAllow)
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) observe(check, outcome string) {
	if m.Recorder != nil {
		m.Recorder.ObserveDecision(check, outcome)
	}
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// SplitRequirement flattens pipe- or comma-separated lists, trimming blanks and
// dropping duplicates while keeping order. Names stay case-sensitive.
func SplitRequirement(values ...string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == '|' || r == ',' }) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}
