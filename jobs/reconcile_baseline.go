package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/passport/internal/jobs"
	"github.com/odyssey-erp/passport/internal/rbac"
)

// BaselineEnsurer applies the RBAC catalogue. *rbac.Service implements it.
type BaselineEnsurer interface {
	EnsureBaseline(ctx context.Context, cat rbac.Catalogue) (rbac.BaselineReport, error)
}

// ReconcileBaselineJob re-runs the idempotent RBAC bootstrap.
type ReconcileBaselineJob struct {
	Seeder   BaselineEnsurer
	Extended bool
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewReconcileBaselineJob initialises the reconcile handler.
func NewReconcileBaselineJob(seeder BaselineEnsurer, extended bool, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileBaselineJob {
	return &ReconcileBaselineJob{Seeder: seeder, Extended: extended, Logger: logger, Metrics: metrics}
}

// Handle executes the reconciliation.
func (j *ReconcileBaselineJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Seeder == nil {
		return errors.New("reconcile baseline: handler not configured")
	}
	var payload ReconcileBaselinePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.Metrics.Track(TaskReconcileBaseline)
	start := time.Now()
	logger := j.logger().With(slog.String("source", payload.Source))

	report, err := j.Seeder.EnsureBaseline(ctx, rbac.DefaultCatalogue(j.Extended))
	if err != nil {
		logger.Error("reconcile baseline failed", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("reconciled rbac baseline",
		slog.Int("permissions", report.Permissions),
		slog.Int("roles", report.Roles),
		slog.Int("new_grants", report.Grants),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func (j *ReconcileBaselineJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
