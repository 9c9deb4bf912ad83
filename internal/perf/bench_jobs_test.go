package perf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/odyssey-erp/passport/internal/jobs"
	"github.com/odyssey-erp/passport/internal/rbac"
	"github.com/odyssey-erp/passport/jobs"
)

type slowSeeder struct {
	delay time.Duration
	fail  int
}

func (s *slowSeeder) EnsureBaseline(ctx context.Context, cat rbac.Catalogue) (rbac.BaselineReport, error) {
	time.Sleep(s.delay)
	if s.fail > 0 {
		s.fail--
		return rbac.BaselineReport{}, errors.New("serialization failure")
	}
	return rbac.BaselineReport{Permissions: len(cat.Permissions), Roles: len(cat.Roles)}, nil
}

type countingRevoker struct{ perUser int }

func (c countingRevoker) RevokeAll(ctx context.Context, userID int64) (int, error) {
	return c.perUser, nil
}

func TestJobThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	reconcile := jobs.NewReconcileBaselineJob(&slowSeeder{delay: 5 * time.Millisecond, fail: 2}, true, logger, metrics)
	task, err := jobs.NewReconcileBaselineTask(time.Now(), "perf")
	if err != nil {
		t.Fatalf("build reconcile task: %v", err)
	}
	failures := 0
	for i := 0; i < 40; i++ {
		if err := reconcile.Handle(ctx, task); err != nil {
			failures++
		}
	}
	if failures != 2 {
		t.Fatalf("expected 2 failed runs, got %d", failures)
	}

	revoke := jobs.NewRevokeUserTokensJob(countingRevoker{perUser: 3}, logger, metrics)
	for userID := int64(1); userID <= 20; userID++ {
		revokeTask, err := jobs.NewRevokeUserTokensTask(jobs.RevokeUserTokensPayload{UserID: userID})
		if err != nil {
			t.Fatalf("build revoke task: %v", err)
		}
		if err := revoke.Handle(ctx, revokeTask); err != nil {
			t.Fatalf("revoke user %d: %v", userID, err)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "passport_jobs_total", map[string]string{"job": jobs.TaskReconcileBaseline, "status": "success"})
	failure := metricValue(t, families, "passport_jobs_total", map[string]string{"job": jobs.TaskReconcileBaseline, "status": "failure"})
	if ratio := success / (success + failure); ratio < 0.9 {
		t.Fatalf("reconcile success ratio too low: %f", ratio)
	}
	if revoked := metricValue(t, families, "passport_tokens_revoked_total", nil); revoked != 60 {
		t.Fatalf("expected 60 revoked tokens, got %f", revoked)
	}

	if mean := histogramMean(t, families, "passport_job_duration_seconds", map[string]string{"job": jobs.TaskReconcileBaseline}); mean > 0.5 {
		t.Fatalf("reconcile duration above budget: %f", mean)
	}
	if mean := histogramMean(t, families, "passport_job_duration_seconds", map[string]string{"job": jobs.TaskRevokeUserTokens}); mean > 0.1 {
		t.Fatalf("revoke duration above budget: %f", mean)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
