package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/passport/internal/jobs"
)

// TokenRevoker deletes a user's tokens. *auth.TokenStore implements it.
type TokenRevoker interface {
	RevokeAll(ctx context.Context, userID int64) (int, error)
}

// RevokeUserTokensJob forces a user to re-authenticate.
type RevokeUserTokensJob struct {
	Tokens  TokenRevoker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRevokeUserTokensJob initialises the revocation handler.
func NewRevokeUserTokensJob(tokens TokenRevoker, logger *slog.Logger, metrics *jobmetrics.Metrics) *RevokeUserTokensJob {
	return &RevokeUserTokensJob{Tokens: tokens, Logger: logger, Metrics: metrics}
}

// Handle executes the revocation.
func (j *RevokeUserTokensJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Tokens == nil {
		return errors.New("revoke user tokens: handler not configured")
	}
	var payload RevokeUserTokensPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.UserID <= 0 {
		return fmt.Errorf("revoke user tokens: bad payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskRevokeUserTokens)
	n, err := j.Tokens.RevokeAll(ctx, payload.UserID)
	if err != nil {
		j.logger().Error("revoke user tokens failed", slog.Int64("user_id", payload.UserID), slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddRevokedTokens(n)
	j.logger().Info("revoked user tokens",
		slog.Int64("user_id", payload.UserID),
		slog.Int("revoked", n),
		slog.String("reason", payload.Reason))
	return tracker.End(nil)
}

func (j *RevokeUserTokensJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
