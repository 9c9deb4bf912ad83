package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcileBaseline re-applies the RBAC baseline catalogue.
	TaskReconcileBaseline = "rbac:reconcile-baseline"
	// TaskRevokeUserTokens deletes every bearer token of one user.
	TaskRevokeUserTokens = "auth:revoke-user-tokens"
)

// ReconcileBaselinePayload carries scheduling metadata.
type ReconcileBaselinePayload struct {
	RequestedAt time.Time `json:"requested_at"`
	Source      string    `json:"source,omitempty"`
}

// RevokeUserTokensPayload names the user whose tokens are revoked.
type RevokeUserTokensPayload struct {
	UserID int64  `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

// NewReconcileBaselineTask constructs an Asynq task for baseline reconciliation.
func NewReconcileBaselineTask(at time.Time, source string) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcileBaselinePayload{RequestedAt: at, Source: source})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileBaseline, body, asynq.Queue(QueueDefault)), nil
}

// NewRevokeUserTokensTask constructs an Asynq task for token revocation.
func NewRevokeUserTokensTask(payload RevokeUserTokensPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRevokeUserTokens, body, asynq.Queue(QueueDefault), asynq.MaxRetry(10)), nil
}
