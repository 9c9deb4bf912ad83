package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads audit_logs from Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the audit repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const timelineQuery = `SELECT a.id, a.occurred_at, a.actor_id, COALESCE(u.email, ''), a.action, a.entity, a.entity_id, a.meta
FROM audit_logs a
LEFT JOIN users u ON u.id = a.actor_id
WHERE ($1::timestamptz IS NULL OR a.occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR a.occurred_at < $2)
  AND ($3::bigint IS NULL OR a.actor_id = $3)
  AND ($4::text IS NULL OR a.entity = $4)
  AND ($5::text IS NULL OR a.action = $5)
ORDER BY a.occurred_at DESC, a.id DESC`

// Window returns one page of the timeline.
func (r *PGRepository) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	args := filterArgs(filters)
	args = append(args, offset, limit)
	rows, err := r.pool.Query(ctx, timelineQuery+` OFFSET $6 LIMIT $7`, args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

// All returns the whole filtered timeline.
func (r *PGRepository) All(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, timelineQuery, filterArgs(filters)...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

func filterArgs(f TimelineFilters) []any {
	actor := pgtype.Int8{}
	if f.ActorID > 0 {
		actor = pgtype.Int8{Int64: f.ActorID, Valid: true}
	}
	// The upper bound is a date, so the whole day is included.
	to := toPgTime(f.To)
	if to.Valid {
		to.Time = to.Time.Add(24 * time.Hour)
	}
	return []any{toPgTime(f.From), to, actor, optionalText(f.Entity), optionalText(f.Action)}
}

func collectRows(rows pgx.Rows) ([]TimelineRow, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var (
			out   TimelineRow
			actor pgtype.Int8
			meta  []byte
		)
		if err := row.Scan(&out.ID, &out.At, &actor, &out.ActorEmail, &out.Action, &out.Entity, &out.EntityID, &meta); err != nil {
			return TimelineRow{}, err
		}
		if actor.Valid {
			out.ActorID = actor.Int64
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &out.Meta); err != nil {
				return TimelineRow{}, err
			}
		}
		return out, nil
	})
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
