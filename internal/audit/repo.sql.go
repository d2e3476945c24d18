package audit

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads the decision log from Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a PGRepository over a pool.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const timelineSelect = `
	SELECT checked_at, user_id, code, allowed, reason, resource, resource_id, action, ip, endpoint
	FROM permission_audit_logs
	WHERE ($1::timestamptz IS NULL OR checked_at >= $1)
	  AND ($2::timestamptz IS NULL OR checked_at < $2)
	  AND ($3::uuid IS NULL OR user_id = $3)
	  AND ($4::text IS NULL OR code = $4)
	  AND ($5::text IS NULL OR split_part(code, '.', 1) = $5)
	  AND ($6::boolean IS NULL OR allowed = $6)
	ORDER BY checked_at DESC`

// Window returns one page, newest first.
func (r *PGRepository) Window(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	args := filterArgs(filters)
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, timelineSelect+" LIMIT $7 OFFSET $8", args...)
	if err != nil {
		return nil, err
	}
	return scanTimeline(rows)
}

// All returns every matching row, newest first.
func (r *PGRepository) All(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, timelineSelect, filterArgs(filters)...)
	if err != nil {
		return nil, err
	}
	return scanTimeline(rows)
}

func filterArgs(f TimelineFilters) []any {
	var userID *uuid.UUID
	if f.UserID != uuid.Nil {
		userID = &f.UserID
	}
	var from, to pgtype.Timestamptz
	if !f.From.IsZero() {
		from = pgtype.Timestamptz{Time: f.From, Valid: true}
	}
	if !f.To.IsZero() {
		to = pgtype.Timestamptz{Time: f.To, Valid: true}
	}
	var allowed pgtype.Bool
	if f.Allowed != nil {
		allowed = pgtype.Bool{Bool: *f.Allowed, Valid: true}
	}
	return []any{from, to, userID, optionalText(f.Code), optionalText(f.Module), allowed}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

func scanTimeline(rows pgx.Rows) ([]TimelineRow, error) {
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		if err := rows.Scan(&row.At, &row.UserID, &row.Code, &row.Allowed, &row.Reason,
			&row.Resource, &row.ResourceID, &row.Action, &row.IP, &row.Endpoint); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
