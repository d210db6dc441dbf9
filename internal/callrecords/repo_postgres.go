package callrecords

import (
	"context"
	"database/sql"
	"fmt"
)

// NOTE: This repository assumes the following table exists:
//
// CREATE TABLE call_records (
//   id               UUID PRIMARY KEY,
//   workspace_id     UUID NOT NULL,
//   contact_id       UUID,
//   direction        TEXT NOT NULL,
//   number           TEXT NOT NULL,
//   status           TEXT NOT NULL,
//   started_at       TIMESTAMPTZ NOT NULL,
//   answered_at      TIMESTAMPTZ,
//   ended_at         TIMESTAMPTZ,
//   duration_seconds INT NOT NULL DEFAULT 0,
//   created_at       TIMESTAMPTZ NOT NULL,
//   updated_at       TIMESTAMPTZ NOT NULL
// );
// CREATE INDEX ON call_records (workspace_id, started_at DESC);

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Insert(ctx context.Context, rec CallRecord) error {
	const q = `
INSERT INTO call_records (
  id, workspace_id, contact_id, direction, number, status,
  started_at, answered_at, ended_at, duration_seconds, created_at, updated_at
) VALUES (
  $1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12
)
`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID,
		rec.WorkspaceID,
		rec.ContactID,
		rec.Direction,
		rec.Number,
		rec.Status,
		rec.StartedAt,
		rec.AnsweredAt,
		rec.EndedAt,
		rec.DurationSeconds,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Finalize(ctx context.Context, workspaceID, id string, fin Finalization) error {
	const q = `
UPDATE call_records
SET status = $3,
    answered_at = COALESCE($4, answered_at),
    ended_at = $5,
    duration_seconds = $6,
    updated_at = $5
WHERE workspace_id = $1 AND id = $2
`
	res, err := r.db.ExecContext(ctx, q, workspaceID, id, fin.Status, fin.AnsweredAt, fin.EndedAt, fin.DurationSeconds)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context, workspaceID string, f ListFilter) ([]CallRecord, error) {
	q := `
SELECT id, workspace_id, COALESCE(contact_id::text, ''), direction, number, status,
       started_at, answered_at, ended_at, duration_seconds, created_at, updated_at
FROM call_records
WHERE workspace_id = $1
`
	args := []any{workspaceID}
	if f.ContactID != "" {
		args = append(args, f.ContactID)
		q += fmt.Sprintf(" AND contact_id = $%d", len(args))
	}
	if f.Direction != "" {
		args = append(args, f.Direction)
		q += fmt.Sprintf(" AND direction = $%d", len(args))
	}
	args = append(args, f.Limit)
	q += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var rec CallRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.WorkspaceID,
			&rec.ContactID,
			&rec.Direction,
			&rec.Number,
			&rec.Status,
			&rec.StartedAt,
			&rec.AnsweredAt,
			&rec.EndedAt,
			&rec.DurationSeconds,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
