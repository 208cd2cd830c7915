package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo persists call records.
//
// Assumed schema:
//
//	CREATE TABLE call_records (
//	    id               TEXT PRIMARY KEY,
//	    caller_id        TEXT NOT NULL,
//	    receiver_id      TEXT,
//	    status           TEXT NOT NULL,
//	    call_type        TEXT NOT NULL,
//	    start_time       TIMESTAMPTZ NOT NULL,
//	    end_time         TIMESTAMPTZ,
//	    duration_seconds INT NOT NULL DEFAULT 0,
//	    created_at       TIMESTAMPTZ NOT NULL,
//	    updated_at       TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX call_records_caller_status_idx ON call_records (caller_id, status, created_at DESC);
//
// Conditional status transitions are expressed as WHERE guards on the current
// status, so concurrent writers race on a single UPDATE and exactly one wins.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const recordColumns = `id, caller_id, COALESCE(receiver_id, ''), status, call_type, start_time, end_time, duration_seconds, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var rec Record
	var end sql.NullTime
	err := row.Scan(
		&rec.ID,
		&rec.CallerID,
		&rec.ReceiverID,
		&rec.Status,
		&rec.Type,
		&rec.StartTime,
		&end,
		&rec.DurationSeconds,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	if end.Valid {
		t := end.Time
		rec.EndTime = &t
	}
	return rec, nil
}

func (r *PostgresRepo) Create(ctx context.Context, rec Record) error {
	const q = `
INSERT INTO call_records (id, caller_id, receiver_id, status, call_type, start_time, end_time, duration_seconds, created_at, updated_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULL, 0, $7, $7)
`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID,
		rec.CallerID,
		rec.ReceiverID,
		rec.Status,
		rec.Type,
		rec.StartTime,
		rec.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) FindByID(ctx context.Context, id string) (Record, bool, error) {
	q := `SELECT ` + recordColumns + ` FROM call_records WHERE id = $1`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

func (r *PostgresRepo) SetAnswered(ctx context.Context, id, receiverID string, answeredAt time.Time) (bool, error) {
	const q = `
UPDATE call_records
SET status = $1, receiver_id = $2, start_time = $3, updated_at = $3
WHERE id = $4 AND status = $5
`
	res, err := r.db.ExecContext(ctx, q, StatusOngoing, receiverID, answeredAt, id, StatusMissed)
	if err != nil {
		return false, err
	}
	return oneRowChanged(res)
}

func (r *PostgresRepo) SetStatusIfMissed(ctx context.Context, id string, to Status, at time.Time) (bool, error) {
	if !StatusMissed.CanTransition(to) {
		return false, nil
	}
	const q = `
UPDATE call_records
SET status = $1, updated_at = $2
WHERE id = $3 AND status = $4
`
	res, err := r.db.ExecContext(ctx, q, to, at, id, StatusMissed)
	if err != nil {
		return false, err
	}
	return oneRowChanged(res)
}

func (r *PostgresRepo) SetCompleted(ctx context.Context, id string, endedAt time.Time, durationSeconds int) (bool, error) {
	const q = `
UPDATE call_records
SET status = $1, end_time = $2, duration_seconds = $3, updated_at = $2
WHERE id = $4 AND status = $5
`
	res, err := r.db.ExecContext(ctx, q, StatusCompleted, endedAt, durationSeconds, id, StatusOngoing)
	if err != nil {
		return false, err
	}
	return oneRowChanged(res)
}

func (r *PostgresRepo) LatestMissedByCaller(ctx context.Context, callerID string, notBefore time.Time) (Record, bool, error) {
	q := `
SELECT ` + recordColumns + `
FROM call_records
WHERE caller_id = $1 AND status = $2 AND ($3::timestamptz IS NULL OR created_at >= $3)
ORDER BY created_at DESC
LIMIT 1
`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, callerID, StatusMissed, nullableTime(notBefore)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

func (r *PostgresRepo) LatestMissedByEitherCaller(ctx context.Context, a, b string, notBefore time.Time) (Record, bool, error) {
	q := `
SELECT ` + recordColumns + `
FROM call_records
WHERE (caller_id = $1 OR ($2 <> '' AND caller_id = $2))
  AND status = $3
  AND ($4::timestamptz IS NULL OR created_at >= $4)
ORDER BY created_at DESC
LIMIT 1
`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, a, b, StatusMissed, nullableTime(notBefore)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

func (r *PostgresRepo) LatestOngoingByParticipant(ctx context.Context, a, b string, notBefore time.Time) (Record, bool, error) {
	q := `
SELECT ` + recordColumns + `
FROM call_records
WHERE (caller_id = $1 OR receiver_id = $1 OR ($2 <> '' AND (caller_id = $2 OR receiver_id = $2)))
  AND status = $3
  AND ($4::timestamptz IS NULL OR created_at >= $4)
ORDER BY created_at DESC
LIMIT 1
`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, a, b, StatusOngoing, nullableTime(notBefore)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

func (r *PostgresRepo) ListNonTerminal(ctx context.Context) ([]Record, error) {
	q := `
SELECT ` + recordColumns + `
FROM call_records
WHERE status IN ($1, $2)
ORDER BY created_at DESC
`
	return r.queryRecords(ctx, q, StatusMissed, StatusOngoing)
}

func (r *PostgresRepo) List(ctx context.Context, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
SELECT ` + recordColumns + `
FROM call_records
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`
	return r.queryRecords(ctx, q, limit, offset)
}

func (r *PostgresRepo) ListBetween(ctx context.Context, from, to time.Time) ([]Record, error) {
	q := `
SELECT ` + recordColumns + `
FROM call_records
WHERE created_at >= $1 AND created_at < $2
ORDER BY created_at DESC
`
	return r.queryRecords(ctx, q, from, to)
}

func (r *PostgresRepo) queryRecords(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func oneRowChanged(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
