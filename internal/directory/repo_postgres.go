package directory

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresLookup reads the users table owned by the identity service.
//
// Assumed columns: id TEXT PK, display_name TEXT, role TEXT,
// is_online BOOLEAN, last_seen_at TIMESTAMPTZ.

type PostgresLookup struct {
	db *sql.DB
}

func NewPostgresLookup(db *sql.DB) *PostgresLookup { return &PostgresLookup{db: db} }

func (l *PostgresLookup) Profile(ctx context.Context, identity string) (Profile, error) {
	const q = `
SELECT id, display_name, role
FROM users
WHERE id = $1
`
	var p Profile
	if err := l.db.QueryRowContext(ctx, q, identity).Scan(&p.Identity, &p.DisplayName, &p.Role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}
	return p, nil
}

func (l *PostgresLookup) IsAdmin(ctx context.Context, identity string) (bool, error) {
	p, err := l.Profile(ctx, identity)
	if err != nil {
		return false, err
	}
	return isAdminRole(p.Role), nil
}

func (l *PostgresLookup) DisplayName(ctx context.Context, identity string) (string, error) {
	p, err := l.Profile(ctx, identity)
	if err != nil {
		return "", err
	}
	return p.DisplayName, nil
}

func (l *PostgresLookup) IsReachable(ctx context.Context, identity string) (bool, error) {
	const q = `
SELECT is_online
FROM users
WHERE id = $1
`
	var online bool
	if err := l.db.QueryRowContext(ctx, q, identity).Scan(&online); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	return online, nil
}

func (l *PostgresLookup) SetLiveness(ctx context.Context, identity string, online bool, at time.Time) error {
	const q = `
UPDATE users
SET is_online = $1, last_seen_at = $2
WHERE id = $3
`
	_, err := l.db.ExecContext(ctx, q, online, at, identity)
	return err
}
