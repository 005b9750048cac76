package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT '',
	profile       JSONB NOT NULL DEFAULT '{}'::jsonb,
	shared_with   TEXT[] NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS users_shared_with_idx ON users USING GIN (shared_with);
CREATE INDEX IF NOT EXISTS users_role_created_idx ON users (role, created_at);

CREATE TABLE IF NOT EXISTS verification_codes (
	email      TEXT PRIMARY KEY,
	code       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS verification_codes_created_idx ON verification_codes (created_at);
`

// EnsureSchema creates the tables if they are missing. Safe to run on
// every start.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
