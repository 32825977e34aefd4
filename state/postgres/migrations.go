package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the state repository (PostgreSQL).
var Migrations = migrate.NewGroup("stockpile")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_stockpile_store_states",
			Version: "20260901000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS stockpile_store_states (
    store_id   TEXT PRIMARY KEY,
    kind       TEXT NOT NULL DEFAULT '',
    data       BYTEA NOT NULL,
    version    BIGINT NOT NULL DEFAULT 0,
    count      TEXT NOT NULL DEFAULT '0',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_stockpile_states_kind ON stockpile_store_states (kind);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS stockpile_store_states`)
				return err
			},
		},
	)
}
