package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the state repository (SQLite).
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
    data       BLOB NOT NULL,
    version    INTEGER NOT NULL DEFAULT 0,
    count      TEXT NOT NULL DEFAULT '0',
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
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
