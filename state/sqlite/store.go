// Package sqlite is a state.Repository on SQLite via the grove ORM.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/state"
)

// compile-time interface check
var _ state.Repository = (*Store)(nil)

type stateModel struct {
	grove.BaseModel `grove:"table:stockpile_store_states"`

	StoreID   string    `grove:"store_id,pk"`
	Kind      string    `grove:"kind"`
	Data      []byte    `grove:"data"`
	Version   int64     `grove:"version"`
	Count     string    `grove:"count"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toStateModel(r *state.Record) *stateModel {
	return &stateModel{
		StoreID:   r.StoreID.String(),
		Kind:      r.Kind,
		Data:      r.Data,
		Version:   r.Version,
		Count:     r.Count,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func fromStateModel(m *stateModel) (*state.Record, error) {
	storeID, err := id.ParseStoreID(m.StoreID)
	if err != nil {
		return nil, err
	}
	r := &state.Record{
		StoreID: storeID,
		Kind:    m.Kind,
		Data:    m.Data,
		Version: m.Version,
		Count:   m.Count,
	}
	r.CreatedAt = m.CreatedAt
	r.UpdatedAt = m.UpdatedAt
	return r, nil
}

// Store implements state.Repository using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite repository backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("stockpile/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("stockpile/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveState(ctx context.Context, r *state.Record) error {
	m := toStateModel(r)
	t := now()
	m.UpdatedAt = t
	if m.CreatedAt.IsZero() {
		m.CreatedAt = t
	}
	_, err := s.sdb.NewInsert(m).
		OnConflict("(store_id) DO UPDATE").
		Set("kind = EXCLUDED.kind").
		Set("data = EXCLUDED.data").
		Set("version = EXCLUDED.version").
		Set("count = EXCLUDED.count").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stockpile/sqlite: save state: %w", err)
	}
	return nil
}

func (s *Store) LoadState(ctx context.Context, storeID id.StoreID) (*state.Record, error) {
	m := new(stateModel)
	err := s.sdb.NewSelect(m).
		Where("store_id = ?", storeID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, state.ErrNotFound
		}
		return nil, fmt.Errorf("stockpile/sqlite: load state: %w", err)
	}
	return fromStateModel(m)
}

func (s *Store) DeleteState(ctx context.Context, storeID id.StoreID) error {
	res, err := s.sdb.NewDelete((*stateModel)(nil)).
		Where("store_id = ?", storeID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stockpile/sqlite: delete state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return state.ErrNotFound
	}
	return nil
}

func (s *Store) ListStates(ctx context.Context, opts state.ListOpts) ([]*state.Record, error) {
	var models []stateModel
	q := s.sdb.NewSelect(&models)

	if opts.Kind != "" {
		q = q.Where("kind = ?", opts.Kind)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("store_id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("stockpile/sqlite: list states: %w", err)
	}

	result := make([]*state.Record, len(models))
	for i := range models {
		r, err := fromStateModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
