// Package mongo is a state.Repository on MongoDB via the grove ORM.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/state"
)

const colStates = "stockpile_store_states"

// compile-time interface check
var _ state.Repository = (*Store)(nil)

// Store implements state.Repository using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB repository backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the collection indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("stockpile/mongo: migrate %s indexes: %w", col, err)
		}
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
	if m.CreatedAt.IsZero() {
		m.CreatedAt = t
	}

	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.StoreID}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"kind":       m.Kind,
				"data":       m.Data,
				"version":    m.Version,
				"count":      m.Count,
				"updated_at": t,
			},
			"$setOnInsert": bson.M{"created_at": m.CreatedAt},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stockpile/mongo: save state: %w", err)
	}
	return nil
}

func (s *Store) LoadState(ctx context.Context, storeID id.StoreID) (*state.Record, error) {
	var m stateModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": storeID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, state.ErrNotFound
		}
		return nil, fmt.Errorf("stockpile/mongo: load state: %w", err)
	}
	return fromStateModel(&m)
}

func (s *Store) DeleteState(ctx context.Context, storeID id.StoreID) error {
	res, err := s.mdb.NewDelete((*stateModel)(nil)).
		Filter(bson.M{"_id": storeID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stockpile/mongo: delete state: %w", err)
	}
	if res.DeletedCount() == 0 {
		return state.ErrNotFound
	}
	return nil
}

func (s *Store) ListStates(ctx context.Context, opts state.ListOpts) ([]*state.Record, error) {
	var models []stateModel

	filter := bson.M{}
	if opts.Kind != "" {
		filter["kind"] = opts.Kind
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("stockpile/mongo: list states: %w", err)
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

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for the state collection.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colStates: {
			{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "_id", Value: 1}}},
			{
				Keys:    bson.D{{Key: "updated_at", Value: -1}},
				Options: options.Index().SetName("idx_stockpile_states_updated"),
			},
		},
	}
}
