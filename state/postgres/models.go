package postgres

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/state"
)

type stateModel struct {
	grove.BaseModel `grove:"table:stockpile_store_states"`

	StoreID   string    `grove:"store_id,pk"`
	Kind      string    `grove:"kind"`
	Data      []byte    `grove:"data,type:bytea"`
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
