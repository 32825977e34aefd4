package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/state"
	"github.com/xraph/stockpile/state/memory"
)

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	storeID := id.NewStoreID()

	rec := &state.Record{StoreID: storeID, Kind: "multi", Data: []byte{1, 2, 3}, Version: 1}
	if err := s.SaveState(ctx, rec); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	rec.Data[0] = 9

	got, err := s.LoadState(ctx, storeID)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got.Data[0] != 1 {
		t.Errorf("Data: got %v, want a copy of [1 2 3]", got.Data)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}

	created := got.CreatedAt
	rec.Version = 2
	if err := s.SaveState(ctx, rec); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	got, err = s.LoadState(ctx, storeID)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("Version: got %d, want 2", got.Version)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt: got %v, want %v", got.CreatedAt, created)
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	if _, err := s.LoadState(ctx, id.NewStoreID()); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("LoadState: got %v, want ErrNotFound", err)
	}
	if err := s.DeleteState(ctx, id.NewStoreID()); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("DeleteState: got %v, want ErrNotFound", err)
	}
}

func TestListStates(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	kinds := []string{"multi", "single", "multi", "multi"}
	for _, k := range kinds {
		if err := s.SaveState(ctx, &state.Record{StoreID: id.NewStoreID(), Kind: k}); err != nil {
			t.Fatalf("SaveState: %v", err)
		}
	}

	tests := []struct {
		name string
		opts state.ListOpts
		want int
	}{
		{"all", state.ListOpts{}, 4},
		{"by kind", state.ListOpts{Kind: "multi"}, 3},
		{"limit", state.ListOpts{Limit: 2}, 2},
		{"offset", state.ListOpts{Offset: 3}, 1},
		{"offset past end", state.ListOpts{Offset: 10}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListStates(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListStates: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("ListStates: got %d records, want %d", len(got), tt.want)
			}
			for i := 1; i < len(got); i++ {
				if got[i-1].StoreID.String() > got[i].StoreID.String() {
					t.Errorf("ListStates: not ordered by store ID")
				}
			}
		})
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, state.ErrClosed) {
		t.Errorf("Ping: got %v, want ErrClosed", err)
	}
	if err := s.SaveState(ctx, &state.Record{StoreID: id.NewStoreID()}); !errors.Is(err, state.ErrClosed) {
		t.Errorf("SaveState: got %v, want ErrClosed", err)
	}
}
