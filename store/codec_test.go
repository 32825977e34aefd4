package store

import (
	"bytes"
	"context"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/xraph/stockpile/types"
)

func TestMultiStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := NewMultiArticleStore(types.Whole(50))
	mustAccept(t, ctx, src, ore, types.Whole(12))
	mustAccept(t, ctx, src, water, types.Of(2, 3))
	mustAccept(t, ctx, src, types.ArticleOf("ore", types.Discrete, "rich"), types.Whole(1))

	blob, err := src.WriteState()
	if err != nil {
		t.Fatalf("WriteState: %v", err)
	}
	again, err := src.WriteState()
	if err != nil {
		t.Fatalf("WriteState: %v", err)
	}
	if !bytes.Equal(blob, again) {
		t.Error("WriteState: encoding is not deterministic")
	}

	dst := NewMultiArticleStore(types.Whole(5))
	mustAccept(t, ctx, dst, oil, types.Whole(5))
	m := newMirror(t)
	dst.StartListening(m, true)

	if err := dst.ReadState(blob); err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	want := stateOf(src, ore, water, oil, types.ArticleOf("ore", types.Discrete, "rich"))
	if got := stateOf(dst, ore, water, oil, types.ArticleOf("ore", types.Discrete, "rich")); !got.equal(want) {
		t.Errorf("state: got %+v, want %+v", got, want)
	}
	if !m.matches(dst) {
		t.Errorf("mirror: %v does not match store", m.amounts)
	}
}

func TestReadStateRejectsCorruptBlobs(t *testing.T) {
	over, err := encodeState(StateKindMulti, types.Whole(1), slices.Values([]ArticleView{
		{Article: ore, Amount: types.Whole(5)},
	}))
	if err != nil {
		t.Fatalf("encodeState: %v", err)
	}
	dup, err := encodeState(StateKindMulti, types.Whole(10), slices.Values([]ArticleView{
		{Article: ore, Amount: types.Whole(1)},
		{Article: ore, Amount: types.Whole(2)},
	}))
	if err != nil {
		t.Fatalf("encodeState: %v", err)
	}
	overflowSum, err := encodeState(StateKindMulti, types.Whole(math.MaxInt64), slices.Values([]ArticleView{
		{Article: ore, Amount: types.Whole(math.MaxInt64)},
		{Article: water, Amount: types.Whole(1)},
	}))
	if err != nil {
		t.Fatalf("encodeState: %v", err)
	}
	outOfRange, err := cbor.Marshal(map[int]any{
		1: stateFormat,
		2: StateKindMulti,
		3: [3]int64{math.MaxInt64, math.MaxInt64 - 1, 2},
	})
	if err != nil {
		t.Fatalf("cbor.Marshal: %v", err)
	}
	single, err := NewSingleArticleStore(types.Whole(1)).WriteState()
	if err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	tests := []struct {
		name string
		blob []byte
	}{
		{"garbage", []byte("not cbor")},
		{"over capacity", over},
		{"duplicate article", dup},
		{"wrong kind", single},
		{"count overflows", overflowSum},
		{"capacity out of range", outOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMultiArticleStore(types.Whole(10))
			if err := s.ReadState(tt.blob); !errors.Is(err, ErrCorruptState) {
				t.Errorf("ReadState: got %v, want ErrCorruptState", err)
			}
		})
	}
}

func TestStateKind(t *testing.T) {
	tests := []struct {
		name  string
		store Store
		want  string
	}{
		{"single", NewSingleArticleStore(types.Whole(1)), StateKindSingle},
		{"multi", NewMultiArticleStore(types.Whole(1)), StateKindMulti},
		{"aggregate", NewAggregateStore(), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StateKind(tt.store); got != tt.want {
				t.Errorf("StateKind: got %q, want %q", got, tt.want)
			}
		})
	}
}
