package store

import (
	"fmt"
	"iter"

	"github.com/fxamacker/cbor/v2"

	"github.com/xraph/stockpile/types"
)

// State kinds written into blobs.
const (
	StateKindSingle = "single"
	StateKindMulti  = "multi"
)

const stateFormat = 1

var stateEncoding = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("store: cbor encoding options: %v", err))
	}
	return em
}

type articleRecord struct {
	_      struct{} `cbor:",toarray"`
	Name   string
	Kind   uint8
	Tag    string
	Amount types.Fraction
}

type stateBlob struct {
	Format   uint8           `cbor:"1,keyasint"`
	Kind     string          `cbor:"2,keyasint"`
	Capacity types.Fraction  `cbor:"3,keyasint"`
	Articles []articleRecord `cbor:"4,keyasint,omitempty"`
}

// StateKind returns the blob kind a store writes, or "" for stores that
// cannot be persisted.
func StateKind(s Store) string {
	switch s.(type) {
	case *SingleArticleStore:
		return StateKindSingle
	case *MultiArticleStore:
		return StateKindMulti
	default:
		return ""
	}
}

func encodeState(kind string, capacity types.Fraction, contents iter.Seq[ArticleView]) ([]byte, error) {
	blob := stateBlob{Format: stateFormat, Kind: kind, Capacity: capacity}
	for v := range contents {
		t := v.Article.Type()
		blob.Articles = append(blob.Articles, articleRecord{
			Name:   t.Name(),
			Kind:   uint8(t.Kind()),
			Tag:    v.Article.Tag(),
			Amount: v.Amount,
		})
	}
	data, err := stateEncoding.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("store: encode %s state: %w", kind, err)
	}
	return data, nil
}

type decodedEntry struct {
	article types.Article
	amount  types.Fraction
}

// decodeState parses and validates a blob written by encodeState.
func decodeState(data []byte, kind string) (types.Fraction, []decodedEntry, error) {
	var blob stateBlob
	if err := cbor.Unmarshal(data, &blob); err != nil {
		return types.ZeroFraction, nil, fmt.Errorf("%w: %w", ErrCorruptState, err)
	}
	if blob.Format != stateFormat {
		return types.ZeroFraction, nil, fmt.Errorf("%w: unknown format %d", ErrCorruptState, blob.Format)
	}
	if blob.Kind != kind {
		return types.ZeroFraction, nil, fmt.Errorf("%w: kind %q, want %q", ErrCorruptState, blob.Kind, kind)
	}
	if blob.Capacity.IsNegative() {
		return types.ZeroFraction, nil, fmt.Errorf("%w: negative capacity", ErrCorruptState)
	}

	total := types.ZeroFraction
	seen := make(map[types.Article]struct{}, len(blob.Articles))
	entries := make([]decodedEntry, 0, len(blob.Articles))
	for _, rec := range blob.Articles {
		a := types.ArticleOf(rec.Name, types.Kind(rec.Kind), rec.Tag)
		if a.IsNothing() || !rec.Amount.IsPositive() {
			return types.ZeroFraction, nil, fmt.Errorf("%w: invalid entry %q", ErrCorruptState, rec.Name)
		}
		if _, dup := seen[a]; dup {
			return types.ZeroFraction, nil, fmt.Errorf("%w: duplicate article %s", ErrCorruptState, a)
		}
		seen[a] = struct{}{}
		sum, err := total.CheckedAdd(rec.Amount)
		if err != nil {
			return types.ZeroFraction, nil, fmt.Errorf("%w: %w", ErrCorruptState, err)
		}
		total = sum
		entries = append(entries, decodedEntry{article: a, amount: rec.Amount})
	}
	if total.GreaterThan(blob.Capacity) {
		return types.ZeroFraction, nil, fmt.Errorf("%w: count %s exceeds capacity %s", ErrCorruptState, total, blob.Capacity)
	}
	return blob.Capacity, entries, nil
}
