package id_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/xraph/stockpile/id"
)

func TestNewAndParse(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
		prefix  id.Prefix
	}{
		{"store", id.NewStoreID, id.ParseStoreID, id.PrefixStore},
		{"scope", id.NewScopeID, id.ParseScopeID, id.PrefixScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			if !strings.HasPrefix(original.String(), string(tt.prefix)+"_") {
				t.Errorf("String: got %q, want prefix %q", original, tt.prefix)
			}
			if original.Prefix() != tt.prefix {
				t.Errorf("Prefix: got %q, want %q", original.Prefix(), tt.prefix)
			}

			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if parsed != original {
				t.Errorf("parsed: got %v, want %v", parsed, original)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name  string
		parse func(string) (id.ID, error)
		in    string
	}{
		{"empty", id.Parse, ""},
		{"malformed", id.Parse, "not an id"},
		{"scope as store", id.ParseStoreID, id.NewScopeID().String()},
		{"store as scope", id.ParseScopeID, id.NewStoreID().String()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.parse(tt.in)
			if err == nil {
				t.Fatalf("parse %q: got nil error", tt.in)
			}
			if !got.IsNil() {
				t.Errorf("parse %q: got %v, want Nil", tt.in, got)
			}
		})
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustParse: no panic for a malformed id")
		}
	}()
	_ = id.MustParse("not an id")
}

func TestNil(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("IsNil: got false for the zero value")
	}
	if i.String() != "" || i.Prefix() != "" {
		t.Errorf("zero value: got %q/%q, want empty", i.String(), i.Prefix())
	}
	if i != id.Nil {
		t.Error("zero value differs from Nil")
	}
}

func TestCompare(t *testing.T) {
	ids := []id.ID{id.NewStoreID(), id.NewScopeID(), id.Nil, id.NewStoreID()}
	slices.SortFunc(ids, id.ID.Compare)
	if !ids[0].IsNil() {
		t.Errorf("first: got %v, want Nil", ids[0])
	}
	if ids[1].Prefix() != id.PrefixStore || ids[3].Prefix() != id.PrefixScope {
		t.Errorf("prefix order: got %v", ids)
	}
	if c := ids[1].Compare(ids[1]); c != 0 {
		t.Errorf("self compare: got %d, want 0", c)
	}
	if ids[1].Compare(ids[2]) != -ids[2].Compare(ids[1]) {
		t.Error("Compare is not antisymmetric")
	}
}

func TestTextAndSQLRoundTrip(t *testing.T) {
	original := id.NewStoreID()

	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var fromText id.ID
	if err := fromText.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if fromText != original {
		t.Errorf("text: got %v, want %v", fromText, original)
	}

	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	var scanned id.ID
	if err := scanned.Scan(val); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if scanned != original {
		t.Errorf("scan: got %v, want %v", scanned, original)
	}

	if v, _ := id.Nil.Value(); v != nil {
		t.Errorf("Nil Value: got %v, want nil", v)
	}
	for _, src := range []any{nil, "", []byte{}} {
		if err := scanned.Scan(src); err != nil || !scanned.IsNil() {
			t.Errorf("Scan(%#v): got err %v, nil %v", src, err, scanned.IsNil())
		}
	}
	if err := scanned.Scan(42); err == nil {
		t.Error("Scan(int): got nil error")
	}
}
