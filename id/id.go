// Package id defines TypeID-based identifiers for stores and scopes.
//
// IDs are K-sortable (UUIDv7-based), globally unique and URL-safe in the
// format "prefix_suffix", so persisted store state can be keyed by them and
// listed in creation order.
package id

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

const (
	PrefixStore Prefix = "store" // article store (single, multi or aggregate)
	PrefixScope Prefix = "txn"   // transaction scope
)

// ID is a validated TypeID held in its canonical text form. The zero value
// is Nil. IDs are comparable with ==.
//
//nolint:recvcheck // UnmarshalText and Scan need pointer receivers.
type ID struct {
	text   string
	prefix Prefix
}

// Nil is the zero-value ID.
var Nil ID

// StoreID identifies a store.
type StoreID = ID

// ScopeID identifies a transaction scope.
type ScopeID = ID

// New generates an ID with the given prefix. An invalid prefix is a
// programming error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{text: tid.String(), prefix: prefix}
}

// NewStoreID generates a store ID.
func NewStoreID() StoreID { return New(PrefixStore) }

// NewScopeID generates a scope ID.
func NewScopeID() ScopeID { return New(PrefixScope) }

// Parse parses any TypeID, e.g. "store_01h2xcejqtf2nbrexx3vqjhp41".
func Parse(s string) (ID, error) { return parse(s, "") }

// ParseStoreID parses s and requires the store prefix.
func ParseStoreID(s string) (StoreID, error) { return parse(s, PrefixStore) }

// ParseScopeID parses s and requires the scope prefix.
func ParseScopeID(s string) (ScopeID, error) { return parse(s, PrefixScope) }

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	i, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return i
}

func parse(s string, want Prefix) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	got := Prefix(tid.Prefix())
	if want != "" && got != want {
		return Nil, fmt.Errorf("id: parse %q: want prefix %q, got %q", s, want, got)
	}
	return ID{text: tid.String(), prefix: got}, nil
}

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string { return i.text }

// Prefix returns the entity prefix, or "" for Nil.
func (i ID) Prefix() Prefix { return i.prefix }

// IsNil reports whether i is the zero value.
func (i ID) IsNil() bool { return i.text == "" }

// Compare orders IDs by prefix, then by generation time. Nil sorts first.
func (i ID) Compare(o ID) int { return strings.Compare(i.text, o.text) }

// MarshalText implements encoding.TextMarshaler. Nil encodes as empty.
func (i ID) MarshalText() ([]byte, error) { return []byte(i.text), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if i.IsNil() {
		return nil, nil //nolint:nilnil // NULL for driver.Valuer
	}
	return i.text, nil
}

// Scan implements sql.Scanner. NULL and empty values scan to Nil.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
