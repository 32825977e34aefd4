package stockpile

import "github.com/xraph/stockpile/id"

// ID is the identifier type of stores and scopes.
type ID = id.ID

// StoreID identifies an article store.
type StoreID = id.StoreID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

// NewStoreID returns a fresh store identifier.
func NewStoreID() StoreID { return id.NewStoreID() }

// ParseStoreID parses a store identifier, rejecting other prefixes.
func ParseStoreID(s string) (StoreID, error) { return id.ParseStoreID(s) }
