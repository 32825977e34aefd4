// Package types provides the value types shared across stockpile: exact
// Fraction quantities, Articles and persisted-record timestamps.
package types

import "time"

// Entity carries timestamps for persisted records.
// Embed this in records to get automatic timestamp handling.
type Entity struct {
	CreatedAt time.Time `json:"created_at" grove:"created_at,notnull"`
	UpdatedAt time.Time `json:"updated_at" grove:"updated_at,notnull"`
}

// NewEntity creates a new Entity with current timestamps.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch updates the UpdatedAt timestamp to now.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}

// LastModified returns how long ago the record was last updated.
func (e Entity) LastModified() time.Duration {
	return time.Since(e.UpdatedAt)
}

// IsStale returns true if the record hasn't been updated in the specified duration.
func (e Entity) IsStale(staleDuration time.Duration) bool {
	return e.LastModified() > staleDuration
}
