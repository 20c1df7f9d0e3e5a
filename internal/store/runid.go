package store

import "github.com/google/uuid"

// RunIDGenerator issues run ids for Save.
type RunIDGenerator interface {
	NewRunID() string
}

// UUIDv7RunIDs generates time-sortable UUIDv7 run ids.
//
// Thread-safety: UUIDv7RunIDs is stateless and safe for concurrent use.
type UUIDv7RunIDs struct{}

// NewRunID returns a hyphenated UUIDv7.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7RunIDs) NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}
