// Package store is the Persistence Adapter contract from spec.md §6: the
// interface the coordinator requires from the document store, plus two
// implementations — a MongoDB-backed one for production and an in-memory
// one for tests. Both honor the exact same atomic-update semantics so
// coordinator tests exercise the real CAS predicates without a live server.
package store

import (
	"context"

	"taleforge.dev/engine/internal/model"
)

// Filter describes the predicate an UpdateOne call is conditioned on.
// Exists asserts field presence/absence at a dotted path; Eq asserts
// equality; LTE asserts the existing int64 value at path is <= the bound.
// The coordinator's stale-pending takeover does not use LTE: it compares
// timestamps in Go and conditions the update on Eq of the observed value.
type Filter struct {
	Exists map[string]bool
	Eq     map[string]any
	LTE    map[string]int64
}

// Update describes a $set/$unset mutation over dotted paths, including
// dynamic map keys (e.g. "storyState.branchCache.3:__next__").
type Update struct {
	Set   map[string]any
	Unset []string
}

// Store is the persistence adapter the branch cache coordinator and story
// runtime depend on.
type Store interface {
	FindOne(ctx context.Context, id string) (*model.Book, error)
	InsertOne(ctx context.Context, book *model.Book) error
	// UpdateOne applies update to the document identified by id iff filter
	// matches, and returns the number of matched documents (0 or 1). A
	// matched count of 0 means the CAS predicate failed, not an error.
	UpdateOne(ctx context.Context, id string, filter Filter, update Update) (matched int64, err error)
}
