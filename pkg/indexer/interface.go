package indexer

import (
	"context"

	"github.com/david-franz/ctx-sys-sub001/internal/store"
)

// Indexer defines the contract for registering entities into a project's
// store. Implementations must be safe for concurrent use; Index/Delete/
// Stats all accept a context for cancellation.
//
// The Indexer interface operates on [store.Entity] (domain model),
// abstracting away the underlying storage mechanism.
type Indexer interface {
	// Index upserts entities and, for any carrying a non-nil vector,
	// their embeddings.
	//
	// Behavior:
	//   - Idempotent: re-indexing the same entity ID updates the content
	//   - Thread-safe: may be called concurrently
	//   - Empty slice is a no-op (returns nil)
	Index(ctx context.Context, entities []*Entity) error

	// Delete removes entities by ID, along with their relationships and
	// vectors.
	//
	// Behavior:
	//   - No-op for non-existent IDs (does not error)
	//   - Thread-safe: may be called concurrently
	//   - Empty slice is a no-op (returns nil)
	Delete(ctx context.Context, ids []string) error

	// Stats returns current index statistics. The returned stats are a
	// snapshot; values may change immediately after the call if other
	// goroutines modify the index.
	Stats(ctx context.Context) (IndexStats, error)

	// Close releases all resources held by the indexer. Safe to call
	// multiple times.
	Close() error
}

// Entity is the wire shape an external indexer hands to Index: an entity
// plus its optional embedding (nil if the caller wants the store to embed
// it lazily, which this package does not do on the caller's behalf).
type Entity struct {
	ID            string
	Type          store.EntityType
	Name          string
	QualifiedName string // unique within project; defaults to Path+"::"+Name if empty
	Path          string
	Content       string
	Summary       string
	Metadata      map[string]string
	Vector        []float32
	Relations     []Relation
}

// Relation is a directed edge an external indexer discovered between two
// entities it is registering.
type Relation struct {
	TargetID string
	Type     store.RelationshipType
	Weight   float64
}

// IndexStats holds statistics about a project's index.
type IndexStats struct {
	EntityCount       int
	RelationshipCount int
}
