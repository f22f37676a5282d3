package search

import (
	"context"
	"time"

	"arbor/internal/domain/models"
)

// Generation identifies one full, self-consistent copy of the search index.
// Rebuilds load into a fresh generation and promote it atomically; readers
// keep serving the prior generation until the swap.
type Generation string

// Adapter is the narrow write/query contract of the underlying search
// engine. Implementations must make Upsert atomic per document id: the
// version comparison and the write may not interleave with another caller's
// upsert for the same id.
type Adapter interface {
	// EnsureSchema creates the index schema if absent, including an initial
	// live generation. Idempotent.
	EnsureSchema(ctx context.Context) error

	// LiveGeneration returns the generation currently serving reads.
	// Errors when the schema has not been initialized.
	LiveGeneration(ctx context.Context) (Generation, error)

	// CreateGeneration allocates a new empty generation
	CreateGeneration(ctx context.Context) (Generation, error)

	// PromoteGeneration atomically marks gen as live and records the
	// reindex completion time. The previous generation keeps its data
	// until dropped.
	PromoteGeneration(ctx context.Context, gen Generation) error

	// DropGeneration discards a generation and its records
	DropGeneration(ctx context.Context, gen Generation) error

	// Upsert writes rec into gen keyed by document id, unless the stored
	// record carries a newer version. Returns whether the write was applied.
	Upsert(ctx context.Context, gen Generation, rec *models.IndexRecord) (bool, error)

	// Delete removes the record for documentID; absent ids are a no-op
	Delete(ctx context.Context, gen Generation, documentID string) error

	// BulkUpsert loads a batch of records into gen
	BulkUpsert(ctx context.Context, gen Generation, recs []models.IndexRecord) error

	// Suggest runs a ranked prefix query against gen
	Suggest(ctx context.Context, gen Generation, prefix string, limit int) ([]models.Suggestion, error)

	// Count returns the number of records in gen
	Count(ctx context.Context, gen Generation) (int, error)

	// LastReindexAt returns the completion time of the most recent
	// generation promotion, or nil if none has happened
	LastReindexAt(ctx context.Context) (*time.Time, error)

	// Close releases the underlying engine connection
	Close() error
}
