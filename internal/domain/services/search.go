package services

import (
	"context"

	"arbor/internal/domain/models"
)

// SearchSyncService keeps the external search index eventually consistent
// with the canonical document store and serves suggestion queries. It never
// mutates documents or directories; it only reads them to build index
// records. All operations are idempotent so callers can retry on failure.
type SearchSyncService interface {
	// Initialize ensures the index schema exists. Adapter unavailability is
	// not fatal: the returned status reports the degraded state and the
	// caller may retry later.
	Initialize(ctx context.Context) (*models.IndexStatus, error)

	// IndexDocument upserts the index record for a document, or removes it
	// when the document is inactive or its directory chain no longer
	// resolves. Repeated calls converge; a newer record is never overwritten
	// by an older call (last-writer-wins by version).
	IndexDocument(ctx context.Context, documentID string) error

	// DeleteDocumentIndex removes the index record if present.
	// Removing an absent id is a no-op success.
	DeleteDocumentIndex(ctx context.Context, documentID string) error

	// ReindexAll rebuilds the index into a fresh generation and atomically
	// swaps it live. Only one rebuild runs at a time; concurrent single
	// updates are merged forward before the swap.
	ReindexAll(ctx context.Context) (*models.ReindexSummary, error)

	// GetSuggestions runs a prefix query against the live generation.
	// An uninitialized or unavailable index yields empty results with
	// Available=false, not an error.
	GetSuggestions(ctx context.Context, prefix string, limit int) (*models.SuggestionResults, error)

	// GetStatus reports the index health snapshot
	GetStatus(ctx context.Context) (*models.IndexStatus, error)
}
