package repositories

import (
	"context"

	"arbor/internal/domain/models"
)

// DocumentRepository is the read/write contract the core depends on from the
// canonical document store. The store itself is owned by an external
// workflow; this core only reads documents to build index records and marks
// them deleted during cascade directory removal.
type DocumentRepository interface {
	// GetByID retrieves a document regardless of status; callers inspect
	// Status to decide between upsert and index removal
	GetByID(ctx context.Context, id string) (*models.Document, error)

	// ListActiveAfter pages through active documents in id order,
	// returning up to limit documents with id > afterID
	ListActiveAfter(ctx context.Context, afterID string, limit int) ([]models.Document, error)

	// CountByDirectory counts active documents directly in a directory
	// (nil = unfiled documents)
	CountByDirectory(ctx context.Context, directoryID *string) (int, error)

	// CountByDirectories counts active documents across a set of directories
	CountByDirectories(ctx context.Context, directoryIDs []string) (int, error)

	// CountActive counts every active document in the store
	CountActive(ctx context.Context) (int, error)

	// MarkDeletedByDirectories soft-deletes all active documents under the
	// given directories, returning the affected document ids so the caller
	// can trigger index cleanup
	MarkDeletedByDirectories(ctx context.Context, directoryIDs []string) ([]string, error)
}
