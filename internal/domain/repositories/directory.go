package repositories

import (
	"context"

	"arbor/internal/domain/models"
)

// OrderAssignment pairs a directory id with its new order index.
type OrderAssignment struct {
	ID         string
	OrderIndex int64
}

// DirectoryRepository defines data access operations for directory nodes.
// Structural mutations are expected to run inside a transaction started by
// the service layer; the ForUpdate variants take row locks so concurrent
// moves on the same subtree serialize instead of deadlocking.
type DirectoryRepository interface {
	// Create creates a new directory
	Create(ctx context.Context, dir *models.Directory) error

	// GetByID retrieves a directory by ID
	GetByID(ctx context.Context, id string) (*models.Directory, error)

	// GetByIDForUpdate retrieves a directory by ID with a row lock
	GetByIDForUpdate(ctx context.Context, id string) (*models.Directory, error)

	// GetByIDs retrieves multiple directories, for breadcrumb resolution
	GetByIDs(ctx context.Context, ids []string) ([]models.Directory, error)

	// Update persists name, parent, order index, path and updated_at
	Update(ctx context.Context, dir *models.Directory) error

	// Delete removes a single directory row
	Delete(ctx context.Context, id string) error

	// ListChildren lists immediate children ordered by order index
	ListChildren(ctx context.Context, parentID *string) ([]models.Directory, error)

	// ListChildrenForUpdate is ListChildren with row locks on the sibling set
	ListChildrenForUpdate(ctx context.Context, parentID *string) ([]models.Directory, error)

	// ListSubtree lists all descendants of the directory owning path,
	// excluding the node itself, ordered by path
	ListSubtree(ctx context.Context, path string) ([]models.Directory, error)

	// DeleteSubtree removes the directory owning path and every descendant
	// in one statement, returning the removed directory ids
	DeleteSubtree(ctx context.Context, path string) ([]string, error)

	// RewriteSubtreePaths replaces the oldPath prefix with newPath on every
	// descendant in one statement, returning the ids whose path changed
	RewriteSubtreePaths(ctx context.Context, oldPath, newPath string) ([]string, error)

	// UpdateOrderIndexes applies a batch of sibling order assignments
	UpdateOrderIndexes(ctx context.Context, assignments []OrderAssignment) error

	// CountChildren counts immediate child directories
	CountChildren(ctx context.Context, parentID *string) (int, error)

	// CountAll counts every directory in the forest
	CountAll(ctx context.Context) (int, error)
}
