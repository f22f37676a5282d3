package services

import (
	"context"

	"arbor/internal/domain/models"
)

// DirectoryService is the directory tree manager: it owns every structural
// mutation of the hierarchy and guards the tree invariants (acyclic parent
// relation, unique sibling names, strictly increasing sibling order indexes,
// consistent materialized paths).
type DirectoryService interface {
	// ListDirectories lists the children of parentID (roots when nil),
	// or the full nested subtree when recursive is set
	ListDirectories(ctx context.Context, parentID *string, recursive bool) ([]*models.DirectoryTreeNode, error)

	// GetDirectory retrieves a directory with its breadcrumb
	GetDirectory(ctx context.Context, id string) (*DirectoryDetail, error)

	// CreateDirectory creates a directory under parentID (root when nil)
	CreateDirectory(ctx context.Context, req *CreateDirectoryRequest) (*models.Directory, error)

	// UpdateDirectory renames a directory; structural fields are untouched
	UpdateDirectory(ctx context.Context, id string, req *UpdateDirectoryRequest) (*models.Directory, error)

	// DeleteDirectory removes a directory. Without cascade it fails on any
	// child directory or active document; with cascade the whole subtree and
	// its documents go in one transaction and the affected ids are returned
	// so the caller can trigger index cleanup.
	DeleteDirectory(ctx context.Context, id string, cascade bool) (*DeleteDirectoryResult, error)

	// MoveDirectory reparents a directory, rewriting descendant paths
	// atomically and returning the descendant ids whose path changed
	MoveDirectory(ctx context.Context, req *MoveDirectoryRequest) (*MoveDirectoryResult, error)

	// ReorderDirectories applies an exact permutation of a sibling set
	ReorderDirectories(ctx context.Context, req *ReorderDirectoriesRequest) ([]models.Directory, error)

	// GetDirectoryStats computes aggregate counts for a subtree,
	// or globally when id is nil
	GetDirectoryStats(ctx context.Context, id *string) (*models.DirectoryStats, error)
}

// CreateDirectoryRequest represents a directory creation request
type CreateDirectoryRequest struct {
	ParentID *string `json:"parent_id,omitempty"` // nil = root level
	Name     string  `json:"name"`
}

// UpdateDirectoryRequest represents a rename request
type UpdateDirectoryRequest struct {
	Name string `json:"name"`
}

// MoveDirectoryRequest represents a move request. A nil NewParentID moves
// the directory to the root level. Position is the target slot within the
// destination sibling set; nil appends at the end.
type MoveDirectoryRequest struct {
	ID          string  `json:"id"`
	NewParentID *string `json:"new_parent_id,omitempty"`
	Position    *int    `json:"position,omitempty"`
}

// ReorderDirectoriesRequest represents a sibling reorder request.
// OrderedIDs must be exactly the current child-id set of ParentID.
type ReorderDirectoriesRequest struct {
	ParentID   *string  `json:"parent_id,omitempty"`
	OrderedIDs []string `json:"ordered_ids"`
}

// DirectoryDetail is a directory plus its ancestor breadcrumb
type DirectoryDetail struct {
	Directory  *models.Directory       `json:"directory"`
	Breadcrumb []models.BreadcrumbItem `json:"breadcrumb"`
}

// DeleteDirectoryResult lists everything a delete removed
type DeleteDirectoryResult struct {
	DirectoryIDs []string `json:"directory_ids"`
	DocumentIDs  []string `json:"document_ids"`
}

// MoveDirectoryResult is the moved node plus the descendants whose
// materialized path was rewritten; callers re-deriving index directory
// paths use this list.
type MoveDirectoryResult struct {
	Directory            *models.Directory `json:"directory"`
	ChangedDescendantIDs []string          `json:"changed_descendant_ids"`
}
