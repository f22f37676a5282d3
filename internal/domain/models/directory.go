package models

import (
	"strings"
	"time"
)

// Directory is a node in the user-editable document hierarchy.
//
// Path is the materialized ancestor chain: "/" + every ancestor id from the
// root down, ending with the node's own id (e.g. "/a1/b2/c3"). It makes
// ancestor/descendant checks a string prefix test instead of a recursive
// parent walk, at the cost of an atomic subtree rewrite on every move.
type Directory struct {
	ID         string    `json:"id" db:"id"`
	ParentID   *string   `json:"parent_id" db:"parent_id"` // NULL = root level
	Name       string    `json:"name" db:"name"`
	OrderIndex int64     `json:"order_index" db:"order_index"`
	Path       string    `json:"path" db:"path"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// ChildPath computes the materialized path of a child of parentPath.
// Pass an empty parentPath for root-level directories.
func ChildPath(parentPath, id string) string {
	return parentPath + "/" + id
}

// PathIDs splits a materialized path into its ordered id chain,
// root first, the node's own id last.
func PathIDs(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// PathContains reports whether id occurs anywhere in the materialized path.
// Used for the O(depth) cycle check on move: a destination whose path
// contains the moved id is a descendant of it.
func PathContains(path, id string) bool {
	return strings.Contains(path+"/", "/"+id+"/")
}

// BreadcrumbItem is one ancestor in a directory's breadcrumb chain.
type BreadcrumbItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DirectoryTreeNode is a directory with its nested children, ordered by
// OrderIndex within each sibling set.
type DirectoryTreeNode struct {
	Directory
	Children []*DirectoryTreeNode `json:"children"`
}

// DirectoryStats holds aggregate counts for a directory subtree,
// or for the whole forest when no directory is given.
type DirectoryStats struct {
	DirectoryID         *string `json:"directory_id"`
	ChildDirectoryCount int     `json:"child_directory_count"` // direct children only
	DocumentCount       int     `json:"document_count"`        // direct documents only
	TotalDirectoryCount int     `json:"total_directory_count"` // recursive
	TotalDocumentCount  int     `json:"total_document_count"`  // recursive
}
