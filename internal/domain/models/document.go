package models

import (
	"time"
)

// DocumentStatus is the lifecycle state of a document in the canonical store.
type DocumentStatus string

const (
	DocumentStatusActive  DocumentStatus = "active"
	DocumentStatusDeleted DocumentStatus = "deleted"
)

// Document is a record in the canonical document store. The core reads
// documents to build index records and marks them deleted during cascade
// directory removal; all other document writes happen outside this system.
type Document struct {
	ID          string         `json:"id" db:"id"`
	DirectoryID *string        `json:"directory_id" db:"directory_id"` // NULL = unfiled
	Title       string         `json:"title" db:"title"`
	Content     string         `json:"content" db:"content"`
	Status      DocumentStatus `json:"status" db:"status"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// Active reports whether the document should be visible to search.
func (d *Document) Active() bool {
	return d.Status == DocumentStatusActive
}
