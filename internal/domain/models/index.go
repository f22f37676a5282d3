package models

import (
	"time"
)

// IndexRecord is the shape pushed to the search index adapter, keyed by
// document id. Version is a monotonic stamp used for last-writer-wins
// conflict resolution: an upsert carrying an older version than the stored
// record is discarded, so out-of-order delivery from concurrent callers
// converges on the newest document state.
type IndexRecord struct {
	DocumentID    string    `json:"document_id"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	DirectoryPath string    `json:"directory_path"` // display breadcrumb, "" for unfiled
	UpdatedAt     time.Time `json:"updated_at"`
	Version       int64     `json:"version"`
}

// Suggestion is a single ranked match from a prefix query.
type Suggestion struct {
	DocumentID    string  `json:"document_id"`
	Title         string  `json:"title"`
	DirectoryPath string  `json:"directory_path"`
	Snippet       string  `json:"snippet,omitempty"`
	Score         float64 `json:"score"`
}

// SuggestionResults carries suggestion matches plus the availability flag:
// an unavailable index yields empty results, not an error.
type SuggestionResults struct {
	Suggestions []Suggestion `json:"suggestions"`
	Available   bool         `json:"available"`
}

// IndexStatus is the health snapshot reported by the synchronization service.
type IndexStatus struct {
	Initialized   bool       `json:"initialized"`
	Available     bool       `json:"available"`
	DocumentCount int        `json:"document_count"`
	Generation    string     `json:"generation,omitempty"`
	LastReindexAt *time.Time `json:"last_reindex_at,omitempty"`
	Rebuilding    bool       `json:"rebuilding"`
}

// ReindexSummary reports the outcome of a full rebuild.
type ReindexSummary struct {
	DocumentCount int    `json:"document_count"`
	DurationMS    int64  `json:"duration_ms"`
	Generation    string `json:"generation"`
}
