package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"arbor/internal/config"
	"arbor/internal/domain"
	"arbor/internal/domain/models"
	"arbor/internal/domain/repositories"
	"arbor/internal/domain/services"
	"arbor/internal/search"
)

// pendingOp is one single-document update captured while a rebuild is in
// flight. A nil record means delete. Ops are recorded before they are applied
// to the live generation, so the rebuild cannot lose an update that lands
// between its snapshot and the swap.
type pendingOp struct {
	record *models.IndexRecord
}

// searchSyncService implements SearchSyncService on top of a search.Adapter.
//
// Conflict resolution is last-writer-wins by version stamp: each outgoing
// record carries max(prev+1, now-in-microseconds), taken under a mutex, so
// stamps are strictly monotonic within the process even when the clock
// stalls. The adapter discards upserts older than the stored record.
type searchSyncService struct {
	docRepo repositories.DocumentRepository
	dirRepo repositories.DirectoryRepository
	adapter search.Adapter
	tuning  *search.Tuning
	logger  *slog.Logger

	versionMu   sync.Mutex
	lastVersion int64

	// rebuildMu admits one ReindexAll at a time; TryLock turns a concurrent
	// call into a conflict instead of a queue
	rebuildMu sync.Mutex

	// pendingMu guards rebuilding and pending. Held briefly on every single
	// update and across the promote swap, never across repository reads.
	pendingMu  sync.Mutex
	rebuilding bool
	pending    map[string]pendingOp
}

// NewSearchSyncService creates a new search synchronization service
func NewSearchSyncService(
	docRepo repositories.DocumentRepository,
	dirRepo repositories.DirectoryRepository,
	adapter search.Adapter,
	tuning *search.Tuning,
	logger *slog.Logger,
) services.SearchSyncService {
	return &searchSyncService{
		docRepo: docRepo,
		dirRepo: dirRepo,
		adapter: adapter,
		tuning:  tuning,
		logger:  logger,
	}
}

// Initialize ensures the index schema exists. Adapter failure degrades the
// status instead of failing startup; the caller can retry later.
func (s *searchSyncService) Initialize(ctx context.Context) (*models.IndexStatus, error) {
	if err := s.adapter.EnsureSchema(ctx); err != nil {
		s.logger.Warn("search index unavailable, continuing degraded", "error", err)
		return &models.IndexStatus{
			Initialized: false,
			Available:   false,
		}, nil
	}

	return s.GetStatus(ctx)
}

// IndexDocument upserts the index record for a document, or removes it when
// the document is inactive or its directory no longer resolves
func (s *searchSyncService) IndexDocument(ctx context.Context, documentID string) error {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return err
	}

	if !doc.Active() {
		return s.applyOp(ctx, doc.ID, nil)
	}

	dirPath, resolved, err := s.resolveDirectoryPath(ctx, doc.DirectoryID)
	if err != nil {
		return err
	}
	if !resolved {
		// Directory chain is gone; the document is unreachable through the
		// tree and drops out of the index
		return s.applyOp(ctx, doc.ID, nil)
	}

	rec := &models.IndexRecord{
		DocumentID:    doc.ID,
		Title:         doc.Title,
		Content:       doc.Content,
		DirectoryPath: dirPath,
		UpdatedAt:     doc.UpdatedAt,
		Version:       s.nextVersion(),
	}

	return s.applyOp(ctx, doc.ID, rec)
}

// DeleteDocumentIndex removes the index record if present. Absent ids are a
// no-op success, so retries and out-of-order deletes converge.
func (s *searchSyncService) DeleteDocumentIndex(ctx context.Context, documentID string) error {
	return s.applyOp(ctx, documentID, nil)
}

// applyOp records the op for a running rebuild, then applies it to the live
// generation. Record-then-apply: if the rebuild swaps between the two steps,
// the op is already in the pending set and gets replayed into the new
// generation.
func (s *searchSyncService) applyOp(ctx context.Context, documentID string, rec *models.IndexRecord) error {
	s.pendingMu.Lock()
	if s.rebuilding {
		s.pending[documentID] = pendingOp{record: rec}
	}
	s.pendingMu.Unlock()

	gen, err := s.liveGeneration(ctx)
	if err != nil {
		return err
	}

	if err := s.applyToGeneration(ctx, gen, documentID, rec); err != nil {
		// A rebuild can promote a new generation and drop gen between the
		// resolve and the write. The op was already merged forward through
		// the pending set then, but retry once against the current
		// generation so the caller sees success, not a spurious failure.
		current, genErr := s.liveGeneration(ctx)
		if genErr != nil || current == gen {
			return err
		}
		return s.applyToGeneration(ctx, current, documentID, rec)
	}
	return nil
}

// applyToGeneration performs a single upsert or delete against gen
func (s *searchSyncService) applyToGeneration(ctx context.Context, gen search.Generation, documentID string, rec *models.IndexRecord) error {
	if rec == nil {
		if err := s.adapter.Delete(ctx, gen, documentID); err != nil {
			return fmt.Errorf("delete index record: %w", err)
		}
		return nil
	}

	applied, err := s.adapter.Upsert(ctx, gen, rec)
	if err != nil {
		return fmt.Errorf("upsert index record: %w", err)
	}
	if !applied {
		s.logger.Debug("index upsert superseded by newer record",
			"document_id", documentID, "version", rec.Version)
	}
	return nil
}

// ReindexAll rebuilds the index into a fresh generation and swaps it live.
// Single updates arriving during the rebuild are captured and replayed into
// the new generation before the swap, so the rebuild never erases them.
func (s *searchSyncService) ReindexAll(ctx context.Context) (*models.ReindexSummary, error) {
	if !s.rebuildMu.TryLock() {
		return nil, &domain.ConflictError{
			Message:      "a full reindex is already in progress",
			ResourceType: "search_index",
		}
	}
	defer s.rebuildMu.Unlock()

	if _, err := s.liveGeneration(ctx); err != nil {
		return nil, err
	}

	start := time.Now()

	s.pendingMu.Lock()
	s.rebuilding = true
	s.pending = make(map[string]pendingOp)
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		s.rebuilding = false
		s.pending = nil
		s.pendingMu.Unlock()
	}()

	gen, err := s.adapter.CreateGeneration(ctx)
	if err != nil {
		return nil, fmt.Errorf("create index generation: %w", err)
	}

	// Generation cleanup must outlive the caller's context: an abort caused
	// by cancellation still has to discard the table it created
	cleanupCtx := context.WithoutCancel(ctx)

	count, err := s.loadAllDocuments(ctx, gen)
	if err != nil {
		if dropErr := s.adapter.DropGeneration(cleanupCtx, gen); dropErr != nil {
			s.logger.Warn("failed to drop aborted generation", "generation", gen, "error", dropErr)
		}
		return nil, err
	}

	// Replay concurrent updates and swap under the pending lock, so no op
	// can slip between the replay and the promote
	s.pendingMu.Lock()
	for docID, op := range s.pending {
		if op.record == nil {
			err = s.adapter.Delete(ctx, gen, docID)
		} else {
			_, err = s.adapter.Upsert(ctx, gen, op.record)
		}
		if err != nil {
			s.pendingMu.Unlock()
			if dropErr := s.adapter.DropGeneration(cleanupCtx, gen); dropErr != nil {
				s.logger.Warn("failed to drop aborted generation", "generation", gen, "error", dropErr)
			}
			return nil, fmt.Errorf("replay pending update for %s: %w", docID, err)
		}
	}
	replayed := len(s.pending)

	prev, err := s.adapter.LiveGeneration(ctx)
	if err != nil {
		s.pendingMu.Unlock()
		return nil, fmt.Errorf("resolve live generation: %w", err)
	}
	if err := s.adapter.PromoteGeneration(ctx, gen); err != nil {
		s.pendingMu.Unlock()
		if dropErr := s.adapter.DropGeneration(cleanupCtx, gen); dropErr != nil {
			s.logger.Warn("failed to drop aborted generation", "generation", gen, "error", dropErr)
		}
		return nil, fmt.Errorf("promote index generation: %w", err)
	}
	s.pendingMu.Unlock()

	if err := s.adapter.DropGeneration(cleanupCtx, prev); err != nil {
		s.logger.Warn("failed to drop previous generation", "generation", prev, "error", err)
	}

	final, err := s.adapter.Count(ctx, gen)
	if err != nil {
		final = count
	}

	summary := &models.ReindexSummary{
		DocumentCount: final,
		DurationMS:    time.Since(start).Milliseconds(),
		Generation:    string(gen),
	}

	s.logger.Info("full reindex complete",
		"generation", gen,
		"documents", summary.DocumentCount,
		"replayed_updates", replayed,
		"duration_ms", summary.DurationMS,
	)

	return summary, nil
}

// loadAllDocuments pages through the active documents and bulk-loads their
// index records into gen, returning how many were loaded
func (s *searchSyncService) loadAllDocuments(ctx context.Context, gen search.Generation) (int, error) {
	pageSize := s.tuning.Reindex.PageSize
	afterID := ""
	total := 0

	// Directory lookups repeat heavily across a page; memoize per rebuild
	pathCache := make(map[string]string)

	for {
		docs, err := s.docRepo.ListActiveAfter(ctx, afterID, pageSize)
		if err != nil {
			return 0, fmt.Errorf("list documents: %w", err)
		}
		if len(docs) == 0 {
			break
		}

		recs := make([]models.IndexRecord, 0, len(docs))
		for _, doc := range docs {
			dirPath, resolved, err := s.cachedDirectoryPath(ctx, pathCache, doc.DirectoryID)
			if err != nil {
				return 0, err
			}
			if !resolved {
				continue
			}
			recs = append(recs, models.IndexRecord{
				DocumentID:    doc.ID,
				Title:         doc.Title,
				Content:       doc.Content,
				DirectoryPath: dirPath,
				UpdatedAt:     doc.UpdatedAt,
				Version:       s.nextVersion(),
			})
		}

		if len(recs) > 0 {
			if err := s.adapter.BulkUpsert(ctx, gen, recs); err != nil {
				return 0, fmt.Errorf("bulk load index records: %w", err)
			}
			total += len(recs)
		}

		afterID = docs[len(docs)-1].ID
		if len(docs) < pageSize {
			break
		}
	}

	return total, nil
}

// GetSuggestions runs a ranked prefix query against the live generation.
// An unavailable index yields empty results with Available=false.
func (s *searchSyncService) GetSuggestions(ctx context.Context, prefix string, limit int) (*models.SuggestionResults, error) {
	prefix = strings.TrimSpace(prefix)
	if len(prefix) > config.MaxSuggestionPrefixLength {
		return nil, fmt.Errorf("%w: prefix exceeds %d characters",
			domain.ErrValidation, config.MaxSuggestionPrefixLength)
	}
	if prefix == "" {
		return &models.SuggestionResults{Suggestions: []models.Suggestion{}, Available: true}, nil
	}

	if limit <= 0 {
		limit = s.tuning.Suggestions.DefaultLimit
	}
	if limit > s.tuning.Suggestions.MaxLimit {
		limit = s.tuning.Suggestions.MaxLimit
	}

	gen, err := s.adapter.LiveGeneration(ctx)
	if err != nil {
		s.logger.Warn("suggestions unavailable", "error", err)
		return &models.SuggestionResults{Suggestions: []models.Suggestion{}, Available: false}, nil
	}

	suggestions, err := s.adapter.Suggest(ctx, gen, prefix, limit)
	if err != nil {
		s.logger.Warn("suggestion query failed", "error", err)
		return &models.SuggestionResults{Suggestions: []models.Suggestion{}, Available: false}, nil
	}

	return &models.SuggestionResults{Suggestions: suggestions, Available: true}, nil
}

// GetStatus reports the index health snapshot
func (s *searchSyncService) GetStatus(ctx context.Context) (*models.IndexStatus, error) {
	s.pendingMu.Lock()
	rebuilding := s.rebuilding
	s.pendingMu.Unlock()

	gen, err := s.adapter.LiveGeneration(ctx)
	if err != nil {
		return &models.IndexStatus{
			Initialized: false,
			Available:   false,
			Rebuilding:  rebuilding,
		}, nil
	}

	status := &models.IndexStatus{
		Initialized: true,
		Available:   true,
		Generation:  string(gen),
		Rebuilding:  rebuilding,
	}

	count, err := s.adapter.Count(ctx, gen)
	if err != nil {
		status.Available = false
		return status, nil
	}
	status.DocumentCount = count

	if at, err := s.adapter.LastReindexAt(ctx); err == nil {
		status.LastReindexAt = at
	}

	return status, nil
}

// liveGeneration resolves the generation serving reads, mapping adapter
// failure to a dependency-unavailable error so handlers answer 503
func (s *searchSyncService) liveGeneration(ctx context.Context) (search.Generation, error) {
	gen, err := s.adapter.LiveGeneration(ctx)
	if err != nil {
		return "", &domain.DependencyUnavailableError{
			Message:    fmt.Sprintf("search index unavailable: %v", err),
			Dependency: "search_index",
		}
	}
	return gen, nil
}

// nextVersion issues a strictly monotonic version stamp. Wall-clock
// microseconds keep stamps comparable across restarts; the prev+1 floor
// keeps them strictly increasing within the process.
func (s *searchSyncService) nextVersion() int64 {
	s.versionMu.Lock()
	defer s.versionMu.Unlock()

	v := time.Now().UnixMicro()
	if v <= s.lastVersion {
		v = s.lastVersion + 1
	}
	s.lastVersion = v
	return v
}

// resolveDirectoryPath builds the display path (breadcrumb names joined with
// " / ") for a document's directory. Unfiled documents resolve to the empty
// path; a missing directory reports resolved=false.
func (s *searchSyncService) resolveDirectoryPath(ctx context.Context, directoryID *string) (string, bool, error) {
	if directoryID == nil {
		return "", true, nil
	}

	dir, err := s.dirRepo.GetByID(ctx, *directoryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}

	ids := models.PathIDs(dir.Path)
	dirs, err := s.dirRepo.GetByIDs(ctx, ids)
	if err != nil {
		return "", false, err
	}

	byID := make(map[string]string, len(dirs))
	for _, d := range dirs {
		byID[d.ID] = d.Name
	}

	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := byID[id]; ok {
			names = append(names, name)
		}
	}

	return strings.Join(names, " / "), true, nil
}

// cachedDirectoryPath memoizes resolveDirectoryPath per directory id for the
// duration of a rebuild
func (s *searchSyncService) cachedDirectoryPath(ctx context.Context, cache map[string]string, directoryID *string) (string, bool, error) {
	if directoryID == nil {
		return "", true, nil
	}
	if path, ok := cache[*directoryID]; ok {
		return path, true, nil
	}

	path, resolved, err := s.resolveDirectoryPath(ctx, directoryID)
	if err != nil || !resolved {
		return "", resolved, err
	}

	cache[*directoryID] = path
	return path, true, nil
}
