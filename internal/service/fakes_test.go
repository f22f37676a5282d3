package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"arbor/internal/domain"
	"arbor/internal/domain/models"
	"arbor/internal/domain/repositories"
	"arbor/internal/search"
)

// fakeTxManager runs the function directly; the fakes mutate shared maps so
// there is nothing to roll back
type fakeTxManager struct{}

func (fakeTxManager) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	return fn(ctx)
}

// fakeDirectoryRepo is an in-memory DirectoryRepository
type fakeDirectoryRepo struct {
	dirs map[string]*models.Directory
}

func newFakeDirectoryRepo() *fakeDirectoryRepo {
	return &fakeDirectoryRepo{dirs: make(map[string]*models.Directory)}
}

// seed inserts a directory without going through the service
func (f *fakeDirectoryRepo) seed(dir models.Directory) {
	f.dirs[dir.ID] = &dir
}

func (f *fakeDirectoryRepo) Create(ctx context.Context, dir *models.Directory) error {
	copied := *dir
	f.dirs[dir.ID] = &copied
	return nil
}

func (f *fakeDirectoryRepo) GetByID(ctx context.Context, id string) (*models.Directory, error) {
	dir, ok := f.dirs[id]
	if !ok {
		return nil, fmt.Errorf("directory %s: %w", id, domain.ErrNotFound)
	}
	copied := *dir
	return &copied, nil
}

func (f *fakeDirectoryRepo) GetByIDForUpdate(ctx context.Context, id string) (*models.Directory, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeDirectoryRepo) GetByIDs(ctx context.Context, ids []string) ([]models.Directory, error) {
	result := []models.Directory{}
	for _, id := range ids {
		if dir, ok := f.dirs[id]; ok {
			result = append(result, *dir)
		}
	}
	return result, nil
}

func (f *fakeDirectoryRepo) Update(ctx context.Context, dir *models.Directory) error {
	if _, ok := f.dirs[dir.ID]; !ok {
		return fmt.Errorf("directory %s: %w", dir.ID, domain.ErrNotFound)
	}
	copied := *dir
	f.dirs[dir.ID] = &copied
	return nil
}

func (f *fakeDirectoryRepo) Delete(ctx context.Context, id string) error {
	if _, ok := f.dirs[id]; !ok {
		return fmt.Errorf("directory %s: %w", id, domain.ErrNotFound)
	}
	delete(f.dirs, id)
	return nil
}

func (f *fakeDirectoryRepo) ListChildren(ctx context.Context, parentID *string) ([]models.Directory, error) {
	result := []models.Directory{}
	for _, dir := range f.dirs {
		if sameParent(dir.ParentID, parentID) {
			result = append(result, *dir)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].OrderIndex != result[j].OrderIndex {
			return result[i].OrderIndex < result[j].OrderIndex
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (f *fakeDirectoryRepo) ListChildrenForUpdate(ctx context.Context, parentID *string) ([]models.Directory, error) {
	return f.ListChildren(ctx, parentID)
}

func (f *fakeDirectoryRepo) ListSubtree(ctx context.Context, path string) ([]models.Directory, error) {
	result := []models.Directory{}
	for _, dir := range f.dirs {
		if strings.HasPrefix(dir.Path, path+"/") {
			result = append(result, *dir)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

func (f *fakeDirectoryRepo) DeleteSubtree(ctx context.Context, path string) ([]string, error) {
	ids := []string{}
	for id, dir := range f.dirs {
		if dir.Path == path || strings.HasPrefix(dir.Path, path+"/") {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(f.dirs, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeDirectoryRepo) RewriteSubtreePaths(ctx context.Context, oldPath, newPath string) ([]string, error) {
	ids := []string{}
	for id, dir := range f.dirs {
		if strings.HasPrefix(dir.Path, oldPath+"/") {
			dir.Path = newPath + strings.TrimPrefix(dir.Path, oldPath)
			dir.UpdatedAt = time.Now()
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeDirectoryRepo) UpdateOrderIndexes(ctx context.Context, assignments []repositories.OrderAssignment) error {
	for _, a := range assignments {
		dir, ok := f.dirs[a.ID]
		if !ok {
			return fmt.Errorf("directory %s: %w", a.ID, domain.ErrNotFound)
		}
		dir.OrderIndex = a.OrderIndex
	}
	return nil
}

func (f *fakeDirectoryRepo) CountChildren(ctx context.Context, parentID *string) (int, error) {
	count := 0
	for _, dir := range f.dirs {
		if sameParent(dir.ParentID, parentID) {
			count++
		}
	}
	return count, nil
}

func (f *fakeDirectoryRepo) CountAll(ctx context.Context) (int, error) {
	return len(f.dirs), nil
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// fakeDocumentRepo is an in-memory DocumentRepository. onListActive, when
// set, runs before every ListActiveAfter page; tests use it to inject
// concurrent updates into a running reindex.
type fakeDocumentRepo struct {
	docs         map[string]*models.Document
	onListActive func()
}

func newFakeDocumentRepo() *fakeDocumentRepo {
	return &fakeDocumentRepo{docs: make(map[string]*models.Document)}
}

func (f *fakeDocumentRepo) seed(doc models.Document) {
	f.docs[doc.ID] = &doc
}

func (f *fakeDocumentRepo) GetByID(ctx context.Context, id string) (*models.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	copied := *doc
	return &copied, nil
}

func (f *fakeDocumentRepo) ListActiveAfter(ctx context.Context, afterID string, limit int) ([]models.Document, error) {
	if f.onListActive != nil {
		f.onListActive()
	}

	all := []models.Document{}
	for _, doc := range f.docs {
		if doc.Status == models.DocumentStatusActive && doc.ID > afterID {
			all = append(all, *doc)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (f *fakeDocumentRepo) CountByDirectory(ctx context.Context, directoryID *string) (int, error) {
	count := 0
	for _, doc := range f.docs {
		if doc.Status == models.DocumentStatusActive && sameParent(doc.DirectoryID, directoryID) {
			count++
		}
	}
	return count, nil
}

func (f *fakeDocumentRepo) CountByDirectories(ctx context.Context, directoryIDs []string) (int, error) {
	set := make(map[string]bool, len(directoryIDs))
	for _, id := range directoryIDs {
		set[id] = true
	}
	count := 0
	for _, doc := range f.docs {
		if doc.Status == models.DocumentStatusActive && doc.DirectoryID != nil && set[*doc.DirectoryID] {
			count++
		}
	}
	return count, nil
}

func (f *fakeDocumentRepo) CountActive(ctx context.Context) (int, error) {
	count := 0
	for _, doc := range f.docs {
		if doc.Status == models.DocumentStatusActive {
			count++
		}
	}
	return count, nil
}

func (f *fakeDocumentRepo) MarkDeletedByDirectories(ctx context.Context, directoryIDs []string) ([]string, error) {
	set := make(map[string]bool, len(directoryIDs))
	for _, id := range directoryIDs {
		set[id] = true
	}
	ids := []string{}
	for id, doc := range f.docs {
		if doc.Status == models.DocumentStatusActive && doc.DirectoryID != nil && set[*doc.DirectoryID] {
			doc.Status = models.DocumentStatusDeleted
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// fakeAdapter is an in-memory search.Adapter with the same version-guard
// semantics as the sqlite implementation. onWrite, when set, runs before
// every Upsert and Delete; tests use it to swap generations mid-write.
type fakeAdapter struct {
	generations map[search.Generation]map[string]models.IndexRecord
	live        search.Generation
	lastReindex *time.Time
	nextGen     int
	unavailable bool
	onWrite     func()
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{generations: make(map[search.Generation]map[string]models.IndexRecord)}
}

// check surfaces unavailability and context cancellation the way the sqlite
// adapter does, as plain errors from every call
func (f *fakeAdapter) check(ctx context.Context) error {
	if f.unavailable {
		return fmt.Errorf("index engine down")
	}
	return ctx.Err()
}

func (f *fakeAdapter) EnsureSchema(ctx context.Context) error {
	if err := f.check(ctx); err != nil {
		return err
	}
	if f.live == "" {
		gen, _ := f.CreateGeneration(ctx)
		f.live = gen
	}
	return nil
}

func (f *fakeAdapter) LiveGeneration(ctx context.Context) (search.Generation, error) {
	if err := f.check(ctx); err != nil {
		return "", err
	}
	if f.live == "" {
		return "", fmt.Errorf("index not initialized")
	}
	return f.live, nil
}

func (f *fakeAdapter) CreateGeneration(ctx context.Context) (search.Generation, error) {
	if err := f.check(ctx); err != nil {
		return "", err
	}
	f.nextGen++
	gen := search.Generation(fmt.Sprintf("g%d", f.nextGen))
	f.generations[gen] = make(map[string]models.IndexRecord)
	return gen, nil
}

func (f *fakeAdapter) PromoteGeneration(ctx context.Context, gen search.Generation) error {
	if err := f.check(ctx); err != nil {
		return err
	}
	if _, ok := f.generations[gen]; !ok {
		return fmt.Errorf("unknown generation %s", gen)
	}
	f.live = gen
	now := time.Now()
	f.lastReindex = &now
	return nil
}

func (f *fakeAdapter) DropGeneration(ctx context.Context, gen search.Generation) error {
	if err := f.check(ctx); err != nil {
		return err
	}
	delete(f.generations, gen)
	return nil
}

func (f *fakeAdapter) Upsert(ctx context.Context, gen search.Generation, rec *models.IndexRecord) (bool, error) {
	if err := f.check(ctx); err != nil {
		return false, err
	}
	if f.onWrite != nil {
		f.onWrite()
	}
	records, ok := f.generations[gen]
	if !ok {
		return false, fmt.Errorf("unknown generation %s", gen)
	}
	if existing, ok := records[rec.DocumentID]; ok && existing.Version > rec.Version {
		return false, nil
	}
	records[rec.DocumentID] = *rec
	return true, nil
}

func (f *fakeAdapter) Delete(ctx context.Context, gen search.Generation, documentID string) error {
	if err := f.check(ctx); err != nil {
		return err
	}
	if f.onWrite != nil {
		f.onWrite()
	}
	records, ok := f.generations[gen]
	if !ok {
		return fmt.Errorf("unknown generation %s", gen)
	}
	delete(records, documentID)
	return nil
}

func (f *fakeAdapter) BulkUpsert(ctx context.Context, gen search.Generation, recs []models.IndexRecord) error {
	if err := f.check(ctx); err != nil {
		return err
	}
	for i := range recs {
		if _, err := f.Upsert(ctx, gen, &recs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeAdapter) Suggest(ctx context.Context, gen search.Generation, prefix string, limit int) ([]models.Suggestion, error) {
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	records, ok := f.generations[gen]
	if !ok {
		return nil, fmt.Errorf("unknown generation %s", gen)
	}
	result := []models.Suggestion{}
	for _, rec := range records {
		if strings.HasPrefix(strings.ToLower(rec.Title), strings.ToLower(prefix)) {
			result = append(result, models.Suggestion{
				DocumentID:    rec.DocumentID,
				Title:         rec.Title,
				DirectoryPath: rec.DirectoryPath,
				Score:         1,
			})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DocumentID < result[j].DocumentID })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (f *fakeAdapter) Count(ctx context.Context, gen search.Generation) (int, error) {
	records, ok := f.generations[gen]
	if !ok {
		return 0, fmt.Errorf("unknown generation %s", gen)
	}
	return len(records), nil
}

func (f *fakeAdapter) LastReindexAt(ctx context.Context) (*time.Time, error) {
	return f.lastReindex, nil
}

func (f *fakeAdapter) Close() error { return nil }

// liveRecords returns the records of the live generation
func (f *fakeAdapter) liveRecords() map[string]models.IndexRecord {
	return f.generations[f.live]
}
