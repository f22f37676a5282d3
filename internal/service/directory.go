package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"arbor/internal/config"
	"arbor/internal/domain"
	"arbor/internal/domain/models"
	"arbor/internal/domain/repositories"
	"arbor/internal/domain/services"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// directoryService implements the DirectoryService interface.
//
// Every structural mutation runs inside one transaction with row locks
// acquired in a fixed order (destination parent before the moved node and
// its siblings), so two concurrent moves on overlapping subtrees serialize
// instead of deadlocking, and a reader never observes a partially-moved
// subtree.
type directoryService struct {
	dirRepo   repositories.DirectoryRepository
	docRepo   repositories.DocumentRepository
	txManager repositories.TransactionManager
	logger    *slog.Logger
}

// NewDirectoryService creates a new directory service
func NewDirectoryService(
	dirRepo repositories.DirectoryRepository,
	docRepo repositories.DocumentRepository,
	txManager repositories.TransactionManager,
	logger *slog.Logger,
) services.DirectoryService {
	return &directoryService{
		dirRepo:   dirRepo,
		docRepo:   docRepo,
		txManager: txManager,
		logger:    logger,
	}
}

var directoryNamePattern = regexp.MustCompile(`^[^/]+$`)

// ListDirectories lists the children of parentID (roots when nil), or the
// full nested subtree when recursive is set
func (s *directoryService) ListDirectories(ctx context.Context, parentID *string, recursive bool) ([]*models.DirectoryTreeNode, error) {
	parentID = normalizeID(parentID)

	var parentPath string
	if parentID != nil {
		parent, err := s.dirRepo.GetByID(ctx, *parentID)
		if err != nil {
			return nil, err
		}
		parentPath = parent.Path
	}

	children, err := s.dirRepo.ListChildren(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}

	if !recursive {
		nodes := make([]*models.DirectoryTreeNode, 0, len(children))
		for _, child := range children {
			nodes = append(nodes, &models.DirectoryTreeNode{Directory: child, Children: []*models.DirectoryTreeNode{}})
		}
		return nodes, nil
	}

	var descendants []models.Directory
	if parentID == nil {
		for _, root := range children {
			sub, err := s.dirRepo.ListSubtree(ctx, root.Path)
			if err != nil {
				return nil, fmt.Errorf("list subtree: %w", err)
			}
			descendants = append(descendants, sub...)
		}
	} else {
		sub, err := s.dirRepo.ListSubtree(ctx, parentPath)
		if err != nil {
			return nil, fmt.Errorf("list subtree: %w", err)
		}
		// ListSubtree includes the children themselves; they are already in
		// the top-level set
		for _, d := range sub {
			if d.ParentID != nil && *d.ParentID == *parentID {
				continue
			}
			descendants = append(descendants, d)
		}
	}

	return buildTree(children, descendants), nil
}

// buildTree nests descendant directories under the given top-level set,
// ordering every sibling set by order index
func buildTree(top []models.Directory, descendants []models.Directory) []*models.DirectoryTreeNode {
	nodeMap := make(map[string]*models.DirectoryTreeNode, len(top)+len(descendants))
	roots := make([]*models.DirectoryTreeNode, 0, len(top))

	// First pass: create all nodes
	for _, dir := range top {
		node := &models.DirectoryTreeNode{Directory: dir, Children: []*models.DirectoryTreeNode{}}
		nodeMap[dir.ID] = node
		roots = append(roots, node)
	}
	for _, dir := range descendants {
		nodeMap[dir.ID] = &models.DirectoryTreeNode{Directory: dir, Children: []*models.DirectoryTreeNode{}}
	}

	// Second pass: attach descendants to their parents
	for _, dir := range descendants {
		node := nodeMap[dir.ID]
		if dir.ParentID != nil {
			if parent, ok := nodeMap[*dir.ParentID]; ok {
				parent.Children = append(parent.Children, node)
			}
		}
	}

	// Third pass: order every sibling set
	for _, node := range nodeMap {
		children := node.Children
		sort.Slice(children, func(i, j int) bool {
			return children[i].OrderIndex < children[j].OrderIndex
		})
	}

	return roots
}

// GetDirectory retrieves a directory with its breadcrumb derived from the
// materialized path
func (s *directoryService) GetDirectory(ctx context.Context, id string) (*services.DirectoryDetail, error) {
	dir, err := s.dirRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	breadcrumb, err := s.resolveBreadcrumb(ctx, dir.Path)
	if err != nil {
		return nil, err
	}

	return &services.DirectoryDetail{
		Directory:  dir,
		Breadcrumb: breadcrumb,
	}, nil
}

// resolveBreadcrumb maps the id chain of a materialized path to named
// breadcrumb items, root first
func (s *directoryService) resolveBreadcrumb(ctx context.Context, path string) ([]models.BreadcrumbItem, error) {
	ids := models.PathIDs(path)
	if len(ids) == 0 {
		return []models.BreadcrumbItem{}, nil
	}

	dirs, err := s.dirRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve breadcrumb: %w", err)
	}

	byID := make(map[string]models.Directory, len(dirs))
	for _, d := range dirs {
		byID[d.ID] = d
	}

	items := make([]models.BreadcrumbItem, 0, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			items = append(items, models.BreadcrumbItem{ID: d.ID, Name: d.Name})
		}
	}

	return items, nil
}

// CreateDirectory creates a directory under parentID (root when nil)
func (s *directoryService) CreateDirectory(ctx context.Context, req *services.CreateDirectoryRequest) (*models.Directory, error) {
	req.ParentID = normalizeID(req.ParentID)

	if err := s.validateCreateRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	var created *models.Directory
	err := s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		var parentPath string
		if req.ParentID != nil {
			// Lock the target parent before touching its children
			parent, err := s.dirRepo.GetByIDForUpdate(txCtx, *req.ParentID)
			if err != nil {
				return err
			}
			parentPath = parent.Path
		}

		siblings, err := s.dirRepo.ListChildrenForUpdate(txCtx, req.ParentID)
		if err != nil {
			return fmt.Errorf("list siblings: %w", err)
		}
		for _, sibling := range siblings {
			if sibling.Name == req.Name {
				return &domain.ConflictError{
					Message:      fmt.Sprintf("directory %q already exists in this location", req.Name),
					ResourceType: "directory",
					ResourceID:   sibling.ID,
				}
			}
		}

		orderIndex := int64(config.OrderIndexGap)
		if len(siblings) > 0 {
			orderIndex = siblings[len(siblings)-1].OrderIndex + config.OrderIndexGap
		}

		now := time.Now()
		id := uuid.NewString()
		created = &models.Directory{
			ID:         id,
			ParentID:   req.ParentID,
			Name:       req.Name,
			OrderIndex: orderIndex,
			Path:       models.ChildPath(parentPath, id),
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		return s.dirRepo.Create(txCtx, created)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("directory created",
		"id", created.ID,
		"name", created.Name,
		"parent_id", created.ParentID,
		"path", created.Path,
	)

	return created, nil
}

// UpdateDirectory renames a directory; structural fields are untouched
func (s *directoryService) UpdateDirectory(ctx context.Context, id string, req *services.UpdateDirectoryRequest) (*models.Directory, error) {
	if err := s.validateUpdateRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	var updated *models.Directory
	err := s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		dir, err := s.dirRepo.GetByID(txCtx, id)
		if err != nil {
			return err
		}

		// Lock the whole sibling set; that covers the renamed node too
		siblings, err := s.dirRepo.ListChildrenForUpdate(txCtx, dir.ParentID)
		if err != nil {
			return fmt.Errorf("list siblings: %w", err)
		}
		for _, sibling := range siblings {
			if sibling.ID != dir.ID && sibling.Name == req.Name {
				return &domain.ConflictError{
					Message:      fmt.Sprintf("directory %q already exists in this location", req.Name),
					ResourceType: "directory",
					ResourceID:   sibling.ID,
				}
			}
		}

		dir.Name = req.Name
		dir.UpdatedAt = time.Now()
		if err := s.dirRepo.Update(txCtx, dir); err != nil {
			return err
		}

		updated = dir
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("directory renamed", "id", updated.ID, "name", updated.Name)

	return updated, nil
}

// DeleteDirectory removes a directory. Without cascade it fails on any child
// directory or active document; with cascade the whole subtree and its
// documents go in one transaction.
func (s *directoryService) DeleteDirectory(ctx context.Context, id string, cascade bool) (*services.DeleteDirectoryResult, error) {
	result := &services.DeleteDirectoryResult{
		DirectoryIDs: []string{},
		DocumentIDs:  []string{},
	}

	err := s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		dir, err := s.dirRepo.GetByIDForUpdate(txCtx, id)
		if err != nil {
			return err
		}

		if !cascade {
			childCount, err := s.dirRepo.CountChildren(txCtx, &id)
			if err != nil {
				return fmt.Errorf("count children: %w", err)
			}
			docCount, err := s.docRepo.CountByDirectory(txCtx, &id)
			if err != nil {
				return fmt.Errorf("count documents: %w", err)
			}
			if childCount > 0 || docCount > 0 {
				return &domain.ConflictError{
					Message: fmt.Sprintf("directory %q is not empty (%d directories, %d documents); pass cascade to delete its contents",
						dir.Name, childCount, docCount),
					ResourceType: "directory",
					ResourceID:   dir.ID,
				}
			}

			if err := s.dirRepo.Delete(txCtx, id); err != nil {
				return err
			}
			result.DirectoryIDs = []string{id}
			return nil
		}

		dirIDs, err := s.dirRepo.DeleteSubtree(txCtx, dir.Path)
		if err != nil {
			return err
		}
		docIDs, err := s.docRepo.MarkDeletedByDirectories(txCtx, dirIDs)
		if err != nil {
			return err
		}

		result.DirectoryIDs = dirIDs
		result.DocumentIDs = docIDs
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("directory deleted",
		"id", id,
		"cascade", cascade,
		"directories_removed", len(result.DirectoryIDs),
		"documents_removed", len(result.DocumentIDs),
	)

	return result, nil
}

// MoveDirectory reparents a directory, rewriting descendant paths atomically
func (s *directoryService) MoveDirectory(ctx context.Context, req *services.MoveDirectoryRequest) (*services.MoveDirectoryResult, error) {
	req.NewParentID = normalizeID(req.NewParentID)

	if err := s.validateMoveRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if req.NewParentID != nil && *req.NewParentID == req.ID {
		return nil, &domain.ConflictError{
			Message:      "cannot move a directory into itself",
			ResourceType: "directory",
			ResourceID:   req.ID,
		}
	}

	result := &services.MoveDirectoryResult{ChangedDescendantIDs: []string{}}
	err := s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		// Fixed lock order: destination parent first, then the moved node.
		var parentPath string
		if req.NewParentID != nil {
			newParent, err := s.dirRepo.GetByIDForUpdate(txCtx, *req.NewParentID)
			if err != nil {
				return err
			}
			// O(depth) cycle check: a destination whose path contains the
			// moved id is a descendant of it
			if models.PathContains(newParent.Path, req.ID) {
				return &domain.ConflictError{
					Message:      "cannot move a directory under its own descendant: would create a cycle",
					ResourceType: "directory",
					ResourceID:   req.ID,
				}
			}
			parentPath = newParent.Path
		}

		dir, err := s.dirRepo.GetByIDForUpdate(txCtx, req.ID)
		if err != nil {
			return err
		}

		siblings, err := s.dirRepo.ListChildrenForUpdate(txCtx, req.NewParentID)
		if err != nil {
			return fmt.Errorf("list destination siblings: %w", err)
		}

		// Exclude the moved node when it already lives in the destination
		others := make([]models.Directory, 0, len(siblings))
		for _, sibling := range siblings {
			if sibling.ID == dir.ID {
				continue
			}
			if sibling.Name == dir.Name {
				return &domain.ConflictError{
					Message:      fmt.Sprintf("directory %q already exists in this location", dir.Name),
					ResourceType: "directory",
					ResourceID:   sibling.ID,
				}
			}
			others = append(others, sibling)
		}

		orderIndex, err := s.placeAmongSiblings(txCtx, others, req.Position)
		if err != nil {
			return err
		}

		oldPath := dir.Path
		newPath := models.ChildPath(parentPath, dir.ID)

		dir.ParentID = req.NewParentID
		dir.OrderIndex = orderIndex
		dir.Path = newPath
		dir.UpdatedAt = time.Now()
		if err := s.dirRepo.Update(txCtx, dir); err != nil {
			return err
		}

		if newPath != oldPath {
			changed, err := s.dirRepo.RewriteSubtreePaths(txCtx, oldPath, newPath)
			if err != nil {
				return err
			}
			result.ChangedDescendantIDs = changed
		}

		result.Directory = dir
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("directory moved",
		"id", result.Directory.ID,
		"new_parent_id", result.Directory.ParentID,
		"path", result.Directory.Path,
		"descendants_rewritten", len(result.ChangedDescendantIDs),
	)

	return result, nil
}

// placeAmongSiblings computes the order index for inserting a node into the
// sibling set at position (nil = end). When two neighbors have no integer
// room left, the whole set is renumbered with the standard gap first; the
// renumber is invisible to the caller and never partial because it shares
// the move transaction.
func (s *directoryService) placeAmongSiblings(ctx context.Context, siblings []models.Directory, position *int) (int64, error) {
	pos := len(siblings)
	if position != nil {
		pos = *position
		if pos < 0 {
			pos = 0
		}
		if pos > len(siblings) {
			pos = len(siblings)
		}
	}

	gap := int64(config.OrderIndexGap)

	switch {
	case len(siblings) == 0:
		return gap, nil
	case pos == 0:
		return siblings[0].OrderIndex - gap, nil
	case pos == len(siblings):
		return siblings[len(siblings)-1].OrderIndex + gap, nil
	}

	prev := siblings[pos-1].OrderIndex
	next := siblings[pos].OrderIndex
	mid := prev + (next-prev)/2
	if mid > prev && mid < next {
		return mid, nil
	}

	// Gap exhausted: renumber the full sibling set with the moved node in
	// its slot
	assignments := make([]repositories.OrderAssignment, 0, len(siblings))
	index := int64(0)
	var movedIndex int64
	for i, sibling := range siblings {
		if i == pos {
			index += gap
			movedIndex = index
		}
		index += gap
		assignments = append(assignments, repositories.OrderAssignment{ID: sibling.ID, OrderIndex: index})
	}

	if err := s.dirRepo.UpdateOrderIndexes(ctx, assignments); err != nil {
		return 0, err
	}

	return movedIndex, nil
}

// ReorderDirectories applies an exact permutation of a sibling set.
// Any mismatch with the current child-id set fails validation and nothing
// is written.
func (s *directoryService) ReorderDirectories(ctx context.Context, req *services.ReorderDirectoriesRequest) ([]models.Directory, error) {
	req.ParentID = normalizeID(req.ParentID)

	var reordered []models.Directory
	err := s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		if req.ParentID != nil {
			if _, err := s.dirRepo.GetByIDForUpdate(txCtx, *req.ParentID); err != nil {
				return err
			}
		}

		children, err := s.dirRepo.ListChildrenForUpdate(txCtx, req.ParentID)
		if err != nil {
			return fmt.Errorf("list children: %w", err)
		}

		byID := make(map[string]models.Directory, len(children))
		for _, child := range children {
			byID[child.ID] = child
		}

		if len(req.OrderedIDs) != len(children) {
			return fmt.Errorf("%w: ordered_ids has %d entries, sibling set has %d",
				domain.ErrValidation, len(req.OrderedIDs), len(children))
		}

		seen := make(map[string]bool, len(req.OrderedIDs))
		assignments := make([]repositories.OrderAssignment, 0, len(req.OrderedIDs))
		reordered = make([]models.Directory, 0, len(req.OrderedIDs))
		for i, id := range req.OrderedIDs {
			if seen[id] {
				return fmt.Errorf("%w: duplicate id %s in ordered_ids", domain.ErrValidation, id)
			}
			seen[id] = true

			child, ok := byID[id]
			if !ok {
				return fmt.Errorf("%w: id %s is not a child of this directory", domain.ErrValidation, id)
			}

			orderIndex := int64(i+1) * config.OrderIndexGap
			child.OrderIndex = orderIndex
			assignments = append(assignments, repositories.OrderAssignment{ID: id, OrderIndex: orderIndex})
			reordered = append(reordered, child)
		}

		return s.dirRepo.UpdateOrderIndexes(txCtx, assignments)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("siblings reordered", "parent_id", req.ParentID, "count", len(reordered))

	return reordered, nil
}

// GetDirectoryStats computes aggregate counts for a subtree, or globally
// when id is nil. Counts are derived from a subtree walk on every call;
// correctness, not caching, is the contract here.
func (s *directoryService) GetDirectoryStats(ctx context.Context, id *string) (*models.DirectoryStats, error) {
	id = normalizeID(id)

	if id == nil {
		rootCount, err := s.dirRepo.CountChildren(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("count roots: %w", err)
		}
		unfiledCount, err := s.docRepo.CountByDirectory(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("count unfiled documents: %w", err)
		}
		totalDirs, err := s.dirRepo.CountAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("count directories: %w", err)
		}
		totalDocs, err := s.docRepo.CountActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("count documents: %w", err)
		}

		return &models.DirectoryStats{
			ChildDirectoryCount: rootCount,
			DocumentCount:       unfiledCount,
			TotalDirectoryCount: totalDirs,
			TotalDocumentCount:  totalDocs,
		}, nil
	}

	dir, err := s.dirRepo.GetByID(ctx, *id)
	if err != nil {
		return nil, err
	}

	childCount, err := s.dirRepo.CountChildren(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count children: %w", err)
	}
	docCount, err := s.docRepo.CountByDirectory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	descendants, err := s.dirRepo.ListSubtree(ctx, dir.Path)
	if err != nil {
		return nil, fmt.Errorf("list subtree: %w", err)
	}

	subtreeIDs := make([]string, 0, len(descendants)+1)
	subtreeIDs = append(subtreeIDs, dir.ID)
	for _, d := range descendants {
		subtreeIDs = append(subtreeIDs, d.ID)
	}

	totalDocs, err := s.docRepo.CountByDirectories(ctx, subtreeIDs)
	if err != nil {
		return nil, fmt.Errorf("count subtree documents: %w", err)
	}

	return &models.DirectoryStats{
		DirectoryID:         id,
		ChildDirectoryCount: childCount,
		DocumentCount:       docCount,
		TotalDirectoryCount: len(descendants),
		TotalDocumentCount:  totalDocs,
	}, nil
}

// validateCreateRequest validates a directory creation request
func (s *directoryService) validateCreateRequest(req *services.CreateDirectoryRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Name,
			validation.Required,
			validation.Length(1, config.MaxDirectoryNameLength),
			validation.Match(directoryNamePattern).Error("directory name cannot contain slashes"),
		),
	)
}

// validateUpdateRequest validates a rename request
func (s *directoryService) validateUpdateRequest(req *services.UpdateDirectoryRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Name,
			validation.Required,
			validation.Length(1, config.MaxDirectoryNameLength),
			validation.Match(directoryNamePattern).Error("directory name cannot contain slashes"),
		),
	)
}

// validateMoveRequest validates a move request
func (s *directoryService) validateMoveRequest(req *services.MoveDirectoryRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.ID, validation.Required),
	)
}

// normalizeID maps a pointer to the empty string to nil, so JSON clients can
// send "" for the root level
func normalizeID(id *string) *string {
	if id != nil && *id == "" {
		return nil
	}
	return id
}
