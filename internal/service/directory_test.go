package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"arbor/internal/domain"
	"arbor/internal/domain/models"
	"arbor/internal/domain/services"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func newDirectoryFixture() (*fakeDirectoryRepo, *fakeDocumentRepo, services.DirectoryService) {
	dirRepo := newFakeDirectoryRepo()
	docRepo := newFakeDocumentRepo()
	svc := NewDirectoryService(dirRepo, docRepo, fakeTxManager{}, testLogger())
	return dirRepo, docRepo, svc
}

// seedTree builds:
//
//	root1 (order 1000)
//	  child1 (order 1000)
//	    grand1 (order 1000)
//	  child2 (order 2000)
//	root2 (order 2000)
func seedTree(dirRepo *fakeDirectoryRepo) {
	now := time.Now()
	dirRepo.seed(models.Directory{ID: "root1", Name: "Projects", OrderIndex: 1000, Path: "/root1", CreatedAt: now, UpdatedAt: now})
	dirRepo.seed(models.Directory{ID: "root2", Name: "Archive", OrderIndex: 2000, Path: "/root2", CreatedAt: now, UpdatedAt: now})
	dirRepo.seed(models.Directory{ID: "child1", ParentID: strPtr("root1"), Name: "Alpha", OrderIndex: 1000, Path: "/root1/child1", CreatedAt: now, UpdatedAt: now})
	dirRepo.seed(models.Directory{ID: "child2", ParentID: strPtr("root1"), Name: "Beta", OrderIndex: 2000, Path: "/root1/child2", CreatedAt: now, UpdatedAt: now})
	dirRepo.seed(models.Directory{ID: "grand1", ParentID: strPtr("child1"), Name: "Notes", OrderIndex: 1000, Path: "/root1/child1/grand1", CreatedAt: now, UpdatedAt: now})
}

func TestCreateDirectory(t *testing.T) {
	ctx := context.Background()

	t.Run("creates root directory with first gapped index", func(t *testing.T) {
		_, _, svc := newDirectoryFixture()

		dir, err := svc.CreateDirectory(ctx, &services.CreateDirectoryRequest{Name: "Projects"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.ParentID != nil {
			t.Errorf("expected nil parent, got %v", *dir.ParentID)
		}
		if dir.OrderIndex != 1000 {
			t.Errorf("expected order index 1000, got %d", dir.OrderIndex)
		}
		if dir.Path != "/"+dir.ID {
			t.Errorf("expected path /%s, got %s", dir.ID, dir.Path)
		}
	})

	t.Run("appends after last sibling", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		dir, err := svc.CreateDirectory(ctx, &services.CreateDirectoryRequest{
			ParentID: strPtr("root1"),
			Name:     "Gamma",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.OrderIndex != 3000 {
			t.Errorf("expected order index 3000 after siblings at 1000/2000, got %d", dir.OrderIndex)
		}
		if dir.Path != "/root1/"+dir.ID {
			t.Errorf("expected path under parent, got %s", dir.Path)
		}
	})

	t.Run("duplicate sibling name conflicts with existing id", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		_, err := svc.CreateDirectory(ctx, &services.CreateDirectoryRequest{
			ParentID: strPtr("root1"),
			Name:     "Alpha",
		})
		var conflictErr *domain.ConflictError
		if !errors.As(err, &conflictErr) {
			t.Fatalf("expected ConflictError, got %v", err)
		}
		if conflictErr.ResourceID != "child1" {
			t.Errorf("expected existing id child1, got %s", conflictErr.ResourceID)
		}
	})

	t.Run("same name under different parents is allowed", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		_, err := svc.CreateDirectory(ctx, &services.CreateDirectoryRequest{
			ParentID: strPtr("root2"),
			Name:     "Alpha",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("rejects invalid names", func(t *testing.T) {
		_, _, svc := newDirectoryFixture()

		for _, name := range []string{"", "a/b", string(make([]byte, 300))} {
			_, err := svc.CreateDirectory(ctx, &services.CreateDirectoryRequest{Name: name})
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("name %q: expected validation error, got %v", name, err)
			}
		}
	})

	t.Run("missing parent is not found", func(t *testing.T) {
		_, _, svc := newDirectoryFixture()

		_, err := svc.CreateDirectory(ctx, &services.CreateDirectoryRequest{
			ParentID: strPtr("nope"),
			Name:     "Orphan",
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestUpdateDirectory(t *testing.T) {
	ctx := context.Background()

	t.Run("renames directory", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		dir, err := svc.UpdateDirectory(ctx, "child1", &services.UpdateDirectoryRequest{Name: "Renamed"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Name != "Renamed" {
			t.Errorf("expected Renamed, got %s", dir.Name)
		}
		if dir.Path != "/root1/child1" {
			t.Errorf("rename must not touch path, got %s", dir.Path)
		}
	})

	t.Run("duplicate sibling name conflicts", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		_, err := svc.UpdateDirectory(ctx, "child1", &services.UpdateDirectoryRequest{Name: "Beta"})
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected conflict, got %v", err)
		}
	})

	t.Run("renaming to own name succeeds", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		if _, err := svc.UpdateDirectory(ctx, "child1", &services.UpdateDirectoryRequest{Name: "Alpha"}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("missing directory is not found", func(t *testing.T) {
		_, _, svc := newDirectoryFixture()

		_, err := svc.UpdateDirectory(ctx, "nope", &services.UpdateDirectoryRequest{Name: "X"})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestDeleteDirectory(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes empty directory without cascade", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		result, err := svc.DeleteDirectory(ctx, "grand1", false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.DirectoryIDs) != 1 || result.DirectoryIDs[0] != "grand1" {
			t.Errorf("expected [grand1], got %v", result.DirectoryIDs)
		}
		if _, err := dirRepo.GetByID(ctx, "grand1"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("directory should be gone, got %v", err)
		}
	})

	t.Run("non-empty directory without cascade conflicts", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		_, err := svc.DeleteDirectory(ctx, "root1", false)
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected conflict, got %v", err)
		}
		if _, err := dirRepo.GetByID(ctx, "root1"); err != nil {
			t.Errorf("directory must survive the failed delete: %v", err)
		}
	})

	t.Run("directory with documents without cascade conflicts", func(t *testing.T) {
		dirRepo, docRepo, svc := newDirectoryFixture()
		seedTree(dirRepo)
		docRepo.seed(models.Document{ID: "doc1", DirectoryID: strPtr("grand1"), Title: "T", Status: models.DocumentStatusActive})

		_, err := svc.DeleteDirectory(ctx, "grand1", false)
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected conflict, got %v", err)
		}
	})

	t.Run("cascade removes subtree and marks documents deleted", func(t *testing.T) {
		dirRepo, docRepo, svc := newDirectoryFixture()
		seedTree(dirRepo)
		docRepo.seed(models.Document{ID: "doc1", DirectoryID: strPtr("child1"), Title: "A", Status: models.DocumentStatusActive})
		docRepo.seed(models.Document{ID: "doc2", DirectoryID: strPtr("grand1"), Title: "B", Status: models.DocumentStatusActive})
		docRepo.seed(models.Document{ID: "doc3", DirectoryID: strPtr("root2"), Title: "C", Status: models.DocumentStatusActive})

		result, err := svc.DeleteDirectory(ctx, "root1", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.DirectoryIDs) != 4 {
			t.Errorf("expected 4 removed directories, got %v", result.DirectoryIDs)
		}
		if len(result.DocumentIDs) != 2 {
			t.Errorf("expected 2 removed documents, got %v", result.DocumentIDs)
		}

		doc, err := docRepo.GetByID(ctx, "doc1")
		if err != nil {
			t.Fatalf("cascaded document must still exist in the store: %v", err)
		}
		if doc.Status != models.DocumentStatusDeleted {
			t.Errorf("expected deleted status, got %s", doc.Status)
		}

		other, _ := docRepo.GetByID(ctx, "doc3")
		if other.Status != models.DocumentStatusActive {
			t.Errorf("documents outside the subtree must be untouched")
		}
	})
}

func TestMoveDirectory(t *testing.T) {
	ctx := context.Background()

	t.Run("reparents and rewrites descendant paths", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		result, err := svc.MoveDirectory(ctx, &services.MoveDirectoryRequest{
			ID:          "child1",
			NewParentID: strPtr("root2"),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Directory.Path != "/root2/child1" {
			t.Errorf("expected path /root2/child1, got %s", result.Directory.Path)
		}
		if len(result.ChangedDescendantIDs) != 1 || result.ChangedDescendantIDs[0] != "grand1" {
			t.Errorf("expected changed descendants [grand1], got %v", result.ChangedDescendantIDs)
		}

		grand, _ := dirRepo.GetByID(ctx, "grand1")
		if grand.Path != "/root2/child1/grand1" {
			t.Errorf("descendant path not rewritten, got %s", grand.Path)
		}
	})

	t.Run("move to root", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		result, err := svc.MoveDirectory(ctx, &services.MoveDirectoryRequest{ID: "child1"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Directory.ParentID != nil {
			t.Errorf("expected nil parent, got %v", *result.Directory.ParentID)
		}
		if result.Directory.Path != "/child1" {
			t.Errorf("expected path /child1, got %s", result.Directory.Path)
		}
	})

	t.Run("moving into itself conflicts", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		_, err := svc.MoveDirectory(ctx, &services.MoveDirectoryRequest{
			ID:          "child1",
			NewParentID: strPtr("child1"),
		})
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected conflict, got %v", err)
		}
	})

	t.Run("moving under own descendant conflicts", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		_, err := svc.MoveDirectory(ctx, &services.MoveDirectoryRequest{
			ID:          "root1",
			NewParentID: strPtr("grand1"),
		})
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected cycle conflict, got %v", err)
		}

		// Nothing may have moved
		root, _ := dirRepo.GetByID(ctx, "root1")
		if root.Path != "/root1" {
			t.Errorf("failed move must not change paths, got %s", root.Path)
		}
	})

	t.Run("duplicate name in destination conflicts", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)
		now := time.Now()
		dirRepo.seed(models.Directory{ID: "other", ParentID: strPtr("root2"), Name: "Alpha", OrderIndex: 1000, Path: "/root2/other", CreatedAt: now, UpdatedAt: now})

		_, err := svc.MoveDirectory(ctx, &services.MoveDirectoryRequest{
			ID:          "child1",
			NewParentID: strPtr("root2"),
		})
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected conflict, got %v", err)
		}
	})

	t.Run("position inserts between siblings at midpoint", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		result, err := svc.MoveDirectory(ctx, &services.MoveDirectoryRequest{
			ID:          "root2",
			NewParentID: strPtr("root1"),
			Position:    intPtr(1),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Directory.OrderIndex != 1500 {
			t.Errorf("expected midpoint 1500 between 1000 and 2000, got %d", result.Directory.OrderIndex)
		}
	})

	t.Run("gap exhaustion renumbers sibling set", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		now := time.Now()
		dirRepo.seed(models.Directory{ID: "p", Name: "P", OrderIndex: 1000, Path: "/p", CreatedAt: now, UpdatedAt: now})
		dirRepo.seed(models.Directory{ID: "a", ParentID: strPtr("p"), Name: "A", OrderIndex: 1, Path: "/p/a", CreatedAt: now, UpdatedAt: now})
		dirRepo.seed(models.Directory{ID: "b", ParentID: strPtr("p"), Name: "B", OrderIndex: 2, Path: "/p/b", CreatedAt: now, UpdatedAt: now})
		dirRepo.seed(models.Directory{ID: "m", Name: "M", OrderIndex: 2000, Path: "/m", CreatedAt: now, UpdatedAt: now})

		result, err := svc.MoveDirectory(ctx, &services.MoveDirectoryRequest{
			ID:          "m",
			NewParentID: strPtr("p"),
			Position:    intPtr(1),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		a, _ := dirRepo.GetByID(ctx, "a")
		b, _ := dirRepo.GetByID(ctx, "b")
		if !(a.OrderIndex < result.Directory.OrderIndex && result.Directory.OrderIndex < b.OrderIndex) {
			t.Errorf("expected a < m < b after renumber, got a=%d m=%d b=%d",
				a.OrderIndex, result.Directory.OrderIndex, b.OrderIndex)
		}
	})

	t.Run("missing directory is not found", func(t *testing.T) {
		_, _, svc := newDirectoryFixture()

		_, err := svc.MoveDirectory(ctx, &services.MoveDirectoryRequest{ID: "nope"})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestReorderDirectories(t *testing.T) {
	ctx := context.Background()

	t.Run("applies full permutation with fresh gapped indexes", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		dirs, err := svc.ReorderDirectories(ctx, &services.ReorderDirectoriesRequest{
			ParentID:   strPtr("root1"),
			OrderedIDs: []string{"child2", "child1"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dirs[0].ID != "child2" || dirs[0].OrderIndex != 1000 {
			t.Errorf("expected child2 first at 1000, got %s at %d", dirs[0].ID, dirs[0].OrderIndex)
		}
		if dirs[1].ID != "child1" || dirs[1].OrderIndex != 2000 {
			t.Errorf("expected child1 second at 2000, got %s at %d", dirs[1].ID, dirs[1].OrderIndex)
		}
	})

	t.Run("reorders root level", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		dirs, err := svc.ReorderDirectories(ctx, &services.ReorderDirectoriesRequest{
			OrderedIDs: []string{"root2", "root1"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dirs[0].ID != "root2" {
			t.Errorf("expected root2 first, got %s", dirs[0].ID)
		}
	})

	t.Run("rejects incomplete permutations", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		tests := []struct {
			name string
			ids  []string
		}{
			{"missing id", []string{"child1"}},
			{"duplicate id", []string{"child1", "child1"}},
			{"foreign id", []string{"child1", "root2"}},
			{"extra id", []string{"child1", "child2", "grand1"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.ReorderDirectories(ctx, &services.ReorderDirectoriesRequest{
					ParentID:   strPtr("root1"),
					OrderedIDs: tt.ids,
				})
				if !errors.Is(err, domain.ErrValidation) {
					t.Errorf("expected validation error, got %v", err)
				}

				// All-or-nothing: original order must survive
				children, _ := dirRepo.ListChildren(ctx, strPtr("root1"))
				if children[0].ID != "child1" || children[1].ID != "child2" {
					t.Errorf("failed reorder must not change order")
				}
			})
		}
	})
}

func TestGetDirectory(t *testing.T) {
	ctx := context.Background()

	t.Run("returns breadcrumb root first", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		detail, err := svc.GetDirectory(ctx, "grand1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []string{"Projects", "Alpha", "Notes"}
		if len(detail.Breadcrumb) != len(want) {
			t.Fatalf("expected %d breadcrumb items, got %d", len(want), len(detail.Breadcrumb))
		}
		for i, name := range want {
			if detail.Breadcrumb[i].Name != name {
				t.Errorf("breadcrumb[%d]: expected %s, got %s", i, name, detail.Breadcrumb[i].Name)
			}
		}
	})

	t.Run("missing directory is not found", func(t *testing.T) {
		_, _, svc := newDirectoryFixture()

		_, err := svc.GetDirectory(ctx, "nope")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestListDirectories(t *testing.T) {
	ctx := context.Background()

	t.Run("lists children ordered by index", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		nodes, err := svc.ListDirectories(ctx, strPtr("root1"), false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(nodes) != 2 || nodes[0].ID != "child1" || nodes[1].ID != "child2" {
			t.Errorf("expected [child1 child2], got %d nodes", len(nodes))
		}
		if len(nodes[0].Children) != 0 {
			t.Errorf("non-recursive listing must not nest children")
		}
	})

	t.Run("recursive listing nests the subtree", func(t *testing.T) {
		dirRepo, _, svc := newDirectoryFixture()
		seedTree(dirRepo)

		nodes, err := svc.ListDirectories(ctx, nil, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(nodes) != 2 {
			t.Fatalf("expected 2 roots, got %d", len(nodes))
		}
		root1 := nodes[0]
		if root1.ID != "root1" || len(root1.Children) != 2 {
			t.Fatalf("expected root1 with 2 children, got %s with %d", root1.ID, len(root1.Children))
		}
		if root1.Children[0].ID != "child1" || len(root1.Children[0].Children) != 1 {
			t.Errorf("expected child1 nesting grand1")
		}
	})

	t.Run("missing parent is not found", func(t *testing.T) {
		_, _, svc := newDirectoryFixture()

		_, err := svc.ListDirectories(ctx, strPtr("nope"), false)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestGetDirectoryStats(t *testing.T) {
	ctx := context.Background()

	dirRepo, docRepo, svc := newDirectoryFixture()
	seedTree(dirRepo)
	docRepo.seed(models.Document{ID: "d1", DirectoryID: strPtr("root1"), Status: models.DocumentStatusActive})
	docRepo.seed(models.Document{ID: "d2", DirectoryID: strPtr("child1"), Status: models.DocumentStatusActive})
	docRepo.seed(models.Document{ID: "d3", DirectoryID: strPtr("grand1"), Status: models.DocumentStatusActive})
	// d4 is unfiled, d5 is soft-deleted
	docRepo.seed(models.Document{ID: "d4", Status: models.DocumentStatusActive})
	docRepo.seed(models.Document{ID: "d5", DirectoryID: strPtr("child1"), Status: models.DocumentStatusDeleted})

	t.Run("subtree stats", func(t *testing.T) {
		stats, err := svc.GetDirectoryStats(ctx, strPtr("root1"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stats.ChildDirectoryCount != 2 {
			t.Errorf("expected 2 direct children, got %d", stats.ChildDirectoryCount)
		}
		if stats.DocumentCount != 1 {
			t.Errorf("expected 1 direct document, got %d", stats.DocumentCount)
		}
		if stats.TotalDirectoryCount != 3 {
			t.Errorf("expected 3 descendant directories, got %d", stats.TotalDirectoryCount)
		}
		if stats.TotalDocumentCount != 3 {
			t.Errorf("expected 3 active documents in subtree, got %d", stats.TotalDocumentCount)
		}
	})

	t.Run("global stats", func(t *testing.T) {
		stats, err := svc.GetDirectoryStats(ctx, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stats.ChildDirectoryCount != 2 {
			t.Errorf("expected 2 roots, got %d", stats.ChildDirectoryCount)
		}
		if stats.DocumentCount != 1 {
			t.Errorf("expected 1 unfiled document, got %d", stats.DocumentCount)
		}
		if stats.TotalDirectoryCount != 5 {
			t.Errorf("expected 5 directories, got %d", stats.TotalDirectoryCount)
		}
		if stats.TotalDocumentCount != 4 {
			t.Errorf("expected 4 active documents, got %d", stats.TotalDocumentCount)
		}
	})

	t.Run("missing directory is not found", func(t *testing.T) {
		_, err := svc.GetDirectoryStats(ctx, strPtr("nope"))
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}
