package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"arbor/internal/domain"
	"arbor/internal/domain/models"
	"arbor/internal/domain/repositories"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectoryRepository implements the DirectoryRepository interface
type PostgresDirectoryRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(config *RepositoryConfig) repositories.DirectoryRepository {
	return &PostgresDirectoryRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const directoryColumns = "id, parent_id, name, order_index, path, created_at, updated_at"

// Create creates a new directory
func (r *PostgresDirectoryRepository) Create(ctx context.Context, dir *models.Directory) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, parent_id, name, order_index, path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.tables.Directories)

	executor := GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		dir.ID,
		dir.ParentID,
		dir.Name,
		dir.OrderIndex,
		dir.Path,
		dir.CreatedAt,
		dir.UpdatedAt,
	)

	if err != nil {
		if IsPgDuplicateError(err) {
			existingID, queryErr := r.getExistingDirectoryID(ctx, dir.ParentID, dir.Name)
			if queryErr != nil {
				return fmt.Errorf("directory %q already exists in this location: %w", dir.Name, domain.ErrConflict)
			}
			return &domain.ConflictError{
				Message:      fmt.Sprintf("directory %q already exists in this location", dir.Name),
				ResourceType: "directory",
				ResourceID:   existingID,
			}
		}
		return fmt.Errorf("create directory: %w", err)
	}

	return nil
}

// GetByID retrieves a directory by ID
func (r *PostgresDirectoryRepository) GetByID(ctx context.Context, id string) (*models.Directory, error) {
	return r.getByID(ctx, id, false)
}

// GetByIDForUpdate retrieves a directory by ID, taking a row lock for the
// duration of the enclosing transaction
func (r *PostgresDirectoryRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Directory, error) {
	return r.getByID(ctx, id, true)
}

func (r *PostgresDirectoryRepository) getByID(ctx context.Context, id string, forUpdate bool) (*models.Directory, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = $1
	`, directoryColumns, r.tables.Directories)
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var dir models.Directory
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, id).Scan(
		&dir.ID,
		&dir.ParentID,
		&dir.Name,
		&dir.OrderIndex,
		&dir.Path,
		&dir.CreatedAt,
		&dir.UpdatedAt,
	)

	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("directory %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get directory: %w", err)
	}

	return &dir, nil
}

// GetByIDs retrieves multiple directories by id, used for breadcrumb resolution
func (r *PostgresDirectoryRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Directory, error) {
	if len(ids) == 0 {
		return []models.Directory{}, nil
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = ANY($1)
	`, directoryColumns, r.tables.Directories)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get directories by ids: %w", err)
	}
	defer rows.Close()

	return scanDirectories(rows)
}

// Update persists name, parent, order index, path and updated_at
func (r *PostgresDirectoryRepository) Update(ctx context.Context, dir *models.Directory) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET parent_id = $1, name = $2, order_index = $3, path = $4, updated_at = $5
		WHERE id = $6
	`, r.tables.Directories)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		dir.ParentID,
		dir.Name,
		dir.OrderIndex,
		dir.Path,
		dir.UpdatedAt,
		dir.ID,
	)

	if err != nil {
		if IsPgDuplicateError(err) {
			existingID, queryErr := r.getExistingDirectoryID(ctx, dir.ParentID, dir.Name)
			if queryErr != nil {
				return fmt.Errorf("directory %q already exists in this location: %w", dir.Name, domain.ErrConflict)
			}
			return &domain.ConflictError{
				Message:      fmt.Sprintf("directory %q already exists in this location", dir.Name),
				ResourceType: "directory",
				ResourceID:   existingID,
			}
		}
		return fmt.Errorf("update directory: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("directory %s: %w", dir.ID, domain.ErrNotFound)
	}

	return nil
}

// Delete removes a single directory row
func (r *PostgresDirectoryRepository) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE id = $1
	`, r.tables.Directories)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete directory: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("directory %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

// ListChildren lists immediate children ordered by order index
func (r *PostgresDirectoryRepository) ListChildren(ctx context.Context, parentID *string) ([]models.Directory, error) {
	return r.listChildren(ctx, parentID, false)
}

// ListChildrenForUpdate is ListChildren with row locks on the sibling set
func (r *PostgresDirectoryRepository) ListChildrenForUpdate(ctx context.Context, parentID *string) ([]models.Directory, error) {
	return r.listChildren(ctx, parentID, true)
}

func (r *PostgresDirectoryRepository) listChildren(ctx context.Context, parentID *string, forUpdate bool) ([]models.Directory, error) {
	var query string
	var args []interface{}

	if parentID == nil {
		query = fmt.Sprintf(`
			SELECT %s
			FROM %s
			WHERE parent_id IS NULL
			ORDER BY order_index ASC
		`, directoryColumns, r.tables.Directories)
	} else {
		query = fmt.Sprintf(`
			SELECT %s
			FROM %s
			WHERE parent_id = $1
			ORDER BY order_index ASC
		`, directoryColumns, r.tables.Directories)
		args = append(args, *parentID)
	}

	if forUpdate {
		query += ` FOR UPDATE`
	}

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	return scanDirectories(rows)
}

// ListSubtree lists all descendants of the directory owning path,
// excluding the node itself, ordered by path
func (r *PostgresDirectoryRepository) ListSubtree(ctx context.Context, path string) ([]models.Directory, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE path LIKE $1 || '/%%'
		ORDER BY path ASC
	`, directoryColumns, r.tables.Directories)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, path)
	if err != nil {
		return nil, fmt.Errorf("list subtree: %w", err)
	}
	defer rows.Close()

	return scanDirectories(rows)
}

// DeleteSubtree removes the directory owning path and every descendant in
// one statement, returning the removed directory ids. Running inside the
// caller's transaction keeps partial removal unobservable.
func (r *PostgresDirectoryRepository) DeleteSubtree(ctx context.Context, path string) ([]string, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE path = $1 OR path LIKE $1 || '/%%'
		RETURNING id
	`, r.tables.Directories)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, path)
	if err != nil {
		return nil, fmt.Errorf("delete subtree: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// RewriteSubtreePaths replaces the oldPath prefix with newPath on every
// descendant in a single statement, returning the ids whose path changed.
// A crash mid-move can never leave torn paths because this runs inside the
// move transaction.
func (r *PostgresDirectoryRepository) RewriteSubtreePaths(ctx context.Context, oldPath, newPath string) ([]string, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET path = $2 || substr(path, char_length($1) + 1), updated_at = NOW()
		WHERE path LIKE $1 || '/%%'
		RETURNING id
	`, r.tables.Directories)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, oldPath, newPath)
	if err != nil {
		return nil, fmt.Errorf("rewrite subtree paths: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// UpdateOrderIndexes applies a batch of sibling order assignments in one statement
func (r *PostgresDirectoryRepository) UpdateOrderIndexes(ctx context.Context, assignments []repositories.OrderAssignment) error {
	if len(assignments) == 0 {
		return nil
	}

	ids := make([]string, len(assignments))
	orders := make([]int64, len(assignments))
	for i, a := range assignments {
		ids[i] = a.ID
		orders[i] = a.OrderIndex
	}

	query := fmt.Sprintf(`
		UPDATE %s AS d
		SET order_index = u.ord, updated_at = NOW()
		FROM (SELECT unnest($1::text[]) AS id, unnest($2::bigint[]) AS ord) AS u
		WHERE d.id = u.id
	`, r.tables.Directories)

	executor := GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, ids, orders); err != nil {
		return fmt.Errorf("update order indexes: %w", err)
	}

	return nil
}

// CountChildren counts immediate child directories
func (r *PostgresDirectoryRepository) CountChildren(ctx context.Context, parentID *string) (int, error) {
	var query string
	var args []interface{}

	if parentID == nil {
		query = fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE parent_id IS NULL`, r.tables.Directories)
	} else {
		query = fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE parent_id = $1`, r.tables.Directories)
		args = append(args, *parentID)
	}

	var count int
	executor := GetExecutor(ctx, r.pool)
	if err := executor.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count children: %w", err)
	}

	return count, nil
}

// CountAll counts every directory in the forest
func (r *PostgresDirectoryRepository) CountAll(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, r.tables.Directories)

	var count int
	executor := GetExecutor(ctx, r.pool)
	if err := executor.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count directories: %w", err)
	}

	return count, nil
}

// getExistingDirectoryID queries for an existing directory by unique constraint fields
func (r *PostgresDirectoryRepository) getExistingDirectoryID(ctx context.Context, parentID *string, name string) (string, error) {
	var query string
	var err error
	var id string
	executor := GetExecutor(ctx, r.pool)

	if parentID == nil {
		query = fmt.Sprintf(`
			SELECT id
			FROM %s
			WHERE parent_id IS NULL AND name = $1
		`, r.tables.Directories)
		err = executor.QueryRow(ctx, query, name).Scan(&id)
	} else {
		query = fmt.Sprintf(`
			SELECT id
			FROM %s
			WHERE parent_id = $1 AND name = $2
		`, r.tables.Directories)
		err = executor.QueryRow(ctx, query, *parentID, name).Scan(&id)
	}

	if err != nil {
		return "", fmt.Errorf("get existing directory ID: %w", err)
	}

	return id, nil
}
