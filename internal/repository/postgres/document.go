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

// PostgresDocumentRepository implements the narrow DocumentRepository
// contract the core consumes from the canonical document store.
type PostgresDocumentRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(config *RepositoryConfig) repositories.DocumentRepository {
	return &PostgresDocumentRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const documentColumns = "id, directory_id, title, content, status, updated_at"

// GetByID retrieves a document regardless of status. Callers inspect Status
// to decide between index upsert and removal.
func (r *PostgresDocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = $1
	`, documentColumns, r.tables.Documents)

	var doc models.Document
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, id).Scan(
		&doc.ID,
		&doc.DirectoryID,
		&doc.Title,
		&doc.Content,
		&doc.Status,
		&doc.UpdatedAt,
	)

	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get document: %w", err)
	}

	return &doc, nil
}

// ListActiveAfter pages through active documents in id order (keyset
// pagination, so a full reindex never holds a long-running cursor).
func (r *PostgresDocumentRepository) ListActiveAfter(ctx context.Context, afterID string, limit int) ([]models.Document, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE status = 'active' AND id > $1
		ORDER BY id ASC
		LIMIT $2
	`, documentColumns, r.tables.Documents)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list active documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var doc models.Document
		err := rows.Scan(
			&doc.ID,
			&doc.DirectoryID,
			&doc.Title,
			&doc.Content,
			&doc.Status,
			&doc.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	if docs == nil {
		docs = []models.Document{}
	}

	return docs, nil
}

// CountByDirectory counts active documents directly in a directory
// (nil = unfiled documents)
func (r *PostgresDocumentRepository) CountByDirectory(ctx context.Context, directoryID *string) (int, error) {
	var query string
	var args []interface{}

	if directoryID == nil {
		query = fmt.Sprintf(`
			SELECT COUNT(*) FROM %s
			WHERE directory_id IS NULL AND status = 'active'
		`, r.tables.Documents)
	} else {
		query = fmt.Sprintf(`
			SELECT COUNT(*) FROM %s
			WHERE directory_id = $1 AND status = 'active'
		`, r.tables.Documents)
		args = append(args, *directoryID)
	}

	var count int
	executor := GetExecutor(ctx, r.pool)
	if err := executor.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents in directory: %w", err)
	}

	return count, nil
}

// CountByDirectories counts active documents across a set of directories
func (r *PostgresDocumentRepository) CountByDirectories(ctx context.Context, directoryIDs []string) (int, error) {
	if len(directoryIDs) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s
		WHERE directory_id = ANY($1) AND status = 'active'
	`, r.tables.Documents)

	var count int
	executor := GetExecutor(ctx, r.pool)
	if err := executor.QueryRow(ctx, query, directoryIDs).Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents in directories: %w", err)
	}

	return count, nil
}

// CountActive counts every active document in the store
func (r *PostgresDocumentRepository) CountActive(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s WHERE status = 'active'
	`, r.tables.Documents)

	var count int
	executor := GetExecutor(ctx, r.pool)
	if err := executor.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active documents: %w", err)
	}

	return count, nil
}

// MarkDeletedByDirectories soft-deletes all active documents under the given
// directories, returning the affected document ids for index cleanup
func (r *PostgresDocumentRepository) MarkDeletedByDirectories(ctx context.Context, directoryIDs []string) ([]string, error) {
	if len(directoryIDs) == 0 {
		return []string{}, nil
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'deleted', updated_at = NOW()
		WHERE directory_id = ANY($1) AND status = 'active'
		RETURNING id
	`, r.tables.Documents)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, directoryIDs)
	if err != nil {
		return nil, fmt.Errorf("mark documents deleted: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}
