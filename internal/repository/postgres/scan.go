package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"arbor/internal/domain/models"
)

// scanDirectories collects directory rows selected with directoryColumns
func scanDirectories(rows pgx.Rows) ([]models.Directory, error) {
	var dirs []models.Directory
	for rows.Next() {
		var dir models.Directory
		err := rows.Scan(
			&dir.ID,
			&dir.ParentID,
			&dir.Name,
			&dir.OrderIndex,
			&dir.Path,
			&dir.CreatedAt,
			&dir.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan directory: %w", err)
		}
		dirs = append(dirs, dir)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate directories: %w", err)
	}

	// Return empty slice instead of nil
	if dirs == nil {
		dirs = []models.Directory{}
	}

	return dirs, nil
}

// scanIDs collects rows from statements returning a single id column
func scanIDs(rows pgx.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}

	if ids == nil {
		ids = []string{}
	}

	return ids, nil
}
