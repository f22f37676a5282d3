package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"arbor/internal/domain/models"
	"arbor/internal/search"
)

// Adapter implements search.Adapter on an embedded SQLite database.
// Each index generation is its own table; when the build has FTS5, records
// live in an fts5 virtual table and queries rank with bm25, otherwise a
// plain table with LIKE matching serves as a degraded fallback.
type Adapter struct {
	db     *sql.DB
	tuning *search.Tuning

	// useFTS is probed once at open and never written afterwards, so
	// queries can read it without synchronization
	useFTS bool

	// ensureMu serializes EnsureSchema's check-then-create of the initial
	// live generation
	ensureMu sync.Mutex
}

// generation names are allocated by this adapter; the pattern guards the
// table-name interpolation below against anything else.
var genPattern = regexp.MustCompile(`^g[0-9]+$`)

// NewAdapter opens (or creates) the index database at path.
// Use ":memory:" for an ephemeral index in tests.
func NewAdapter(path string, tuning *search.Tuning) (*Adapter, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping index database: %w", err)
	}

	// A single connection keeps generation DDL and meta updates ordered and
	// avoids table-missing races between pooled connections on :memory: DBs.
	db.SetMaxOpenConns(1)

	a := &Adapter{db: db, tuning: tuning}
	a.useFTS = a.checkFTS5Support()

	return a, nil
}

// EnsureSchema creates the metadata table and an initial live generation if
// absent. Idempotent; safe to call from concurrent initializers.
func (a *Adapter) EnsureSchema(ctx context.Context) error {
	a.ensureMu.Lock()
	defer a.ensureMu.Unlock()

	metaSchema := `
	CREATE TABLE IF NOT EXISTS search_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := a.db.ExecContext(ctx, metaSchema); err != nil {
		return fmt.Errorf("create meta table: %w", err)
	}

	// Ensure a live generation exists
	_, err := a.LiveGeneration(ctx)
	if err == nil {
		return nil
	}

	gen, err := a.CreateGeneration(ctx)
	if err != nil {
		return err
	}

	_, err = a.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO search_meta (key, value) VALUES ('live_generation', ?)`,
		string(gen))
	if err != nil {
		return fmt.Errorf("set initial live generation: %w", err)
	}

	return nil
}

// checkFTS5Support checks if the FTS5 module is available
func (a *Adapter) checkFTS5Support() bool {
	_, err := a.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS fts5_check USING fts5(content)")
	if err != nil {
		return false
	}
	_, _ = a.db.Exec("DROP TABLE IF EXISTS fts5_check")
	return true
}

// LiveGeneration returns the generation currently serving reads
func (a *Adapter) LiveGeneration(ctx context.Context) (search.Generation, error) {
	var value string
	err := a.db.QueryRowContext(ctx,
		`SELECT value FROM search_meta WHERE key = 'live_generation'`).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("search index not initialized: %w", err)
	}
	return search.Generation(value), nil
}

// CreateGeneration allocates a new empty generation table
func (a *Adapter) CreateGeneration(ctx context.Context) (search.Generation, error) {
	gen := search.Generation(fmt.Sprintf("g%d", time.Now().UnixNano()))

	table, err := a.table(gen)
	if err != nil {
		return "", err
	}

	var schema string
	if a.useFTS {
		schema = fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(
			document_id UNINDEXED,
			title,
			content,
			directory_path UNINDEXED,
			updated_at UNINDEXED,
			version UNINDEXED,
			tokenize = '%s'
		);
		`, table, a.tuning.Tokenizer)
	} else {
		schema = fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			document_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			directory_path TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			version INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_title ON %s(title);
		`, table, table, table)
	}

	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return "", fmt.Errorf("create generation %s: %w", gen, err)
	}

	return gen, nil
}

// PromoteGeneration marks gen live and records the reindex completion time
func (a *Adapter) PromoteGeneration(ctx context.Context, gen search.Generation) error {
	if _, err := a.table(gen); err != nil {
		return err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin promote: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO search_meta (key, value) VALUES ('live_generation', ?)`,
		string(gen))
	if err != nil {
		return fmt.Errorf("promote generation: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO search_meta (key, value) VALUES ('last_reindex_at', ?)`,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record reindex time: %w", err)
	}

	return tx.Commit()
}

// DropGeneration discards a generation and its records
func (a *Adapter) DropGeneration(ctx context.Context, gen search.Generation) error {
	table, err := a.table(gen)
	if err != nil {
		return err
	}

	if _, err := a.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
		return fmt.Errorf("drop generation %s: %w", gen, err)
	}
	return nil
}

// Upsert writes rec keyed by document id unless a newer version is stored.
// The version check and the write share one transaction, which makes the
// upsert atomic per id as the Adapter contract requires.
func (a *Adapter) Upsert(ctx context.Context, gen search.Generation, rec *models.IndexRecord) (bool, error) {
	table, err := a.table(gen)
	if err != nil {
		return false, err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var existing int64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT version FROM %s WHERE document_id = ?`, table),
		rec.DocumentID).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		// First write for this id
	case err != nil:
		return false, fmt.Errorf("read stored version: %w", err)
	case existing > rec.Version:
		// Stored record is newer; last-writer-wins by version, not arrival
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE document_id = ?`, table), rec.DocumentID)
	if err != nil {
		return false, fmt.Errorf("replace record: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (document_id, title, content, directory_path, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?)
	`, table),
		rec.DocumentID,
		rec.Title,
		rec.Content,
		rec.DirectoryPath,
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		rec.Version,
	)
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit upsert: %w", err)
	}

	return true, nil
}

// Delete removes the record for documentID; absent ids are a no-op
func (a *Adapter) Delete(ctx context.Context, gen search.Generation, documentID string) error {
	table, err := a.table(gen)
	if err != nil {
		return err
	}

	_, err = a.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE document_id = ?`, table), documentID)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// BulkUpsert loads a batch of records into gen in one transaction
func (a *Adapter) BulkUpsert(ctx context.Context, gen search.Generation, recs []models.IndexRecord) error {
	if len(recs) == 0 {
		return nil
	}

	table, err := a.table(gen)
	if err != nil {
		return err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk load: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (document_id, title, content, directory_path, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?)
	`, table))
	if err != nil {
		return fmt.Errorf("prepare bulk insert: %w", err)
	}
	defer stmt.Close()

	for i := range recs {
		rec := &recs[i]
		_, err := stmt.ExecContext(ctx,
			rec.DocumentID,
			rec.Title,
			rec.Content,
			rec.DirectoryPath,
			rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
			rec.Version,
		)
		if err != nil {
			return fmt.Errorf("bulk insert %s: %w", rec.DocumentID, err)
		}
	}

	return tx.Commit()
}

// Suggest runs a ranked prefix query against gen
func (a *Adapter) Suggest(ctx context.Context, gen search.Generation, prefix string, limit int) ([]models.Suggestion, error) {
	table, err := a.table(gen)
	if err != nil {
		return nil, err
	}

	if a.useFTS {
		return a.suggestWithFTS(ctx, table, prefix, limit)
	}
	return a.suggestWithoutFTS(ctx, table, prefix, limit)
}

// suggestWithFTS ranks matches with bm25 and returns highlighted snippets
func (a *Adapter) suggestWithFTS(ctx context.Context, table, prefix string, limit int) ([]models.Suggestion, error) {
	query := fmt.Sprintf(`
		SELECT document_id, title, directory_path,
			snippet(%s, 2, ?, ?, ?, ?) AS snip,
			bm25(%s) AS score
		FROM %s
		WHERE %s MATCH ?
		ORDER BY rank
		LIMIT ?
	`, table, table, table, table)

	rows, err := a.db.QueryContext(ctx, query,
		a.tuning.Snippet.StartMark,
		a.tuning.Snippet.EndMark,
		a.tuning.Snippet.Ellipsis,
		a.tuning.Snippet.MaxTokens,
		prefixMatchQuery(prefix),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("suggestion query: %w", err)
	}
	defer rows.Close()

	var results []models.Suggestion
	for rows.Next() {
		var s models.Suggestion
		var score float64
		if err := rows.Scan(&s.DocumentID, &s.Title, &s.DirectoryPath, &s.Snippet, &score); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		// bm25 scores are negative with better matches closer to -inf;
		// flip the sign so higher means better
		s.Score = -score
		results = append(results, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suggestions: %w", err)
	}

	if results == nil {
		results = []models.Suggestion{}
	}
	return results, nil
}

// suggestWithoutFTS falls back to LIKE matching, preferring title prefixes
func (a *Adapter) suggestWithoutFTS(ctx context.Context, table, prefix string, limit int) ([]models.Suggestion, error) {
	pattern := likeEscape(prefix) + "%"
	anywhere := "%" + likeEscape(prefix) + "%"

	query := fmt.Sprintf(`
		SELECT document_id, title, directory_path,
			CASE WHEN title LIKE ? ESCAPE '\' THEN 1.0 ELSE 0.5 END AS score
		FROM %s
		WHERE title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\'
		ORDER BY score DESC, updated_at DESC
		LIMIT ?
	`, table)

	rows, err := a.db.QueryContext(ctx, query, pattern, anywhere, anywhere, limit)
	if err != nil {
		return nil, fmt.Errorf("suggestion query: %w", err)
	}
	defer rows.Close()

	var results []models.Suggestion
	for rows.Next() {
		var s models.Suggestion
		if err := rows.Scan(&s.DocumentID, &s.Title, &s.DirectoryPath, &s.Score); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		results = append(results, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suggestions: %w", err)
	}

	if results == nil {
		results = []models.Suggestion{}
	}
	return results, nil
}

// Count returns the number of records in gen
func (a *Adapter) Count(ctx context.Context, gen search.Generation) (int, error) {
	table, err := a.table(gen)
	if err != nil {
		return 0, err
	}

	var count int
	err = a.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

// LastReindexAt returns the completion time of the most recent promotion
func (a *Adapter) LastReindexAt(ctx context.Context) (*time.Time, error) {
	var value string
	err := a.db.QueryRowContext(ctx,
		`SELECT value FROM search_meta WHERE key = 'last_reindex_at'`).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read last reindex time: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("parse last reindex time: %w", err)
	}
	return &ts, nil
}

// Close closes the index database
func (a *Adapter) Close() error {
	return a.db.Close()
}

// table maps a generation to its table name, rejecting anything that does
// not look like a generation this adapter allocated
func (a *Adapter) table(gen search.Generation) (string, error) {
	if !genPattern.MatchString(string(gen)) {
		return "", fmt.Errorf("invalid generation %q", gen)
	}
	return "records_" + string(gen), nil
}

// prefixMatchQuery builds an FTS5 phrase-prefix query, quoting the input so
// user text cannot inject query syntax
func prefixMatchQuery(prefix string) string {
	escaped := strings.ReplaceAll(prefix, `"`, `""`)
	return `"` + escaped + `"*`
}

// likeEscape escapes LIKE wildcards in user input
func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
