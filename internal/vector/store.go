package vector

import (
	"container/heap"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store owns the three typed collections (sql, ddl, documentation) backed
// by a single SQLite file inside dir. All collections share one embedding
// function; similarity is cosine distance, smaller = more similar.
type Store struct {
	db       *sql.DB
	dir      string
	embedder Embedder
}

// Open opens (or creates) the store rooted at dir and runs pending
// migrations. Reopening the same directory reconstructs all prior records.
// Pass ":memory:" as dir for an in-memory store (used by tests).
func Open(dir string, embedder Embedder) (*Store, error) {
	var dsn string
	if dir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		dsn = filepath.Join(dir, "vectors.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging store database: %w", err)
	}

	// Single connection avoids "database is locked"; the session model is
	// one writer per namespace anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, dir: dir, embedder: embedder}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dir returns the directory the store is rooted at.
func (s *Store) Dir() string { return s.dir }

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// parseMigrationVersion extracts the numeric prefix of "0001_name.sql".
func parseMigrationVersion(name string) (int, error) {
	idx := strings.Index(name, "_")
	if idx < 1 {
		return 0, fmt.Errorf("migration %q has no numeric prefix", name)
	}
	version, err := strconv.Atoi(name[:idx])
	if err != nil {
		return 0, fmt.Errorf("migration %q has no numeric prefix: %w", name, err)
	}
	return version, nil
}

// Insert adds one record to a collection. Inserting an id that already
// exists in that collection fails with ErrDuplicateID; overwrite is not
// supported.
func (s *Store) Insert(ctx context.Context, col Collection, id, document string, embedding []float32) error {
	if !col.Valid() {
		return fmt.Errorf("unknown collection %q", col)
	}

	var exists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM vector_records WHERE collection = ? AND id = ?", string(col), id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("checking for existing record %s: %w", id, err)
	}
	if exists > 0 {
		return fmt.Errorf("inserting record %s into %s: %w", id, col, ErrDuplicateID)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vector_records (collection, id, document, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(col), id, document, encodeFloat32s(embedding), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting record %s: %w", id, err)
	}
	return nil
}

// Search embeds queryText and returns up to topK documents from the
// collection ordered by ascending cosine distance. topK <= 0 selects the
// collection's default. An empty collection yields an empty result, never
// an error.
func (s *Store) Search(ctx context.Context, col Collection, queryText string, topK int) ([]ScoredDocument, error) {
	if !col.Valid() {
		return nil, fmt.Errorf("unknown collection %q", col)
	}
	if topK <= 0 {
		topK = col.defaultTopK()
	}

	query, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	queryNorm := norm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, document, embedding FROM vector_records WHERE collection = ?", string(col))
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &distanceHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings during the scan.
	var buf []float32

	for rows.Next() {
		var doc ScoredDocument
		var blob []byte
		if err := rows.Scan(&doc.ID, &doc.Document, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", doc.ID, err)
		}
		doc.Distance = cosineDistance(query, buf, queryNorm)

		if h.Len() < topK {
			heap.Push(h, doc)
		} else if doc.Distance < (*h)[0].Distance {
			(*h)[0] = doc
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Pop from the max-heap into ascending distance order.
	results := make([]ScoredDocument, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(ScoredDocument)
	}
	return results, nil
}

// ListAll returns every record in a collection in insertion order, for
// operator inspection.
func (s *Store) ListAll(ctx context.Context, col Collection) ([]Record, error) {
	if !col.Valid() {
		return nil, fmt.Errorf("unknown collection %q", col)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document, embedding, created_at FROM vector_records
		WHERE collection = ? ORDER BY rowid ASC`, string(col))
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var blob []byte
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Document, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		embedding, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		r.Embedding = embedding
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", r.ID, err)
		}
		r.CreatedAt = t
		records = append(records, r)
	}
	return records, rows.Err()
}

// Delete removes a record by id. Deleting an id that does not exist is an
// error, not a silent no-op.
func (s *Store) Delete(ctx context.Context, col Collection, id string) error {
	if !col.Valid() {
		return fmt.Errorf("unknown collection %q", col)
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM vector_records WHERE collection = ? AND id = ?", string(col), id)
	if err != nil {
		return fmt.Errorf("deleting record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record %s in %s: %w", id, col, ErrNotFound)
	}
	return nil
}

// Reset destroys and recreates a collection as empty, keeping the same
// embedding function. Used for full retraining.
func (s *Store) Reset(ctx context.Context, col Collection) error {
	if !col.Valid() {
		return fmt.Errorf("unknown collection %q", col)
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM vector_records WHERE collection = ?", string(col)); err != nil {
		return fmt.Errorf("resetting collection %s: %w", col, err)
	}
	return nil
}

// Count returns the number of records in a collection.
func (s *Store) Count(ctx context.Context, col Collection) (int, error) {
	if !col.Valid() {
		return 0, fmt.Errorf("unknown collection %q", col)
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM vector_records WHERE collection = ?", string(col)).Scan(&count)
	return count, err
}

// distanceHeap is a max-heap of ScoredDocument ordered by Distance, used to
// keep the topK smallest distances during the search scan.
type distanceHeap []ScoredDocument

func (h distanceHeap) Len() int            { return len(h) }
func (h distanceHeap) Less(i, j int) bool  { return h[i].Distance > h[j].Distance }
func (h distanceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *distanceHeap) Push(x interface{}) { *h = append(*h, x.(ScoredDocument)) }
func (h *distanceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
