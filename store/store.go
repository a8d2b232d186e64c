// Package store persists extraction results to SQLite: a document
// registry, one row per extraction run, the run's final entity set, and
// the reference embeddings backing the semantic context signal (held in
// a sqlite-vec virtual table).
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brianjwalters/entity-extraction-service-sub000/extractor"
)

func init() {
	sqlite_vec.Auto()
}

// Document represents a row in the documents table.
type Document struct {
	ID          int64  `json:"id"`
	DocumentID  string `json:"document_id"`
	Source      string `json:"source,omitempty"`
	ContentHash string `json:"content_hash"`
	CharCount   int    `json:"char_count"`
	Metadata    string `json:"metadata,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Run represents a row in the runs table.
type Run struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Strategy   string `json:"strategy"`
	Waves      string `json:"waves"` // JSON array of wave names
	Stats      string `json:"stats,omitempty"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	CreatedAt  string `json:"created_at"`
}

// Store wraps the SQLite database for all extraction persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Create schema
	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	// Run pending migrations.
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// HashContent returns the hex SHA-256 of a document's text.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// --- Document operations ---

// UpsertDocument inserts or updates a document record keyed by its
// external document_id. Returns the row ID.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (document_id, source, content_hash, char_count, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			source = excluded.source,
			content_hash = excluded.content_hash,
			char_count = excluded.char_count,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP
	`, doc.DocumentID, doc.Source, doc.ContentHash, doc.CharCount, nullable(doc.Metadata))
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	// If UPSERT did an UPDATE, LastInsertId may not reflect the existing row.
	if id == 0 {
		row := s.db.QueryRowContext(ctx, "SELECT id FROM documents WHERE document_id = ?", doc.DocumentID)
		if err := row.Scan(&id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// GetDocument retrieves a document by its external document_id.
func (s *Store) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	doc := &Document{}
	var source, metadata sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, source, content_hash, char_count, metadata, created_at, updated_at
		FROM documents WHERE document_id = ?
	`, documentID).Scan(&doc.ID, &doc.DocumentID, &source,
		&doc.ContentHash, &doc.CharCount, &metadata, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Source = source.String
	doc.Metadata = metadata.String
	return doc, nil
}

// --- Run operations ---

// InsertRun records one extraction run.
func (s *Store) InsertRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, document_id, strategy, waves, stats, status, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.DocumentID, r.Strategy, r.Waves, nullable(r.Stats), r.Status, r.DurationMS)
	return err
}

// GetRun retrieves a run by its ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	r := &Run{}
	var stats sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, strategy, waves, stats, status, duration_ms, created_at
		FROM runs WHERE id = ?
	`, id).Scan(&r.ID, &r.DocumentID, &r.Strategy, &r.Waves, &stats,
		&r.Status, &r.DurationMS, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Stats = stats.String
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, strategy, waves, stats, status, duration_ms, created_at
		FROM runs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var stats sql.NullString
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Strategy, &r.Waves,
			&stats, &r.Status, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Stats = stats.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Entity operations ---

// InsertRunEntities stores a run's final entity set in one transaction.
// Resolved context rides in the entity metadata and is denormalized
// into its own columns for querying.
func (s *Store) InsertRunEntities(ctx context.Context, runID string, entities []extractor.Entity) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO run_entities
				(run_id, entity_type, text, start_pos, end_pos, confidence,
				 extraction_method, metadata, primary_context, context_confidence,
				 context_fallback, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entities {
			var metadata []byte
			if len(e.Metadata) > 0 {
				metadata, err = json.Marshal(e.Metadata)
				if err != nil {
					return fmt.Errorf("marshaling entity metadata: %w", err)
				}
			}

			primaryContext, _ := e.Metadata["primary_context"].(string)
			contextConfidence, _ := e.Metadata["context_confidence"].(float64)
			fallback := 0
			if v, _ := e.Metadata["context_fallback"].(bool); v {
				fallback = 1
			}

			createdAt := e.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now().UTC()
			}

			if _, err := stmt.ExecContext(ctx,
				runID, e.EntityType, e.Text, e.StartPos, e.EndPos, e.Confidence,
				e.ExtractionMethod, nullableBytes(metadata), primaryContext,
				contextConfidence, fallback, createdAt.Format(time.RFC3339),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListRunEntities returns a run's entities in document order.
func (s *Store) ListRunEntities(ctx context.Context, runID string) ([]extractor.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, text, start_pos, end_pos, confidence,
		       extraction_method, metadata, created_at
		FROM run_entities WHERE run_id = ?
		ORDER BY start_pos, end_pos
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []extractor.Entity
	for rows.Next() {
		var e extractor.Entity
		var metadata sql.NullString
		var createdAt string
		if err := rows.Scan(&e.EntityType, &e.Text, &e.StartPos, &e.EndPos,
			&e.Confidence, &e.ExtractionMethod, &metadata, &createdAt); err != nil {
			return nil, err
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling entity metadata: %w", err)
			}
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.CreatedAt = t
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// --- Context reference embeddings ---

// UpsertContextRef stores the reference embedding for one context tag
// under one embedding model.
func (s *Store) UpsertContextRef(ctx context.Context, tag, model string, embedding []float32) error {
	if len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dimension %d, store configured for %d", len(embedding), s.embeddingDim)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO context_refs (tag, model) VALUES (?, ?)
			ON CONFLICT(tag, model) DO UPDATE SET created_at = CURRENT_TIMESTAMP
		`, tag, model); err != nil {
			return err
		}
		// LastInsertId is unreliable after the UPDATE branch of an
		// upsert, so read the id back.
		var id int64
		row := tx.QueryRowContext(ctx, "SELECT id FROM context_refs WHERE tag = ? AND model = ?", tag, model)
		if err := row.Scan(&id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO vec_context_refs (ref_id, embedding) VALUES (?, ?)",
			id, serializeFloat32(embedding))
		return err
	})
}

// GetContextRef retrieves one tag's reference embedding.
func (s *Store) GetContextRef(ctx context.Context, tag, model string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT v.embedding
		FROM context_refs r
		JOIN vec_context_refs v ON v.ref_id = r.id
		WHERE r.tag = ? AND r.model = ?
	`, tag, model).Scan(&blob)
	if err != nil {
		return nil, err
	}
	return deserializeFloat32(blob), nil
}

// AllContextRefs returns every reference embedding stored for a model,
// keyed by context tag.
func (s *Store) AllContextRefs(ctx context.Context, model string) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.tag, v.embedding
		FROM context_refs r
		JOIN vec_context_refs v ON v.ref_id = r.id
		WHERE r.model = ?
	`, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make(map[string][]float32)
	for rows.Next() {
		var tag string
		var blob []byte
		if err := rows.Scan(&tag, &blob); err != nil {
			return nil, err
		}
		refs[tag] = deserializeFloat32(blob)
	}
	return refs, rows.Err()
}

// --- Helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
