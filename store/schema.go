package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Document registry with hash-based change detection
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    document_id TEXT NOT NULL UNIQUE,
    source TEXT,
    content_hash TEXT NOT NULL,
    char_count INTEGER NOT NULL,
    metadata JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One extraction run per request
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    document_id TEXT NOT NULL REFERENCES documents(document_id) ON DELETE CASCADE,
    strategy TEXT NOT NULL,
    waves JSON NOT NULL,
    stats JSON,
    status TEXT NOT NULL,
    duration_ms INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Final entity set of a run, wire fields plus resolved context
CREATE TABLE IF NOT EXISTS run_entities (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    entity_type TEXT NOT NULL,
    text TEXT NOT NULL,
    start_pos INTEGER NOT NULL,
    end_pos INTEGER NOT NULL,
    confidence REAL NOT NULL,
    extraction_method TEXT NOT NULL,
    metadata JSON,
    primary_context TEXT,
    context_confidence REAL,
    context_fallback INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Reference embeddings backing the semantic context signal, one row
-- per (context tag, embedding model)
CREATE TABLE IF NOT EXISTS context_refs (
    id INTEGER PRIMARY KEY,
    tag TEXT NOT NULL,
    model TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(tag, model)
);

-- Vector payloads via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_context_refs USING vec0(
    ref_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_runs_document ON runs(document_id);
CREATE INDEX IF NOT EXISTS idx_run_entities_run ON run_entities(run_id);
CREATE INDEX IF NOT EXISTS idx_run_entities_type ON run_entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
`, embeddingDim)
}
