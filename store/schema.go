package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Run registry: one row per extraction run
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    source_path TEXT,
    source_hash TEXT,
    source_text TEXT,
    state TEXT NOT NULL,
    budget INTEGER NOT NULL DEFAULT 0,
    budget_used INTEGER NOT NULL DEFAULT 0,
    checks INTEGER NOT NULL DEFAULT 0,
    last_seq INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Graph nodes; position preserves merge order so reloads rebuild the
-- store exactly as the run left it
CREATE TABLE IF NOT EXISTS entities (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    entity_id TEXT NOT NULL,
    name TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    attrs JSON,
    passes JSON NOT NULL,
    history JSON,
    position INTEGER NOT NULL,
    UNIQUE(run_id, entity_id)
);

-- Graph edges, pending (dangling) ones included
CREATE TABLE IF NOT EXISTS connections (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    source TEXT NOT NULL,
    relation TEXT NOT NULL,
    target TEXT NOT NULL,
    attrs JSON,
    pass TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0,
    pending INTEGER NOT NULL DEFAULT 0,
    history JSON,
    position INTEGER NOT NULL,
    UNIQUE(run_id, source, relation, target)
);

-- Gap ledger as of the last save
CREATE TABLE IF NOT EXISTS gaps (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    gap_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    entity_id TEXT,
    other_id TEXT,
    missing_relation TEXT,
    source TEXT,
    target TEXT,
    relation TEXT,
    similarity REAL NOT NULL DEFAULT 0,
    reason TEXT,
    position INTEGER NOT NULL,
    UNIQUE(run_id, gap_id)
);

-- Attempt audit log
CREATE TABLE IF NOT EXISTS attempts (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    kind TEXT NOT NULL,
    gap_ids JSON,
    prompt TEXT,
    response TEXT,
    outcome TEXT NOT NULL,
    detail TEXT,
    merged JSON,
    elapsed_ms INTEGER NOT NULL DEFAULT 0,
    UNIQUE(run_id, seq)
);

-- Session memory exchanges, oldest first
CREATE TABLE IF NOT EXISTS memory (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    prompt TEXT NOT NULL,
    response TEXT NOT NULL,
    UNIQUE(run_id, position)
);

-- Entity-name embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_entities USING vec0(
    entity_pk INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Full-text search via FTS5 over entity names and attribute text.
-- Rowids mirror entities.id; SaveRun and DeleteRun maintain the rows
-- in the same transaction as the entities table.
CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(
    name,
    attrs_text,
    tokenize='porter unicode61'
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_entities_run ON entities(run_id);
CREATE INDEX IF NOT EXISTS idx_connections_run ON connections(run_id);
CREATE INDEX IF NOT EXISTS idx_connections_source ON connections(run_id, source);
CREATE INDEX IF NOT EXISTS idx_gaps_run ON gaps(run_id);
CREATE INDEX IF NOT EXISTS idx_gaps_status ON gaps(run_id, status);
CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id);
CREATE INDEX IF NOT EXISTS idx_memory_run ON memory(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`, embeddingDim)
}
