// Package store persists extraction runs to SQLite so they survive the
// process: a saved run can be listed, exported, and resumed with its
// graph, gap ledger, attempt log, and session memory intact. The store
// also keeps entity-name embeddings (sqlite-vec) and a full-text index
// (FTS5) used to surface near-duplicate entity candidates.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/graphmend/graph"
	"github.com/brunobiangulo/graphmend/repair"
)

func init() {
	sqlite_vec.Auto()
}

// ErrNotFound is returned when the requested run does not exist.
var ErrNotFound = errors.New("store: run not found")

// RunRecord is a persisted run: everything needed to rebuild the graph
// store, the gap ledger, the attempt log, and session memory, plus the
// counters Resume needs to continue numbering where the run stopped.
type RunRecord struct {
	ID         string            `json:"id"`
	SourcePath string            `json:"source_path,omitempty"`
	SourceHash string            `json:"source_hash,omitempty"`
	SourceText string            `json:"source_text,omitempty"`
	State      string            `json:"state"`
	Budget     int               `json:"budget"`
	BudgetUsed int               `json:"budget_used"`
	Checks     int               `json:"checks"`
	LastSeq    int               `json:"last_seq"`
	Snapshot   graph.Snapshot    `json:"snapshot"`
	Gaps       []graph.Gap       `json:"gaps"`
	Attempts   []repair.Attempt  `json:"attempts,omitempty"`
	Memory     []repair.Exchange `json:"memory,omitempty"`
	CreatedAt  string            `json:"created_at,omitempty"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

// RunSummary is one row of a run listing.
type RunSummary struct {
	ID          string `json:"id"`
	SourcePath  string `json:"source_path,omitempty"`
	State       string `json:"state"`
	Budget      int    `json:"budget"`
	BudgetUsed  int    `json:"budget_used"`
	Entities    int    `json:"entities"`
	Connections int    `json:"connections"`
	OpenGaps    int    `json:"open_gaps"`
	Unresolved  int    `json:"unresolved_gaps"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// EntityHit is one full-text search result over persisted entities.
type EntityHit struct {
	RunID string  `json:"run_id"`
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Score float64 `json:"score"`
}

// Store wraps the SQLite database for all graphmend persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including sqlite-vec and FTS5 virtual tables.
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

// --- Run operations ---

// SaveRun writes the complete run state, replacing any prior save under
// the same ID. The engine calls it at check boundaries, so a crash
// loses at most the attempt in flight.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return errors.New("store: run id is empty")
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, source_path, source_hash, source_text, state, budget, budget_used, checks, last_seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				source_path = excluded.source_path,
				source_hash = excluded.source_hash,
				source_text = excluded.source_text,
				state = excluded.state,
				budget = excluded.budget,
				budget_used = excluded.budget_used,
				checks = excluded.checks,
				last_seq = excluded.last_seq,
				updated_at = CURRENT_TIMESTAMP
		`, rec.ID, rec.SourcePath, rec.SourceHash, rec.SourceText, rec.State,
			rec.Budget, rec.BudgetUsed, rec.Checks, rec.LastSeq); err != nil {
			return fmt.Errorf("upserting run: %w", err)
		}

		if err := clearRunChildren(ctx, tx, rec.ID); err != nil {
			return err
		}

		if err := insertEntities(ctx, tx, rec.ID, rec.Snapshot.Entities); err != nil {
			return err
		}
		if err := insertConnections(ctx, tx, rec.ID, rec.Snapshot.Connections); err != nil {
			return err
		}
		if err := insertGaps(ctx, tx, rec.ID, rec.Gaps); err != nil {
			return err
		}
		if err := insertAttempts(ctx, tx, rec.ID, rec.Attempts); err != nil {
			return err
		}
		return insertMemory(ctx, tx, rec.ID, rec.Memory)
	})
}

// clearRunChildren removes all per-run rows so a save is a clean
// replace. Virtual tables do not participate in foreign-key cascades
// and are cleared by explicit subqueries first.
func clearRunChildren(ctx context.Context, tx *sql.Tx, runID string) error {
	for _, q := range []string{
		"DELETE FROM vec_entities WHERE entity_pk IN (SELECT id FROM entities WHERE run_id = ?)",
		"DELETE FROM entities_fts WHERE rowid IN (SELECT id FROM entities WHERE run_id = ?)",
		"DELETE FROM entities WHERE run_id = ?",
		"DELETE FROM connections WHERE run_id = ?",
		"DELETE FROM gaps WHERE run_id = ?",
		"DELETE FROM attempts WHERE run_id = ?",
		"DELETE FROM memory WHERE run_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, runID); err != nil {
			return fmt.Errorf("clearing run rows: %w", err)
		}
	}
	return nil
}

func insertEntities(ctx context.Context, tx *sql.Tx, runID string, entities []graph.Entity) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (run_id, entity_id, name, entity_type, attrs, passes, history, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	ftsStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO entities_fts (rowid, name, attrs_text) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer ftsStmt.Close()

	for i, e := range entities {
		res, err := stmt.ExecContext(ctx, runID, e.ID, e.Name, e.Type,
			marshalJSON(e.Attrs), marshalJSON(e.Passes), marshalJSON(e.History), i)
		if err != nil {
			return fmt.Errorf("inserting entity %s: %w", e.ID, err)
		}
		pk, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := ftsStmt.ExecContext(ctx, pk, e.Name, attrsText(e.Attrs)); err != nil {
			return fmt.Errorf("indexing entity %s: %w", e.ID, err)
		}
	}
	return nil
}

func insertConnections(ctx context.Context, tx *sql.Tx, runID string, conns []graph.Connection) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO connections (run_id, source, relation, target, attrs, pass, confidence, pending, history, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, c := range conns {
		pending := 0
		if c.Pending {
			pending = 1
		}
		if _, err := stmt.ExecContext(ctx, runID, c.Source, c.Relation, c.Target,
			marshalJSON(c.Attrs), c.Pass, c.Confidence, pending, marshalJSON(c.History), i); err != nil {
			return fmt.Errorf("inserting connection %s->%s: %w", c.Source, c.Target, err)
		}
	}
	return nil
}

func insertGaps(ctx context.Context, tx *sql.Tx, runID string, gaps []graph.Gap) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO gaps (run_id, gap_id, kind, status, entity_id, other_id, missing_relation,
			source, target, relation, similarity, reason, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, g := range gaps {
		if _, err := stmt.ExecContext(ctx, runID, g.ID, string(g.Kind), string(g.Status),
			g.EntityID, g.OtherID, g.MissingRelation,
			g.Source, g.Target, g.Relation, g.Similarity, g.Reason, i); err != nil {
			return fmt.Errorf("inserting gap %s: %w", g.ID, err)
		}
	}
	return nil
}

func insertAttempts(ctx context.Context, tx *sql.Tx, runID string, attempts []repair.Attempt) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attempts (run_id, seq, kind, gap_ids, prompt, response, outcome, detail, merged, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range attempts {
		if _, err := stmt.ExecContext(ctx, runID, a.Seq, a.Kind,
			marshalJSON(a.GapIDs), a.Prompt, a.Response, string(a.Outcome), a.Detail,
			marshalJSON(a.Merged), a.ElapsedMs); err != nil {
			return fmt.Errorf("inserting attempt %d: %w", a.Seq, err)
		}
	}
	return nil
}

func insertMemory(ctx context.Context, tx *sql.Tx, runID string, exchanges []repair.Exchange) error {
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO memory (run_id, position, prompt, response) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, m := range exchanges {
		if _, err := stmt.ExecContext(ctx, runID, i, m.Prompt, m.Response); err != nil {
			return fmt.Errorf("inserting memory exchange %d: %w", i, err)
		}
	}
	return nil
}

// LoadRun reads a complete persisted run. Returns ErrNotFound when the
// ID is unknown.
func (s *Store) LoadRun(ctx context.Context, id string) (*RunRecord, error) {
	rec := &RunRecord{ID: id}
	var sourcePath, sourceHash, sourceText sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT source_path, source_hash, source_text, state, budget, budget_used, checks, last_seq, created_at, updated_at
		FROM runs WHERE id = ?
	`, id).Scan(&sourcePath, &sourceHash, &sourceText, &rec.State, &rec.Budget,
		&rec.BudgetUsed, &rec.Checks, &rec.LastSeq, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}
	rec.SourcePath = sourcePath.String
	rec.SourceHash = sourceHash.String
	rec.SourceText = sourceText.String

	if rec.Snapshot.Entities, err = s.loadEntities(ctx, id); err != nil {
		return nil, err
	}
	if rec.Snapshot.Connections, err = s.loadConnections(ctx, id); err != nil {
		return nil, err
	}
	if rec.Gaps, err = s.loadGaps(ctx, id); err != nil {
		return nil, err
	}
	if rec.Attempts, err = s.loadAttempts(ctx, id); err != nil {
		return nil, err
	}
	if rec.Memory, err = s.loadMemory(ctx, id); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) loadEntities(ctx context.Context, runID string) ([]graph.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, name, entity_type, attrs, passes, history
		FROM entities WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []graph.Entity
	for rows.Next() {
		var e graph.Entity
		var attrs, passes, history sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &attrs, &passes, &history); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(attrs, &e.Attrs); err != nil {
			return nil, fmt.Errorf("entity %s attrs: %w", e.ID, err)
		}
		if err := unmarshalJSON(passes, &e.Passes); err != nil {
			return nil, fmt.Errorf("entity %s passes: %w", e.ID, err)
		}
		if err := unmarshalJSON(history, &e.History); err != nil {
			return nil, fmt.Errorf("entity %s history: %w", e.ID, err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func (s *Store) loadConnections(ctx context.Context, runID string) ([]graph.Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, relation, target, attrs, pass, confidence, pending, history
		FROM connections WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []graph.Connection
	for rows.Next() {
		var c graph.Connection
		var attrs, history sql.NullString
		var pending int
		if err := rows.Scan(&c.Source, &c.Relation, &c.Target, &attrs,
			&c.Pass, &c.Confidence, &pending, &history); err != nil {
			return nil, err
		}
		c.Pending = pending != 0
		if err := unmarshalJSON(attrs, &c.Attrs); err != nil {
			return nil, fmt.Errorf("connection %s->%s attrs: %w", c.Source, c.Target, err)
		}
		if err := unmarshalJSON(history, &c.History); err != nil {
			return nil, fmt.Errorf("connection %s->%s history: %w", c.Source, c.Target, err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

func (s *Store) loadGaps(ctx context.Context, runID string) ([]graph.Gap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT gap_id, kind, status, entity_id, other_id, missing_relation,
			source, target, relation, similarity, reason
		FROM gaps WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gaps []graph.Gap
	for rows.Next() {
		var g graph.Gap
		var kind, status string
		if err := rows.Scan(&g.ID, &kind, &status, &g.EntityID, &g.OtherID, &g.MissingRelation,
			&g.Source, &g.Target, &g.Relation, &g.Similarity, &g.Reason); err != nil {
			return nil, err
		}
		g.Kind = graph.GapKind(kind)
		g.Status = graph.GapStatus(status)
		gaps = append(gaps, g)
	}
	return gaps, rows.Err()
}

func (s *Store) loadAttempts(ctx context.Context, runID string) ([]repair.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, gap_ids, prompt, response, outcome, detail, merged, elapsed_ms
		FROM attempts WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []repair.Attempt
	for rows.Next() {
		var a repair.Attempt
		var gapIDs, merged sql.NullString
		var outcome string
		if err := rows.Scan(&a.Seq, &a.Kind, &gapIDs, &a.Prompt, &a.Response,
			&outcome, &a.Detail, &merged, &a.ElapsedMs); err != nil {
			return nil, err
		}
		a.Outcome = repair.Outcome(outcome)
		if err := unmarshalJSON(gapIDs, &a.GapIDs); err != nil {
			return nil, fmt.Errorf("attempt %d gap ids: %w", a.Seq, err)
		}
		if err := unmarshalJSON(merged, &a.Merged); err != nil {
			return nil, fmt.Errorf("attempt %d merge report: %w", a.Seq, err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (s *Store) loadMemory(ctx context.Context, runID string) ([]repair.Exchange, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT prompt, response FROM memory WHERE run_id = ? ORDER BY position", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exchanges []repair.Exchange
	for rows.Next() {
		var m repair.Exchange
		if err := rows.Scan(&m.Prompt, &m.Response); err != nil {
			return nil, err
		}
		exchanges = append(exchanges, m)
	}
	return exchanges, rows.Err()
}

// ListRuns returns summaries of all persisted runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.source_path, r.state, r.budget, r.budget_used, r.created_at, r.updated_at,
			(SELECT COUNT(*) FROM entities e WHERE e.run_id = r.id),
			(SELECT COUNT(*) FROM connections c WHERE c.run_id = r.id),
			(SELECT COUNT(*) FROM gaps g WHERE g.run_id = r.id AND g.status = ?),
			(SELECT COUNT(*) FROM gaps g WHERE g.run_id = r.id AND g.status = ?)
		FROM runs r ORDER BY r.created_at DESC, r.rowid DESC
	`, string(graph.GapOpen), string(graph.GapExhausted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var sum RunSummary
		var sourcePath sql.NullString
		if err := rows.Scan(&sum.ID, &sourcePath, &sum.State, &sum.Budget, &sum.BudgetUsed,
			&sum.CreatedAt, &sum.UpdatedAt,
			&sum.Entities, &sum.Connections, &sum.OpenGaps, &sum.Unresolved); err != nil {
			return nil, err
		}
		sum.SourcePath = sourcePath.String
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// DeleteRun removes a run and all its data. Returns ErrNotFound when
// the ID is unknown.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		// Virtual tables sit outside foreign-key cascades.
		for _, q := range []string{
			"DELETE FROM vec_entities WHERE entity_pk IN (SELECT id FROM entities WHERE run_id = ?)",
			"DELETE FROM entities_fts WHERE rowid IN (SELECT id FROM entities WHERE run_id = ?)",
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// --- Entity search ---

// SearchEntities runs a full-text query over persisted entity names and
// attributes across all runs, ranked by BM25.
func (s *Store) SearchEntities(ctx context.Context, query string, limit int) ([]EntityHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.run_id, e.entity_id, e.name, e.entity_type, f.rank
		FROM entities_fts f
		JOIN entities e ON e.id = f.rowid
		WHERE entities_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []EntityHit
	for rows.Next() {
		var h EntityHit
		var rank float64
		if err := rows.Scan(&h.RunID, &h.ID, &h.Name, &h.Type, &rank); err != nil {
			return nil, err
		}
		// FTS5 rank is negative (lower = better), convert to positive score
		h.Score = -rank
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// --- Embedding operations ---

// IndexEmbeddings stores one embedding per entity name for a saved run.
// SaveRun replaces entity rows and drops their embeddings, so call this
// after the final save. Names with no matching entity are skipped.
func (s *Store) IndexEmbeddings(ctx context.Context, runID string, names []string, embeddings [][]float32) error {
	if len(names) != len(embeddings) {
		return fmt.Errorf("store: %d names for %d embeddings", len(names), len(embeddings))
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT OR REPLACE INTO vec_entities (entity_pk, embedding) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, name := range names {
			if len(embeddings[i]) != s.embeddingDim {
				return fmt.Errorf("store: embedding for %q has dim %d, want %d",
					name, len(embeddings[i]), s.embeddingDim)
			}

			var pk int64
			err := tx.QueryRowContext(ctx,
				"SELECT id FROM entities WHERE run_id = ? AND entity_id = ?",
				runID, graph.Normalize(name)).Scan(&pk)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return err
			}

			if _, err := stmt.ExecContext(ctx, pk, serializeFloat32(embeddings[i])); err != nil {
				return fmt.Errorf("indexing embedding for %q: %w", name, err)
			}
		}
		return nil
	})
}

// --- helpers ---

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

// marshalJSON renders v for a JSON column; empty values store as NULL.
func marshalJSON(v interface{}) interface{} {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return nil
	}
	return string(b)
}

func unmarshalJSON(col sql.NullString, dest interface{}) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dest)
}

// attrsText flattens attributes into one searchable blob, keys sorted
// so the indexed text is stable across saves.
func attrsText(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte(' ')
		b.WriteString(attrs[k])
	}
	return b.String()
}

// ftsQuery strips FTS5 operator characters from the input and builds an
// OR query over the remaining words, with the full phrase quoted when
// there is more than one. Returns "" when nothing searchable remains.
func ftsQuery(query string) string {
	replacer := strings.NewReplacer(
		"\"", "", "*", "", "(", "", ")", "", "+", "", "-", "",
		"^", "", ":", "", "?", "", "[", "", "]", "", "{", "", "}", "",
		"!", "", ".", "", ",", "", ";", "",
	)
	words := strings.Fields(replacer.Replace(query))
	if len(words) == 0 {
		return ""
	}

	var parts []string
	if len(words) > 1 {
		parts = append(parts, "\""+strings.Join(words, " ")+"\"")
	}
	parts = append(parts, words...)
	return strings.Join(parts, " OR ")
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
