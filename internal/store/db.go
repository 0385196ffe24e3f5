package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go driver, no CGO
)

var identSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// tablePrefix turns a project ID into a safe SQL identifier fragment.
// Every per-project table name is "p_<prefix>_<table>" so one database file
// can host any number of projects without cross-project name collisions.
func tablePrefix(projectID string) string {
	return "p_" + identSanitizer.ReplaceAllString(projectID, "_")
}

// validateIntegrity mirrors the corruption-detection pass used for the
// lexical index: a quick PRAGMA check before opening for real, so a
// corrupted file is quarantined instead of silently served empty results.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// DB is the single-file embedded store: metadata, lexical index, and vector
// index all live behind this one *sql.DB connection (spec §4.1's "single
// file" requirement). Table names are namespaced per project via
// tablePrefix so many projects can share one file.
type DB struct {
	mu      sync.RWMutex
	conn    *sql.DB
	path    string
	closed  bool
	vectors *vectorIndex
	lex     *lexIndex

	decisionStopWords map[string]struct{}
}

// SetDecisionStopWords overrides the tokenizer's stop-word list for
// decision search (retrieval.decision_stopwords). Safe to call any time
// after Open; takes effect on the next SearchDecisions call.
func (d *DB) SetDecisionStopWords(words []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decisionStopWords = BuildStopWordMap(words)
}

// Open opens (creating if necessary) the single-file store at path. An
// empty path opens an in-memory database, used by tests.
func Open(path string) (*DB, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", dir, err)
		}
		if err := validateIntegrity(path); err != nil {
			slog.Warn("store_corrupted", slog.String("path", path), slog.String("error", err.Error()))
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, fmt.Errorf("store corrupted at %s and cannot remove: %w (original: %v)", path, rmErr, err)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
			slog.Info("store_cleared", slog.String("path", path), slog.String("reason", "corruption detected, reindex required"))
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	db := &DB{conn: conn, path: path}
	if err := db.initGlobalSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	db.vectors = newVectorIndex(db)
	db.lex = newLexIndex(db, DefaultLexConfig())
	db.decisionStopWords = BuildStopWordMap(DefaultDecisionStopWords)
	return db, nil
}

func (d *DB) initGlobalSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);
	INSERT OR IGNORE INTO schema_version (version) VALUES (1);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		root_path TEXT NOT NULL,
		dimension INTEGER NOT NULL,
		model TEXT NOT NULL,
		schema_version INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`
	_, err := d.conn.Exec(schema)
	return err
}

// CreateProject registers a project namespace and creates its prefixed
// table group. Calling it again for an existing ID returns the existing
// project unchanged (idempotent, spec §8 invariant).
func (d *DB) CreateProject(ctx context.Context, name, rootPath string, dimension int, model string) (*Project, error) {
	id := projectID(rootPath)

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, err := d.getProjectLocked(ctx, id); err == nil {
		return existing, nil
	}

	now := time.Now()
	prefix := tablePrefix(id)
	if err := d.createProjectTables(ctx, prefix); err != nil {
		return nil, fmt.Errorf("create project tables: %w", err)
	}

	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO projects (id, name, root_path, dimension, model, schema_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, name, rootPath, dimension, model, CurrentSchemaVersion, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}

	return &Project{
		ID: id, Name: name, RootPath: rootPath, Dimension: dimension, Model: model,
		CreatedAt: now, UpdatedAt: now, SchemaVers: CurrentSchemaVersion,
	}, nil
}

func (d *DB) createProjectTables(ctx context.Context, prefix string) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_entities (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			qualified_name TEXT NOT NULL UNIQUE,
			path TEXT,
			content TEXT,
			summary TEXT,
			content_hash TEXT,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_relationships (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			type TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 1.0,
			created_at TIMESTAMP NOT NULL
		)`, prefix),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_rel_source_idx ON %s_relationships(source_id, type)`, prefix, prefix),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_rel_target_idx ON %s_relationships(target_id, type)`, prefix, prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_vectors (
			entity_id TEXT PRIMARY KEY,
			vector BLOB NOT NULL,
			content_hash TEXT
		)`, prefix),
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s_fts USING fts5(
			entity_id UNINDEXED,
			content,
			tokenize='unicode61'
		)`, prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_fts_ids (entity_id TEXT PRIMARY KEY)`, prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_state (key TEXT PRIMARY KEY, value TEXT NOT NULL)`, prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_sessions (
			id TEXT PRIMARY KEY,
			label TEXT,
			created_at TIMESTAMP NOT NULL
		)`, prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`, prefix),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_msg_session_idx ON %s_messages(session_id, created_at)`, prefix, prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_decisions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			context TEXT,
			alternatives TEXT,
			supersedes_id TEXT,
			created_at TIMESTAMP NOT NULL
		)`, prefix),
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s_fts_decisions USING fts5(
			decision_id UNINDEXED,
			content,
			tokenize='unicode61'
		)`, prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_reflections (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`, prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_checkpoints (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			label TEXT,
			up_to_message_id TEXT,
			created_at TIMESTAMP NOT NULL
		)`, prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_memory_items (
			id TEXT PRIMARY KEY,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			scope TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(key, scope)
		)`, prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_hot_cache (
			entity_id TEXT PRIMARY KEY,
			last_touched_at TIMESTAMP NOT NULL
		)`, prefix),
	}
	for _, s := range stmts {
		if _, err := d.conn.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("exec %q: %w", s, err)
		}
	}
	return nil
}

func (d *DB) getProjectLocked(ctx context.Context, id string) (*Project, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, name, root_path, dimension, model, schema_version, created_at, updated_at
		FROM projects WHERE id = ?`, id)
	p := &Project{}
	if err := row.Scan(&p.ID, &p.Name, &p.RootPath, &p.Dimension, &p.Model, &p.SchemaVers, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// GetProject looks up a project's registry row by ID, with its current
// entity and relationship counts.
func (d *DB) GetProject(ctx context.Context, id string) (*Project, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, err := d.getProjectLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	prefix := tablePrefix(id)
	if err := d.conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s_entities", prefix)).Scan(&p.EntityCnt); err != nil {
		return nil, err
	}
	if err := d.conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s_relationships", prefix)).Scan(&p.RelCnt); err != nil {
		return nil, err
	}
	return p, nil
}

// RefreshProjectStats recomputes entity/relationship counts from the
// project's tables and stamps updated_at.
func (d *DB) RefreshProjectStats(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := tablePrefix(id)

	var entityCnt, relCnt int
	if err := d.conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s_entities", prefix)).Scan(&entityCnt); err != nil {
		return err
	}
	if err := d.conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s_relationships", prefix)).Scan(&relCnt); err != nil {
		return err
	}
	_, err := d.conn.ExecContext(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

// projectID derives a stable project identifier from its root path,
// mirroring the teacher's SHA256(absolute_path) convention.
func projectID(rootPath string) string {
	return sha256Hex(strings.TrimRight(rootPath, "/"))
}

// UpsertEntity inserts or replaces an entity row within its project's table group.
func (d *DB) UpsertEntity(ctx context.Context, e *Entity) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	prefix := tablePrefix(e.ProjectID)
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	qualifiedName := e.QualifiedName
	if qualifiedName == "" {
		qualifiedName = e.Name
	}

	meta := encodeMetadata(e.Metadata)
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s_entities (id, type, name, qualified_name, path, content, summary, content_hash, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(qualified_name) DO UPDATE SET
			id=excluded.id, type=excluded.type, name=excluded.name, path=excluded.path,
			content=excluded.content, summary=excluded.summary,
			content_hash=excluded.content_hash, metadata=excluded.metadata,
			updated_at=excluded.updated_at`, prefix),
		e.ID, string(e.Type), e.Name, qualifiedName, e.Path, e.Content, e.Summary, e.ContentHash, meta, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	e.QualifiedName = qualifiedName
	return tx.Commit()
}

// GetEntity fetches a single entity by ID.
func (d *DB) GetEntity(ctx context.Context, projectID, id string) (*Entity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	prefix := tablePrefix(projectID)
	row := d.conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, type, name, qualified_name, path, content, summary, content_hash, metadata, created_at, updated_at
		FROM %s_entities WHERE id = ?`, prefix), id)
	return scanEntity(row, projectID)
}

// GetEntities batch-fetches entities by ID, skipping any that are missing.
func (d *DB) GetEntities(ctx context.Context, projectID string, ids []string) ([]*Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	prefix := tablePrefix(projectID)

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := d.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, type, name, qualified_name, path, content, summary, content_hash, metadata, created_at, updated_at
		FROM %s_entities WHERE id IN (%s)`, prefix, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("get entities: %w", err)
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows, projectID)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner, projectID string) (*Entity, error) {
	e := &Entity{ProjectID: projectID}
	var typ string
	var meta string
	if err := row.Scan(&e.ID, &typ, &e.Name, &e.QualifiedName, &e.Path, &e.Content, &e.Summary, &e.ContentHash, &meta, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Type = EntityType(typ)
	e.Metadata = decodeMetadata(meta)
	return e, nil
}

// DeleteEntity removes an entity, its relationships, and its vector and
// lexical index rows (cascade, spec §3 lifecycle rule).
func (d *DB) DeleteEntity(ctx context.Context, projectID, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := tablePrefix(projectID)

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		fmt.Sprintf(`DELETE FROM %s_entities WHERE id = ?`, prefix),
		fmt.Sprintf(`DELETE FROM %s_relationships WHERE source_id = ? OR target_id = ?`, prefix),
		fmt.Sprintf(`DELETE FROM %s_vectors WHERE entity_id = ?`, prefix),
		fmt.Sprintf(`DELETE FROM %s_fts WHERE entity_id = ?`, prefix),
		fmt.Sprintf(`DELETE FROM %s_fts_ids WHERE entity_id = ?`, prefix),
		fmt.Sprintf(`DELETE FROM %s_hot_cache WHERE entity_id = ?`, prefix),
	}
	for _, s := range stmts {
		args := []any{id}
		if strings.Contains(s, "source_id") {
			args = []any{id, id}
		}
		if _, err := tx.ExecContext(ctx, s, args...); err != nil {
			return fmt.Errorf("cascade delete: %w", err)
		}
	}
	return tx.Commit()
}

// UpsertRelationship inserts or replaces a directed, typed edge.
func (d *DB) UpsertRelationship(ctx context.Context, r *Relationship) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := tablePrefix(r.ProjectID)
	_, err := d.conn.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s_relationships (id, source_id, target_id, type, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET weight=excluded.weight`, prefix),
		r.ID, r.SourceID, r.TargetID, string(r.Type), r.Weight, r.CreatedAt)
	return err
}

// Neighbors returns the relationships whose source is entityID, optionally
// filtered to an allow-list of relationship types.
func (d *DB) Neighbors(ctx context.Context, projectID, entityID string, types []RelationshipType) ([]*Relationship, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	prefix := tablePrefix(projectID)

	query := fmt.Sprintf(`SELECT id, source_id, target_id, type, weight, created_at
		FROM %s_relationships WHERE source_id = ?`, prefix)
	args := []any{entityID}
	if len(types) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")
		query += fmt.Sprintf(" AND type IN (%s)", placeholders)
		for _, t := range types {
			args = append(args, string(t))
		}
	}

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("neighbors: %w", err)
	}
	defer rows.Close()

	var out []*Relationship
	for rows.Next() {
		r := &Relationship{ProjectID: projectID}
		var typ string
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &typ, &r.Weight, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Type = RelationshipType(typ)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRelationshipsForEntity removes every edge touching entityID.
func (d *DB) DeleteRelationshipsForEntity(ctx context.Context, projectID, entityID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := tablePrefix(projectID)
	_, err := d.conn.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s_relationships WHERE source_id = ? OR target_id = ?`, prefix),
		entityID, entityID)
	return err
}

// GetState reads a per-project key/value state entry.
func (d *DB) GetState(ctx context.Context, projectID, key string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	prefix := tablePrefix(projectID)
	var v string
	err := d.conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT value FROM %s_state WHERE key = ?`, prefix), key).Scan(&v)
	return v, err
}

// SetState writes a per-project key/value state entry.
func (d *DB) SetState(ctx context.Context, projectID, key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := tablePrefix(projectID)
	_, err := d.conn.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s_state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, prefix),
		key, value)
	return err
}

// CreateSession starts a new conversation session within a project.
func (d *DB) CreateSession(ctx context.Context, projectID, label string) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := tablePrefix(projectID)

	s := &Session{ID: uuid.NewString(), ProjectID: projectID, Label: label, CreatedAt: time.Now()}
	_, err := d.conn.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s_sessions (id, label, created_at) VALUES (?, ?, ?)`, prefix),
		s.ID, s.Label, s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// AppendMessage adds one turn to a session's conversation history.
func (d *DB) AppendMessage(ctx context.Context, projectID, sessionID, role, content string) (*Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := tablePrefix(projectID)

	m := &Message{ID: uuid.NewString(), ProjectID: projectID, SessionID: sessionID, Role: role, Content: content, CreatedAt: time.Now()}
	_, err := d.conn.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s_messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`, prefix),
		m.ID, m.SessionID, m.Role, m.Content, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

// UpsertDecision inserts or updates a decision record and keeps its
// lexical index row in sync within the same transaction.
func (d *DB) UpsertDecision(ctx context.Context, dec *Decision) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := tablePrefix(dec.ProjectID)

	if dec.ID == "" {
		dec.ID = uuid.NewString()
	}
	if dec.CreatedAt.IsZero() {
		dec.CreatedAt = time.Now()
	}
	alternatives := encodeMetadata(alternativesToMap(dec.Alternatives))

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s_decisions (id, title, content, context, alternatives, supersedes_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, content=excluded.content, context=excluded.context,
			alternatives=excluded.alternatives, supersedes_id=excluded.supersedes_id`, prefix),
		dec.ID, dec.Title, dec.Content, dec.Context, alternatives, dec.SupersedesID, dec.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert decision: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s_fts_decisions WHERE decision_id = ?`, prefix), dec.ID); err != nil {
		return fmt.Errorf("delete existing decision fts row: %w", err)
	}
	indexed := strings.Join([]string{dec.Title, dec.Content, dec.Context}, " ")
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s_fts_decisions (decision_id, content) VALUES (?, ?)`, prefix), dec.ID, indexed); err != nil {
		return fmt.Errorf("index decision: %w", err)
	}
	return tx.Commit()
}

// alternativesToMap packs a decision's alternatives into the same
// string-map shape encodeMetadata already knows how to serialize.
func alternativesToMap(alternatives []string) map[string]string {
	if len(alternatives) == 0 {
		return nil
	}
	m := make(map[string]string, len(alternatives))
	for i, a := range alternatives {
		m[fmt.Sprintf("%d", i)] = a
	}
	return m
}

// SearchDecisions runs a BM25 search over the decision lexical index,
// degrading to a LIKE scan on an FTS5 parse error exactly as LexIndex.Search
// does for entities (lex.go), but tokenized against its own stop-word list.
func (d *DB) SearchDecisions(ctx context.Context, projectID, query string, limit int) ([]*DecisionResult, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	prefix := tablePrefix(projectID)
	if strings.TrimSpace(query) == "" {
		return []*DecisionResult{}, nil
	}

	tokens := TokenizeCode(query)
	tokens = FilterStopWords(tokens, d.decisionStopWords)
	if len(tokens) == 0 {
		return []*DecisionResult{}, nil
	}
	processed := strings.Join(tokens, " ")

	rows, err := d.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT decision_id, bm25(%s_fts_decisions) as score
		FROM %s_fts_decisions WHERE content MATCH ?
		ORDER BY score LIMIT ?`, prefix, prefix), processed, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return d.decisionLikeFallback(ctx, projectID, tokens, limit)
		}
		return nil, fmt.Errorf("decision search: %w", err)
	}
	defer rows.Close()

	var results []*DecisionResult
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scan decision result: %w", err)
		}
		results = append(results, &DecisionResult{DecisionID: id, Score: -score})
	}
	return results, rows.Err()
}

func (d *DB) decisionLikeFallback(ctx context.Context, projectID string, tokens []string, limit int) ([]*DecisionResult, error) {
	prefix := tablePrefix(projectID)
	pattern := "%" + strings.Join(tokens, "%") + "%"
	rows, err := d.conn.QueryContext(ctx, fmt.Sprintf(
		`SELECT decision_id FROM %s_fts_decisions WHERE content LIKE ? LIMIT ?`, prefix), pattern, limit)
	if err != nil {
		return []*DecisionResult{}, nil
	}
	defer rows.Close()

	var results []*DecisionResult
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		results = append(results, &DecisionResult{DecisionID: id, Score: 0.01, Downgraded: true})
	}
	return results, rows.Err()
}

// Vectors exposes the vector index backed by this same file.
func (d *DB) Vectors() VectorIndex { return d.vectors }

// Lex exposes the lexical index backed by this same file.
func (d *DB) Lex() LexIndex { return d.lex }

// Close checkpoints the WAL and releases the connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	_, _ = d.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return d.conn.Close()
}

var _ MetadataStore = (*DB)(nil)
