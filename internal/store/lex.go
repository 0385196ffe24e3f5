package store

import (
	"context"
	"fmt"
	"strings"
)

// lexIndex implements LexIndex on the shared *DB connection's per-project
// FTS5 virtual tables, code-aware tokenized exactly as the entity content
// is at index time (tokenizer.go).
type lexIndex struct {
	db        *DB
	config    LexConfig
	stopWords map[string]struct{}
}

func newLexIndex(db *DB, config LexConfig) *lexIndex {
	return &lexIndex{db: db, config: config, stopWords: BuildStopWordMap(config.StopWords)}
}

// Index replaces the FTS row for each document (FTS5 virtual tables do not
// support UPSERT, so every write is delete-then-insert, matching the
// teacher's SQLiteBM25Index.Index).
func (l *lexIndex) Index(ctx context.Context, projectID string, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}
	prefix := tablePrefix(projectID)

	tx, err := l.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del, err := tx.PrepareContext(ctx, fmt.Sprintf(`DELETE FROM %s_fts WHERE entity_id = ?`, prefix))
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer del.Close()

	ins, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s_fts(entity_id, content) VALUES (?, ?)`, prefix))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer ins.Close()

	id, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT OR REPLACE INTO %s_fts_ids(entity_id) VALUES (?)`, prefix))
	if err != nil {
		return fmt.Errorf("prepare id track: %w", err)
	}
	defer id.Close()

	for _, doc := range docs {
		tokens := TokenizeCode(doc.Content)
		tokens = FilterStopWords(tokens, l.stopWords)
		processed := strings.Join(tokens, " ")

		if _, err := del.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("delete existing doc %s: %w", doc.ID, err)
		}
		if _, err := ins.ExecContext(ctx, doc.ID, processed); err != nil {
			return fmt.Errorf("index doc %s: %w", doc.ID, err)
		}
		if _, err := id.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("track doc id %s: %w", doc.ID, err)
		}
	}
	return tx.Commit()
}

// Search runs an FTS5 MATCH query and returns BM25-ranked hits. On a parse
// error it degrades to a LIKE substring scan and marks results Downgraded
// (spec §4.3 LexStrategy fallback).
func (l *lexIndex) Search(ctx context.Context, projectID, queryStr string, limit int) ([]*LexResult, error) {
	prefix := tablePrefix(projectID)
	if strings.TrimSpace(queryStr) == "" {
		return []*LexResult{}, nil
	}

	tokens := TokenizeCode(queryStr)
	tokens = FilterStopWords(tokens, l.stopWords)
	if len(tokens) == 0 {
		return []*LexResult{}, nil
	}
	processed := strings.Join(tokens, " ")

	rows, err := l.db.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT entity_id, bm25(%s_fts) as score
		FROM %s_fts WHERE content MATCH ?
		ORDER BY score LIMIT ?`, prefix, prefix), processed, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return l.likeFallback(ctx, projectID, tokens, limit)
		}
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var results []*LexResult
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scan lex result: %w", err)
		}
		results = append(results, &LexResult{EntityID: id, Score: -score, MatchedTerms: tokens})
	}
	return results, rows.Err()
}

func (l *lexIndex) likeFallback(ctx context.Context, projectID string, tokens []string, limit int) ([]*LexResult, error) {
	prefix := tablePrefix(projectID)
	pattern := "%" + strings.Join(tokens, "%") + "%"
	rows, err := l.db.conn.QueryContext(ctx, fmt.Sprintf(
		`SELECT entity_id FROM %s_fts WHERE content LIKE ? LIMIT ?`, prefix), pattern, limit)
	if err != nil {
		return []*LexResult{}, nil
	}
	defer rows.Close()

	var results []*LexResult
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		results = append(results, &LexResult{EntityID: id, Score: 0.01, MatchedTerms: tokens, Downgraded: true})
	}
	return results, rows.Err()
}

// Delete removes documents from the lexical index.
func (l *lexIndex) Delete(ctx context.Context, projectID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	prefix := tablePrefix(projectID)

	tx, err := l.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s_fts WHERE entity_id IN (%s)`, prefix, placeholders), args...); err != nil {
		return fmt.Errorf("delete fts rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s_fts_ids WHERE entity_id IN (%s)`, prefix, placeholders), args...); err != nil {
		return fmt.Errorf("delete fts id rows: %w", err)
	}
	return tx.Commit()
}

// AllIDs returns every entity ID present in the lexical index.
func (l *lexIndex) AllIDs(ctx context.Context, projectID string) ([]string, error) {
	prefix := tablePrefix(projectID)
	rows, err := l.db.conn.QueryContext(ctx, fmt.Sprintf(`SELECT entity_id FROM %s_fts_ids ORDER BY entity_id`, prefix))
	if err != nil {
		return nil, fmt.Errorf("all ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (l *lexIndex) Close() error { return nil }

var _ LexIndex = (*lexIndex)(nil)
