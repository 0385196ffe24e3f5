package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/david-franz/ctx-sys-sub001/internal/store"
)

// StoreIndexer is the default Indexer: a thin facade over store.DB that
// upserts entities into the metadata table, the lexical index, and the
// vector index in one call.
type StoreIndexer struct {
	db        *store.DB
	projectID string
}

// NewStoreIndexer returns an Indexer bound to one project in db.
func NewStoreIndexer(db *store.DB, projectID string) *StoreIndexer {
	return &StoreIndexer{db: db, projectID: projectID}
}

// Index upserts entities, their relationships, and their vectors (for any
// entity carrying one).
func (s *StoreIndexer) Index(ctx context.Context, entities []*Entity) error {
	if len(entities) == 0 {
		return nil
	}

	var vecIDs []string
	var vecs [][]float32
	var hashes []string

	for _, e := range entities {
		qualifiedName := e.QualifiedName
		if qualifiedName == "" {
			qualifiedName = e.Path + "::" + e.Name
		}
		storeEntity := &store.Entity{
			ID:            e.ID,
			ProjectID:     s.projectID,
			Type:          e.Type,
			Name:          e.Name,
			QualifiedName: qualifiedName,
			Path:          e.Path,
			Content:       e.Content,
			Summary:       e.Summary,
			Metadata:      e.Metadata,
			UpdatedAt:     time.Now(),
		}
		if err := s.db.UpsertEntity(ctx, storeEntity); err != nil {
			return fmt.Errorf("upsert entity %s: %w", e.ID, err)
		}

		if err := s.db.Lex().Index(ctx, s.projectID, []*store.Document{{ID: e.ID, Content: e.Content}}); err != nil {
			return fmt.Errorf("index entity %s lexically: %w", e.ID, err)
		}

		for _, rel := range e.Relations {
			r := &store.Relationship{
				ID:        e.ID + "|" + string(rel.Type) + "|" + rel.TargetID,
				ProjectID: s.projectID,
				SourceID:  e.ID,
				TargetID:  rel.TargetID,
				Type:      rel.Type,
				Weight:    rel.Weight,
				CreatedAt: time.Now(),
			}
			if err := s.db.UpsertRelationship(ctx, r); err != nil {
				return fmt.Errorf("upsert relationship %s->%s: %w", e.ID, rel.TargetID, err)
			}
		}

		if e.Vector != nil {
			vecIDs = append(vecIDs, e.ID)
			vecs = append(vecs, e.Vector)
			hashes = append(hashes, store.Sha256Hex(e.Content))
		}
	}

	if len(vecIDs) > 0 {
		if err := s.db.Vectors().Add(ctx, s.projectID, vecIDs, vecs, hashes); err != nil {
			return fmt.Errorf("add vectors: %w", err)
		}
	}

	return nil
}

// Delete removes entities, their relationships, and their vectors.
//
// DeleteEntity's own cascade already drops the underlying SQL rows, but it
// does so with raw statements that bypass vectorIndex's in-memory key map;
// Vectors().Delete is called afterward specifically to keep that map in
// sync, not because the row survives otherwise.
func (s *StoreIndexer) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if err := s.db.DeleteEntity(ctx, s.projectID, id); err != nil {
			return fmt.Errorf("delete entity %s: %w", id, err)
		}
	}
	if err := s.db.Lex().Delete(ctx, s.projectID, ids); err != nil {
		return fmt.Errorf("delete lexical entries: %w", err)
	}
	if err := s.db.Vectors().Delete(ctx, s.projectID, ids); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	return nil
}

// Stats returns current index statistics for the bound project.
func (s *StoreIndexer) Stats(ctx context.Context) (IndexStats, error) {
	if err := s.db.RefreshProjectStats(ctx, s.projectID); err != nil {
		return IndexStats{}, fmt.Errorf("refresh project stats: %w", err)
	}
	p, err := s.db.GetProject(ctx, s.projectID)
	if err != nil {
		return IndexStats{}, fmt.Errorf("get project: %w", err)
	}
	return IndexStats{EntityCount: p.EntityCnt, RelationshipCount: p.RelCnt}, nil
}

// Close is a no-op: the underlying store.DB outlives the indexer and is
// closed by whoever opened it.
func (s *StoreIndexer) Close() error { return nil }
