// Package legacy reads the teacher-era on-disk layout (a Bleve/BoltDB
// lexical index plus a coder/hnsw graph + gob metadata pair) so a project
// can be migrated into the single-file store once and never touch this
// package again. Nothing in the retrieval engine imports it.
package legacy

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"

	"github.com/david-franz/ctx-sys-sub001/internal/provider"
	"github.com/david-franz/ctx-sys-sub001/internal/store"
)

// Doc is one lexical document recovered from a legacy Bleve index.
type Doc struct {
	ID      string
	Content string
}

// ReadBleve opens an existing Bleve index read-only and returns every
// indexed document's ID and original content. It never writes to the
// legacy index.
func ReadBleve(path string) ([]Doc, error) {
	idx, err := bleve.OpenUsing(path, map[string]interface{}{"read_only": true})
	if err != nil {
		return nil, fmt.Errorf("open legacy bleve index %s: %w", path, err)
	}
	defer idx.Close()

	return readBleveByQuery(idx)
}

func readBleveByQuery(idx bleve.Index) ([]Doc, error) {
	q := bleve.NewMatchAllQuery()
	req := bleve.NewSearchRequest(q)
	req.Size = idx.DocCount() + 1
	req.Fields = []string{"content"}

	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("legacy bleve scan: %w", err)
	}

	docs := make([]Doc, 0, len(res.Hits))
	for _, hit := range res.Hits {
		content, _ := hit.Fields["content"].(string)
		docs = append(docs, Doc{ID: hit.ID, Content: content})
	}
	return docs, nil
}

// ReadHNSWIDs loads a legacy two-file vector store's gob-encoded ID mapping
// and returns the set of entity IDs it covers. coder/hnsw exposes no
// supported way to enumerate a loaded graph's (key, vector) pairs, so the
// embeddings themselves are not recoverable from the binary graph file
// alone; Import re-embeds these IDs through the live Embedder instead of
// reading vectors back out of the legacy graph (see DESIGN.md).
func ReadHNSWIDs(metaPath string) ([]string, error) {
	metaFile, err := os.Open(metaPath)
	if err != nil {
		return nil, fmt.Errorf("open legacy vector metadata: %w", err)
	}
	defer metaFile.Close()

	var meta struct {
		IDMap   map[string]uint64
		NextKey uint64
		Config  struct {
			Dimensions int
			Metric     string
		}
	}
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode legacy vector metadata: %w", err)
	}

	ids := make([]string, 0, len(meta.IDMap))
	for id := range meta.IDMap {
		ids = append(ids, id)
	}
	return ids, nil
}

// ImportStats reports what a legacy Import call actually recovered.
type ImportStats struct {
	DocsImported      int
	VectorsReembedded int
	VectorsSkipped    int // legacy IDs with no recoverable content to re-embed
}

// Import migrates a legacy project's lexical documents into the
// single-file store directly, and re-embeds vectors for every legacy
// vector ID whose content a matching Bleve document recovered (spec §9
// Open Question: the old two-file layout is a migration source, never a
// live backend). IDs present only in the legacy vector metadata, with no
// corresponding Bleve document, cannot be re-embedded and are skipped.
func Import(ctx context.Context, db *store.DB, embedder provider.Embedder, projectID, bleveDir, hnswMetaPath string) (ImportStats, error) {
	docs, err := ReadBleve(bleveDir)
	if err != nil {
		return ImportStats{}, err
	}
	storeDocs := make([]*store.Document, 0, len(docs))
	contentByID := make(map[string]string, len(docs))
	for _, d := range docs {
		storeDocs = append(storeDocs, &store.Document{ID: d.ID, Content: d.Content})
		contentByID[d.ID] = d.Content
	}
	if err := db.Lex().Index(ctx, projectID, storeDocs); err != nil {
		return ImportStats{}, fmt.Errorf("import legacy lexical docs: %w", err)
	}

	legacyIDs, err := ReadHNSWIDs(hnswMetaPath)
	if err != nil {
		return ImportStats{DocsImported: len(docs)}, fmt.Errorf("import legacy vector ids: %w", err)
	}

	var ids []string
	var texts []string
	skipped := 0
	for _, id := range legacyIDs {
		content, ok := contentByID[id]
		if !ok || content == "" {
			skipped++
			continue
		}
		ids = append(ids, id)
		texts = append(texts, content)
	}

	stats := ImportStats{DocsImported: len(docs), VectorsSkipped: skipped}
	if len(ids) == 0 {
		return stats, nil
	}

	vecs, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return stats, fmt.Errorf("re-embed legacy vectors: %w", err)
	}
	hashes := make([]string, len(ids))
	for i, text := range texts {
		hashes[i] = store.Sha256Hex(text)
	}
	if err := db.Vectors().Add(ctx, projectID, ids, vecs, hashes); err != nil {
		return stats, fmt.Errorf("add re-embedded legacy vectors: %w", err)
	}
	stats.VectorsReembedded = len(ids)
	return stats, nil
}
