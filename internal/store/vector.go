package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// vectorIndex implements VectorIndex on top of the shared *DB connection.
// The BLOB column in "<prefix>_vectors" is the durable source of truth;
// an in-memory coder/hnsw graph per project is a derived, rebuildable
// cache, loaded lazily on first use so opening the file is cheap even for
// a project with a large vector table.
type vectorIndex struct {
	db *DB

	mu       sync.RWMutex
	projects map[string]*projectGraph
}

type projectGraph struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	idMap  map[string]uint64
	keyMap map[uint64]string
	next   uint64
	metric string
}

func newVectorIndex(db *DB) *vectorIndex {
	return &vectorIndex{db: db, projects: make(map[string]*projectGraph)}
}

func (v *vectorIndex) graphFor(ctx context.Context, projectID string) (*projectGraph, error) {
	v.mu.RLock()
	pg, ok := v.projects[projectID]
	v.mu.RUnlock()
	if ok {
		return pg, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if pg, ok := v.projects[projectID]; ok {
		return pg, nil
	}

	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 32
	g.EfSearch = 64
	g.Ml = 0.25

	pg = &projectGraph{graph: g, idMap: make(map[string]uint64), keyMap: make(map[uint64]string), metric: "cos"}
	if err := v.rebuild(ctx, projectID, pg); err != nil {
		return nil, err
	}
	v.projects[projectID] = pg
	return pg, nil
}

// rebuild reloads every vector row for a project into a fresh in-memory
// graph. Called once per project, at first access.
func (v *vectorIndex) rebuild(ctx context.Context, projectID string, pg *projectGraph) error {
	prefix := tablePrefix(projectID)
	rows, err := v.db.conn.QueryContext(ctx, fmt.Sprintf(`SELECT entity_id, vector FROM %s_vectors`, prefix))
	if err != nil {
		return fmt.Errorf("rebuild vector graph: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		vec := decodeFloat32s(blob)
		key := pg.next
		pg.next++
		pg.graph.Add(hnsw.MakeNode(key, vec))
		pg.idMap[id] = key
		pg.keyMap[key] = id
	}
	return rows.Err()
}

// Add upserts vectors; existing IDs are lazily deleted (orphaned key) and
// re-added, per the teacher's coder/hnsw workaround for its delete-last-node
// bug — and writes the durable BLOB row alongside.
func (v *vectorIndex) Add(ctx context.Context, projectID string, ids []string, vectors [][]float32, contentHashes []string) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	pg, err := v.graphFor(ctx, projectID)
	if err != nil {
		return err
	}

	project, err := v.db.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("get project for dimension check: %w", err)
	}
	for _, vec := range vectors {
		if len(vec) != project.Dimension {
			return ErrDimensionMismatch{Expected: project.Dimension, Got: len(vec)}
		}
	}

	prefix := tablePrefix(projectID)
	tx, err := v.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s_vectors (entity_id, vector, content_hash) VALUES (?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET vector=excluded.vector, content_hash=excluded.content_hash`, prefix))
	if err != nil {
		return fmt.Errorf("prepare vector insert: %w", err)
	}
	defer stmt.Close()

	pg.mu.Lock()
	for i, id := range ids {
		hash := ""
		if i < len(contentHashes) {
			hash = contentHashes[i]
		}
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)

		if _, err := stmt.ExecContext(ctx, id, encodeFloat32s(vec), hash); err != nil {
			pg.mu.Unlock()
			return fmt.Errorf("persist vector %s: %w", id, err)
		}

		if existingKey, exists := pg.idMap[id]; exists {
			delete(pg.keyMap, existingKey)
			delete(pg.idMap, id)
		}
		key := pg.next
		pg.next++
		pg.graph.Add(hnsw.MakeNode(key, vec))
		pg.idMap[id] = key
		pg.keyMap[key] = id
	}
	pg.mu.Unlock()

	return tx.Commit()
}

// Search returns the k nearest neighbours of query in cosine space. It does
// not compare stored content hashes with current entity content, so Stale
// is false on every result it returns.
func (v *vectorIndex) Search(ctx context.Context, projectID string, query []float32, k int) ([]*VecResult, error) {
	project, err := v.db.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	if len(query) != project.Dimension {
		return nil, ErrDimensionMismatch{Expected: project.Dimension, Got: len(query)}
	}

	pg, err := v.graphFor(ctx, projectID)
	if err != nil {
		return nil, err
	}

	pg.mu.RLock()
	defer pg.mu.RUnlock()

	if pg.graph.Len() == 0 {
		return []*VecResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeVectorInPlace(normalized)

	nodes := pg.graph.Search(normalized, k)
	results := make([]*VecResult, 0, len(nodes))
	for _, node := range nodes {
		id, ok := pg.keyMap[node.Key]
		if !ok {
			continue // lazily deleted
		}
		distance := pg.graph.Distance(normalized, node.Value)
		results = append(results, &VecResult{
			EntityID: id,
			Distance: distance,
			Score:    1.0 - distance/2.0,
		})
	}
	return results, nil
}

// Delete lazily removes vectors: the durable row is dropped immediately,
// the in-memory graph node is orphaned (not physically removed) to avoid
// the coder/hnsw last-node-delete issue.
func (v *vectorIndex) Delete(ctx context.Context, projectID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	prefix := tablePrefix(projectID)

	for _, id := range ids {
		if _, err := v.db.conn.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s_vectors WHERE entity_id = ?`, prefix), id); err != nil {
			return fmt.Errorf("delete vector %s: %w", id, err)
		}
	}

	v.mu.RLock()
	pg, ok := v.projects[projectID]
	v.mu.RUnlock()
	if !ok {
		return nil
	}
	pg.mu.Lock()
	defer pg.mu.Unlock()
	for _, id := range ids {
		if key, exists := pg.idMap[id]; exists {
			delete(pg.keyMap, key)
			delete(pg.idMap, id)
		}
	}
	return nil
}

// Count returns the number of live (non-orphaned) vectors for a project.
func (v *vectorIndex) Count(projectID string) int {
	v.mu.RLock()
	pg, ok := v.projects[projectID]
	v.mu.RUnlock()
	if !ok {
		return 0
	}
	pg.mu.RLock()
	defer pg.mu.RUnlock()
	return len(pg.idMap)
}

func (v *vectorIndex) Close() error { return nil }

var _ VectorIndex = (*vectorIndex)(nil)

func normalizeVectorInPlace(vec []float32) {
	var sumSquares float64
	for _, val := range vec {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] *= inv
	}
}

func encodeFloat32s(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(buf []byte) []float32 {
	n := len(buf) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
