package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/david-franz/ctx-sys-sub001/internal/provider"
	"github.com/david-franz/ctx-sys-sub001/internal/store"
)

// LexStrategy ranks entities by BM25 relevance against the FTS5 index.
type LexStrategy struct {
	lex store.LexIndex
}

func NewLexStrategy(lex store.LexIndex) *LexStrategy {
	return &LexStrategy{lex: lex}
}

func (s *LexStrategy) Name() string { return "lex" }

func (s *LexStrategy) Run(ctx context.Context, q Query) (Ranked, error) {
	hits, err := s.lex.Search(ctx, q.ProjectID, q.Text, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("lex strategy: %w", err)
	}
	ranked := make(Ranked, len(hits))
	for i, h := range hits {
		ranked[i] = RankedEntity{
			EntityID:   h.EntityID,
			Score:      h.Score,
			Downgraded: h.Downgraded,
		}
	}
	return ranked, nil
}

// VecStrategy ranks entities by cosine similarity of the query's embedding
// against each entity's stored vector. A query embedded against a model
// whose dimension no longer matches the project's degrades to an empty
// result rather than an error, letting fusion carry on with other strategies.
type VecStrategy struct {
	vectors  store.VectorIndex
	embedder provider.Embedder
}

func NewVecStrategy(vectors store.VectorIndex, embedder provider.Embedder) *VecStrategy {
	return &VecStrategy{vectors: vectors, embedder: embedder}
}

func (s *VecStrategy) Name() string { return "vec" }

func (s *VecStrategy) Run(ctx context.Context, q Query) (Ranked, error) {
	if s.embedder == nil || !s.embedder.Available(ctx) {
		return Ranked{}, nil
	}
	vec, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("vec strategy: embed query: %w", err)
	}

	hits, err := s.vectors.Search(ctx, q.ProjectID, vec, q.Limit)
	if err != nil {
		var dimErr store.ErrDimensionMismatch
		if asDimensionMismatch(err, &dimErr) {
			return Ranked{}, nil
		}
		return nil, fmt.Errorf("vec strategy: %w", err)
	}

	ranked := make(Ranked, len(hits))
	for i, h := range hits {
		ranked[i] = RankedEntity{
			EntityID: h.EntityID,
			Score:    float64(h.Score),
			Stale:    h.Stale,
		}
	}
	return ranked, nil
}

func asDimensionMismatch(err error, target *store.ErrDimensionMismatch) bool {
	for err != nil {
		if dm, ok := err.(store.ErrDimensionMismatch); ok {
			*target = dm
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// GraphStrategy walks the entity graph breadth-first from seed entities a
// companion strategy already surfaced, scoring each reached node by
// seed_score * GraphDecay^hops and keeping the max over every path that
// reaches it. It never runs standalone: Engine feeds it the lexical/vector
// union as seeds via WithSeeds before fusion.
type GraphStrategy struct {
	meta store.MetadataStore
}

func NewGraphStrategy(meta store.MetadataStore) *GraphStrategy {
	return &GraphStrategy{meta: meta}
}

func (s *GraphStrategy) Name() string { return "graph" }

// Run expects the caller to have stashed seeds on the context via WithSeeds;
// without seeds there is nothing to expand from and it returns an empty
// ranking rather than scanning the whole project. An unknown or dangling
// entity id encountered mid-walk is simply absent from Neighbors' result,
// not an error.
func (s *GraphStrategy) Run(ctx context.Context, q Query) (Ranked, error) {
	seeds := seedsFromContext(ctx)
	if len(seeds) == 0 {
		return Ranked{}, nil
	}
	depth := q.GraphDepth
	if depth <= 0 {
		depth = DefaultGraphDepth
	}

	best := make(map[string]float64)
	for _, seed := range seeds {
		visited := map[string]bool{seed.EntityID: true}
		frontier := []string{seed.EntityID}
		for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
			decayed := seed.Score * math.Pow(GraphDecay, float64(hop))
			var next []string
			for _, id := range frontier {
				rels, err := s.meta.Neighbors(ctx, q.ProjectID, id, store.DefaultExpandRelationships)
				if err != nil {
					return nil, fmt.Errorf("graph strategy: neighbors of %s: %w", id, err)
				}
				for _, r := range rels {
					other := r.TargetID
					if visited[other] {
						continue
					}
					visited[other] = true
					next = append(next, other)
					if cur, ok := best[other]; !ok || decayed > cur {
						best[other] = decayed
					}
				}
			}
			frontier = next
		}
	}

	ranked := make(Ranked, 0, len(best))
	for id, score := range best {
		ranked = append(ranked, RankedEntity{EntityID: id, Score: score})
	}
	sortRankedDesc(ranked)
	if q.Limit > 0 && len(ranked) > q.Limit {
		ranked = ranked[:q.Limit]
	}
	return ranked, nil
}

func sortRankedDesc(r Ranked) {
	sort.Slice(r, func(i, j int) bool {
		if r[i].Score != r[j].Score {
			return r[i].Score > r[j].Score
		}
		return r[i].EntityID < r[j].EntityID
	})
}

type seedsContextKey struct{}

// WithSeeds attaches the seed entities GraphStrategy expands from, each
// carrying the score it scored under its originating strategy.
func WithSeeds(ctx context.Context, seeds []Seed) context.Context {
	return context.WithValue(ctx, seedsContextKey{}, seeds)
}

func seedsFromContext(ctx context.Context) []Seed {
	seeds, _ := ctx.Value(seedsContextKey{}).([]Seed)
	return seeds
}
