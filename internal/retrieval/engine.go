package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/david-franz/ctx-sys-sub001/internal/provider"
	"github.com/david-franz/ctx-sys-sub001/internal/store"
)

// ErrNilDependency is returned when a required Engine dependency is nil.
var ErrNilDependency = errors.New("retrieval: nil dependency")

// Engine runs every configured Strategy concurrently, fuses their rankings
// with RRF, optionally rewrites the query first and expands the fused set
// over the entity graph afterward.
type Engine struct {
	meta       store.MetadataStore
	strategies map[string]Strategy
	rewriter   *Rewriter
	expander   *Expander
	mu         sync.RWMutex
}

// NewEngine wires a metadata store, every strategy this build supports, and
// the providers a rewriting pipeline needs. strategies is keyed by the name
// each Strategy.Name() returns; SearchOptions.Strategies selects a subset.
func NewEngine(meta store.MetadataStore, lex store.LexIndex, vectors store.VectorIndex, embedder provider.Embedder, generator provider.Generator) (*Engine, error) {
	if meta == nil {
		return nil, fmt.Errorf("%w: metadata store is required", ErrNilDependency)
	}
	if lex == nil {
		return nil, fmt.Errorf("%w: lexical index is required", ErrNilDependency)
	}
	if vectors == nil {
		return nil, fmt.Errorf("%w: vector index is required", ErrNilDependency)
	}

	strategies := map[string]Strategy{
		"lex":   NewLexStrategy(lex),
		"vec":   NewVecStrategy(vectors, embedder),
		"graph": NewGraphStrategy(meta),
	}

	return &Engine{
		meta:       meta,
		strategies: strategies,
		rewriter:   NewRewriter(generator),
		expander:   NewExpander(meta, EstimateTokens),
	}, nil
}

// Search runs the configured strategies, fuses their output, optionally
// rewrites the query, and optionally expands the result set over the
// entity graph. Degradation is strategy-local: a failing strategy is
// logged and dropped from fusion rather than failing the whole search,
// unless every strategy fails.
func (e *Engine) Search(ctx context.Context, projectID, text string, opts SearchOptions) ([]SearchResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	opts = e.applyDefaults(opts)

	searchText := text
	if opts.Gate {
		decompose, hyde := e.rewriter.Gate(text)
		opts.Decompose = opts.Decompose || decompose
		opts.HyDE = opts.HyDE || hyde
	}
	if opts.HyDE {
		if rewritten, ok := e.rewriter.HyDE(ctx, text); ok {
			searchText = rewritten
		}
	}

	var results []SearchResult
	var err error
	if opts.Decompose {
		results, err = e.decomposedSearch(ctx, projectID, text, opts)
	} else {
		results, err = e.fusedSearch(ctx, projectID, searchText, opts)
	}
	if err != nil {
		return nil, err
	}

	if opts.MinScore > 0 {
		results = filterMinScore(results, opts.MinScore)
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	if opts.Expand && len(results) > 0 {
		expanded, err := e.expander.Expand(ctx, projectID, results, opts.ExpandTypes, opts.ExpandTokens)
		if err != nil {
			slog.Warn("graph expansion failed, continuing without it",
				slog.String("project_id", projectID), slog.String("error", err.Error()))
		} else {
			results = append(results, expanded...)
		}
	}

	return results, nil
}

// fusedSearch runs the requested strategies in parallel and fuses them.
func (e *Engine) fusedSearch(ctx context.Context, projectID, text string, opts SearchOptions) ([]SearchResult, error) {
	active := e.activeStrategies(opts.Strategies)
	if len(active) == 0 {
		return nil, fmt.Errorf("retrieval: no strategies available")
	}

	lists, runErr := e.runStrategies(ctx, active, Query{ProjectID: projectID, Text: text, Limit: opts.Limit * 2})
	if runErr != nil {
		return nil, runErr
	}

	seeds := seedsFromLists(lists)
	wantGraph := false
	for _, name := range opts.Strategies {
		if name == "graph" {
			wantGraph = true
		}
	}
	e.mu.RLock()
	graph, hasGraph := e.strategies["graph"]
	e.mu.RUnlock()
	if wantGraph && hasGraph && len(seeds) > 0 {
		graphRanked, err := graph.Run(WithSeeds(ctx, seeds), Query{ProjectID: projectID, Text: text, Limit: opts.Limit * 2})
		if err == nil {
			lists["graph"] = graphRanked
		}
	}

	fusion := NewRRFFusion(opts.RRFConstant)
	return fusion.Fuse(lists, opts.Weights), nil
}

// decomposedSearch runs one fused search per sub-query and merges the
// per-sub-query result sets, summing scores for entities multiple
// sub-queries agree on (consensus boosting).
func (e *Engine) decomposedSearch(ctx context.Context, projectID, text string, opts SearchOptions) ([]SearchResult, error) {
	subQueries := e.rewriter.Decompose(ctx, text)
	if len(subQueries) <= 1 {
		return e.fusedSearch(ctx, projectID, text, opts)
	}

	combined := make(map[string]*SearchResult)
	for _, sq := range subQueries {
		sub, err := e.fusedSearch(ctx, projectID, sq.Query, opts)
		if err != nil {
			continue
		}
		for _, r := range sub {
			weighted := r.Score * sq.Weight
			if existing, ok := combined[r.EntityID]; ok {
				existing.Score += weighted
				existing.Strategies = mergeUnique(existing.Strategies, r.Strategies)
			} else {
				clone := r
				clone.Score = weighted
				combined[r.EntityID] = &clone
			}
		}
	}
	if len(combined) == 0 {
		return nil, nil
	}

	out := make([]SearchResult, 0, len(combined))
	for _, r := range combined {
		out = append(out, *r)
	}
	sortResultsDesc(out)
	normalize(out)
	return out, nil
}

func (e *Engine) activeStrategies(names []string) []Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(names) == 0 {
		out := make([]Strategy, 0, len(e.strategies))
		for name, s := range e.strategies {
			if name == "graph" {
				continue // graph only runs seeded, after the first pass
			}
			out = append(out, s)
		}
		return out
	}
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		if name == "graph" {
			continue
		}
		if s, ok := e.strategies[name]; ok {
			out = append(out, s)
		}
	}
	return out
}

// runStrategies executes every strategy concurrently via errgroup. A
// strategy error is logged and that strategy is omitted from the returned
// map rather than failing the group, unless every strategy errors.
func (e *Engine) runStrategies(ctx context.Context, strategies []Strategy, q Query) (map[string]Ranked, error) {
	g, gctx := errgroup.WithContext(ctx)
	lists := make(map[string]Ranked)
	var mu sync.Mutex
	var failures int32

	for _, s := range strategies {
		s := s
		g.Go(func() error {
			ranked, err := s.Run(gctx, q)
			if err != nil {
				slog.Warn("strategy failed, excluding from fusion",
					slog.String("strategy", s.Name()), slog.String("error", err.Error()))
				mu.Lock()
				failures++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			lists[s.Name()] = ranked
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if int(failures) == len(strategies) {
		return nil, fmt.Errorf("retrieval: all strategies failed")
	}
	return lists, nil
}

func (e *Engine) applyDefaults(opts SearchOptions) SearchOptions {
	defaults := DefaultSearchOptions()
	if len(opts.Strategies) == 0 {
		opts.Strategies = defaults.Strategies
	}
	if opts.Weights == nil {
		opts.Weights = defaults.Weights
	}
	if opts.RRFConstant <= 0 {
		opts.RRFConstant = defaults.RRFConstant
	}
	if opts.Limit <= 0 {
		opts.Limit = defaults.Limit
	}
	if opts.Expand && opts.ExpandTokens <= 0 {
		opts.ExpandTokens = defaults.ExpandTokens
	}
	if opts.Expand && len(opts.ExpandTypes) == 0 {
		opts.ExpandTypes = defaults.ExpandTypes
	}
	return opts
}

// seedsFromLists collects the lexical/vector union as graph traversal
// seeds, taking each entity's max score across the strategies that
// surfaced it as its seed_score.
func seedsFromLists(lists map[string]Ranked) []Seed {
	best := make(map[string]float64)
	var order []string
	for name, ranked := range lists {
		if name == "graph" {
			continue
		}
		for _, r := range ranked {
			cur, ok := best[r.EntityID]
			if !ok {
				order = append(order, r.EntityID)
			}
			if !ok || r.Score > cur {
				best[r.EntityID] = r.Score
			}
		}
	}
	seeds := make([]Seed, len(order))
	for i, id := range order {
		seeds[i] = Seed{EntityID: id, Score: best[id]}
	}
	return seeds
}

func filterMinScore(results []SearchResult, min float64) []SearchResult {
	out := results[:0]
	for _, r := range results {
		if r.Score >= min {
			out = append(out, r)
		}
	}
	return out
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string{}, a...)
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func sortResultsDesc(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].EntityID < results[j].EntityID
	})
}
