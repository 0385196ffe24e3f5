// Package retrieval implements the hybrid search engine: a Strategy per
// search modality (lexical, vector, graph), Reciprocal Rank Fusion to merge
// their outputs, optional query rewriting, and graph-based expansion.
package retrieval

import (
	"context"

	"github.com/david-franz/ctx-sys-sub001/internal/store"
)

// Query is the normalized input to a single Strategy.Run call.
type Query struct {
	ProjectID string
	Text      string
	Limit     int
	// GraphDepth bounds how many hops GraphStrategy's BFS walks from each
	// seed. Zero means DefaultGraphDepth.
	GraphDepth int
}

// DefaultGraphDepth is how many hops GraphStrategy walks from each seed
// when Query.GraphDepth is unset.
const DefaultGraphDepth = 2

// GraphDecay is the per-hop score decay GraphStrategy applies: a node
// reached h hops from a seed scores seed.Score * GraphDecay^h.
const GraphDecay = 0.6

// Seed is an entity another strategy already surfaced, carried into
// GraphStrategy as a traversal starting point with its originating score.
type Seed struct {
	EntityID string
	Score    float64
}

// RankedEntity is one hit from a single strategy.
type RankedEntity struct {
	EntityID   string
	Score      float64
	Downgraded bool // the strategy fell back to a degraded matching mode
	Stale      bool // e.g. a vector hit whose embedding predates current content
}

// Ranked is a strategy's output: entities in descending relevance order.
type Ranked []RankedEntity

// Strategy is the common interface every search modality implements,
// inverting the historical fusion-depends-on-strategies-depends-on-fusion
// cycle: fusion depends on Strategy, no strategy depends on fusion.
type Strategy interface {
	Name() string
	Run(ctx context.Context, q Query) (Ranked, error)
}

// Weights scales each strategy's RRF contribution by name.
type Weights map[string]float64

// DefaultWeights matches the engine's default strategy weighting.
func DefaultWeights() Weights {
	return Weights{"lex": 1.0, "vec": 1.0, "graph": 0.7}
}

// SearchOptions configures one Search call.
type SearchOptions struct {
	Strategies  []string // which strategies to run; nil means "all enabled"
	Weights     Weights
	RRFConstant int
	MinScore    float64
	Limit       int

	Gate      bool
	Decompose bool
	HyDE      bool

	Expand       bool
	ExpandTokens int
	ExpandTypes  []store.RelationshipType
}

// DefaultSearchOptions returns the engine's out-of-the-box configuration.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Strategies:   []string{"lex", "vec", "graph"},
		Weights:      DefaultWeights(),
		RRFConstant:  DefaultRRFConstant,
		MinScore:     0,
		Limit:        20,
		ExpandTokens: 2000,
		ExpandTypes:  store.DefaultExpandRelationships,
	}
}

// SearchResult is one fused, engine-level hit.
type SearchResult struct {
	EntityID     string
	Score        float64
	Strategies   []string // which strategies contributed
	Downgraded   bool
	Stale        bool
	FromExpand   bool
	MatchedTerms []string
}
