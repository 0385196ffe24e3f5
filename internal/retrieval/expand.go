package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/david-franz/ctx-sys-sub001/internal/store"
)

// DefaultExpandDecay scales a neighbor's fused score relative to the seed
// entity that introduced it. One-hop only: a neighbor's own neighbors are
// never pulled in, keeping expansion's cost bounded by seed count.
const DefaultExpandDecay = 0.5

// Expander pulls in one-hop graph neighbors of a fused result set, scored
// relative to the seed that introduced them, and capped by its own token
// sub-budget so expansion can never crowd out the primary results.
type Expander struct {
	meta      store.MetadataStore
	estimator TokenEstimator
}

// TokenEstimator estimates the token cost of an entity's content. Grounded
// on the same estimator the assembler uses, so expansion's budget and the
// assembler's budget agree on cost.
type TokenEstimator func(content string) int

func NewExpander(meta store.MetadataStore, estimator TokenEstimator) *Expander {
	if estimator == nil {
		estimator = EstimateTokens
	}
	return &Expander{meta: meta, estimator: estimator}
}

// EstimateTokens is the default token estimator: ~4 characters per token,
// the same heuristic used across the assembler.
func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}
	n := len(content) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// Expand pulls one-hop neighbors of seeds along the allowed relationship
// types, skipping anything already present in seeds, and returns them
// ranked by decayed score until tokenBudget is exhausted.
func (x *Expander) Expand(ctx context.Context, projectID string, seeds []SearchResult, types []store.RelationshipType, tokenBudget int) ([]SearchResult, error) {
	if tokenBudget <= 0 || len(seeds) == 0 {
		return nil, nil
	}

	already := make(map[string]bool, len(seeds))
	seedScore := make(map[string]float64, len(seeds))
	for _, s := range seeds {
		already[s.EntityID] = true
		seedScore[s.EntityID] = s.Score
	}

	candidates := make(map[string]float64)
	for _, seed := range seeds {
		rels, err := x.meta.Neighbors(ctx, projectID, seed.EntityID, types)
		if err != nil {
			return nil, fmt.Errorf("expand: neighbors of %s: %w", seed.EntityID, err)
		}
		for _, r := range rels {
			other := r.TargetID
			if other == seed.EntityID {
				other = r.SourceID
			}
			if already[other] {
				continue
			}
			score := seed.Score * DefaultExpandDecay * weightFactor(r.Weight)
			if score > candidates[other] {
				candidates[other] = score
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if candidates[ids[i]] != candidates[ids[j]] {
			return candidates[ids[i]] > candidates[ids[j]]
		}
		return ids[i] < ids[j]
	})

	entities, err := x.meta.GetEntities(ctx, projectID, ids)
	if err != nil {
		return nil, fmt.Errorf("expand: load candidate entities: %w", err)
	}
	byID := make(map[string]*store.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	var out []SearchResult
	spent := 0
	for _, id := range ids {
		e, ok := byID[id]
		if !ok {
			continue
		}
		cost := x.estimator(e.Content)
		if spent+cost > tokenBudget {
			continue
		}
		spent += cost
		out = append(out, SearchResult{
			EntityID:   id,
			Score:      candidates[id],
			FromExpand: true,
		})
	}
	return out, nil
}

// weightFactor clamps an edge weight into a sane multiplier; unset weights
// (zero value) count as a neutral 1.0 rather than zeroing the candidate out.
func weightFactor(w float64) float64 {
	if w <= 0 {
		return 1.0
	}
	return w
}
