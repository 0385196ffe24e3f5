package retrieval

import "sort"

// DefaultRRFConstant is the standard RRF smoothing parameter, k=60,
// empirically validated across domains (Azure AI Search, OpenSearch use
// the same default).
const DefaultRRFConstant = 60

// fusionEntry accumulates one entity's per-strategy contributions before
// RRF scores are summed and normalized.
type fusionEntry struct {
	entityID         string
	rrfScore         float64
	strategies       []string
	downgraded       bool
	stale            bool
	maxStrategyScore float64
}

// RRFFusion merges N strategies' ranked lists into one fused ranking.
//
//	score(e) = Σ_s weight_s / (k + rank_s(e))
//
// An entity absent from a strategy's list contributes nothing for that
// strategy — unlike a partial-credit "missing rank" scheme, an entity only
// benefits from strategies that actually surfaced it.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates a fusion instance with k=60, or the given k if > 0.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse merges per-strategy Ranked lists, keyed by strategy name, into one
// deterministically sorted, (0,1]-normalized list of SearchResult.
func (f *RRFFusion) Fuse(lists map[string]Ranked, weights Weights) []SearchResult {
	entries := make(map[string]*fusionEntry)

	for strategyName, ranked := range lists {
		weight := weights[strategyName]
		if weight == 0 {
			weight = 1.0
		}
		for rank, hit := range ranked {
			e, ok := entries[hit.EntityID]
			if !ok {
				e = &fusionEntry{entityID: hit.EntityID}
				entries[hit.EntityID] = e
			}
			e.rrfScore += weight / float64(f.K+rank+1)
			e.strategies = append(e.strategies, strategyName)
			e.downgraded = e.downgraded || hit.Downgraded
			e.stale = e.stale || hit.Stale
			if hit.Score > e.maxStrategyScore {
				e.maxStrategyScore = hit.Score
			}
		}
	}

	results := make([]SearchResult, 0, len(entries))
	for _, e := range entries {
		results = append(results, SearchResult{
			EntityID:   e.entityID,
			Score:      e.rrfScore,
			Strategies: e.strategies,
			Downgraded: e.downgraded,
			Stale:      e.stale,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return compareResults(results[i], results[j], entries)
	})

	normalize(results)
	return results
}

// compareResults implements the deterministic tie-break chain:
// RRF score desc -> strategy count desc -> max per-strategy score desc ->
// entity ID asc.
func compareResults(a, b SearchResult, entries map[string]*fusionEntry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if len(a.Strategies) != len(b.Strategies) {
		return len(a.Strategies) > len(b.Strategies)
	}
	am, bm := entries[a.EntityID].maxStrategyScore, entries[b.EntityID].maxStrategyScore
	if am != bm {
		return am > bm
	}
	return a.EntityID < b.EntityID
}

// normalize scales scores into (0,1] using the top result (already sorted
// descending) as the reference.
func normalize(results []SearchResult) {
	if len(results) == 0 {
		return
	}
	max := results[0].Score
	if max == 0 {
		return
	}
	for i := range results {
		results[i].Score /= max
	}
}
