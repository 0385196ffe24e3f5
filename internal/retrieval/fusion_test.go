package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRRFFusion_DefaultsKToStandardConstant(t *testing.T) {
	f := NewRRFFusion(0)
	assert.Equal(t, DefaultRRFConstant, f.K)

	f = NewRRFFusion(-5)
	assert.Equal(t, DefaultRRFConstant, f.K)

	f = NewRRFFusion(30)
	assert.Equal(t, 30, f.K)
}

func TestRRFFusion_Fuse_SymmetricTieBrokenByMaxStrategyScore(t *testing.T) {
	f := NewRRFFusion(60)
	lists := map[string]Ranked{
		"lex": {{EntityID: "a", Score: 1.0}, {EntityID: "b", Score: 0.9}},
		"vec": {{EntityID: "b", Score: 0.8}, {EntityID: "a", Score: 0.7}},
	}

	results := f.Fuse(lists, Weights{"lex": 1.0, "vec": 1.0})

	require.Len(t, results, 2)
	// Both a and b appear in both lists at symmetric ranks (1st+2nd), so
	// their RRF scores and strategy counts tie; a wins on its higher best
	// per-strategy score (1.0 against b's 0.9).
	assert.Equal(t, "a", results[0].EntityID)
	assert.ElementsMatch(t, []string{"lex", "vec"}, results[0].Strategies)
}

func TestRRFFusion_Fuse_EntityOnlyInOneStrategyStillIncluded(t *testing.T) {
	f := NewRRFFusion(60)
	lists := map[string]Ranked{
		"lex": {{EntityID: "solo", Score: 0.5}},
	}

	results := f.Fuse(lists, Weights{"lex": 1.0})

	require.Len(t, results, 1)
	assert.Equal(t, "solo", results[0].EntityID)
	assert.Equal(t, []string{"lex"}, results[0].Strategies)
}

func TestRRFFusion_Fuse_MissingWeightDefaultsToOne(t *testing.T) {
	f := NewRRFFusion(60)
	lists := map[string]Ranked{
		"graph": {{EntityID: "x", Score: 1.0}},
	}

	results := f.Fuse(lists, Weights{})

	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].Score, "normalized to 1.0 since it's the only (and thus top) result")
}

func TestRRFFusion_Fuse_NormalizesScoresToAtMostOne(t *testing.T) {
	f := NewRRFFusion(60)
	lists := map[string]Ranked{
		"lex": {{EntityID: "a"}, {EntityID: "b"}, {EntityID: "c"}},
	}

	results := f.Fuse(lists, Weights{"lex": 1.0})

	require.Len(t, results, 3)
	assert.Equal(t, 1.0, results[0].Score)
	for _, r := range results {
		assert.LessOrEqual(t, r.Score, 1.0)
		assert.Greater(t, r.Score, 0.0)
	}
}

func TestRRFFusion_Fuse_PropagatesDowngradedAndStaleFlags(t *testing.T) {
	f := NewRRFFusion(60)
	lists := map[string]Ranked{
		"lex": {{EntityID: "a", Downgraded: true}},
		"vec": {{EntityID: "a", Stale: true}},
	}

	results := f.Fuse(lists, Weights{"lex": 1.0, "vec": 1.0})

	require.Len(t, results, 1)
	assert.True(t, results[0].Downgraded)
	assert.True(t, results[0].Stale)
}

func TestRRFFusion_Fuse_EmptyListsReturnsEmptyResults(t *testing.T) {
	f := NewRRFFusion(60)
	results := f.Fuse(map[string]Ranked{}, Weights{})
	assert.Empty(t, results)
}

func TestRRFFusion_Fuse_TieBreaksByStrategyCountThenEntityID(t *testing.T) {
	f := NewRRFFusion(60)
	lists := map[string]Ranked{
		"lex": {{EntityID: "multi", Score: 0.1}, {EntityID: "z", Score: 0.1}},
		"vec": {{EntityID: "z", Score: 0.1}, {EntityID: "multi", Score: 0.1}},
	}

	// multi and z each appear in exactly two strategies at mirrored ranks,
	// so RRF scores tie, strategy count ties and best per-strategy score
	// ties too; ID order breaks it.
	results := f.Fuse(lists, Weights{"lex": 1.0, "vec": 1.0, "graph": 1.0})

	require.Len(t, results, 2)
	assert.Equal(t, "multi", results[0].EntityID)
	assert.Equal(t, "z", results[1].EntityID)
}
