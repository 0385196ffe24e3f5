package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david-franz/ctx-sys-sub001/internal/store"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("hi"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}

func TestExpander_Expand_ZeroBudgetReturnsNothing(t *testing.T) {
	x := NewExpander(&fakeMetadataStore{}, nil)

	out, err := x.Expand(context.Background(), "p", []SearchResult{{EntityID: "a", Score: 1.0}}, nil, 0)

	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestExpander_Expand_NoSeedsReturnsNothing(t *testing.T) {
	x := NewExpander(&fakeMetadataStore{}, nil)

	out, err := x.Expand(context.Background(), "p", nil, nil, 1000)

	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestExpander_Expand_SkipsEntitiesAlreadyInSeeds(t *testing.T) {
	meta := &fakeMetadataStore{
		neighbors: map[string][]*store.Relationship{
			"seed": {{SourceID: "seed", TargetID: "seed", Weight: 1.0}},
		},
	}
	x := NewExpander(meta, nil)

	out, err := x.Expand(context.Background(), "p", []SearchResult{{EntityID: "seed", Score: 1.0}}, nil, 1000)

	require.NoError(t, err)
	assert.Empty(t, out, "a neighbor that is itself a seed is never re-surfaced")
}

func TestExpander_Expand_DecaysScoreRelativeToSeed(t *testing.T) {
	meta := &fakeMetadataStore{
		neighbors: map[string][]*store.Relationship{
			"seed": {{SourceID: "seed", TargetID: "n1", Weight: 1.0}},
		},
		entities: map[string]*store.Entity{
			"n1": {ID: "n1", Content: "some content here"},
		},
	}
	x := NewExpander(meta, nil)

	out, err := x.Expand(context.Background(), "p", []SearchResult{{EntityID: "seed", Score: 0.8}}, nil, 1000)

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "n1", out[0].EntityID)
	assert.True(t, out[0].FromExpand)
	assert.InDelta(t, 0.8*DefaultExpandDecay, out[0].Score, 0.0001)
}

func TestExpander_Expand_StopsAtTokenBudget(t *testing.T) {
	bigContent := make([]byte, 4000)
	meta := &fakeMetadataStore{
		neighbors: map[string][]*store.Relationship{
			"seed": {
				{SourceID: "seed", TargetID: "cheap", Weight: 1.0},
				{SourceID: "seed", TargetID: "expensive", Weight: 0.5},
			},
		},
		entities: map[string]*store.Entity{
			"cheap":     {ID: "cheap", Content: "tiny"},
			"expensive": {ID: "expensive", Content: string(bigContent)},
		},
	}
	x := NewExpander(meta, nil)

	out, err := x.Expand(context.Background(), "p", []SearchResult{{EntityID: "seed", Score: 1.0}}, nil, 10)

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "cheap", out[0].EntityID, "higher-scored cheap candidate fits, expensive one doesn't")
}

func TestExpander_Expand_PropagatesNeighborsError(t *testing.T) {
	meta := &fakeMetadataStore{err: errors.New("db closed")}
	x := NewExpander(meta, nil)

	_, err := x.Expand(context.Background(), "p", []SearchResult{{EntityID: "seed", Score: 1.0}}, nil, 1000)

	require.Error(t, err)
}

func TestWeightFactor_UnsetWeightDefaultsToNeutral(t *testing.T) {
	assert.Equal(t, 1.0, weightFactor(0))
	assert.Equal(t, 1.0, weightFactor(-1))
	assert.Equal(t, 2.0, weightFactor(2.0))
}
