package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	text      string
	err       error
	available bool
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return f.text, f.err
}
func (f *fakeGenerator) Available(ctx context.Context) bool { return f.available }
func (f *fakeGenerator) Close() error                       { return nil }

func TestRewriter_Gate_EmptyQueryNeverDecomposesOrHyDEs(t *testing.T) {
	r := NewRewriter(nil)

	decompose, hyde := r.Gate("")

	assert.False(t, decompose)
	assert.False(t, hyde)
}

func TestRewriter_Gate_CachesDecision(t *testing.T) {
	r := NewRewriter(nil)

	d1, h1 := r.Gate("how does Authenticate work")
	d2, h2 := r.Gate("HOW DOES Authenticate WORK")

	assert.Equal(t, d1, d2)
	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, r.gateCache.Len(), "case/whitespace differences normalize to the same cache key")
}

func TestRewriter_Gate_ConceptualQuestionTriggersHyDE(t *testing.T) {
	r := NewRewriter(nil)

	_, hyde := r.Gate("how does authentication work")

	assert.True(t, hyde)
}

func TestRewriter_Gate_SingleIdentifierNeverDecomposes(t *testing.T) {
	r := NewRewriter(nil)

	decompose, _ := r.Gate("ParseConfig")

	assert.False(t, decompose)
}

func TestRewriter_Decompose_ShortQueryNeverSplits(t *testing.T) {
	r := NewRewriter(nil)

	subs := r.Decompose(context.Background(), "validate function")

	require.Len(t, subs, 1)
	assert.Equal(t, "validate function", subs[0].Query)
	assert.Equal(t, 1.0, subs[0].Weight)
}

func TestRewriter_Decompose_NonMatchingLongQueryReturnsUnchanged(t *testing.T) {
	r := NewRewriter(nil)

	subs := r.Decompose(context.Background(), "a fairly long natural language sentence about nothing in particular today")

	require.Len(t, subs, 1)
	assert.Equal(t, "a fairly long natural language sentence about nothing in particular today", subs[0].Query)
	assert.Equal(t, 1.0, subs[0].Weight)
}

func TestRewriter_Decompose_NilGeneratorFallsBackToHowDoesWorkPattern(t *testing.T) {
	r := NewRewriter(nil)

	subs := r.Decompose(context.Background(), "how does the authentication and session refresh pipeline work")

	require.Greater(t, len(subs), 1)
	require.LessOrEqual(t, len(subs), MaxSubQueries)
	for _, s := range subs {
		assert.Equal(t, 1.0, s.Weight)
	}
}

func TestRewriter_Decompose_UnavailableGeneratorFallsBackToClauseSplit(t *testing.T) {
	r := NewRewriter(&fakeGenerator{available: false})

	subs := r.Decompose(context.Background(), "explain how auth works and how sessions expire and how tokens refresh")

	require.Greater(t, len(subs), 1)
	require.LessOrEqual(t, len(subs), MaxSubQueries)
}

func TestRewriter_Decompose_GeneratorErrorFallsBackToPattern(t *testing.T) {
	r := NewRewriter(&fakeGenerator{available: true, err: errors.New("boom")})

	subs := r.Decompose(context.Background(), "explain how auth works and how sessions expire and how tokens refresh")

	require.Greater(t, len(subs), 1)
}

func TestRewriter_Decompose_UsesGeneratorSubQueriesWhenAvailable(t *testing.T) {
	r := NewRewriter(&fakeGenerator{available: true, text: "How is a user authenticated?\nHow is a session refreshed?\nHow is a token revoked?\nHow is an audit log written?"})

	subs := r.Decompose(context.Background(), "explain how authentication, session refresh, token revocation, and audit logging all fit together")

	require.Len(t, subs, MaxSubQueries, "caps at MaxSubQueries even when the generator returns more lines")
	assert.Equal(t, "How is a user authenticated?", subs[0].Query)
	for _, s := range subs {
		assert.Equal(t, 1.0, s.Weight)
	}
}

func TestRewriter_Decompose_EmptyGeneratorResponseFallsBackToPattern(t *testing.T) {
	r := NewRewriter(&fakeGenerator{available: true, text: "   "})

	subs := r.Decompose(context.Background(), "explain how auth works and how sessions expire and how tokens refresh")

	require.Greater(t, len(subs), 1)
}

func TestRewriter_HyDE_NilGeneratorReturnsOriginalQuery(t *testing.T) {
	r := NewRewriter(nil)

	text, used := r.HyDE(context.Background(), "how does caching work")

	assert.Equal(t, "how does caching work", text)
	assert.False(t, used)
}

func TestRewriter_HyDE_UnavailableGeneratorReturnsOriginalQuery(t *testing.T) {
	r := NewRewriter(&fakeGenerator{available: false})

	text, used := r.HyDE(context.Background(), "how does caching work")

	assert.Equal(t, "how does caching work", text)
	assert.False(t, used)
}

func TestRewriter_HyDE_GeneratorErrorFallsBackToOriginalQuery(t *testing.T) {
	r := NewRewriter(&fakeGenerator{available: true, err: errors.New("boom")})

	text, used := r.HyDE(context.Background(), "how does caching work")

	assert.Equal(t, "how does caching work", text)
	assert.False(t, used)
}

func TestRewriter_HyDE_EmptyGeneratedTextFallsBack(t *testing.T) {
	r := NewRewriter(&fakeGenerator{available: true, text: "   "})

	text, used := r.HyDE(context.Background(), "how does caching work")

	assert.Equal(t, "how does caching work", text)
	assert.False(t, used)
}

func TestRewriter_HyDE_UsesGeneratedPassage(t *testing.T) {
	r := NewRewriter(&fakeGenerator{available: true, text: "The cache stores entries keyed by project id."})

	text, used := r.HyDE(context.Background(), "how does caching work")

	assert.Equal(t, "The cache stores entries keyed by project id.", text)
	assert.True(t, used)
}

func TestIsConceptualQuestion(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"how does authentication work", true},
		{"explain the retry logic", true},
		{"ParseConfig", false},
		{"a b", false}, // fewer than 3 words
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, isConceptualQuestion(tt.query))
		})
	}
}
