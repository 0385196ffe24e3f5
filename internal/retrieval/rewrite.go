package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/david-franz/ctx-sys-sub001/internal/provider"
)

// Rewriter decides whether a query benefits from decomposition or
// hypothetical-document expansion, and produces the rewritten variants. A
// Generator-backed attempt always falls back to the pattern-based decision
// when the Generator errors or is unavailable, per the provider contract's
// "degrade, never fail the search" design.
type Rewriter struct {
	generator  provider.Generator
	gateCache  *lru.Cache[string, gateDecision]
	decomposer *patternDecomposer
}

type gateDecision struct {
	decompose bool
	hyde      bool
}

// DefaultGateCacheSize bounds the gate-decision cache.
const DefaultGateCacheSize = 10000

// NewRewriter builds a Rewriter. gen may be nil, in which case every gate
// decision falls back to pattern heuristics and HyDE never fires.
func NewRewriter(gen provider.Generator) *Rewriter {
	cache, _ := lru.New[string, gateDecision](DefaultGateCacheSize)
	return &Rewriter{
		generator:  gen,
		gateCache:  cache,
		decomposer: newPatternDecomposer(),
	}
}

// Gate decides, cheaply and deterministically where possible, whether a
// query is a candidate for decomposition and/or HyDE rewriting.
func (r *Rewriter) Gate(query string) (decompose, hyde bool) {
	key := strings.ToLower(strings.TrimSpace(query))
	if key == "" {
		return false, false
	}
	if cached, ok := r.gateCache.Get(key); ok {
		return cached.decompose, cached.hyde
	}

	d := r.decomposer.shouldDecompose(query)
	h := isConceptualQuestion(query)
	r.gateCache.Add(key, gateDecision{decompose: d, hyde: h})
	return d, h
}

// DecomposeTokenThreshold is the minimum token count a query must have
// before decomposition is attempted at all (spec: "only if query has
// > 8 tokens").
const DecomposeTokenThreshold = 8

// MaxSubQueries bounds how many sub-queries Decompose ever returns.
const MaxSubQueries = 3

// Decompose splits a compound query into at most MaxSubQueries
// equal-weight sub-queries via the Generator, returning the original query
// unchanged when it is too short to be worth splitting. If the Generator
// is nil, unavailable, errors, or returns nothing usable, it falls back to
// a conservative pattern-based split.
func (r *Rewriter) Decompose(ctx context.Context, query string) []SubQuery {
	query = strings.TrimSpace(query)
	if query == "" || len(strings.Fields(query)) <= DecomposeTokenThreshold {
		return []SubQuery{{Query: query, Weight: 1.0}}
	}

	if r.generator != nil && r.generator.Available(ctx) {
		if subs, ok := r.generateSubQueries(ctx, query); ok {
			return subs
		}
	}
	return r.decomposer.decompose(query)
}

func (r *Rewriter) generateSubQueries(ctx context.Context, query string) ([]SubQuery, bool) {
	out, err := r.generator.Generate(ctx, fmt.Sprintf(decomposePromptTemplate, query))
	if err != nil {
		return nil, false
	}
	subs := parseSubQueries(out)
	if len(subs) == 0 {
		return nil, false
	}
	return subs, true
}

const decomposePromptTemplate = `Split the following compound question into at most 3 independent, self-contained sub-questions that together cover it. Reply with one sub-question per line, no numbering, no preamble.

Question: %s

Sub-questions:`

// parseSubQueries turns the Generator's newline-delimited response into
// equal-weight sub-queries, stripping common list markers.
func parseSubQueries(text string) []SubQuery {
	var subs []SubQuery
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789. \t"))
		if line == "" {
			continue
		}
		subs = append(subs, SubQuery{Query: line, Weight: 1.0})
		if len(subs) == MaxSubQueries {
			break
		}
	}
	return subs
}

// HyDE asks the Generator for a hypothetical answer passage to embed in
// place of the short, vocabulary-sparse original query (Hypothetical
// Document Embeddings). On any Generator failure or unavailability, it
// returns the original query: callers should treat the returned bool as
// "use this text for embedding" rather than treat an error as fatal.
func (r *Rewriter) HyDE(ctx context.Context, query string) (string, bool) {
	if r.generator == nil || !r.generator.Available(ctx) {
		return query, false
	}
	prompt := fmt.Sprintf(hydePromptTemplate, query)
	doc, err := r.generator.Generate(ctx, prompt)
	if err != nil || strings.TrimSpace(doc) == "" {
		return query, false
	}
	return doc, true
}

const hydePromptTemplate = `Write a short, technical passage (2-4 sentences) that would plausibly answer this question, as if it were an excerpt from the source code or documentation it describes. Do not add preamble.

Question: %s

Passage:`

// isConceptualQuestion is the pattern fallback for HyDE gating: natural
// language questions benefit most, since their vocabulary differs most
// from matching source code.
var conceptualPattern = regexp.MustCompile(`(?i)^(how|why|what|when|where|explain|describe)\b`)

func isConceptualQuestion(query string) bool {
	words := strings.Fields(query)
	return len(words) >= 3 && conceptualPattern.MatchString(strings.TrimSpace(query))
}

// SubQuery is one weighted fragment of a decomposed query.
type SubQuery struct {
	Query  string
	Weight float64
	Hint   string
}

// patternDecomposer is the deterministic fallback Decompose uses when the
// Generator is nil, unavailable, or errors: it never fires on a query a
// Generator-backed split would typically handle better, only on the
// narrow shapes below.
type patternDecomposer struct {
	howDoesWork *regexp.Regexp
	camelCase   *regexp.Regexp
	pascalCase  *regexp.Regexp
	snakeCase   *regexp.Regexp
	quoted      *regexp.Regexp
	clauseSplit *regexp.Regexp
}

func newPatternDecomposer() *patternDecomposer {
	return &patternDecomposer{
		howDoesWork: regexp.MustCompile(`(?i)^how\s+does\s+(.+?)\s+work$`),
		camelCase:   regexp.MustCompile(`^[a-z]+([A-Z][a-z0-9]*)+$`),
		pascalCase:  regexp.MustCompile(`^([A-Z][a-z0-9]*){2,}$`),
		snakeCase:   regexp.MustCompile(`^[a-z]+(_[a-z0-9]+)+$`),
		quoted:      regexp.MustCompile(`^["'].*["']$`),
		clauseSplit: regexp.MustCompile(`(?i)\s+(?:and|or)\s+|,\s*`),
	}
}

// shouldDecompose is the Gate heuristic: a compound query over
// DecomposeTokenThreshold tokens is worth splitting, unless it is really
// one quoted phrase or a single specific identifier.
func (d *patternDecomposer) shouldDecompose(query string) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return false
	}
	if d.quoted.MatchString(query) || d.isSpecificIdentifier(query) {
		return false
	}
	return len(strings.Fields(query)) > DecomposeTokenThreshold
}

func (d *patternDecomposer) isSpecificIdentifier(query string) bool {
	if strings.Contains(query, " ") {
		return false
	}
	return d.camelCase.MatchString(query) || d.pascalCase.MatchString(query) || d.snakeCase.MatchString(query)
}

// decompose is the fallback splitter: "how does X work" breaks into X's
// content words, a query joined by "and"/"or"/commas breaks into its
// clauses, and anything else is returned unchanged. Always ≤MaxSubQueries
// equal-weight results.
func (d *patternDecomposer) decompose(query string) []SubQuery {
	query = strings.TrimSpace(query)
	if m := d.howDoesWork.FindStringSubmatch(query); len(m) >= 2 {
		return d.decomposeHowDoesWork(m[1])
	}
	if clauses := d.splitClauses(query); len(clauses) > 1 {
		return equalWeightSubQueries(clauses)
	}
	return []SubQuery{{Query: query, Weight: 1.0}}
}

func (d *patternDecomposer) splitClauses(query string) []string {
	var out []string
	for _, p := range d.clauseSplit.Split(query, -1) {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (d *patternDecomposer) decomposeHowDoesWork(topic string) []SubQuery {
	var words []string
	for _, w := range strings.Fields(topic) {
		w = strings.TrimSpace(w)
		if len(w) < 2 || isRewriteStopWord(strings.ToLower(w)) {
			continue
		}
		words = append(words, w)
	}
	if len(words) == 0 {
		return []SubQuery{{Query: topic, Weight: 1.0}}
	}
	return equalWeightSubQueries(words)
}

func equalWeightSubQueries(parts []string) []SubQuery {
	if len(parts) > MaxSubQueries {
		parts = parts[:MaxSubQueries]
	}
	subs := make([]SubQuery, len(parts))
	for i, p := range parts {
		subs[i] = SubQuery{Query: p, Weight: 1.0}
	}
	return subs
}

var rewriteStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "have": true,
	"has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "and": true,
	"but": true, "or": true, "for": true, "to": true, "of": true, "in": true,
	"on": true, "at": true, "by": true, "with": true, "from": true, "it": true,
	"this": true, "that": true, "which": true, "what": true, "who": true,
}

func isRewriteStopWord(w string) bool { return rewriteStopWords[w] }
