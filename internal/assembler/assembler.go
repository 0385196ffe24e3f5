// Package assembler packs a fused, filtered retrieval result list into a
// single token-budgeted, source-attributed artifact ready to hand an AI
// coding assistant.
package assembler

import (
	"sort"
	"strings"

	"github.com/david-franz/ctx-sys-sub001/internal/retrieval"
	"github.com/david-franz/ctx-sys-sub001/internal/store"
)

// TokenEstimator counts the tokens a string would cost. The default is a
// coarse chars/4 heuristic, matching the expander's
// estimator so the sub-budget and main budget never disagree on what a
// token costs.
type TokenEstimator func(content string) int

// EstimateTokens is the default TokenEstimator: roughly 4 characters per
// token, with a floor of 1 for any non-empty string.
func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}
	n := len(content) / 4
	if n < 1 {
		return 1
	}
	return n
}

// Format selects the rendering mode for packed entities.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// typeOrder is the deterministic grouping order for assembled output.
var typeOrder = map[store.EntityType]int{
	store.EntityTypeInstruction:     0,
	store.EntityTypeDecision:        1,
	store.EntityTypeFile:            2,
	store.EntityTypeClass:           3,
	store.EntityTypeFunction:        4,
	store.EntityTypeDocumentSection: 5,
}

func orderOf(t store.EntityType) int {
	if n, ok := typeOrder[t]; ok {
		return n
	}
	return len(typeOrder) // "other" and any unknown type sorts last
}

// Options configures one Assemble call.
type Options struct {
	MaxTokens      int
	IncludeTypes   []store.EntityType // nil means "all types"
	IncludeSources bool
	Format         Format
	Estimator      TokenEstimator
}

// DefaultOptions returns the assembler's out-of-the-box configuration.
func DefaultOptions() Options {
	return Options{
		MaxTokens:      4000,
		IncludeSources: true,
		Format:         FormatMarkdown,
		Estimator:      EstimateTokens,
	}
}

// Source is one attribution record for a packed entity.
type Source struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Relevance float64 `json:"relevance"`
	FilePath  string  `json:"file_path,omitempty"`
}

// Result is the assembler's output: a single prompt-ready artifact.
type Result struct {
	Context     string   `json:"context"`
	Sources     []Source `json:"sources,omitempty"`
	Confidence  float64  `json:"confidence"`
	TokensUsed  int      `json:"tokens_used"`
	Truncated   bool     `json:"truncated"`
	PackedCount int      `json:"-"`
}

// packState is how much of an entity the greedy packer kept.
type packState int

const (
	packFull packState = iota
	packSignatureSummary
	packSummaryOnly
)

type packedEntity struct {
	entity *store.Entity
	score  float64
	state  packState
	tokens int
}

// Assemble packs ranked, already-fused-and-filtered results into a Result.
// entities must contain every id referenced by ranked; extras are ignored.
func Assemble(ranked []retrieval.SearchResult, entities map[string]*store.Entity, opts Options) Result {
	if opts.MaxTokens <= 0 {
		opts = DefaultOptions()
	}
	if opts.Estimator == nil {
		opts.Estimator = EstimateTokens
	}

	candidates := filterByType(ranked, entities, opts.IncludeTypes)

	var packed []packedEntity
	budget := opts.MaxTokens
	truncated := false

	for _, c := range candidates {
		e := entities[c.EntityID]
		if e == nil {
			continue
		}

		pe, ok := fitToBudget(e, c.Score, budget, opts.Estimator)
		if !ok {
			truncated = true
			continue
		}
		if pe.state != packFull {
			truncated = true
		}
		packed = append(packed, pe)
		budget -= pe.tokens
	}

	sortForOutput(packed)

	return render(packed, opts, truncated)
}

// filterByType drops candidates whose entity type is excluded, preserving
// the caller's descending-score order.
func filterByType(ranked []retrieval.SearchResult, entities map[string]*store.Entity, includeTypes []store.EntityType) []retrieval.SearchResult {
	if len(includeTypes) == 0 {
		return ranked
	}
	allow := make(map[store.EntityType]bool, len(includeTypes))
	for _, t := range includeTypes {
		allow[t] = true
	}

	out := make([]retrieval.SearchResult, 0, len(ranked))
	for _, r := range ranked {
		e := entities[r.EntityID]
		if e == nil || !allow[e.Type] {
			continue
		}
		out = append(out, r)
	}
	return out
}

// fitToBudget tries the full entity, then signature+summary, then
// summary-only, returning the first that fits the remaining budget.
func fitToBudget(e *store.Entity, score float64, budget int, estimate TokenEstimator) (packedEntity, bool) {
	header := headerFor(e)

	full := estimate(header) + estimate(e.Content)
	if full <= budget {
		return packedEntity{entity: e, score: score, state: packFull, tokens: full}, true
	}

	sigSummary := estimate(header) + estimate(e.Summary)
	if e.Summary != "" && sigSummary <= budget {
		return packedEntity{entity: e, score: score, state: packSignatureSummary, tokens: sigSummary}, true
	}

	summaryOnly := estimate(e.Summary)
	if e.Summary != "" && summaryOnly <= budget {
		return packedEntity{entity: e, score: score, state: packSummaryOnly, tokens: summaryOnly}, true
	}

	return packedEntity{}, false
}

func headerFor(e *store.Entity) string {
	if e.Path != "" {
		return e.Name + " " + e.Path
	}
	return e.Name
}

// sortForOutput groups packed entities by type in the spec's deterministic
// order, then by descending score within each group.
func sortForOutput(packed []packedEntity) {
	sort.SliceStable(packed, func(i, j int) bool {
		oi, oj := orderOf(packed[i].entity.Type), orderOf(packed[j].entity.Type)
		if oi != oj {
			return oi < oj
		}
		return packed[i].score > packed[j].score
	})
}

func render(packed []packedEntity, opts Options, truncated bool) Result {
	var sb strings.Builder
	tokensUsed := 0
	sources := make([]Source, 0, len(packed))

	for _, pe := range packed {
		renderEntity(&sb, pe, opts.Format)
		tokensUsed += pe.tokens

		if opts.IncludeSources {
			sources = append(sources, Source{
				Name:      pe.entity.Name,
				Type:      string(pe.entity.Type),
				Relevance: pe.score,
				FilePath:  pe.entity.Path,
			})
		}
	}

	return Result{
		Context:     strings.TrimRight(sb.String(), "\n"),
		Sources:     sources,
		Confidence:  confidence(packed),
		TokensUsed:  tokensUsed,
		Truncated:   truncated,
		PackedCount: len(packed),
	}
}

func renderEntity(sb *strings.Builder, pe packedEntity, format Format) {
	e := pe.entity
	body := bodyFor(e, pe.state)

	if format == FormatText {
		sb.WriteString(headerFor(e))
		sb.WriteString("\n")
		sb.WriteString(stripMarkdown(body))
		sb.WriteString("\n\n")
		return
	}

	sb.WriteString("### ")
	sb.WriteString(headerFor(e))
	sb.WriteString("\n\n")
	if pe.state == packFull && looksLikeCode(e) {
		sb.WriteString("```\n")
		sb.WriteString(body)
		sb.WriteString("\n```\n\n")
		return
	}
	sb.WriteString(body)
	sb.WriteString("\n\n")
}

func bodyFor(e *store.Entity, state packState) string {
	switch state {
	case packSignatureSummary:
		if e.Summary != "" {
			return e.Summary
		}
		return e.Content
	case packSummaryOnly:
		return e.Summary
	default:
		return e.Content
	}
}

func looksLikeCode(e *store.Entity) bool {
	switch e.Type {
	case store.EntityTypeFunction, store.EntityTypeClass, store.EntityTypeFile:
		return true
	default:
		return false
	}
}

// stripMarkdown removes the Markdown markers the assembler itself emits
// (headings, fences, emphasis) while preserving line breaks.
func stripMarkdown(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, "#")
		trimmed = strings.TrimPrefix(trimmed, " ")
		if trimmed == "```" || strings.HasPrefix(trimmed, "```") {
			trimmed = strings.TrimPrefix(trimmed, "```")
		}
		trimmed = strings.ReplaceAll(trimmed, "**", "")
		trimmed = strings.ReplaceAll(trimmed, "`", "")
		lines[i] = trimmed
	}
	return strings.Join(lines, "\n")
}

// confidence is the mean of the top min(5, packed_count) scores.
func confidence(packed []packedEntity) float64 {
	if len(packed) == 0 {
		return 0
	}

	scores := make([]float64, len(packed))
	for i, pe := range packed {
		scores[i] = pe.score
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))

	k := 5
	if len(scores) < k {
		k = len(scores)
	}

	var sum float64
	for _, s := range scores[:k] {
		sum += s
	}
	return sum / float64(k)
}
