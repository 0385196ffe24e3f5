package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/david-franz/ctx-sys-sub001/internal/assembler"
	"github.com/david-franz/ctx-sys-sub001/internal/config"
	"github.com/david-franz/ctx-sys-sub001/internal/provider"
	"github.com/david-franz/ctx-sys-sub001/internal/retrieval"
	"github.com/david-franz/ctx-sys-sub001/internal/store"
)

// newQueryCmd creates the query command: run a hybrid search against the
// current project's store and print assembled, token-budgeted context.
func newQueryCmd() *cobra.Command {
	var maxTokens int
	var limit int
	var jsonOutput bool
	var expand bool

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Retrieve and assemble context for a query",
		Long: `query runs the hybrid lexical/vector/graph retrieval engine
against the project's store and packs the results into a token-budgeted
context block, falling back to signature-plus-summary or summary-only entries
when the budget runs tight.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args[0], maxTokens, limit, expand, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Token budget for assembled context (0 = config default)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of fused search results to consider")
	cmd.Flags().BoolVar(&expand, "expand", false, "Expand results through the relationship graph")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the assembled result as JSON")

	return cmd
}

func runQuery(cmd *cobra.Command, text string, maxTokens, limit int, expand, jsonOutput bool) error {
	ctx := cmd.Context()

	root, err := config.FindProjectRoot(".")
	if err != nil {
		return fmt.Errorf("find project root: %w", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	db.SetDecisionStopWords(cfg.Retrieval.DecisionStopWords)

	providers, err := openProviders(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open providers: %w", err)
	}
	defer providers.Close()

	proj, err := db.CreateProject(ctx, root, root, providers.Embedder.Dimensions(), cfg.Embeddings.Model)
	if err != nil {
		return fmt.Errorf("resolve project: %w", err)
	}

	engine, err := retrieval.NewEngine(db, db.Lex(), db.Vectors(), providers.Embedder, providers.Generator)
	if err != nil {
		return fmt.Errorf("build retrieval engine: %w", err)
	}

	opts := retrieval.DefaultSearchOptions()
	opts.Strategies = cfg.Retrieval.Strategies
	opts.Weights = retrieval.Weights(cfg.Retrieval.Weights)
	opts.RRFConstant = cfg.Retrieval.RRFConstant
	opts.MinScore = cfg.Retrieval.MinScore
	opts.Limit = limit
	opts.Gate = cfg.Retrieval.Gate
	opts.Decompose = cfg.Retrieval.Decompose
	opts.HyDE = cfg.Retrieval.HyDE
	opts.Expand = expand || cfg.Retrieval.Expand
	opts.ExpandTokens = cfg.Retrieval.ExpandTokens

	results, err := engine.Search(ctx, proj.ID, text, opts)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.EntityID
	}
	entityList, err := db.GetEntities(ctx, proj.ID, ids)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}
	entities := make(map[string]*store.Entity, len(entityList))
	for _, e := range entityList {
		entities[e.ID] = e
	}

	asmOpts := assembler.DefaultOptions()
	if maxTokens > 0 {
		asmOpts.MaxTokens = maxTokens
	} else {
		asmOpts.MaxTokens = cfg.Retrieval.DefaultMaxTokens
	}

	result := assembler.Assemble(results, entities, asmOpts)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), result.Context)
	return err
}

func openProviders(ctx context.Context, cfg *config.Config) (*provider.Providers, error) {
	if cfg.Embeddings.Provider == "static" {
		return provider.NewStatic(), nil
	}
	return provider.NewOllama(ctx, cfg.Embeddings.OllamaHost, cfg.Embeddings.Model, cfg.Summarization.Model)
}
