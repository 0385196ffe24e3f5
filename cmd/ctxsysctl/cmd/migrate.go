package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/david-franz/ctx-sys-sub001/internal/config"
	"github.com/david-franz/ctx-sys-sub001/internal/legacy"
	"github.com/david-franz/ctx-sys-sub001/internal/output"
	"github.com/david-franz/ctx-sys-sub001/internal/store"
)

// newMigrateLegacyCmd creates the migrate-legacy command: one-shot import
// of a Bleve + coder/hnsw layout into the single-file store.
func newMigrateLegacyCmd() *cobra.Command {
	var bleveDir string
	var hnswMetaPath string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "migrate-legacy",
		Short: "Import a legacy Bleve/HNSW project into the single-file store",
		Long: `migrate-legacy reads documents out of a legacy Bleve lexical
index and vector IDs out of a legacy HNSW metadata file, then imports the
documents and re-embeds the vectors into the current store. It never
writes to the legacy files.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			root, err := config.FindProjectRoot(".")
			if err != nil {
				return fmt.Errorf("find project root: %w", err)
			}
			cfg, err := config.Load(root)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if bleveDir == "" {
				bleveDir = cfg.Legacy.BleveDir
			}
			if hnswMetaPath == "" {
				hnswMetaPath = cfg.Legacy.HNSWPath
			}
			if bleveDir == "" || hnswMetaPath == "" {
				return fmt.Errorf("legacy.bleve_dir and legacy.hnsw_path must be set (flags or config)")
			}

			db, err := store.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer db.Close()

			providers, err := openProviders(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open providers: %w", err)
			}
			defer providers.Close()

			proj, err := db.CreateProject(ctx, root, root, providers.Embedder.Dimensions(), cfg.Embeddings.Model)
			if err != nil {
				return fmt.Errorf("resolve project: %w", err)
			}

			w := output.New(cmd.OutOrStdout())
			w.Statusf("", "importing from %s and %s", bleveDir, hnswMetaPath)

			stats, err := legacy.Import(ctx, db, providers.Embedder, proj.ID, bleveDir, hnswMetaPath)
			if err != nil {
				w.Errorf("import failed: %s", err)
				return fmt.Errorf("import legacy project: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			w.Successf("imported %d documents, re-embedded %d vectors, skipped %d",
				stats.DocsImported, stats.VectorsReembedded, stats.VectorsSkipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&bleveDir, "bleve-dir", "", "Path to the legacy Bleve index directory (default: config legacy.bleve_dir)")
	cmd.Flags().StringVar(&hnswMetaPath, "hnsw-meta", "", "Path to the legacy HNSW metadata file (default: config legacy.hnsw_path)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output import stats as JSON")

	return cmd
}
