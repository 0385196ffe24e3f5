package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/david-franz/ctx-sys-sub001/internal/config"
	"github.com/david-franz/ctx-sys-sub001/internal/output"
	"github.com/david-franz/ctx-sys-sub001/internal/store"
	"github.com/david-franz/ctx-sys-sub001/pkg/kbbundle"
)

// newProjectCmd creates the project command and its create/stats/export/import
// subcommands.
func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage the project's store",
	}
	cmd.AddCommand(newProjectCreateCmd())
	cmd.AddCommand(newProjectStatsCmd())
	cmd.AddCommand(newProjectExportCmd())
	cmd.AddCommand(newProjectImportCmd())
	return cmd
}

func newProjectCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create (or reuse) the project entry backing the current directory's store",
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
				return fmt.Errorf("create project: %w", err)
			}

			output.New(cmd.OutOrStdout()).Successf("project %s ready at %s (dimension %d, model %s)",
				proj.ID, proj.RootPath, proj.Dimension, proj.Model)
			return nil
		},
	}
}

func newProjectStatsCmd() *cobra.Command {
	var jsonOutput bool

	c := &cobra.Command{
		Use:   "stats",
		Short: "Print entity and relationship counts for the current project",
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
			if err := db.RefreshProjectStats(ctx, proj.ID); err != nil {
				return fmt.Errorf("refresh stats: %w", err)
			}
			proj, err = db.GetProject(ctx, proj.ID)
			if err != nil {
				return fmt.Errorf("get project: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(proj)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "entities: %d\nrelationships: %d\n", proj.EntityCnt, proj.RelCnt)
			return err
		},
	}
	c.Flags().BoolVar(&jsonOutput, "json", false, "Output stats as JSON")
	return c
}

func newProjectExportCmd() *cobra.Command {
	var outPath string

	c := &cobra.Command{
		Use:   "export",
		Short: "Package the current project's store file into a .ctx-kb bundle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := config.FindProjectRoot(".")
			if err != nil {
				return fmt.Errorf("find project root: %w", err)
			}
			cfg, err := config.Load(root)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if outPath == "" {
				outPath = "project.ctx-kb"
			}

			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("create bundle file: %w", err)
			}
			defer f.Close()

			if err := kbbundle.Export(f, cfg.Database.Path); err != nil {
				return fmt.Errorf("export bundle: %w", err)
			}

			output.New(cmd.OutOrStdout()).Successf("wrote %s", outPath)
			return nil
		},
	}
	c.Flags().StringVar(&outPath, "out", "", "Bundle output path (default: project.ctx-kb)")
	return c
}

func newProjectImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <bundle>",
		Short: "Restore a project's store file from a .ctx-kb bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := config.FindProjectRoot(".")
			if err != nil {
				return fmt.Errorf("find project root: %w", err)
			}
			cfg, err := config.Load(root)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open bundle file: %w", err)
			}
			defer f.Close()

			destDir := filepath.Dir(cfg.Database.Path)
			if err := os.MkdirAll(destDir, 0o755); err != nil {
				return fmt.Errorf("create database directory: %w", err)
			}

			restoredPath, err := kbbundle.Import(f, destDir)
			if err != nil {
				return fmt.Errorf("import bundle: %w", err)
			}

			output.New(cmd.OutOrStdout()).Successf("restored %s", restoredPath)
			return nil
		},
	}
}
