package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/repowiki/internal/knowledge"
)

var (
	indexRepo  repoFlags
	indexForce bool
)

var indexCmd = &cobra.Command{
	Use:   "index <repo>",
	Short: "Build (or load) the vector index of a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, env *runtimeEnv) error {
			fmt.Printf("Indexing %s...\n", args[0])
			start := time.Now()

			res, err := env.engine.Index(ctx, knowledge.IndexRequest{
				RepoRequest: indexRepo.request(args[0]),
				Force:       indexForce,
			})
			if err != nil {
				return err
			}

			meta := res.Index.Meta
			fmt.Printf("\nDone in %s\n", time.Since(start).Round(time.Millisecond))
			fmt.Printf("  Key:     %s\n", res.Key)
			fmt.Printf("  Files:   %d\n", meta.FileCount)
			fmt.Printf("  Chunks:  %d\n", meta.ChunkCount)
			fmt.Printf("  Model:   %s (dim %d)\n", meta.EmbeddingModelID, meta.Dimension)
			if meta.Truncated {
				fmt.Println("  ⚠️  Size budget reached; the index is partial")
			}
			if len(meta.Skipped) > 0 {
				fmt.Printf("  Skipped: %d files\n", len(meta.Skipped))
				if cfg.Verbose {
					paths := make([]string, 0, len(meta.Skipped))
					for p := range meta.Skipped {
						paths = append(paths, p)
					}
					sort.Strings(paths)
					for _, p := range paths {
						fmt.Printf("    %s (%s)\n", p, meta.Skipped[p])
					}
				}
			}
			return nil
		})
	},
}

func init() {
	indexRepo.register(indexCmd)
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "rebuild even if a current index exists")
	rootCmd.AddCommand(indexCmd)
}
