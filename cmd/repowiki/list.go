package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored repository indexes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, env *runtimeEnv) error {
			rows, err := env.store.ListIndexes(ctx)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("No repositories indexed yet. Run 'repowiki index <repo>' first.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REPOSITORY\tCHUNKS\tMODEL\tBUILT")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.RepoKey, r.ChunkCount, r.EmbeddingModelID, r.BuiltAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		})
	},
}

var forgetRepo repoFlags

var forgetCmd = &cobra.Command{
	Use:   "forget <repo>",
	Short: "Delete the index and wikis of a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, env *runtimeEnv) error {
			ref, err := env.engine.Reference(forgetRepo.request(args[0]))
			if err != nil {
				return err
			}
			if err := env.engine.Invalidate(ctx, ref.Key()); err != nil {
				return err
			}
			fmt.Printf("🗑️  Forgot %s\n", ref.Key())
			return nil
		})
	},
}

func init() {
	forgetRepo.register(forgetCmd)
	rootCmd.AddCommand(listCmd, forgetCmd)
}
