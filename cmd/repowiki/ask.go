package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/repowiki/internal/knowledge"
	"github.com/ChamsBouzaiene/repowiki/internal/resolver"
)

var (
	askRepo     repoFlags
	askFile     string
	askSession  string
	askLanguage string
	askDeep     bool
	askRender   bool
	askTopK     int
	askProvider string
	askModel    string
)

var askCmd = &cobra.Command{
	Use:   "ask <repo> <question...>",
	Short: "Ask a question about a repository",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.TrimSpace(strings.Join(args[1:], " "))
		if askDeep && !resolver.IsDeepResearch(question) {
			question = resolver.DeepResearchPrefix + " " + question
		}
		req := knowledge.QueryRequest{
			RepoRequest: askRepo.request(args[0]),
			Question:    question,
			FilePath:    askFile,
			SessionID:   askSession,
			Language:    askLanguage,
			TopK:        askTopK,
			Provider:    askProvider,
			Model:       askModel,
		}

		return withEngine(cmd, func(ctx context.Context, env *runtimeEnv) error {
			var ans *resolver.Answer
			if askRender {
				var err error
				if ans, err = env.engine.Ask(ctx, req); err != nil {
					return err
				}
				if err := printMarkdown(ans.Text); err != nil {
					return err
				}
			} else {
				stream, err := env.engine.AskStream(ctx, req)
				if err != nil {
					return err
				}
				defer stream.Close()
				for frag := range stream.Fragments() {
					if !frag.Done {
						fmt.Print(frag.Text)
						continue
					}
					if frag.Err != nil {
						fmt.Println()
						return frag.Err
					}
					ans = frag.Answer
				}
				fmt.Println()
				if ans == nil {
					return ctx.Err()
				}
			}

			if len(ans.Contexts) > 0 {
				fmt.Println("\nSources:")
				for _, c := range ans.Contexts {
					fmt.Printf("  %s:%d-%d (%.3f)\n", c.Path, c.StartLine, c.EndLine, c.Score)
				}
			}
			if ans.SessionID != "" {
				fmt.Printf("\nSession: %s (continue with --session %s)\n", ans.SessionID, ans.SessionID)
			}
			return nil
		})
	},
}

func init() {
	askRepo.register(askCmd)
	askCmd.Flags().StringVar(&askFile, "file", "", "file whose chunks are always included as context")
	askCmd.Flags().StringVar(&askSession, "session", "", "continue a stored conversation")
	askCmd.Flags().StringVar(&askLanguage, "lang", "", "language of the answer")
	askCmd.Flags().BoolVar(&askDeep, "deep", false, "deep research: a longer, structured investigation")
	askCmd.Flags().BoolVar(&askRender, "render", false, "wait for the full answer and render it as markdown")
	askCmd.Flags().IntVar(&askTopK, "top-k", 0, "number of excerpts to retrieve (default from config)")
	askCmd.Flags().StringVar(&askProvider, "provider", "", "generation provider override")
	askCmd.Flags().StringVar(&askModel, "model", "", "generation model override")
	rootCmd.AddCommand(askCmd)
}
