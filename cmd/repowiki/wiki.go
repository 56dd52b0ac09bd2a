package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/repowiki/internal/knowledge"
	"github.com/ChamsBouzaiene/repowiki/internal/wiki"
)

var (
	wikiRepo     repoFlags
	wikiLanguage string
	wikiForce    bool
	wikiFormat   string
	wikiOut      string
	wikiRender   bool
	wikiProvider string
	wikiModel    string
)

var wikiCmd = &cobra.Command{
	Use:   "wiki <repo>",
	Short: "Generate the wiki of a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, env *runtimeEnv) error {
			w, err := env.engine.Wiki(ctx, knowledge.WikiRequest{
				RepoRequest: wikiRepo.request(args[0]),
				Language:    wikiLanguage,
				Force:       wikiForce,
				Provider:    wikiProvider,
				Model:       wikiModel,
			})
			if err != nil {
				return err
			}

			data, err := wiki.Export(w, wikiFormat)
			if err != nil {
				return err
			}
			if wikiOut != "" {
				if err := os.WriteFile(wikiOut, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", wikiOut, err)
				}
				fmt.Printf("📝 Wrote %q (%d pages) to %s\n", w.Title, len(w.Pages), wikiOut)
				return nil
			}
			if wikiRender && (wikiFormat == wiki.FormatMarkdown || wikiFormat == "md") {
				return printMarkdown(string(data))
			}
			_, err = os.Stdout.Write(data)
			return err
		})
	},
}

// printMarkdown renders md for the terminal.
func printMarkdown(md string) error {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return err
	}
	out, err := r.Render(md)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func init() {
	wikiRepo.register(wikiCmd)
	wikiCmd.Flags().StringVar(&wikiLanguage, "lang", "en", "language of the generated pages")
	wikiCmd.Flags().BoolVar(&wikiForce, "force", false, "regenerate even if a current wiki exists")
	wikiCmd.Flags().StringVar(&wikiFormat, "format", wiki.FormatMarkdown, "output format: markdown, json or yaml")
	wikiCmd.Flags().StringVarP(&wikiOut, "out", "o", "", "write to a file instead of stdout")
	wikiCmd.Flags().BoolVar(&wikiRender, "render", false, "render markdown for the terminal")
	wikiCmd.Flags().StringVar(&wikiProvider, "provider", "", "generation provider override")
	wikiCmd.Flags().StringVar(&wikiModel, "model", "", "generation model override")
	rootCmd.AddCommand(wikiCmd)
}
