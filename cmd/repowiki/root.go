package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/repowiki/internal/config"
	"github.com/ChamsBouzaiene/repowiki/internal/extractor"
	"github.com/ChamsBouzaiene/repowiki/internal/knowledge"
)

var (
	flagConfig  string
	flagVerbose bool
	flagDataDir string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "repowiki",
	Short:         "Index repositories, generate wikis and answer questions about code",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagVerbose {
			loaded.Verbose = true
		}
		if flagDataDir != "" {
			loaded.DataDir = flagDataDir
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default $UserConfigDir/repowiki/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "directory for the index database, clones and sessions")
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// withEngine builds the runtime environment, runs fn and tears everything down.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, env *runtimeEnv) error) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	env, err := prepareRuntimeEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

// repoFlags are shared by every command that names a repository.
type repoFlags struct {
	repoType      string
	token         string
	excludedDirs  string
	excludedFiles string
	includedDirs  string
	includedFiles string
}

func (f *repoFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.repoType, "type", "", "repository host: github, gitlab, bitbucket, gitea or local (default: inferred)")
	cmd.Flags().StringVar(&f.token, "token", "", "access token for private repositories")
	cmd.Flags().StringVar(&f.excludedDirs, "exclude-dirs", "", "comma-separated directories to skip")
	cmd.Flags().StringVar(&f.excludedFiles, "exclude-files", "", "comma-separated file patterns to skip")
	cmd.Flags().StringVar(&f.includedDirs, "include-dirs", "", "comma-separated directories to index exclusively")
	cmd.Flags().StringVar(&f.includedFiles, "include-files", "", "comma-separated file patterns to index exclusively")
}

func (f *repoFlags) request(url string) knowledge.RepoRequest {
	return knowledge.RepoRequest{
		RepoURL:  url,
		RepoType: f.repoType,
		Token:    f.token,
		Filters: extractor.Filters{
			ExcludedDirs:  extractor.SplitList(f.excludedDirs),
			ExcludedFiles: extractor.SplitList(f.excludedFiles),
			IncludedDirs:  extractor.SplitList(f.includedDirs),
			IncludedFiles: extractor.SplitList(f.includedFiles),
		},
	}
}
