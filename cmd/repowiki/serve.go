package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/repowiki/internal/knowledge"
	"github.com/ChamsBouzaiene/repowiki/internal/server"
)

var (
	serveAddr  string
	serveStdio bool
	serveMCP   bool
	serveWatch []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API, or the NDJSON protocol over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Protocol output owns stdout in stdio mode.
		if serveStdio {
			log.SetOutput(os.Stderr)
		}
		return withEngine(cmd, func(ctx context.Context, env *runtimeEnv) error {
			for _, path := range serveWatch {
				req := knowledge.IndexRequest{RepoRequest: knowledge.RepoRequest{RepoURL: path, RepoType: "local"}}
				if _, err := env.engine.Index(ctx, req); err != nil {
					return fmt.Errorf("index %s: %w", path, err)
				}
				if err := env.engine.Watch(ctx, req); err != nil {
					return err
				}
			}

			if serveStdio {
				log.Println("🔌 Serving NDJSON over stdio")
				return server.NewStdioRunner(env.engine, os.Stdin, os.Stdout).Run(ctx)
			}

			extra := map[string]http.Handler{}
			if serveMCP {
				mcpServer, err := server.NewMCPServer(env.engine)
				if err != nil {
					return err
				}
				extra["/mcp"] = mcpServer.Handler()
			}
			addr := serveAddr
			if addr == "" {
				addr = cfg.Server.Addr
			}
			return server.NewHTTPServer(env.engine, extra).Run(ctx, addr)
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, :8001)")
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "speak newline-delimited JSON on stdin/stdout instead of HTTP")
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", true, "mount the MCP streamable HTTP endpoint at /mcp")
	serveCmd.Flags().StringSliceVar(&serveWatch, "watch", nil, "local repository to index and re-index on change (repeatable)")
	rootCmd.AddCommand(serveCmd)
}
