package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/repowiki/internal/server"
)

var mcpHTTPAddr string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing repository question and wiki tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if mcpHTTPAddr == "" {
			log.SetOutput(os.Stderr)
		}
		return withEngine(cmd, func(ctx context.Context, env *runtimeEnv) error {
			s, err := server.NewMCPServer(env.engine)
			if err != nil {
				return err
			}
			if mcpHTTPAddr == "" {
				return s.Run(ctx)
			}

			mux := http.NewServeMux()
			mux.Handle("/mcp", s.Handler())
			srv := &http.Server{Addr: mcpHTTPAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			log.Printf("🧩 MCP listening on %s/mcp", mcpHTTPAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpHTTPAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	rootCmd.AddCommand(mcpCmd)
}
