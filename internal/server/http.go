package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/cors"

	"github.com/ChamsBouzaiene/repowiki/internal/knowledge"
	"github.com/ChamsBouzaiene/repowiki/internal/protocol"
	"github.com/ChamsBouzaiene/repowiki/internal/resolver"
	"github.com/ChamsBouzaiene/repowiki/internal/wiki"
)

// Engine is the part of *knowledge.Engine the adapters use.
type Engine interface {
	Index(ctx context.Context, req knowledge.IndexRequest) (*knowledge.IndexResult, error)
	Wiki(ctx context.Context, req knowledge.WikiRequest) (*wiki.Structure, error)
	Ask(ctx context.Context, req knowledge.QueryRequest) (*resolver.Answer, error)
	AskStream(ctx context.Context, req knowledge.QueryRequest) (*resolver.AnswerStream, error)
	Health() knowledge.Health
}

// HTTPServer serves the JSON and server-sent-events API.
type HTTPServer struct {
	engine Engine
	router *gin.Engine
}

// NewHTTPServer builds the router. extra handlers are mounted as-is under their
// path prefix, e.g. the MCP streamable handler under /mcp.
func NewHTTPServer(e Engine, extra map[string]http.Handler) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), loggingMiddleware())

	s := &HTTPServer{engine: e, router: r}
	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.POST("/index", s.handleIndex)
	r.POST("/wiki", s.handleWiki)
	r.POST("/query", s.handleQuery)
	for prefix, h := range extra {
		r.Any(prefix, gin.WrapH(h))
		r.Any(prefix+"/*rest", gin.WrapH(h))
	}
	return s
}

// Handler returns the router wrapped in an allow-all CORS policy.
func (s *HTTPServer) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)
}

// Run serves on addr until ctx is canceled.
func (s *HTTPServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // streamed answers can run for minutes
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	log.Printf("🌐 HTTP API listening on %s", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("[%s] %s | Status: %d | Latency: %v",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func statusFor(kind string) int {
	switch kind {
	case protocol.KindInvalidCommand, protocol.KindTurnOrder:
		return http.StatusBadRequest
	case protocol.KindAccess:
		return http.StatusForbidden
	case protocol.KindNotFound:
		return http.StatusNotFound
	case protocol.KindNotIndexed, protocol.KindSessionBusy:
		return http.StatusConflict
	case protocol.KindSizeLimit:
		return http.StatusRequestEntityTooLarge
	case protocol.KindEmptyInput:
		return http.StatusUnprocessableEntity
	case protocol.KindProvider, protocol.KindSynthesis:
		return http.StatusBadGateway
	case protocol.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	kind := protocol.ErrorKind(err)
	if status := statusFor(kind); status >= 500 {
		log.Printf("❌ %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(statusFor(kind), errorResponse{Error: err.Error(), Kind: kind})
}

// bind decodes the JSON body into v and validates it.
func bind(c *gin.Context, v validation.Validatable) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error(), Kind: protocol.KindInvalidCommand})
		return false
	}
	if a, ok := v.(interface{ applyAliases() }); ok {
		a.applyAliases()
	}
	if err := v.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: protocol.KindInvalidCommand})
		return false
	}
	return true
}

func (s *HTTPServer) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "repowiki API is running",
		"endpoints": gin.H{
			"health": "GET /health",
			"index":  "POST /index",
			"wiki":   "POST /wiki",
			"query":  "POST /query",
		},
	})
}

func (s *HTTPServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Health())
}

type indexResponse struct {
	Key        string            `json:"key"`
	ChunkCount int               `json:"chunk_count"`
	FileCount  int               `json:"file_count"`
	Truncated  bool              `json:"truncated"`
	Skipped    map[string]string `json:"skipped,omitempty"`
	BuiltAt    time.Time         `json:"built_at"`
}

func (s *HTTPServer) handleIndex(c *gin.Context) {
	var body IndexBody
	if !bind(c, &body) {
		return
	}
	res, err := s.engine.Index(c.Request.Context(), knowledge.IndexRequest{RepoRequest: body.RepoBody.request(), Force: body.Force})
	if err != nil {
		writeError(c, err)
		return
	}
	meta := res.Index.Meta
	c.JSON(http.StatusOK, indexResponse{
		Key:        res.Key,
		ChunkCount: meta.ChunkCount,
		FileCount:  meta.FileCount,
		Truncated:  meta.Truncated,
		Skipped:    meta.Skipped,
		BuiltAt:    meta.BuiltAt,
	})
}

func (s *HTTPServer) handleWiki(c *gin.Context) {
	var body WikiBody
	if !bind(c, &body) {
		return
	}
	w, err := s.engine.Wiki(c.Request.Context(), body.request())
	if err != nil {
		writeError(c, err)
		return
	}

	switch body.Format {
	case "", "json":
		c.JSON(http.StatusOK, w)
	default:
		data, err := wiki.Export(w, body.Format)
		if err != nil {
			writeError(c, err)
			return
		}
		contentType := "text/markdown; charset=utf-8"
		if body.Format == wiki.FormatYAML {
			contentType = "application/yaml"
		}
		c.Data(http.StatusOK, contentType, data)
	}
}

type queryResponse struct {
	Answer    string            `json:"answer"`
	SessionID string            `json:"session_id,omitempty"`
	Sources   []protocol.Source `json:"sources"`
	Usage     usage             `json:"usage"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// streamChunk is one server-sent event of a streamed answer.
type streamChunk struct {
	Text      string `json:"text"`
	Done      bool   `json:"done"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *HTTPServer) handleQuery(c *gin.Context) {
	var body QueryBody
	if !bind(c, &body) {
		return
	}
	req := body.request()

	if body.Stream {
		s.streamQuery(c, req)
		return
	}

	ans, err := s.engine.Ask(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	switch body.ResponseFormat {
	case "text":
		c.String(http.StatusOK, ans.Text)
	case "markdown":
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(answerMarkdown(ans)))
	default:
		c.JSON(http.StatusOK, queryResponse{
			Answer:    ans.Text,
			SessionID: ans.SessionID,
			Sources:   toSources(ans.Contexts),
			Usage: usage{
				PromptTokens:     ans.Usage.Prompt,
				CompletionTokens: ans.Usage.Completion,
				TotalTokens:      ans.Usage.Total,
			},
		})
	}
}

// streamQuery writes fragments as server-sent events. Errors before the first
// fragment still get a regular status code.
func (s *HTTPServer) streamQuery(c *gin.Context, req knowledge.QueryRequest) {
	stream, err := s.engine.AskStream(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	defer stream.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Status(http.StatusOK)

	for frag := range stream.Fragments() {
		if !frag.Done {
			c.SSEvent("", streamChunk{Text: frag.Text})
			c.Writer.Flush()
			continue
		}
		final := streamChunk{Done: true}
		if frag.Err != nil {
			final.Error = frag.Err.Error()
			final.Kind = protocol.ErrorKind(frag.Err)
		} else if frag.Answer != nil {
			final.SessionID = frag.Answer.SessionID
		}
		c.SSEvent("", final)
		c.Writer.Flush()
		return
	}
}

func answerMarkdown(ans *resolver.Answer) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(ans.Text))
	b.WriteString("\n")
	if len(ans.Contexts) > 0 {
		b.WriteString("\n**Sources**\n\n")
		for _, ctx := range ans.Contexts {
			fmt.Fprintf(&b, "- `%s:%d-%d`\n", ctx.Path, ctx.StartLine, ctx.EndLine)
		}
	}
	return b.String()
}
