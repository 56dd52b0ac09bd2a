package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ChamsBouzaiene/repowiki/internal/knowledge"
	"github.com/ChamsBouzaiene/repowiki/internal/protocol"
	"github.com/ChamsBouzaiene/repowiki/internal/resolver"
	"github.com/ChamsBouzaiene/repowiki/internal/wiki"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// MCPServer exposes the engine as MCP tools.
type MCPServer struct {
	engine Engine
	server *mcp.Server
}

// NewMCPServer registers the repository tools.
func NewMCPServer(e Engine) (*MCPServer, error) {
	if e == nil {
		return nil, errors.New("mcp server requires an engine")
	}
	s := &MCPServer{
		engine: e,
		server: mcp.NewServer(&mcp.Implementation{Name: "repowiki", Version: Version}, nil),
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP over stdio until ctx is canceled or stdin closes.
func (s *MCPServer) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns the streamable HTTP transport, for mounting on an HTTP router.
func (s *MCPServer) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

// QueryInput is the input of query_repository.
type QueryInput struct {
	RepoURL       string             `json:"repo_url" jsonschema:"repository URL, owner/name shorthand, or local path"`
	Query         string             `json:"query" jsonschema:"the question to ask about the repository"`
	FilePath      string             `json:"file_path,omitempty" jsonschema:"optional path of a file whose content should be used as context first"`
	Messages      []protocol.Message `json:"messages,omitempty" jsonschema:"optional earlier conversation, alternating user and assistant"`
	RepoType      string             `json:"repo_type,omitempty" jsonschema:"github (default), gitlab, bitbucket, gitea or local"`
	Language      string             `json:"language,omitempty" jsonschema:"language code for the answer (default en)"`
	Provider      string             `json:"provider,omitempty" jsonschema:"generation provider id, e.g. openai, anthropic, google, ollama"`
	Model         string             `json:"model,omitempty" jsonschema:"model to use with the provider"`
	AccessToken   string             `json:"access_token,omitempty" jsonschema:"access token for private repositories"`
	ExcludedDirs  string             `json:"excluded_dirs,omitempty" jsonschema:"comma-separated directories to exclude"`
	ExcludedFiles string             `json:"excluded_files,omitempty" jsonschema:"comma-separated file patterns to exclude"`
	SessionID     string             `json:"session_id,omitempty" jsonschema:"continue a stored conversation"`
}

// AskInput is the input of ask_repository.
type AskInput struct {
	RepoURL      string `json:"repo_url" jsonschema:"repository URL, owner/name shorthand, or local path"`
	Question     string `json:"question" jsonschema:"the question to ask about the repository"`
	DeepResearch bool   `json:"deep_research,omitempty" jsonschema:"answer with an in-depth, structured investigation"`
	RepoType     string `json:"repo_type,omitempty" jsonschema:"github (default), gitlab, bitbucket, gitea or local"`
	Language     string `json:"language,omitempty" jsonschema:"language code for the answer (default en)"`
	AccessToken  string `json:"access_token,omitempty" jsonschema:"access token for private repositories"`
}

// AnswerOutput is returned by the question tools.
type AnswerOutput struct {
	Answer    string            `json:"answer"`
	SessionID string            `json:"session_id,omitempty"`
	Sources   []protocol.Source `json:"sources"`
}

// WikiInput is the input of generate_wiki.
type WikiInput struct {
	RepoURL     string `json:"repo_url" jsonschema:"repository URL, owner/name shorthand, or local path"`
	RepoType    string `json:"repo_type,omitempty" jsonschema:"github (default), gitlab, bitbucket, gitea or local"`
	Language    string `json:"language,omitempty" jsonschema:"language code for the wiki (default en)"`
	AccessToken string `json:"access_token,omitempty" jsonschema:"access token for private repositories"`
	Force       bool   `json:"force,omitempty" jsonschema:"regenerate even if a current wiki exists"`
}

// WikiOutput is returned by generate_wiki.
type WikiOutput struct {
	Title    string `json:"title"`
	Pages    int    `json:"pages"`
	Markdown string `json:"markdown"`
}

// HealthOutput is returned by health_check.
type HealthOutput struct {
	Status    string `json:"status"`
	Embedding string `json:"embedding_model"`
	Builds    int64  `json:"builds"`
}

// HealthInput takes no arguments.
type HealthInput struct{}

func (s *MCPServer) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "query_repository",
		Description: "Ask a question about a code repository. The repository is indexed on first use and the answer is grounded on retrieved source excerpts.",
	}, s.handleQuery)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask_repository",
		Description: "Ask a single question about a code repository, optionally as deep research.",
	}, s.handleAsk)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "generate_wiki",
		Description: "Generate (or return the cached) wiki for a repository as Markdown.",
	}, s.handleWiki)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "health_check",
		Description: "Report whether the repository knowledge engine is ready.",
	}, s.handleHealth)
}

func (s *MCPServer) handleQuery(ctx context.Context, _ *mcp.CallToolRequest, in QueryInput) (*mcp.CallToolResult, AnswerOutput, error) {
	if strings.TrimSpace(in.Query) == "" && len(in.Messages) == 0 {
		return nil, AnswerOutput{}, errors.New("query is required")
	}
	body := QueryBody{
		RepoBody: RepoBody{
			RepoURL:       in.RepoURL,
			RepoType:      in.RepoType,
			Token:         in.AccessToken,
			ExcludedDirs:  in.ExcludedDirs,
			ExcludedFiles: in.ExcludedFiles,
		},
		Question:  in.Query,
		Messages:  in.Messages,
		FilePath:  in.FilePath,
		SessionID: in.SessionID,
		Language:  in.Language,
		Provider:  in.Provider,
		Model:     in.Model,
	}
	// Messages are used as given: a trailing user turn is the question and query only labels it.
	if n := len(body.Messages); n > 0 && body.Messages[n-1].Role == "user" {
		body.Question = ""
	}
	return s.answer(ctx, body)
}

func (s *MCPServer) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, AnswerOutput, error) {
	return s.answer(ctx, QueryBody{
		RepoBody:     RepoBody{RepoURL: in.RepoURL, RepoType: in.RepoType, Token: in.AccessToken},
		Question:     in.Question,
		DeepResearch: in.DeepResearch,
		Language:     in.Language,
	})
}

func (s *MCPServer) answer(ctx context.Context, body QueryBody) (*mcp.CallToolResult, AnswerOutput, error) {
	if err := body.Validate(); err != nil {
		return nil, AnswerOutput{}, err
	}
	ans, err := s.engine.Ask(ctx, body.request())
	if err != nil {
		return nil, AnswerOutput{}, toolError(err)
	}
	return nil, answerOutput(ans), nil
}

func answerOutput(ans *resolver.Answer) AnswerOutput {
	return AnswerOutput{Answer: ans.Text, SessionID: ans.SessionID, Sources: toSources(ans.Contexts)}
}

func (s *MCPServer) handleWiki(ctx context.Context, _ *mcp.CallToolRequest, in WikiInput) (*mcp.CallToolResult, WikiOutput, error) {
	body := WikiBody{
		RepoBody: RepoBody{RepoURL: in.RepoURL, RepoType: in.RepoType, Token: in.AccessToken},
		Language: in.Language,
		Force:    in.Force,
	}
	if err := body.Validate(); err != nil {
		return nil, WikiOutput{}, err
	}
	w, err := s.engine.Wiki(ctx, body.request())
	if err != nil {
		return nil, WikiOutput{}, toolError(err)
	}
	return nil, WikiOutput{Title: w.Title, Pages: len(w.Pages), Markdown: wiki.Markdown(w)}, nil
}

func (s *MCPServer) handleHealth(_ context.Context, _ *mcp.CallToolRequest, _ HealthInput) (*mcp.CallToolResult, HealthOutput, error) {
	h := s.engine.Health()
	return nil, HealthOutput{Status: h.Status, Embedding: h.Embedding, Builds: h.Builds}, nil
}

func toolError(err error) error {
	return fmt.Errorf("%s: %w", protocol.ErrorKind(err), err)
}

var _ Engine = (*knowledge.Engine)(nil)
