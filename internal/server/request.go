// Package server exposes the knowledge engine over HTTP, MCP and stdio NDJSON.
package server

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
	"github.com/ChamsBouzaiene/repowiki/internal/extractor"
	"github.com/ChamsBouzaiene/repowiki/internal/knowledge"
	"github.com/ChamsBouzaiene/repowiki/internal/protocol"
	"github.com/ChamsBouzaiene/repowiki/internal/resolver"
	"github.com/ChamsBouzaiene/repowiki/internal/session"
)

const (
	maxURLLength      = 2048
	maxQuestionLength = 32 * 1024
	maxMessages       = 200
)

var repoTypes = []interface{}{"github", "gitlab", "bitbucket", "gitea", "local"}

// RepoBody identifies a repository in every request.
type RepoBody struct {
	RepoURL       string `json:"repo_url"`
	RepoType      string `json:"repo_type,omitempty"`
	Token         string `json:"token,omitempty"`
	ExcludedDirs  string `json:"excluded_dirs,omitempty"`
	ExcludedFiles string `json:"excluded_files,omitempty"`
	IncludedDirs  string `json:"included_dirs,omitempty"`
	IncludedFiles string `json:"included_files,omitempty"`

	// Older clients send these names; they are read only when the fields above are empty.
	Repository  string `json:"repository,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

func (b *RepoBody) applyAliases() {
	if b.RepoURL == "" {
		b.RepoURL = b.Repository
	}
	if b.Token == "" {
		b.Token = b.AccessToken
	}
}

func (b *RepoBody) rules() []*validation.FieldRules {
	return []*validation.FieldRules{
		validation.Field(&b.RepoURL, validation.Required, validation.Length(1, maxURLLength)),
		validation.Field(&b.RepoType, validation.In(repoTypes...)),
	}
}

func (b RepoBody) request() knowledge.RepoRequest {
	return knowledge.RepoRequest{
		RepoURL:  strings.TrimSpace(b.RepoURL),
		RepoType: b.RepoType,
		Token:    b.Token,
		Filters: extractor.Filters{
			ExcludedDirs:  extractor.SplitList(b.ExcludedDirs),
			ExcludedFiles: extractor.SplitList(b.ExcludedFiles),
			IncludedDirs:  extractor.SplitList(b.IncludedDirs),
			IncludedFiles: extractor.SplitList(b.IncludedFiles),
		},
	}
}

// IndexBody is the body of POST /index.
type IndexBody struct {
	RepoBody
	Force bool `json:"force,omitempty"`
}

// Validate implements validation.Validatable.
func (b IndexBody) Validate() error {
	return validation.ValidateStruct(&b, b.RepoBody.rules()...)
}

// WikiBody is the body of POST /wiki.
type WikiBody struct {
	RepoBody
	Language string `json:"language,omitempty"`
	Force    bool   `json:"force,omitempty"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Format   string `json:"format,omitempty"`
}

// Validate implements validation.Validatable.
func (b WikiBody) Validate() error {
	rules := append(b.RepoBody.rules(),
		validation.Field(&b.Language, validation.Length(0, 16)),
		validation.Field(&b.Format, validation.In("json", "markdown", "md", "yaml")),
	)
	return validation.ValidateStruct(&b, rules...)
}

func (b WikiBody) request() knowledge.WikiRequest {
	return knowledge.WikiRequest{
		RepoRequest: b.RepoBody.request(),
		Language:    b.Language,
		Force:       b.Force,
		Provider:    b.Provider,
		Model:       b.Model,
	}
}

// QueryBody is the body of POST /query.
type QueryBody struct {
	RepoBody
	Question       string             `json:"question,omitempty"`
	Messages       []protocol.Message `json:"messages,omitempty"`
	FilePath       string             `json:"file_path,omitempty"`
	SessionID      string             `json:"session_id,omitempty"`
	Language       string             `json:"language,omitempty"`
	Provider       string             `json:"provider,omitempty"`
	Model          string             `json:"model,omitempty"`
	TopK           int                `json:"top_k,omitempty"`
	DeepResearch   bool               `json:"deep_research,omitempty"`
	Stream         bool               `json:"stream,omitempty"`
	ResponseFormat string             `json:"response_format,omitempty"`

	Query string `json:"query,omitempty"` // older name for Question
}

func (b *QueryBody) applyAliases() {
	b.RepoBody.applyAliases()
	if b.Question == "" {
		b.Question = b.Query
	}
}

// Validate implements validation.Validatable.
func (b QueryBody) Validate() error {
	rules := append(b.RepoBody.rules(),
		validation.Field(&b.Question,
			validation.When(len(b.Messages) == 0, validation.Required),
			validation.Length(0, maxQuestionLength)),
		validation.Field(&b.Messages, validation.Length(0, maxMessages), validation.Each(validation.By(validRole))),
		validation.Field(&b.Language, validation.Length(0, 16)),
		validation.Field(&b.TopK, validation.Min(0), validation.Max(100)),
		validation.Field(&b.ResponseFormat, validation.In("json", "text", "markdown")),
	)
	return validation.ValidateStruct(&b, rules...)
}

func validRole(value interface{}) error {
	m, ok := value.(protocol.Message)
	if !ok {
		return errors.New("must be a message")
	}
	switch engine.MessageRole(m.Role) {
	case engine.RoleUser, engine.RoleAssistant:
		return nil
	default:
		return fmt.Errorf("role must be %q or %q", engine.RoleUser, engine.RoleAssistant)
	}
}

func (b QueryBody) request() knowledge.QueryRequest {
	question := strings.TrimSpace(b.Question)
	if b.DeepResearch && question != "" && !resolver.IsDeepResearch(question) {
		question = resolver.DeepResearchPrefix + " " + question
	}
	return knowledge.QueryRequest{
		RepoRequest: b.RepoBody.request(),
		Question:    question,
		FilePath:    b.FilePath,
		SessionID:   b.SessionID,
		Messages:    toSessionMessages(b.Messages),
		Language:    b.Language,
		TopK:        b.TopK,
		Provider:    b.Provider,
		Model:       b.Model,
	}
}

// toSessionMessages keeps nil for an absent history so stored sessions are used.
func toSessionMessages(in []protocol.Message) []session.Message {
	if len(in) == 0 {
		return nil
	}
	out := make([]session.Message, len(in))
	for i, m := range in {
		out[i] = session.Message{Role: engine.MessageRole(m.Role), Text: m.Content}
	}
	return out
}

func toSources(contexts []resolver.Context) []protocol.Source {
	out := make([]protocol.Source, len(contexts))
	for i, c := range contexts {
		out[i] = protocol.Source{Path: c.Path, StartLine: c.StartLine, EndLine: c.EndLine, Score: c.Score}
	}
	return out
}
