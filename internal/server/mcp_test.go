package server

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/repowiki/internal/knowledge/knowledgetest"
	"github.com/ChamsBouzaiene/repowiki/internal/protocol"
)

func newTestMCP(t *testing.T, llm *knowledgetest.FakeLLM) (*MCPServer, string) {
	t.Helper()
	s, err := NewMCPServer(knowledgetest.NewEngine(t, llm, nil))
	require.NoError(t, err)
	return s, knowledgetest.WriteRepo(t, knowledgetest.Files)
}

func TestNewMCPServer_RequiresEngine(t *testing.T) {
	_, err := NewMCPServer(nil)
	assert.Error(t, err)
}

func TestMCP_QueryRepository(t *testing.T) {
	s, root := newTestMCP(t, &knowledgetest.FakeLLM{})

	_, out, err := s.handleQuery(context.Background(), nil, QueryInput{
		RepoURL:  root,
		RepoType: "local",
		Query:    "Where is login?",
	})
	require.NoError(t, err)
	assert.Contains(t, out.Answer, "auth/login.go")
	assert.NotEmpty(t, out.Sources)
	assert.NotEmpty(t, out.SessionID)
}

func TestMCP_QueryWithTrailingUserMessage(t *testing.T) {
	llm := &knowledgetest.FakeLLM{}
	s, root := newTestMCP(t, llm)

	_, out, err := s.handleQuery(context.Background(), nil, QueryInput{
		RepoURL:  root,
		RepoType: "local",
		Query:    "And the entry point?",
		Messages: []protocol.Message{
			{Role: "user", Content: "Where is login?"},
			{Role: "assistant", Content: "In auth."},
			{Role: "user", Content: "And the entry point?"},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, out.SessionID, "caller-owned history is not stored")
	assert.NotEmpty(t, out.Answer)
}

func TestMCP_TrailingUserMessageWinsOverQuery(t *testing.T) {
	llm := &knowledgetest.FakeLLM{}
	s, root := newTestMCP(t, llm)

	_, out, err := s.handleQuery(context.Background(), nil, QueryInput{
		RepoURL:  root,
		RepoType: "local",
		Query:    "summary",
		Messages: []protocol.Message{
			{Role: "user", Content: "Where is login?"},
			{Role: "assistant", Content: "In auth."},
			{Role: "user", Content: "Which function checks the password?"},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Answer)

	calls := llm.Calls()
	require.NotEmpty(t, calls)
	last := calls[len(calls)-1]
	assert.Contains(t, last[len(last)-1].Content, "Which function checks the password?")
	assert.NotContains(t, last[len(last)-1].Content, "summary")
}

func TestMCP_QueryRequiresQuestion(t *testing.T) {
	s, root := newTestMCP(t, &knowledgetest.FakeLLM{})

	_, _, err := s.handleQuery(context.Background(), nil, QueryInput{RepoURL: root, RepoType: "local"})
	assert.Error(t, err)
}

func TestMCP_ErrorsCarryKind(t *testing.T) {
	s, _ := newTestMCP(t, &knowledgetest.FakeLLM{})

	_, _, err := s.handleAsk(context.Background(), nil, AskInput{
		RepoURL:  filepath.Join(t.TempDir(), "missing"),
		RepoType: "local",
		Question: "anything?",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), protocol.KindNotFound)
}

func TestMCP_AskDeepResearch(t *testing.T) {
	llm := &knowledgetest.FakeLLM{}
	s, root := newTestMCP(t, llm)

	_, out, err := s.handleAsk(context.Background(), nil, AskInput{
		RepoURL:      root,
		RepoType:     "local",
		Question:     "How does login work?",
		DeepResearch: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Answer)
	require.NotEmpty(t, llm.Calls())
}

func TestMCP_GenerateWikiAndHealth(t *testing.T) {
	s, root := newTestMCP(t, &knowledgetest.FakeLLM{})

	_, out, err := s.handleWiki(context.Background(), nil, WikiInput{RepoURL: root, RepoType: "local"})
	require.NoError(t, err)
	assert.Equal(t, "Demo Wiki", out.Title)
	assert.Equal(t, 2, out.Pages)
	assert.Contains(t, out.Markdown, "# Demo Wiki")

	_, health, err := s.handleHealth(context.Background(), nil, HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, int64(1), health.Builds)
}
