package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/repowiki/internal/knowledge/knowledgetest"
)

type rawEvent struct {
	Type        string `json:"type"`
	RequestID   string `json:"request_id"`
	Text        string `json:"text"`
	Kind        string `json:"kind"`
	SessionID   string `json:"session_id"`
	Turns       int    `json:"turns"`
	TotalTokens int    `json:"total_tokens"`
	Sources     []struct {
		Path string `json:"path"`
	} `json:"sources"`
}

func runStdio(t *testing.T, llm *knowledgetest.FakeLLM, input string) []rawEvent {
	t.Helper()
	e := knowledgetest.NewEngine(t, llm, nil)

	var out bytes.Buffer
	runner := NewStdioRunner(e, strings.NewReader(input), &out)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, runner.Run(ctx))

	var events []rawEvent
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var ev rawEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev), sc.Text())
		events = append(events, ev)
	}
	return events
}

func queryLine(t *testing.T, id, root, question string) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"type": "query", "request_id": id, "repo_url": root, "repo_type": "local", "question": question,
	})
	require.NoError(t, err)
	return string(data)
}

func TestStdio_QueryRoundTrip(t *testing.T) {
	root := knowledgetest.WriteRepo(t, knowledgetest.Files)
	input := "not json\n\n" + queryLine(t, "q1", root, "Where is login?") + "\n"

	events := runStdio(t, &knowledgetest.FakeLLM{}, input)
	require.NotEmpty(t, events)

	assert.Equal(t, "error", events[0].Type)
	assert.Equal(t, "invalid_command", events[0].Kind)

	var text strings.Builder
	var done, sess *rawEvent
	for i := range events[1:] {
		ev := &events[i+1]
		assert.Equal(t, "q1", ev.RequestID)
		switch ev.Type {
		case "fragment":
			require.Nil(t, done, "fragment after done")
			text.WriteString(ev.Text)
		case "done":
			done = ev
		case "session":
			sess = ev
		default:
			t.Fatalf("unexpected event %+v", ev)
		}
	}
	assert.Equal(t, "Login lives in auth [auth/login.go:1-5].", text.String())
	require.NotNil(t, done)
	assert.Equal(t, 15, done.TotalTokens)
	assert.NotEmpty(t, done.Sources)
	require.NotNil(t, sess)
	assert.NotEmpty(t, sess.SessionID)
	assert.Equal(t, 1, sess.Turns)
}

func TestStdio_CancelStopsQuery(t *testing.T) {
	root := knowledgetest.WriteRepo(t, knowledgetest.Files)
	llm := &knowledgetest.FakeLLM{Block: make(chan struct{})}
	input := fmt.Sprintf("%s\n{\"type\":\"cancel\",\"request_id\":\"q1\"}\n", queryLine(t, "q1", root, "Where is login?"))

	events := runStdio(t, llm, input)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, "q1", last.RequestID)
	assert.Equal(t, "error", last.Type)
	assert.Equal(t, "canceled", last.Kind)
	for _, ev := range events {
		assert.NotEqual(t, "done", ev.Type)
	}
}

func TestStdio_InvalidQueryIsRejected(t *testing.T) {
	llm := &knowledgetest.FakeLLM{}
	input := `{"type":"query","request_id":"q1","repo_url":"https://github.com/o/r","repo_type":"svn","question":"hi"}` + "\n"

	events := runStdio(t, llm, input)
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Type)
	assert.Equal(t, "q1", events[0].RequestID)
	assert.Equal(t, "invalid_command", events[0].Kind)
	assert.Empty(t, llm.Calls())
}
