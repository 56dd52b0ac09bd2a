package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
)

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		check   func(t *testing.T, c Command)
	}{
		{
			name:  "query with question",
			input: `{"type":"query","request_id":"r1","repo_url":"acme/demo","question":"what?","excluded_dirs":"a,b"}`,
			check: func(t *testing.T, c Command) {
				q := c.(QueryCommand)
				if q.RequestID != "r1" || q.Question != "what?" || q.ExcludedDirs != "a,b" {
					t.Errorf("unexpected query %+v", q)
				}
			},
		},
		{
			name:  "query gets a request id",
			input: `{"type":"query","repo_url":"acme/demo","messages":[{"role":"user","content":"hi"}]}`,
			check: func(t *testing.T, c Command) {
				q := c.(QueryCommand)
				if q.RequestID == "" || len(q.Messages) != 1 {
					t.Errorf("unexpected query %+v", q)
				}
			},
		},
		{name: "query without repo", input: `{"type":"query","question":"q"}`, wantErr: true},
		{name: "query without question", input: `{"type":"query","repo_url":"acme/demo"}`, wantErr: true},
		{
			name:  "cancel",
			input: `{"type":"cancel","request_id":"r1"}`,
			check: func(t *testing.T, c Command) {
				if c.(CancelCommand).RequestID != "r1" {
					t.Errorf("unexpected cancel %+v", c)
				}
			},
		},
		{name: "cancel without id", input: `{"type":"cancel"}`, wantErr: true},
		{name: "unknown", input: `{"type":"start_session"}`, wantErr: true},
		{name: "garbage", input: `not json`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeCommand([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", cmd)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeCommand: %v", err)
			}
			tt.check(t, cmd)
		})
	}
}

func TestMarshalEvent(t *testing.T) {
	data, err := MarshalEvent(NewFragmentEvent("r1", "hello"))
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["type"] != "fragment" || got["request_id"] != "r1" || got["text"] != "hello" {
		t.Errorf("unexpected payload %s", data)
	}

	data, _ = MarshalEvent(NewErrorEvent("r2", &engine.NotIndexedError{RepoKey: "github:acme/demo"}))
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["type"] != "error" || got["kind"] != KindNotIndexed {
		t.Errorf("unexpected payload %s", data)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&engine.AccessError{}, KindAccess},
		{fmt.Errorf("wrapped: %w", &engine.NotFoundError{What: "x"}), KindNotFound},
		{&engine.SizeLimitError{}, KindSizeLimit},
		{&engine.ProviderError{Op: "embed", Err: errors.New("x")}, KindProvider},
		{&engine.ProviderError{Op: "generate", Err: context.Canceled}, KindCanceled},
		{&engine.SessionBusyError{SessionID: "s"}, KindSessionBusy},
		{&engine.TurnOrderError{Index: 1}, KindTurnOrder},
		{&engine.SynthesisError{Violation: "cycle"}, KindSynthesis},
		{&engine.EmptyInputError{}, KindEmptyInput},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
