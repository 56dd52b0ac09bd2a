package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
)

func msgs(roles ...engine.MessageRole) []Message {
	out := make([]Message, len(roles))
	for i, r := range roles {
		out[i] = Message{Role: r, Text: string(r)}
	}
	return out
}

func TestValidateOrder(t *testing.T) {
	u, a := engine.RoleUser, engine.RoleAssistant
	tests := []struct {
		name    string
		in      []Message
		pending bool
		wantErr bool
	}{
		{"empty", nil, false, false},
		{"pairs", msgs(u, a, u, a), false, false},
		{"starts with assistant", msgs(a, u), false, true},
		{"two users", msgs(u, u, a), true, true},
		{"trailing user pending", msgs(u, a, u), true, false},
		{"trailing user not pending", msgs(u, a, u), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrder(tt.in, tt.pending)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateOrder() error = %v, wantErr %v", err, tt.wantErr)
			}
			var orderErr *engine.TurnOrderError
			if err != nil && !errors.As(err, &orderErr) {
				t.Errorf("expected TurnOrderError, got %T", err)
			}
		})
	}
}

func TestWindowDropsOldestFirst(t *testing.T) {
	u, a := engine.RoleUser, engine.RoleAssistant
	in := msgs(u, a, u, a, u, a)
	in[0].Text = "first"
	in[4].Text = "last"

	got := Window(in, 2)
	if len(got) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(got))
	}
	if got[0].Role != u || got[2].Text != "last" {
		t.Errorf("unexpected window %+v", got)
	}
	if len(Window(in, 0)) != 6 {
		t.Error("non-positive window keeps everything")
	}
}

func TestManager_CommitAppendsPair(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), 2)

	turn, err := m.Begin(ctx, "github/o/r", "")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	id := turn.SessionID()
	if id == "" {
		t.Fatal("expected generated session id")
	}
	sess, err := turn.Commit(ctx, "what is this?", "a repo")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(sess.Messages) != 2 || sess.Title != "what is this?" {
		t.Fatalf("unexpected session %+v", sess)
	}

	for i := 0; i < 3; i++ {
		turn, err := m.Begin(ctx, "github/o/r", id)
		if err != nil {
			t.Fatalf("Begin %d: %v", i, err)
		}
		if len(turn.History())%2 != 0 {
			t.Fatal("history must hold whole turns")
		}
		if _, err := turn.Commit(ctx, "q", "a"); err != nil {
			t.Fatal(err)
		}
	}

	stored, _ := m.Store().Load(ctx, "github/o/r", id)
	if len(stored.Messages) != 4 {
		t.Errorf("expected window of 2 turns, got %d messages", len(stored.Messages))
	}
	if err := ValidateOrder(stored.Messages, false); err != nil {
		t.Errorf("stored session out of order: %v", err)
	}
}

func TestManager_ConcurrentTurnIsRejected(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, 0)

	first, err := m.Begin(ctx, "k", "s1")
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.Begin(ctx, "k", "s1")
	var busy *engine.SessionBusyError
	if !errors.As(err, &busy) || busy.SessionID != "s1" {
		t.Fatalf("expected SessionBusyError, got %v", err)
	}

	// Other sessions are unaffected.
	other, err := m.Begin(ctx, "k", "s2")
	if err != nil {
		t.Fatalf("other session should be free: %v", err)
	}
	other.Release()

	first.Release()
	first.Release()
	again, err := m.Begin(ctx, "k", "s1")
	if err != nil {
		t.Fatalf("released session should be free: %v", err)
	}
	again.Release()
}

func TestManager_ReleaseLeavesSessionUntouched(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewManager(store, 5)

	turn, _ := m.Begin(ctx, "k", "s")
	if _, err := turn.Commit(ctx, "q1", "a1"); err != nil {
		t.Fatal(err)
	}

	turn, _ = m.Begin(ctx, "k", "s")
	turn.Release()

	sess, _ := store.Load(ctx, "k", "s")
	if len(sess.Messages) != 2 {
		t.Errorf("released turn must not mutate the session, got %d messages", len(sess.Messages))
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()
	store := NewFileStore(tmpDir)
	repoKey := "github/owner/project"

	session := &Session{
		ID:        "test-session-id",
		RepoKey:   repoKey,
		Title:     "Test Session",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Messages:  msgs(engine.RoleUser, engine.RoleAssistant),
	}
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	expectedPath := filepath.Join(tmpDir, "sessions", RepoHash(repoKey), "test-session-id.json")
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Errorf("Expected session file to exist at %s", expectedPath)
	}

	loaded, err := store.Load(ctx, repoKey, session.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.ID != session.ID || len(loaded.Messages) != 2 {
		t.Errorf("unexpected session %+v", loaded)
	}

	missing, err := store.Load(ctx, repoKey, "nope")
	if err != nil || missing != nil {
		t.Errorf("unknown id should load as nil, got %v %v", missing, err)
	}

	list, err := store.List(ctx, repoKey)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].Turns != 1 {
		t.Errorf("unexpected list %+v", list)
	}

	if err := store.Delete(ctx, repoKey, session.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(ctx, repoKey, "../escape"); err == nil {
		t.Error("path-like ids must be rejected")
	}
}
