// Package session keeps multi-turn conversation state for the query resolver.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
)

// Message is one turn of a conversation.
type Message struct {
	Role      engine.MessageRole `json:"role"`
	Text      string             `json:"text"`
	Timestamp time.Time          `json:"timestamp"`
}

// Session represents a persistent conversation about one repository.
type Session struct {
	ID        string    `json:"id"`
	RepoKey   string    `json:"repo_key"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// SessionMeta is a lightweight representation for listing.
type SessionMeta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Turns     int       `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Meta summarizes s.
func (s *Session) Meta() SessionMeta {
	return SessionMeta{
		ID:        s.ID,
		Title:     s.Title,
		Turns:     len(s.Messages) / 2,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// Clone returns a deep copy so callers can read a session without holding its turn.
func (s *Session) Clone() *Session {
	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	return &c
}

// ChatMessages converts turns to provider messages.
func ChatMessages(messages []Message) []engine.ChatMessage {
	out := make([]engine.ChatMessage, len(messages))
	for i, m := range messages {
		out[i] = engine.ChatMessage{Role: m.Role, Content: m.Text}
	}
	return out
}

// ValidateOrder checks that messages strictly alternate user, assistant, user, ...
// starting with a user turn. A trailing user turn is accepted only when
// pendingQuestion is set: it is the question about to be answered.
func ValidateOrder(messages []Message, pendingQuestion bool) error {
	for i, m := range messages {
		want := engine.RoleUser
		if i%2 == 1 {
			want = engine.RoleAssistant
		}
		if m.Role != want {
			return &engine.TurnOrderError{Index: i, Reason: fmt.Sprintf("expected %s turn, got %q", want, m.Role)}
		}
	}
	if len(messages)%2 == 1 && !pendingQuestion {
		return &engine.TurnOrderError{Index: len(messages) - 1, Reason: "user turn has no assistant reply"}
	}
	return nil
}

// Window keeps the trailing maxTurns user/assistant pairs, dropping the oldest first.
// A non-positive maxTurns keeps everything.
func Window(messages []Message, maxTurns int) []Message {
	if maxTurns <= 0 || len(messages) <= 2*maxTurns {
		return messages
	}
	return messages[len(messages)-2*maxTurns:]
}

// titleFrom derives a short title from the first question.
func titleFrom(question string) string {
	question = strings.Join(strings.Fields(question), " ")
	question = strings.TrimPrefix(question, "[DEEP RESEARCH] ")
	if r := []rune(question); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	if question == "" {
		return "New Session"
	}
	return question
}
