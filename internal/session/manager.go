package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
)

// DefaultMaxTurns bounds retained history to keep prompts small.
const DefaultMaxTurns = 10

// Manager hands out exclusive turns on sessions. At most one turn per session is
// open at a time; a second caller gets *engine.SessionBusyError instead of waiting.
type Manager struct {
	store    Store
	maxTurns int
	now      func() time.Time

	mu   sync.Mutex
	busy map[string]bool
}

// NewManager creates a manager over store. maxTurns <= 0 uses DefaultMaxTurns.
func NewManager(store Store, maxTurns int) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Manager{store: store, maxTurns: maxTurns, now: time.Now, busy: make(map[string]bool)}
}

// Store returns the backing store.
func (m *Manager) Store() Store { return m.store }

// MaxTurns returns the retained turn window.
func (m *Manager) MaxTurns() int { return m.maxTurns }

// Begin opens a turn on session id for repoKey. An empty id starts a new session;
// an unknown id starts a new session under that id. The caller must Commit or Release.
func (m *Manager) Begin(ctx context.Context, repoKey, id string) (*Turn, error) {
	if id == "" {
		id = uuid.NewString()
	} else if err := validID(id); err != nil {
		return nil, err
	}

	key := memoryKey(repoKey, id)
	m.mu.Lock()
	if m.busy[key] {
		m.mu.Unlock()
		return nil, &engine.SessionBusyError{SessionID: id}
	}
	m.busy[key] = true
	m.mu.Unlock()

	sess, err := m.store.Load(ctx, repoKey, id)
	if err != nil {
		m.release(key)
		return nil, err
	}
	if sess == nil {
		now := m.now().UTC()
		sess = &Session{ID: id, RepoKey: repoKey, CreatedAt: now, UpdatedAt: now}
	}
	if err := ValidateOrder(sess.Messages, false); err != nil {
		m.release(key)
		return nil, fmt.Errorf("session %s is corrupt: %w", id, err)
	}
	return &Turn{manager: m, key: key, session: sess}, nil
}

func (m *Manager) release(key string) {
	m.mu.Lock()
	delete(m.busy, key)
	m.mu.Unlock()
}

// Turn is an exclusive, single-use claim on a session.
type Turn struct {
	manager *Manager
	key     string
	session *Session
	once    sync.Once
}

// SessionID returns the id of the claimed session.
func (t *Turn) SessionID() string { return t.session.ID }

// History returns the retained prior messages.
func (t *Turn) History() []Message {
	return Window(t.session.Messages, t.manager.maxTurns)
}

// Commit appends the answered question, trims the window and persists the session.
// The turn is released whether or not persisting succeeds; on error the stored
// session is unchanged.
func (t *Turn) Commit(ctx context.Context, question, answer string) (*Session, error) {
	defer t.Release()

	now := t.manager.now().UTC()
	next := t.session.Clone()
	if next.Title == "" {
		next.Title = titleFrom(question)
	}
	next.Messages = append(next.Messages,
		Message{Role: engine.RoleUser, Text: question, Timestamp: now},
		Message{Role: engine.RoleAssistant, Text: answer, Timestamp: now},
	)
	next.Messages = append([]Message(nil), Window(next.Messages, t.manager.maxTurns)...)
	next.UpdatedAt = now

	if err := t.manager.store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save session %s: %w", next.ID, err)
	}
	return next, nil
}

// Release gives the session back without changing it. Safe to call more than once.
func (t *Turn) Release() {
	t.once.Do(func() { t.manager.release(t.key) })
}
