package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store persists sessions. Load returns (nil, nil) for unknown ids.
type Store interface {
	Load(ctx context.Context, repoKey, id string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Delete(ctx context.Context, repoKey, id string) error
	List(ctx context.Context, repoKey string) ([]SessionMeta, error)
}

// RepoHash generates a consistent hash for a repository key.
// This is used to scope sessions to a repository.
func RepoHash(repoKey string) string {
	hash := sha256.Sum256([]byte(repoKey))
	return hex.EncodeToString(hash[:])[:12]
}

func sortMeta(sessions []SessionMeta) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
}

// validID rejects ids that could escape the store directory.
func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

// FileStore keeps one JSON file per session under <base>/sessions/<repo hash>/.
type FileStore struct {
	basePath string
}

// NewFileStore creates a file store rooted at configPath.
func NewFileStore(configPath string) *FileStore {
	return &FileStore{basePath: filepath.Join(configPath, "sessions")}
}

func (s *FileStore) path(repoKey, id string) string {
	return filepath.Join(s.basePath, RepoHash(repoKey), id+".json")
}

// Save persists a session to disk.
func (s *FileStore) Save(ctx context.Context, session *Session) error {
	if err := validID(session.ID); err != nil {
		return err
	}
	dir := filepath.Join(s.basePath, RepoHash(session.RepoKey))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Write then rename so readers never see a torn file.
	tmp := s.path(session.RepoKey, session.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path(session.RepoKey, session.ID)); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Load retrieves a specific session.
func (s *FileStore) Load(ctx context.Context, repoKey, id string) (*Session, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(repoKey, id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Delete removes a session file. Deleting an unknown session is not an error.
func (s *FileStore) Delete(ctx context.Context, repoKey, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := os.Remove(s.path(repoKey, id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List returns all sessions for a repository, newest first.
func (s *FileStore) List(ctx context.Context, repoKey string) ([]SessionMeta, error) {
	dir := filepath.Join(s.basePath, RepoHash(repoKey))

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []SessionMeta{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list session directory: %w", err)
	}

	sessions := []SessionMeta{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue // Skip unreadable files
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue // Skip invalid files
		}
		sessions = append(sessions, sess.Meta())
	}
	sortMeta(sessions)
	return sessions, nil
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func memoryKey(repoKey, id string) string { return repoKey + "\x00" + id }

func (s *MemoryStore) Load(ctx context.Context, repoKey, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[memoryKey(repoKey, id)]
	if !ok {
		return nil, nil
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[memoryKey(session.RepoKey, session.ID)] = session.Clone()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, repoKey, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, memoryKey(repoKey, id))
	return nil
}

func (s *MemoryStore) List(ctx context.Context, repoKey string) ([]SessionMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []SessionMeta{}
	for _, sess := range s.sessions {
		if sess.RepoKey == repoKey {
			out = append(out, sess.Meta())
		}
	}
	sortMeta(out)
	return out, nil
}
