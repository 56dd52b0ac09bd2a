package hosts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
	"github.com/ChamsBouzaiene/repowiki/internal/repo"
)

func newTestGitHub(t *testing.T, handler http.Handler) *GitHubHost {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	h, err := NewGitHubHost(GitHubOptions{
		BaseURL: srv.URL,
		Rate:    -1,
		Retry:   engine.RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	})
	require.NoError(t, err)
	return h
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestGitHubHost_ListAndRead(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/demo", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"name": "demo", "default_branch": "main"})
	})
	mux.HandleFunc("/repos/octo/demo/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		writeJSON(w, map[string]any{
			"sha": "tree",
			"tree": []map[string]any{
				{"path": "README.md", "type": "blob", "sha": "s1", "size": 5},
				{"path": "pkg", "type": "tree", "sha": "s2"},
				{"path": "pkg/a.go", "type": "blob", "sha": "s3", "size": 12},
			},
		})
	})
	mux.HandleFunc("/repos/octo/demo/git/blobs/s3", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"sha":      "s3",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte("package pkg\n")),
		})
	})

	h := newTestGitHub(t, mux)
	ref, err := repo.Parse("octo/demo", repo.HostGitHub, "")
	require.NoError(t, err)

	files, err := h.ListFiles(context.Background(), ref)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "README.md", files[0].Path)
	assert.Equal(t, int64(12), files[1].Size)

	data, err := h.ReadFile(context.Background(), ref, "pkg/a.go")
	require.NoError(t, err)
	assert.Equal(t, "package pkg\n", string(data))
}

func TestGitHubHost_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unauthorized becomes AccessError",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				var access *engine.AccessError
				assert.True(t, errors.As(err, &access), "got %v", err)
			},
		},
		{
			name:   "missing becomes NotFoundError",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				var nf *engine.NotFoundError
				assert.True(t, errors.As(err, &nf), "got %v", err)
			},
		},
		{
			name:   "server error is retried then surfaced",
			status: http.StatusBadGateway,
			check: func(t *testing.T, err error) {
				assert.True(t, engine.IsRetryExhausted(err), "got %v", err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			h := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tt.status)
				writeJSON(w, map[string]any{"message": http.StatusText(tt.status)})
			}))
			ref, err := repo.Parse("octo/private", repo.HostGitHub, "")
			require.NoError(t, err)

			_, err = h.ListFiles(context.Background(), ref)
			require.Error(t, err)
			tt.check(t, err)
			if tt.status < 500 {
				assert.Equal(t, 1, calls, "non-retryable errors must not be retried")
			}
		})
	}
}
