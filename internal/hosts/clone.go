package hosts

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
	"github.com/ChamsBouzaiene/repowiki/internal/repo"
)

// CloneHost materializes remote repositories with a shallow `git clone` and then serves
// them from disk. It backs GitLab, Bitbucket and Gitea.
type CloneHost struct {
	baseDir string
	local   *LocalHost
	group   singleflight.Group
	git     string
}

// NewCloneHost creates a CloneHost storing checkouts under baseDir.
func NewCloneHost(baseDir string, local *LocalHost) *CloneHost {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "repowiki", "clones")
	}
	return &CloneHost{baseDir: baseDir, local: local, git: "git"}
}

// ListFiles lists the files of the (possibly freshly cloned) checkout.
func (h *CloneHost) ListFiles(ctx context.Context, ref *repo.Reference) ([]FileEntry, error) {
	dir, err := h.ensure(ctx, ref)
	if err != nil {
		return nil, err
	}
	return h.local.ListFiles(ctx, ref.Local(dir))
}

// ReadFile reads a file from the checkout.
func (h *CloneHost) ReadFile(ctx context.Context, ref *repo.Reference, path string) ([]byte, error) {
	dir, err := h.ensure(ctx, ref)
	if err != nil {
		return nil, err
	}
	return h.local.ReadFile(ctx, ref.Local(dir), path)
}

// Refresh discards the checkout so the next access clones again.
func (h *CloneHost) Refresh(ctx context.Context, ref *repo.Reference) error {
	dir := h.dirFor(ref)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove clone %s: %w", dir, err)
	}
	return nil
}

func (h *CloneHost) dirFor(ref *repo.Reference) string {
	return filepath.Join(h.baseDir, sanitizeKey(ref.Key()))
}

func (h *CloneHost) ensure(ctx context.Context, ref *repo.Reference) (string, error) {
	dir := h.dirFor(ref)
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return dir, nil
	}

	_, err, _ := h.group.Do(dir, func() (any, error) {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return nil, nil
		}
		return nil, h.clone(ctx, ref, dir)
	})
	if err != nil {
		return "", err
	}
	return dir, nil
}

func (h *CloneHost) clone(ctx context.Context, ref *repo.Reference, dir string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return fmt.Errorf("failed to create clone directory: %w", err)
	}
	tmp := dir + ".partial"
	_ = os.RemoveAll(tmp)

	cloneURL, err := authenticatedURL(ref)
	if err != nil {
		return err
	}

	log.Printf("📥 Cloning %s", ref)
	cmd := exec.CommandContext(ctx, h.git, "clone", "--depth=1", "--single-branch", "--quiet", cloneURL, tmp)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.RemoveAll(tmp)
		return mapGitError(ref, redact(stderr.String(), ref.Token), err)
	}

	if err := os.Rename(tmp, dir); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("failed to finalize clone: %w", err)
	}
	log.Printf("✅ Cloned %s", ref)
	return nil
}

// authenticatedURL embeds the token in the form each provider expects.
func authenticatedURL(ref *repo.Reference) (string, error) {
	u, err := url.Parse(ref.CanonicalURL + ".git")
	if err != nil {
		return "", &engine.NotFoundError{What: ref.CanonicalURL, Err: err}
	}
	if ref.Token == "" {
		return u.String(), nil
	}
	switch ref.HostType {
	case repo.HostGitLab:
		u.User = url.UserPassword("oauth2", ref.Token)
	case repo.HostBitbucket:
		u.User = url.UserPassword("x-token-auth", ref.Token)
	default:
		u.User = url.User(ref.Token)
	}
	return u.String(), nil
}

func mapGitError(ref *repo.Reference, stderr string, err error) error {
	msg := strings.ToLower(stderr)
	cause := fmt.Errorf("git clone failed: %s", strings.TrimSpace(stderr))
	switch {
	case strings.Contains(msg, "authentication failed"),
		strings.Contains(msg, "could not read username"),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "403"):
		return &engine.AccessError{Host: string(ref.HostType), Repo: ref.String(), Err: cause}
	case strings.Contains(msg, "not found"),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "404"):
		if ref.Token == "" {
			// Private repositories are reported as missing to anonymous callers.
			return &engine.NotFoundError{What: ref.String() + " (if private, supply an access token)", Err: cause}
		}
		return &engine.NotFoundError{What: ref.String(), Err: cause}
	}
	return fmt.Errorf("%w: %v", cause, err)
}

func redact(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func sanitizeKey(key string) string {
	return unsafeKeyChars.ReplaceAllString(key, "_")
}
