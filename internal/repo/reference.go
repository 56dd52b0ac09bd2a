// Package repo models repository references and their normalized cache keys.
package repo

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
)

// HostType identifies the hosting provider of a repository.
type HostType string

const (
	HostGitHub    HostType = "github"
	HostGitLab    HostType = "gitlab"
	HostBitbucket HostType = "bitbucket"
	HostGitea     HostType = "gitea"
	HostLocal     HostType = "local"
)

var defaultHosts = map[HostType]string{
	HostGitHub:    "github.com",
	HostGitLab:    "gitlab.com",
	HostBitbucket: "bitbucket.org",
}

// ParseHostType maps a user supplied host name to a HostType. Empty input yields "".
func ParseHostType(s string) (HostType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "github", "github.com":
		return HostGitHub, nil
	case "gitlab", "gitlab.com":
		return HostGitLab, nil
	case "bitbucket", "bitbucket.org":
		return HostBitbucket, nil
	case "gitea":
		return HostGitea, nil
	case "local", "file":
		return HostLocal, nil
	default:
		return "", fmt.Errorf("unknown repository type %q", s)
	}
}

// Reference identifies one repository. It is immutable once returned by Parse.
type Reference struct {
	Owner        string   `json:"owner,omitempty"`
	Name         string   `json:"name"`
	HostType     HostType `json:"host_type"`
	Host         string   `json:"host,omitempty"` // hostname for remote repositories
	Token        string   `json:"-"`
	LocalPath    string   `json:"local_path,omitempty"`
	CanonicalURL string   `json:"canonical_url,omitempty"`
}

// Parse builds a Reference from a URL, a shorthand "owner/name", or a local path.
// hostType may be empty, in which case it is inferred from the URL.
func Parse(raw string, hostType HostType, token string) (*Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &engine.NotFoundError{What: "empty repository reference"}
	}

	if hostType == HostLocal || strings.HasPrefix(raw, "file://") || isLocalPath(raw) {
		return parseLocal(strings.TrimPrefix(raw, "file://"))
	}

	var host, path string
	switch {
	case strings.HasPrefix(raw, "git@"):
		// git@host:owner/name.git
		rest := strings.TrimPrefix(raw, "git@")
		h, p, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, &engine.NotFoundError{What: fmt.Sprintf("repository reference %q", raw)}
		}
		host, path = h, p
	case strings.Contains(raw, "://"):
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, &engine.NotFoundError{What: fmt.Sprintf("repository reference %q", raw), Err: err}
		}
		host, path = u.Host, u.Path
	default:
		if hostType == "" {
			hostType = HostGitHub
		}
		h, ok := defaultHosts[hostType]
		if !ok {
			return nil, &engine.NotFoundError{What: fmt.Sprintf("%s shorthand %q needs a full URL", hostType, raw)}
		}
		host, path = h, raw
	}

	if hostType == "" {
		hostType = inferHostType(host)
	}

	owner, name := splitOwnerName(hostType, path)
	if owner == "" || name == "" {
		return nil, &engine.NotFoundError{What: fmt.Sprintf("repository reference %q (expected owner/name)", raw)}
	}

	ref := &Reference{
		Owner:        owner,
		Name:         name,
		HostType:     hostType,
		Host:         strings.ToLower(host),
		Token:        token,
		CanonicalURL: fmt.Sprintf("https://%s/%s/%s", strings.ToLower(host), owner, name),
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return ref, nil
}

func parseLocal(path string) (*Reference, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &engine.NotFoundError{What: path, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, &engine.NotFoundError{What: abs, Err: err}
	}
	if !info.IsDir() {
		return nil, &engine.NotFoundError{What: abs + " is not a directory"}
	}
	return &Reference{
		Name:      filepath.Base(abs),
		HostType:  HostLocal,
		LocalPath: abs,
	}, nil
}

// Local returns a reference to an already-materialized checkout of a remote repository.
// The remote identity (and so the cache key) is preserved.
func (r *Reference) Local(path string) *Reference {
	cp := *r
	cp.LocalPath = path
	return &cp
}

// Validate enforces that a reference is either remote with a derivable URL or local with a path.
func (r *Reference) Validate() error {
	switch r.HostType {
	case HostLocal:
		if r.LocalPath == "" || !filepath.IsAbs(r.LocalPath) {
			return &engine.NotFoundError{What: "local repository requires an absolute path"}
		}
	case HostGitHub, HostGitLab, HostBitbucket, HostGitea:
		if r.Owner == "" || r.Name == "" || r.CanonicalURL == "" {
			return &engine.NotFoundError{What: fmt.Sprintf("%s repository requires owner and name", r.HostType)}
		}
	default:
		return &engine.NotFoundError{What: fmt.Sprintf("unsupported host type %q", r.HostType)}
	}
	return nil
}

// Key is the normalized cache key. Tokens never take part in it.
func (r *Reference) Key() string {
	if r.HostType == HostLocal {
		sum := sha256.Sum256([]byte(filepath.Clean(r.LocalPath)))
		return fmt.Sprintf("local:%s-%s", strings.ToLower(r.Name), hex.EncodeToString(sum[:])[:12])
	}
	if def, ok := defaultHosts[r.HostType]; ok && def == r.Host {
		return strings.ToLower(fmt.Sprintf("%s:%s/%s", r.HostType, r.Owner, r.Name))
	}
	return strings.ToLower(fmt.Sprintf("%s:%s/%s/%s", r.HostType, r.Host, r.Owner, r.Name))
}

// String renders the reference without its token.
func (r *Reference) String() string {
	if r.HostType == HostLocal {
		return r.LocalPath
	}
	return r.CanonicalURL
}

// IsRemote reports whether content must be fetched from a host.
func (r *Reference) IsRemote() bool {
	return r.HostType != HostLocal
}

func isLocalPath(raw string) bool {
	if strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "./") || strings.HasPrefix(raw, "../") || raw == "." {
		return true
	}
	if strings.Contains(raw, "://") || strings.HasPrefix(raw, "git@") {
		return false
	}
	info, err := os.Stat(raw)
	return err == nil && info.IsDir()
}

func inferHostType(host string) HostType {
	h := strings.ToLower(host)
	switch {
	case strings.Contains(h, "github"):
		return HostGitHub
	case strings.Contains(h, "gitlab"):
		return HostGitLab
	case strings.Contains(h, "bitbucket"):
		return HostBitbucket
	default:
		return HostGitea
	}
}

// splitOwnerName extracts owner and repository name from a URL path.
// GitLab allows nested groups, so everything before the last segment is the owner there.
func splitOwnerName(hostType HostType, path string) (string, string) {
	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".git")
	if i := strings.Index(path, "/-/"); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(path, "/")
	if len(segments) < 2 {
		return "", ""
	}
	if hostType == HostGitLab {
		return strings.Join(segments[:len(segments)-1], "/"), segments[len(segments)-1]
	}
	name := strings.TrimSuffix(segments[1], ".git")
	return segments[0], name
}
