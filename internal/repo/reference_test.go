package repo

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
)

func TestParse_Remote(t *testing.T) {
	tests := []struct {
		raw      string
		hostType HostType
		wantKey  string
		wantURL  string
		wantType HostType
	}{
		{"https://github.com/AsyncFuncAI/deepwiki-open", "", "github:asyncfuncai/deepwiki-open", "https://github.com/AsyncFuncAI/deepwiki-open", HostGitHub},
		{"https://github.com/owner/repo.git", "", "github:owner/repo", "https://github.com/owner/repo", HostGitHub},
		{"git@github.com:owner/repo.git", "", "github:owner/repo", "https://github.com/owner/repo", HostGitHub},
		{"owner/repo", HostGitLab, "gitlab:owner/repo", "https://gitlab.com/owner/repo", HostGitLab},
		{"https://gitlab.com/group/sub/project/-/tree/main", "", "gitlab:group/sub/project", "https://gitlab.com/group/sub/project", HostGitLab},
		{"https://bitbucket.org/team/app", "", "bitbucket:team/app", "https://bitbucket.org/team/app", HostBitbucket},
		{"https://git.example.com/org/tool", HostGitea, "gitea:git.example.com/org/tool", "https://git.example.com/org/tool", HostGitea},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			ref, err := Parse(tt.raw, tt.hostType, "secret")
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got := ref.Key(); got != tt.wantKey {
				t.Errorf("Key() = %q, want %q", got, tt.wantKey)
			}
			if ref.CanonicalURL != tt.wantURL {
				t.Errorf("CanonicalURL = %q, want %q", ref.CanonicalURL, tt.wantURL)
			}
			if ref.HostType != tt.wantType {
				t.Errorf("HostType = %q, want %q", ref.HostType, tt.wantType)
			}
		})
	}
}

func TestParse_TokenNotInKeyOrString(t *testing.T) {
	a, _ := Parse("owner/repo", HostGitHub, "token-a")
	b, _ := Parse("owner/repo", HostGitHub, "")
	if a.Key() != b.Key() {
		t.Errorf("keys differ: %q vs %q", a.Key(), b.Key())
	}
	if s := a.String(); s != "https://github.com/owner/repo" {
		t.Errorf("String() leaked or changed: %q", s)
	}
}

func TestParse_Local(t *testing.T) {
	dir := t.TempDir()
	ref, err := Parse(dir, "", "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ref.HostType != HostLocal || !filepath.IsAbs(ref.LocalPath) {
		t.Errorf("unexpected local ref %+v", ref)
	}
	if err := ref.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	missing := filepath.Join(os.TempDir(), "repowiki-does-not-exist-xyz")
	for _, raw := range []string{"", "https://github.com/onlyowner", "owner/repo-but-gitea", missing} {
		hostType := HostType("")
		if raw == "owner/repo-but-gitea" {
			hostType = HostGitea
		}
		if raw == missing {
			hostType = HostLocal
		}
		_, err := Parse(raw, hostType, "")
		var nf *engine.NotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("Parse(%q) err = %v, want NotFoundError", raw, err)
		}
	}
}

func TestRegistry_ResolveSharesReference(t *testing.T) {
	reg := NewRegistry(16)
	a, err := reg.Resolve("https://github.com/o/r", "", "")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := reg.Resolve("git@github.com:o/r.git", "", "")
	if a != b {
		t.Error("expected the same reference instance for the same key")
	}
	c, _ := reg.Resolve("o/r", HostGitHub, "new-token")
	if c == a || c.Token != "new-token" {
		t.Error("expected a fresh reference when the token changes")
	}
}
