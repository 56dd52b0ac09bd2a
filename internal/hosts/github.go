package hosts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
	"github.com/ChamsBouzaiene/repowiki/internal/repo"
)

const githubTimeout = 30 * time.Second

// GitHubOptions configures the GitHub API host.
type GitHubOptions struct {
	BaseURL string  // API root; empty for api.github.com
	Rate    float64 // proactive requests per second; 0 uses the default
	Retry   engine.RetryPolicy
}

// GitHubHost reads repositories through the GitHub REST API (git trees and blobs).
type GitHubHost struct {
	baseURL *url.URL
	limiter *RateLimiter
	retry   engine.RetryPolicy

	mu      sync.Mutex
	clients map[string]*gh.Client // by token; "" is the anonymous client

	trees sync.Map // repo key -> map[path]blob sha
}

// NewGitHubHost creates a GitHub host.
func NewGitHubHost(opts GitHubOptions) (*GitHubHost, error) {
	h := &GitHubHost{
		clients: make(map[string]*gh.Client),
		retry:   opts.Retry,
	}
	if opts.BaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL: %w", err)
		}
		h.baseURL = u
	}
	perSecond := opts.Rate
	if perSecond == 0 {
		perSecond = defaultGitHubRate
	}
	h.limiter = NewRateLimiter(perSecond)
	return h, nil
}

func (h *GitHubHost) client(token string) *gh.Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[token]; ok {
		return c
	}

	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	} else {
		httpClient = &http.Client{}
	}
	httpClient.Timeout = githubTimeout

	c := gh.NewClient(httpClient)
	if h.baseURL != nil {
		c.BaseURL = h.baseURL
	}
	h.clients[token] = c
	return c
}

// ListFiles returns every blob of the default branch.
func (h *GitHubHost) ListFiles(ctx context.Context, ref *repo.Reference) ([]FileEntry, error) {
	c := h.client(ref.Token)

	repository, err := call(ctx, h, ref, "get repository", func(ctx context.Context) (*gh.Repository, *gh.Response, error) {
		return c.Repositories.Get(ctx, ref.Owner, ref.Name)
	})
	if err != nil {
		return nil, err
	}
	branch := repository.GetDefaultBranch()
	if branch == "" {
		branch = "HEAD"
	}

	tree, err := call(ctx, h, ref, "get tree", func(ctx context.Context) (*gh.Tree, *gh.Response, error) {
		return c.Git.GetTree(ctx, ref.Owner, ref.Name, branch, true)
	})
	if err != nil {
		return nil, err
	}
	if tree.GetTruncated() {
		log.Printf("⚠️  GitHub truncated the tree listing for %s; some files will be missing", ref)
	}

	shas := make(map[string]string, len(tree.Entries))
	entries := make([]FileEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		if e.GetType() != "blob" {
			continue
		}
		shas[e.GetPath()] = e.GetSHA()
		entries = append(entries, FileEntry{Path: e.GetPath(), Size: int64(e.GetSize())})
	}
	h.trees.Store(ref.Key(), shas)
	return entries, nil
}

// ReadFile fetches a blob by the SHA seen during ListFiles, or by path otherwise.
func (h *GitHubHost) ReadFile(ctx context.Context, ref *repo.Reference, path string) ([]byte, error) {
	c := h.client(ref.Token)

	if v, ok := h.trees.Load(ref.Key()); ok {
		if sha, ok := v.(map[string]string)[path]; ok {
			blob, err := call(ctx, h, ref, "get blob", func(ctx context.Context) (*gh.Blob, *gh.Response, error) {
				return c.Git.GetBlob(ctx, ref.Owner, ref.Name, sha)
			})
			if err != nil {
				return nil, err
			}
			return decodeBlob(blob)
		}
	}

	content, err := call(ctx, h, ref, "get contents", func(ctx context.Context) (*gh.RepositoryContent, *gh.Response, error) {
		file, _, resp, err := c.Repositories.GetContents(ctx, ref.Owner, ref.Name, path, nil)
		return file, resp, err
	})
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, &engine.NotFoundError{What: path + " is a directory"}
	}
	decoded, err := content.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return []byte(decoded), nil
}

// call runs one API request under the rate limiter and the fetch retry policy.
func call[T any](ctx context.Context, h *GitHubHost, ref *repo.Reference, op string,
	fn func(context.Context) (T, *gh.Response, error)) (T, error) {
	return engine.RetryWithPolicy(ctx, h.retry, func(ctx context.Context) (T, error) {
		var zero T
		if err := h.limiter.Wait(ctx); err != nil {
			return zero, fmt.Errorf("rate limit wait: %w", err)
		}
		v, resp, err := fn(ctx)
		if resp != nil {
			h.limiter.Observe(resp.Response)
		}
		if err != nil {
			return zero, wrapGitHubError(ref, op, err)
		}
		return v, nil
	}, classifyHostError, func(attempt int, delay time.Duration, err error) {
		log.Printf("🔁 GitHub %s for %s failed (attempt %d), retrying in %s: %v", op, ref, attempt, delay, err)
	})
}

func decodeBlob(blob *gh.Blob) ([]byte, error) {
	if blob.GetEncoding() == "base64" {
		content := strings.ReplaceAll(blob.GetContent(), "\n", "")
		return base64.StdEncoding.DecodeString(content)
	}
	return []byte(blob.GetContent()), nil
}

// wrapGitHubError converts go-github errors to the engine taxonomy.
func wrapGitHubError(ref *repo.Reference, op string, err error) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		wait := time.Until(rateErr.Rate.Reset.Time)
		if wait < 0 {
			wait = 0
		}
		return &engine.EngineError{
			Err:         fmt.Errorf("%s: %w", op, err),
			Class:       engine.RetryClassRetryable,
			HTTPStatus:  http.StatusForbidden,
			RetryAfter:  strconv.Itoa(int(wait.Seconds())),
			IsRateLimit: true,
		}
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		retryAfter := ""
		if abuseErr.RetryAfter != nil {
			retryAfter = strconv.Itoa(int(abuseErr.RetryAfter.Seconds()))
		}
		return &engine.EngineError{
			Err:         fmt.Errorf("%s: %w", op, err),
			Class:       engine.RetryClassRetryable,
			RetryAfter:  retryAfter,
			IsRateLimit: true,
		}
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		status := ghErr.Response.StatusCode
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return &engine.AccessError{Host: string(repo.HostGitHub), Repo: ref.String(), Err: err}
		case status == http.StatusNotFound:
			what := ref.String()
			if ref.Token == "" {
				what += " (if private, supply an access token)"
			}
			return &engine.NotFoundError{What: what, Err: err}
		default:
			return engine.WrapProviderError(fmt.Errorf("%s: %w", op, err), status, ghErr.Response.Header.Get("Retry-After"))
		}
	}

	return engine.WrapProviderError(fmt.Errorf("%s: %w", op, err), 0, "")
}
