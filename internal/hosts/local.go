package hosts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
	"github.com/ChamsBouzaiene/repowiki/internal/repo"
)

// LocalHost serves repositories that already exist on disk.
type LocalHost struct{}

// NewLocalHost creates a LocalHost.
func NewLocalHost() *LocalHost { return &LocalHost{} }

// ListFiles walks the checkout. VCS metadata directories are never listed.
func (h *LocalHost) ListFiles(ctx context.Context, ref *repo.Reference) ([]FileEntry, error) {
	root, err := localRoot(ref)
	if err != nil {
		return nil, err
	}

	var entries []FileEntry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			// Unreadable subtrees are skipped rather than failing the listing.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", ".hg", ".svn":
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		entries = append(entries, FileEntry{Path: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, mapFSError(ref, root, err)
	}
	return entries, nil
}

// ReadFile reads one file relative to the checkout root.
func (h *LocalHost) ReadFile(ctx context.Context, ref *repo.Reference, path string) ([]byte, error) {
	root, err := localRoot(ref)
	if err != nil {
		return nil, err
	}
	full := filepath.Join(root, filepath.FromSlash(path))
	if rel, err := filepath.Rel(root, full); err != nil || strings.HasPrefix(rel, "..") {
		return nil, &engine.NotFoundError{What: fmt.Sprintf("path %q escapes repository root", path)}
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, mapFSError(ref, path, err)
	}
	return data, nil
}

func localRoot(ref *repo.Reference) (string, error) {
	if ref.LocalPath == "" {
		return "", &engine.NotFoundError{What: fmt.Sprintf("%s has no local checkout", ref)}
	}
	return ref.LocalPath, nil
}

func mapFSError(ref *repo.Reference, what string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &engine.NotFoundError{What: what, Err: err}
	case errors.Is(err, fs.ErrPermission):
		return &engine.AccessError{Host: string(ref.HostType), Repo: ref.String(), Err: err}
	default:
		return err
	}
}
