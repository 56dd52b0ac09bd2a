// Package extractor turns a repository reference into a deterministic, ordered
// sequence of content records.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
	"github.com/ChamsBouzaiene/repowiki/internal/hosts"
	"github.com/ChamsBouzaiene/repowiki/internal/repo"
)

// Skip reasons recorded on ContentRecords that carry no content.
const (
	SkipBinary     = "binary"
	SkipTooLarge   = "too_large"
	SkipUnreadable = "unreadable"
)

// ContentRecord is one included repository file.
type ContentRecord struct {
	Path             string
	Content          string
	SizeBytes        int64
	Language         Language
	IsBinaryExcluded bool
	// SkipReason is set when the file is known to exist but its content is not indexed.
	SkipReason string
}

// Indexable reports whether the record should be chunked.
func (r ContentRecord) Indexable() bool {
	return r.SkipReason == "" && r.Content != ""
}

// Limits bounds an extraction. Zero values disable a limit.
type Limits struct {
	MaxFileBytes  int64 // larger files are recorded but not read
	MaxTotalBytes int64 // aggregate content budget
	MaxFiles      int   // maximum number of records
	Concurrency   int   // parallel file reads; results are still yielded in path order
}

// DefaultLimits returns conservative budgets for one repository.
func DefaultLimits() Limits {
	return Limits{
		MaxFileBytes:  1 << 20,
		MaxTotalBytes: 200 << 20,
		MaxFiles:      20000,
		Concurrency:   8,
	}
}

// Extractor reads repositories through the host registry.
type Extractor struct {
	hosts  *hosts.Registry
	limits Limits
}

// New creates an Extractor.
func New(registry *hosts.Registry, limits Limits) *Extractor {
	if limits.Concurrency <= 0 {
		limits.Concurrency = 1
	}
	return &Extractor{hosts: registry, limits: limits}
}

// Records lazily yields one record per included file in lexicographic path order.
// The sequence ends early with an error on access failures, cancellation, or a
// *engine.SizeLimitError once a budget is exceeded; records yielded before it stay valid.
func (e *Extractor) Records(ctx context.Context, ref *repo.Reference, filters Filters) iter.Seq2[ContentRecord, error] {
	return func(yield func(ContentRecord, error) bool) {
		host, err := e.hosts.For(ref)
		if err != nil {
			yield(ContentRecord{}, err)
			return
		}

		entries, err := host.ListFiles(ctx, ref)
		if err != nil {
			yield(ContentRecord{}, err)
			return
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

		matcher := NewMatcher(filters, e.repoGitignore(ctx, host, ref, entries))
		included := entries[:0:0]
		for _, entry := range entries {
			if matcher.Match(entry.Path) {
				included = append(included, entry)
			}
		}

		var total int64
		count := 0
		window := e.limits.Concurrency
		for start := 0; start < len(included); start += window {
			end := min(start+window, len(included))
			batch, err := e.fetchWindow(ctx, host, ref, included[start:end])
			if err != nil {
				yield(ContentRecord{}, err)
				return
			}

			for _, rec := range batch {
				if e.limits.MaxFiles > 0 && count >= e.limits.MaxFiles {
					yield(ContentRecord{}, &engine.SizeLimitError{
						Limit: "files", Budget: int64(e.limits.MaxFiles), Collected: int64(len(included)), Partial: true,
					})
					return
				}
				if e.limits.MaxTotalBytes > 0 && total+int64(len(rec.Content)) > e.limits.MaxTotalBytes {
					yield(ContentRecord{}, &engine.SizeLimitError{
						Limit: "total_bytes", Budget: e.limits.MaxTotalBytes, Collected: total + int64(len(rec.Content)), Partial: true,
					})
					return
				}
				total += int64(len(rec.Content))
				count++
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}

// fetchWindow reads a window of files concurrently and returns them in input order.
func (e *Extractor) fetchWindow(ctx context.Context, host hosts.Host, ref *repo.Reference, entries []hosts.FileEntry) ([]ContentRecord, error) {
	out := make([]ContentRecord, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range entries {
		g.Go(func() error {
			rec, err := e.readRecord(gctx, host, ref, entry)
			if err != nil {
				return err
			}
			out[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Extractor) readRecord(ctx context.Context, host hosts.Host, ref *repo.Reference, entry hosts.FileEntry) (ContentRecord, error) {
	rec := ContentRecord{Path: entry.Path, SizeBytes: entry.Size, Language: DetectLanguage(entry.Path)}

	if e.limits.MaxFileBytes > 0 && entry.Size > e.limits.MaxFileBytes {
		rec.SkipReason = SkipTooLarge
		return rec, nil
	}

	data, err := host.ReadFile(ctx, ref, entry.Path)
	if err != nil {
		var access *engine.AccessError
		if errors.As(err, &access) || ctx.Err() != nil {
			return rec, err
		}
		log.Printf("⚠️  Skipping unreadable file %s: %v", entry.Path, err)
		rec.SkipReason = SkipUnreadable
		return rec, nil
	}

	rec.SizeBytes = int64(len(data))
	if e.limits.MaxFileBytes > 0 && rec.SizeBytes > e.limits.MaxFileBytes {
		rec.SkipReason = SkipTooLarge
		return rec, nil
	}
	if IsBinary(data) {
		rec.IsBinaryExcluded = true
		rec.SkipReason = SkipBinary
		return rec, nil
	}
	rec.Content = string(data)
	return rec, nil
}

// repoGitignore loads the root .gitignore when the repository has one.
func (e *Extractor) repoGitignore(ctx context.Context, host hosts.Host, ref *repo.Reference, entries []hosts.FileEntry) []string {
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].Path >= ".gitignore" })
	if idx >= len(entries) || entries[idx].Path != ".gitignore" {
		return nil
	}
	data, err := host.ReadFile(ctx, ref, ".gitignore")
	if err != nil {
		return nil
	}
	return parseGitignore(data)
}

// Result is a fully collected extraction.
type Result struct {
	Records   []ContentRecord
	Truncated bool
	Skipped   map[string]string // path -> skip reason
}

// Indexable returns the records that carry chunkable text.
func (r *Result) Indexable() []ContentRecord {
	out := make([]ContentRecord, 0, len(r.Records))
	for _, rec := range r.Records {
		if rec.Indexable() {
			out = append(out, rec)
		}
	}
	return out
}

// Extract collects Records. When a budget is exceeded it returns the partial Result
// together with the *engine.SizeLimitError; callers may continue with the partial result.
func (e *Extractor) Extract(ctx context.Context, ref *repo.Reference, filters Filters) (*Result, error) {
	res := &Result{Skipped: make(map[string]string)}
	for rec, err := range e.Records(ctx, ref, filters) {
		if err != nil {
			var sizeErr *engine.SizeLimitError
			if errors.As(err, &sizeErr) {
				res.Truncated = true
				log.Printf("⚠️  Extraction of %s truncated: %v", ref, err)
				return res, err
			}
			return nil, fmt.Errorf("extract %s: %w", ref, err)
		}
		if rec.SkipReason != "" {
			res.Skipped[rec.Path] = rec.SkipReason
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}
