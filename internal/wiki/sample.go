package wiki

import (
	"sort"
	"strings"

	"github.com/ChamsBouzaiene/repowiki/internal/indexer"
)

// topLevel returns the first path segment, or "." for files at the repository root.
func topLevel(path string) string {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return "."
}

// SampleChunks picks up to n chunks spread across the repository. Files are grouped
// by top-level directory and taken round-robin across groups, evenly spaced within a
// group, so large subtrees cannot crowd out small ones. The first chunk of each chosen
// file represents it. The result is deterministic and in path order.
func SampleChunks(idx *indexer.VectorIndex, n, maxChars int) []indexer.Chunk {
	if n <= 0 {
		return nil
	}
	groups := make(map[string][]string)
	for _, p := range idx.Paths() {
		g := topLevel(p)
		groups[g] = append(groups[g], p)
	}
	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)

	quota := make(map[string]int, len(names))
	remaining := n
	for remaining > 0 {
		progressed := false
		for _, g := range names {
			if remaining == 0 {
				break
			}
			if quota[g] < len(groups[g]) {
				quota[g]++
				remaining--
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	var picked []string
	for _, g := range names {
		picked = append(picked, spread(groups[g], quota[g])...)
	}
	sort.Strings(picked)

	out := make([]indexer.Chunk, 0, len(picked))
	budget := maxChars
	for _, p := range picked {
		chunks := idx.ChunksForPath(p)
		if len(chunks) == 0 {
			continue
		}
		c := chunks[0]
		if maxChars > 0 {
			if budget <= 0 {
				break
			}
			if len(c.Text) > budget {
				c.Text = c.Text[:budget]
			}
			budget -= len(c.Text)
		}
		out = append(out, c)
	}
	return out
}

// spread picks k evenly spaced items from items.
func spread(items []string, k int) []string {
	if k >= len(items) {
		return items
	}
	out := make([]string, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, items[i*len(items)/k])
	}
	return out
}

// readme returns the text of the root README, if indexed.
func readme(idx *indexer.VectorIndex, maxChars int) string {
	for _, p := range idx.Paths() {
		if strings.Contains(p, "/") || !strings.HasPrefix(strings.ToLower(p), "readme") {
			continue
		}
		var sb strings.Builder
		last := 0
		for _, c := range idx.ChunksForPath(p) {
			// Chunks overlap; skip lines already written.
			lines := strings.SplitAfter(c.Text, "\n")
			skip := last - c.StartLine + 1
			if skip < 0 {
				skip = 0
			}
			if skip < len(lines) {
				sb.WriteString(strings.Join(lines[skip:], ""))
			}
			last = c.EndLine
			if sb.Len() >= maxChars {
				break
			}
		}
		text := sb.String()
		if len(text) > maxChars {
			text = text[:maxChars]
		}
		return text
	}
	return ""
}
