package wiki

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Export formats.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatYAML     = "yaml"
)

// Export renders w in format.
func Export(w *Structure, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case FormatJSON, "":
		return json.MarshalIndent(w, "", "  ")
	case FormatYAML, "yml":
		return yaml.Marshal(w)
	case FormatMarkdown, "md":
		return []byte(Markdown(w)), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q (use json, markdown or yaml)", format)
	}
}

// Markdown renders w as one document: sections become headings in root order and
// each page appears once, under the first section that lists it.
func Markdown(w *Structure) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", w.Title)
	if w.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", w.Description)
	}

	written := make(map[string]bool)
	visited := make(map[string]bool)
	var writeSection func(id string, level int)
	writeSection = func(id string, level int) {
		if visited[id] {
			return
		}
		visited[id] = true
		sec, ok := w.Section(id)
		if !ok {
			return
		}
		fmt.Fprintf(&sb, "%s %s\n\n", strings.Repeat("#", min(level, 6)), sec.Title)
		for _, pid := range sec.PageIDs {
			p, ok := w.Page(pid)
			if !ok {
				continue
			}
			if written[pid] {
				fmt.Fprintf(&sb, "See [%s](#%s).\n\n", p.Title, slug(p.Title))
				continue
			}
			written[pid] = true
			writePage(&sb, w, p, min(level+1, 6))
		}
		for _, child := range sec.SubsectionIDs {
			writeSection(child, level+1)
		}
	}
	for _, id := range w.RootSections {
		writeSection(id, 2)
	}
	return sb.String()
}

func writePage(sb *strings.Builder, w *Structure, p *Page, level int) {
	fmt.Fprintf(sb, "%s %s\n\n", strings.Repeat("#", level), p.Title)
	if p.Content != "" {
		sb.WriteString(strings.TrimSpace(p.Content))
		sb.WriteString("\n\n")
	} else if p.Description != "" {
		fmt.Fprintf(sb, "%s\n\n", p.Description)
	}
	if len(p.RelatedPageIDs) > 0 {
		var links []string
		for _, id := range p.RelatedPageIDs {
			if rel, ok := w.Page(id); ok {
				links = append(links, fmt.Sprintf("[%s](#%s)", rel.Title, slug(rel.Title)))
			}
		}
		if len(links) > 0 {
			fmt.Fprintf(sb, "Related: %s\n\n", strings.Join(links, ", "))
		}
	}
	if len(p.Sources) > 0 {
		sb.WriteString("**Sources**\n\n")
		for _, s := range p.Sources {
			fmt.Fprintf(sb, "- `%s:%d-%d`\n", s.Path, s.StartLine, s.EndLine)
		}
		sb.WriteString("\n")
	}
}
