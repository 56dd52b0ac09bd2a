package prompts

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// PromptBuilder fills a registered prompt's {{name}} placeholders and appends
// extra fragments after it.
type PromptBuilder struct {
	base      *Prompt
	fragments []string
	vars      map[string]string
}

// NewPromptBuilder starts from an exact prompt version.
func NewPromptBuilder(registry *PromptRegistry, id string, version PromptVersion) (*PromptBuilder, error) {
	p, err := registry.Get(id, version)
	if err != nil {
		return nil, fmt.Errorf("failed to get base prompt: %w", err)
	}
	return &PromptBuilder{base: p, vars: map[string]string{}}, nil
}

// NewLatestBuilder starts from the latest usable version of a prompt.
func NewLatestBuilder(registry *PromptRegistry, id string) (*PromptBuilder, error) {
	p, err := registry.GetLatest(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get base prompt: %w", err)
	}
	return &PromptBuilder{base: p, vars: map[string]string{}}, nil
}

// AddFragment appends text verbatim.
func (b *PromptBuilder) AddFragment(text string) *PromptBuilder {
	if text != "" {
		b.fragments = append(b.fragments, text)
	}
	return b
}

// AddSection appends body wrapped in <tag> ... </tag>. Blank bodies are skipped.
func (b *PromptBuilder) AddSection(tag, body string) *PromptBuilder {
	if strings.TrimSpace(body) == "" {
		return b
	}
	return b.AddFragment("<" + tag + ">\n" + strings.TrimRight(body, "\n") + "\n</" + tag + ">")
}

// SetVariable sets the value substituted for {{key}}.
func (b *PromptBuilder) SetVariable(key, value string) *PromptBuilder {
	b.vars[key] = value
	return b
}

// Build renders the prompt. Every placeholder of the base prompt must be set;
// fragments are appended after substitution so their text is never expanded.
func (b *PromptBuilder) Build() (string, error) {
	var missing []string
	body := placeholderRe.ReplaceAllStringFunc(b.base.Content, func(m string) string {
		name := m[2 : len(m)-2]
		v, ok := b.vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("prompt %s: variable %q not set", b.base.ID, missing[0])
	}
	return strings.Join(append([]string{body}, b.fragments...), "\n\n"), nil
}
