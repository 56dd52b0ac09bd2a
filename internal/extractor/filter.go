package extractor

import (
	"path"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultIgnorePatterns are directories and files never worth indexing.
var DefaultIgnorePatterns = []string{
	".git",
	".hg",
	".svn",
	"node_modules",
	"bower_components",
	"jspm_packages",
	"dist",
	"build",
	"vendor",
	"__pycache__",
	".venv",
	"venv",
	"coverage",
	".next",
	".nuxt",
	".cache",
	"target",
	"bin",
	"obj",
	".idea",
	".vscode",
	".DS_Store",
	"*.min.js",
	"*.min.css",
	"*.map",
	"*.lock",
	"package-lock.json",
	"pnpm-lock.yaml",
	"go.sum",
	"*.pyc",
	"*.pyo",
	"*.class",
	"*.o",
	"*.so",
	"*.dll",
	"*.exe",
}

// Filters selects which repository paths become ContentRecords.
// Excluded* always win over Included*. Empty Included* lists include everything.
type Filters struct {
	ExcludedDirs  []string `json:"excluded_dirs,omitempty"`
	ExcludedFiles []string `json:"excluded_files,omitempty"`
	IncludedDirs  []string `json:"included_dirs,omitempty"`
	IncludedFiles []string `json:"included_files,omitempty"`
}

// SplitList parses a comma or newline separated pattern list, dropping blanks.
func SplitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Matcher decides path inclusion for one extraction.
type Matcher struct {
	ignore        *gitignore.GitIgnore
	excludedDirs  []string
	excludedFiles []string
	includedDirs  []string
	includedFiles []string
}

// NewMatcher compiles f together with the default patterns and any repository
// .gitignore lines.
func NewMatcher(f Filters, gitignoreLines []string) *Matcher {
	lines := make([]string, 0, len(DefaultIgnorePatterns)+len(gitignoreLines))
	lines = append(lines, DefaultIgnorePatterns...)
	lines = append(lines, gitignoreLines...)

	return &Matcher{
		ignore:        gitignore.CompileIgnoreLines(lines...),
		excludedDirs:  normalizeDirs(f.ExcludedDirs),
		excludedFiles: normalizeFiles(f.ExcludedFiles),
		includedDirs:  normalizeDirs(f.IncludedDirs),
		includedFiles: normalizeFiles(f.IncludedFiles),
	}
}

// Match reports whether p (slash separated, relative) should be extracted.
func (m *Matcher) Match(p string) bool {
	if m.ignore.MatchesPath(p) {
		return false
	}
	dir := path.Dir(p)
	if dir == "." {
		dir = ""
	}
	for _, d := range m.excludedDirs {
		if dirMatches(dir, d) {
			return false
		}
	}
	for _, pattern := range m.excludedFiles {
		if fileMatches(p, pattern) {
			return false
		}
	}

	if len(m.includedDirs) == 0 && len(m.includedFiles) == 0 {
		return true
	}
	for _, d := range m.includedDirs {
		if dirMatches(dir, d) {
			return true
		}
	}
	for _, pattern := range m.includedFiles {
		if fileMatches(p, pattern) {
			return true
		}
	}
	return false
}

// dirMatches matches a directory pattern against every segment of dir and against
// dir's path prefixes, so "docs" excludes "docs/a" and "pkg/docs/b".
func dirMatches(dir, pattern string) bool {
	if dir == "" {
		return false
	}
	if strings.Contains(pattern, "/") {
		return dir == pattern || strings.HasPrefix(dir+"/", pattern+"/") ||
			strings.Contains("/"+dir+"/", "/"+pattern+"/")
	}
	for _, seg := range strings.Split(dir, "/") {
		if ok, _ := path.Match(pattern, seg); ok {
			return true
		}
	}
	return false
}

func fileMatches(p, pattern string) bool {
	if ok, _ := path.Match(pattern, path.Base(p)); ok {
		return true
	}
	if ok, _ := path.Match(pattern, p); ok {
		return true
	}
	return false
}

func normalizeDirs(dirs []string) []string {
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		d = strings.TrimSpace(d)
		d = strings.TrimPrefix(d, "./")
		d = strings.Trim(d, "/")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

func normalizeFiles(files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		f = strings.TrimPrefix(strings.TrimSpace(f), "./")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// parseGitignore extracts pattern lines from .gitignore content.
func parseGitignore(content []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
