package extractor

import (
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Language represents a programming or markup language.
type Language string

const (
	LangGo         Language = "go"
	LangTypeScript Language = "ts"
	LangJavaScript Language = "js"
	LangPython     Language = "python"
	LangRust       Language = "rust"
	LangJava       Language = "java"
	LangKotlin     Language = "kotlin"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangCSharp     Language = "csharp"
	LangRuby       Language = "ruby"
	LangPHP        Language = "php"
	LangSwift      Language = "swift"
	LangShell      Language = "shell"
	LangSQL        Language = "sql"
	LangMarkdown   Language = "markdown"
	LangJSON       Language = "json"
	LangYAML       Language = "yaml"
	LangTOML       Language = "toml"
	LangHTML       Language = "html"
	LangCSS        Language = "css"
	LangText       Language = "text"
)

var extLanguages = map[string]Language{
	".go":    LangGo,
	".ts":    LangTypeScript,
	".tsx":   LangTypeScript,
	".js":    LangJavaScript,
	".jsx":   LangJavaScript,
	".mjs":   LangJavaScript,
	".py":    LangPython,
	".rs":    LangRust,
	".java":  LangJava,
	".kt":    LangKotlin,
	".c":     LangC,
	".h":     LangC,
	".cpp":   LangCPP,
	".cc":    LangCPP,
	".cxx":   LangCPP,
	".hpp":   LangCPP,
	".cs":    LangCSharp,
	".rb":    LangRuby,
	".php":   LangPHP,
	".swift": LangSwift,
	".sh":    LangShell,
	".bash":  LangShell,
	".sql":   LangSQL,
	".md":    LangMarkdown,
	".mdx":   LangMarkdown,
	".rst":   LangText,
	".txt":   LangText,
	".json":  LangJSON,
	".yaml":  LangYAML,
	".yml":   LangYAML,
	".toml":  LangTOML,
	".html":  LangHTML,
	".htm":   LangHTML,
	".css":   LangCSS,
	".scss":  LangCSS,
}

// DetectLanguage maps a path to a Language by extension. Unknown extensions yield LangText.
func DetectLanguage(p string) Language {
	if lang, ok := extLanguages[strings.ToLower(filepath.Ext(p))]; ok {
		return lang
	}
	return LangText
}

// IsCodeFile reports whether a language is source code rather than prose or config.
func IsCodeFile(p string) bool {
	switch DetectLanguage(p) {
	case LangMarkdown, LangText, LangJSON, LangYAML, LangTOML:
		return false
	}
	return true
}

const sniffLen = 8000

// IsBinary classifies content as binary by sniffing its head: a NUL byte, a non-text
// MIME type, or mostly invalid UTF-8.
func IsBinary(content []byte) bool {
	head := content
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if len(head) == 0 {
		return false
	}
	for _, b := range head {
		if b == 0 {
			return true
		}
	}

	ctype := http.DetectContentType(head)
	if !strings.HasPrefix(ctype, "text/") && !strings.Contains(ctype, "json") &&
		!strings.Contains(ctype, "xml") && ctype != "application/octet-stream" {
		return true
	}

	if utf8.Valid(head) {
		return false
	}
	n := len(head)
	invalid := 0
	for len(head) > 0 {
		r, size := utf8.DecodeRune(head)
		if r == utf8.RuneError && size == 1 {
			invalid++
		}
		head = head[size:]
	}
	return invalid*10 > n
}
