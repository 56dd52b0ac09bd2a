package prompts

// PromptVersion represents a version identifier for prompts.
type PromptVersion string

const (
	// PromptV1 is the first version of prompts.
	PromptV1 PromptVersion = "1.0.0"
)

// Prompt ids registered by this package.
const (
	WikiStructureID = "wiki_structure"
	WikiPageID      = "wiki_page"
	RAGAnswerID     = "rag_answer"
	DeepResearchID  = "deep_research"
)

// Prompt represents a versioned prompt with metadata.
type Prompt struct {
	ID          string        // Unique identifier (e.g., "wiki_page", "rag_answer")
	Version     PromptVersion // Version of this prompt
	Content     string        // Template text with {{variable}} placeholders
	Description string        // Human-readable description
	Tags        []string      // Tags for categorization (e.g., ["wiki", "json"])
	Deprecated  bool          // True if this version is deprecated
}

// languageNames maps response locale hints to the name used in prompts.
var languageNames = map[string]string{
	"en":    "English",
	"ja":    "Japanese (日本語)",
	"zh":    "Mandarin Chinese (中文)",
	"zh-tw": "Traditional Chinese (繁體中文)",
	"es":    "Spanish (Español)",
	"kr":    "Korean (한국어)",
	"ko":    "Korean (한국어)",
	"vi":    "Vietnamese (Tiếng Việt)",
	"pt-br": "Brazilian Portuguese (Português Brasileiro)",
	"fr":    "French (Français)",
	"ru":    "Russian (Русский)",
}

// LanguageName returns the prompt name for a locale hint. Unknown hints are passed through;
// an empty hint means English.
func LanguageName(code string) string {
	if code == "" {
		return languageNames["en"]
	}
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}
