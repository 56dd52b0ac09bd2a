package wiki

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/xeipuuv/gojsonschema"
)

// structureSchema is what the structure prompt asks the model to produce.
// Only the fields the repair pass cannot invent are required.
const structureSchema = `{
  "type": "object",
  "required": ["title", "pages"],
  "properties": {
    "title": {"type": "string"},
    "description": {"type": "string"},
    "pages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "id": {"type": "string"},
          "title": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "importance": {"type": "string"},
          "filePaths": {"type": "array", "items": {"type": "string"}},
          "relatedPageIds": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "sections": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "string"},
          "title": {"type": "string"},
          "pageIds": {"type": "array", "items": {"type": "string"}},
          "subsectionIds": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "rootSections": {"type": "array", "items": {"type": "string"}}
  }
}`

var structureSchemaLoader = gojsonschema.NewStringLoader(structureSchema)

// proposal is the model's answer before repair.
type proposal struct {
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Pages        []Page    `json:"pages"`
	Sections     []Section `json:"sections"`
	RootSections []string  `json:"rootSections"`
}

// extractJSON strips prose and Markdown fences around the first JSON object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = strings.TrimSpace(rest)
	}
	if i := strings.IndexByte(s, '{'); i > 0 {
		s = s[i:]
	}
	if j := strings.LastIndexByte(s, '}'); j >= 0 && j < len(s)-1 {
		s = s[:j+1]
	}
	return s
}

// parseProposal turns raw model output into a proposal: fence stripping, JSON repair,
// then schema validation.
func parseProposal(raw string) (*proposal, error) {
	text := extractJSON(raw)
	if !json.Valid([]byte(text)) {
		repaired, err := jsonrepair.JSONRepair(text)
		if err != nil {
			return nil, fmt.Errorf("model output is not repairable JSON: %w", err)
		}
		text = repaired
	}

	result, err := gojsonschema.Validate(structureSchemaLoader, gojsonschema.NewStringLoader(text))
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("structure does not match schema: %s", strings.Join(msgs, "; "))
	}

	var p proposal
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, fmt.Errorf("failed to decode structure: %w", err)
	}
	return &p, nil
}
