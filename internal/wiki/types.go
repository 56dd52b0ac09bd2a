// Package wiki synthesizes a navigable documentation wiki from a repository index.
package wiki

import "time"

// RootSectionID is the synthetic section that adopts orphaned pages and sections.
const RootSectionID = "wiki-root"

// Source is a chunk a page cites.
type Source struct {
	Path      string `json:"path" yaml:"path"`
	StartLine int    `json:"startLine" yaml:"start_line"`
	EndLine   int    `json:"endLine" yaml:"end_line"`
}

// Page is one generated topic page.
type Page struct {
	ID             string   `json:"id" yaml:"id"`
	Title          string   `json:"title" yaml:"title"`
	Description    string   `json:"description,omitempty" yaml:"description,omitempty"`
	Importance     string   `json:"importance,omitempty" yaml:"importance,omitempty"`
	FilePaths      []string `json:"filePaths,omitempty" yaml:"file_paths,omitempty"`
	RelatedPageIDs []string `json:"relatedPageIds" yaml:"related_page_ids"`
	Content        string   `json:"content" yaml:"content"`
	Sources        []Source `json:"sources,omitempty" yaml:"sources,omitempty"`
}

// Section groups pages and subsections.
type Section struct {
	ID            string   `json:"id" yaml:"id"`
	Title         string   `json:"title" yaml:"title"`
	PageIDs       []string `json:"pageIds" yaml:"page_ids"`
	SubsectionIDs []string `json:"subsectionIds" yaml:"subsection_ids"`
}

// Structure is a complete wiki. Once returned by the synthesizer it is immutable.
type Structure struct {
	ID           string    `json:"id" yaml:"id"`
	RepoKey      string    `json:"repoKey" yaml:"repo_key"`
	Language     string    `json:"language" yaml:"language"`
	Title        string    `json:"title" yaml:"title"`
	Description  string    `json:"description" yaml:"description"`
	Pages        []Page    `json:"pages" yaml:"pages"`
	Sections     []Section `json:"sections" yaml:"sections"`
	RootSections []string  `json:"rootSections" yaml:"root_sections"`
	GeneratedAt  time.Time `json:"generatedAt" yaml:"generated_at"`
	IndexVersion string    `json:"indexVersion,omitempty" yaml:"index_version,omitempty"`
	// Repairs lists the corrections applied to the model's proposal.
	Repairs []string `json:"repairs,omitempty" yaml:"repairs,omitempty"`
}

// Page returns the page with id.
func (s *Structure) Page(id string) (*Page, bool) {
	for i := range s.Pages {
		if s.Pages[i].ID == id {
			return &s.Pages[i], true
		}
	}
	return nil, false
}

// Section returns the section with id.
func (s *Structure) Section(id string) (*Section, bool) {
	for i := range s.Sections {
		if s.Sections[i].ID == id {
			return &s.Sections[i], true
		}
	}
	return nil, false
}
