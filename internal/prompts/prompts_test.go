package prompts

import (
	"strings"
	"testing"
)

func TestBuiltinsRegistered(t *testing.T) {
	reg := DefaultRegistry()
	for _, id := range []string{WikiStructureID, WikiPageID, RAGAnswerID, DeepResearchID} {
		if _, err := reg.GetLatest(id); err != nil {
			t.Errorf("prompt %s missing: %v", id, err)
		}
	}
}

func TestBuilder_SubstitutesAndAppendsSections(t *testing.T) {
	b, err := NewLatestBuilder(DefaultRegistry(), RAGAnswerID)
	if err != nil {
		t.Fatal(err)
	}
	out, err := b.SetVariable("repo", "acme/widgets").
		SetVariable("language", LanguageName("ja")).
		AddSection("retrieved_context", "a.go:1-3\nfunc A() {}").
		AddSection("empty", "   ").
		Build()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "acme/widgets") || !strings.Contains(out, "Japanese") {
		t.Errorf("variables not substituted: %s", out)
	}
	if !strings.Contains(out, "<retrieved_context>\na.go:1-3") {
		t.Error("section not appended")
	}
	if strings.Contains(out, "<empty>") {
		t.Error("empty section should be skipped")
	}
}

func TestBuilder_MissingVariable(t *testing.T) {
	b, err := NewPromptBuilder(DefaultRegistry(), WikiPageID, PromptV1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.SetVariable("repo", "x").Build(); err == nil {
		t.Fatal("expected error for unset variables")
	}
}

func TestGetLatest_SkipsDeprecated(t *testing.T) {
	reg := NewPromptRegistry()
	reg.Register(&Prompt{ID: "p", Version: "1.0.0", Content: "one"})
	reg.Register(&Prompt{ID: "p", Version: "2.0.0", Content: "two", Deprecated: true})

	p, err := reg.GetLatest("p")
	if err != nil || p.Content != "one" {
		t.Fatalf("GetLatest = %+v, %v", p, err)
	}
	if v := reg.Versions("p"); len(v) != 2 || v[0] != "1.0.0" {
		t.Errorf("Versions = %v", v)
	}
}

func TestLanguageName(t *testing.T) {
	if LanguageName("") != "English" {
		t.Error("empty hint should mean English")
	}
	if LanguageName("tlh") != "tlh" {
		t.Error("unknown hints pass through")
	}
}
