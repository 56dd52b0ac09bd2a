package wiki

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
)

func page(id string, related ...string) Page {
	return Page{ID: id, Title: "Title " + id, RelatedPageIDs: related}
}

func section(id string, pages []string, subs ...string) Section {
	return Section{ID: id, Title: "Section " + id, PageIDs: pages, SubsectionIDs: subs}
}

func TestRepair_DanglingReferences(t *testing.T) {
	w := &Structure{
		Pages:        []Page{page("a", "b", "a", "ghost"), page("b")},
		Sections:     []Section{section("s1", []string{"a", "missing", "a"}, "nope", "s1"), section("s2", []string{"b"})},
		RootSections: []string{"s1", "s2", "absent"},
	}
	Repair(w)
	if err := Validate(w); err != nil {
		t.Fatalf("repaired structure invalid: %v", err)
	}
	if got := w.Pages[0].RelatedPageIDs; !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("related = %v", got)
	}
	s1, _ := w.Section("s1")
	if !reflect.DeepEqual(s1.PageIDs, []string{"a"}) || len(s1.SubsectionIDs) != 0 {
		t.Errorf("s1 = %+v", s1)
	}
	if !reflect.DeepEqual(w.RootSections, []string{"s1", "s2"}) {
		t.Errorf("roots = %v", w.RootSections)
	}
	if len(w.Repairs) == 0 {
		t.Error("repairs should be recorded")
	}
}

func TestRepair_DuplicateIDsAreRenamed(t *testing.T) {
	w := &Structure{
		Pages:        []Page{page("intro"), page("intro"), {Title: "No Id Here"}},
		Sections:     []Section{section("intro", []string{"intro"})},
		RootSections: []string{"intro"},
	}
	Repair(w)
	ids := []string{w.Pages[0].ID, w.Pages[1].ID, w.Pages[2].ID, w.Sections[0].ID}
	want := []string{"intro", "intro-2", "page-no-id-here", "intro-3"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
	if err := Validate(w); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(w.Pages) != 3 {
		t.Error("no page may be dropped")
	}
}

func TestRepair_BreaksCycles(t *testing.T) {
	w := &Structure{
		Pages: []Page{page("p1"), page("p2"), page("p3")},
		Sections: []Section{
			section("a", []string{"p1"}, "b"),
			section("b", []string{"p2"}, "c"),
			section("c", []string{"p3"}, "a"),
		},
		RootSections: []string{"a"},
	}
	Repair(w)
	if err := Validate(w); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	c, _ := w.Section("c")
	if len(c.SubsectionIDs) != 0 {
		t.Errorf("back edge c->a should be detached, got %v", c.SubsectionIDs)
	}
	b, _ := w.Section("b")
	if !reflect.DeepEqual(b.SubsectionIDs, []string{"c"}) {
		t.Errorf("tree edges must survive, got %v", b.SubsectionIDs)
	}
}

func TestRepair_UnreachableCycleIsAdopted(t *testing.T) {
	w := &Structure{
		Pages: []Page{page("p1"), page("p2"), page("p3")},
		Sections: []Section{
			section("root", []string{"p1"}),
			section("x", []string{"p2"}, "y"),
			section("y", []string{"p3"}, "x"),
		},
		RootSections: []string{"root"},
	}
	Repair(w)
	if err := Validate(w); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	root, ok := w.Section(RootSectionID)
	if !ok {
		t.Fatal("synthetic root missing")
	}
	if !reflect.DeepEqual(root.SubsectionIDs, []string{"x"}) {
		t.Errorf("synthetic root should adopt x, got %v", root.SubsectionIDs)
	}
	if len(root.PageIDs) != 0 {
		t.Errorf("no page is orphaned once x is adopted, got %v", root.PageIDs)
	}
	if w.RootSections[len(w.RootSections)-1] != RootSectionID {
		t.Errorf("roots = %v", w.RootSections)
	}
}

func TestRepair_OrphanPagesKept(t *testing.T) {
	w := &Structure{
		Pages:        []Page{page("p1"), page("lonely")},
		Sections:     []Section{section("s", []string{"p1"})},
		RootSections: []string{"s"},
	}
	Repair(w)
	root, ok := w.Section(RootSectionID)
	if !ok || !reflect.DeepEqual(root.PageIDs, []string{"lonely"}) {
		t.Fatalf("orphan page must be attached to the synthetic root, got %+v", root)
	}
	if err := Validate(w); err != nil {
		t.Fatal(err)
	}
}

func TestRepair_NoSections(t *testing.T) {
	w := &Structure{Pages: []Page{page("a"), page("b")}}
	Repair(w)
	if err := Validate(w); err != nil {
		t.Fatal(err)
	}
	if len(w.Sections) != 1 || w.Sections[0].Title != "Pages" {
		t.Errorf("sections = %+v", w.Sections)
	}
}

func TestRepair_Deterministic(t *testing.T) {
	build := func() *Structure {
		return &Structure{
			Pages:        []Page{page("p"), page("p"), page("q", "p", "zzz")},
			Sections:     []Section{section("s", []string{"q"}, "t"), section("t", nil, "s"), section("u", []string{"p"})},
			RootSections: []string{"t"},
		}
	}
	a, b := build(), build()
	Repair(a)
	Repair(b)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("repair is not deterministic:\n%+v\n%+v", a, b)
	}
}

func TestValidate_ReportsViolation(t *testing.T) {
	w := &Structure{
		Pages:        []Page{page("a", "a")},
		Sections:     []Section{section("s", []string{"a"})},
		RootSections: []string{"s"},
	}
	err := Validate(w)
	var synth *engine.SynthesisError
	if !errors.As(err, &synth) {
		t.Fatalf("expected SynthesisError, got %v", err)
	}

	if err := Validate(&Structure{}); err == nil {
		t.Error("an empty structure is invalid")
	}
}
