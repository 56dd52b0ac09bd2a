package wiki

import (
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
)

// Repair makes s structurally valid in place and returns what it changed.
// It is deterministic: the same input always yields the same output.
//
// Steps: assign missing ids, rename duplicate ids, drop dangling references,
// remove back edges from the section graph, and adopt every section or page
// that is unreachable from rootSections under the synthetic root section.
// Pages are never dropped.
func Repair(s *Structure) []string {
	r := &repairer{s: s}
	r.assignIDs()
	r.dropDangling()
	r.breakCycles()
	r.adoptOrphans()
	s.Repairs = append(s.Repairs, r.log...)
	return r.log
}

type repairer struct {
	s   *Structure
	log []string
}

func (r *repairer) note(format string, args ...any) {
	r.log = append(r.log, fmt.Sprintf(format, args...))
}

func slug(title string) string {
	var sb strings.Builder
	dash := false
	for _, ch := range strings.ToLower(title) {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
			sb.WriteRune(ch)
			dash = false
		case !dash && sb.Len() > 0:
			sb.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}

// unique returns id, or id-2, id-3, ... whichever is free, and claims it.
func unique(id string, used map[string]bool) string {
	candidate := id
	for n := 2; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d", id, n)
	}
	used[candidate] = true
	return candidate
}

// assignIDs gives every page and section a unique id. Pages and sections share one namespace,
// and the synthetic root id is reserved.
func (r *repairer) assignIDs() {
	used := map[string]bool{RootSectionID: true}
	for i := range r.s.Pages {
		p := &r.s.Pages[i]
		p.ID = strings.TrimSpace(p.ID)
		orig := p.ID
		blank := orig == ""
		if blank {
			orig = "page-" + slug(p.Title)
			if orig == "page-" {
				orig = fmt.Sprintf("page-%d", i+1)
			}
		}
		p.ID = unique(orig, used)
		switch {
		case p.ID != orig:
			r.note("renamed duplicate page id %q to %q", orig, p.ID)
		case blank:
			r.note("assigned id %q to untitled page %d", p.ID, i+1)
		}
	}
	for i := range r.s.Sections {
		sec := &r.s.Sections[i]
		sec.ID = strings.TrimSpace(sec.ID)
		orig := sec.ID
		if orig == "" {
			orig = "section-" + slug(sec.Title)
			if orig == "section-" {
				orig = fmt.Sprintf("section-%d", i+1)
			}
		}
		sec.ID = unique(orig, used)
		if sec.ID != orig {
			r.note("renamed duplicate section id %q to %q", orig, sec.ID)
		}
	}
}

// filter keeps ids accepted by ok, in order, without duplicates.
func filter(ids []string, ok func(string) bool, dropped func(string)) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if seen[id] {
			continue
		}
		if !ok(id) {
			dropped(id)
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (r *repairer) dropDangling() {
	pages := make(map[string]bool, len(r.s.Pages))
	for _, p := range r.s.Pages {
		pages[p.ID] = true
	}
	sections := make(map[string]bool, len(r.s.Sections))
	for _, sec := range r.s.Sections {
		sections[sec.ID] = true
	}

	for i := range r.s.Pages {
		p := &r.s.Pages[i]
		p.RelatedPageIDs = filter(p.RelatedPageIDs,
			func(id string) bool { return pages[id] && id != p.ID },
			func(id string) { r.note("page %s: dropped related page %q", p.ID, id) })
	}
	for i := range r.s.Sections {
		sec := &r.s.Sections[i]
		sec.PageIDs = filter(sec.PageIDs,
			func(id string) bool { return pages[id] },
			func(id string) { r.note("section %s: dropped missing page %q", sec.ID, id) })
		sec.SubsectionIDs = filter(sec.SubsectionIDs,
			func(id string) bool { return sections[id] && id != sec.ID },
			func(id string) { r.note("section %s: dropped subsection %q", sec.ID, id) })
	}
	r.s.RootSections = filter(r.s.RootSections,
		func(id string) bool { return sections[id] },
		func(id string) { r.note("dropped missing root section %q", id) })
}

// breakCycles removes every back edge found by a depth-first walk that starts from
// rootSections and then from the remaining sections in declaration order. A section
// reached by a back edge is already on the walk's path, so it keeps a valid ancestor.
func (r *repairer) breakCycles() {
	index := make(map[string]int, len(r.s.Sections))
	for i, sec := range r.s.Sections {
		index[sec.ID] = i
	}
	const (
		white = iota
		grey
		black
	)
	color := make([]int, len(r.s.Sections))

	var visit func(i int)
	visit = func(i int) {
		color[i] = grey
		sec := &r.s.Sections[i]
		kept := sec.SubsectionIDs[:0]
		for _, child := range sec.SubsectionIDs {
			j := index[child]
			if color[j] == grey {
				r.note("section %s: detached subsection %s to break a cycle", sec.ID, child)
				continue
			}
			kept = append(kept, child)
			if color[j] == white {
				visit(j)
			}
		}
		sec.SubsectionIDs = kept
		color[i] = black
	}

	for _, id := range r.s.RootSections {
		if i := index[id]; color[i] == white {
			visit(i)
		}
	}
	for i := range r.s.Sections {
		if color[i] == white {
			visit(i)
		}
	}
}

func (r *repairer) reachable() (sections, pages map[string]bool) {
	index := make(map[string]int, len(r.s.Sections))
	for i, sec := range r.s.Sections {
		index[sec.ID] = i
	}
	sections = make(map[string]bool)
	pages = make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		if sections[id] {
			return
		}
		sections[id] = true
		sec := r.s.Sections[index[id]]
		for _, p := range sec.PageIDs {
			pages[p] = true
		}
		for _, child := range sec.SubsectionIDs {
			walk(child)
		}
	}
	for _, id := range r.s.RootSections {
		walk(id)
	}
	return sections, pages
}

// adoptOrphans attaches unreachable top-level sections and unreferenced pages to the
// synthetic root. With no sections at all, every page lands under it.
func (r *repairer) adoptOrphans() {
	reachSec, reachPage := r.reachable()

	hasParent := make(map[string]bool)
	for _, sec := range r.s.Sections {
		for _, child := range sec.SubsectionIDs {
			hasParent[child] = true
		}
	}

	root := Section{ID: RootSectionID, Title: "Other Pages"}
	if len(r.s.Sections) == 0 {
		root.Title = "Pages"
	}
	for _, sec := range r.s.Sections {
		if reachSec[sec.ID] || hasParent[sec.ID] {
			continue
		}
		// Acyclic after breakCycles, so every unreachable section descends from one of these.
		root.SubsectionIDs = append(root.SubsectionIDs, sec.ID)
		r.note("attached unreachable section %s to %s", sec.ID, RootSectionID)
	}
	if len(root.SubsectionIDs) > 0 {
		_, reachPage = r.reachableWith(root.SubsectionIDs)
	}

	for _, p := range r.s.Pages {
		if reachPage[p.ID] {
			continue
		}
		root.PageIDs = append(root.PageIDs, p.ID)
		if len(r.s.Sections) > 0 {
			r.note("attached orphan page %s to %s", p.ID, RootSectionID)
		}
	}

	if len(root.PageIDs) == 0 && len(root.SubsectionIDs) == 0 {
		return
	}
	r.s.Sections = append(r.s.Sections, root)
	r.s.RootSections = append(r.s.RootSections, RootSectionID)
}

// reachableWith is reachable with extra roots.
func (r *repairer) reachableWith(extra []string) (map[string]bool, map[string]bool) {
	saved := r.s.RootSections
	r.s.RootSections = append(append([]string(nil), saved...), extra...)
	defer func() { r.s.RootSections = saved }()
	return r.reachable()
}

// Validate checks every structural invariant and reports the first violation as
// *engine.SynthesisError.
func Validate(s *Structure) error {
	fail := func(format string, args ...any) error {
		return &engine.SynthesisError{Violation: fmt.Sprintf(format, args...)}
	}
	if len(s.Pages) == 0 {
		return fail("structure has no pages")
	}

	ids := make(map[string]bool)
	pages := make(map[string]bool)
	for _, p := range s.Pages {
		if p.ID == "" || ids[p.ID] {
			return fail("page id %q is empty or not unique", p.ID)
		}
		ids[p.ID] = true
		pages[p.ID] = true
	}
	index := make(map[string]int)
	for i, sec := range s.Sections {
		if sec.ID == "" || ids[sec.ID] {
			return fail("section id %q is empty or not unique", sec.ID)
		}
		ids[sec.ID] = true
		index[sec.ID] = i
	}

	for _, p := range s.Pages {
		for _, rel := range p.RelatedPageIDs {
			if rel == p.ID {
				return fail("page %s lists itself as related", p.ID)
			}
			if !pages[rel] {
				return fail("page %s references missing related page %q", p.ID, rel)
			}
		}
	}
	for _, sec := range s.Sections {
		for _, id := range sec.PageIDs {
			if !pages[id] {
				return fail("section %s references missing page %q", sec.ID, id)
			}
		}
		for _, id := range sec.SubsectionIDs {
			if _, ok := index[id]; !ok {
				return fail("section %s references missing subsection %q", sec.ID, id)
			}
		}
	}
	for _, id := range s.RootSections {
		if _, ok := index[id]; !ok {
			return fail("root section %q does not exist", id)
		}
	}

	// Cycle check over the graph reachable from rootSections.
	state := make(map[string]int)
	covered := make(map[string]bool)
	var visit func(id string) error
	visit = func(id string) error {
		state[id] = 1
		sec := s.Sections[index[id]]
		for _, p := range sec.PageIDs {
			covered[p] = true
		}
		for _, child := range sec.SubsectionIDs {
			switch state[child] {
			case 1:
				return fail("section cycle through %s -> %s", id, child)
			case 0:
				if err := visit(child); err != nil {
					return err
				}
			}
		}
		state[id] = 2
		return nil
	}
	for _, id := range s.RootSections {
		if state[id] == 0 {
			if err := visit(id); err != nil {
				return err
			}
		}
	}

	for _, p := range s.Pages {
		if !covered[p.ID] {
			return fail("page %s is not reachable from any root section", p.ID)
		}
	}
	return nil
}
