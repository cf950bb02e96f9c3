// Package match reconciles assignment course codes against an independently
// sourced course catalog.
package match

import (
	"sort"
	"strings"
	"unicode"

	"tmusync/internal/coursecode"
	"tmusync/internal/model"
)

// minPartialLen keeps very short codes from substring-matching half the
// catalog.
const minPartialLen = 3

// Normalize uppercases code and removes hyphens and every whitespace rune,
// so "cps-714", "CPS 714" and "CPS714" compare equal.
func Normalize(code string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, strings.ToUpper(code))
}

type normalizedKey struct {
	norm  string
	entry model.CatalogEntry
}

// Catalog is a read-only lookup built once per matching pass.
type Catalog struct {
	exact      map[string]model.CatalogEntry
	normalized map[string][]model.CatalogEntry
	keys       []normalizedKey // sorted, for partial matching

	// preferred maps a cross-listed catalog key to the component the
	// assignment feed uses for it.
	preferred map[string]string
}

// NewCatalog indexes entries. Cross-listed keys are registered under each
// component too. assignmentCodes feed the display preference map.
func NewCatalog(entries []model.CatalogEntry, assignmentCodes []string) *Catalog {
	c := &Catalog{
		exact:      make(map[string]model.CatalogEntry, len(entries)),
		normalized: make(map[string][]model.CatalogEntry, len(entries)),
		preferred:  make(map[string]string),
	}

	wanted := make(map[string]bool, len(assignmentCodes))
	for _, code := range assignmentCodes {
		wanted[Normalize(code)] = true
	}

	for _, e := range entries {
		e.Key = strings.TrimSpace(e.Key)
		if e.Key == "" {
			continue
		}
		if prev, dup := c.exact[e.Key]; !dup || e.Title > prev.Title {
			c.exact[e.Key] = e
		}

		norms := []string{Normalize(e.Key)}
		components := coursecode.Components(e.Key)
		if len(components) > 1 {
			for _, comp := range components {
				norms = append(norms, Normalize(comp))
			}
			if pick := preferredComponent(components, wanted); pick != "" {
				c.preferred[e.Key] = pick
			}
		}
		for _, n := range norms {
			c.normalized[n] = append(c.normalized[n], e)
			c.keys = append(c.keys, normalizedKey{norm: n, entry: e})
		}
	}

	sort.Slice(c.keys, func(i, j int) bool {
		if c.keys[i].norm != c.keys[j].norm {
			return c.keys[i].norm < c.keys[j].norm
		}
		return c.keys[i].entry.Key < c.keys[j].entry.Key
	})
	return c
}

// preferredComponent picks the component an assignment feed already uses,
// longest first, then alphabetical.
func preferredComponent(components []string, wanted map[string]bool) string {
	best := ""
	for _, comp := range components {
		if !wanted[Normalize(comp)] {
			continue
		}
		if better(comp, best) {
			best = comp
		}
	}
	return best
}

// better orders candidate keys: longer wins, then lexicographically smaller.
func better(a, b string) bool {
	if b == "" {
		return true
	}
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a < b
}

func pickBest(cands []model.CatalogEntry) (model.CatalogEntry, bool) {
	var (
		best  model.CatalogEntry
		found bool
	)
	for _, e := range cands {
		if !found || better(e.Key, best.Key) {
			best = e
			found = true
		}
	}
	return best, found
}

// Match finds the best catalog entry for code: Exact, then Normalized, then
// Partial. Sentinel and empty codes never match.
func (c *Catalog) Match(code string) model.CourseCodeMatch {
	res := model.CourseCodeMatch{AssignmentCourseCode: code, MatchTier: model.TierNone}
	if code == "" || code == model.CodeUnknown || code == model.CodeGeneral {
		return res
	}

	if e, ok := c.exact[code]; ok {
		return c.result(res, e, model.TierExact)
	}

	norm := Normalize(code)
	if e, ok := pickBest(c.normalized[norm]); ok {
		return c.result(res, e, model.TierNormalized)
	}

	if len(norm) < minPartialLen {
		return res
	}
	var partial []model.CatalogEntry
	for _, k := range c.keys {
		if len(k.norm) < minPartialLen {
			continue
		}
		if strings.Contains(k.norm, norm) || strings.Contains(norm, k.norm) {
			partial = append(partial, k.entry)
		}
	}
	if e, ok := pickBest(partial); ok {
		return c.result(res, e, model.TierPartial)
	}
	return res
}

func (c *Catalog) result(res model.CourseCodeMatch, e model.CatalogEntry, tier model.MatchTier) model.CourseCodeMatch {
	// Duplicate keys resolve to the single entry kept in the exact index.
	e = c.exact[e.Key]
	res.MatchedCatalogKey = e.Key
	res.MatchedCatalogTitle = e.Title
	res.MatchTier = tier
	res.DisplayCode = c.displayCode(e, Normalize(res.AssignmentCourseCode))
	return res
}

// displayCode chooses what to show for a matched entry. For cross-listed
// keys: the component equal to the assignment's own code, else the
// preference map, else the raw key.
func (c *Catalog) displayCode(e model.CatalogEntry, norm string) string {
	components := coursecode.Components(e.Key)
	if len(components) < 2 {
		return e.Key
	}
	for _, comp := range components {
		if Normalize(comp) == norm {
			return comp
		}
	}
	if pref, ok := c.preferred[e.Key]; ok {
		return pref
	}
	return e.Key
}

// Enrich returns copies of assignments with their catalog match applied,
// together with the per-assignment match results. Unmatched assignments keep
// their extracted code.
func (c *Catalog) Enrich(assignments []model.Assignment) ([]model.Assignment, []model.CourseCodeMatch) {
	out := make([]model.Assignment, len(assignments))
	matches := make([]model.CourseCodeMatch, len(assignments))
	for i, a := range assignments {
		m := c.Match(a.CourseCode)
		if m.MatchTier != model.TierNone {
			a.MatchedCourseKey = m.DisplayCode
			a.MatchedCourseName = m.MatchedCatalogTitle
			a.IsMatchedToCatalog = true
		}
		out[i] = a
		matches[i] = m
	}
	return out, matches
}

// AssignmentCodes lists the distinct extracted codes of assignments.
func AssignmentCodes(assignments []model.Assignment) []string {
	seen := make(map[string]bool, len(assignments))
	var out []string
	for _, a := range assignments {
		if !seen[a.CourseCode] {
			seen[a.CourseCode] = true
			out = append(out, a.CourseCode)
		}
	}
	sort.Strings(out)
	return out
}
