// Package palette assigns display colours to course codes for one refresh.
package palette

import (
	"sort"

	"tmusync/internal/model"
)

// DefaultColors is the rotation used when no palette is configured.
var DefaultColors = []string{
	"#2563eb", "#dc2626", "#16a34a", "#9333ea", "#ea580c",
	"#0891b2", "#db2777", "#65a30d", "#4f46e5", "#ca8a04",
}

// NeutralColor is used for the UNKNOWN and General buckets.
const NeutralColor = "#6b7280"

// Palette memoizes course colours. It belongs to a single run and is not
// safe for concurrent use.
type Palette struct {
	colors   []string
	assigned map[string]string
}

func New(colors []string) *Palette {
	if len(colors) == 0 {
		colors = DefaultColors
	}
	return &Palette{colors: colors, assigned: make(map[string]string)}
}

// Assign gives every code a colour in sorted order, so the same set of
// courses always gets the same colours.
func (p *Palette) Assign(codes []string) map[string]string {
	sorted := append([]string(nil), codes...)
	sort.Strings(sorted)
	for _, code := range sorted {
		p.ColorFor(code)
	}
	out := make(map[string]string, len(p.assigned))
	for k, v := range p.assigned {
		out[k] = v
	}
	return out
}

// ColorFor returns the memoized colour for code, assigning the next one in
// rotation if code is new.
func (p *Palette) ColorFor(code string) string {
	if code == model.CodeUnknown || code == model.CodeGeneral || code == "" {
		return NeutralColor
	}
	if c, ok := p.assigned[code]; ok {
		return c
	}
	c := p.colors[len(p.assigned)%len(p.colors)]
	p.assigned[code] = c
	return c
}
