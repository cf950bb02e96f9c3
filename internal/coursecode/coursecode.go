// Package coursecode derives normalized course codes and names from the
// free-text fields of calendar events and timetable rows.
package coursecode

import (
	"regexp"
	"strings"

	"tmusync/internal/model"
)

var (
	// primaryPattern matches at the start of the text: a code such as
	// CPS843, MTH110A or CP8307/CPS843, optionally followed by a section
	// number like "011", "701E" or "-011".
	primaryPattern = regexp.MustCompile(`^([A-Z]{2,4}\d{2,4}[A-Z]?(?:/[A-Z]{2,4}\d{2,4}[A-Z]?)?(?:(?:\s+|-)\d{3}[A-Z]?)?)\b`)

	// fallbackPattern finds a simpler code anywhere in a title.
	fallbackPattern = regexp.MustCompile(`\b([A-Z]{2,4}\d{3}[A-Z]?)\b`)

	sectionSuffix = regexp.MustCompile(`(?:\s+|-)\d{3}[A-Z]?$`)

	// namePattern reads "- Course Name" with an optional "- F2025" term.
	namePattern = regexp.MustCompile(`^\s*-\s*(.+?)(?:\s+-\s+[A-Z]\d{4})?\s*$`)
)

// Code is the result of an extraction.
type Code struct {
	Code string
	Name string
}

// Found reports whether a real code (not a sentinel) was extracted.
func (c Code) Found() bool {
	return c.Code != model.CodeUnknown && c.Code != model.CodeGeneral && c.Code != ""
}

// Extract returns the course code from preferred (a structured field such
// as the event location) and falls back to title. When nothing matches,
// the code is sentinel.
func Extract(preferred, title, sentinel string) Code {
	if c, ok := parsePrimary(preferred); ok {
		return c
	}
	if c, ok := parsePrimary(title); ok {
		return c
	}
	if m := fallbackPattern.FindStringSubmatch(title); m != nil {
		return Code{Code: strings.ToUpper(m[1])}
	}
	return Code{Code: sentinel}
}

// ForClass extracts a class-session code, using UNKNOWN as the sentinel.
func ForClass(location, title string) Code {
	return Extract(location, title, model.CodeUnknown)
}

// ForAssignment extracts an assignment code, using General as the sentinel.
func ForAssignment(location, title string) Code {
	return Extract(location, title, model.CodeGeneral)
}

func parsePrimary(text string) (Code, bool) {
	text = strings.TrimSpace(text)
	loc := primaryPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return Code{}, false
	}
	matched := text[loc[2]:loc[3]]
	return Code{
		Code: canonical(matched),
		Name: courseName(text[loc[1]:]),
	}, true
}

// canonical prefers the second half of a cross-listed pair, then strips a
// trailing section number.
func canonical(raw string) string {
	code := raw
	if i := strings.LastIndex(code, "/"); i >= 0 {
		code = code[i+1:]
	}
	code = sectionSuffix.ReplaceAllString(code, "")
	return strings.ToUpper(strings.TrimSpace(code))
}

func courseName(rest string) string {
	m := namePattern.FindStringSubmatch(rest)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// Components splits a possibly cross-listed key ("CP8307/CPS843") into its
// individual codes.
func Components(key string) []string {
	parts := strings.Split(key, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CatalogKey reads a catalog key at the start of text, keeping a
// cross-listed pair intact and dropping any section number. name is the
// "- Course Name" that follows, if present.
func CatalogKey(text string) (key, name string, ok bool) {
	text = strings.TrimSpace(text)
	loc := primaryPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", "", false
	}
	key = sectionSuffix.ReplaceAllString(text[loc[2]:loc[3]], "")
	return strings.ToUpper(strings.TrimSpace(key)), courseName(text[loc[1]:]), true
}
