// Package portal gathers the course catalog the matcher reconciles against:
// inline config entries, a YAML catalog file, and the rendered timetable
// table of the student portal.
package portal

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"tmusync/internal/coursecode"
	"tmusync/internal/model"
)

// catalogFile is the on-disk catalog layout:
//
//	courses:
//	  - key: CP8307/CPS843
//	    title: Intro to Computer Vision
type catalogFile struct {
	Courses []model.CatalogEntry `yaml:"courses"`
}

// LoadFile reads a YAML catalog file.
func LoadFile(path string) ([]model.CatalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return Merge(f.Courses), nil
}

// ParseRows turns timetable table rows into catalog entries. The first cell
// that starts with a course code supplies the key; the title is the name
// trailing the code in that cell, or else the next non-empty cell.
func ParseRows(rows [][]string) []model.CatalogEntry {
	var out []model.CatalogEntry
	for _, row := range rows {
		for i, cell := range row {
			key, name, ok := coursecode.CatalogKey(cell)
			if !ok {
				continue
			}
			if name == "" {
				name = nextText(row[i+1:])
			}
			out = append(out, model.CatalogEntry{Key: key, Title: name})
			break
		}
	}
	return Merge(out)
}

func nextText(cells []string) string {
	for _, c := range cells {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}

// Merge combines catalog sources: one entry per key, the first non-empty
// title winning, sorted by key.
func Merge(sources ...[]model.CatalogEntry) []model.CatalogEntry {
	byKey := make(map[string]model.CatalogEntry)
	var order []string
	for _, src := range sources {
		for _, e := range src {
			e.Key = strings.TrimSpace(e.Key)
			e.Title = strings.TrimSpace(e.Title)
			if e.Key == "" {
				continue
			}
			prev, ok := byKey[e.Key]
			if !ok {
				order = append(order, e.Key)
				byKey[e.Key] = e
				continue
			}
			if prev.Title == "" {
				byKey[e.Key] = e
			}
		}
	}
	sort.Strings(order)
	out := make([]model.CatalogEntry, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}
