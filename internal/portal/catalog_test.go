package portal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tmusync/internal/model"
)

func TestParseRows(t *testing.T) {
	rows := [][]string{
		{"Course", "Title", "Section"},
		{"CP8307/CPS843", "Intro to Computer Vision", "011"},
		{"", "MTH110 - Discrete Math I - F2026", ""},
		{"POL507 - Politics of Cities"},
		{"Lunch", "", ""},
		{"CP8307/CPS843", "", "021"},
	}
	want := []model.CatalogEntry{
		{Key: "CP8307/CPS843", Title: "Intro to Computer Vision"},
		{Key: "MTH110", Title: "Discrete Math I"},
		{Key: "POL507", Title: "Politics of Cities"},
	}
	if diff := cmp.Diff(want, ParseRows(rows)); diff != "" {
		t.Errorf("ParseRows (-want +got):\n%s", diff)
	}
}

func TestMerge(t *testing.T) {
	a := []model.CatalogEntry{{Key: "CPS843"}, {Key: " MTH110 ", Title: "Discrete Math I"}}
	b := []model.CatalogEntry{{Key: "CPS843", Title: "Vision"}, {Key: "MTH110", Title: "Other"}, {Key: ""}}

	want := []model.CatalogEntry{
		{Key: "CPS843", Title: "Vision"},
		{Key: "MTH110", Title: "Discrete Math I"},
	}
	if diff := cmp.Diff(want, Merge(a, b)); diff != "" {
		t.Errorf("Merge (-want +got):\n%s", diff)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := `courses:
  - key: CP8307/CPS843
    title: Intro to Computer Vision
  - key: MTH110
    title: Discrete Math I
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	want := []model.CatalogEntry{
		{Key: "CP8307/CPS843", Title: "Intro to Computer Vision"},
		{Key: "MTH110", Title: "Discrete Math I"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadFile (-want +got):\n%s", diff)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile: want error for missing file")
	}
}

func TestReadTableRequiresURL(t *testing.T) {
	if _, err := ReadTable(t.Context(), TableOptions{}); err == nil {
		t.Fatal("ReadTable: want error for empty URL")
	}
}
