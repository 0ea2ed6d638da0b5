package catalog_test

import (
	"testing"

	"boqmatch/internal/catalog"
)

func TestNewSnapshotIndexesCodes(t *testing.T) {
	snap := catalog.NewSnapshot("v1", 3, []catalog.Code{
		{Code: "B", Name: "second", Section: "masonry"},
		{Code: "A", Name: "first", Section: "foundations"},
		{Code: "B", Name: "duplicate", Section: "masonry"},
		{Code: "C", Name: "third", Section: "foundations"},
	})

	if snap.Len() != 3 {
		t.Fatalf("expected 3 codes, got %d", snap.Len())
	}
	if snap.Codes()[0].Code != "A" || snap.Codes()[2].Code != "C" {
		t.Fatalf("expected codes sorted, got %+v", snap.Codes())
	}
	code, ok := snap.Lookup("B")
	if !ok || code.Name != "second" || code.VersionID != "v1" {
		t.Fatalf("unexpected lookup result %+v", code)
	}
	if snap.Contains("Z") {
		t.Fatal("unexpected code Z")
	}
	if got := snap.Sections(); len(got) != 2 || got[0] != "foundations" {
		t.Fatalf("unexpected sections %v", got)
	}

	inFoundations := snap.InSections("foundations", "unknown", "foundations")
	if len(inFoundations) != 2 {
		t.Fatalf("expected 2 foundation codes, got %d", len(inFoundations))
	}
}
