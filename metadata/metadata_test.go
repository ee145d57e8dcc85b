package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jeromekelleher/wormtable/column"
)

func TestSchemaRoundTrip(t *testing.T) {
	cols := []*column.Column{
		mustColumn(t, "pos", "position", column.Unsigned, 4, 1),
		mustColumn(t, "af", "allele frequency", column.Float, 4, column.Variable),
		mustColumn(t, "ref", "reference allele", column.Char, 1, 8),
	}
	path := filepath.Join(t.TempDir(), "table.xml")
	if err := WriteSchema(path, cols); err != nil {
		t.Fatal(err)
	}
	got, err := ReadSchema(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(cols) {
		t.Fatalf("expected %d columns, got %d", len(cols), len(got))
	}
	for i, c := range cols {
		g := got[i]
		if g.Name != c.Name || g.Description != c.Description || g.ElementType != c.ElementType ||
			g.ElementSize != c.ElementSize || g.ElementCount != c.ElementCount {
			t.Fatalf("column %d round trip mismatch: got %+v, want %+v", i, g, c)
		}
	}
}

func TestReadSchemaRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.xml")
	bad := []byte(`<schema version="9.9"><columns></columns></schema>`)
	if err := os.WriteFile(path, bad, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSchema(path); err == nil {
		t.Fatal("expected CorruptMetadata error for unsupported version")
	}
}

func TestIndexMetaRoundTrip(t *testing.T) {
	specs := []KeyColumnSpec{
		{Name: "chrom", BucketWidth: 0},
		{Name: "pos", BucketWidth: 1000},
	}
	path := filepath.Join(t.TempDir(), "index_pos.xml")
	if err := WriteIndexMeta(path, specs); err != nil {
		t.Fatal(err)
	}
	got, err := ReadIndexMeta(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(specs) {
		t.Fatalf("expected %d key columns, got %d", len(specs), len(got))
	}
	for i, s := range specs {
		if got[i].Name != s.Name || got[i].BucketWidth != s.BucketWidth {
			t.Fatalf("key column %d mismatch: got %+v, want %+v", i, got[i], s)
		}
	}
}

func mustColumn(t *testing.T, name, desc string, et column.ElementType, size, count int) *column.Column {
	t.Helper()
	c, err := column.New(name, desc, et, size, count)
	if err != nil {
		t.Fatalf("column.New(%q): %v", name, err)
	}
	return c
}
