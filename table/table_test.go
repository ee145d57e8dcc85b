package table

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jeromekelleher/wormtable/column"
	"github.com/jeromekelleher/wormtable/index"
	"github.com/jeromekelleher/wormtable/internal/werr"
	"github.com/jeromekelleher/wormtable/key"
	"github.com/jeromekelleher/wormtable/row"
)

// sampleTable builds and seals a small mixed-type table: columns
// [row_id:uint(8,1), u:uint(2,1), i:int(2,1), f:float(8,1), c:char(3)],
// two rows.
func sampleTable(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	b := NewBuilder()
	if err := b.AddColumn("u", "", column.Unsigned, 2, 1); err != nil {
		t.Fatalf("AddColumn u: %v", err)
	}
	if err := b.AddColumn("i", "", column.Signed, 2, 1); err != nil {
		t.Fatalf("AddColumn i: %v", err)
	}
	if err := b.AddColumn("f", "", column.Float, 8, 1); err != nil {
		t.Fatalf("AddColumn f: %v", err)
	}
	if err := b.AddColumn("c", "", column.Char, 1, 3); err != nil {
		t.Fatalf("AddColumn c: %v", err)
	}
	tb, err := Create(dir, b.Columns())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rows := []struct {
		u uint64
		i int64
		f float64
		c string
	}{
		{3, -2, 0.5, "abc"},
		{10, 7, 1.5, "xyz"},
	}
	for _, r := range rows {
		cells := []row.Cell{
			{Unsigned: []uint64{0}}, // row-id column is assigned by the writer, not the caller
			{Unsigned: []uint64{r.u}},
			{Signed: []int64{r.i}},
			{Float: []float64{r.f}},
			{Char: []byte(r.c)},
		}
		if _, err := tb.Append(cells); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := tb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return dir
}

func TestCreateAppendReopenGetRow(t *testing.T) {
	dir := sampleTable(t)

	tb, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tb.Close()

	if tb.NumRows() != 2 {
		t.Fatalf("NumRows() = %d, want 2", tb.NumRows())
	}

	r0, err := tb.GetRow(0)
	if err != nil {
		t.Fatalf("GetRow(0): %v", err)
	}
	if r0[0].Unsigned[0] != 0 {
		t.Fatalf("row 0 row_id = %d, want 0", r0[0].Unsigned[0])
	}
	if r0[1].Unsigned[0] != 3 || r0[2].Signed[0] != -2 || r0[3].Float[0] != 0.5 || string(r0[4].Char) != "abc" {
		t.Fatalf("row 0 mismatch: %+v", r0)
	}

	r1, err := tb.GetRow(1)
	if err != nil {
		t.Fatalf("GetRow(1): %v", err)
	}
	if r1[0].Unsigned[0] != 1 {
		t.Fatalf("row 1 row_id = %d, want 1", r1[0].Unsigned[0])
	}
	if r1[1].Unsigned[0] != 10 || r1[2].Signed[0] != 7 || r1[3].Float[0] != 1.5 || string(r1[4].Char) != "xyz" {
		t.Fatalf("row 1 mismatch: %+v", r1)
	}

	if _, err := tb.GetRow(2); !werr.Is(err, werr.OutOfRange) {
		t.Fatalf("GetRow(2): expected OutOfRange, got %v", err)
	}

	// row_id(8) + u(2) + i(2) + f(8) + c(3), all fixed-count.
	if got := tb.FixedRegionSize(); got != 23 {
		t.Fatalf("FixedRegionSize() = %d, want 23", got)
	}
}

func TestSingleColumnIndex(t *testing.T) {
	dir := sampleTable(t)
	tb, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tb.Close()

	ix, err := tb.BuildIndex("u", []IndexColumnSpec{{Name: "u"}}, index.BuildOptions{})
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	defer ix.Close()

	it, err := ix.DistinctKeysIterator()
	if err != nil {
		t.Fatalf("DistinctKeysIterator: %v", err)
	}
	var values []uint64
	for it.Next() {
		values = append(values, it.Key()[0].Unsigned)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration error: %v", err)
	}
	if len(values) != 2 || values[0] != 3 || values[1] != 10 {
		t.Fatalf("distinct keys = %v, want [3 10]", values)
	}

	n, err := ix.NumRows([]key.Element{{Unsigned: 3}})
	if err != nil {
		t.Fatalf("NumRows: %v", err)
	}
	if n != 1 {
		t.Fatalf("NumRows((3,)) = %d, want 1", n)
	}

	min, err := ix.GetMin(nil)
	if err != nil {
		t.Fatalf("GetMin: %v", err)
	}
	if min[0].Unsigned != 3 {
		t.Fatalf("GetMin() = %d, want 3", min[0].Unsigned)
	}
	max, err := ix.GetMax(nil)
	if err != nil {
		t.Fatalf("GetMax: %v", err)
	}
	if max[0].Unsigned != 10 {
		t.Fatalf("GetMax() = %d, want 10", max[0].Unsigned)
	}

	rit, err := ix.RowIterator(nil, []key.Element{{Unsigned: 3}}, []key.Element{{Unsigned: 10}})
	if err != nil {
		t.Fatalf("RowIterator: %v", err)
	}
	var rowIDs []uint64
	for rit.Next() {
		rowIDs = append(rowIDs, rit.RowID())
	}
	if err := rit.Err(); err != nil {
		t.Fatalf("RowIterator iteration error: %v", err)
	}
	if len(rowIDs) != 1 || rowIDs[0] != 0 {
		t.Fatalf("RowIterator row-ids = %v, want [0]", rowIDs)
	}
}

func TestTwoColumnIndexOrdersByFirstColumn(t *testing.T) {
	dir := sampleTable(t)
	tb, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tb.Close()

	ix, err := tb.BuildIndex("i_u", []IndexColumnSpec{{Name: "i"}, {Name: "u"}}, index.BuildOptions{})
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	defer ix.Close()

	rit, err := ix.RowIterator(nil, nil, nil)
	if err != nil {
		t.Fatalf("RowIterator: %v", err)
	}
	var rowIDs []uint64
	for rit.Next() {
		rowIDs = append(rowIDs, rit.RowID())
	}
	if err := rit.Err(); err != nil {
		t.Fatalf("iteration error: %v", err)
	}
	if len(rowIDs) != 2 || rowIDs[0] != 0 || rowIDs[1] != 1 {
		t.Fatalf("row-ids = %v, want [0 1] (i=-2 sorts before i=7)", rowIDs)
	}
}

func TestCountMismatchLeavesTableUnchanged(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder()
	if err := b.AddColumn("v", "", column.Signed, 2, 3); err != nil {
		t.Fatalf("AddColumn: %v", err)
	}
	tb, err := Create(dir, b.Columns())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := tb.Append([]row.Cell{{Unsigned: []uint64{0}}, {Signed: []int64{1, 2}}}); !werr.Is(err, werr.CountMismatch) {
		t.Fatalf("expected CountMismatch, got %v", err)
	}
	if tb.NumRows() != 0 {
		t.Fatalf("NumRows() = %d, want 0 after failed append", tb.NumRows())
	}
	if err := tb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCharColumnIndexDuplicateKeys(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder()
	if err := b.AddColumn("c", "", column.Char, 1, 3); err != nil {
		t.Fatalf("AddColumn: %v", err)
	}
	tb, err := Create(dir, b.Columns())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, v := range []string{"abc", "abd", "abc"} {
		if _, err := tb.Append([]row.Cell{{Unsigned: []uint64{0}}, {Char: []byte(v)}}); err != nil {
			t.Fatalf("Append(%q): %v", v, err)
		}
	}
	if err := tb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rt, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rt.Close()

	ix, err := rt.BuildIndex("c", []IndexColumnSpec{{Name: "c"}}, index.BuildOptions{})
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	defer ix.Close()

	n, err := ix.NumRows([]key.Element{{Char: []byte("abc")}})
	if err != nil {
		t.Fatalf("NumRows: %v", err)
	}
	if n != 2 {
		t.Fatalf("NumRows((abc,)) = %d, want 2", n)
	}

	it, err := ix.DistinctKeysIterator()
	if err != nil {
		t.Fatalf("DistinctKeysIterator: %v", err)
	}
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()[0].Char))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration error: %v", err)
	}
	if len(keys) != 2 || keys[0] != "abc" || keys[1] != "abd" {
		t.Fatalf("distinct keys = %v, want [abc abd]", keys)
	}

	min, err := ix.GetMin(nil)
	if err != nil {
		t.Fatalf("GetMin: %v", err)
	}
	if string(min[0].Char) != "abc" {
		t.Fatalf("GetMin() = %q, want abc", min[0].Char)
	}
	max, err := ix.GetMax(nil)
	if err != nil {
		t.Fatalf("GetMax: %v", err)
	}
	if string(max[0].Char) != "abd" {
		t.Fatalf("GetMax() = %q, want abd", max[0].Char)
	}
}

func TestGetRowDetectsCorruptedDataFile(t *testing.T) {
	dir := sampleTable(t)

	dataPath := filepath.Join(dir, "table.db.dat")
	data, err := os.ReadFile(dataPath)
	if err != nil {
		t.Fatalf("read data file: %v", err)
	}
	// flip a byte inside the first row's payload, past its frame header.
	data[10] ^= 0xFF
	if err := os.WriteFile(dataPath, data, 0o644); err != nil {
		t.Fatalf("write data file: %v", err)
	}

	tb, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tb.Close()
	if _, err := tb.GetRow(0); !werr.Is(err, werr.CorruptMetadata) {
		t.Fatalf("expected CorruptMetadata for a corrupted row, got %v", err)
	}
}

func TestOpenReadMissingTableFailsNotFound(t *testing.T) {
	if _, err := Open(t.TempDir()); !werr.Is(err, werr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRowIteratorFailsAfterTableClosed(t *testing.T) {
	dir := sampleTable(t)
	tb, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	it, err := tb.RowIterator(nil, 0, 0)
	if err != nil {
		t.Fatalf("RowIterator: %v", err)
	}
	if err := tb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if it.Next() {
		t.Fatal("expected Next to fail after the table closed")
	}
	if !werr.Is(it.Err(), werr.OperationOnClosed) {
		t.Fatalf("expected OperationOnClosed, got %v", it.Err())
	}
}

func TestIndexRowIteratorFailsAfterIndexClosed(t *testing.T) {
	dir := sampleTable(t)
	tb, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tb.Close()

	ix, err := tb.BuildIndex("u", []IndexColumnSpec{{Name: "u"}}, index.BuildOptions{})
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}

	rit, err := ix.RowIterator(nil, nil, nil)
	if err != nil {
		t.Fatalf("RowIterator: %v", err)
	}
	if err := ix.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if rit.Next() {
		t.Fatal("expected Next to fail after the index closed")
	}
	if !werr.Is(rit.Err(), werr.OperationOnClosed) {
		t.Fatalf("expected OperationOnClosed, got %v", rit.Err())
	}
}

func TestRowIteratorProjection(t *testing.T) {
	dir := sampleTable(t)
	tb, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tb.Close()

	it, err := tb.RowIterator([]int{4, 1}, 0, 0)
	if err != nil {
		t.Fatalf("RowIterator: %v", err)
	}
	var got []string
	for it.Next() {
		got = append(got, string(it.Row()[0].Char))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration error: %v", err)
	}
	if len(got) != 2 || got[0] != "abc" || got[1] != "xyz" {
		t.Fatalf("projected rows = %v, want [abc xyz]", got)
	}
}

func TestListAndDropIndex(t *testing.T) {
	dir := sampleTable(t)
	tb, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tb.Close()

	ix, err := tb.BuildIndex("u", []IndexColumnSpec{{Name: "u"}}, index.BuildOptions{})
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	ix.Close()

	names, err := tb.ListIndexes()
	if err != nil {
		t.Fatalf("ListIndexes: %v", err)
	}
	if len(names) != 1 || names[0] != "u" {
		t.Fatalf("ListIndexes() = %v, want [u]", names)
	}

	if err := tb.DropIndex("u"); err != nil {
		t.Fatalf("DropIndex: %v", err)
	}
	names, err = tb.ListIndexes()
	if err != nil {
		t.Fatalf("ListIndexes after drop: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("ListIndexes() after drop = %v, want []", names)
	}
}
