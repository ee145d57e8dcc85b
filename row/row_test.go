package row

import (
	"bytes"
	"testing"

	"github.com/jeromekelleher/wormtable/column"
)

func mustColumn(t *testing.T, name string, et column.ElementType, size, count int) *column.Column {
	t.Helper()
	c, err := column.New(name, "", et, size, count)
	if err != nil {
		t.Fatalf("column.New(%q): %v", name, err)
	}
	return c
}

func TestEncodeDecodeFixedColumns(t *testing.T) {
	cols := []*column.Column{
		mustColumn(t, "pos", column.Unsigned, 4, 1),
		mustColumn(t, "score", column.Float, 8, 1),
		mustColumn(t, "name", column.Char, 1, 4),
	}
	cd, err := NewCodec(cols)
	if err != nil {
		t.Fatal(err)
	}
	cells := []Cell{
		{Unsigned: []uint64{12345}},
		{Float: []float64{3.25}},
		{Char: []byte("abcd")},
	}
	data, err := cd.Encode(cells)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != cd.FixedSize() {
		t.Fatalf("expected encoded row to equal fixed size %d, got %d", cd.FixedSize(), len(data))
	}
	got, err := cd.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Unsigned[0] != 12345 {
		t.Fatalf("pos: got %d", got[0].Unsigned[0])
	}
	if got[1].Float[0] != 3.25 {
		t.Fatalf("score: got %v", got[1].Float[0])
	}
	if !bytes.Equal(got[2].Char, []byte("abcd")) {
		t.Fatalf("name: got %q", got[2].Char)
	}
}

func TestEncodeDecodeVariableColumn(t *testing.T) {
	cols := []*column.Column{
		mustColumn(t, "id", column.Unsigned, 2, 1),
		mustColumn(t, "values", column.Signed, 2, column.Variable),
	}
	cd, err := NewCodec(cols)
	if err != nil {
		t.Fatal(err)
	}
	cells := []Cell{
		{Unsigned: []uint64{7}},
		{Signed: []int64{-5, 0, 100, 200}},
	}
	data, err := cd.Encode(cells)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) <= cd.FixedSize() {
		t.Fatal("expected a non-empty variable region")
	}
	got, err := cd.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got[1].Signed) != 4 || got[1].Signed[2] != 100 {
		t.Fatalf("unexpected variable column decode: %v", got[1].Signed)
	}
}

func TestEncodeRejectsWrongFixedCount(t *testing.T) {
	cols := []*column.Column{mustColumn(t, "x", column.Unsigned, 2, 3)}
	cd, err := NewCodec(cols)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cd.Encode([]Cell{{Unsigned: []uint64{1, 2}}}); err == nil {
		t.Fatal("expected CountMismatch error")
	}
}

func TestEncodeRejectsTooManyCells(t *testing.T) {
	cols := []*column.Column{mustColumn(t, "x", column.Unsigned, 2, 1)}
	cd, err := NewCodec(cols)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cd.Encode([]Cell{{Unsigned: []uint64{1}}, {Unsigned: []uint64{2}}}); err == nil {
		t.Fatal("expected CountMismatch error for extra cell")
	}
}

func TestMissingElementRoundTrip(t *testing.T) {
	cols := []*column.Column{mustColumn(t, "x", column.Signed, 4, 1)}
	cd, err := NewCodec(cols)
	if err != nil {
		t.Fatal(err)
	}
	data, err := cd.Encode([]Cell{{Signed: []int64{0}, Missing: []bool{true}}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := cd.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if !got[0].Missing[0] {
		t.Fatal("expected decoded element to be missing")
	}
}

func TestEncodeTextParsesElementsAndMissing(t *testing.T) {
	cols := []*column.Column{
		mustColumn(t, "pos", column.Unsigned, 4, 1),
		mustColumn(t, "af", column.Float, 4, column.Variable),
		mustColumn(t, "ref", column.Char, 1, 1),
	}
	cd, err := NewCodec(cols)
	if err != nil {
		t.Fatal(err)
	}
	data, err := cd.EncodeText([]string{"100", "0.1,.,0.3", "A"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := cd.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Unsigned[0] != 100 {
		t.Fatalf("pos: got %d", got[0].Unsigned[0])
	}
	if len(got[1].Float) != 3 || !got[1].Missing[1] {
		t.Fatalf("af: got %v missing=%v", got[1].Float, got[1].Missing)
	}
	if string(got[2].Char) != "A" {
		t.Fatalf("ref: got %q", got[2].Char)
	}
}

func TestVariableColumnEmptyDistinctFromMissing(t *testing.T) {
	cols := []*column.Column{
		mustColumn(t, "id", column.Unsigned, 2, 1),
		mustColumn(t, "tags", column.Signed, 2, column.Variable),
	}
	cd, err := NewCodec(cols)
	if err != nil {
		t.Fatal(err)
	}
	data, err := cd.Encode([]Cell{
		{Unsigned: []uint64{1}},
		{Signed: []int64{}, Missing: []bool{}},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := cd.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got[1].Signed) != 0 {
		t.Fatalf("expected zero elements, got %v", got[1].Signed)
	}
	if got[1].VariableMissing {
		t.Fatal("expected present-but-empty value, got VariableMissing=true")
	}

	data, err = cd.Encode([]Cell{
		{Unsigned: []uint64{1}},
		{Signed: []int64{}, Missing: []bool{}, VariableMissing: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err = cd.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got[1].Signed) != 0 {
		t.Fatalf("expected zero elements, got %v", got[1].Signed)
	}
	if !got[1].VariableMissing {
		t.Fatal("expected missing value, got VariableMissing=false")
	}
}

func TestEncodeTextMissingWholeField(t *testing.T) {
	cols := []*column.Column{mustColumn(t, "x", column.Unsigned, 2, 1)}
	cd, err := NewCodec(cols)
	if err != nil {
		t.Fatal(err)
	}
	data, err := cd.EncodeText([]string{"."})
	if err != nil {
		t.Fatal(err)
	}
	got, err := cd.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if !got[0].Missing[0] {
		t.Fatal("expected missing element")
	}
}
