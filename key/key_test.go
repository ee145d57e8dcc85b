package key

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

func TestNewEncoderRejectsVariableColumn(t *testing.T) {
	c := mustColumn(t, "v", column.Unsigned, 2, column.Variable)
	if _, err := NewEncoder([]Field{{Column: c}}); err == nil {
		t.Fatal("expected InvalidArgument for variable-count key column")
	}
}

func TestNewEncoderRejectsMultiElementColumn(t *testing.T) {
	c := mustColumn(t, "m", column.Unsigned, 2, 3)
	if _, err := NewEncoder([]Field{{Column: c}}); err == nil {
		t.Fatal("expected InvalidArgument for multi-element key column")
	}
}

func TestFixedCountCharColumnEncodesWholeByteString(t *testing.T) {
	c := mustColumn(t, "c", column.Char, 1, 3)
	enc, err := NewEncoder([]Field{{Column: c}})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := enc.KeySize(), 3+rowIDSize; got != want {
		t.Fatalf("KeySize() = %d, want %d", got, want)
	}
	kLow, err := enc.Encode([]Element{{Char: []byte("abc")}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	kHigh, err := enc.Encode([]Element{{Char: []byte("abd")}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Compare(kLow, kHigh) >= 0 {
		t.Fatal(`"abc" must sort below "abd"`)
	}
	fields, err := enc.DecodeFields(kLow)
	if err != nil {
		t.Fatal(err)
	}
	if string(fields[0].Char) != "abc" {
		t.Fatalf("decoded char key = %q, want %q", fields[0].Char, "abc")
	}
}

func TestNewEncoderRejectsBucketWidthOnChar(t *testing.T) {
	c := mustColumn(t, "c", column.Char, 1, 1)
	if _, err := NewEncoder([]Field{{Column: c, BucketWidth: 1}}); err == nil {
		t.Fatal("expected InvalidArgument for bucket width on char column")
	}
}

func TestNewEncoderRejectsNonIntegerBucketOnIntColumn(t *testing.T) {
	c := mustColumn(t, "i", column.Signed, 4, 1)
	if _, err := NewEncoder([]Field{{Column: c, BucketWidth: 2.5}}); err == nil {
		t.Fatal("expected InvalidArgument for non-integer bucket width on integer column")
	}
}

func TestEncodeOrderingSingleColumn(t *testing.T) {
	c := mustColumn(t, "u", column.Unsigned, 2, 1)
	enc, err := NewEncoder([]Field{{Column: c}})
	if err != nil {
		t.Fatal(err)
	}
	values := []uint64{0, 1, 10, 1000, 65000}
	var prev []byte
	for _, v := range values {
		k, err := enc.Encode([]Element{{Unsigned: v}}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if prev != nil && bytes.Compare(prev, k) >= 0 {
			t.Fatalf("keys not strictly increasing at value %d", v)
		}
		prev = k
	}
}

func TestEncodeRowIDBreaksTiesByRowID(t *testing.T) {
	c := mustColumn(t, "u", column.Unsigned, 2, 1)
	enc, err := NewEncoder([]Field{{Column: c}})
	if err != nil {
		t.Fatal(err)
	}
	k0, err := enc.Encode([]Element{{Unsigned: 5}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	k1, err := enc.Encode([]Element{{Unsigned: 5}}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Compare(k0, k1) >= 0 {
		t.Fatal("identical composite keys must sort by ascending row-id")
	}
}

func TestEncodeBucketingGroupsNearbyValues(t *testing.T) {
	c := mustColumn(t, "u", column.Unsigned, 2, 1)
	enc, err := NewEncoder([]Field{{Column: c, BucketWidth: 10}})
	if err != nil {
		t.Fatal(err)
	}
	k1, err := enc.Encode([]Element{{Unsigned: 21}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := enc.Encode([]Element{{Unsigned: 29}}, 1)
	if err != nil {
		t.Fatal(err)
	}
	// Same bucket [20, 30): the key prefixes (excluding row-id) must match.
	prefixLen := len(k1) - rowIDSize
	if !bytes.Equal(k1[:prefixLen], k2[:prefixLen]) {
		t.Fatalf("expected values 21 and 29 to share a bucket key, got %v and %v", k1[:prefixLen], k2[:prefixLen])
	}
}

func TestBucketSignedFloorsTowardNegativeInfinity(t *testing.T) {
	if got := bucketSigned(-21, 10); got != -30 {
		t.Fatalf("bucketSigned(-21, 10) = %d, want -30", got)
	}
	if got := bucketSigned(-20, 10); got != -20 {
		t.Fatalf("bucketSigned(-20, 10) = %d, want -20", got)
	}
	if got := bucketSigned(21, 10); got != 20 {
		t.Fatalf("bucketSigned(21, 10) = %d, want 20", got)
	}
}

func TestEncodePrefixMatchesEncodeLeadingBytes(t *testing.T) {
	i := mustColumn(t, "i", column.Signed, 4, 1)
	u := mustColumn(t, "u", column.Unsigned, 4, 1)
	enc, err := NewEncoder([]Field{{Column: i}, {Column: u}})
	if err != nil {
		t.Fatal(err)
	}
	full, err := enc.Encode([]Element{{Signed: -2}, {Unsigned: 7}}, 42)
	if err != nil {
		t.Fatal(err)
	}
	prefix, err := enc.EncodePrefix([]Element{{Signed: -2}})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(full[:len(prefix)], prefix) {
		t.Fatalf("expected EncodePrefix to match the leading bytes of Encode, got %v vs %v", prefix, full[:len(prefix)])
	}
}

func TestDecodeFieldsAndRowIDRoundTrip(t *testing.T) {
	u := mustColumn(t, "u", column.Unsigned, 2, 1)
	enc, err := NewEncoder([]Field{{Column: u}})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := enc.Encode([]Element{{Unsigned: 9}}, 17)
	if err != nil {
		t.Fatal(err)
	}
	fields, err := enc.DecodeFields(raw)
	if err != nil {
		t.Fatal(err)
	}
	if fields[0].Unsigned != 9 {
		t.Fatalf("expected 9, got %d", fields[0].Unsigned)
	}
	rowID, err := DecodeRowID(raw[enc.KeySize()-RowIDSize():])
	if err != nil {
		t.Fatal(err)
	}
	if rowID != 17 {
		t.Fatalf("expected row-id 17, got %d", rowID)
	}
}

func TestMultiColumnCompositeOrdering(t *testing.T) {
	i := mustColumn(t, "i", column.Signed, 4, 1)
	u := mustColumn(t, "u", column.Unsigned, 4, 1)
	enc, err := NewEncoder([]Field{{Column: i}, {Column: u}})
	if err != nil {
		t.Fatal(err)
	}
	kLow, err := enc.Encode([]Element{{Signed: -2}, {Unsigned: 7}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	kHigh, err := enc.Encode([]Element{{Signed: 7}, {Unsigned: 1}}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Compare(kLow, kHigh) >= 0 {
		t.Fatal("composite key ordering must follow the first key column first")
	}
}
