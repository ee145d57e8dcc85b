// Package key implements the secondary-index key encoder: a
// composite, memcmp-ordered key built by concatenating
// the order-preserving per-element encodings of wtcodec across an
// ordered list of key columns (single-element numeric columns, or
// fixed-count char columns treated as one byte-string value), each
// numeric column optionally quantized by a bucket width, followed by
// the row-id in the same encoding to guarantee uniqueness.
package key

import (
	"math"

	"github.com/jeromekelleher/wormtable/column"
	"github.com/jeromekelleher/wormtable/internal/werr"
	"github.com/jeromekelleher/wormtable/wtcodec"
)

// rowIDSize is the width, in bytes, used to encode the row-id suffix.
// 8 bytes covers any row-id a table can produce without truncation.
const rowIDSize = 8

// RowIDSize returns the byte width of the row-id suffix every key
// produced by this package carries.
func RowIDSize() int { return rowIDSize }

// Field pairs a key column with its bucket width (0 means no
// bucketing).
type Field struct {
	Column      *column.Column
	BucketWidth float64
}

// Element is one field's input value to Encode: exactly one of
// Unsigned, Signed, Float, or Char is read, selected by the field's
// column type.
type Element struct {
	Unsigned uint64
	Signed   int64
	Float    float64
	Char     []byte
	Missing  bool
}

// Encoder builds composite keys for a fixed, ordered list of fields.
type Encoder struct {
	fields  []Field
	keySize int
}

// NewEncoder validates fields and returns an Encoder for them.
// Numeric fields must name single-element columns;
// a char field may name any fixed-count char column, whose whole byte
// string is one key value. Bucket width must be 0 for char columns,
// non-negative for numeric columns, and integral when the column's
// element type is integral.
func NewEncoder(fields []Field) (*Encoder, error) {
	if len(fields) == 0 {
		return nil, werr.New(werr.InvalidArgument, "key: an index must declare at least one key column")
	}
	size := rowIDSize
	for _, f := range fields {
		c := f.Column
		if c.IsVariable() {
			return nil, werr.Newf(werr.InvalidArgument, "key: column %q is variable-count, not admissible as a key column", c.Name)
		}
		if f.BucketWidth < 0 {
			return nil, werr.Newf(werr.InvalidArgument, "key: column %q: bucket width %v must be >= 0", c.Name, f.BucketWidth)
		}
		switch c.ElementType {
		case column.Char:
			if f.BucketWidth != 0 {
				return nil, werr.Newf(werr.InvalidArgument, "key: char column %q must have bucket width 0", c.Name)
			}
		case column.Signed, column.Unsigned:
			if c.ElementCount != 1 {
				return nil, werr.Newf(werr.InvalidArgument, "key: column %q has element count %d, only single-element numeric columns are admissible as key columns", c.Name, c.ElementCount)
			}
			if f.BucketWidth != math.Trunc(f.BucketWidth) {
				return nil, werr.Newf(werr.InvalidArgument, "key: integer column %q has non-integer bucket width %v", c.Name, f.BucketWidth)
			}
		default:
			if c.ElementCount != 1 {
				return nil, werr.Newf(werr.InvalidArgument, "key: column %q has element count %d, only single-element numeric columns are admissible as key columns", c.Name, c.ElementCount)
			}
		}
		size += fieldWidth(f)
	}
	return &Encoder{fields: fields, keySize: size}, nil
}

// fieldWidth is the encoded byte width of one field's key portion: the
// full byte string for a fixed-count char column, one element for a
// numeric column.
func fieldWidth(f Field) int {
	c := f.Column
	if c.ElementType == column.Char {
		return c.ElementSize * c.ElementCount
	}
	return c.ElementSize
}

// KeySize returns the fixed byte width of every key this Encoder
// produces, including the row-id suffix.
func (e *Encoder) KeySize() int { return e.keySize }

// Fields returns the encoder's ordered key column/bucket-width list.
func (e *Encoder) Fields() []Field { return e.fields }

// Encode builds the composite key for one row: elements must supply
// exactly one Element per field, in field order.
func (e *Encoder) Encode(elements []Element, rowID uint64) ([]byte, error) {
	if len(elements) != len(e.fields) {
		return nil, werr.Newf(werr.CountMismatch, "key: got %d elements, encoder has %d fields", len(elements), len(e.fields))
	}
	out := make([]byte, e.keySize)
	pos, err := e.encodeFields(out, elements)
	if err != nil {
		return nil, err
	}
	if err := wtcodec.EncodeUnsigned(out[pos:], rowIDSize, rowID, false); err != nil {
		return nil, werr.Wrap(werr.InvalidArgument, err, "key: encoding row-id suffix")
	}
	return out, nil
}

// EncodePrefix builds a bare key prefix over the first len(elements)
// fields, with no row-id suffix, for use as a range bound against an
// index's ordered-key store.
func (e *Encoder) EncodePrefix(elements []Element) ([]byte, error) {
	if len(elements) > len(e.fields) {
		return nil, werr.Newf(werr.CountMismatch, "key: prefix of %d elements exceeds the encoder's %d fields", len(elements), len(e.fields))
	}
	size := 0
	for i := range elements {
		size += fieldWidth(e.fields[i])
	}
	out := make([]byte, size)
	if _, err := e.encodeFields(out, elements); err != nil {
		return nil, err
	}
	return out, nil
}

// encodeFields encodes elements (a prefix of e.fields) into out,
// returning the number of bytes written.
func (e *Encoder) encodeFields(out []byte, elements []Element) (int, error) {
	pos := 0
	for i, el := range elements {
		f := e.fields[i]
		c := f.Column
		var err error
		switch c.ElementType {
		case column.Unsigned:
			v := el.Unsigned
			if f.BucketWidth > 0 {
				v = bucketUnsigned(v, f.BucketWidth)
			}
			err = wtcodec.EncodeUnsigned(out[pos:], c.ElementSize, v, el.Missing)
		case column.Signed:
			v := el.Signed
			if f.BucketWidth > 0 {
				v = bucketSigned(v, f.BucketWidth)
			}
			err = wtcodec.EncodeSigned(out[pos:], c.ElementSize, v, el.Missing)
		case column.Float:
			v := el.Float
			if f.BucketWidth > 0 {
				v = bucketFloat(v, f.BucketWidth)
			}
			err = wtcodec.EncodeFloat(out[pos:], c.ElementSize, v, el.Missing)
		case column.Char:
			err = wtcodec.EncodeChar(out[pos:], fieldWidth(f), el.Char)
		}
		if err != nil {
			return 0, werr.Wrapf(werr.ValueOutOfRange, err, "key: column %q", c.Name)
		}
		pos += fieldWidth(f)
	}
	return pos, nil
}

// bucketUnsigned applies ⌊v / w⌋ × w with w a non-negative integer.
func bucketUnsigned(v uint64, w float64) uint64 {
	iw := uint64(w)
	return (v / iw) * iw
}

// bucketSigned applies ⌊v / w⌋ × w (floor division, not truncation)
// with w a positive integer.
func bucketSigned(v int64, w float64) int64 {
	iw := int64(w)
	q := v / iw
	if v%iw != 0 && (v < 0) != (iw < 0) {
		q--
	}
	return q * iw
}

// bucketFloat applies ⌊v / w⌋ × w using real floor division.
func bucketFloat(v, w float64) float64 {
	return math.Floor(v/w) * w
}

// DecodeFields decodes the leading len(e.Fields()) portion of raw
// (everything except the row-id suffix) back into typed Elements, one
// per field. A bucketed field decodes to its bucket value, not the
// original value.
func (e *Encoder) DecodeFields(raw []byte) ([]Element, error) {
	out := make([]Element, len(e.fields))
	pos := 0
	for i, f := range e.fields {
		c := f.Column
		var err error
		switch c.ElementType {
		case column.Unsigned:
			out[i].Unsigned, out[i].Missing, err = wtcodec.DecodeUnsigned(raw[pos:], c.ElementSize)
		case column.Signed:
			out[i].Signed, out[i].Missing, err = wtcodec.DecodeSigned(raw[pos:], c.ElementSize)
		case column.Float:
			out[i].Float, out[i].Missing, err = wtcodec.DecodeFloat(raw[pos:], c.ElementSize)
		case column.Char:
			out[i].Char, err = wtcodec.DecodeChar(raw[pos:], fieldWidth(f))
		}
		if err != nil {
			return nil, werr.Wrapf(werr.CorruptMetadata, err, "key: column %q", c.Name)
		}
		pos += fieldWidth(f)
	}
	return out, nil
}

// DecodeRowID reads the row-id suffix following the composite key
// portion of raw (i.e. raw[e.KeySize()-RowIDSize():]).
func DecodeRowID(raw []byte) (uint64, error) {
	if len(raw) < rowIDSize {
		return 0, werr.New(werr.CorruptMetadata, "key: truncated row-id suffix")
	}
	v, _, err := wtcodec.DecodeUnsigned(raw, rowIDSize)
	if err != nil {
		return 0, werr.Wrap(werr.CorruptMetadata, err, "key: decoding row-id suffix")
	}
	return v, nil
}
