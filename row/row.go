// Package row implements the row codec: a fixed region holding every
// fixed-count column's elements in declaration order, followed by a
// variable region holding the concatenated elements of every
// variable-count column, addressed from the fixed region by an
// (offset, count) descriptor.
package row

import (
	"encoding/binary"

	"github.com/jeromekelleher/wormtable/column"
	"github.com/jeromekelleher/wormtable/internal/werr"
	"github.com/jeromekelleher/wormtable/wtcodec"
)

// variablePresentFlag is stored in the high bit of a variable-slot
// descriptor's offset field. It is only meaningful when the paired
// length is 0: set, the value is present but empty; clear, the value
// is missing. Every real offset is far smaller than MaxRowSize, so the
// high bit of the 32-bit offset field is never needed to address
// variable-region bytes.
const variablePresentFlag = uint32(1) << 31

// Cell holds one column's value within a row. Exactly one of Unsigned,
// Signed, Float, or Char is populated, selected by the owning column's
// ElementType. Missing, if non-empty, carries a per-element missing
// flag parallel to the populated slice; Char columns have no missing
// concept and Missing is ignored for them.
//
// VariableMissing applies only to a variable-count column whose value
// has zero elements: it distinguishes the value being genuinely absent
// (true) from it being present but empty (false), via the descriptor's
// sentinel flag bit. It is ignored whenever the column is fixed-count
// or the value has a non-zero element count.
type Cell struct {
	Unsigned        []uint64
	Signed          []int64
	Float           []float64
	Char            []byte
	Missing         []bool
	VariableMissing bool
}

func (c Cell) elementCount(et column.ElementType) int {
	switch et {
	case column.Signed:
		return len(c.Signed)
	case column.Unsigned:
		return len(c.Unsigned)
	case column.Float:
		return len(c.Float)
	case column.Char:
		return len(c.Char)
	default:
		return 0
	}
}

func (c Cell) isMissing(i int) bool {
	if i < len(c.Missing) {
		return c.Missing[i]
	}
	return false
}

// Codec encodes and decodes rows for a fixed, ordered list of columns.
type Codec struct {
	columns   []*column.Column
	fixedSize int
}

// NewCodec assigns each column its position and computes the fixed
// region layout.
func NewCodec(columns []*column.Column) (*Codec, error) {
	if len(columns) == 0 {
		return nil, werr.New(werr.InvalidArgument, "row: a table must declare at least one column")
	}
	fixedSize := 0
	seen := make(map[string]bool, len(columns))
	for i, c := range columns {
		if seen[c.Name] {
			return nil, werr.Newf(werr.InvalidArgument, "row: duplicate column name %q", c.Name)
		}
		seen[c.Name] = true
		c.SetPosition(i)
		fixedSize += c.FixedRegionContribution()
	}
	return &Codec{columns: columns, fixedSize: fixedSize}, nil
}

// FixedSize returns the byte width of the fixed region.
func (cd *Codec) FixedSize() int { return cd.fixedSize }

// Encode serializes row, which must supply exactly one Cell per column
// in declaration order, into a single contiguous byte slice.
func (cd *Codec) Encode(cells []Cell) ([]byte, error) {
	if len(cells) != len(cd.columns) {
		return nil, werr.Newf(werr.CountMismatch, "row: got %d column values, table has %d columns", len(cells), len(cd.columns))
	}
	variable := make([]byte, 0, 64)
	fixed := make([]byte, cd.fixedSize)
	pos := 0
	for i, c := range cd.columns {
		cell := cells[i]
		n := cell.elementCount(c.ElementType)
		if c.IsVariable() {
			if n > column.MaxElements {
				return nil, werr.Newf(werr.CountMismatch, "row: column %q has %d elements, exceeds the element limit %d", c.Name, n, column.MaxElements)
			}
			offset := len(variable)
			buf, err := encodeElements(c, cell, n)
			if err != nil {
				return nil, err
			}
			variable = append(variable, buf...)
			rawOffset := uint32(offset)
			if n == 0 && !cell.VariableMissing {
				rawOffset |= variablePresentFlag
			}
			binary.BigEndian.PutUint32(fixed[pos:], rawOffset)
			binary.BigEndian.PutUint32(fixed[pos+4:], uint32(n))
			pos += column.VariableDescriptorSize
		} else {
			if n != c.ElementCount {
				return nil, werr.Newf(werr.CountMismatch, "row: column %q expects %d elements, got %d", c.Name, c.ElementCount, n)
			}
			buf, err := encodeElements(c, cell, n)
			if err != nil {
				return nil, err
			}
			copy(fixed[pos:], buf)
			pos += c.FixedRegionContribution()
		}
	}
	out := make([]byte, 0, len(fixed)+len(variable))
	out = append(out, fixed...)
	out = append(out, variable...)
	if len(out) > column.MaxRowSize {
		return nil, werr.Newf(werr.RowTooLarge, "row: encoded row is %d bytes, exceeds the maximum row size %d", len(out), column.MaxRowSize)
	}
	return out, nil
}

func encodeElements(c *column.Column, cell Cell, n int) ([]byte, error) {
	buf := make([]byte, n*c.ElementSize)
	switch c.ElementType {
	case column.Unsigned:
		for i := 0; i < n; i++ {
			if err := wtcodec.EncodeUnsigned(buf[i*c.ElementSize:], c.ElementSize, cell.Unsigned[i], cell.isMissing(i)); err != nil {
				return nil, werr.Wrapf(werr.ValueOutOfRange, err, "row: column %q element %d", c.Name, i)
			}
		}
	case column.Signed:
		for i := 0; i < n; i++ {
			if err := wtcodec.EncodeSigned(buf[i*c.ElementSize:], c.ElementSize, cell.Signed[i], cell.isMissing(i)); err != nil {
				return nil, werr.Wrapf(werr.ValueOutOfRange, err, "row: column %q element %d", c.Name, i)
			}
		}
	case column.Float:
		for i := 0; i < n; i++ {
			if err := wtcodec.EncodeFloat(buf[i*c.ElementSize:], c.ElementSize, cell.Float[i], cell.isMissing(i)); err != nil {
				return nil, werr.Wrapf(werr.ValueOutOfRange, err, "row: column %q element %d", c.Name, i)
			}
		}
	case column.Char:
		if err := wtcodec.EncodeChar(buf, len(buf), cell.Char); err != nil {
			return nil, werr.Wrapf(werr.CountMismatch, err, "row: column %q", c.Name)
		}
	}
	return buf, nil
}

// Decode reverses Encode, returning one Cell per column in declaration
// order.
func (cd *Codec) Decode(data []byte) ([]Cell, error) {
	if len(data) < cd.fixedSize {
		return nil, werr.Newf(werr.CorruptMetadata, "row: encoded row shorter than fixed region: %d < %d", len(data), cd.fixedSize)
	}
	fixed := data[:cd.fixedSize]
	variable := data[cd.fixedSize:]
	cells := make([]Cell, len(cd.columns))
	pos := 0
	for i, c := range cd.columns {
		if c.IsVariable() {
			if pos+column.VariableDescriptorSize > len(fixed) {
				return nil, werr.New(werr.CorruptMetadata, "row: truncated variable descriptor")
			}
			rawOffset := binary.BigEndian.Uint32(fixed[pos:])
			n := binary.BigEndian.Uint32(fixed[pos+4:])
			present := rawOffset&variablePresentFlag != 0
			offset := rawOffset &^ variablePresentFlag
			pos += column.VariableDescriptorSize
			start := int(offset)
			end := start + int(n)*c.ElementSize
			if start < 0 || end > len(variable) || end < start {
				return nil, werr.New(werr.CorruptMetadata, "row: variable region descriptor out of bounds")
			}
			cell, err := decodeElements(c, variable[start:end], int(n))
			if err != nil {
				return nil, err
			}
			if n == 0 {
				cell.VariableMissing = !present
			}
			cells[i] = cell
		} else {
			width := c.FixedRegionContribution()
			cell, err := decodeElements(c, fixed[pos:pos+width], c.ElementCount)
			if err != nil {
				return nil, err
			}
			cells[i] = cell
			pos += width
		}
	}
	return cells, nil
}

func decodeElements(c *column.Column, buf []byte, n int) (Cell, error) {
	var cell Cell
	switch c.ElementType {
	case column.Unsigned:
		cell.Unsigned = make([]uint64, n)
		cell.Missing = make([]bool, n)
		for i := 0; i < n; i++ {
			v, missing, err := wtcodec.DecodeUnsigned(buf[i*c.ElementSize:], c.ElementSize)
			if err != nil {
				return Cell{}, werr.Wrapf(werr.CorruptMetadata, err, "row: column %q element %d", c.Name, i)
			}
			cell.Unsigned[i], cell.Missing[i] = v, missing
		}
	case column.Signed:
		cell.Signed = make([]int64, n)
		cell.Missing = make([]bool, n)
		for i := 0; i < n; i++ {
			v, missing, err := wtcodec.DecodeSigned(buf[i*c.ElementSize:], c.ElementSize)
			if err != nil {
				return Cell{}, werr.Wrapf(werr.CorruptMetadata, err, "row: column %q element %d", c.Name, i)
			}
			cell.Signed[i], cell.Missing[i] = v, missing
		}
	case column.Float:
		cell.Float = make([]float64, n)
		cell.Missing = make([]bool, n)
		for i := 0; i < n; i++ {
			v, missing, err := wtcodec.DecodeFloat(buf[i*c.ElementSize:], c.ElementSize)
			if err != nil {
				return Cell{}, werr.Wrapf(werr.CorruptMetadata, err, "row: column %q element %d", c.Name, i)
			}
			cell.Float[i], cell.Missing[i] = v, missing
		}
	case column.Char:
		b, err := wtcodec.DecodeChar(buf, len(buf))
		if err != nil {
			return Cell{}, werr.Wrapf(werr.CorruptMetadata, err, "row: column %q", c.Name)
		}
		cell.Char = b
	}
	return cell, nil
}
