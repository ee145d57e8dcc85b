// Package column implements the column descriptor: an immutable
// (element-type, element-size, element-count) triple plus a name and
// description, with the derived numeric element range and fixed-region
// contribution.
//
// Element kinds are expressed as a small tagged variant (ElementType)
// rather than a type hierarchy with virtual dispatch: the row codec
// and key encoder switch on this tag and call into wtcodec's per-kind
// functions directly.
package column

import (
	"math"

	"github.com/jeromekelleher/wormtable/internal/werr"
	"github.com/jeromekelleher/wormtable/wtcodec"
)

// ElementType is the tag of a column's element domain.
type ElementType int

const (
	Signed ElementType = iota
	Unsigned
	Float
	Char
)

func (t ElementType) String() string {
	switch t {
	case Signed:
		return "int"
	case Unsigned:
		return "uint"
	case Float:
		return "float"
	case Char:
		return "char"
	default:
		return "unknown"
	}
}

// ParseElementType maps the metadata sidecar's element_type attribute
// values back to an ElementType.
func ParseElementType(s string) (ElementType, bool) {
	switch s {
	case "int":
		return Signed, true
	case "uint":
		return Unsigned, true
	case "float":
		return Float, true
	case "char":
		return Char, true
	default:
		return 0, false
	}
}

// Variable is the element-count sentinel for a variable-count column,
// whose value is a sequence of 0..MaxElements elements.
const Variable = 0

// MaxElements is the engine constant bounding the length of a
// variable-count column's value.
const MaxElements = 256

// MaxRowSize is the engine constant bounding the total encoded size of
// any one row.
const MaxRowSize = 64 * 1024

// VariableDescriptorSize is the width, in bytes, of the (offset, length)
// descriptor pair a variable-count column occupies in the fixed region.
// Both fields are unsigned and each must be wide enough to address any
// offset/length within a MaxRowSize-bounded row.
const VariableDescriptorSize = 8 // 4-byte offset + 4-byte length

// Column is the immutable descriptor of one table column.
type Column struct {
	Name         string
	Description  string
	ElementType  ElementType
	ElementSize  int
	ElementCount int // Variable (0) or a positive fixed count
	position     int
}

// New constructs and validates a Column.
func New(name, description string, elementType ElementType, elementSize, elementCount int) (*Column, error) {
	if name == "" {
		return nil, werr.New(werr.InvalidArgument, "column: name must not be empty")
	}
	if elementCount < 0 {
		return nil, werr.Newf(werr.InvalidArgument, "column %q: negative element count %d", name, elementCount)
	}
	if elementCount > MaxElements {
		return nil, werr.Newf(werr.InvalidArgument, "column %q: element count %d exceeds the element limit %d", name, elementCount, MaxElements)
	}
	switch elementType {
	case Signed, Unsigned:
		if elementSize < 1 || elementSize > 8 {
			return nil, werr.Newf(werr.InvalidArgument, "column %q: integer element size %d must be in [1, 8]", name, elementSize)
		}
	case Float:
		if elementSize != 2 && elementSize != 4 && elementSize != 8 {
			return nil, werr.Newf(werr.InvalidArgument, "column %q: float element size %d must be 2, 4, or 8", name, elementSize)
		}
	case Char:
		if elementSize != 1 {
			return nil, werr.Newf(werr.InvalidArgument, "column %q: char element size must be 1, got %d", name, elementSize)
		}
	default:
		return nil, werr.Newf(werr.InvalidArgument, "column %q: unknown element type %v", name, elementType)
	}
	return &Column{
		Name:         name,
		Description:  description,
		ElementType:  elementType,
		ElementSize:  elementSize,
		ElementCount: elementCount,
	}, nil
}

// Position returns this column's 0-based position within its table.
func (c *Column) Position() int { return c.position }

// IsVariable reports whether this column holds a variable number of
// elements (0..MaxElements).
func (c *Column) IsVariable() bool { return c.ElementCount == Variable }

// MinElement and MaxElement return the inclusive representable range for
// a single non-missing integer element of this column. They panic if
// called on a Float or Char column; only Signed and Unsigned columns
// have an integer range.
//
// MaxElement panics for an 8-byte Unsigned column: its true maximum,
// 2^64-2, does not fit in an int64. Callers that must handle every
// element size use MaxElementUint64 instead, which never truncates.
func (c *Column) MinElement() int64 {
	switch c.ElementType {
	case Signed:
		min, _ := wtcodec.SignedRange(c.ElementSize)
		return min
	case Unsigned:
		return 0
	default:
		panic("column: MinElement called on a non-integer column")
	}
}

func (c *Column) MaxElement() int64 {
	switch c.ElementType {
	case Signed:
		_, max := wtcodec.SignedRange(c.ElementSize)
		return max
	case Unsigned:
		max := c.MaxElementUint64()
		if max > math.MaxInt64 {
			panic("column: MaxElement cannot represent an 8-byte Unsigned column's maximum; use MaxElementUint64")
		}
		return int64(max)
	default:
		panic("column: MaxElement called on a non-integer column")
	}
}

// MaxElementUint64 returns the inclusive representable maximum for a
// single non-missing element of an Unsigned column, without the
// truncation MaxElement is subject to at element size 8. It panics if
// called on a non-Unsigned column.
func (c *Column) MaxElementUint64() uint64 {
	if c.ElementType != Unsigned {
		panic("column: MaxElementUint64 called on a non-Unsigned column")
	}
	_, max := wtcodec.UnsignedRange(c.ElementSize)
	return max
}

// FixedRegionContribution returns the number of bytes this column
// contributes to a row's fixed region: the element-size *
// element-count for a fixed-count column, or the (offset, length)
// descriptor width for a variable-count column.
func (c *Column) FixedRegionContribution() int {
	if c.IsVariable() {
		return VariableDescriptorSize
	}
	return c.ElementSize * c.ElementCount
}

// SetPosition is used by a table builder to assign this column's index
// in declaration order; it is not part of the column's own identity.
func (c *Column) SetPosition(p int) { c.position = p }
