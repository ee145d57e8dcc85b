package row

import (
	"strconv"
	"strings"

	"github.com/jeromekelleher/wormtable/column"
	"github.com/jeromekelleher/wormtable/internal/werr"
)

// missingToken is the textual placeholder for a missing element, used
// by the CLI ingesters (vcf2wt, gtf2wt) and wtadmin dump's --start and
// --stop bounds.
const missingToken = "."

// EncodeText parses one textual field per column and encodes the
// resulting row. Numeric columns take a comma-separated list of
// elements; "." marks an individual element, or the whole field, as
// missing. Char columns take the field verbatim as raw bytes.
func (cd *Codec) EncodeText(fields []string) ([]byte, error) {
	if len(fields) != len(cd.columns) {
		return nil, werr.Newf(werr.CountMismatch, "row: got %d text fields, table has %d columns", len(fields), len(cd.columns))
	}
	cells := make([]Cell, len(cd.columns))
	for i, c := range cd.columns {
		cell, err := ParseCell(c, fields[i])
		if err != nil {
			return nil, err
		}
		cells[i] = cell
	}
	return cd.Encode(cells)
}

// ParseCell parses a single textual field into a Cell for the given
// column.
func ParseCell(c *column.Column, field string) (Cell, error) {
	if c.ElementType == column.Char {
		return Cell{Char: []byte(field)}, nil
	}
	if field == missingToken || field == "" {
		return missingCell(c), nil
	}
	parts := strings.Split(field, ",")
	switch c.ElementType {
	case column.Unsigned:
		values := make([]uint64, len(parts))
		missing := make([]bool, len(parts))
		for i, p := range parts {
			if p == missingToken {
				missing[i] = true
				continue
			}
			v, err := strconv.ParseUint(p, 10, 64)
			if err != nil {
				return Cell{}, werr.Wrapf(werr.InvalidArgument, err, "row: column %q: invalid unsigned element %q", c.Name, p)
			}
			values[i] = v
		}
		return Cell{Unsigned: values, Missing: missing}, nil
	case column.Signed:
		values := make([]int64, len(parts))
		missing := make([]bool, len(parts))
		for i, p := range parts {
			if p == missingToken {
				missing[i] = true
				continue
			}
			v, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				return Cell{}, werr.Wrapf(werr.InvalidArgument, err, "row: column %q: invalid signed element %q", c.Name, p)
			}
			values[i] = v
		}
		return Cell{Signed: values, Missing: missing}, nil
	case column.Float:
		values := make([]float64, len(parts))
		missing := make([]bool, len(parts))
		for i, p := range parts {
			if p == missingToken {
				missing[i] = true
				continue
			}
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return Cell{}, werr.Wrapf(werr.InvalidArgument, err, "row: column %q: invalid float element %q", c.Name, p)
			}
			values[i] = v
		}
		return Cell{Float: values, Missing: missing}, nil
	default:
		return Cell{}, werr.Newf(werr.InvalidArgument, "row: column %q: unsupported element type", c.Name)
	}
}

func missingCell(c *column.Column) Cell {
	n := c.ElementCount
	variableMissing := false
	if c.IsVariable() {
		n = 0
		variableMissing = true
	}
	missing := make([]bool, n)
	for i := range missing {
		missing[i] = true
	}
	switch c.ElementType {
	case column.Unsigned:
		return Cell{Unsigned: make([]uint64, n), Missing: missing, VariableMissing: variableMissing}
	case column.Signed:
		return Cell{Signed: make([]int64, n), Missing: missing, VariableMissing: variableMissing}
	case column.Float:
		return Cell{Float: make([]float64, n), Missing: missing, VariableMissing: variableMissing}
	default:
		return Cell{VariableMissing: variableMissing}
	}
}
