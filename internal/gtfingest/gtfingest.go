// Package gtfingest implements a minimal, line-oriented GTF (Gene
// Transfer Format) reader that builds a fixed nine-column wormtable
// schema and appends one row per feature record. GTF's attribute
// field is a semicolon-separated list of its own key "value" pairs;
// it is stored whole in a single variable char column rather than
// parsed, the same minimal-grammar trade-off vcfingest makes for
// VCF's genotype/FORMAT columns.
package gtfingest

import (
	"bufio"
	"compress/gzip"
	"io"
	"strings"

	"github.com/jeromekelleher/wormtable/column"
	"github.com/jeromekelleher/wormtable/internal/werr"
	"github.com/jeromekelleher/wormtable/row"
	"github.com/jeromekelleher/wormtable/table"
)

// Options configures an Ingest call.
type Options struct {
	// SchemaOnly seals the table after declaring its schema without
	// appending any data rows.
	SchemaOnly bool
	// Progress, if non-nil, is invoked after every row committed.
	Progress func(rowsWritten int)
}

// Result summarizes a completed ingestion.
type Result struct {
	RowsWritten int
	Columns     []string
}

// Ingest reads a GTF stream from r (already decompressed; see
// MaybeGunzip) and builds a new wormtable table at dir, skipping
// comment lines beginning with '#'.
func Ingest(r io.Reader, dir string, opts Options) (Result, error) {
	b := table.NewBuilder()
	fixed := []struct {
		name, desc  string
		elementType column.ElementType
		size, count int
	}{
		{"seqname", "Sequence name", column.Char, 1, column.Variable},
		{"source", "Annotation source", column.Char, 1, column.Variable},
		{"feature", "Feature type", column.Char, 1, column.Variable},
		{"start", "Start coordinate, 1-based inclusive", column.Unsigned, 5, 1},
		{"end", "End coordinate, 1-based inclusive", column.Unsigned, 5, 1},
		{"score", "Feature score", column.Float, 4, 1},
		{"strand", "Strand", column.Char, 1, 1},
		{"frame", "Reading frame", column.Char, 1, 1},
		{"attribute", "Raw semicolon-separated attribute list", column.Char, 1, column.Variable},
	}
	for _, f := range fixed {
		if err := b.AddColumn(f.name, f.desc, f.elementType, f.size, f.count); err != nil {
			return Result{}, err
		}
	}

	tb, err := table.Create(dir, b.Columns())
	if err != nil {
		return Result{}, err
	}
	colNames := make([]string, len(b.Columns()))
	for i, c := range b.Columns() {
		colNames[i] = c.Name
	}

	rowsWritten := 0
	if !opts.SchemaOnly {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			line := sc.Text()
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			cells, err := parseFeatureLine(line, b.Columns())
			if err != nil {
				tb.Close()
				return Result{}, err
			}
			if _, err := tb.Append(cells); err != nil {
				tb.Close()
				return Result{}, err
			}
			rowsWritten++
			if opts.Progress != nil {
				opts.Progress(rowsWritten)
			}
		}
		if err := sc.Err(); err != nil {
			tb.Close()
			return Result{}, werr.Wrap(werr.IOError, err, "gtfingest: reading feature lines")
		}
	}

	if err := tb.Close(); err != nil {
		return Result{}, err
	}
	return Result{RowsWritten: rowsWritten, Columns: colNames}, nil
}

// MaybeGunzip wraps r in a gzip reader if name ends in .gz.
func MaybeGunzip(r io.Reader, name string) (io.Reader, error) {
	if !strings.HasSuffix(name, ".gz") {
		return r, nil
	}
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, werr.Wrap(werr.IOError, err, "gtfingest: opening gzip stream")
	}
	return gz, nil
}

func parseFeatureLine(line string, columns []*column.Column) ([]row.Cell, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 9 {
		return nil, werr.Newf(werr.InvalidArgument, "gtfingest: feature line has %d fields, want 9", len(fields))
	}
	cells := make([]row.Cell, len(columns))
	for i, c := range columns {
		if i == 0 {
			continue // row-id, assigned by Table.Append
		}
		cell, err := row.ParseCell(c, fields[i-1])
		if err != nil {
			return nil, err
		}
		cells[c.Position()] = cell
	}
	return cells, nil
}
