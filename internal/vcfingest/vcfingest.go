// Package vcfingest implements a minimal, line-oriented VCF reader
// that builds a wormtable schema from a VCF header's ##INFO
// meta-information lines and appends one row per data record. It
// covers the fixed CHROM/POS/ID/REF/ALT/QUAL/FILTER columns plus one
// INFO_<id> column per declared INFO field; the full VCF grammar
// (genotype/FORMAT columns, structural variant records, and so on) is
// deliberately not parsed.
package vcfingest

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

const missingValue = "."

const infoColumnPrefix = "INFO"

// infoField describes one ##INFO=<...> meta-information line.
type infoField struct {
	id          string
	description string
	elementType column.ElementType
	elementSize int
	count       int
}

// Options configures an Ingest call.
type Options struct {
	// SchemaOnly seals the table after declaring its schema without
	// appending any data rows (the -g flag of vcf2wt).
	SchemaOnly bool
	// Progress, if non-nil, is invoked after every row committed.
	Progress func(rowsWritten int)
}

// Result summarizes a completed ingestion.
type Result struct {
	RowsWritten int
	Columns     []string
}

// Ingest reads a VCF stream from r (already decompressed; see
// MaybeGunzip) and builds a new wormtable table at dir.
func Ingest(r io.Reader, dir string, opts Options) (Result, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var infoFields []infoField
	var headerLine string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "##INFO=") {
			f, err := parseInfoLine(line)
			if err != nil {
				return Result{}, err
			}
			infoFields = append(infoFields, f)
			continue
		}
		if strings.HasPrefix(line, "##") {
			continue
		}
		headerLine = line
		break
	}
	if headerLine == "" {
		return Result{}, werr.New(werr.InvalidArgument, "vcfingest: no #CHROM header line found")
	}

	b := table.NewBuilder()
	if err := b.AddColumn("CHROM", "Chromosome", column.Char, 1, column.Variable); err != nil {
		return Result{}, err
	}
	if err := b.AddColumn("POS", "position", column.Unsigned, 5, 1); err != nil {
		return Result{}, err
	}
	if err := b.AddColumn("ID", "ID", column.Char, 1, column.Variable); err != nil {
		return Result{}, err
	}
	if err := b.AddColumn("REF", "Reference allele", column.Char, 1, column.Variable); err != nil {
		return Result{}, err
	}
	if err := b.AddColumn("ALT", "Alternate allele", column.Char, 1, column.Variable); err != nil {
		return Result{}, err
	}
	if err := b.AddColumn("QUAL", "Quality", column.Float, 4, 1); err != nil {
		return Result{}, err
	}
	if err := b.AddColumn("FILTER", "Filter", column.Char, 1, column.Variable); err != nil {
		return Result{}, err
	}
	for _, f := range infoFields {
		if err := b.AddColumn(infoColumnPrefix+"_"+f.id, f.description, f.elementType, f.elementSize, f.count); err != nil {
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
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				continue
			}
			cells, err := parseDataRow(line, b.Columns(), infoFields)
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
			return Result{}, werr.Wrap(werr.IOError, err, "vcfingest: reading data rows")
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
		return nil, werr.Wrap(werr.IOError, err, "vcfingest: opening gzip stream")
	}
	return gz, nil
}

func parseInfoLine(line string) (infoField, error) {
	start := strings.IndexByte(line, '<')
	end := strings.LastIndexByte(line, '>')
	if start < 0 || end < 0 || end < start {
		return infoField{}, werr.Newf(werr.InvalidArgument, "vcfingest: malformed ##INFO line: %q", line)
	}
	body := line[start+1 : end]
	attrs := splitMetaAttrs(body)

	id, ok := attrs["ID"]
	if !ok {
		return infoField{}, werr.Newf(werr.InvalidArgument, "vcfingest: ##INFO line missing ID: %q", line)
	}
	number := attrs["Number"]
	vcfType := attrs["Type"]

	var et column.ElementType
	var size int
	switch vcfType {
	case "Integer":
		et, size = column.Signed, 2
	case "Float":
		et, size = column.Float, 4
	case "Flag":
		et, size = column.Unsigned, 1
	case "Character":
		et, size = column.Char, 1
	case "String":
		et, size = column.Char, 1
	default:
		return infoField{}, werr.Newf(werr.InvalidArgument, "vcfingest: unknown INFO Type %q", vcfType)
	}

	count := 1
	switch {
	case vcfType == "Flag":
		count = 1
	case number == "." || number == "":
		count = column.Variable
	case vcfType == "String" || vcfType == "Character":
		count = column.Variable
	default:
		n, err := parseCount(number)
		if err != nil {
			return infoField{}, werr.Wrapf(werr.InvalidArgument, err, "vcfingest: ##INFO Number=%q", number)
		}
		count = n
	}

	return infoField{
		id:          id,
		description: strings.Trim(attrs["Description"], `"`),
		elementType: et,
		elementSize: size,
		count:       count,
	}, nil
}

func parseCount(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, werr.Newf(werr.InvalidArgument, "not a positive integer: %q", s)
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, werr.Newf(werr.InvalidArgument, "not a positive integer: %q", s)
	}
	return n, nil
}

// splitMetaAttrs parses the comma-separated key=value body of a VCF
// meta-information line, respecting double-quoted values that may
// themselves contain commas.
func splitMetaAttrs(body string) map[string]string {
	attrs := make(map[string]string)
	var key, val strings.Builder
	inValue := false
	inQuotes := false
	flush := func() {
		if key.Len() > 0 {
			attrs[key.String()] = val.String()
		}
		key.Reset()
		val.Reset()
		inValue = false
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			if inValue {
				val.WriteByte(c)
			}
		case c == '=' && !inValue && !inQuotes:
			inValue = true
		case c == ',' && !inQuotes:
			flush()
		default:
			if inValue {
				val.WriteByte(c)
			} else {
				key.WriteByte(c)
			}
		}
	}
	flush()
	return attrs
}

func parseDataRow(line string, columns []*column.Column, infoFields []infoField) ([]row.Cell, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 8 {
		return nil, werr.Newf(werr.InvalidArgument, "vcfingest: data row has %d fields, want at least 8", len(fields))
	}
	byName := make(map[string]*column.Column, len(columns))
	for _, c := range columns {
		byName[c.Name] = c
	}
	cells := make([]row.Cell, len(columns))
	set := func(name, text string) error {
		c, ok := byName[name]
		if !ok {
			return nil
		}
		cell, err := row.ParseCell(c, text)
		if err != nil {
			return err
		}
		cells[c.Position()] = cell
		return nil
	}
	assignments := [][2]string{
		{"CHROM", fields[0]}, {"POS", fields[1]}, {"ID", fields[2]},
		{"REF", fields[3]}, {"ALT", fields[4]}, {"QUAL", fields[5]}, {"FILTER", fields[6]},
	}
	for _, a := range assignments {
		if err := set(a[0], a[1]); err != nil {
			return nil, err
		}
	}
	for _, f := range infoFields {
		c := byName[infoColumnPrefix+"_"+f.id]
		cell, err := row.ParseCell(c, missingValue)
		if err != nil {
			return nil, err
		}
		cells[c.Position()] = cell
	}
	for _, mapping := range strings.Split(fields[7], ";") {
		if mapping == "" {
			continue
		}
		tokens := strings.SplitN(mapping, "=", 2)
		name := infoColumnPrefix + "_" + tokens[0]
		value := "1"
		if len(tokens) == 2 {
			value = tokens[1]
		}
		if err := set(name, value); err != nil {
			return nil, err
		}
	}
	return cells, nil
}
