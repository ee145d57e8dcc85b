// Command wtadmin administers a wormtable home directory: dump rows,
// build and drop secondary indexes, and print value histograms over a
// sealed table.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeromekelleher/wormtable/column"
	"github.com/jeromekelleher/wormtable/index"
	"github.com/jeromekelleher/wormtable/internal/werr"
	"github.com/jeromekelleher/wormtable/internal/wtdb"
	"github.com/jeromekelleher/wormtable/key"
	"github.com/jeromekelleher/wormtable/row"
	"github.com/jeromekelleher/wormtable/table"
)

func main() {
	var cacheSize string
	root := &cobra.Command{
		Use:   "wtadmin",
		Short: "Administer a wormtable home directory",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			_, err := wtdb.ParseCacheSize(cacheSize)
			return err
		},
	}
	root.PersistentFlags().StringVarP(&cacheSize, "cache-size", "c", "64M", "Page cache size (K/M/G suffixes accepted)")
	root.AddCommand(dumpCmd(), addCmd(), histCmd(), lsCmd(), rmCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type dumpFlags struct {
	index string
	start string
	stop  string
}

func dumpCmd() *cobra.Command {
	f := &dumpFlags{}
	cmd := &cobra.Command{
		Use:   "dump <homedir> [columns...]",
		Short: "Print rows as tab-separated text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runDump(args[0], args[1:], f)
		},
	}
	cmd.Flags().StringVar(&f.index, "index", "", "Iterate row order via this index instead of row-id order")
	cmd.Flags().StringVar(&f.start, "start", "", "Comma-separated inclusive lower bound on the index's key columns")
	cmd.Flags().StringVar(&f.stop, "stop", "", "Comma-separated exclusive upper bound on the index's key columns")
	return cmd
}

func runDump(dir string, requestedNames []string, f *dumpFlags) error {
	t, err := table.Open(dir)
	if err != nil {
		return err
	}
	defer t.Close()

	cols, err := resolveColumns(t, requestedNames)
	if err != nil {
		return err
	}

	if f.index == "" {
		it, err := t.RowIterator(cols, 0, 0)
		if err != nil {
			return err
		}
		for it.Next() {
			printRow(t, cols, it.Row())
		}
		return it.Err()
	}

	ix, err := t.OpenIndex(f.index)
	if err != nil {
		return err
	}
	defer ix.Close()

	var minPrefix, maxPrefix []key.Element
	if f.start != "" {
		minPrefix, err = parseElementList(ix.Fields(), f.start)
		if err != nil {
			return err
		}
	}
	if f.stop != "" {
		maxPrefix, err = parseElementList(ix.Fields(), f.stop)
		if err != nil {
			return err
		}
	}
	it, err := ix.RowIterator(cols, minPrefix, maxPrefix)
	if err != nil {
		return err
	}
	for it.Next() {
		printRow(t, cols, it.Row())
	}
	return it.Err()
}

func resolveColumns(t *table.Table, names []string) ([]int, error) {
	if len(names) == 0 {
		return nil, nil
	}
	idx := make([]int, len(names))
	for i, n := range names {
		pos := -1
		for _, c := range t.Columns() {
			if c.Name == n {
				pos = c.Position()
				break
			}
		}
		if pos < 0 {
			return nil, werr.Newf(werr.InvalidArgument, "wtadmin: no such column %q", n)
		}
		idx[i] = pos
	}
	return idx, nil
}

func printRow(t *table.Table, cols []int, cells []row.Cell) {
	columns := t.Columns()
	if cols != nil {
		projected := make([]*column.Column, len(cols))
		for i, c := range cols {
			projected[i] = columns[c]
		}
		columns = projected
	}
	fields := make([]string, len(cells))
	for i, cell := range cells {
		fields[i] = formatCell(columns[i], cell)
	}
	fmt.Println(strings.Join(fields, "\t"))
}

func formatCell(c *column.Column, cell row.Cell) string {
	if c.ElementType == column.Char {
		return string(cell.Char)
	}
	var n int
	switch c.ElementType {
	case column.Unsigned:
		n = len(cell.Unsigned)
	case column.Signed:
		n = len(cell.Signed)
	case column.Float:
		n = len(cell.Float)
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		if i < len(cell.Missing) && cell.Missing[i] {
			parts[i] = "."
			continue
		}
		switch c.ElementType {
		case column.Unsigned:
			parts[i] = strconv.FormatUint(cell.Unsigned[i], 10)
		case column.Signed:
			parts[i] = strconv.FormatInt(cell.Signed[i], 10)
		case column.Float:
			parts[i] = strconv.FormatFloat(cell.Float[i], 'g', -1, 64)
		}
	}
	return strings.Join(parts, ",")
}

type addFlags struct {
	quiet bool
}

func addCmd() *cobra.Command {
	f := &addFlags{}
	cmd := &cobra.Command{
		Use:   "add <homedir> <colspec>",
		Short: "Build a secondary index (colspec: c1[bin_width][+c2[bin_width]...])",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runAdd(args[0], args[1], f)
		},
	}
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}

func runAdd(dir, colspec string, f *addFlags) error {
	t, err := table.Open(dir)
	if err != nil {
		return err
	}
	defer t.Close()

	specs, name, err := parseColSpec(colspec)
	if err != nil {
		return err
	}
	var opts index.BuildOptions
	if !f.quiet {
		opts.ProgressInterval = 100000
		opts.Progress = func(n uint64) { fmt.Fprintf(os.Stderr, "\r%d rows indexed", n) }
	}
	ix, err := t.BuildIndex(name, specs, opts)
	if err != nil {
		return err
	}
	defer ix.Close()
	if !f.quiet {
		fmt.Fprintf(os.Stderr, "\rbuilt index %q\n", name)
	}
	return nil
}

func histCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hist <homedir> <colspec>",
		Short: "Print a histogram of distinct key values and their row counts",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runHist(args[0], args[1])
		},
	}
	return cmd
}

func runHist(dir, colspec string) error {
	t, err := table.Open(dir)
	if err != nil {
		return err
	}
	defer t.Close()

	_, name, err := parseColSpec(colspec)
	if err != nil {
		return err
	}
	ix, err := t.OpenIndex(name)
	if err != nil {
		return err
	}
	defer ix.Close()

	dk, err := ix.DistinctKeysIterator()
	if err != nil {
		return err
	}
	for dk.Next() {
		k := dk.Key()
		n, err := ix.NumRows(k)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%d\n", formatKey(ix.Fields(), k), n)
	}
	return dk.Err()
}

func formatKey(fields []key.Field, elements []key.Element) string {
	parts := make([]string, len(elements))
	for i, el := range elements {
		c := fields[i].Column
		switch c.ElementType {
		case column.Char:
			parts[i] = string(el.Char)
		case column.Unsigned:
			parts[i] = strconv.FormatUint(el.Unsigned, 10)
		case column.Signed:
			parts[i] = strconv.FormatInt(el.Signed, 10)
		case column.Float:
			parts[i] = strconv.FormatFloat(el.Float, 'g', -1, 64)
		}
	}
	return strings.Join(parts, "\t")
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <homedir>",
		Short: "List built indexes",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			t, err := table.Open(args[0])
			if err != nil {
				return err
			}
			defer t.Close()
			names, err := t.ListIndexes()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <homedir> <name>",
		Short: "Drop a built index",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			t, err := table.Open(args[0])
			if err != nil {
				return err
			}
			defer t.Close()
			return t.DropIndex(args[1])
		},
	}
}

// parseColSpec parses "c1[bin_width][+c2[bin_width]...]" into an
// ordered list of column/bucket-width specs plus a stable index name
// derived from the colspec text.
func parseColSpec(spec string) ([]table.IndexColumnSpec, string, error) {
	tokens := strings.Split(spec, "+")
	if len(tokens) == 0 {
		return nil, "", werr.New(werr.InvalidArgument, "wtadmin: empty column spec")
	}
	specs := make([]table.IndexColumnSpec, len(tokens))
	for i, tok := range tokens {
		name, width, err := parseColToken(tok)
		if err != nil {
			return nil, "", err
		}
		specs[i] = table.IndexColumnSpec{Name: name, BucketWidth: width}
	}
	name := strings.NewReplacer("+", "_", "[", "_", "]", "").Replace(spec)
	return specs, name, nil
}

func parseColToken(tok string) (name string, width float64, err error) {
	open := strings.IndexByte(tok, '[')
	if open < 0 {
		return tok, 0, nil
	}
	shut := strings.IndexByte(tok, ']')
	if shut < open {
		return "", 0, werr.Newf(werr.InvalidArgument, "wtadmin: malformed column spec %q", tok)
	}
	name = tok[:open]
	widthStr := tok[open+1 : shut]
	width, err = strconv.ParseFloat(widthStr, 64)
	if err != nil {
		return "", 0, werr.Wrapf(werr.InvalidArgument, err, "wtadmin: bin width %q", widthStr)
	}
	return name, width, nil
}

// parseElementList parses a comma-separated list of textual values
// into key.Elements, one per leading field of fields.
func parseElementList(fields []key.Field, text string) ([]key.Element, error) {
	parts := strings.Split(text, ",")
	if len(parts) > len(fields) {
		return nil, werr.Newf(werr.InvalidArgument, "wtadmin: %d bound values exceeds index's %d key columns", len(parts), len(fields))
	}
	elements := make([]key.Element, len(parts))
	for i, p := range parts {
		c := fields[i].Column
		cell, err := row.ParseCell(c, p)
		if err != nil {
			return nil, err
		}
		el := key.Element{}
		switch c.ElementType {
		case column.Unsigned:
			el.Unsigned = cell.Unsigned[0]
			el.Missing = cell.Missing[0]
		case column.Signed:
			el.Signed = cell.Signed[0]
			el.Missing = cell.Missing[0]
		case column.Float:
			el.Float = cell.Float[0]
			el.Missing = cell.Missing[0]
		case column.Char:
			el.Char = cell.Char
		}
		elements[i] = el
	}
	return elements, nil
}
