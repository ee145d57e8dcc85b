// Package table implements the table store: the home-directory-backed
// lifecycle that composes a row.Codec, a writebuffer.WriteBuffer
// (write mode) or a store.Store primary B-tree plus data file (read
// mode), and the table.xml/table.db/table.db.dat promotion discipline
// of internal/wtdb.
//
// It also owns the secondary-index lifecycle: declaring, building,
// opening, listing, and dropping indexes under the same home
// directory, parented to an open-for-read Table, composing the index
// and metadata packages the way the table itself composes writebuffer
// and store.
package table

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/jeromekelleher/wormtable/column"
	"github.com/jeromekelleher/wormtable/index"
	"github.com/jeromekelleher/wormtable/internal/werr"
	"github.com/jeromekelleher/wormtable/internal/wtdb"
	"github.com/jeromekelleher/wormtable/key"
	"github.com/jeromekelleher/wormtable/metadata"
	"github.com/jeromekelleher/wormtable/row"
	"github.com/jeromekelleher/wormtable/store"
	"github.com/jeromekelleher/wormtable/writebuffer"
)

// RowIDColumnName is the name of the automatically-prepended primary row
// identifier column.
const RowIDColumnName = "row_id"

const (
	tableStoreFile = "table.db"
	tableDataFile  = "table.db.dat"
	tableMetaFile  = "table.xml"
	tableCountFile = "table.count"

	indexStorePrefix  = "index_"
	indexStoreSuffix  = ".db"
	indexMetaSuffix   = ".xml"
	indexFilterSuffix = ".bloom"
)

func indexStoreName(name string) string  { return indexStorePrefix + name + indexStoreSuffix }
func indexMetaName(name string) string   { return indexStorePrefix + name + indexMetaSuffix }
func indexFilterName(name string) string { return indexStorePrefix + name + indexFilterSuffix }

// Builder accumulates column declarations for a new table,
// automatically prepending the row-id column before any user column is
// added.
type Builder struct {
	columns []*column.Column
}

// NewBuilder returns a Builder whose column list already holds the
// automatic row-id column.
func NewBuilder() *Builder {
	rowID, err := column.New(RowIDColumnName, "primary row identifier", column.Unsigned, 8, 1)
	if err != nil {
		panic("table: invalid built-in row-id column: " + err.Error())
	}
	return &Builder{columns: []*column.Column{rowID}}
}

// AddColumn declares one user column, in order. It fails with
// InvalidArgument for a reserved or duplicate name, or an invalid
// descriptor.
func (b *Builder) AddColumn(name, description string, elementType column.ElementType, elementSize, elementCount int) error {
	if name == RowIDColumnName {
		return werr.Newf(werr.InvalidArgument, "table: %q is reserved for the automatic row-id column", RowIDColumnName)
	}
	for _, existing := range b.columns {
		if existing.Name == name {
			return werr.Newf(werr.InvalidArgument, "table: duplicate column name %q", name)
		}
	}
	c, err := column.New(name, description, elementType, elementSize, elementCount)
	if err != nil {
		return err
	}
	b.columns = append(b.columns, c)
	return nil
}

// Columns returns the declared column list, row-id column first.
func (b *Builder) Columns() []*column.Column { return b.columns }

type mode int

const (
	modeClosed mode = iota
	modeRead
	modeWrite
)

// Table is an open handle onto one home directory, in either write mode
// (accumulating appended rows) or read mode (serving random access and
// cursors over a sealed table).
type Table struct {
	dir     string
	columns []*column.Column
	codec   *row.Codec
	mode    mode

	primary *store.Store // write mode: the in-flight build store
	wb      *writebuffer.WriteBuffer

	readStore *store.Store // read mode
	dataFile  *os.File
	numRows   uint64
}

// Create declares a new table of columns (which must already include the
// row-id column, as produced by Builder) under dir and opens it for
// writing, creating build-suffixed files. It fails with AlreadyOpen if
// a sealed table already exists in dir.
func Create(dir string, columns []*column.Column) (*Table, error) {
	if err := wtdb.EnsureHomeDir(dir); err != nil {
		return nil, err
	}
	if wtdb.Exists(dir, tableStoreFile) {
		return nil, werr.Newf(werr.AlreadyOpen, "table: a sealed table already exists in %s", dir)
	}
	codec, err := row.NewCodec(columns)
	if err != nil {
		return nil, err
	}
	primary, err := store.Create(wtdb.BuildPath(dir, tableStoreFile))
	if err != nil {
		return nil, err
	}
	wb, err := writebuffer.Open(wtdb.BuildPath(dir, tableDataFile), primary, writebuffer.DefaultMaxBufferSize, 0)
	if err != nil {
		primary.Close()
		return nil, err
	}
	return &Table{
		dir:     dir,
		columns: columns,
		codec:   codec,
		mode:    modeWrite,
		primary: primary,
		wb:      wb,
	}, nil
}

// Open opens a previously sealed table in dir for reading. It fails with
// NotFound if the sealed files are absent; a crashed writer's
// build-suffixed files are invisible here.
func Open(dir string) (*Table, error) {
	if !wtdb.Exists(dir, tableStoreFile) {
		return nil, werr.Newf(werr.NotFound, "table: no sealed table in %s", dir)
	}
	columns, err := metadata.ReadSchema(wtdb.FinalPath(dir, tableMetaFile))
	if err != nil {
		return nil, err
	}
	codec, err := row.NewCodec(columns)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(wtdb.FinalPath(dir, tableStoreFile))
	if err != nil {
		return nil, err
	}
	f, err := os.Open(wtdb.FinalPath(dir, tableDataFile))
	if err != nil {
		st.Close()
		return nil, werr.Wrapf(werr.IOError, err, "table: open %s", tableDataFile)
	}
	n, err := readCountFile(wtdb.FinalPath(dir, tableCountFile))
	if err != nil {
		st.Close()
		f.Close()
		return nil, err
	}
	return &Table{
		dir:       dir,
		columns:   columns,
		codec:     codec,
		mode:      modeRead,
		readStore: st,
		dataFile:  f,
		numRows:   n,
	}, nil
}

// Columns returns the table's column list, row-id column first.
func (t *Table) Columns() []*column.Column { return t.columns }

// FixedRegionSize returns the per-table constant byte width of a row's
// fixed region, which is also the minimum encoded row size.
func (t *Table) FixedRegionSize() int { return t.codec.FixedSize() }

// Append encodes and commits one row, in write mode, returning its
// assigned row-id. The row-id column (cells[0]) is assigned
// automatically, starting at 0 and increasing monotonically; whatever
// value the caller supplies there is overwritten.
func (t *Table) Append(cells []row.Cell) (uint64, error) {
	if t.mode != modeWrite {
		return 0, werr.New(werr.WrongMode, "table: Append requires an open-for-write table")
	}
	if len(cells) > 0 {
		cells[0] = rowIDCell(t.wb.NextRowID())
	}
	encoded, err := t.codec.Encode(cells)
	if err != nil {
		return 0, err
	}
	return t.wb.CommitRow(encoded)
}

// AppendText parses one textual field per column and commits the
// resulting row, in write mode. The row-id field is assigned
// automatically, the same as Append.
func (t *Table) AppendText(fields []string) (uint64, error) {
	if t.mode != modeWrite {
		return 0, werr.New(werr.WrongMode, "table: AppendText requires an open-for-write table")
	}
	if len(fields) != len(t.columns) {
		return 0, werr.Newf(werr.CountMismatch, "table: got %d text fields, table has %d columns", len(fields), len(t.columns))
	}
	cells := make([]row.Cell, len(t.columns))
	for i, c := range t.columns {
		if i == 0 {
			cells[0] = rowIDCell(t.wb.NextRowID())
			continue
		}
		cell, err := row.ParseCell(c, fields[i])
		if err != nil {
			return 0, err
		}
		cells[i] = cell
	}
	encoded, err := t.codec.Encode(cells)
	if err != nil {
		return 0, err
	}
	return t.wb.CommitRow(encoded)
}

func rowIDCell(id uint64) row.Cell {
	return row.Cell{Unsigned: []uint64{id}, Missing: []bool{false}}
}

// NumRows returns the sealed row count in read mode, or the number of
// rows committed so far in write mode.
func (t *Table) NumRows() uint64 {
	if t.mode == modeWrite {
		return t.wb.NumRows()
	}
	return t.numRows
}

// GetRow returns the decoded tuple for rowID, in read mode. It fails
// with OutOfRange if rowID >= NumRows.
func (t *Table) GetRow(rowID uint64) ([]row.Cell, error) {
	if t.mode != modeRead {
		return nil, werr.New(werr.WrongMode, "table: GetRow requires an open-for-read table")
	}
	return t.DecodeRow(rowID)
}

// DecodeRow is GetRow without the mode gate; it satisfies
// index.RowSource so index.Build can read rows directly off an
// open-for-read Table.
func (t *Table) DecodeRow(rowID uint64) ([]row.Cell, error) {
	if rowID >= t.numRows {
		return nil, werr.Newf(werr.OutOfRange, "table: row-id %d >= num_rows %d", rowID, t.numRows)
	}
	v, found, err := t.readStore.Get(writebuffer.EncodeRowIDKey(rowID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, werr.Newf(werr.CorruptMetadata, "table: primary store missing entry for row-id %d", rowID)
	}
	offset, length := writebuffer.DecodeOffsetLength(v)
	buf, err := writebuffer.ReadFrame(t.dataFile, offset, length)
	if err != nil {
		return nil, err
	}
	return t.codec.Decode(buf)
}

// RowIterator returns a lazy, forward, non-restartable iterator over
// [minRowID, maxRowID), projected to requestedColumns (nil selects every
// column). maxRowID == 0 means NumRows(); the iterator is empty if
// minRowID >= the effective maxRowID.
func (t *Table) RowIterator(requestedColumns []int, minRowID, maxRowID uint64) (*RowIterator, error) {
	if t.mode != modeRead {
		return nil, werr.New(werr.WrongMode, "table: RowIterator requires an open-for-read table")
	}
	if maxRowID == 0 || maxRowID > t.numRows {
		maxRowID = t.numRows
	}
	if minRowID >= maxRowID {
		return &RowIterator{t: t, done: true}, nil
	}
	it, err := t.readStore.Iterator(writebuffer.EncodeRowIDKey(minRowID), writebuffer.EncodeRowIDKey(maxRowID))
	if err != nil {
		return nil, err
	}
	return &RowIterator{t: t, it: it, requestedColumns: requestedColumns}, nil
}

// RowIterator walks decoded rows, in row-id order, over a bounded range
// of a Table. Closing the owning Table while a RowIterator is live fails
// the next Next call with OperationOnClosed.
type RowIterator struct {
	t                *Table
	it               *store.Iterator
	requestedColumns []int
	cur              []row.Cell
	done             bool
	err              error
}

// Next advances the iterator, returning false at the end of the range,
// when the owning Table has closed, or on error (check Err).
func (ri *RowIterator) Next() bool {
	if ri.done || ri.err != nil {
		return false
	}
	if ri.t.mode == modeClosed {
		ri.err = werr.New(werr.OperationOnClosed, "table: RowIterator advanced after its table closed")
		return false
	}
	if ri.it == nil {
		ri.done = true
		return false
	}
	if !ri.it.Next() {
		ri.done = true
		ri.err = ri.it.Err()
		return false
	}
	offset, length := writebuffer.DecodeOffsetLength(ri.it.Value())
	buf, err := writebuffer.ReadFrame(ri.t.dataFile, offset, length)
	if err != nil {
		ri.err = err
		return false
	}
	cells, err := ri.t.codec.Decode(buf)
	if err != nil {
		ri.err = err
		return false
	}
	if ri.requestedColumns != nil {
		cells = projectCells(cells, ri.requestedColumns)
	}
	ri.cur = cells
	return true
}

// Row returns the current row's cells. Valid only after Next returns
// true.
func (ri *RowIterator) Row() []row.Cell { return ri.cur }

// Err returns the first error encountered during iteration, if any.
func (ri *RowIterator) Err() error { return ri.err }

// Close closes a Table. In write mode it flushes the write buffer,
// finalizes the primary store, writes the schema and row-count
// sidecars, and promotes every build file to its sealed name. In read
// mode it releases the store and data file handles.
func (t *Table) Close() error {
	switch t.mode {
	case modeClosed:
		return werr.New(werr.NotOpen, "table: already closed")
	case modeWrite:
		return t.closeWrite()
	default:
		t.mode = modeClosed
		if err := t.readStore.Close(); err != nil {
			return err
		}
		if err := t.dataFile.Close(); err != nil {
			return werr.Wrap(werr.IOError, err, "table: close data file")
		}
		return nil
	}
}

func (t *Table) closeWrite() error {
	n := t.wb.NumRows()
	if err := t.wb.Close(); err != nil {
		return err
	}
	if err := t.primary.Close(); err != nil {
		return err
	}
	if err := metadata.WriteSchema(wtdb.BuildPath(t.dir, tableMetaFile), t.columns); err != nil {
		return err
	}
	if err := writeCountFile(wtdb.BuildPath(t.dir, tableCountFile), n); err != nil {
		return err
	}
	if err := wtdb.PromoteAll(t.dir, tableStoreFile, tableDataFile, tableMetaFile, tableCountFile); err != nil {
		return err
	}
	t.mode = modeClosed
	return nil
}

func (t *Table) columnByName(name string) *column.Column {
	for _, c := range t.columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func projectCells(cells []row.Cell, columns []int) []row.Cell {
	out := make([]row.Cell, len(columns))
	for i, idx := range columns {
		out[i] = cells[idx]
	}
	return out
}

func writeCountFile(path string, n uint64) error {
	if err := os.WriteFile(path, []byte(strconv.FormatUint(n, 10)), 0o644); err != nil {
		return werr.Wrapf(werr.IOError, err, "table: write %s", filepath.Base(path))
	}
	return nil
}

func readCountFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, werr.Wrapf(werr.IOError, err, "table: read %s", filepath.Base(path))
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, werr.Wrapf(werr.CorruptMetadata, err, "table: parse %s", filepath.Base(path))
	}
	return n, nil
}

// IndexColumnSpec names one key column of an index to be declared, by
// name within the parent table's schema, with an optional numeric
// bucket width.
type IndexColumnSpec struct {
	Name        string
	BucketWidth float64
}

// BuildIndex declares and builds a secondary index named name over the
// given ordered key columns, parented to this open-for-read table,
// then opens it for queries. Any encoding error aborts the build and
// discards the partially built files.
func (t *Table) BuildIndex(name string, specs []IndexColumnSpec, opts index.BuildOptions) (*Index, error) {
	if t.mode != modeRead {
		return nil, werr.New(werr.WrongMode, "table: BuildIndex requires an open-for-read table")
	}
	fields, err := t.resolveFields(name, specs)
	if err != nil {
		return nil, err
	}
	storeBuildPath := wtdb.BuildPath(t.dir, indexStoreName(name))
	filter, err := index.Build(t, fields, storeBuildPath, opts)
	if err != nil {
		os.Remove(storeBuildPath)
		return nil, err
	}
	filterBuildPath := wtdb.BuildPath(t.dir, indexFilterName(name))
	if err := writeBloomFilter(filterBuildPath, filter); err != nil {
		os.Remove(storeBuildPath)
		return nil, err
	}
	metaSpecs := make([]metadata.KeyColumnSpec, len(specs))
	for i, s := range specs {
		metaSpecs[i] = metadata.KeyColumnSpec{Name: s.Name, BucketWidth: s.BucketWidth}
	}
	metaBuildPath := wtdb.BuildPath(t.dir, indexMetaName(name))
	if err := metadata.WriteIndexMeta(metaBuildPath, metaSpecs); err != nil {
		os.Remove(storeBuildPath)
		os.Remove(filterBuildPath)
		return nil, err
	}
	if err := wtdb.PromoteAll(t.dir, indexStoreName(name), indexFilterName(name), indexMetaName(name)); err != nil {
		return nil, err
	}
	return t.OpenIndex(name)
}

func (t *Table) resolveFields(indexName string, specs []IndexColumnSpec) ([]key.Field, error) {
	if len(specs) == 0 {
		return nil, werr.Newf(werr.InvalidArgument, "table: index %q declares no key columns", indexName)
	}
	fields := make([]key.Field, len(specs))
	for i, s := range specs {
		c := t.columnByName(s.Name)
		if c == nil {
			return nil, werr.Newf(werr.InvalidArgument, "table: index %q: no such column %q", indexName, s.Name)
		}
		fields[i] = key.Field{Column: c, BucketWidth: s.BucketWidth}
	}
	return fields, nil
}

// OpenIndex opens a previously built index named name, parented to this
// open-for-read table. It fails with NotFound if no such index exists.
func (t *Table) OpenIndex(name string) (*Index, error) {
	if t.mode != modeRead {
		return nil, werr.New(werr.WrongMode, "table: OpenIndex requires an open-for-read table")
	}
	if !wtdb.Exists(t.dir, indexStoreName(name)) {
		return nil, werr.Newf(werr.NotFound, "table: no index named %q", name)
	}
	specs, err := metadata.ReadIndexMeta(wtdb.FinalPath(t.dir, indexMetaName(name)))
	if err != nil {
		return nil, err
	}
	fields := make([]key.Field, len(specs))
	for i, s := range specs {
		c := t.columnByName(s.Name)
		if c == nil {
			return nil, werr.Newf(werr.CorruptMetadata, "table: index %q: sidecar names unknown column %q", name, s.Name)
		}
		fields[i] = key.Field{Column: c, BucketWidth: s.BucketWidth}
	}
	filter, err := readBloomFilter(wtdb.FinalPath(t.dir, indexFilterName(name)))
	if err != nil {
		return nil, err
	}
	rd, err := index.OpenReader(wtdb.FinalPath(t.dir, indexStoreName(name)), fields, filter)
	if err != nil {
		return nil, err
	}
	return &Index{table: t, name: name, fields: fields, reader: rd}, nil
}

// ListIndexes returns the names of every built index under the table's
// home directory, in ascending order.
func (t *Table) ListIndexes() ([]string, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, werr.Wrapf(werr.IOError, err, "table: list %s", t.dir)
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		n := e.Name()
		if strings.HasPrefix(n, indexStorePrefix) && strings.HasSuffix(n, indexStoreSuffix) {
			seen[strings.TrimSuffix(strings.TrimPrefix(n, indexStorePrefix), indexStoreSuffix)] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// DropIndex removes every file belonging to the index named name. It is
// not an error if some or all of them are already absent.
func (t *Table) DropIndex(name string) error {
	for _, f := range []string{indexStoreName(name), indexMetaName(name), indexFilterName(name)} {
		p := wtdb.FinalPath(t.dir, f)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return werr.Wrapf(werr.IOError, err, "table: remove %s", f)
		}
	}
	return nil
}

func writeBloomFilter(path string, filter *bloom.BloomFilter) error {
	f, err := os.Create(path)
	if err != nil {
		return werr.Wrapf(werr.IOError, err, "table: create %s", filepath.Base(path))
	}
	defer f.Close()
	if _, err := filter.WriteTo(f); err != nil {
		return werr.Wrapf(werr.IOError, err, "table: write %s", filepath.Base(path))
	}
	return nil
}

func readBloomFilter(path string) (*bloom.BloomFilter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, werr.Wrapf(werr.IOError, err, "table: open %s", filepath.Base(path))
	}
	defer f.Close()
	filter := &bloom.BloomFilter{}
	if _, err := filter.ReadFrom(f); err != nil {
		return nil, werr.Wrapf(werr.CorruptMetadata, err, "table: parse %s", filepath.Base(path))
	}
	return filter, nil
}

// Index is an open handle onto one secondary index, parented to an
// open-for-read Table and following the same open/close lifecycle.
type Index struct {
	table  *Table
	name   string
	fields []key.Field
	reader *index.Reader
}

// Name returns the index's declared name.
func (ix *Index) Name() string { return ix.name }

// Fields returns the index's ordered key-column/bucket-width list.
func (ix *Index) Fields() []key.Field { return ix.fields }

// Close releases the index's underlying store handle.
func (ix *Index) Close() error { return ix.reader.Close() }

// GetMin returns the smallest composite key tuple sharing prefix.
func (ix *Index) GetMin(prefix []key.Element) ([]key.Element, error) { return ix.reader.GetMin(prefix) }

// GetMax returns the largest composite key tuple sharing prefix.
func (ix *Index) GetMax(prefix []key.Element) ([]key.Element, error) { return ix.reader.GetMax(prefix) }

// NumRows returns the number of rows whose composite key equals fullKey
// exactly.
func (ix *Index) NumRows(fullKey []key.Element) (uint64, error) { return ix.reader.NumRows(fullKey) }

// DistinctKeysIterator walks every distinct composite key in ascending
// order, once each.
func (ix *Index) DistinctKeysIterator() (*index.DistinctKeyIterator, error) {
	return ix.reader.DistinctKeysIterator()
}

// RowIterator returns rows whose composite key k satisfies minPrefix <=
// k < maxPrefix, decoded via the parent table and projected to
// requestedColumns (nil selects every column).
func (ix *Index) RowIterator(requestedColumns []int, minPrefix, maxPrefix []key.Element) (*IndexRowIterator, error) {
	rit, err := ix.reader.RowIDIterator(minPrefix, maxPrefix)
	if err != nil {
		return nil, err
	}
	return &IndexRowIterator{table: ix.table, it: rit, requestedColumns: requestedColumns}, nil
}

// IndexRowIterator walks rows in index order: (composite-key, row-id)
// order, decoded via the parent Table Store.
type IndexRowIterator struct {
	table            *Table
	it               *index.RowIDIterator
	requestedColumns []int
	cur              []row.Cell
	err              error
}

// Next advances the iterator, returning false at the end of the range,
// when the owning table has closed, or on error (check Err).
func (it *IndexRowIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.table.mode == modeClosed {
		it.err = werr.New(werr.OperationOnClosed, "table: IndexRowIterator advanced after its table closed")
		return false
	}
	if !it.it.Next() {
		it.err = it.it.Err()
		return false
	}
	cells, err := it.table.DecodeRow(it.it.RowID())
	if err != nil {
		it.err = err
		return false
	}
	if it.requestedColumns != nil {
		cells = projectCells(cells, it.requestedColumns)
	}
	it.cur = cells
	return true
}

// Row returns the current row's cells. Valid only after Next returns
// true.
func (it *IndexRowIterator) Row() []row.Cell { return it.cur }

// RowID returns the current row's row-id. Valid only after Next returns
// true.
func (it *IndexRowIterator) RowID() uint64 { return it.it.RowID() }

// Err returns the first error encountered during iteration, if any.
func (it *IndexRowIterator) Err() error { return it.err }
