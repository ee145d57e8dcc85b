// Package index implements the secondary B-tree: a Build function that
// stages composite keys (plus a bloom filter over them) while
// iterating the parent table, and a Reader that serves min/max
// probes, per-key counts, distinct-key iteration, and prefix-bounded
// row iteration against the built ordered-key store.
//
// Build's in-memory staging structure is memtable.SkipList,
// instantiated as SkipList[string, uint64] over the byte-comparable
// composite key string. The bloom filter gives readers a fast
// negative membership probe over the index's composite keys before
// they pay for a B-tree seek.
package index

import (
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/jeromekelleher/wormtable/internal/werr"
	"github.com/jeromekelleher/wormtable/key"
	"github.com/jeromekelleher/wormtable/memtable"
	"github.com/jeromekelleher/wormtable/row"
	"github.com/jeromekelleher/wormtable/store"
)

// DefaultFlushThreshold bounds how many composite keys are staged in
// memory before an intermediate bulk commit into the ordered-key
// store, during a Build over a large table.
const DefaultFlushThreshold = 100000

// DefaultFalsePositiveRate is the bloom filter's target false-positive
// rate when BuildOptions.FalsePositiveRate is left at zero.
const DefaultFalsePositiveRate = 0.01

// RowSource is the view of the parent table a Builder needs: its row
// count and a way to decode one row's column cells by row-id, in
// declaration order.
type RowSource interface {
	NumRows() uint64
	DecodeRow(rowID uint64) ([]row.Cell, error)
}

// ProgressFunc is invoked after every ProgressInterval rows processed
// during Build; it is purely informational and cannot cancel the
// build.
type ProgressFunc func(rowsProcessed uint64)

// BuildOptions configures a Build call.
type BuildOptions struct {
	Progress          ProgressFunc
	ProgressInterval  uint64
	FlushThreshold    int
	FalsePositiveRate float64
}

// Build iterates every row of src in row-id order, computes each row's
// composite key from fields, and bulk-inserts (composite-key, row-id)
// into a fresh ordered-key store at storePath. It also accumulates a
// bloom filter over the composite keys (excluding the row-id suffix)
// and returns it so the caller can persist it alongside the store.
func Build(src RowSource, fields []key.Field, storePath string, opts BuildOptions) (*bloom.BloomFilter, error) {
	enc, err := key.NewEncoder(fields)
	if err != nil {
		return nil, err
	}
	st, err := store.Create(storePath)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	flushThreshold := opts.FlushThreshold
	if flushThreshold <= 0 {
		flushThreshold = DefaultFlushThreshold
	}
	fpRate := opts.FalsePositiveRate
	if fpRate <= 0 {
		fpRate = DefaultFalsePositiveRate
	}

	n := src.NumRows()
	filter := bloom.NewWithEstimates(estimateCount(n), fpRate)
	staging := memtable.NewSkipListMemtable[string, uint64]()

	flush := func() error {
		if staging.Len() == 0 {
			return nil
		}
		entries := make([]store.Entry, 0, staging.Len())
		for rec := range staging.Iterator() {
			entries = append(entries, store.Entry{Key: []byte(rec.Key), Value: encodeRowID(rec.Value)})
		}
		if err := st.CommitBatch(entries); err != nil {
			return err
		}
		staging = memtable.NewSkipListMemtable[string, uint64]()
		return nil
	}

	for rowID := uint64(0); rowID < n; rowID++ {
		cells, err := src.DecodeRow(rowID)
		if err != nil {
			return nil, werr.Wrapf(werr.IOError, err, "index: decoding row %d", rowID)
		}
		elements := make([]key.Element, len(fields))
		for i, f := range fields {
			elements[i] = cellToElement(f.Column.Position(), cells)
		}
		compositeKey, err := enc.Encode(elements, rowID)
		if err != nil {
			return nil, werr.Wrapf(werr.InvalidArgument, err, "index: building key for row %d", rowID)
		}
		staging.Put(string(compositeKey), rowID)
		filter.Add(compositeKey[:len(compositeKey)-key.RowIDSize()])

		if staging.Len() >= flushThreshold {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		if opts.Progress != nil && opts.ProgressInterval > 0 && (rowID+1)%opts.ProgressInterval == 0 {
			if err := invokeProgress(opts.Progress, rowID+1); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return filter, nil
}

// invokeProgress calls the caller-supplied callback, converting a
// panic inside it into an IOError so a misbehaving callback aborts the
// build with a typed error instead of unwinding through the engine.
func invokeProgress(fn ProgressFunc, rowsProcessed uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = werr.Newf(werr.IOError, "index: progress callback panicked: %v", r)
		}
	}()
	fn(rowsProcessed)
	return nil
}

func estimateCount(n uint64) uint {
	if n == 0 {
		return 1
	}
	return uint(n)
}

func cellToElement(position int, cells []row.Cell) key.Element {
	c := cells[position]
	switch {
	case c.Unsigned != nil:
		return key.Element{Unsigned: c.Unsigned[0], Missing: firstMissing(c.Missing)}
	case c.Signed != nil:
		return key.Element{Signed: c.Signed[0], Missing: firstMissing(c.Missing)}
	case c.Float != nil:
		return key.Element{Float: c.Float[0], Missing: firstMissing(c.Missing)}
	default:
		return key.Element{Char: c.Char}
	}
}

func firstMissing(missing []bool) bool {
	return len(missing) > 0 && missing[0]
}

func encodeRowID(rowID uint64) []byte {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(rowID)
		rowID >>= 8
	}
	return buf
}

func decodeRowIDValue(buf []byte) uint64 {
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v
}
