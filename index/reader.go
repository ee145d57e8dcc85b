package index

import (
	"bytes"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/jeromekelleher/wormtable/internal/werr"
	"github.com/jeromekelleher/wormtable/key"
	"github.com/jeromekelleher/wormtable/store"
)

// Reader serves read-only access to a built index: prefix-bounded
// lookups and range scans over its ordered composite-key store.
type Reader struct {
	st     *store.Store
	enc    *key.Encoder
	filter *bloom.BloomFilter
	closed bool
}

// OpenReader opens the ordered-key store at storePath for the given
// key fields. filter may be nil, in which case every lookup falls
// through to the store instead of being able to short-circuit on a
// bloom-filter miss.
func OpenReader(storePath string, fields []key.Field, filter *bloom.BloomFilter) (*Reader, error) {
	enc, err := key.NewEncoder(fields)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(storePath)
	if err != nil {
		return nil, err
	}
	return &Reader{st: st, enc: enc, filter: filter}, nil
}

// Close releases the underlying store handle. Any DistinctKeyIterator
// or RowIDIterator obtained from this Reader fails with
// OperationOnClosed on its next advance.
func (r *Reader) Close() error {
	r.closed = true
	return r.st.Close()
}

// MayContain reports whether the composite key for elements (a full
// key, excluding row-id) could be present, using the bloom filter when
// one was supplied. A false result is definitive; a true result needs
// confirmation against the store.
func (r *Reader) MayContain(elements []key.Element) (bool, error) {
	if r.filter == nil {
		return true, nil
	}
	prefix, err := r.enc.EncodePrefix(elements)
	if err != nil {
		return false, err
	}
	return r.filter.Test(prefix), nil
}

// incrementBytes returns the lexicographically smallest byte string
// strictly greater than every string with prefix b, by incrementing
// the last non-0xFF byte and truncating what follows. ok is false if
// b is all 0xFF (or empty), meaning there is no finite upper bound.
func incrementBytes(b []byte) (out []byte, ok bool) {
	out = append([]byte(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1], true
		}
	}
	return nil, false
}

// prefixRange returns the half-open [min, max) store key range that
// contains exactly the entries whose composite key shares the given
// element prefix.
func (r *Reader) prefixRange(elements []key.Element) (min, max []byte, err error) {
	min, err = r.enc.EncodePrefix(elements)
	if err != nil {
		return nil, nil, err
	}
	max, ok := incrementBytes(min)
	if !ok {
		max = nil
	}
	return min, max, nil
}

// GetMin returns the smallest composite key tuple whose leading
// len(prefix) components equal prefix, decoded into one Element per
// key field (in encoder field order, bucket-adjusted). It fails with
// NotFound if no key has this prefix.
func (r *Reader) GetMin(prefix []key.Element) ([]key.Element, error) {
	min, max, err := r.prefixRange(prefix)
	if err != nil {
		return nil, err
	}
	it, err := r.st.Iterator(min, max)
	if err != nil {
		return nil, err
	}
	if !it.Next() {
		return nil, werr.New(werr.NotFound, "index: no key with the given prefix")
	}
	return r.enc.DecodeFields(it.Key())
}

// GetMax returns the largest composite key tuple whose leading
// len(prefix) components equal prefix, decoded the same way as
// GetMin. It fails with NotFound if no key has this prefix.
func (r *Reader) GetMax(prefix []key.Element) ([]key.Element, error) {
	min, max, err := r.prefixRange(prefix)
	if err != nil {
		return nil, err
	}
	it, err := r.st.Iterator(min, max)
	if err != nil {
		return nil, err
	}
	var last []byte
	for it.Next() {
		last = append(last[:0], it.Key()...)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if last == nil {
		return nil, werr.New(werr.NotFound, "index: no key with the given prefix")
	}
	return r.enc.DecodeFields(last)
}

// NumRows returns the number of rows whose composite key equals
// fullKey exactly (fullKey must supply one Element per key field).
// A bloom-filter miss answers 0 without touching the store.
func (r *Reader) NumRows(fullKey []key.Element) (uint64, error) {
	if len(fullKey) != len(r.enc.Fields()) {
		return 0, werr.Newf(werr.InvalidArgument, "index: NumRows requires a full key of %d fields, got %d", len(r.enc.Fields()), len(fullKey))
	}
	may, err := r.MayContain(fullKey)
	if err != nil {
		return 0, err
	}
	if !may {
		return 0, nil
	}
	min, max, err := r.prefixRange(fullKey)
	if err != nil {
		return 0, err
	}
	it, err := r.st.Iterator(min, max)
	if err != nil {
		return 0, err
	}
	var count uint64
	for it.Next() {
		count++
	}
	return count, it.Err()
}

// DistinctKeyIterator walks every distinct composite key in ascending
// order, once each.
type DistinctKeyIterator struct {
	r    *Reader
	it   *store.Iterator
	prev []byte
	cur  []key.Element
	err  error
}

// DistinctKeysIterator returns a forward, non-restartable iterator
// over every distinct composite key, in ascending order.
func (r *Reader) DistinctKeysIterator() (*DistinctKeyIterator, error) {
	it, err := r.st.Iterator(nil, nil)
	if err != nil {
		return nil, err
	}
	return &DistinctKeyIterator{r: r, it: it}, nil
}

// Next advances to the next distinct key, returning false at the end
// of the index, when the owning index has closed, or on error (check
// Err).
func (d *DistinctKeyIterator) Next() bool {
	if d.err != nil {
		return false
	}
	if d.r.closed {
		d.err = werr.New(werr.OperationOnClosed, "index: DistinctKeysIterator advanced after its index closed")
		return false
	}
	for d.it.Next() {
		k := d.it.Key()
		prefix := k[:len(k)-key.RowIDSize()]
		if d.prev != nil && bytes.Equal(prefix, d.prev) {
			continue
		}
		d.prev = append([]byte(nil), prefix...)
		fields, err := d.r.enc.DecodeFields(k)
		if err != nil {
			d.err = err
			return false
		}
		d.cur = fields
		return true
	}
	d.err = d.it.Err()
	return false
}

// Key returns the current distinct composite key. Valid only after
// Next returns true.
func (d *DistinctKeyIterator) Key() []key.Element { return d.cur }

// Err returns the first error encountered during iteration, if any.
func (d *DistinctKeyIterator) Err() error { return d.err }

// RowIDIterator walks row-ids in index order over a half-open
// [minPrefix, maxPrefix) range of composite keys.
type RowIDIterator struct {
	r     *Reader
	it    *store.Iterator
	rowID uint64
	err   error
}

// RowIDIterator returns a forward, non-restartable iterator over
// row-ids in index order. Rows whose composite key k satisfies
// minPrefix <= k (compared componentwise over len(minPrefix)
// components) are included; rows with k >= maxPrefix (compared the
// same way over len(maxPrefix) components) are excluded. A nil
// minPrefix or maxPrefix leaves that bound unset.
func (r *Reader) RowIDIterator(minPrefix, maxPrefix []key.Element) (*RowIDIterator, error) {
	var min, max []byte
	var err error
	if minPrefix != nil {
		min, err = r.enc.EncodePrefix(minPrefix)
		if err != nil {
			return nil, err
		}
	}
	if maxPrefix != nil {
		max, err = r.enc.EncodePrefix(maxPrefix)
		if err != nil {
			return nil, err
		}
	}
	it, err := r.st.Iterator(min, max)
	if err != nil {
		return nil, err
	}
	return &RowIDIterator{r: r, it: it}, nil
}

// Next advances to the next row-id, returning false at the end of the
// range, when the owning index has closed, or on error (check Err).
func (it *RowIDIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.r.closed {
		it.err = werr.New(werr.OperationOnClosed, "index: RowIDIterator advanced after its index closed")
		return false
	}
	if !it.it.Next() {
		it.err = it.it.Err()
		return false
	}
	it.rowID = decodeRowIDValue(it.it.Value())
	return true
}

// RowID returns the current row-id. Valid only after Next returns
// true.
func (it *RowIDIterator) RowID() uint64 { return it.rowID }

// Err returns the first error encountered during iteration, if any.
func (it *RowIDIterator) Err() error { return it.err }
