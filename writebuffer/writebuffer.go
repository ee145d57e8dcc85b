// Package writebuffer implements the row staging buffer: a bounded
// in-memory byte buffer backed by an ever-appending data file, which
// assigns monotonically increasing row-ids and maintains a primary
// ordered-key store mapping row-id to the (offset, length) of its
// encoded bytes in the data file.
//
// Each row is framed on disk with a length and CRC32 header. The
// buffer is synchronous and single-owner: one writer stages rows and
// flushes them itself, there is no background append goroutine.
package writebuffer

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/jeromekelleher/wormtable/internal/werr"
	"github.com/jeromekelleher/wormtable/store"
)

// DefaultMaxBufferSize is the default bound on pending, unflushed row
// bytes.
const DefaultMaxBufferSize = 1 << 20

// frameHeaderSize is the per-row on-disk header: a big-endian uint32
// payload length followed by a big-endian uint32 CRC32 of the payload.
const frameHeaderSize = 8

// primaryKeySize is the width of a row-id key in the primary store.
const primaryKeySize = 8

// primaryValueSize is the width of an (offset, length) primary value:
// an 8-byte offset and a 4-byte length.
const primaryValueSize = 12

type pendingRow struct {
	rowID     uint64
	relOffset int
	length    int
}

// WriteBuffer stages committed rows in memory and periodically flushes
// them, framed and CRC-checked, to an append-only data file, recording
// each row's final (offset, length) in a primary ordered-key store.
type WriteBuffer struct {
	f             *os.File
	primary       *store.Store
	maxBufferSize int

	buf       []byte
	pending   []pendingRow
	fileSize  int64
	nextRowID uint64
}

// Open opens (creating if needed) the data file at dataPath for
// appending, and returns a WriteBuffer that stages rows against it and
// primary. maxBufferSize <= 0 selects DefaultMaxBufferSize.
//
// startRowID is the row-id the next CommitRow call assigns; row-id
// assignment is not derived from the data file or the primary store on
// Open, so a caller appending to existing data supplies it. The table
// package always writes a fresh table and passes 0.
func Open(dataPath string, primary *store.Store, maxBufferSize int, startRowID uint64) (*WriteBuffer, error) {
	f, err := os.OpenFile(dataPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, werr.Wrapf(werr.IOError, err, "writebuffer: open %s", dataPath)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, werr.Wrapf(werr.IOError, err, "writebuffer: stat %s", dataPath)
	}
	if maxBufferSize <= 0 {
		maxBufferSize = DefaultMaxBufferSize
	}
	return &WriteBuffer{
		f:             f,
		primary:       primary,
		maxBufferSize: maxBufferSize,
		fileSize:      info.Size(),
		nextRowID:     startRowID,
	}, nil
}

// NumRows returns the number of rows committed so far, flushed or not.
func (w *WriteBuffer) NumRows() uint64 { return w.nextRowID }

// NextRowID returns the row-id the next CommitRow call will assign,
// without consuming it. The row-id column is part of a row's own
// encoded bytes, so a caller that embeds it needs to know the id
// before it can finish encoding the row to pass to CommitRow; this is
// safe under the single-writer model, since nothing else can advance
// nextRowID in between.
func (w *WriteBuffer) NextRowID() uint64 { return w.nextRowID }

// CommitRow seals encoded as the next row: if the pending buffer plus
// this row would exceed the configured threshold, it flushes first.
// It returns the newly assigned row-id.
func (w *WriteBuffer) CommitRow(encoded []byte) (uint64, error) {
	framed := frameSize(len(encoded))
	if len(w.buf)+framed > w.maxBufferSize && len(w.buf) > 0 {
		if err := w.Flush(); err != nil {
			return 0, err
		}
	}
	rowID := w.nextRowID
	w.nextRowID++

	relOffset := len(w.buf) + frameHeaderSize
	w.buf = appendFrame(w.buf, encoded)
	w.pending = append(w.pending, pendingRow{rowID: rowID, relOffset: relOffset, length: len(encoded)})
	return rowID, nil
}

// Flush writes every pending row's frame to the data file, fsyncs it,
// and commits the corresponding (row-id -> offset, length) entries
// into the primary store in one batch.
func (w *WriteBuffer) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	if _, err := w.f.Write(w.buf); err != nil {
		return werr.Wrap(werr.IOError, err, "writebuffer: write data file")
	}
	if err := w.f.Sync(); err != nil {
		return werr.Wrap(werr.IOError, err, "writebuffer: sync data file")
	}

	entries := make([]store.Entry, len(w.pending))
	for i, p := range w.pending {
		entries[i] = store.Entry{
			Key:   encodeRowIDKey(p.rowID),
			Value: encodeOffsetLength(w.fileSize+int64(p.relOffset), p.length),
		}
	}
	if err := w.primary.CommitBatch(entries); err != nil {
		return werr.Wrap(werr.IOError, err, "writebuffer: commit primary index batch")
	}

	w.fileSize += int64(len(w.buf))
	w.buf = w.buf[:0]
	w.pending = w.pending[:0]
	return nil
}

// Close flushes any pending rows and closes the data file handle.
func (w *WriteBuffer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if err := w.f.Close(); err != nil {
		return werr.Wrap(werr.IOError, err, "writebuffer: close data file")
	}
	return nil
}

func frameSize(payloadLen int) int { return frameHeaderSize + payloadLen }

func appendFrame(dst, payload []byte) []byte {
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))
	dst = append(dst, header[:]...)
	dst = append(dst, payload...)
	return dst
}

// encodeRowIDKey returns the primary store's lookup key for rowID.
func encodeRowIDKey(rowID uint64) []byte {
	buf := make([]byte, primaryKeySize)
	binary.BigEndian.PutUint64(buf, rowID)
	return buf
}

// EncodeRowIDKey is encodeRowIDKey, exported for the table package's row
// reader, which looks up and range-scans row bytes directly against the
// primary store by row-id.
func EncodeRowIDKey(rowID uint64) []byte { return encodeRowIDKey(rowID) }

// ReadFrame reads back the row whose payload a primary-store entry
// locates at (offset, length) in the data file, verifying the frame
// header written by Flush: the stored payload length must agree with
// the primary entry and the payload must match its CRC32. It fails
// with CorruptMetadata on either mismatch.
func ReadFrame(r io.ReaderAt, offset int64, length int) ([]byte, error) {
	if offset < frameHeaderSize {
		return nil, werr.Newf(werr.CorruptMetadata, "writebuffer: row offset %d inside frame header", offset)
	}
	buf := make([]byte, frameHeaderSize+length)
	if _, err := r.ReadAt(buf, offset-frameHeaderSize); err != nil {
		return nil, werr.Wrap(werr.IOError, err, "writebuffer: read row frame")
	}
	storedLen := binary.BigEndian.Uint32(buf[0:4])
	storedCRC := binary.BigEndian.Uint32(buf[4:8])
	payload := buf[frameHeaderSize:]
	if int(storedLen) != length {
		return nil, werr.Newf(werr.CorruptMetadata, "writebuffer: frame length %d disagrees with primary index length %d", storedLen, length)
	}
	if crc32.ChecksumIEEE(payload) != storedCRC {
		return nil, werr.New(werr.CorruptMetadata, "writebuffer: row frame checksum mismatch")
	}
	return payload, nil
}

func encodeOffsetLength(offset int64, length int) []byte {
	buf := make([]byte, primaryValueSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(offset))
	binary.BigEndian.PutUint32(buf[8:12], uint32(length))
	return buf
}

// DecodeOffsetLength reverses encodeOffsetLength; exported for the
// table package's row reader.
func DecodeOffsetLength(buf []byte) (offset int64, length int) {
	offset = int64(binary.BigEndian.Uint64(buf[0:8]))
	length = int(binary.BigEndian.Uint32(buf[8:12]))
	return offset, length
}
