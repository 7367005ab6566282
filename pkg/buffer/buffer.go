// Package buffer provides memory-efficient data storage with disk spilling.
package buffer

import (
	"bytes"
	"io"
	"os"

	"github.com/kitsuhttp/rawhttp/pkg/errors"
)

// DefaultMemoryLimit is the default memory threshold before spilling to disk.
const DefaultMemoryLimit = 4 * 1024 * 1024 // 4MB

// Buffer stores data either in memory or spooled to a temporary file once it
// grows past a memory threshold, and optionally enforces a hard capacity
// (the Client's bodylimit) that turns Write into a LimitError
// instead of growing further.
//
// A Client and Agent are single-threaded per request (see the concurrency
// model in the agent package); Buffer carries no internal lock.
type Buffer struct {
	buf    bytes.Buffer
	file   *os.File
	path   string
	size   int64
	limit  int64 // memory-before-spill threshold
	cap    int64 // hard capacity; 0 means unbounded
	closed bool
}

// New creates a new Buffer that spills to disk past limit bytes in memory
// and never enforces a hard capacity.
func New(limit int64) *Buffer {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Buffer{limit: limit}
}

// NewCapped creates a Buffer that spills to disk past memLimit bytes and
// rejects writes once the total written would exceed cap bytes, surfacing
// errors.ErrorTypeLimit. cap == 0 means unbounded.
func NewCapped(memLimit, cap int64) *Buffer {
	b := New(memLimit)
	b.cap = cap
	return b
}

// NewWithData creates a buffer pre-populated with existing data.
func NewWithData(data []byte) *Buffer {
	b := &Buffer{limit: DefaultMemoryLimit, size: int64(len(data))}
	b.buf.Write(data)
	return b
}

// Write stores p, spilling to disk once the in-memory portion exceeds the
// configured memory threshold. If a hard capacity is set and would be
// exceeded, Write stores nothing and returns a LimitError.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.closed {
		return 0, errors.NewIOError("buffer is closed", nil)
	}

	if b.cap > 0 && b.size+int64(len(p)) > b.cap {
		return 0, errors.NewLimitError("write", "buffer capacity exceeded")
	}

	b.size += int64(len(p))

	if b.file == nil && int64(b.buf.Len()+len(p)) <= b.limit {
		return b.buf.Write(p)
	}

	if b.file == nil {
		tmp, err := os.CreateTemp("", "rawhttp-buffer-*.tmp")
		if err != nil {
			return 0, errors.NewIOError("creating temp file", err)
		}
		b.file = tmp
		b.path = tmp.Name()

		if b.buf.Len() > 0 {
			if _, err := tmp.Write(b.buf.Bytes()); err != nil {
				b.Close()
				return 0, errors.NewIOError("writing to temp file", err)
			}
		}
		b.buf.Reset()
	}

	n, err := b.file.Write(p)
	if err != nil {
		return n, errors.NewIOError("writing to temp file", err)
	}
	return n, nil
}

// Bytes returns the in-memory data. If the payload spilled to disk this is empty.
func (b *Buffer) Bytes() []byte {
	if b.file != nil {
		return nil
	}
	return b.buf.Bytes()
}

// Path returns the filesystem path backing the spilled payload, if any.
func (b *Buffer) Path() string { return b.path }

// Size returns the total number of bytes written.
func (b *Buffer) Size() int64 { return b.size }

// IsSpilled reports whether the buffer has spilled to disk.
func (b *Buffer) IsSpilled() bool { return b.file != nil }

// Reader returns a fresh reader over the stored data.
func (b *Buffer) Reader() (io.ReadCloser, error) {
	if b.closed {
		return nil, errors.NewIOError("buffer is closed", nil)
	}

	if b.file != nil {
		if err := b.file.Sync(); err != nil {
			return nil, errors.NewIOError("syncing temp file", err)
		}
		f, err := os.Open(b.path)
		if err != nil {
			return nil, errors.NewIOError("opening temp file for reading", err)
		}
		return f, nil
	}

	return io.NopCloser(bytes.NewReader(b.buf.Bytes())), nil
}

// Close flushes and removes any spilled temp file. Idempotent.
func (b *Buffer) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	if b.file != nil {
		err := b.file.Close()
		if removeErr := os.Remove(b.path); removeErr != nil && err == nil {
			err = removeErr
		}
		b.file = nil
		b.path = ""
		if err != nil {
			return errors.NewIOError("closing temp file", err)
		}
	}
	return nil
}
