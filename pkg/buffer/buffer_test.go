package buffer

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/kitsuhttp/rawhttp/pkg/errors"
)

func TestWriteStaysInMemoryUnderLimit(t *testing.T) {
	b := New(64)
	defer b.Close()

	if _, err := b.Write([]byte("small payload")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.IsSpilled() {
		t.Fatal("expected payload to stay in memory")
	}
	if got := b.Bytes(); string(got) != "small payload" {
		t.Fatalf("got %q", got)
	}
}

func TestWriteSpillsToDiskPastLimit(t *testing.T) {
	b := New(8)
	defer b.Close()

	payload := bytes.Repeat([]byte("x"), 32)
	if _, err := b.Write(payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.IsSpilled() {
		t.Fatal("expected spill to disk")
	}
	if b.Path() == "" {
		t.Fatal("expected a backing file path")
	}

	r, err := b.Reader()
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	got, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %d bytes, want %d", len(got), len(payload))
	}
}

func TestCappedWriteRejectsOverflow(t *testing.T) {
	b := NewCapped(64, 5)
	defer b.Close()

	if _, err := b.Write([]byte("12345")); err != nil {
		t.Fatalf("write at exact capacity must succeed: %v", err)
	}
	_, err := b.Write([]byte("6"))
	if err == nil || !errors.IsLimitError(err) {
		t.Fatalf("expected limit error, got %v", err)
	}
	if b.Size() != 5 {
		t.Fatalf("rejected write must not grow size, got %d", b.Size())
	}
}

func TestCloseRemovesSpillFile(t *testing.T) {
	b := New(1)
	if _, err := b.Write([]byte("spill me")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := b.Path()
	if path == "" {
		t.Fatal("expected a spill file")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected spill file removed, stat err=%v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close must be a no-op: %v", err)
	}
}
