package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRingBufferBasicWrite(t *testing.T) {
	rb := NewRingBuffer(64)

	n, err := rb.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected n=5, got %d", n)
	}

	if got := rb.Bytes(); string(got) != "hello" {
		t.Errorf("expected 'hello', got %q", string(got))
	}
}

func TestRingBufferWrap(t *testing.T) {
	rb := NewRingBuffer(10)

	_, _ = rb.Write([]byte("abcdefghij")) // fills exactly
	_, _ = rb.Write([]byte("12345"))      // wraps

	if got := rb.Bytes(); string(got) != "fghij12345" {
		t.Errorf("expected 'fghij12345', got %q", string(got))
	}
}

func TestRingBufferLargerThanCapacity(t *testing.T) {
	rb := NewRingBuffer(5)

	_, _ = rb.Write([]byte("0123456789"))

	if got := rb.Bytes(); string(got) != "56789" {
		t.Errorf("expected '56789', got %q", string(got))
	}
}

func TestRingBufferDumpToFile(t *testing.T) {
	rb := NewRingBuffer(32)
	_, _ = rb.Write([]byte("crash context"))

	path := filepath.Join(t.TempDir(), "dump.log")
	if err := rb.DumpToFile(path); err != nil {
		t.Fatalf("dump failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "crash context" {
		t.Errorf("unexpected dump content %q", string(data))
	}
}
