package client

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, content string) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "tail")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestTailBasic(t *testing.T) {
	cases := []struct {
		input, output string
		lines         int
	}{
		{"a\nb\nc", "b\nc", 2},
		{"a\nb\nc\n", "b\nc\n", 2},
		{"a\nb\nc\n", "a\nb\nc\n", 3},
		{"a\nb\nc\n", "a\nb\nc\n", 5},
		{"a\nb\nc\n", "", 0},
		{"a\nb\nc\n\n", "\n", 1},
	}
	for _, c := range cases {
		f := writeTemp(t, c.input)
		var out bytes.Buffer
		n := c.lines
		if _, err := Tail(f, &out, &n); err != nil {
			t.Fatalf("Tail(%q, %d): %v", c.input, c.lines, err)
		}
		if out.String() != c.output {
			t.Fatalf("Tail(%q, %d) = %q, want %q", c.input, c.lines, out.String(), c.output)
		}
	}
}

func TestTailWholeDocumentWhenNilLines(t *testing.T) {
	f := writeTemp(t, "one\ntwo\nthree\n")
	var out bytes.Buffer
	if _, err := Tail(f, &out, nil); err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if out.String() != "one\ntwo\nthree\n" {
		t.Fatalf("expected whole document, got %q", out.String())
	}
}

func TestFileSetConcatenatesAndSeeks(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 10; i++ {
		p := filepath.Join(dir, "file"+string(rune('0'+i)))
		var sb strings.Builder
		for j := 0; j < 10; j++ {
			sb.WriteString(filepath.Base(p))
			sb.WriteString("0123\n")
		}
		if err := os.WriteFile(p, []byte(sb.String()), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		paths = append(paths, p)
	}

	fs, err := NewFileSet(paths)
	if err != nil {
		t.Fatalf("NewFileSet: %v", err)
	}
	defer fs.Close()

	if fs.Size() != 10*10*10 {
		t.Fatalf("expected total size %d, got %d", 10*10*10, fs.Size())
	}

	pos, err := fs.Seek(10*10-5, 0)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos != 10*10-5 {
		t.Fatalf("expected seek pos %d, got %d", 10*10-5, pos)
	}
	buf := make([]byte, 10)
	n, err := fs.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 bytes read, got %d", n)
	}
	if string(buf) != "0123\nfile1" {
		t.Fatalf("expected crossing-boundary read %q, got %q", "0123\nfile1", string(buf))
	}
}

func TestFileSetHonorsSnapshottedBoundaries(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "test")
	if err := os.WriteFile(p, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fs, err := NewFileSet([]string{p, p})
	if err != nil {
		t.Fatalf("NewFileSet: %v", err)
	}
	defer fs.Close()

	// Extra data appended after the set was created must not affect the
	// snapshotted sizes (spec §8 property 8).
	f, err := os.OpenFile(p, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString("0123456789"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	_ = f.Close()

	buf := make([]byte, 32)
	var all []byte
	for {
		n, err := fs.Read(buf)
		all = append(all, buf[:n]...)
		if err != nil {
			break
		}
	}
	if string(all) != "01234567890123456789" {
		t.Fatalf("expected concatenation of snapshotted sizes, got %q", string(all))
	}
}
