package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestIsExcludedDefaults(t *testing.T) {
	var s Spec
	cases := map[string]bool{
		".hidden":  true,
		"build-x86": true,
		"x.o":      true,
		"visible":  false,
	}
	for name, want := range cases {
		if got := s.isExcluded(name); got != want {
			t.Errorf("isExcluded(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestIncludeOverridesExclude(t *testing.T) {
	s := Spec{Exclude: []string{"*.o"}, Include: []string{"keep.o"}}
	if s.isExcluded("keep.o") {
		t.Fatalf("expected include to win over exclude")
	}
	if !s.isExcluded("drop.o") {
		t.Fatalf("expected drop.o to remain excluded")
	}
}

func TestWatcherFiresOnFileCreate(t *testing.T) {
	dir := t.TempDir()
	fired := make(chan int64, 4)
	w, err := New(func(id int64) { fired <- id })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.Add(1, Spec{Paths: []string{dir}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case id := <-fired:
		if id != 1 {
			t.Fatalf("expected event for service 1, got %d", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for watch event")
	}
}

func TestWatcherIgnoresHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	fired := make(chan int64, 4)
	w, err := New(func(id int64) { fired <- id })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.Add(1, Spec{Paths: []string{dir}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case id := <-fired:
		t.Fatalf("expected no event for hidden file, got one for service %d", id)
	case <-time.After(300 * time.Millisecond):
	}
}
