package store_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/theater-rt/theater/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "theater-store-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	s, err := store.Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func TestPutIsIdempotentAndContentAddressed(t *testing.T) {
	s := newStore(t)

	ref1, err := s.Put([]byte("abc"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	ref2, err := s.Put([]byte("abc"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if ref1 != ref2 {
		t.Fatalf("expected identical refs for identical bytes, got %s != %s", ref1, ref2)
	}

	ref3, err := s.Put([]byte("abd"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if ref3 == ref1 {
		t.Fatalf("expected different ref for different bytes")
	}

	got, err := s.Get(ref1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("round-trip mismatch: got %q", got)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.Get("deadbeef")
	if err == nil {
		t.Fatalf("expected NotFoundError for unknown ref")
	}
	var nf *store.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected *store.NotFoundError, got %T", err)
	}
}

func TestExists(t *testing.T) {
	s := newStore(t)
	ref, _ := s.Put([]byte("hello"))
	if !s.Exists(ref) {
		t.Fatalf("expected Exists to report true for a stored blob")
	}
	if s.Exists("0000") {
		t.Fatalf("expected Exists to report false for an unknown ref")
	}
}

func TestLabelResolveAndRemove(t *testing.T) {
	s := newStore(t)
	ref, _ := s.Put([]byte("payload"))

	if err := s.Label("latest", ref); err != nil {
		t.Fatalf("label: %v", err)
	}
	got, ok := s.Resolve("latest")
	if !ok || got != ref {
		t.Fatalf("resolve: got (%s, %v), want (%s, true)", got, ok, ref)
	}

	ref2, _ := s.Put([]byte("payload2"))
	if err := s.Label("latest", ref2); err != nil {
		t.Fatalf("re-label: %v", err)
	}
	got, ok = s.Resolve("latest")
	if !ok || got != ref2 {
		t.Fatalf("resolve after rebind: got (%s, %v), want (%s, true)", got, ok, ref2)
	}

	if err := s.RemoveLabel("latest"); err != nil {
		t.Fatalf("remove label: %v", err)
	}
	if _, ok := s.Resolve("latest"); ok {
		t.Fatalf("expected resolve to fail after RemoveLabel")
	}
	// the blob itself must survive label removal
	if !s.Exists(ref2) {
		t.Fatalf("removing a label must not delete the underlying blob")
	}
}

func TestListLabelsAndListAll(t *testing.T) {
	s := newStore(t)
	refA, _ := s.Put([]byte("A"))
	refB, _ := s.Put([]byte("B"))
	s.Label("b", refA)
	s.Label("a", refB)

	labels := s.ListLabels()
	if len(labels) != 2 || labels[0] != "a" || labels[1] != "b" {
		t.Fatalf("expected sorted labels [a b], got %v", labels)
	}

	all, err := s.ListAll()
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 blobs, got %d", len(all))
	}
}

func TestCorruptBlobDetected(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ref, _ := s.Put([]byte("good"))
	good, _ := s.Get(ref)
	if string(good) != "good" {
		t.Fatalf("unexpected content")
	}

	// Overwrite the blob in place; it no longer hashes to its own name.
	path := filepath.Join(dir, "blobs", string(ref)[:2], string(ref))
	if err := os.WriteFile(path, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	_, err = s.Get(ref)
	var corrupt *store.CorruptError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected *store.CorruptError, got %T (%v)", err, err)
	}
}
