package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/golang/glog"
	"github.com/theater-rt/theater/cmn/cos"
	"github.com/theater-rt/theater/cmn/jsp"
)

// ContentRef is a hash identifying an immutable blob.
type ContentRef string

func (r ContentRef) String() string { return string(r) }

// labelRecord is what a label file persists: the bound reference and a
// monotonically increasing version, signed with a checksum - the same
// Version-uint64-plus-cksum-verified-load convention used for mountpath
// metadata, generalized to "one content label".
type labelRecord struct {
	Ref     ContentRef `json:"ref"`
	Version uint64     `json:"version"`
}

func (labelRecord) JspOpts() jsp.Options { return jsp.CCSign(1) }

// Store is the process-wide content-addressed store: shared and
// internally synchronized. One Store per process, created once at
// startup.
type Store struct {
	root string

	mu     sync.RWMutex // guards the in-memory label cache
	labels map[string]*labelRecord

	// labelLocks gives label rebind true per-name atomicity without
	// serializing unrelated labels behind one lock.
	labelLocks sync.Map // name -> *sync.Mutex
}

func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	s := &Store{root: root, labels: make(map[string]*labelRecord)}
	if err := s.loadLabels(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadLabels() error {
	dir := filepath.Join(s.root, "labels")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var rec labelRecord
		if _, err := jsp.LoadMeta(labelPath(s.root, e.Name()), &rec); err != nil {
			glog.Errorf("store: failed to load label %s: %v", e.Name(), err)
			continue
		}
		s.labels[e.Name()] = &rec
	}
	return nil
}

// Put writes b and returns its content hash. Put is idempotent: the same
// bytes always produce the same reference and the same on-disk path, so a
// repeated Put of identical content is a cheap no-op write-over.
func (s *Store) Put(b []byte) (ContentRef, error) {
	ref := ContentRef(cos.ChecksumBytes(b).Value())
	path := blobPath(s.root, string(ref))
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	if err := cos.SaveAtomic(path, b); err != nil {
		return "", err
	}
	return ref, nil
}

// Get returns the bytes for ref, failing with ErrCorrupt if the blob on
// disk no longer hashes to its own name.
func (s *Store) Get(ref ContentRef) ([]byte, error) {
	path := blobPath(s.root, string(ref))
	b, err := cos.LoadFile(path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{Ref: ref}
	}
	if err != nil {
		return nil, err
	}
	actual := cos.ChecksumBytes(b)
	if actual.Value() != string(ref) {
		return nil, &CorruptError{Ref: ref, Actual: actual}
	}
	return b, nil
}

func (s *Store) Exists(ref ContentRef) bool {
	_, err := os.Stat(blobPath(s.root, string(ref)))
	return err == nil
}

// Label creates or atomically repoints name to point at ref. Readers never
// observe a torn state: resolve returns either the previous binding or this
// one, never a partially written record.
func (s *Store) Label(name string, ref ContentRef) error {
	lock := s.labelLock(name)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	prev := s.labels[name]
	s.mu.RUnlock()

	version := uint64(1)
	if prev != nil {
		version = prev.Version + 1
	}
	rec := &labelRecord{Ref: ref, Version: version}
	if err := jsp.SaveMeta(labelPath(s.root, name), rec, nil); err != nil {
		return err
	}

	s.mu.Lock()
	s.labels[name] = rec
	s.mu.Unlock()
	return nil
}

func (s *Store) Resolve(name string) (ContentRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.labels[name]
	if !ok {
		return "", false
	}
	return rec.Ref, true
}

func (s *Store) RemoveLabel(name string) error {
	lock := s.labelLock(name)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(labelPath(s.root, name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	s.mu.Lock()
	delete(s.labels, name)
	s.mu.Unlock()
	return nil
}

func (s *Store) ListLabels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.labels))
	for n := range s.labels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ListAll enumerates every blob hash present in the store.
func (s *Store) ListAll() ([]ContentRef, error) {
	dir := filepath.Join(s.root, "blobs")
	var refs []ContentRef
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for _, shard := range entries {
		if !shard.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, shard.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			refs = append(refs, ContentRef(f.Name()))
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs, nil
}

func (s *Store) labelLock(name string) *sync.Mutex {
	v, _ := s.labelLocks.LoadOrStore(name, &sync.Mutex{})
	return v.(*sync.Mutex)
}

type NotFoundError struct{ Ref ContentRef }

func (e *NotFoundError) Error() string { return fmt.Sprintf("store: not found: %s", e.Ref) }

type CorruptError struct {
	Ref    ContentRef
	Actual *cos.Cksum
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("store: corrupt blob %s (recomputed %s)", e.Ref, e.Actual)
}
