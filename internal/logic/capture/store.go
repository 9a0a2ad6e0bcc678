package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/camask/internal/debug"
)

const (
	artifactPrefix = "capture_"
	rawPrefix      = "capture_temp_"
)

// RawName is the base name (without extension) a native tool writes to.
func RawName(sessionID string) string { return rawPrefix + sessionID }

// FinalName is the name of the normalized JPEG of a session.
func FinalName(sessionID string) string { return artifactPrefix + sessionID + ".jpg" }

// isArtifact reports whether name was produced by a capture.
func isArtifact(name string) bool { return strings.HasPrefix(name, artifactPrefix) }

// Entry describes one stored file.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Handle designates the raw destination reserved for a session.
type Handle struct {
	SessionID string
	Name      string
}

// Store holds capture artifacts by name. DirStore is backed by a working
// directory; MemStore keeps everything in memory for tests.
//
// Names never contain path separators. Missing names yield errors matching
// fs.ErrNotExist.
type Store interface {
	// Put reserves the raw destination for a session.
	Put(sessionID string) Handle
	// Resolve returns the bytes behind a handle.
	Resolve(h Handle) ([]byte, error)
	// Sweep removes artifacts modified more than olderThan ago and returns their names.
	Sweep(olderThan time.Duration) ([]string, error)

	// Path returns the location handed to native tools for name.
	Path(name string) string
	Stat(name string) (Entry, error)
	Read(name string) ([]byte, error)
	Write(name string, data []byte) error
	Rename(from, to string) error
	Remove(name string) error
	List() ([]Entry, error)
}

func put(sessionID string) Handle {
	return Handle{SessionID: sessionID, Name: RawName(sessionID) + ".jpg"}
}

// sweepStore removes artifacts of s modified before cutoff.
// Files that are not artifacts are never touched.
func sweepStore(s Store, cutoff time.Time) ([]string, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, e := range entries {
		if !isArtifact(e.Name) || !e.ModTime.Before(cutoff) {
			continue
		}
		if err := s.Remove(e.Name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("sweep %s: %w", e.Name, err)
		}
		removed = append(removed, e.Name)
	}
	if len(removed) > 0 {
		debug.Verbose("Store: swept %d stale artifact(s)", len(removed))
	}
	return removed, nil
}

// removeSession deletes every artifact whose name carries sessionID.
func removeSession(s Store, sessionID string) {
	entries, err := s.List()
	if err != nil {
		debug.Error(err)
		return
	}
	for _, e := range entries {
		if isArtifact(e.Name) && strings.Contains(e.Name, sessionID) {
			if err := s.Remove(e.Name); err != nil && !errors.Is(err, fs.ErrNotExist) {
				debug.Error(err)
			}
		}
	}
}

// ---------- DirStore ----------

// DirStore stores artifacts as files in one directory.
type DirStore struct {
	dir string
	now func() time.Time
}

// NewDirStore creates dir if needed and returns a store rooted there.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	return &DirStore{dir: dir, now: time.Now}, nil
}

// Dir returns the working directory.
func (s *DirStore) Dir() string { return s.dir }

func (s *DirStore) Put(sessionID string) Handle { return put(sessionID) }

func (s *DirStore) Resolve(h Handle) ([]byte, error) { return s.Read(h.Name) }

func (s *DirStore) Sweep(olderThan time.Duration) ([]string, error) {
	return sweepStore(s, s.now().Add(-olderThan))
}

func (s *DirStore) Path(name string) string { return filepath.Join(s.dir, name) }

func (s *DirStore) Stat(name string) (Entry, error) {
	info, err := os.Stat(s.Path(name))
	if err != nil {
		return Entry{}, err
	}
	return Entry{Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (s *DirStore) Read(name string) ([]byte, error) { return os.ReadFile(s.Path(name)) }

func (s *DirStore) Write(name string, data []byte) error {
	return os.WriteFile(s.Path(name), data, 0o600)
}

func (s *DirStore) Rename(from, to string) error { return os.Rename(s.Path(from), s.Path(to)) }

func (s *DirStore) Remove(name string) error { return os.Remove(s.Path(name)) }

func (s *DirStore) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// removed concurrently
			continue
		}
		entries = append(entries, Entry{Name: de.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return entries, nil
}

// ---------- MemStore ----------

type memFile struct {
	data    []byte
	modTime time.Time
}

// MemStore is an in-memory Store. Path returns the name itself, so a fake
// invoker can write back through Write.
type MemStore struct {
	mu    sync.Mutex
	files map[string]memFile
	Now   func() time.Time
}

// NewMemStore creates an empty store using time.Now.
func NewMemStore() *MemStore {
	return &MemStore{files: make(map[string]memFile), Now: time.Now}
}

func notExist(op, name string) error {
	return &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
}

func (s *MemStore) Put(sessionID string) Handle { return put(sessionID) }

func (s *MemStore) Resolve(h Handle) ([]byte, error) { return s.Read(h.Name) }

func (s *MemStore) Sweep(olderThan time.Duration) ([]string, error) {
	return sweepStore(s, s.Now().Add(-olderThan))
}

func (s *MemStore) Path(name string) string { return name }

func (s *MemStore) Stat(name string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[name]
	if !ok {
		return Entry{}, notExist("stat", name)
	}
	return Entry{Name: name, Size: int64(len(f.data)), ModTime: f.modTime}, nil
}

func (s *MemStore) Read(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[name]
	if !ok {
		return nil, notExist("read", name)
	}
	return append([]byte(nil), f.data...), nil
}

func (s *MemStore) Write(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = memFile{data: append([]byte(nil), data...), modTime: s.Now()}
	return nil
}

// Rename keeps the modification time, like a filesystem rename.
func (s *MemStore) Rename(from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[from]
	if !ok {
		return notExist("rename", from)
	}
	delete(s.files, from)
	s.files[to] = f
	return nil
}

func (s *MemStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[name]; !ok {
		return notExist("remove", name)
	}
	delete(s.files, name)
	return nil
}

func (s *MemStore) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]Entry, 0, len(s.files))
	for name, f := range s.files {
		entries = append(entries, Entry{Name: name, Size: int64(len(f.data)), ModTime: f.modTime})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Touch sets the modification time of name.
func (s *MemStore) Touch(name string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[name]
	if !ok {
		return notExist("touch", name)
	}
	f.modTime = t
	s.files[name] = f
	return nil
}
