// Package store persists one JSON document per timetable, keyed by fileId.
//
// Every save runs the record through schedule.Compact and is written via a
// temp file + rename, so readers never observe a partial record. There is no
// locking between concurrent saves of the same fileId: the last writer wins.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"timetable/internal/fsutil"
	"timetable/internal/model"
	"timetable/internal/schedule"
)

// Store errors
var (
	ErrNotFound      = errors.New("timetable not found")
	ErrMissingFileID = errors.New("fileId is required")
	ErrIO            = errors.New("timetable storage failure")
)

// IOError wraps an underlying filesystem or decode failure. It matches ErrIO
// with errors.Is.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("timetable store: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

const fileExt = ".json"

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FileStore is a directory of <fileId>.json documents.
type FileStore struct {
	dir string
	now func() time.Time
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) { s.now = now }
}

// New creates the directory if needed and returns a store rooted at dir.
func New(dir string, opts ...Option) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("timetable store: directory is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &IOError{Op: "mkdir", Path: dir, Err: err}
	}
	s := &FileStore{dir: dir, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Dir returns the backing directory.
func (s *FileStore) Dir() string { return s.dir }

// NewFileID returns a fresh random identifier: a v4 UUID without dashes
// (32 hex characters, 122 random bits).
func NewFileID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *FileStore) path(fileID string) (string, error) {
	if !validID.MatchString(fileID) {
		return "", ErrNotFound
	}
	return filepath.Join(s.dir, fileID+fileExt), nil
}

// Create writes a new empty timetable and returns its fileId.
// Class name collisions are not checked here.
// POST: Load(fileId) returns an empty schedule named name
func (s *FileStore) Create(ctx context.Context, name, info string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sch := model.NewSchedule(strings.TrimSpace(name), NewFileID(), s.now())
	sch.Info = strings.TrimSpace(info)
	if _, err := s.Save(ctx, sch); err != nil {
		return "", err
	}
	return sch.FileID, nil
}

// Load reads the timetable stored under fileID. Missing fields take their
// defaults; a document that is not a JSON object is an IOError.
func (s *FileStore) Load(ctx context.Context, fileID string) (model.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return model.Schedule{}, err
	}
	p, err := s.path(fileID)
	if err != nil {
		return model.Schedule{}, err
	}
	sch, _, err := s.readFile(p)
	if err != nil {
		return model.Schedule{}, err
	}
	return sch, nil
}

// Save compacts sch and persists it atomically, creating the document if it
// does not exist yet. It returns the record as written.
// PRE: sch.FileID is non-empty
func (s *FileStore) Save(ctx context.Context, sch model.Schedule) (model.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return model.Schedule{}, err
	}
	if sch.FileID == "" {
		return model.Schedule{}, ErrMissingFileID
	}
	p, err := s.path(sch.FileID)
	if err != nil {
		return model.Schedule{}, err
	}

	out := schedule.Compact(sch)
	if out.CurrentWeek.IsZero() {
		out.CurrentWeek = model.MondayOf(s.now())
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return model.Schedule{}, &IOError{Op: "encode", Path: p, Err: err}
	}
	if err := fsutil.WriteFileAtomic(p, data, 0o600, "."+sch.FileID+"-*.tmp"); err != nil {
		return model.Schedule{}, &IOError{Op: "write", Path: p, Err: err}
	}
	return out, nil
}

// Delete removes the timetable. There is no soft delete.
func (s *FileStore) Delete(ctx context.Context, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(fileID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return &IOError{Op: "remove", Path: p, Err: err}
	}
	return nil
}

// DeleteAll removes every stored timetable.
func (s *FileStore) DeleteAll(ctx context.Context) (int, error) {
	entries, err := s.entries(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if err := os.Remove(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return n, &IOError{Op: "remove", Path: e.path, Err: err}
		}
		n++
	}
	return n, nil
}

// Entry is a stored timetable with its modification time.
type Entry struct {
	Schedule model.Schedule
	ModTime  time.Time
	path     string
}

// List returns every readable timetable, newest modification first.
// Unreadable documents are skipped.
func (s *FileStore) List(ctx context.Context) ([]Entry, error) {
	return s.entries(ctx)
}

// ListClassNames returns each class name once, ordered by the modification
// time of its newest document, newest first.
func (s *FileStore) ListClassNames(ctx context.Context) ([]string, error) {
	entries, err := s.entries(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(entries))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Schedule.ClassName
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

// FindByClassName returns the newest timetable carrying name.
func (s *FileStore) FindByClassName(ctx context.Context, name string) (model.Schedule, error) {
	entries, err := s.entries(ctx)
	if err != nil {
		return model.Schedule{}, err
	}
	for _, e := range entries {
		if e.Schedule.ClassName == name {
			return e.Schedule, nil
		}
	}
	return model.Schedule{}, ErrNotFound
}

// CompactAll re-saves every timetable, returning how many were rewritten.
func (s *FileStore) CompactAll(ctx context.Context) (int, error) {
	entries, err := s.entries(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if _, err := s.Save(ctx, e.Schedule); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *FileStore) entries(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &IOError{Op: "readdir", Path: s.dir, Err: err}
	}

	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		p := filepath.Join(s.dir, name)
		sch, mod, err := s.readFile(p)
		if err != nil {
			continue
		}
		out = append(out, Entry{Schedule: sch, ModTime: mod, path: p})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Schedule.FileID < out[j].Schedule.FileID
	})
	return out, nil
}

// readFile decodes one document and fills defaults the record omits.
func (s *FileStore) readFile(p string) (model.Schedule, time.Time, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Schedule{}, time.Time{}, ErrNotFound
		}
		return model.Schedule{}, time.Time{}, &IOError{Op: "read", Path: p, Err: err}
	}
	info, err := os.Stat(p)
	if err != nil {
		return model.Schedule{}, time.Time{}, &IOError{Op: "stat", Path: p, Err: err}
	}

	var sch model.Schedule
	if err := json.Unmarshal(data, &sch); err != nil {
		return model.Schedule{}, time.Time{}, &IOError{Op: "decode", Path: p, Err: err}
	}
	if sch.FileID == "" {
		sch.FileID = strings.TrimSuffix(filepath.Base(p), fileExt)
	}
	if sch.CurrentWeek.IsZero() {
		sch.CurrentWeek = model.MondayOf(s.now())
	}
	return sch, info.ModTime(), nil
}
