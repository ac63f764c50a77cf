package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"timetable/internal/model"
)

var fixedNow = time.Date(2025, 1, 8, 10, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := New(t.TempDir(), WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// touch sets a file's modification time so ordering tests do not depend on
// filesystem timestamp resolution.
func touch(t *testing.T, s *FileStore, fileID string, mod time.Time) {
	t.Helper()
	p := filepath.Join(s.Dir(), fileID+fileExt)
	if err := os.Chtimes(p, mod, mod); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
}

func TestNewFileID(t *testing.T) {
	a, b := NewFileID(), NewFileID()
	if len(a) != 32 || strings.Contains(a, "-") {
		t.Errorf("fileId = %q, want 32 hex chars", a)
	}
	if a == b {
		t.Error("two fileIds collided")
	}
}

// TestCreateLoad verifies a created record loads back empty and named.
func TestCreateLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Create(ctx, " 4B ", "Room 12")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ClassName != "4B" || got.FileID != id || got.Info != "Room 12" {
		t.Errorf("loaded = %+v", got)
	}
	if len(got.Overrides) != 0 {
		t.Errorf("Overrides = %v", got.Overrides)
	}
	if model.DateKey(got.CurrentWeek) != "2025-01-06" {
		t.Errorf("CurrentWeek = %s", got.CurrentWeek)
	}
}

// TestSaveCompactsAndRoundTrips verifies save returns the compacted record
// and a later load reproduces it.
func TestSaveCompactsAndRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sch := model.NewSchedule("4B", "abc123", fixedNow)
	sch.Permanent.Set(0, 1, "Math")
	sch.Overrides["2025-01-06"] = model.Week{{"Math"}, {"", "Gym", "", ""}}
	sch.Overrides["2025-01-13"] = model.Week{{" "}}

	saved, err := s.Save(ctx, sch)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, ok := saved.Overrides["2025-01-13"]; ok {
		t.Error("empty entry not dropped")
	}
	w := saved.Overrides["2025-01-06"]
	if len(w[0]) != 0 || !reflect.DeepEqual(w[1], model.Hours{"", "Gym"}) {
		t.Errorf("compacted week = %q", w)
	}

	loaded, err := s.Load(ctx, "abc123")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(saved.Overrides, loaded.Overrides) {
		t.Errorf("overrides round trip:\nsaved  %q\nloaded %q", saved.Overrides, loaded.Overrides)
	}
	if loaded.Permanent.Get(0, 1) != "Math" {
		t.Errorf("permanent = %v", loaded.Permanent)
	}
	if !loaded.CurrentWeek.Equal(saved.CurrentWeek) {
		t.Errorf("currentWeek %s != %s", loaded.CurrentWeek, saved.CurrentWeek)
	}

	info, err := os.Stat(filepath.Join(s.Dir(), "abc123.json"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}
}

func TestSave_Errors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Save(ctx, model.Schedule{ClassName: "x"}); !errors.Is(err, ErrMissingFileID) {
		t.Errorf("missing id: err = %v", err)
	}
	if _, err := s.Save(ctx, model.Schedule{FileID: "../escape"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unsafe id: err = %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.Save(cancelled, model.NewSchedule("x", "abc", fixedNow)); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: err = %v", err)
	}
}

// TestSave_NoTempFilesLeft verifies the directory holds only the record.
func TestSave_NoTempFilesLeft(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if _, err := s.Save(ctx, model.NewSchedule("4B", "abc", fixedNow)); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "abc.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("dir = %v, want [abc.json]", names)
	}
}

// TestLoad_Lenient verifies missing fields take defaults.
func TestLoad_Lenient(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	doc := `{"className":"3C","data":{"2025-01-08":[["Trip"]]}}`
	if err := os.WriteFile(filepath.Join(s.Dir(), "legacy.json"), []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(ctx, "legacy")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.FileID != "legacy" {
		t.Errorf("FileID = %q, want legacy", got.FileID)
	}
	if model.DateKey(got.CurrentWeek) != "2025-01-06" {
		t.Errorf("CurrentWeek = %s", got.CurrentWeek)
	}
	if got.Overrides["2025-01-06"][0].At(1) != "Trip" {
		t.Errorf("Overrides = %q", got.Overrides)
	}
}

func TestLoad_Errors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: err = %v", err)
	}
	if _, err := s.Load(ctx, "a/b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("path element: err = %v", err)
	}

	if err := os.WriteFile(filepath.Join(s.Dir(), "broken.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := s.Load(ctx, "broken")
	if !errors.Is(err, ErrIO) {
		t.Fatalf("broken: err = %v, want ErrIO", err)
	}
	var ioErr *IOError
	if !errors.As(err, &ioErr) || ioErr.Op != "decode" {
		t.Errorf("IOError = %+v", ioErr)
	}
}

// TestListClassNames_NewestWins verifies names are unique and ordered by the
// newest file carrying them.
func TestListClassNames_NewestWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, rec := range []struct {
		id, name string
		age      time.Duration
	}{
		{"old4b", "4B", 3 * time.Hour},
		{"new4b", "4B", 1 * time.Hour},
		{"only5a", "5A", 2 * time.Hour},
	} {
		sch := model.NewSchedule(rec.name, rec.id, fixedNow)
		sch.Info = rec.id
		if _, err := s.Save(ctx, sch); err != nil {
			t.Fatal(err)
		}
		touch(t, s, rec.id, fixedNow.Add(-rec.age))
	}
	// Stray files are ignored.
	_ = os.WriteFile(filepath.Join(s.Dir(), ".hidden.json"), []byte(`{"className":"X"}`), 0o600)
	_ = os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o600)
	_ = os.WriteFile(filepath.Join(s.Dir(), "bad.json"), []byte("["), 0o600)

	names, err := s.ListClassNames(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"4B", "5A"}) {
		t.Errorf("names = %v", names)
	}

	got, err := s.FindByClassName(ctx, "4B")
	if err != nil {
		t.Fatal(err)
	}
	if got.FileID != "new4b" {
		t.Errorf("FindByClassName = %s, want new4b", got.FileID)
	}
	if _, err := s.FindByClassName(ctx, "9Z"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown class: err = %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Create(ctx, "4B", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: err = %v", err)
	}
	if err := s.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: err = %v", err)
	}
}

func TestDeleteAllAndCompactAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	raw := `{"className":"4B","fileId":"raw","data":{"2025-01-06":[["Math","",""],[],[],[],[]]}}`
	if err := os.WriteFile(filepath.Join(s.Dir(), "raw.json"), []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, "5A", ""); err != nil {
		t.Fatal(err)
	}

	n, err := s.CompactAll(ctx)
	if err != nil || n != 2 {
		t.Fatalf("CompactAll = %d, %v", n, err)
	}
	got, err := s.Load(ctx, "raw")
	if err != nil {
		t.Fatal(err)
	}
	if h := got.Overrides["2025-01-06"][0]; !reflect.DeepEqual(h, model.Hours{"Math"}) {
		t.Errorf("compacted = %q", h)
	}

	n, err = s.DeleteAll(ctx)
	if err != nil || n != 2 {
		t.Fatalf("DeleteAll = %d, %v", n, err)
	}
	names, err := s.ListClassNames(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("names after reset = %v", names)
	}
}
