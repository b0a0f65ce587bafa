package persistence

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/PlainsightAI/filter-stub-application/internal/errhandling"
)

func TestStateStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(filepath.Join(dir, "state"))

	err := store.Save("stub-1", &State{EventsPath: "./input/events.json", Position: 7, Cycles: 12})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "state", "stub-1.json")); err != nil {
		t.Errorf("state file not created: %v", err)
	}

	loaded, err := store.Load("stub-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.FilterID != "stub-1" || loaded.EventsPath != "./input/events.json" ||
		loaded.Position != 7 || loaded.Cycles != 12 {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set on save")
	}
}

func TestStateStore_LoadNotFound(t *testing.T) {
	store := NewStateStore(t.TempDir())
	state, err := store.Load("missing")
	if err != nil || state != nil {
		t.Errorf("Load() = %v, %v; want nil, nil", state, err)
	}
}

func TestStateStore_LoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "stub.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewStateStore(dir).Load("stub")
	if !errhandling.IsIOError(err) {
		t.Errorf("expected io error, got %v", err)
	}
}

func TestStateStore_Delete(t *testing.T) {
	store := NewStateStore(t.TempDir())
	if err := store.Save("stub", &State{Position: 1}); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("stub"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if state, _ := store.Load("stub"); state != nil {
		t.Error("state still present after Delete")
	}
	if err := store.Delete("stub"); err != nil {
		t.Errorf("Delete of missing state = %v", err)
	}
}

func TestStateStore_InvalidArguments(t *testing.T) {
	store := NewStateStore(t.TempDir())
	if err := store.Save("", &State{}); !errors.Is(err, ErrInvalidFilterID) {
		t.Errorf("Save(\"\") = %v", err)
	}
	if err := store.Save("stub", nil); !errors.Is(err, ErrNilState) {
		t.Errorf("Save(nil) = %v", err)
	}
	if _, err := store.Load(""); !errors.Is(err, ErrInvalidFilterID) {
		t.Errorf("Load(\"\") = %v", err)
	}
	if err := store.Delete(""); !errors.Is(err, ErrInvalidFilterID) {
		t.Errorf("Delete(\"\") = %v", err)
	}
}

func TestStateStore_PathStaysInStore(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(dir)
	if got, want := store.Path("../escape"), filepath.Join(dir, "escape.json"); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

func TestStateStore_UnwritableDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	err := NewStateStore(filepath.Join(blocker, "state")).Save("stub", &State{})
	if !errhandling.IsIOError(err) {
		t.Errorf("expected io error, got %v", err)
	}
}

func TestStateStore_AtomicWriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(dir)
	for i := int64(1); i <= 3; i++ {
		if err := store.Save("stub", &State{Position: i}); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "stub.json" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v", names)
	}
}

func TestStateStore_ConcurrentAccess(t *testing.T) {
	store := NewStateStore(t.TempDir())
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			if err := store.Save("stub", &State{Position: n}); err != nil {
				t.Errorf("Save failed: %v", err)
			}
			if _, err := store.Load("stub"); err != nil {
				t.Errorf("Load failed: %v", err)
			}
		}(int64(i))
	}
	wg.Wait()
}
