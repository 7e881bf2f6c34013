package prefs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileIsNormal(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "prefs.json"))
	p, ok, err := s.Load()
	if err != nil {
		t.Fatalf("Load error on missing file: %v", err)
	}
	if ok {
		t.Fatalf("missing file reported ok: %+v", p)
	}
}

func TestSaveThenLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "prefs.json")
	s := NewStore(path)
	if err := s.Save(Prefs{DataSourcePath: "/data/scout.db"}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	p, ok, err := s.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !ok {
		t.Fatalf("expected stored record")
	}
	if p.DataSourcePath != "/data/scout.db" {
		t.Fatalf("unexpected path: %q", p.DataSourcePath)
	}
	if p.SavedAt.IsZero() {
		t.Fatalf("SavedAt not stamped")
	}
}

func TestSave_Overwrites(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "prefs.json"))
	if err := s.Save(Prefs{DataSourcePath: "/data/a.db"}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := s.Save(Prefs{DataSourcePath: "/data/b.db"}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	p, ok, _ := s.Load()
	if !ok || p.DataSourcePath != "/data/b.db" {
		t.Fatalf("expected latest record, got %+v ok=%t", p, ok)
	}
}

func TestLoad_MalformedIsNormal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := NewStore(path)
	p, ok, err := s.Load()
	if err != nil {
		t.Fatalf("malformed record must not be an error: %v", err)
	}
	if ok {
		t.Fatalf("malformed record reported ok: %+v", p)
	}
}

func TestLoad_EmptyPathFieldIsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	if err := os.WriteFile(path, []byte(`{"data_source_path":""}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := NewStore(path)
	_, ok, err := s.Load()
	if err != nil || ok {
		t.Fatalf("empty path should read as absent, ok=%t err=%v", ok, err)
	}
}

func TestSave_LeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "prefs.json"))
	if err := s.Save(Prefs{DataSourcePath: "/data/a.db"}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "prefs.json" {
			t.Fatalf("unexpected leftover file %s", e.Name())
		}
	}
}
