// Package prefs persists the shell's last-used data source selection.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Prefs is the single durable record: written on every successful data
// source selection, read once at startup.
type Prefs struct {
	DataSourcePath string    `json:"data_source_path"`
	SavedAt        time.Time `json:"saved_at"`
}

// Store reads and writes the record at a fixed path.
type Store struct {
	path string
}

func NewStore(path string) *Store { return &Store{path: path} }

// Path returns the record location.
func (s *Store) Path() string { return s.path }

// DefaultPath places the record under the user config dir, e.g.
// ~/.config/scoutd/prefs.json on Linux.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "scoutd", "prefs.json"), nil
}

// Load returns the stored record. A missing or malformed file is a normal
// first-run state and yields (zero, false, nil), not an error.
func (s *Store) Load() (Prefs, bool, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Prefs{}, false, nil
		}
		return Prefs{}, false, fmt.Errorf("read prefs %s: %w", s.path, err)
	}
	var p Prefs
	if err := json.Unmarshal(b, &p); err != nil {
		return Prefs{}, false, nil
	}
	if p.DataSourcePath == "" {
		return Prefs{}, false, nil
	}
	return p, true, nil
}

// Save writes the record durably, creating parent directories as needed.
// The write goes through a temp file and rename so a crash never leaves a
// truncated record behind.
func (s *Store) Save(p Prefs) error {
	if p.SavedAt.IsZero() {
		p.SavedAt = time.Now()
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace prefs: %w", err)
	}
	return nil
}
