package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Default file names, relative to the install root.
const (
	DefaultFileName     = "local_config.json"
	DefaultSkipFlagName = "skip_config_check.flag"
)

// Store loads and saves the local state file and manages the skip flag
type Store struct {
	Path         string
	SkipFlagPath string
}

// NewStore returns a store using the default file names below root.
func NewStore(root string) *Store {
	return &Store{
		Path:         filepath.Join(root, DefaultFileName),
		SkipFlagPath: filepath.Join(root, DefaultSkipFlagName),
	}
}

// Load reads the state file. A missing file yields a nil state and no error.
func (s *Store) Load() (*LocalState, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var st LocalState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", s.Path, err)
	}

	if st.IgnorePatterns == nil {
		st.IgnorePatterns = []string{}
	}
	if st.ManagedFiles == nil {
		st.ManagedFiles = []string{}
	}

	return &st, nil
}

// Save writes the state file atomically.
func (s *Store) Save(st *LocalState) error {
	if st == nil {
		return errors.New("cannot save nil state")
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	return writeFileAtomic(s.Path, append(data, '\n'))
}

// Exists reports whether the state file is present.
func (s *Store) Exists() bool {
	info, err := os.Stat(s.Path)
	return err == nil && !info.IsDir()
}

// SkipFlagExists reports whether updates are disabled by the skip flag.
func (s *Store) SkipFlagExists() bool {
	if s.SkipFlagPath == "" {
		return false
	}
	_, err := os.Stat(s.SkipFlagPath)
	return err == nil
}

// CreateSkipFlag disables updates until the flag is removed.
func (s *Store) CreateSkipFlag() error {
	if err := os.MkdirAll(filepath.Dir(s.SkipFlagPath), 0755); err != nil {
		return fmt.Errorf("failed to create skip flag directory: %w", err)
	}
	f, err := os.OpenFile(s.SkipFlagPath, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create skip flag: %w", err)
	}
	return f.Close()
}

// DeleteSkipFlag re-enables updates. A missing flag is not an error.
func (s *Store) DeleteSkipFlag() error {
	if err := os.Remove(s.SkipFlagPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete skip flag: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file next to path and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".modsync-state-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set state permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
