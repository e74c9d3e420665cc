// Package filestore reads and overwrites test source files.
package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileIOError wraps a failed read or write of a test source file.
type FileIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileIOError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileIOError) Unwrap() error {
	return e.Err
}

// IsFileIOError checks if an error is a FileIOError.
func IsFileIOError(err error) bool {
	var e *FileIOError
	return errors.As(err, &e)
}

// Store resolves relative paths against Root.
type Store struct {
	Root string
	// BackupSuffix, when set, keeps the previous content next to the
	// rewritten file.
	BackupSuffix string
}

// New returns a store rooted at root. An empty root uses paths as given.
func New(root string) *Store {
	return &Store{Root: root}
}

func (s *Store) resolve(path string) string {
	if s.Root == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.Root, path)
}

// Read returns the file content.
func (s *Store) Read(path string) (string, error) {
	data, err := os.ReadFile(s.resolve(path))
	if err != nil {
		return "", &FileIOError{Op: "read", Path: path, Err: err}
	}
	return string(data), nil
}

// Write replaces the file content atomically, keeping the file mode.
func (s *Store) Write(path, content string) error {
	full := s.resolve(path)

	mode := os.FileMode(0o644)
	if info, err := os.Stat(full); err == nil {
		mode = info.Mode().Perm()
		if s.BackupSuffix != "" {
			if err := copyFile(full, full+s.BackupSuffix, mode); err != nil {
				return &FileIOError{Op: "back up", Path: path, Err: err}
			}
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".testmend-*")
	if err != nil {
		return &FileIOError{Op: "write", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return &FileIOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &FileIOError{Op: "write", Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return &FileIOError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, full); err != nil {
		return &FileIOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, mode)
}
