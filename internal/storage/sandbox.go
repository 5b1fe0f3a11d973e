// Package storage provides sandboxed file operations and per-job scratch
// space for vidmux. Every path handed out resolves inside the scratch root.
package storage

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	dirPerm  os.FileMode = 0o750
	filePerm os.FileMode = 0o640
)

// ErrEscapesSandbox is returned for paths that resolve outside the sandbox.
var ErrEscapesSandbox = errors.New("path escapes sandbox")

// Sandbox restricts file operations to one directory. File access goes
// through an os.Root, so symlinks inside the tree cannot reach outside it.
type Sandbox struct {
	dir  string
	root *os.Root
}

// NewSandbox opens baseDir as a sandbox, creating it if needed.
func NewSandbox(baseDir string) (*Sandbox, error) {
	dir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("opening sandbox root: %w", err)
	}
	return &Sandbox{dir: dir, root: root}, nil
}

// BaseDir returns the absolute path of the sandbox root.
func (s *Sandbox) BaseDir() string {
	return s.dir
}

// Close releases the root directory handle.
func (s *Sandbox) Close() error {
	return s.root.Close()
}

func local(rel string) (string, error) {
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrEscapesSandbox, rel)
	}
	return filepath.Clean(rel), nil
}

// ResolvePath returns the absolute form of a sandbox-relative path for
// callers, such as ffmpeg, that need a real filesystem path.
func (s *Sandbox) ResolvePath(rel string) (string, error) {
	clean, err := local(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, clean), nil
}

// MkdirAll creates rel and any missing parents inside the sandbox.
func (s *Sandbox) MkdirAll(rel string) error {
	clean, err := local(rel)
	if err != nil {
		return err
	}
	return s.root.MkdirAll(clean, dirPerm)
}

// ReadFile reads the whole file at rel. Symlinks leading outside the
// sandbox fail rather than being followed.
func (s *Sandbox) ReadFile(rel string) ([]byte, error) {
	clean, err := local(rel)
	if err != nil {
		return nil, err
	}
	return s.root.ReadFile(clean)
}

// Stat returns file info for rel.
func (s *Sandbox) Stat(rel string) (os.FileInfo, error) {
	clean, err := local(rel)
	if err != nil {
		return nil, err
	}
	return s.root.Stat(clean)
}

// RemoveAll removes rel and everything below it. The root itself is kept.
func (s *Sandbox) RemoveAll(rel string) error {
	clean, err := local(rel)
	if err != nil {
		return err
	}
	if clean == "." {
		return errors.New("cannot remove sandbox base directory")
	}
	return s.root.RemoveAll(clean)
}

// AtomicWriteReader copies r into a hidden temp file next to rel and renames
// it into place, so rel is either absent or complete. It returns the bytes
// copied.
func (s *Sandbox) AtomicWriteReader(rel string, r io.Reader) (int64, error) {
	clean, err := local(rel)
	if err != nil {
		return 0, err
	}
	if clean == "." {
		return 0, fmt.Errorf("%w: %q is the sandbox root", ErrEscapesSandbox, rel)
	}
	if err := s.root.MkdirAll(filepath.Dir(clean), dirPerm); err != nil {
		return 0, fmt.Errorf("creating parent directory: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(clean), "."+filepath.Base(clean)+"."+rand.Text()+".tmp")
	f, err := s.root.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		return 0, fmt.Errorf("creating temporary file: %w", err)
	}

	n, err := io.Copy(f, r)
	if err = errors.Join(err, f.Close()); err == nil {
		err = s.root.Rename(tmp, clean)
	}
	if err != nil {
		_ = s.root.Remove(tmp)
		return n, fmt.Errorf("writing %s: %w", rel, err)
	}
	return n, nil
}
