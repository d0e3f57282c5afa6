package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/otomatty/zedi-sub000/internal/checksum"
)

// FS implements Provider on a local directory.
type FS struct {
	root string
}

// NewFS returns an FS rooted at root, which must be an existing directory.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute root directory.
func (f *FS) Root() string {
	return f.root
}

// resolve maps a slash path onto the root, refusing anything that would
// land outside it.
func (f *FS) resolve(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	abs := filepath.Join(f.root, filepath.FromSlash(rel))
	if abs != f.root && !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: path escapes root: %s", rel)
	}
	return abs, nil
}

func (f *FS) rel(abs string) string {
	r, _ := filepath.Rel(f.root, abs)
	return filepath.ToSlash(r)
}

// walk calls fn for every regular, non-temporary file under dir.
func (f *FS) walk(dir string, fn func(abs string, d fs.DirEntry) error) error {
	base, err := f.resolve(dir)
	if err != nil {
		return err
	}
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == base && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if d.IsDir() || !d.Type().IsRegular() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		return fn(p, d)
	})
	return err
}

// List returns the matching files sorted by path.
func (f *FS) List(dir, ext string) ([]FileInfo, error) {
	out := []FileInfo{}
	err := f.walk(dir, func(abs string, d fs.DirEntry) error {
		if !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		sum, err := checksum.File(abs)
		if err != nil {
			return err
		}
		out = append(out, FileInfo{Path: f.rel(abs), Checksum: sum, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", dir, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Read returns the bytes stored at path.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// WriteFrom copies r into a temp file beside path, fsyncs it and renames it
// into place, hashing on the way through.
func (f *FS) WriteFrom(path string, r io.Reader) (FileInfo, error) {
	abs, err := f.resolve(path)
	if err != nil {
		return FileInfo{}, err
	}
	if abs == f.root {
		return FileInfo{}, fmt.Errorf("storage: empty path")
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return FileInfo{}, fmt.Errorf("storage: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return FileInfo{}, fmt.Errorf("storage: create temp: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	h := checksum.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		return FileInfo{}, fmt.Errorf("storage: write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return FileInfo{}, fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return FileInfo{}, fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		return FileInfo{}, fmt.Errorf("storage: rename: %w", err)
	}
	committed = true
	return FileInfo{Path: f.rel(abs), Checksum: checksum.Hex(h), Size: n, ModTime: time.Now()}, nil
}

// Write stores content at path atomically.
func (f *FS) Write(path string, content []byte) error {
	_, err := f.WriteFrom(path, bytes.NewReader(content))
	return err
}

// Delete removes path and prunes the directories it empties.
func (f *FS) Delete(path string) error {
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	f.prune(filepath.Dir(abs))
	return nil
}

// Move renames oldPath to newPath without overwriting.
func (f *FS) Move(oldPath, newPath string) error {
	src, err := f.resolve(oldPath)
	if err != nil {
		return err
	}
	dst, err := f.resolve(newPath)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, newPath)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for move: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("storage: move %s: %w", oldPath, err)
	}
	f.prune(filepath.Dir(src))
	return nil
}

// Expire removes the files under dir older than cutoff.
func (f *FS) Expire(dir string, cutoff time.Time) (int, error) {
	var stale []string
	err := f.walk(dir, func(abs string, d fs.DirEntry) error {
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, abs)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("storage: expire %s: %w", dir, err)
	}
	removed := 0
	for _, abs := range stale {
		if err := f.Delete(f.rel(abs)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// prune removes empty directories from dir upwards, stopping at the root.
func (f *FS) prune(dir string) {
	for dir != f.root && strings.HasPrefix(dir, f.root+string(os.PathSeparator)) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
