// Package storage is the file-system abstraction behind the media area and
// the Markdown vault importer.
package storage

import (
	"errors"
	"io"
	"time"
)

// tempPrefix marks in-flight atomic writes.
const tempPrefix = ".zedi-tmp-"

// ErrExists is returned by Move when the destination is already taken.
var ErrExists = errors.New("storage: destination exists")

// FileInfo describes a stored file.
type FileInfo struct {
	Path     string    `json:"path"`
	Checksum string    `json:"checksum"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
}

// Provider stores files under slash-separated paths relative to its root.
type Provider interface {
	// List returns every file under dir whose name ends in ext. A missing dir
	// lists as empty.
	List(dir, ext string) ([]FileInfo, error)
	Read(path string) ([]byte, error)
	// WriteFrom streams r into path atomically and returns what was stored.
	WriteFrom(path string, r io.Reader) (FileInfo, error)
	Write(path string, content []byte) error
	// Delete removes path and any directories it leaves empty.
	Delete(path string) error
	// Move renames oldPath to newPath, failing with ErrExists rather than
	// overwriting, and prunes directories oldPath leaves empty.
	Move(oldPath, newPath string) error
	// Expire deletes the files under dir last modified before cutoff and
	// returns how many went.
	Expire(dir string, cutoff time.Time) (int, error)
}
