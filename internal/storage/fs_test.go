package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/otomatty/zedi-sub000/internal/checksum"
)

func tempRoot(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteReadNested(t *testing.T) {
	s := tempRoot(t)
	content := []byte("\x89PNG fake image")
	if err := s.Write("pending/abc/photo.png", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("pending/abc/photo.png")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestDeleteThenRead(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("gone.md", []byte("x"))
	if err := s.Delete("gone.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("gone.md"); err == nil {
		t.Error("expected error reading deleted file")
	}
	if err := s.Delete("gone.md"); err == nil {
		t.Error("expected error deleting twice")
	}
}

func TestMoveAcrossDirectories(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("pending/m1/a.bin", []byte("blob"))
	if err := s.Move("pending/m1/a.bin", "owner-1/m1/a.bin"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, err := s.Read("owner-1/m1/a.bin")
	if err != nil || string(got) != "blob" {
		t.Errorf("moved content = %q, %v", got, err)
	}
	if _, err := s.Read("pending/m1/a.bin"); err == nil {
		t.Error("old path should not exist")
	}
}

func TestList_FiltersByExtension(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("a.md", []byte("a"))
	_ = s.Write("sub/b.md", []byte("b"))
	_ = s.Write("readme.txt", []byte("not md"))

	items, err := s.List("", ".md")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	for _, it := range items {
		if it.Path == "sub/b.md" && it.Checksum != checksum.Sum([]byte("b")) {
			t.Errorf("checksum = %s", it.Checksum)
		}
	}

	all, err := s.List("", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("unfiltered len = %d, want 3", len(all))
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempRoot(t)
	for _, p := range []string{"../../etc/passwd", "../outside.md", "/etc/shadow"} {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
		if err := s.Move("a", p); err == nil {
			t.Errorf("expected error for move to %q", p)
		}
	}
}

func TestOverwriteLeavesNoTempFiles(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("atomic.md", []byte("original"))
	if err := s.Write("atomic.md", []byte("updated")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.md")
	if string(got) != "updated" {
		t.Errorf("expected updated content, got %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.Root(), tempPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_Rejects(t *testing.T) {
	if _, err := NewFS(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for non-existent dir")
	}
	f, _ := os.CreateTemp(t.TempDir(), "file-*")
	_ = f.Close()
	if _, err := NewFS(f.Name()); err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestWriteFrom_ReportsChecksumAndSize(t *testing.T) {
	s := tempRoot(t)
	body := "streamed media body"
	info, err := s.WriteFrom("pending/u1/m1/clip.bin", strings.NewReader(body))
	if err != nil {
		t.Fatalf("WriteFrom: %v", err)
	}
	if info.Path != "pending/u1/m1/clip.bin" {
		t.Errorf("path = %q", info.Path)
	}
	if info.Size != int64(len(body)) || info.Checksum != checksum.Sum([]byte(body)) {
		t.Errorf("info = %+v", info)
	}
	listed, _ := s.List("pending", "")
	if len(listed) != 1 || listed[0].Checksum != info.Checksum {
		t.Errorf("listed = %+v", listed)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestWriteFrom_FailedCopyLeavesNothing(t *testing.T) {
	s := tempRoot(t)
	if _, err := s.WriteFrom("pending/u1/m1/a.png", failingReader{}); err == nil {
		t.Fatal("expected copy error")
	}
	matches, _ := filepath.Glob(filepath.Join(s.Root(), "pending", "u1", "m1", "*"))
	if len(matches) != 0 {
		t.Errorf("leftover files: %v", matches)
	}
}

func TestList_MissingDirIsEmpty(t *testing.T) {
	s := tempRoot(t)
	items, err := s.List("pending/nobody", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("items = %+v", items)
	}
}

func TestDelete_PrunesEmptyParents(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("pending/u1/m1/a.png", []byte("a"))
	_ = s.Write("pending/u1/m2/b.png", []byte("b"))
	if err := s.Delete("pending/u1/m1/a.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "pending", "u1", "m1")); !os.IsNotExist(err) {
		t.Errorf("m1 should be pruned, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "pending", "u1")); err != nil {
		t.Errorf("u1 still holds m2: %v", err)
	}
	if _, err := os.Stat(s.Root()); err != nil {
		t.Errorf("root must survive: %v", err)
	}
}

func TestMove_RefusesOverwriteAndPrunesSource(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("pending/u1/m1/a.png", []byte("new"))
	_ = s.Write("u1/m1/a.png", []byte("existing"))
	if err := s.Move("pending/u1/m1/a.png", "u1/m1/a.png"); !errors.Is(err, ErrExists) {
		t.Fatalf("err = %v, want ErrExists", err)
	}
	got, _ := s.Read("u1/m1/a.png")
	if string(got) != "existing" {
		t.Errorf("destination overwritten: %q", got)
	}

	if err := s.Move("pending/u1/m1/a.png", "u1/m2/a.png"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "pending")); !os.IsNotExist(err) {
		t.Errorf("pending tree should be pruned, stat err = %v", err)
	}
}

func TestExpire_RemovesOnlyStaleFiles(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("pending/u1/old/a.png", []byte("a"))
	_ = s.Write("pending/u1/new/b.png", []byte("b"))
	_ = s.Write("u1/m/c.png", []byte("c"))
	stale := time.Now().Add(-2 * time.Hour)
	for _, p := range []string{"pending/u1/old/a.png", "u1/m/c.png"} {
		if err := os.Chtimes(filepath.Join(s.Root(), filepath.FromSlash(p)), stale, stale); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.Expire("pending", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}
	left, _ := s.List("", "")
	if len(left) != 2 || left[0].Path != "pending/u1/new/b.png" || left[1].Path != "u1/m/c.png" {
		t.Errorf("left = %+v", left)
	}
	if n, err := s.Expire("pending/none", time.Now()); err != nil || n != 0 {
		t.Errorf("missing dir expire = %d, %v", n, err)
	}
}
