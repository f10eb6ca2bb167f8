package ziputil_test

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/upgradekit/odooup/upgradeerrors"
	"github.com/upgradekit/odooup/ziputil"
)

func writeZip(t *testing.T, path string, names map[string]string) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}

		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
}

func TestExtract(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "a.zip")
	writeZip(t, archive, map[string]string{
		"dump.sql":             "SELECT 1;",
		"filestore/ab/abc123":  "blob",
		"filestore/ab/abc1234": "blob2",
	})

	dst := filepath.Join(t.TempDir(), "out")

	if err := ziputil.Extract(archive, dst); err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}

	for _, name := range []string{"dump.sql", "filestore/ab/abc123", "filestore/ab/abc1234"} {
		if _, err := os.Stat(filepath.Join(dst, filepath.FromSlash(name))); err != nil {
			t.Errorf("missing extracted entry %s: %v", name, err)
		}
	}
}

func TestExtract_NotAnArchive(t *testing.T) {
	src := filepath.Join(t.TempDir(), "not-a.zip")
	if err := os.WriteFile(src, []byte("PGDMP binary dump"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	err := ziputil.Extract(src, t.TempDir())
	if !errors.Is(err, upgradeerrors.ErrBadArchive) {
		t.Errorf("Extract() = %v, want ErrBadArchive", err)
	}
}

func TestExtract_RejectsEscapingEntry(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.zip")
	writeZip(t, archive, map[string]string{"../escape.txt": "nope"})

	dst := t.TempDir()

	if err := ziputil.Extract(archive, dst); err == nil {
		t.Fatal("Extract() accepted an escaping entry")
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(dst), "escape.txt")); !os.IsNotExist(err) {
		t.Errorf("escaping entry was written")
	}
}
