// Package util holds small filesystem helpers shared by the staging,
// addons and restore code paths.
package util

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// CopyTree recursively copies the directory tree rooted at src into dst,
// creating dst if needed. Existing files in dst are overwritten.
func CopyTree(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		return CopyFile(path, target)
	})
}

// CopyFile copies a single regular file, preserving nothing but content.
func CopyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { //nolint:wsl
		_ = in.Close()
	}()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(out, in)

	return err
}

// ChmodTree applies dirMode to every directory and fileMode to every
// regular file under root, root included. Errors on individual entries
// are ignored; the walk continues.
func ChmodTree(root string, dirMode, fileMode os.FileMode) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best effort
		}

		if d.IsDir() {
			_ = os.Chmod(path, dirMode)
		} else {
			_ = os.Chmod(path, fileMode)
		}

		return nil
	})
}

// IsRemote reports whether ref is an http(s) URL rather than a local path.
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}
