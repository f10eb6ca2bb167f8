// Package ziputil wraps archive/zip with the two operations the upgrade
// session needs: extracting an archive into a directory and appending
// files to an archive under explicit relative names.
package ziputil

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/upgradekit/odooup/upgradeerrors"
)

// Extract unpacks the zip archive at src into dstDir, creating it if
// necessary. Entries escaping dstDir are rejected.
func Extract(src, dstDir string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return fmt.Errorf("%w: %s", upgradeerrors.ErrBadArchive, src)
		}

		return fmt.Errorf("open archive: %w", err)
	}
	defer func() { //nolint:wsl
		_ = r.Close()
	}()

	for _, f := range r.File {
		if err := extractOne(f, dstDir); err != nil {
			return err
		}
	}

	return nil
}

func extractOne(f *zip.File, dstDir string) (err error) {
	target := filepath.Join(dstDir, filepath.FromSlash(f.Name))
	if !strings.HasPrefix(target, filepath.Clean(dstDir)+string(os.PathSeparator)) {
		return fmt.Errorf("archive entry escapes destination: %s", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { //nolint:wsl
		_ = rc.Close()
	}()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	//nolint:gosec // archives are session inputs restored into a scratch tree
	_, err = io.Copy(out, rc)

	return err
}

// AddFile appends the file at path to the archive under the given
// slash-separated name.
func AddFile(zw *zip.Writer, path, name string) (err error) {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { //nolint:wsl
		_ = in.Close()
	}()

	w, err := zw.Create(filepath.ToSlash(name))
	if err != nil {
		return err
	}

	_, err = io.Copy(w, in)

	return err
}
