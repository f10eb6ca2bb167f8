package upgrade

import (
	"archive/zip"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/upgradekit/odooup/database"
	"github.com/upgradekit/odooup/genericclioptions"
	"github.com/upgradekit/odooup/ziputil"
)

// PackageFileName is the final portable artifact written to the session
// output directory.
const PackageFileName = "upgraded.zip"

// dumper is the single database operation packaging needs.
type dumper interface {
	Dump(ctx context.Context, outPath string) error
}

// Packager produces the final artifact: a fresh schema dump at the
// archive root plus every restored bulk file under its output-relative
// path. The intermediate dump file is removed afterwards, leaving only
// the archive.
type Packager struct {
	*genericclioptions.IOStreams

	Session *Session
	DB      dumper
}

func NewPackager(iostreams *genericclioptions.IOStreams, session *Session, db dumper) *Packager {
	return &Packager{
		IOStreams: iostreams,
		Session:   session,
		DB:        db,
	}
}

// Finalize dumps the upgraded database and packages it, returning the
// archive path.
func (p *Packager) Finalize(ctx context.Context) (string, error) {
	p.Infof("Creating final package...\n")

	dumpPath := filepath.Join(p.Session.OutputDir, database.DumpFileName)
	if err := p.DB.Dump(ctx, dumpPath); err != nil {
		return "", err
	}

	archivePath := filepath.Join(p.Session.OutputDir, PackageFileName)
	if err := p.writeArchive(archivePath, dumpPath); err != nil {
		return "", fmt.Errorf("package artifact: %w", err)
	}

	if err := os.Remove(dumpPath); err != nil {
		p.Errorf("could not remove intermediate dump: %v\n", err)
	}

	return archivePath, nil
}

func (p *Packager) writeArchive(archivePath, dumpPath string) (err error) {
	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(f)
	defer func() {
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
	}()

	if err := ziputil.AddFile(zw, dumpPath, database.DumpFileName); err != nil {
		return err
	}

	// bulk files keep their output-relative paths so a restore can drop
	// the filestore tree next to the dump
	if _, statErr := os.Stat(p.Session.FilestoreDir); statErr != nil {
		return nil
	}

	return filepath.WalkDir(p.Session.FilestoreDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return walkErr
		}

		rel, relErr := filepath.Rel(p.Session.OutputDir, path)
		if relErr != nil {
			return relErr
		}

		return ziputil.AddFile(zw, path, rel)
	})
}
