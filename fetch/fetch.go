// Package fetch resolves the migration source reference, remote or
// local, into a staged artifact the restore step can consume.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/upgradekit/odooup/genericclioptions"
	"github.com/upgradekit/odooup/upgradeerrors"
	"github.com/upgradekit/odooup/util"
	"github.com/upgradekit/odooup/ziputil"
)

const (
	// validateTimeout bounds reachability checks. Fetches themselves are
	// bounded by the session context only.
	validateTimeout = 30 * time.Second

	// RawDumpName is the canonical staged filename for an opaque dump.
	RawDumpName = "database.dump"

	// fallbackDownloadName is used when a source URL has no usable basename.
	fallbackDownloadName = "downloaded_db.dump"

	// progressInterval is the byte interval between download progress reports.
	progressInterval = 8 << 20
)

// Kind classifies a staged source artifact by container format.
type Kind int

const (
	// KindArchive is a zip archive holding a plain-text dump and
	// optionally a filestore tree.
	KindArchive Kind = iota

	// KindRawDump is an opaque file treated as a pg_restore-compatible dump.
	KindRawDump
)

func (k Kind) String() string {
	if k == KindArchive {
		return "archive"
	}

	return "raw dump"
}

// Artifact is a staged, classified source.
type Artifact struct {
	Kind Kind

	// Path is the staging directory for an archive, or the staged dump
	// file for a raw dump.
	Path string
}

// Acquirer downloads, stages and classifies source and addons references.
type Acquirer struct {
	*genericclioptions.IOStreams

	Client *http.Client
}

func NewAcquirer(iostreams *genericclioptions.IOStreams) *Acquirer {
	return &Acquirer{
		IOStreams: iostreams,
		Client:    http.DefaultClient,
	}
}

// ValidateSource checks that the source reference is reachable: an
// http(s) URL answering without an error status, or an existing file.
// No retries; an unreachable source fails the session before any side
// effects.
func (a *Acquirer) ValidateSource(ctx context.Context, source string) error {
	if !util.IsRemote(source) {
		if _, err := os.Stat(source); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s", upgradeerrors.ErrSourceNotFound, source)
			}

			return fmt.Errorf("stat source: %w", err)
		}

		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", upgradeerrors.ErrSourceUnreachable, err)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", upgradeerrors.ErrSourceUnreachable, err)
	}
	defer func() { //nolint:wsl
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: status %s", upgradeerrors.ErrSourceUnreachable, resp.Status)
	}

	return nil
}

// ValidateAddons checks that an addons reference is usable: an http(s)
// URL answering a HEAD request, or an existing local path. Any other URL
// scheme is rejected.
func (a *Acquirer) ValidateAddons(ctx context.Context, ref string) error {
	if strings.Contains(ref, "://") {
		if !util.IsRemote(ref) {
			return upgradeerrors.ErrAddonsScheme
		}

		ctx, cancel := context.WithTimeout(ctx, validateTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, ref, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", upgradeerrors.ErrAddonsUnreachable, err)
		}

		resp, err := a.Client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", upgradeerrors.ErrAddonsUnreachable, err)
		}
		defer func() { //nolint:wsl
			_ = resp.Body.Close()
		}()

		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("%w: status %s", upgradeerrors.ErrAddonsUnreachable, resp.Status)
		}

		return nil
	}

	if _, err := os.Stat(ref); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", upgradeerrors.ErrAddonsNotFound, ref)
		}

		return fmt.Errorf("stat addons: %w", err)
	}

	return nil
}

// Download streams rawURL into dest. Failure is immediate; there is no
// retry. Progress is reported through Debugf.
func (a *Acquirer) Download(ctx context.Context, rawURL, dest string) (err error) {
	a.Debugf("downloading %s to %s\n", rawURL, dest)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer func() { //nolint:wsl
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("download: status %s", resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	n, err := io.Copy(out, &progressReader{r: resp.Body, total: resp.ContentLength, ios: a.IOStreams})
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	a.Debugf("downloaded %d bytes\n", n)

	return nil
}

// Acquire resolves the source reference into a staged artifact under
// stagingDir. Remote sources are first downloaded into workDir; the
// temporary download is removed once staging succeeded.
func (a *Acquirer) Acquire(ctx context.Context, source, workDir, stagingDir string) (Artifact, error) {
	local := source
	downloaded := false

	if util.IsRemote(source) {
		local = filepath.Join(workDir, downloadName(source))
		if err := a.Download(ctx, source, local); err != nil {
			return Artifact{}, err
		}

		downloaded = true
	}

	artifact, err := a.stage(local, stagingDir)
	if err != nil {
		return Artifact{}, err
	}

	if downloaded {
		if err := os.Remove(local); err != nil {
			a.Errorf("could not remove downloaded file %s: %v\n", local, err)
		}
	}

	return artifact, nil
}

// stage classifies the local source by container format and stages it:
// archives are unpacked in place, anything else is copied to the
// canonical raw-dump filename.
func (a *Acquirer) stage(local, stagingDir string) (Artifact, error) {
	if strings.EqualFold(filepath.Ext(local), ".zip") {
		a.Infof("Extracting source archive...\n")

		if err := ziputil.Extract(local, stagingDir); err != nil {
			return Artifact{}, &upgradeerrors.StagingError{Err: err}
		}

		return Artifact{Kind: KindArchive, Path: stagingDir}, nil
	}

	a.Infof("Staging dump file...\n")

	staged := filepath.Join(stagingDir, RawDumpName)
	if err := util.CopyFile(local, staged); err != nil {
		return Artifact{}, &upgradeerrors.StagingError{Err: err}
	}

	return Artifact{Kind: KindRawDump, Path: staged}, nil
}

// downloadName derives a local filename from a source URL, ignoring any
// query string.
func downloadName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallbackDownloadName
	}

	if name := path.Base(u.Path); name != "" && name != "." && name != "/" {
		return name
	}

	return fallbackDownloadName
}

// progressReader reports transferred byte counts at fixed intervals.
type progressReader struct {
	r     io.Reader
	total int64
	ios   *genericclioptions.IOStreams

	read     int64
	reported int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)

	if p.read-p.reported >= progressInterval {
		p.reported = p.read

		if p.total > 0 {
			p.ios.Debugf("transferred %d/%d bytes\n", p.read, p.total)
		} else {
			p.ios.Debugf("transferred %d bytes\n", p.read)
		}
	}

	return n, err
}
