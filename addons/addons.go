// Package addons normalizes an optional custom-module bundle, supplied
// as a remote archive, local archive or local directory, into the
// canonical layout the upgrade workers expect: one directory per module,
// each holding a manifest marker, plus a requirements file at the root.
package addons

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/upgradekit/odooup/fetch"
	"github.com/upgradekit/odooup/genericclioptions"
	"github.com/upgradekit/odooup/upgradeerrors"
	"github.com/upgradekit/odooup/util"
	"github.com/upgradekit/odooup/ziputil"
)

const (
	// ManifestMarker identifies a directory as a loadable Odoo module.
	ManifestMarker = "__manifest__.py"

	// LegacyManifestMarker is the pre-10.0 manifest filename, still found
	// in bundles carrying modules ported forward.
	LegacyManifestMarker = "__openerp__.py"

	// RequirementsFile is the python dependency manifest the worker build
	// installs before copying the bundle.
	RequirementsFile = "requirements.txt"

	// SyntheticModuleDir wraps a flat single-module bundle.
	SyntheticModuleDir = "downloaded_module"

	downloadedArchiveName = "addons.zip"
)

// Integrator materializes and normalizes the addons bundle.
type Integrator struct {
	*genericclioptions.IOStreams

	acquirer *fetch.Acquirer
}

func NewIntegrator(iostreams *genericclioptions.IOStreams, acquirer *fetch.Acquirer) *Integrator {
	return &Integrator{
		IOStreams: iostreams,
		acquirer:  acquirer,
	}
}

// Normalize materializes ref into bundleDir and enforces the bundle
// invariant. tmpDir receives intermediate downloads. Every normalization
// step is idempotent and skipped when its precondition is absent.
func (i *Integrator) Normalize(ctx context.Context, ref, bundleDir, tmpDir string) error {
	if ref == "" {
		return nil
	}

	i.Infof("Processing custom addons...\n")

	if err := i.materialize(ctx, ref, bundleDir, tmpDir); err != nil {
		return err
	}

	if err := i.flattenWrapper(bundleDir); err != nil {
		return &upgradeerrors.StagingError{Err: err}
	}

	if err := i.nestFlat(bundleDir); err != nil {
		return &upgradeerrors.StagingError{Err: err}
	}

	if err := i.ensureRequirements(bundleDir); err != nil {
		return &upgradeerrors.StagingError{Err: err}
	}

	i.normalizePermissions(bundleDir)

	i.Infof("Custom addons prepared.\n")

	return nil
}

func (i *Integrator) materialize(ctx context.Context, ref, bundleDir, tmpDir string) error {
	switch {
	case util.IsRemote(ref):
		archive := filepath.Join(tmpDir, downloadedArchiveName)
		if err := i.acquirer.Download(ctx, ref, archive); err != nil {
			return err
		}

		if err := ziputil.Extract(archive, bundleDir); err != nil {
			return &upgradeerrors.StagingError{Err: err}
		}

		return os.Remove(archive)

	case isZipFile(ref):
		if err := ziputil.Extract(ref, bundleDir); err != nil {
			return &upgradeerrors.StagingError{Err: err}
		}

		return nil

	default:
		if err := util.CopyTree(ref, bundleDir); err != nil {
			return &upgradeerrors.StagingError{Err: fmt.Errorf("copy local addons: %w", err)}
		}

		return nil
	}
}

// flattenWrapper lifts the children of an incidental wrapper directory
// (e.g. produced by generic archive exports) up to the bundle root and
// removes the wrapper. Destination collisions are skipped.
func (i *Integrator) flattenWrapper(bundleDir string) error {
	entries, err := snapshot(bundleDir)
	if err != nil {
		return err
	}

	var sole string

	for _, e := range entries {
		if e.IsDir && e.Name[0] != '.' {
			sole = e.Name
		}
	}

	if sole == "" {
		return nil
	}

	children, err := names(filepath.Join(bundleDir, sole))
	if err != nil {
		return err
	}

	wrapper, moves := planWrapperFlatten(entries, children)
	if wrapper == "" {
		return nil
	}

	i.Debugf("detected wrapper directory %q, flattening structure\n", wrapper)

	if err := applyMoves(bundleDir, moves); err != nil {
		return err
	}

	// ignore failure: a skipped collision leaves the wrapper non-empty
	_ = os.Remove(filepath.Join(bundleDir, wrapper))

	return nil
}

// nestFlat relocates a flat single-module bundle into the synthetic
// module directory.
func (i *Integrator) nestFlat(bundleDir string) error {
	ns, err := names(bundleDir)
	if err != nil {
		return err
	}

	moves := planNest(ns)
	if moves == nil {
		return nil
	}

	i.Debugf("detected flat addon structure, reorganizing\n")

	if err := os.MkdirAll(filepath.Join(bundleDir, SyntheticModuleDir), 0o755); err != nil {
		return err
	}

	return applyMoves(bundleDir, moves)
}

// ensureRequirements guarantees a dependency manifest exists at the
// bundle root so worker builds never fail on a missing file.
func (i *Integrator) ensureRequirements(bundleDir string) error {
	p := filepath.Join(bundleDir, RequirementsFile)

	fi, err := os.Stat(p)
	if err == nil {
		if fi.Size() == 0 {
			i.Errorf("empty %s found in custom addons\n", RequirementsFile)
		}

		return nil
	}

	return os.WriteFile(p, nil, 0o644)
}

// normalizePermissions makes directories and shell scripts executable and
// everything else read-write, for the non-root worker process that will
// mount the bundle.
func (i *Integrator) normalizePermissions(bundleDir string) {
	i.Debugf("standardizing addon permissions\n")

	_ = filepath.WalkDir(bundleDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best effort
		}

		switch {
		case d.IsDir(), strings.HasSuffix(d.Name(), ".sh"):
			_ = os.Chmod(path, 0o755)
		default:
			_ = os.Chmod(path, 0o644)
		}

		return nil
	})
}

// ListModules returns the immediate subdirectories of bundleDir holding
// a manifest marker, in lexical order.
func ListModules(bundleDir string) ([]string, error) {
	entries, err := os.ReadDir(bundleDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	var modules []string

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		if isModule(filepath.Join(bundleDir, e.Name())) {
			modules = append(modules, e.Name())
		}
	}

	return modules, nil
}

func isModule(dir string) bool {
	for _, marker := range []string{ManifestMarker, LegacyManifestMarker} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}

	return false
}

func isZipFile(ref string) bool {
	fi, err := os.Stat(ref)
	if err != nil || fi.IsDir() {
		return false
	}

	return strings.EqualFold(filepath.Ext(ref), ".zip")
}

func snapshot(dir string) ([]Entry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(des))
	for _, de := range des {
		entries = append(entries, Entry{Name: de.Name(), IsDir: de.IsDir()})
	}

	return entries, nil
}

func names(dir string) ([]string, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	ns := make([]string, 0, len(des))
	for _, de := range des {
		ns = append(ns, de.Name())
	}

	return ns, nil
}

// applyMoves executes planned renames, skipping moves whose destination
// already exists.
func applyMoves(root string, moves []Move) error {
	for _, m := range moves {
		from := filepath.Join(root, filepath.FromSlash(m.From))
		to := filepath.Join(root, filepath.FromSlash(m.To))

		if _, err := os.Stat(to); err == nil {
			continue
		}

		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("move %s to %s: %w", m.From, m.To, err)
		}
	}

	return nil
}
