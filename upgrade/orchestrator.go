package upgrade

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/upgradekit/odooup/addons"
	"github.com/upgradekit/odooup/compose"
	"github.com/upgradekit/odooup/database"
	"github.com/upgradekit/odooup/fetch"
	"github.com/upgradekit/odooup/genericclioptions"
	"github.com/upgradekit/odooup/upgradeerrors"
	"github.com/upgradekit/odooup/util"

	"github.com/blang/semver/v4"
)

// databaseService is the subset of database.Controller the orchestrator
// drives. Narrowed to an interface so the step loop is testable without
// a container runtime.
type databaseService interface {
	Start(ctx context.Context, postgresVersion string) error
	WaitReady(ctx context.Context) error
	Restore(ctx context.Context, artifact fetch.Artifact, filestoreDir string) error
	CurrentVersion(ctx context.Context) (string, error)
	Dump(ctx context.Context, outPath string) error
}

// stepRunner executes a single version transition.
type stepRunner interface {
	Run(ctx context.Context, step Step) error
}

// sourceAcquirer resolves and stages the migration input.
type sourceAcquirer interface {
	ValidateSource(ctx context.Context, source string) error
	ValidateAddons(ctx context.Context, ref string) error
	Acquire(ctx context.Context, source, workDir, stagingDir string) (fetch.Artifact, error)
}

// addonsIntegrator normalizes the optional custom-module bundle.
type addonsIntegrator interface {
	Normalize(ctx context.Context, ref, bundleDir, tmpDir string) error
}

// Orchestrator owns the session lifecycle: validate, stage, restore,
// probe, step iteration, finalize. Cleanup is owned by the Cleaner and
// runs unconditionally on exit, so the orchestrator itself never tears
// anything down.
type Orchestrator struct {
	*genericclioptions.IOStreams

	Session  *Session
	DB       databaseService
	Steps    stepRunner
	Source   sourceAcquirer
	Addons   addonsIntegrator
	Packager *Packager
}

// NewOrchestrator wires an orchestrator with the real service
// implementations on top of the given executor.
func NewOrchestrator(iostreams *genericclioptions.IOStreams, session *Session, exec compose.Executor) *Orchestrator {
	acquirer := fetch.NewAcquirer(iostreams)
	controller := database.NewController(iostreams, exec, session.WorkDir)

	return &Orchestrator{
		IOStreams: iostreams,
		Session:   session,
		DB:        controller,
		Steps:     NewStepRunner(iostreams, session, exec),
		Source:    acquirer,
		Addons:    addons.NewIntegrator(iostreams, acquirer),
		Packager:  NewPackager(iostreams, session, controller),
	}
}

// Run drives the session from validation to the packaged artifact.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.validate(ctx); err != nil {
		return err
	}

	if err := o.stage(ctx); err != nil {
		return err
	}

	if err := o.restore(ctx); err != nil {
		return err
	}

	current, err := o.probe(ctx)
	if err != nil {
		return err
	}

	if err := o.stepLoop(ctx, current); err != nil {
		return err
	}

	return o.finalize(ctx)
}

// validate performs reachability checks only; no side effects yet.
func (o *Orchestrator) validate(ctx context.Context) error {
	s := o.Session

	if !slices.Contains(SupportedVersions, s.TargetVersion) {
		return &upgradeerrors.ValidationError{
			Err: fmt.Errorf("%w: %q (supported: %s)",
				upgradeerrors.ErrUnsupportedTarget, s.TargetVersion, strings.Join(SupportedVersions, ", ")),
		}
	}

	o.Infof("Validating source accessibility...\n")

	if err := o.Source.ValidateSource(ctx, s.Source); err != nil {
		return &upgradeerrors.ValidationError{Err: err}
	}

	if s.HasAddons() {
		o.Infof("Validating extra addons...\n")

		if err := o.Source.ValidateAddons(ctx, s.ExtraAddons); err != nil {
			return &upgradeerrors.ValidationError{Err: err}
		}
	}

	return nil
}

// stage prepares the working tree, destructively removing leftovers of a
// prior session, and normalizes the addons bundle.
func (o *Orchestrator) stage(ctx context.Context) error {
	s := o.Session

	o.Debugf("preparing environment directories\n")

	for _, dir := range []string{s.SourceDir, s.OutputDir} {
		if err := os.RemoveAll(dir); err != nil {
			o.Errorf("could not remove %s: %v\n", dir, err)
		}
	}

	for _, dir := range []string{s.SourceDir, s.FilestoreDir, s.CustomAddonsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &upgradeerrors.StagingError{Err: err}
		}
	}

	// the workers run as a non-root user and write logs and filestore
	// entries into the output tree
	util.ChmodTree(s.OutputDir, 0o777, 0o777)

	return o.Addons.Normalize(ctx, s.ExtraAddons, s.CustomAddonsDir, s.SourceDir)
}

// restore brings up the database service, stages the source artifact and
// loads it. A RestoreError is surfaced but deliberately non-fatal: dumps
// from arbitrary hosts routinely trip over ignorable ownership noise,
// and the subsequent version probe is the authoritative validity check.
func (o *Orchestrator) restore(ctx context.Context) error {
	s := o.Session

	if err := o.DB.Start(ctx, s.PostgresVersion); err != nil {
		return err
	}

	if err := o.DB.WaitReady(ctx); err != nil {
		return err
	}

	artifact, err := o.Source.Acquire(ctx, s.Source, s.WorkDir, s.SourceDir)
	if err != nil {
		return err
	}

	o.Debugf("source staged as %s\n", artifact.Kind)

	if err := o.DB.Restore(ctx, artifact, s.FilestoreDir); err != nil {
		var restoreErr *upgradeerrors.RestoreError
		if !errors.As(err, &restoreErr) {
			return err
		}

		o.Errorf("restore reported an error: %v\n", err)
	}

	return nil
}

// probe determines the installed version; the session cannot proceed
// without knowing where it stands.
func (o *Orchestrator) probe(ctx context.Context) (semver.Version, error) {
	verStr, err := o.DB.CurrentVersion(ctx)
	if err != nil {
		return semver.Version{}, err
	}

	o.Infof("Current database version: %s\n", verStr)

	current := ParseVersion(verStr)
	if current.LT(ParseVersion(SupportedVersions[0])) {
		return semver.Version{}, &upgradeerrors.ValidationError{
			Err: fmt.Errorf("%w (%s): found %s", upgradeerrors.ErrVersionBelowBaseline, SupportedVersions[0], verStr),
		}
	}

	return current, nil
}

// stepLoop advances the database one major version at a time until its
// major matches the target major. Comparison is on majors only, so minor
// drift within the target major never causes an extra step. A step is
// started only after the previous step's success was confirmed and the
// version re-probed.
func (o *Orchestrator) stepLoop(ctx context.Context, current semver.Version) error {
	target := ParseVersion(o.Session.TargetVersion)

	for current.Major < target.Major {
		next := NextMajor(current)

		if err := o.Steps.Run(ctx, Step{To: next, Final: next == o.Session.TargetVersion}); err != nil {
			return err
		}

		verStr, err := o.DB.CurrentVersion(ctx)
		if err != nil {
			return err
		}

		o.Infof("Database is now at version: %s\n", verStr)

		probed := ParseVersion(verStr)
		if probed.Major <= current.Major {
			return &upgradeerrors.StepError{
				Version: next,
				Err:     fmt.Errorf("worker finished but the database still reports %s", verStr),
			}
		}

		current = probed
	}

	if current.Major > target.Major {
		o.Infof("Current version is already higher than target.\n")
	} else {
		o.Infof("Target version reached!\n")
	}

	return nil
}

// finalize packages the upgraded database and removes the staging
// directories that only exist to feed the workers.
func (o *Orchestrator) finalize(ctx context.Context) error {
	artifact, err := o.Packager.Finalize(ctx)
	if err != nil {
		return err
	}

	o.Infof("Upgrade complete! Package available at: %s\n", artifact)

	o.cleanupArtifacts()

	return nil
}

func (o *Orchestrator) cleanupArtifacts() {
	s := o.Session

	o.Debugf("cleaning up staging directories\n")

	for _, dir := range []string{s.SourceDir, s.FilestoreDir, s.CustomAddonsDir} {
		if err := os.RemoveAll(dir); err != nil {
			o.Errorf("could not remove %s: %v\n", dir, err)
		}
	}
}
