// Package database manages the ephemeral postgres service the upgrade
// session runs against: bringing it up from a generated compose
// descriptor, waiting for readiness, restoring the source dump into it,
// probing the installed schema version and dumping the final result.
package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/upgradekit/odooup/compose"
	"github.com/upgradekit/odooup/fetch"
	"github.com/upgradekit/odooup/genericclioptions"
	"github.com/upgradekit/odooup/upgradeerrors"
	"github.com/upgradekit/odooup/util"

	"github.com/juju/clock"
	"github.com/juju/retry"
)

const (
	// ServiceName is the container name of the ephemeral database service.
	ServiceName = "db-odooupgrade"

	// NetworkName is the shared bridge network connecting the database to
	// the upgrade workers.
	NetworkName = "odooupgrade-connection"

	// ComposeFileName is the generated database service descriptor,
	// relative to the session work directory.
	ComposeFileName = "db-composer.yml"

	volumeName = "postgres_data"

	// User is the development-grade role the ephemeral instance runs
	// with. The instance is network-isolated and destroyed with the
	// session, so fixed credentials are acceptable.
	User          = "odoo"
	adminDatabase = "odoo"

	// TargetDatabase is the database the source dump is restored into and
	// the workers upgrade in place.
	TargetDatabase = "database"

	// DumpFileName is the conventional plain-text dump name inside an
	// archive source and in the final package.
	DumpFileName = "dump.sql"

	containerDumpPath    = "/tmp/dump.sql"
	containerRawDumpPath = "/tmp/database.dump"

	filestoreDirName = "filestore"

	readyAttempts = 30
	readyDelay    = 2 * time.Second
)

// Controller owns the ephemeral database service handle for the session.
type Controller struct {
	*genericclioptions.IOStreams

	Exec compose.Executor

	// Clock paces the readiness polling; overridable in tests.
	Clock clock.Clock

	// WorkDir is where the generated descriptor is written.
	WorkDir string
}

func NewController(iostreams *genericclioptions.IOStreams, exec compose.Executor, workDir string) *Controller {
	return &Controller{
		IOStreams: iostreams,
		Exec:      exec,
		Clock:     clock.WallClock,
		WorkDir:   workDir,
	}
}

// ComposePath returns the absolute path of the generated descriptor.
func (c *Controller) ComposePath() string {
	return filepath.Join(c.WorkDir, ComposeFileName)
}

// Start writes the database service descriptor for the requested engine
// version and brings the service up detached.
func (c *Controller) Start(ctx context.Context, postgresVersion string) error {
	if err := descriptor(postgresVersion).WriteFile(c.ComposePath()); err != nil {
		return fmt.Errorf("write database descriptor: %w", err)
	}

	if err := c.Exec.UpDetached(ctx, ComposeFileName); err != nil {
		return fmt.Errorf("start database service: %w", err)
	}

	return nil
}

// descriptor builds the declarative service definition, parameterized
// only by the engine version.
func descriptor(postgresVersion string) *compose.File {
	return &compose.File{
		Services: map[string]compose.Service{
			ServiceName: {
				Image:         "postgres:" + postgresVersion,
				ContainerName: ServiceName,
				Environment: []string{
					"POSTGRES_DB=" + adminDatabase,
					"POSTGRES_PASSWORD=" + User,
					"POSTGRES_USER=" + User,
				},
				Networks: []string{NetworkName},
				Volumes:  []string{volumeName + ":/var/lib/postgresql/data"},
				Restart:  "unless-stopped",
			},
		},
		Networks: map[string]compose.Network{
			NetworkName: {Driver: "bridge", Name: NetworkName},
		},
		Volumes: map[string]*compose.VolumeSpec{
			volumeName: nil,
		},
	}
}

// WaitReady polls pg_isready until the service accepts connections,
// bounded by a fixed attempt count and interval. Exceeding the bound is
// fatal.
func (c *Controller) WaitReady(ctx context.Context) error {
	c.Infof("Waiting for database to be ready...\n")

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			_, err := c.Exec.Exec(ctx, ServiceName, "pg_isready", "-U", User, "-d", adminDatabase)
			return err
		},
		NotifyFunc: func(err error, attempt int) {
			c.Debugf("database not ready yet (attempt %d): %v\n", attempt, err)
		},
		Attempts: readyAttempts,
		Delay:    readyDelay,
		Clock:    c.Clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", upgradeerrors.ErrDatabaseNotReady, err)
	}

	c.Infof("Database is ready.\n")

	return nil
}

// Restore loads the staged artifact into the target database. A failed
// createdb is tolerated (the database may already exist); a failed load
// returns a RestoreError, which the caller may treat as non-fatal since
// the subsequent version probe decides whether the restore was usable.
// filestoreDir receives the bulk files shipped alongside an archive dump.
func (c *Controller) Restore(ctx context.Context, artifact fetch.Artifact, filestoreDir string) error {
	c.Infof("Restoring database...\n")

	if _, err := c.Exec.Exec(ctx, ServiceName, "createdb", "-U", User, TargetDatabase); err != nil {
		c.Debugf("createdb: %v\n", err)
	}

	switch artifact.Kind {
	case fetch.KindArchive:
		return c.restoreArchive(ctx, artifact.Path, filestoreDir)
	case fetch.KindRawDump:
		return c.restoreRawDump(ctx, artifact.Path)
	default:
		return fmt.Errorf("unknown artifact kind %d", artifact.Kind)
	}
}

func (c *Controller) restoreArchive(ctx context.Context, stagingDir, filestoreDir string) error {
	dump, err := LocateDump(stagingDir)
	if err != nil {
		return err
	}

	c.copyFilestore(stagingDir, filestoreDir)

	if err := c.Exec.CopyTo(ctx, dump, ServiceName, containerDumpPath); err != nil {
		return &upgradeerrors.RestoreError{Err: err}
	}

	if _, err := c.Exec.Exec(ctx, ServiceName,
		"psql", "-U", User, "-d", TargetDatabase, "-f", containerDumpPath); err != nil {
		return &upgradeerrors.RestoreError{Err: err}
	}

	return nil
}

func (c *Controller) restoreRawDump(ctx context.Context, dumpPath string) error {
	if err := c.Exec.CopyTo(ctx, dumpPath, ServiceName, containerRawDumpPath); err != nil {
		return &upgradeerrors.RestoreError{Err: err}
	}

	// no ownership or privilege restoration, clean pre-existing objects,
	// triggers disabled during load, all-or-nothing transaction
	if _, err := c.Exec.Exec(ctx, ServiceName,
		"pg_restore", "-U", User, "-d", TargetDatabase,
		"--no-owner", "--no-privileges", "--clean", "--if-exists",
		"--disable-triggers", "--single-transaction",
		containerRawDumpPath); err != nil {
		return &upgradeerrors.RestoreError{Err: err}
	}

	return nil
}

// copyFilestore copies the bulk-file tree shipped with an archive source
// into the session output tree with permissive permissions. Failures are
// reported but never abort the restore.
func (c *Controller) copyFilestore(stagingDir, filestoreDir string) {
	src := filepath.Join(stagingDir, filestoreDirName)
	if _, err := os.Stat(src); err != nil {
		return
	}

	if err := util.CopyTree(src, filestoreDir); err != nil {
		c.Errorf("failed to copy filestore: %v\n", err)
		return
	}

	// the worker runs as a non-root user and writes into this tree
	util.ChmodTree(filestoreDir, 0o777, 0o777)
}

// LocateDump finds the schema dump inside a staged archive by
// convention: the fixed name first, else the first .sql file in lexical
// order.
func LocateDump(stagingDir string) (string, error) {
	conventional := filepath.Join(stagingDir, DumpFileName)
	if _, err := os.Stat(conventional); err == nil {
		return conventional, nil
	}

	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		return "", err
	}

	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			return filepath.Join(stagingDir, e.Name()), nil
		}
	}

	return "", upgradeerrors.ErrNoDumpInArchive
}

// Dump writes a fresh plain-text dump of the target database to outPath.
func (c *Controller) Dump(ctx context.Context, outPath string) (err error) {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("dump database: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if err := c.Exec.ExecStdout(ctx, out, ServiceName, "pg_dump", "-U", User, TargetDatabase); err != nil {
		return fmt.Errorf("dump database: %w", err)
	}

	return nil
}

// TearDown brings the database service down including its volume. Safe
// to call when the service was never started.
func (c *Controller) TearDown(ctx context.Context) error {
	if _, err := os.Stat(c.ComposePath()); err != nil {
		return nil
	}

	return c.Exec.Down(ctx, ComposeFileName, true)
}
