// Package upgrade implements the upgrade-session state machine: it
// stages the source database and addons bundle, drives the ephemeral
// database service, iterates version-specific containerized upgrade
// workers until the target version is reached, and packages the result.
package upgrade

import "path/filepath"

const (
	sourceDirName       = "source"
	outputDirName       = "output"
	filestoreDirName    = "filestore"
	customAddonsDirName = "custom_addons"

	// DockerfileName is the generated worker image definition, written to
	// the session work directory and removed on cleanup.
	DockerfileName = "Dockerfile"

	// WorkerComposeFileName is the generated worker service descriptor.
	WorkerComposeFileName = "odoo-upgrade-composer.yml"
)

// SupportedVersions lists the valid upgrade targets, oldest first. The
// first entry is also the baseline: databases probing below it cannot be
// upgraded by the available workers.
var SupportedVersions = []string{"10.0", "11.0", "12.0", "13.0", "14.0", "15.0", "16.0", "17.0", "18.0"}

// Session is the immutable input configuration of one upgrade run,
// created once at start and read-only thereafter.
type Session struct {
	// Source is the migration input: an http(s) URL or a local path to a
	// .zip archive or raw dump.
	Source string

	// TargetVersion is the version the database is upgraded to, one of
	// SupportedVersions.
	TargetVersion string

	// ExtraAddons optionally references a custom-module bundle: URL,
	// local archive or local directory. Empty means none.
	ExtraAddons string

	// PostgresVersion selects the engine image of the ephemeral database.
	PostgresVersion string

	Verbose bool

	// WorkDir anchors the fixed working-directory tree below.
	WorkDir string

	SourceDir       string
	OutputDir       string
	FilestoreDir    string
	CustomAddonsDir string
}

// NewSession derives the session working tree from workDir.
func NewSession(source, targetVersion, extraAddons, postgresVersion string, verbose bool, workDir string) *Session {
	outputDir := filepath.Join(workDir, outputDirName)

	return &Session{
		Source:          source,
		TargetVersion:   targetVersion,
		ExtraAddons:     extraAddons,
		PostgresVersion: postgresVersion,
		Verbose:         verbose,
		WorkDir:         workDir,
		SourceDir:       filepath.Join(workDir, sourceDirName),
		OutputDir:       outputDir,
		FilestoreDir:    filepath.Join(outputDir, filestoreDirName),
		CustomAddonsDir: filepath.Join(outputDir, customAddonsDirName),
	}
}

// HasAddons reports whether a custom-module bundle was supplied.
func (s *Session) HasAddons() bool {
	return s.ExtraAddons != ""
}
