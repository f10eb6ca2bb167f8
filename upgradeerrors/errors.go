// Package upgradeerrors defines the error taxonomy shared across the
// upgrade session: sentinel values for well-known fatal conditions and
// typed wrappers that mark which phase of the session an error belongs to.
package upgradeerrors

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedTarget = errors.New("unsupported target version")

	ErrSourceNotFound = errors.New("source file not found")

	ErrSourceUnreachable = errors.New("source URL is not accessible")

	ErrAddonsNotFound = errors.New("extra addons path not found")

	ErrAddonsUnreachable = errors.New("extra addons URL is not accessible")

	ErrAddonsScheme = errors.New("invalid protocol for addons URL: only http/https supported")

	ErrBadArchive = errors.New("file is not a valid zip archive")

	ErrNoDumpInArchive = errors.New("no sql dump found inside the source archive")

	ErrDatabaseNotReady = errors.New("database failed to start")

	ErrVersionUnknown = errors.New("could not determine database version")

	ErrVersionBelowBaseline = errors.New("source database version is below the supported baseline")
)

// ValidationError marks a failure detected before any side effects were
// performed. Sessions failing validation leave no partial state behind.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "validation: " + e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// StagingError marks a failure while preparing the working tree or the
// addons bundle; cleanup still reclaims any partial staging.
type StagingError struct {
	Err error
}

func (e *StagingError) Error() string { return "staging: " + e.Err.Error() }

func (e *StagingError) Unwrap() error { return e.Err }

// RestoreError marks a failed database load. It is surfaced but not fatal
// by itself: the subsequent version probe decides whether the restored
// database is usable.
type RestoreError struct {
	Err error
}

func (e *RestoreError) Error() string { return "restore: " + e.Err.Error() }

func (e *RestoreError) Unwrap() error { return e.Err }

// StepError marks a failed upgrade step. Steps are never retried or
// skipped; a StepError aborts the whole sequence.
type StepError struct {
	Version string // the version the failed step was upgrading to
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("upgrade step to %s: %v", e.Version, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
