// Package compose drives the container runtime through its CLI: docker
// compose for service lifecycle and plain docker for one-off commands
// against running containers. Exit codes and standard streams are the
// only contract; no API client is involved.
package compose

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// Executor defines the container-runtime operations the upgrade session
// needs. The abstraction allows tests to inject a recording mock.
type Executor interface {
	// UpDetached starts the services of the given compose file in the background.
	UpDetached(ctx context.Context, file string) error

	// UpBuild builds and runs the services of the given compose file in the
	// foreground, aborting when any container exits. Each stdout line is
	// passed to onLine as it arrives; the captured stderr is returned.
	UpBuild(ctx context.Context, file string, onLine func(string)) (stderr string, err error)

	// Down stops and removes the services of the given compose file.
	Down(ctx context.Context, file string, removeVolumes bool) error

	// Exec runs a command inside a running container and returns its
	// trimmed stdout.
	Exec(ctx context.Context, container string, cmd ...string) (string, error)

	// ExecStdout runs a command inside a running container, streaming its
	// stdout to out.
	ExecStdout(ctx context.Context, out io.Writer, container string, cmd ...string) error

	// CopyTo copies a local file into a running container.
	CopyTo(ctx context.Context, src, container, dst string) error

	// ContainerExitCode returns the recorded exit code of a container.
	ContainerExitCode(ctx context.Context, container string) (int, error)

	// RemoveContainer force-removes a container, ignoring absence.
	RemoveContainer(ctx context.Context, container string) error
}

// ShellExecutor executes runtime commands through the system shell.
type ShellExecutor struct {
	// ComposeCommand is the base compose invocation,
	// e.g. ["docker", "compose"] or ["docker-compose"].
	ComposeCommand []string

	// Docker is the docker binary used for exec/cp/inspect/rm.
	Docker string

	// Dir is the working directory for compose invocations, so relative
	// bind mounts and build contexts in descriptors resolve consistently.
	Dir string
}

var _ Executor = &ShellExecutor{}

// NewShellExecutor creates a ShellExecutor rooted at dir using the given
// compose invocation.
func NewShellExecutor(dir string, composeCommand []string) *ShellExecutor {
	return &ShellExecutor{
		ComposeCommand: composeCommand,
		Docker:         "docker",
		Dir:            dir,
	}
}

// DetectComposeCommand determines whether "docker compose" or the legacy
// "docker-compose" binary is available, preferring the former.
func DetectComposeCommand(ctx context.Context) []string {
	if err := exec.CommandContext(ctx, "docker", "compose", "version").Run(); err == nil {
		return []string{"docker", "compose"}
	}

	if err := exec.CommandContext(ctx, "docker-compose", "--version").Run(); err == nil {
		return []string{"docker-compose"}
	}

	return []string{"docker", "compose"}
}

func (e *ShellExecutor) UpDetached(ctx context.Context, file string) error {
	_, err := e.runCompose(ctx, "-f", file, "up", "-d")
	return err
}

func (e *ShellExecutor) UpBuild(ctx context.Context, file string, onLine func(string)) (string, error) {
	args := e.composeArgs("-f", file, "up", "--build", "--abort-on-container-exit")

	//nolint:gosec // the compose command is configured internally, not user input
	cmd := exec.CommandContext(ctx, e.ComposeCommand[0], args...)
	cmd.Dir = e.Dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", strings.Join(e.ComposeCommand, " "), err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}

	waitErr := cmd.Wait()

	return stderr.String(), waitErr
}

func (e *ShellExecutor) Down(ctx context.Context, file string, removeVolumes bool) error {
	args := []string{"-f", file, "down"}
	if removeVolumes {
		args = append(args, "-v")
	}

	_, err := e.runCompose(ctx, args...)

	return err
}

func (e *ShellExecutor) Exec(ctx context.Context, container string, cmd ...string) (string, error) {
	args := append([]string{"exec", container}, cmd...)
	return e.runDocker(ctx, args...)
}

func (e *ShellExecutor) ExecStdout(ctx context.Context, out io.Writer, container string, cmdArgs ...string) error {
	args := append([]string{"exec", container}, cmdArgs...)

	//nolint:gosec // container and command are assembled internally
	cmd := exec.CommandContext(ctx, e.Docker, args...)
	cmd.Stdout = out

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker %s failed: %s: %w",
			strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}

	return nil
}

func (e *ShellExecutor) CopyTo(ctx context.Context, src, container, dst string) error {
	_, err := e.runDocker(ctx, "cp", src, container+":"+dst)
	return err
}

func (e *ShellExecutor) ContainerExitCode(ctx context.Context, container string) (int, error) {
	out, err := e.runDocker(ctx, "inspect", container, "--format={{.State.ExitCode}}")
	if err != nil {
		return 0, err
	}

	code, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parse container exit code %q: %w", out, err)
	}

	return code, nil
}

func (e *ShellExecutor) RemoveContainer(ctx context.Context, container string) error {
	if _, err := e.runDocker(ctx, "rm", "-f", container); err != nil {
		// absence is fine; removal exists only to avoid name collisions
		return nil
	}

	return nil
}

func (e *ShellExecutor) runCompose(ctx context.Context, args ...string) (string, error) {
	return e.run(ctx, e.ComposeCommand[0], e.composeArgs(args...)...)
}

// composeArgs prepends any compose subcommand components, e.g. "compose"
// when the base invocation is "docker compose".
func (e *ShellExecutor) composeArgs(args ...string) []string {
	return append(append([]string{}, e.ComposeCommand[1:]...), args...)
}

func (e *ShellExecutor) runDocker(ctx context.Context, args ...string) (string, error) {
	return e.run(ctx, e.Docker, args...)
}

func (e *ShellExecutor) run(ctx context.Context, name string, args ...string) (string, error) {
	//nolint:gosec // commands are assembled internally, not from user input
	cmd := exec.CommandContext(ctx, name, args...)
	if e.Dir != "" {
		cmd.Dir = e.Dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}

		return "", fmt.Errorf("%s %s failed: %s: %w", name, strings.Join(args, " "), detail, err)
	}

	return strings.TrimSpace(stdout.String()), nil
}
