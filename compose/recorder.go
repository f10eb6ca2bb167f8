package compose

import (
	"context"
	"io"
)

// Recorder is a test double for Executor that records calls and returns
// pre-configured responses.
type Recorder struct {
	// UpDetachedFn is called when UpDetached is invoked. If nil, returns no error.
	UpDetachedFn func(ctx context.Context, file string) error

	// UpBuildFn is called when UpBuild is invoked.
	UpBuildFn func(ctx context.Context, file string, onLine func(string)) (string, error)

	// DownFn is called when Down is invoked.
	DownFn func(ctx context.Context, file string, removeVolumes bool) error

	// ExecFn is called when Exec is invoked.
	ExecFn func(ctx context.Context, container string, cmd ...string) (string, error)

	// ExecStdoutFn is called when ExecStdout is invoked.
	ExecStdoutFn func(ctx context.Context, out io.Writer, container string, cmd ...string) error

	// CopyToFn is called when CopyTo is invoked.
	CopyToFn func(ctx context.Context, src, container, dst string) error

	// ContainerExitCodeFn is called when ContainerExitCode is invoked.
	ContainerExitCodeFn func(ctx context.Context, container string) (int, error)

	// RemoveContainerFn is called when RemoveContainer is invoked.
	RemoveContainerFn func(ctx context.Context, container string) error

	// Calls records all method invocations in order.
	Calls []Call
}

// Call records a single executor method invocation.
type Call struct {
	Method string
	Args   []string
}

var _ Executor = &Recorder{}

func (r *Recorder) record(method string, args ...string) {
	r.Calls = append(r.Calls, Call{Method: method, Args: args})
}

// CallMethods returns the recorded method names in invocation order.
func (r *Recorder) CallMethods() []string {
	methods := make([]string, 0, len(r.Calls))
	for _, c := range r.Calls {
		methods = append(methods, c.Method)
	}

	return methods
}

func (r *Recorder) UpDetached(ctx context.Context, file string) error {
	r.record("UpDetached", file)

	if r.UpDetachedFn != nil {
		return r.UpDetachedFn(ctx, file)
	}

	return nil
}

func (r *Recorder) UpBuild(ctx context.Context, file string, onLine func(string)) (string, error) {
	r.record("UpBuild", file)

	if r.UpBuildFn != nil {
		return r.UpBuildFn(ctx, file, onLine)
	}

	return "", nil
}

func (r *Recorder) Down(ctx context.Context, file string, removeVolumes bool) error {
	args := []string{file}
	if removeVolumes {
		args = append(args, "-v")
	}

	r.record("Down", args...)

	if r.DownFn != nil {
		return r.DownFn(ctx, file, removeVolumes)
	}

	return nil
}

func (r *Recorder) Exec(ctx context.Context, container string, cmd ...string) (string, error) {
	r.record("Exec", append([]string{container}, cmd...)...)

	if r.ExecFn != nil {
		return r.ExecFn(ctx, container, cmd...)
	}

	return "", nil
}

func (r *Recorder) ExecStdout(ctx context.Context, out io.Writer, container string, cmd ...string) error {
	r.record("ExecStdout", append([]string{container}, cmd...)...)

	if r.ExecStdoutFn != nil {
		return r.ExecStdoutFn(ctx, out, container, cmd...)
	}

	return nil
}

func (r *Recorder) CopyTo(ctx context.Context, src, container, dst string) error {
	r.record("CopyTo", src, container, dst)

	if r.CopyToFn != nil {
		return r.CopyToFn(ctx, src, container, dst)
	}

	return nil
}

func (r *Recorder) ContainerExitCode(ctx context.Context, container string) (int, error) {
	r.record("ContainerExitCode", container)

	if r.ContainerExitCodeFn != nil {
		return r.ContainerExitCodeFn(ctx, container)
	}

	return 0, nil
}

func (r *Recorder) RemoveContainer(ctx context.Context, container string) error {
	r.record("RemoveContainer", container)

	if r.RemoveContainerFn != nil {
		return r.RemoveContainerFn(ctx, container)
	}

	return nil
}
