package genericclioptions

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"
)

type IOStreams struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer

	Verbose bool

	// logSink, when set, receives a timestamped copy of every Infof,
	// Debugf and Errorf line regardless of verbosity.
	logSink io.Writer
}

// NewDefaultIOStreams returns the default IOStreams (using os.Stdin, os.Stdout, os.Stderr).
func NewDefaultIOStreams() *IOStreams {
	return &IOStreams{
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

// NewTestIOStreams returns IOStreams backed by buffers for unit tests.
//
//nolint:revive
func NewTestIOStreams() (iostreams *IOStreams, out *bytes.Buffer, errOut *bytes.Buffer) {
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}

	iostreams = &IOStreams{
		In:     bytes.NewReader(nil),
		Out:    out,
		ErrOut: errOut,
	}

	return
}

// NewTestIOStreamsDiscard returns IOStreams that discard both output and
// error output.
func NewTestIOStreamsDiscard() *IOStreams {
	return &IOStreams{
		In:     bytes.NewReader(nil),
		Out:    io.Discard,
		ErrOut: io.Discard,
	}
}

// SetLogSink duplicates leveled output to w, prefixed with a timestamp.
// Pass nil to disable.
func (s *IOStreams) SetLogSink(w io.Writer) {
	s.logSink = w
}

// Printf writes a general, unprefixed formatted message to the standard output stream.
func (s *IOStreams) Printf(format string, args ...any) {
	fmt.Fprintf(s.Out, format, args...)
}

// Debugf writes formatted debug output to the error stream
// if Verbose is enabled. The log sink receives it either way.
func (s *IOStreams) Debugf(format string, args ...any) {
	if s.Verbose {
		fmt.Fprintf(s.ErrOut, "DEBUG "+format, args...)
	}

	s.sinkf("DEBUG", format, args...)
}

// Infof writes a formatted message to the standard output stream.
func (s *IOStreams) Infof(format string, args ...any) {
	fmt.Fprintf(s.Out, format, args...)
	s.sinkf("INFO", format, args...)
}

// Errorf writes a formatted message to the error stream.
func (s *IOStreams) Errorf(format string, args ...any) {
	fmt.Fprintf(s.ErrOut, "ERROR "+format, args...)
	s.sinkf("ERROR", format, args...)
}

// Logf writes to the log sink only. Used for diagnostic output that
// should not reach the console, such as buffered worker logs in quiet mode.
func (s *IOStreams) Logf(format string, args ...any) {
	s.sinkf("DEBUG", format, args...)
}

func (s *IOStreams) sinkf(level, format string, args ...any) {
	if s.logSink == nil {
		return
	}

	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(s.logSink, "%s [%s] %s", time.Now().Format(time.DateTime), level, msg)

	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		fmt.Fprintln(s.logSink)
	}
}
