// Package command runs external programs on behalf of the pipeline stages.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/cochaviz/rootbake/internal/logging"
)

// Command describes a single external program invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the child's working directory; empty inherits ours.
	Dir string
	// Env is appended to the inherited environment of the child only.
	Env []string
}

// String renders the command line for logs and diagnostics.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// Error reports a failed command together with its diagnostic output.
type Error struct {
	Command  Command
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Command.Name, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands with os/exec, streaming their output.
type ExecRunner struct {
	Logger *slog.Logger
	Stdout io.Writer // defaults to os.Stdout
	Stderr io.Writer // defaults to os.Stderr
}

var _ Runner = (*ExecRunner)(nil)

// Run executes cmd and waits for it. Stderr is both streamed and captured so a
// failure can surface the tool's own diagnostic verbatim.
func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	if c.Name == "" {
		return errors.New("no command provided")
	}

	logging.Ensure(r.Logger).Debug("running command", "command", c.String(), "dir", c.Dir)

	var captured bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdout = r.stdout()
	cmd.Stderr = io.MultiWriter(r.stderr(), &captured)

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &Error{
			Command:  c,
			ExitCode: exitCode,
			Stderr:   strings.TrimSpace(captured.String()),
			Err:      err,
		}
	}
	return nil
}

func (r *ExecRunner) stdout() io.Writer {
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

func (r *ExecRunner) stderr() io.Writer {
	if r.Stderr != nil {
		return r.Stderr
	}
	return os.Stderr
}
