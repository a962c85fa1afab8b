package build

import (
	"errors"
	"fmt"

	"github.com/cochaviz/rootbake/internal/command"
)

// ErrorKind classifies why a stage failed.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindState      ErrorKind = "pre-existing state"
	KindTool       ErrorKind = "external tool"
	KindFilesystem ErrorKind = "filesystem"
)

// BuildError represents an error that occurred during a pipeline stage.
type BuildError struct {
	Stage   Stage
	Kind    ErrorKind
	Message string
	// Output is the failing tool's diagnostic output, verbatim.
	Output string
	Err    error
}

// Error returns the error message.
func (e *BuildError) Error() string {
	msg := e.Message
	if e.Stage != "" {
		msg = fmt.Sprintf("%s: %s", e.Stage, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, kind ErrorKind, message string, err error) *BuildError {
	buildErr := &BuildError{Stage: stage, Kind: kind, Message: message, Err: err}
	var cmdErr *command.Error
	if errors.As(err, &cmdErr) {
		buildErr.Output = cmdErr.Stderr
	}
	return buildErr
}
