package gpg

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Error kinds. Use errors.Is to test for them.
var (
	// ErrInvalidConfiguration is returned when a required field is missing or
	// malformed. It is always detected before any I/O.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrDirectoryUnavailable is returned when a home, work or output
	// directory cannot be created.
	ErrDirectoryUnavailable = errors.New("directory unavailable")
	// ErrEngineInvocationFailed is returned when the engine exits non-zero or
	// cannot be started.
	ErrEngineInvocationFailed = errors.New("engine invocation failed")
	// ErrExpectedStatusRecordMissing is returned when a status record that an
	// operation depends on was never emitted.
	ErrExpectedStatusRecordMissing = errors.New("expected status record missing")
	// ErrUnexpectedStatusShape is returned when a status record of a known
	// kind does not carry the expected fields.
	ErrUnexpectedStatusShape = errors.New("unexpected status shape")
)

// stderrSnippetLimit is the max number of stderr bytes kept in EngineError
const stderrSnippetLimit = 2048

// EngineError describes a failed engine invocation.
type EngineError struct {
	// Operation is the engine operation that failed
	Operation Operation
	// ExitCode is the process exit code, or -1 if the process did not start
	ExitCode int
	// Stderr is the tail of the engine error output
	Stderr string
	// Paths lists the files involved in the operation
	Paths []string
	// Status is the status stream emitted before the failure
	Status Status

	cause error
}

// Error implements error
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "gpg %s failed", e.Operation)
	if len(e.Paths) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Paths, ", "))
	}
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
	} else if e.cause != nil {
		fmt.Fprintf(&b, ": %s", e.cause.Error())
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, ": %s", e.Stderr)
	}
	return b.String()
}

// Unwrap returns the underlying process error
func (e *EngineError) Unwrap() error {
	return e.cause
}

// Is reports ErrEngineInvocationFailed as the kind of this error
func (e *EngineError) Is(target error) bool {
	return target == ErrEngineInvocationFailed
}

func stderrSnippet(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if len(s) > stderrSnippetLimit {
		s = "..." + s[len(s)-stderrSnippetLimit:]
	}
	return s
}

// InvalidConfigurationf returns a formatted error of ErrInvalidConfiguration kind
func InvalidConfigurationf(format string, args ...any) error {
	return errors.Mark(
		errors.WithMessage(errors.Errorf(format, args...), ErrInvalidConfiguration.Error()),
		ErrInvalidConfiguration)
}

// directoryUnavailable marks err with ErrDirectoryUnavailable kind
func directoryUnavailable(err error, path string) error {
	return errors.Mark(
		errors.WithMessagef(err, "%s: %q", ErrDirectoryUnavailable.Error(), path),
		ErrDirectoryUnavailable)
}
