package packaging

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInvokedCorrectly is returned when the binary was not run as a cargo subcommand.
	ErrNotInvokedCorrectly = errors.New("this binary may only be called via `cargo flutter`")
	// ErrFormatNotSupported is returned for an unknown packaging format.
	ErrFormatNotSupported = errors.New("packaging format not supported")
	// ErrEngineVersionUnavailable is returned when no source yields an engine version.
	ErrEngineVersionUnavailable = errors.New("flutter engine version unavailable")
	// ErrNativeBuildFailed is returned when the native build fails.
	ErrNativeBuildFailed = errors.New("native build failed")
	// ErrBundleBuildFailed is returned when the flutter bundle step fails.
	ErrBundleBuildFailed = errors.New("flutter bundle failed")
	// ErrAotBuildFailed is returned when the AOT snapshot step fails.
	ErrAotBuildFailed = errors.New("aot snapshot failed")
	// ErrPackagingConfigInvalid is returned when format metadata is missing or inconsistent.
	ErrPackagingConfigInvalid = errors.New("invalid packaging configuration")
	// ErrPackagingToolFailed is returned when an external packaging tool fails.
	ErrPackagingToolFailed = errors.New("packaging tool failed")
	// ErrNonRepresentablePath is returned when a path must be text but is not valid UTF-8.
	ErrNonRepresentablePath = errors.New("path is not valid utf-8")
)

// StageError ties a failure to the pipeline stage and error kind it belongs to.
type StageError struct {
	// Stage is a short name of the failed step.
	Stage string
	// Kind is one of the sentinel errors above.
	Kind error
	// Err is the underlying cause, kept verbatim.
	Err error
}

// NewStageError wraps err with a stage name and kind.
func NewStageError(stage string, kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}

	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// ConfigErrorf formats a packaging configuration error.
func ConfigErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPackagingConfigInvalid, fmt.Sprintf(format, args...))
}
