package errors

import (
	"errors"
	"fmt"
)

// Kind represents the category of a pipeline error.
type Kind string

const (
	KindDevice          Kind = "device"
	KindCapture         Kind = "capture"
	KindNormalization   Kind = "normalization"
	KindDegenerateFrame Kind = "degenerate_frame"
	KindAnalysis        Kind = "analysis"
	KindCredential      Kind = "credential"
	KindConfig          Kind = "config"
	KindUsage           Kind = "usage"
)

var (
	// ErrArtifactNotFound is wrapped by normalization errors when no output file was found.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrStaleArtifact is wrapped by normalization errors when the output file predates the capture.
	ErrStaleArtifact = errors.New("stale artifact")

	// ErrUnsupportedFormat is wrapped by normalization errors for unknown image encodings.
	ErrUnsupportedFormat = errors.New("unsupported artifact format")
)

// AppError represents a categorized application error
type AppError struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewDeviceError creates an error for a missing or unusable camera device
func NewDeviceError(message string, cause error) *AppError {
	return &AppError{Kind: KindDevice, Message: message, Cause: cause}
}

// NewCaptureError creates an error for a failed or timed-out native capture
func NewCaptureError(message string, cause error) *AppError {
	return &AppError{Kind: KindCapture, Message: message, Cause: cause}
}

// NewNormalizationError creates an error for a missing, stale or unreadable artifact
func NewNormalizationError(message string, cause error) *AppError {
	return &AppError{Kind: KindNormalization, Message: message, Cause: cause}
}

// NewDegenerateFrameError creates the internal retry signal for black frames
func NewDegenerateFrameError(message string) *AppError {
	return &AppError{Kind: KindDegenerateFrame, Message: message}
}

// NewAnalysisError creates an error for a failed vision model exchange
func NewAnalysisError(message string, cause error) *AppError {
	return &AppError{Kind: KindAnalysis, Message: message, Cause: cause}
}

// NewCredentialError creates an error for credential store failures
func NewCredentialError(message string, cause error) *AppError {
	return &AppError{Kind: KindCredential, Message: message, Cause: cause}
}

// NewConfigError creates an error for invalid startup configuration
func NewConfigError(message string, cause error) *AppError {
	return &AppError{Kind: KindConfig, Message: message, Cause: cause}
}

// NewUsageError creates an error for invalid command-line flags
func NewUsageError(message string, cause error) *AppError {
	return &AppError{Kind: KindUsage, Message: message, Cause: cause}
}

// IsKind reports whether any error in err's chain is an AppError of the given kind
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Kind == kind {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// KindOf returns the kind of the first AppError in err's chain, or "" if none
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// ExitCode maps an error to the process exit status:
// 0 for nil, 2 for usage errors, 1 for anything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case IsKind(err, KindUsage):
		return 2
	default:
		return 1
	}
}
