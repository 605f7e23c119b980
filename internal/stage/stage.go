// Package stage defines the pipeline stage names and the error type stages
// use to report failures to the orchestrator.
package stage

import (
	"errors"
	"fmt"
)

// Name identifies a pipeline stage in logs and error details.
type Name string

const (
	Extraction    Name = "extraction"
	Transcription Name = "transcription"
	Analysis      Name = "analysis"
)

// Kind classifies a stage failure.
type Kind string

const (
	KindDecode           Kind = "decode_error"
	KindTranscription    Kind = "transcription_error"
	KindAnalysisDegraded Kind = "analysis_degraded"
	KindValidation       Kind = "validation_error"
	KindCancelled        Kind = "cancelled"
)

// Error is returned by stages. Message is safe to show to users; Err may
// carry collaborator output and is only logged.
type Error struct {
	Stage   Name
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Stage, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Stage, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Detail is the user-visible error_detail for a failed run.
func (e *Error) Detail() string {
	return fmt.Sprintf("%s failed: %s", e.Stage, e.Message)
}

// Fatal reports whether a failure of this kind aborts the run.
func (k Kind) Fatal() bool {
	return k != KindAnalysisDegraded
}

func New(name Name, kind Kind, message string, err error) *Error {
	return &Error{Stage: name, Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of the first stage.Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// Detail returns the user-visible detail for err, falling back to a generic
// message so raw collaborator errors never reach clients.
func Detail(name Name, err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Detail()
	}
	return fmt.Sprintf("%s failed: internal error", name)
}
