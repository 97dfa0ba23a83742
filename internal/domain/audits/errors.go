package audits

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures
type ErrorKind string

const (
	KindModelCallFailed   ErrorKind = "model_call_failed"
	KindParseFailed       ErrorKind = "parse_failed"
	KindSequence          ErrorKind = "sequence_error"
	KindPersistenceFailed ErrorKind = "persistence_failed"
)

var (
	ErrModelCallFailed   = &Error{Kind: KindModelCallFailed}
	ErrParseFailed       = &Error{Kind: KindParseFailed}
	ErrSequence          = &Error{Kind: KindSequence}
	ErrPersistenceFailed = &Error{Kind: KindPersistenceFailed}

	// ErrJobNotFound is returned by repositories when no job matches
	ErrJobNotFound = errors.New("audit job not found")
	// ErrJobRunning is returned by Start when another run holds the job
	ErrJobRunning = errors.New("audit is already processing")

	ErrFindingNotFound = errors.New("finding not found")
)

// Error carries the kind of failure plus the job and step it happened in
type Error struct {
	Kind  ErrorKind
	JobID JobID
	Step  string
	Err   error
}

// NewError builds an Error of the given kind
func NewError(kind ErrorKind, jobID JobID, step string, err error) *Error {
	return &Error{Kind: kind, JobID: jobID, Step: step, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.JobID != "" {
		msg += fmt.Sprintf(" job=%s", e.JobID)
	}
	if e.Step != "" {
		msg += fmt.Sprintf(" step=%s", e.Step)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrSequence) works
// regardless of job or step.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the kind of err, or "" when it is not a pipeline error
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
