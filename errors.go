package poingest

import (
	"fmt"

	"github.com/pkg/errors"
)

// error codes used to classify failures across the pipeline
const (
	ErrCodeGeneral    = "General"
	ErrCodeConfig     = "Config"
	ErrCodeRetryable  = "Retryable"
	ErrCodeFatalHTTP  = "FatalHTTP"
	ErrCodeAuth       = "Auth"
	ErrCodeParse      = "Parse"
	ErrCodeDbFail     = "DbFail"
	ErrCodeLockHeld   = "LockHeld"
	ErrCodeConcurrent = "Concurrency"
)

// IngestError is an error with a classification code. The code decides how the
// orchestrator reacts: Retryable errors are retried inside the fetch client,
// LockHeld aborts the run immediately, everything else propagates.
type IngestError interface {
	error
	Code() string
	Message() string
	StackTrace() string
}

type ingestError struct {
	code string
	msg  string
	err  error
}

// NewIngestError builds an IngestError from a code and a printf-style message.
// If the last argument is an error it is recorded as the cause.
func NewIngestError(code string, msg string, args ...interface{}) IngestError {
	var cause error
	if len(args) > 0 {
		if e, ok := args[len(args)-1].(error); ok {
			cause = e
			args = args[:len(args)-1]
			msg += ", err:%v"
			args = append(args, e)
		}
	}
	if cause == nil {
		cause = errors.New(fmt.Sprintf(msg, args...))
	} else {
		cause = errors.WithStack(cause)
	}
	return &ingestError{
		code: code,
		msg:  fmt.Sprintf(msg, args...),
		err:  cause,
	}
}

func (e *ingestError) Code() string {
	return e.code
}

func (e *ingestError) Message() string {
	return e.msg
}

func (e *ingestError) Error() string {
	return fmt.Sprintf("%v: %v", e.code, e.msg)
}

func (e *ingestError) Unwrap() error {
	return e.err
}

func (e *ingestError) StackTrace() string {
	return fmt.Sprintf("%+v", e.err)
}

// ErrCode extracts the classification code of err, or ErrCodeGeneral for
// errors that did not originate in this package.
func ErrCode(err error) string {
	var ie IngestError
	if errors.As(err, &ie) {
		return ie.Code()
	}
	return ErrCodeGeneral
}

// IsRetryable reports whether err is worth another attempt: network trouble,
// 429 or 5xx responses. Fatal HTTP, auth and parse errors are not.
func IsRetryable(err error) bool {
	return ErrCode(err) == ErrCodeRetryable
}
