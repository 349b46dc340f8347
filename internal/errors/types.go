// Package errors defines the typed error kinds forge's core propagates,
// per the error-handling design: errors are classified, not raised as
// unstructured failures, so the worker and dispatcher can decide recovery
// without unwinding past their loops.
package errors

import "fmt"

// Class buckets an error kind for retry/circuit decisions.
type Class int

const (
	// ClassLocal is recovered at the point of occurrence; it never affects
	// session or task state beyond the current call.
	ClassLocal Class = iota
	// ClassRecoverable maps to a task terminal transition (INCOMPLETE/ERROR)
	// but never crashes the process.
	ClassRecoverable
	// ClassFatal terminates the process (construction-time configuration
	// failures and SessionPersistFailed).
	ClassFatal
)

// Kind names one of the error kinds from the error-handling design.
type Kind string

const (
	KindUserInput              Kind = "UserInputError"
	KindInvalidTransition      Kind = "InvalidTransition"
	KindExecutorTimeout        Kind = "ExecutorTimeout"
	KindExecutorBlocked        Kind = "ExecutorBlocked"
	KindExecutorError          Kind = "ExecutorError"
	KindVerificationMismatch   Kind = "VerificationMismatch"
	KindSessionPersistFailed   Kind = "SessionPersistFailed"
	KindStoreDegraded          Kind = "StoreDegraded"
	KindOverlappingClarify     Kind = "OverlappingClarification"
	KindSessionClosed          Kind = "SessionClosed"
	KindKeySetupRequired       Kind = "KeySetupRequired"
)

var classOf = map[Kind]Class{
	KindUserInput:            ClassLocal,
	KindInvalidTransition:    ClassLocal,
	KindExecutorTimeout:      ClassRecoverable,
	KindExecutorBlocked:      ClassRecoverable,
	KindExecutorError:        ClassRecoverable,
	KindVerificationMismatch: ClassRecoverable,
	KindSessionPersistFailed: ClassFatal,
	KindStoreDegraded:        ClassRecoverable,
	KindOverlappingClarify:   ClassRecoverable,
	KindSessionClosed:        ClassRecoverable,
	KindKeySetupRequired:     ClassLocal,
}

// Error is a typed, wrappable error carrying one Kind plus an LLM/operator
// friendly message and an optional structured reason (used in evidence and
// in the immediate summary's WHY line).
type Error struct {
	Kind    Kind
	Reason  string // machine-stable reason code, e.g. "no_file_changes_verified"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// ClassOf returns the recovery class for the given Kind.
func ClassOf(k Kind) Class { return classOf[k] }

// New constructs a classified Error.
func New(kind Kind, reason, message string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message, Err: err}
}

// IsFatal reports whether err should terminate the process.
func IsFatal(err error) bool {
	var e *Error
	if ok := as(err, &e); ok {
		return classOf[e.Kind] == ClassFatal
	}
	return false
}

// IsRecoverable reports whether err maps to a task terminal transition.
func IsRecoverable(err error) bool {
	var e *Error
	if ok := as(err, &e); ok {
		return classOf[e.Kind] == ClassRecoverable
	}
	return false
}

// KindOf extracts the Kind from err, if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := as(err, &e); ok {
		return e.Kind, true
	}
	return "", false
}
