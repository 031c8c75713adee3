package livequiz

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind groups errors by how a caller should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindAdmission
	KindDuplicateSubmission
	KindExpiredWindow
	KindInvalidTransition
	KindDebounce
	KindOfflineTarget
	KindNotFound
	KindForbidden
	KindInvalidInput
	KindFault
)

func (k Kind) String() string {
	switch k {
	case KindAdmission:
		return "admission"
	case KindDuplicateSubmission:
		return "duplicate_submission"
	case KindExpiredWindow:
		return "expired_window"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindDebounce:
		return "debounce"
	case KindOfflineTarget:
		return "offline_target"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindInvalidInput:
		return "invalid_input"
	case KindFault:
		return "fault"
	}
	return "internal"
}

// Error is a typed domain error. Code is a stable machine-readable reason;
// two errors match under errors.Is when their codes are equal.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (e *Error) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

var (
	ErrEventNotFound = &Error{Kind: KindAdmission, Code: "event_not_found", Message: "Event not found"}
	ErrEventLocked   = &Error{Kind: KindAdmission, Code: "event_locked",
		Message: "Event is locked and not accepting new participants"}
	ErrDeviceConflict = &Error{Kind: KindAdmission, Code: "device_conflict",
		Message: "Device is already in another active event"}

	ErrAlreadyAnswered = &Error{Kind: KindDuplicateSubmission, Code: "already_answered",
		Message: "Answer already submitted for this question"}
	ErrTimeExpired = &Error{Kind: KindExpiredWindow, Code: "time_expired",
		Message: "Time to answer this question has expired"}
	ErrQuestionClosed = &Error{Kind: KindExpiredWindow, Code: "question_closed",
		Message: "Question is not open for answers"}

	ErrTargetOffline = &Error{Kind: KindOfflineTarget, Code: "target_offline",
		Message: "Target participant is not connected"}

	ErrNotFound       = &Error{Kind: KindNotFound, Code: "not_found", Message: "not found"}
	ErrForbidden      = &Error{Kind: KindForbidden, Code: "forbidden", Message: "forbidden"}
	ErrSegmentFaulted = &Error{Kind: KindFault, Code: "segment_faulted",
		Message: "Segment is in an unrecoverable state"}
)

// Sentinel used with errors.Is for any rejected transition.
var ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Code: "invalid_transition"}

// Sentinel used with errors.Is for any debounce rejection.
var ErrDebounced = &Error{Kind: KindDebounce, Code: "debounced"}

func InvalidTransition(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidTransition, Code: "invalid_transition", Message: fmt.Sprintf(format, args...)}
}

func InvalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Code: "invalid_input", Message: fmt.Sprintf(format, args...)}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Code: "not_found", Message: what + " not found"}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Code: "forbidden", Message: fmt.Sprintf(format, args...)}
}

// Debounced reports how long the caller must wait before retrying.
func Debounced(wait time.Duration) *Error {
	e := &Error{Kind: KindDebounce, Code: "debounced", RetryAfter: wait}
	e.Message = fmt.Sprintf("Recovery action too soon, please wait %d seconds", e.RetryAfterSeconds())
	return e
}

// Faulted wraps an unexpected condition that stopped a segment.
func Faulted(cause error) *Error {
	return &Error{Kind: KindFault, Code: "segment_faulted", Message: ErrSegmentFaulted.Message, Cause: cause}
}

// KindOf returns the Kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
