package urpc

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured runtime error with component context and
// errno mapping, following the same category+context+wrapped-inner shape
// across the channel, queue, and task-engine components.
type Error struct {
	Op      string    // Operation that failed (e.g., "CHANNEL_ADD_QUEUE", "TASK_ATTACH")
	Channel uint32    // Channel ID (0 if not applicable)
	Queue   int32     // Queue ID (-1 if not applicable)
	Task    uint32    // Task ID (0 if not applicable)
	Code    ErrorCode // High-level error category
	Errno   syscall.Errno
	Msg     string
	Inner   error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Channel != 0 {
		parts = append(parts, fmt.Sprintf("channel=%d", e.Channel))
	}
	if e.Queue >= 0 {
		parts = append(parts, fmt.Sprintf("queue=%d", e.Queue))
	}
	if e.Task != 0 {
		parts = append(parts, fmt.Sprintf("task=%d", e.Task))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("urpc: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("urpc: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is compares by error category so callers can test against a sentinel
// Error{Code: ...} without caring about context fields.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents the high-level error categories from the runtime's
// error taxonomy: configuration, resource, transport, protocol, verb
// (provider/jetty), peer-reported, and lifecycle errors.
type ErrorCode string

const (
	// Configuration
	ErrCodeInvalidParameters ErrorCode = "invalid parameters"

	// Resource
	ErrCodeChannelNotFound     ErrorCode = "channel not found"
	ErrCodeChannelBusy         ErrorCode = "channel busy"
	ErrCodeQueueNotFound       ErrorCode = "queue not found"
	ErrCodeInsufficientMemory  ErrorCode = "insufficient memory"
	ErrCodeCreditExhausted     ErrorCode = "credit exhausted"
	ErrCodeBacklogExceeded     ErrorCode = "backlog exceeded"

	// Transport
	ErrCodeTransportUnavailable ErrorCode = "transport unavailable"
	ErrCodeTransportClosed      ErrorCode = "transport closed"
	ErrCodeTimeout              ErrorCode = "timeout"

	// Protocol
	ErrCodeProtocolVersion ErrorCode = "protocol version mismatch"
	ErrCodeMalformedHeader ErrorCode = "malformed header"
	ErrCodeTLVOutOfBounds  ErrorCode = "tlv out of bounds"

	// Verb / provider
	ErrCodeProviderNotSupported ErrorCode = "provider operation not supported"
	ErrCodeIOError              ErrorCode = "I/O error"

	// Peer-reported
	ErrCodePeerDeclined ErrorCode = "peer declined"
	ErrCodePeerAborted  ErrorCode = "peer aborted"

	// Lifecycle
	ErrCodeForceExit     ErrorCode = "force exit"
	ErrCodePermissionDenied ErrorCode = "permission denied"
	ErrCodeNotImplemented   ErrorCode = "not implemented"
)

// ForceExitCode is the sentinel error_code used when a task is released
// because of user cancellation or a broken transport, matching the
// framework's URPC_ERR_FORCE_EXIT sentinel.
const ForceExitCode = int32(-2147483648) // math.MinInt32, reserved sentinel

// Error constructors

func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Queue: -1, Code: code, Msg: msg}
}

func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Queue: -1, Code: code, Errno: errno, Msg: errno.Error()}
}

func NewChannelError(op string, channel uint32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Channel: channel, Queue: -1, Code: code, Msg: msg}
}

func NewQueueError(op string, channel uint32, queue int32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Channel: channel, Queue: queue, Code: code, Msg: msg}
}

func NewTaskError(op string, task uint32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Queue: -1, Task: task, Code: code, Msg: msg}
}

// WrapError wraps an existing error with runtime context.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ue, ok := inner.(*Error); ok {
		return &Error{
			Op:      op,
			Channel: ue.Channel,
			Queue:   ue.Queue,
			Task:    ue.Task,
			Code:    ue.Code,
			Errno:   ue.Errno,
			Msg:     ue.Msg,
			Inner:   ue.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op:    op,
			Queue: -1,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{Op: op, Queue: -1, Code: ErrCodeIOError, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT:
		return ErrCodeChannelNotFound
	case syscall.EBUSY:
		return ErrCodeChannelBusy
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeProviderNotSupported
	case syscall.EPERM, syscall.EACCES:
		return ErrCodePermissionDenied
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeInsufficientMemory
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	case syscall.ECONNABORTED, syscall.ECONNRESET:
		return ErrCodeTransportClosed
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Errno == errno
	}
	return false
}
