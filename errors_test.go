package urpc

import (
	"errors"
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("CLIENT_ATTACH_SERVER", ErrCodeInvalidParameters, "invalid queue depth")

	if err.Op != "CLIENT_ATTACH_SERVER" {
		t.Errorf("Expected Op=CLIENT_ATTACH_SERVER, got %s", err.Op)
	}
	if err.Code != ErrCodeInvalidParameters {
		t.Errorf("Expected Code=ErrCodeInvalidParameters, got %s", err.Code)
	}

	expected := "urpc: invalid queue depth (op=CLIENT_ATTACH_SERVER)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestErrorWithErrno(t *testing.T) {
	err := NewErrorWithErrno("CONNECT", ErrCodePermissionDenied, syscall.EPERM)

	if err.Errno != syscall.EPERM {
		t.Errorf("Expected Errno=EPERM, got %v", err.Errno)
	}
	if err.Code != ErrCodePermissionDenied {
		t.Errorf("Expected Code=ErrCodePermissionDenied, got %s", err.Code)
	}
}

func TestChannelError(t *testing.T) {
	err := NewChannelError("CHANNEL_ADD_QUEUE", 123, ErrCodeChannelBusy, "channel in use")

	if err.Channel != 123 {
		t.Errorf("Expected Channel=123, got %d", err.Channel)
	}

	expected := "urpc: channel in use (op=CHANNEL_ADD_QUEUE)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestQueueError(t *testing.T) {
	err := NewQueueError("RX_POST", 42, 1, ErrCodeIOError, "queue stalled")

	if err.Channel != 42 {
		t.Errorf("Expected Channel=42, got %d", err.Channel)
	}
	if err.Queue != 1 {
		t.Errorf("Expected Queue=1, got %d", err.Queue)
	}
}

func TestTaskError(t *testing.T) {
	err := NewTaskError("HANDLE_ATTACH_REQ", 7, ErrCodePeerDeclined, "peer declined attach")

	if err.Task != 7 {
		t.Errorf("Expected Task=7, got %d", err.Task)
	}
	if err.Code != ErrCodePeerDeclined {
		t.Errorf("Expected Code=ErrCodePeerDeclined, got %s", err.Code)
	}
}

func TestWrapError(t *testing.T) {
	inner := syscall.ENOENT
	err := WrapError("CHANNEL_LOOKUP", inner)

	if err.Code != ErrCodeChannelNotFound {
		t.Errorf("Expected Code=ErrCodeChannelNotFound, got %s", err.Code)
	}
	if err.Errno != syscall.ENOENT {
		t.Errorf("Expected Errno=ENOENT, got %v", err.Errno)
	}
	if !errors.Is(err, syscall.ENOENT) {
		t.Error("Expected wrapped error to satisfy errors.Is for ENOENT")
	}
}

func TestErrorIsByCode(t *testing.T) {
	a := &Error{Op: "A", Queue: -1, Code: ErrCodeChannelNotFound}
	b := &Error{Op: "B", Channel: 99, Queue: -1, Code: ErrCodeChannelNotFound}

	if !errors.Is(a, b) {
		t.Error("two Errors with the same Code should satisfy errors.Is regardless of context fields")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("TEST", ErrCodeTimeout, "operation timed out")

	if !IsCode(err, ErrCodeTimeout) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, ErrCodeIOError) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, ErrCodeTimeout) {
		t.Error("IsCode should return false for nil error")
	}
}

func TestIsErrno(t *testing.T) {
	err := NewErrorWithErrno("TEST", ErrCodeIOError, syscall.EIO)

	if !IsErrno(err, syscall.EIO) {
		t.Error("IsErrno should return true for matching errno")
	}
	if IsErrno(err, syscall.EPERM) {
		t.Error("IsErrno should return false for non-matching errno")
	}
	if IsErrno(nil, syscall.EIO) {
		t.Error("IsErrno should return false for nil error")
	}
}

func TestErrnoMapping(t *testing.T) {
	testCases := []struct {
		errno    syscall.Errno
		expected ErrorCode
	}{
		{syscall.ENOENT, ErrCodeChannelNotFound},
		{syscall.EBUSY, ErrCodeChannelBusy},
		{syscall.EINVAL, ErrCodeInvalidParameters},
		{syscall.EPERM, ErrCodePermissionDenied},
		{syscall.ENOMEM, ErrCodeInsufficientMemory},
		{syscall.ETIMEDOUT, ErrCodeTimeout},
		{syscall.ENOSYS, ErrCodeProviderNotSupported},
		{syscall.ECONNRESET, ErrCodeTransportClosed},
	}

	for _, tc := range testCases {
		code := mapErrnoToCode(tc.errno)
		if code != tc.expected {
			t.Errorf("mapErrnoToCode(%v) = %s, want %s", tc.errno, code, tc.expected)
		}
	}
}
