package bridge

import (
	"errors"
	"fmt"

	"github.com/gopcua/opcua/ua"

	"github.com/roach88/uabridge/internal/wire"
)

// Error represents a message or change the bridge refused to act on.
//
// Bridge errors are never fatal to the process. The inbound worker logs
// them, records them in the journal and moves on to the next message.
// Only ErrCodeSetupFailed ends a run.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Variable names the affected variable, if any.
	Variable string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes bridge errors.
type ErrorCode string

const (
	// ErrCodeMalformed indicates a record that could not be decoded or
	// carries an invalid kind, access mode or name.
	ErrCodeMalformed ErrorCode = "MALFORMED_MESSAGE"

	// ErrCodeOutOfState indicates a message the registration state machine
	// does not accept in its current state.
	ErrCodeOutOfState ErrorCode = "OUT_OF_STATE"

	// ErrCodeUnknownVariable indicates a write for a name that was never registered.
	ErrCodeUnknownVariable ErrorCode = "UNKNOWN_VARIABLE"

	// ErrCodeTypeMismatch indicates a write whose kind differs from the node's data type.
	ErrCodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// ErrCodeAddressSpace indicates the address space rejected an operation.
	ErrCodeAddressSpace ErrorCode = "ADDRESS_SPACE"

	// ErrCodeSlotUnavailable indicates a slot outside the suppression buffer.
	ErrCodeSlotUnavailable ErrorCode = "SLOT_UNAVAILABLE"

	// ErrCodeSetupFailed indicates a worker could not acquire its queue.
	ErrCodeSetupFailed ErrorCode = "SETUP_FAILED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Variable != "" {
		msg = fmt.Sprintf("%s (variable=%s)", msg, e.Variable)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// IsMalformed returns true if the error is a malformed message error.
func IsMalformed(err error) bool { return CodeOf(err) == ErrCodeMalformed }

// IsOutOfState returns true if the message arrived in the wrong registration state.
func IsOutOfState(err error) bool { return CodeOf(err) == ErrCodeOutOfState }

// IsUnknownVariable returns true if the error names an unregistered variable.
func IsUnknownVariable(err error) bool { return CodeOf(err) == ErrCodeUnknownVariable }

// IsTypeMismatch returns true if the error is a kind/data type mismatch.
func IsTypeMismatch(err error) bool { return CodeOf(err) == ErrCodeTypeMismatch }

// IsAddressSpace returns true if the address space rejected the operation.
func IsAddressSpace(err error) bool { return CodeOf(err) == ErrCodeAddressSpace }

// IsSlotUnavailable returns true if a slot was outside the suppression buffer.
func IsSlotUnavailable(err error) bool { return CodeOf(err) == ErrCodeSlotUnavailable }

// IsSetupFailed returns true if a worker failed to start.
func IsSetupFailed(err error) bool { return CodeOf(err) == ErrCodeSetupFailed }

// NewMalformedError creates a malformed message error.
func NewMalformedError(variable, message string, cause error) *Error {
	return &Error{Code: ErrCodeMalformed, Message: message, Variable: variable, Err: cause}
}

// NewOutOfStateError creates an out-of-state error for a message kind.
func NewOutOfStateError(message string) *Error {
	return &Error{Code: ErrCodeOutOfState, Message: message}
}

// NewUnknownVariableError creates an unknown variable error.
func NewUnknownVariableError(variable string) *Error {
	return &Error{
		Code:     ErrCodeUnknownVariable,
		Message:  "write for unregistered variable",
		Variable: variable,
	}
}

// NewTypeMismatchError creates a type mismatch error.
func NewTypeMismatchError(variable string, got wire.Kind, want ua.TypeID) *Error {
	return &Error{
		Code:     ErrCodeTypeMismatch,
		Message:  fmt.Sprintf("write carries %s, node holds type %d", got, uint32(want)),
		Variable: variable,
	}
}

// NewAddressSpaceError wraps an address space failure.
func NewAddressSpaceError(variable, message string, cause error) *Error {
	return &Error{Code: ErrCodeAddressSpace, Message: message, Variable: variable, Err: cause}
}

// NewSlotUnavailableError creates a slot error.
func NewSlotUnavailableError(variable string, slot uint16, capacity int) *Error {
	return &Error{
		Code:     ErrCodeSlotUnavailable,
		Message:  fmt.Sprintf("slot %d outside suppression capacity %d", slot, capacity),
		Variable: variable,
	}
}

// NewSetupError wraps a worker setup failure.
func NewSetupError(role string, cause error) *Error {
	return &Error{Code: ErrCodeSetupFailed, Message: role + " setup failed", Err: cause}
}
