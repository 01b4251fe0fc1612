package protocol

import "fmt"

// ErrorKind enumerates the error dispositions the core distinguishes, per
// the error handling design: each kind carries its own state-mutation
// contract and its own wire ERROR code.
type ErrorKind uint8

const (
	ErrorKindInvalidRequest ErrorKind = iota
	ErrorKindUnsupportedRequest
	ErrorKindUnexpectedRequest
	ErrorKindVersionMismatch
	ErrorKindBusy
	ErrorKindNotReady
	ErrorKindRequestResynch
	ErrorKindSecurityViolation
	ErrorKindDecryptError
	ErrorKindTransportError
	ErrorKindInternalError
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindInvalidRequest:
		return "InvalidRequest"
	case ErrorKindUnsupportedRequest:
		return "UnsupportedRequest"
	case ErrorKindUnexpectedRequest:
		return "UnexpectedRequest"
	case ErrorKindVersionMismatch:
		return "VersionMismatch"
	case ErrorKindBusy:
		return "Busy"
	case ErrorKindNotReady:
		return "NotReady"
	case ErrorKindRequestResynch:
		return "RequestResynch"
	case ErrorKindSecurityViolation:
		return "SecurityViolation"
	case ErrorKindDecryptError:
		return "DecryptError"
	case ErrorKindTransportError:
		return "TransportError"
	case ErrorKindInternalError:
		return "InternalError"
	default:
		return "UnknownErrorKind"
	}
}

// wireCode is the SPDM ERROR response's Param1 value for this kind, or 0xFF
// if the kind never produces a wire ERROR (it either tears down the transport
// or reflects a purely local condition).
func (k ErrorKind) wireCode() uint8 {
	switch k {
	case ErrorKindInvalidRequest:
		return 0x01
	case ErrorKindUnsupportedRequest:
		return 0x04
	case ErrorKindUnexpectedRequest:
		return 0x06
	case ErrorKindVersionMismatch:
		return 0x41
	case ErrorKindBusy:
		return 0x03
	case ErrorKindNotReady:
		return 0x42
	case ErrorKindRequestResynch:
		return 0x43
	case ErrorKindDecryptError:
		return 0x07
	default:
		return 0xFF // vendor-defined / not wire-emitted (security violation tears down instead)
	}
}

// Error is the error type every core package returns. It binds an ErrorKind
// to a human message and, for wire-emitted kinds, the SPDM error code that
// should be written to the ERROR response's Param1.
type Error struct {
	Kind    ErrorKind
	Code    RequestResponseCode // the request code the error pertains to, if any
	Message string
	Data    uint8 // ERROR's optional Param2 (e.g. ResponseNotReady token)
	cause   error
}

func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func WrapError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("spdm: %s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("spdm: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WireCode reports the SPDM ERROR Param1 this error should be encoded as.
func (e *Error) WireCode() uint8 { return e.Kind.wireCode() }

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == kind
}
