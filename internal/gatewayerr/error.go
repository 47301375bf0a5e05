// Package gatewayerr expresses the gateway's error-kind taxonomy so HTTP
// handlers can map an error to a status code without matching error text.
package gatewayerr

import "fmt"

// Kind classifies an error by how it should propagate.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuth
	KindNotFound
	KindConfigInvalid
	KindBadRequest
	KindContextMissing
	KindUpstreamIO
	KindDownstreamIO
	KindAgentHandshake
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not-found"
	case KindConfigInvalid:
		return "config-invalid"
	case KindBadRequest:
		return "bad-request"
	case KindContextMissing:
		return "context-missing"
	case KindUpstreamIO:
		return "upstream-io"
	case KindDownstreamIO:
		return "downstream-io"
	case KindAgentHandshake:
		return "agent-handshake"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error pairs a Kind with an underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with the given kind and message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error with the given kind, message, and underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, else
// KindUnknown.
func KindOf(err error) Kind {
	var ge *Error
	if asError(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

func asError(err error, target **Error) bool {
	for err != nil {
		if ge, ok := err.(*Error); ok {
			*target = ge
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
