package adapter

import (
	"context"
	"fmt"
)

// Plugin is one loaded unit of DNS-processing logic. The host never
// inspects packet bytes: a plugin receives the raw packet, may call back
// into the Helper it is given, and returns a (possibly transformed) packet
// or an *Error.
type Plugin interface {
	Tag() string
	Type() string
	ValidConfig() error
	Run(ctx context.Context, helper Helper, packet []byte) ([]byte, error)
}

// CodeInternal is reserved for faults raised by the host itself (plugin
// panic, instance unavailable). Plugins pick their own codes below it.
const CodeInternal uint32 = 0xffffffff

// Error is the error record crossing the plugin boundary: a coarse
// machine-checkable code plus a human-readable diagnostic. The host never
// interprets Msg.
type Error struct {
	Code uint32
	Msg  string
}

func NewError(code uint32, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func NewInternalError(msg string) *Error {
	return &Error{Code: CodeInternal, Msg: msg}
}

func (e *Error) Error() string {
	return fmt.Sprintf("code: %d, msg: %s", e.Code, e.Msg)
}
