package dexfmt

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a decoding failure.
type Kind string

const (
	KindFormat               Kind = "format"                 // bad magic, unparsable header
	KindTruncated            Kind = "truncated"              // read past end of buffer
	KindIndexOutOfRange      Kind = "index_out_of_range"     // pool index >= table size
	KindUnknownOpcode        Kind = "unknown_opcode"         // unassigned opcode value
	KindUnsupported          Kind = "unsupported"            // recognised but not handled
	KindMalformedControlFlow Kind = "malformed_control_flow" // branch/switch target off an instruction start
)

// Severity separates diagnostics that degrade a unit from those that only annotate it.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Severity reports how a diagnostic of this kind is treated by the session policy.
// Only malformed control flow is a warning.
func (k Kind) Severity() Severity {
	if k == KindMalformedControlFlow {
		return SeverityWarning
	}
	return SeverityError
}

// Error is the structured error type returned by every decoding layer.
type Error struct {
	Kind   Kind
	Offset int64 // file offset or code-unit address; -1 if unknown
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Offset >= 0 {
		fmt.Fprintf(&b, " at 0x%x", e.Offset)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is. They carry no offset or detail.
var (
	ErrFormat               = &Error{Kind: KindFormat, Offset: -1}
	ErrTruncated            = &Error{Kind: KindTruncated, Offset: -1}
	ErrIndexOutOfRange      = &Error{Kind: KindIndexOutOfRange, Offset: -1}
	ErrUnknownOpcode        = &Error{Kind: KindUnknownOpcode, Offset: -1}
	ErrUnsupported          = &Error{Kind: KindUnsupported, Offset: -1}
	ErrMalformedControlFlow = &Error{Kind: KindMalformedControlFlow, Offset: -1}
)

// Errorf builds an *Error of the given kind at offset.
func Errorf(kind Kind, offset int64, format string, args ...any) *Error {
	return &Error{Kind: kind, Offset: offset, Detail: fmt.Sprintf(format, args...)}
}

// Truncated reports a read of width bytes at pos over a buffer of length n.
func Truncated(pos, width, n int) *Error {
	return &Error{
		Kind:   KindTruncated,
		Offset: int64(pos),
		Detail: fmt.Sprintf("need %d bytes, %d available", width, max(n-pos, 0)),
	}
}

// OutOfRange reports a table index that is not below the table's count.
func OutOfRange(table string, index, count uint32) *Error {
	return &Error{
		Kind:   KindIndexOutOfRange,
		Offset: -1,
		Detail: fmt.Sprintf("%s index %d out of range (count %d)", table, index, count),
	}
}

// KindOf extracts the Kind of err. Errors that did not originate here are
// classified as format errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFormat
}

// Wrap attaches context to err while keeping its Kind.
func Wrap(err error, offset int64, format string, args ...any) *Error {
	return &Error{
		Kind:   KindOf(err),
		Offset: offset,
		Detail: fmt.Sprintf(format, args...),
		Cause:  err,
	}
}
