package template

import "fmt"

// RenderErrorKind classifies template failures.
type RenderErrorKind int

const (
	// UndefinedName means an expression referenced an unbound name.
	UndefinedName RenderErrorKind = iota
	// UnterminatedBlock means block tags are unmatched or input ended
	// inside an open block.
	UnterminatedBlock
	// TypeMismatch means an operation was applied to values of the wrong
	// kind (bad operand, non-iterable for target, bad index).
	TypeMismatch
	// BadSyntax means an expression or block tag could not be parsed.
	BadSyntax
	// CallFailed means a callable raised a fault during evaluation.
	CallFailed
)

func (k RenderErrorKind) String() string {
	switch k {
	case UndefinedName:
		return "undefined name"
	case UnterminatedBlock:
		return "unterminated block"
	case TypeMismatch:
		return "type mismatch"
	case BadSyntax:
		return "bad syntax"
	case CallFailed:
		return "call failed"
	default:
		return "render error"
	}
}

// RenderError is a template compile or render failure. A render-time
// RenderError is fatal to that single render call only.
type RenderError struct {
	Kind      RenderErrorKind
	Component string
	Expr      string // Source text of the offending expression or tag
	Detail    string
}

func (e *RenderError) Error() string {
	msg := fmt.Sprintf("render %s: %s", e.Component, e.Kind)
	if e.Expr != "" {
		msg += fmt.Sprintf(" in %q", e.Expr)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}
