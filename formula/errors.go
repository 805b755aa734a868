package formula

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
)

// ErrorKind categorizes evaluation errors for programmatic handling
type ErrorKind string

const (
	ErrKindSyntax          ErrorKind = "syntax"           // Malformed expression
	ErrKindUnknownFunction ErrorKind = "unknown_function" // Function name not in the library
	ErrKindArity           ErrorKind = "arity"            // Wrong number of arguments
	ErrKindType            ErrorKind = "type"             // Operand/argument type mismatch
	ErrKindUnknownField    ErrorKind = "unknown_field"    // Field reference cannot be resolved
)

// ErrorContext indicates the environment where evaluation errors will be displayed
type ErrorContext string

const (
	// ErrorContextTerminal indicates errors will be displayed in terminal with ANSI colors
	ErrorContextTerminal ErrorContext = "terminal"
	// ErrorContextPlain indicates errors will be displayed without ANSI codes (logs, API payloads)
	ErrorContextPlain ErrorContext = "plain"
)

// EvalError is a structured evaluation error carrying the offending token.
// Evaluation is pure and side-effect free, so callers can always retry
// after fixing the expression.
type EvalError struct {
	Kind        ErrorKind // Error category
	Message     string    // Human-readable message
	Token       string    // Token that caused the error (may be empty)
	Pos         int       // Byte offset into the source expression
	Suggestions []string  // Possible fixes
}

// Error implements the error interface
func (e *EvalError) Error() string {
	return e.FormatError(ErrorContextPlain)
}

// FormatError generates a context-appropriate error message
func (e *EvalError) FormatError(ctx ErrorContext) string {
	if ctx == ErrorContextTerminal {
		return e.formatTerminalError()
	}
	return e.formatPlainError()
}

// formatPlainError creates a concise error for logs and API payloads
func (e *EvalError) formatPlainError() string {
	msg := e.Message
	if e.Token != "" {
		msg += fmt.Sprintf(" (token %q at offset %d)", e.Token, e.Pos)
	}
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(". Suggestions: %s", strings.Join(e.Suggestions, ", "))
	}
	return msg
}

// formatTerminalError creates a rich colored error for terminal display
func (e *EvalError) formatTerminalError() string {
	msg := pterm.Red(e.Message)

	if e.Token != "" {
		msg += fmt.Sprintf("\n  %s %q", pterm.Yellow("Token:"), e.Token)
		msg += fmt.Sprintf("\n  %s %d", pterm.Yellow("Offset:"), e.Pos)
	}

	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf("\n\n%s", pterm.Green("Suggestions:"))
		for _, s := range e.Suggestions {
			msg += fmt.Sprintf("\n  • %s", s)
		}
	}

	return msg
}

// AsEvalError extracts an *EvalError from err, or nil if err is not one.
func AsEvalError(err error) *EvalError {
	if ee, ok := err.(*EvalError); ok {
		return ee
	}
	return nil
}

func syntaxErrorf(tok string, pos int, format string, args ...interface{}) *EvalError {
	return &EvalError{Kind: ErrKindSyntax, Message: fmt.Sprintf(format, args...), Token: tok, Pos: pos}
}

func typeErrorf(tok string, pos int, format string, args ...interface{}) *EvalError {
	return &EvalError{Kind: ErrKindType, Message: fmt.Sprintf(format, args...), Token: tok, Pos: pos}
}

func arityErrorf(tok string, pos int, format string, args ...interface{}) *EvalError {
	return &EvalError{Kind: ErrKindArity, Message: fmt.Sprintf(format, args...), Token: tok, Pos: pos}
}
