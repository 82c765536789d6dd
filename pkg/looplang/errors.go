// Package looplang implements the LOOP language: a scanner, a parser that
// rejects calls to programs which are not completely defined yet, and a
// tree-walking interpreter over global and per-call contexts.
package looplang

import (
	"errors"
	"fmt"
	"strings"
)

// Scan errors.
var (
	ErrSourceRead          = errors.New("source read failed")
	ErrUnexpectedChar      = errors.New("unrecognized character")
	ErrBadAssignOperator   = errors.New("colon not followed by =")
	ErrStrayCarriageReturn = errors.New("standalone carriage return")
	ErrUnterminatedString  = errors.New("unterminated string literal")
	ErrBadEscape           = errors.New("invalid string escape")
	ErrNumberRange         = errors.New("number out of range")
	ErrRelocatedToken      = errors.New("token already located")
)

// Parse errors.
var (
	ErrUnexpectedToken   = errors.New("unexpected token")
	ErrProgramNotDefined = errors.New("program not fully defined before call")
	ErrBadLiteral        = errors.New("invalid number literal")
	ErrVariableMismatch  = errors.New("mismatched variable names")
)

// Runtime errors.
var (
	ErrUndefinedVariable = errors.New("variable not defined")
	ErrArity             = errors.New("wrong number of arguments")
	ErrProgramRedefined  = errors.New("program already defined")
	ErrNestedDefinition  = errors.New("nested program definition")
	ErrUnknownProgram    = errors.New("program not defined")
	ErrBadInput          = errors.New("invalid input")
	ErrInputClosed       = errors.New("no more input")
	ErrOverflow          = errors.New("value overflow")
	ErrOutput            = errors.New("output failed")
)

// Error categories
const (
	ErrCategoryScan    = "SCAN ERROR"
	ErrCategoryParse   = "PARSE ERROR"
	ErrCategoryRuntime = "RUNTIME ERROR"
)

// LoopError is the single error type returned by the scanner, parser and interpreter.
type LoopError struct {
	Category string   // one of the ErrCategory constants
	Err      error    // sentinel identifying the condition
	Message  string   // human readable detail
	Pos      Position // zero when unknown
	Cause    error    // underlying I/O error, if any

	// AtEOF is set on parse errors triggered by running out of input,
	// i.e. the source would be valid if more text followed.
	AtEOF bool
}

func (e *LoopError) Error() string {
	var sb strings.Builder
	if !e.Pos.IsZero() {
		sb.WriteString(e.Pos.String())
	}
	sb.WriteString(e.Category)
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *LoopError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func newScanError(sentinel error, pos Position, format string, args ...interface{}) *LoopError {
	return &LoopError{
		Category: ErrCategoryScan,
		Err:      sentinel,
		Message:  fmt.Sprintf(format, args...),
		Pos:      pos,
	}
}

func newParseError(sentinel error, at Token, format string, args ...interface{}) *LoopError {
	return &LoopError{
		Category: ErrCategoryParse,
		Err:      sentinel,
		Message:  fmt.Sprintf(format, args...),
		Pos:      at.Pos,
		AtEOF:    at.Kind == EOF,
	}
}

func newRuntimeError(sentinel error, format string, args ...interface{}) *LoopError {
	return &LoopError{
		Category: ErrCategoryRuntime,
		Err:      sentinel,
		Message:  fmt.Sprintf(format, args...),
	}
}

func categoryOf(err error) string {
	var le *LoopError
	if errors.As(err, &le) {
		return le.Category
	}
	return ""
}

// IsScanError reports whether err came from the scanner.
func IsScanError(err error) bool { return categoryOf(err) == ErrCategoryScan }

// IsParseError reports whether err came from the parser.
func IsParseError(err error) bool { return categoryOf(err) == ErrCategoryParse }

// IsRuntimeError reports whether err came from the interpreter.
func IsRuntimeError(err error) bool { return categoryOf(err) == ErrCategoryRuntime }

// IsIncomplete reports whether err is a parse error caused by the input ending
// inside a statement or block. Interactive front ends use it to ask for more lines.
func IsIncomplete(err error) bool {
	var le *LoopError
	return errors.As(err, &le) && le.Category == ErrCategoryParse && le.AtEOF
}
