// internal/errors/errors.go
package errors

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a compilation error
type ErrorKind string

const (
	LexicalError     ErrorKind = "LexicalError"
	SyntaxError      ErrorKind = "SyntaxError"
	NameError        ErrorKind = "NameError"
	TypeError        ErrorKind = "TypeError"
	ControlFlowError ErrorKind = "ControlFlowError"
	ClassError       ErrorKind = "ClassError"
	ResourceError    ErrorKind = "ResourceError"
	IOError          ErrorKind = "IOError"
)

// SourceLocation represents a location in source code
type SourceLocation struct {
	File   string
	Line   int
	Column int
}

// CompileError is an error with source location information
type CompileError struct {
	Kind     ErrorKind
	Message  string
	Location SourceLocation
	Source   string // The source line where the error occurred
}

// Error implements the error interface
func (e *CompileError) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s: %s\n", e.Kind, e.Message))

	if e.Location.Line > 0 {
		if e.Location.File != "" {
			sb.WriteString(fmt.Sprintf("  at %s:%d:%d\n",
				e.Location.File, e.Location.Line, e.Location.Column))
		} else {
			sb.WriteString(fmt.Sprintf("  at line %d:%d\n",
				e.Location.Line, e.Location.Column))
		}

		// Show source line with a caret under the offending column
		if e.Source != "" {
			gutter := fmt.Sprintf("%d | ", e.Location.Line)
			sb.WriteString(fmt.Sprintf("\n  %s%s\n", gutter, e.Source))
			sb.WriteString("  " + strings.Repeat(" ", len(gutter)))
			if e.Location.Column > 0 {
				sb.WriteString(strings.Repeat(" ", e.Location.Column-1))
			}
			sb.WriteString("^\n")
		}
	}

	return sb.String()
}

// New creates a compile error of the given kind
func New(kind ErrorKind, message string, line, column int) *CompileError {
	return &CompileError{
		Kind:    kind,
		Message: message,
		Location: SourceLocation{
			Line:   line,
			Column: column,
		},
	}
}

// Newf creates a compile error with a formatted message
func Newf(kind ErrorKind, line, column int, format string, args ...interface{}) *CompileError {
	return New(kind, fmt.Sprintf(format, args...), line, column)
}

// WithSource adds source code context to the error
func (e *CompileError) WithSource(source string) *CompileError {
	e.Source = source
	return e
}

// WithFile records the file the error was found in
func (e *CompileError) WithFile(file string) *CompileError {
	e.Location.File = file
	return e
}

// Bag accumulates compile errors so a whole phase can be reported at once.
// The semantic analyzer keeps walking past the first error; the bag holds
// everything it found in source order.
type Bag struct {
	errs []*CompileError
}

func NewBag() *Bag {
	return &Bag{}
}

func (b *Bag) Add(err *CompileError) {
	b.errs = append(b.errs, err)
}

func (b *Bag) Addf(kind ErrorKind, line, column int, format string, args ...interface{}) {
	b.Add(Newf(kind, line, column, format, args...))
}

func (b *Bag) HasErrors() bool {
	return len(b.errs) > 0
}

func (b *Bag) Len() int {
	return len(b.errs)
}

func (b *Bag) Errors() []*CompileError {
	return b.errs
}

// Error renders every collected error in order
func (b *Bag) Error() string {
	var sb strings.Builder
	for _, e := range b.errs {
		sb.WriteString(e.Error())
	}
	return sb.String()
}
