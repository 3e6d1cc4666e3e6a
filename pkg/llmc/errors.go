package llmc

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package matches exactly one of
// them with errors.Is, and also matches the sentinel of the stage that failed
// (for example container.ErrFormat or entropy.ErrBackend).
var (
	ErrIO      = errors.New("i/o error")
	ErrFormat  = errors.New("format error")
	ErrBackend = errors.New("backend error")
)

type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.err.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.err}
}

func ioErr(err error) error      { return &kindError{kind: ErrIO, err: err} }
func formatErr(err error) error  { return &kindError{kind: ErrFormat, err: err} }
func backendErr(err error) error { return &kindError{kind: ErrBackend, err: err} }

func formatf(format string, args ...any) error {
	return formatErr(fmt.Errorf(format, args...))
}
