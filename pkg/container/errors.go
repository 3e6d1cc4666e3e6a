package container

import "errors"

var (
	// ErrFormat reports a container that is truncated, inconsistent or
	// otherwise cannot be decoded.
	ErrFormat = errors.New("malformed container")

	ErrInvalidMagic     = errors.New("invalid container magic")
	ErrUnsupportedMajor = errors.New("unsupported container major version")
)
