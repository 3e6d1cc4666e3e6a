// Package entropy wraps the general-purpose byte compressors used as the
// final stage of the lossless pipeline.
//
// Each call builds its own encoder or decoder; nothing is pooled across calls.
package entropy

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrBackend wraps every failure reported by a compression engine.
var ErrBackend = errors.New("entropy backend failure")

// Tag identifies a backend inside a container header. Values are part of the
// container format and must never change.
type Tag uint8

const (
	TagNone Tag = 0
	TagZstd Tag = 1
	TagLZ4  Tag = 2
)

// String returns the human-readable name of the tag.
func (t Tag) String() string {
	switch t {
	case TagNone:
		return "none"
	case TagZstd:
		return "zstd"
	case TagLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseTag parses a backend name.
func ParseTag(name string) (Tag, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "raw":
		return TagNone, nil
	case "zstd", "zstandard":
		return TagZstd, nil
	case "lz4":
		return TagLZ4, nil
	default:
		return 0, fmt.Errorf("unknown entropy backend %q", name)
	}
}

// Options tune a single compression call. Backends ignore fields they have
// no use for.
type Options struct {
	// Level is the backend-specific compression level.
	Level int

	// Workers is the number of encoder goroutines. Zero picks DefaultWorkers.
	Workers int

	// LongDistance trades memory for ratio by widening the match window to
	// 1<<WindowLog bytes.
	LongDistance bool

	// WindowLog is the log2 of the match window used when LongDistance is set.
	WindowLog int
}

const (
	DefaultLevel     = 10
	DefaultWindowLog = 27
	minWorkers       = 4
)

// DefaultWorkers returns the detected hardware concurrency, at least 4.
func DefaultWorkers() int {
	return max(runtime.NumCPU(), minWorkers)
}

// DefaultOptions returns the settings the lossless pipeline uses unless told
// otherwise.
func DefaultOptions() Options {
	return Options{
		Level:        DefaultLevel,
		Workers:      DefaultWorkers(),
		LongDistance: true,
		WindowLog:    DefaultWindowLog,
	}
}

// Backend compresses whole buffers. Decompress must be given the exact
// original length recorded at compression time.
type Backend interface {
	Tag() Tag
	Compress(src []byte, opts Options) ([]byte, error)
	Decompress(src []byte, originalLen int) ([]byte, error)
}

// ForTag returns the backend registered for t.
func ForTag(t Tag) (Backend, error) {
	switch t {
	case TagNone:
		return None{}, nil
	case TagZstd:
		return Zstd{}, nil
	case TagLZ4:
		return LZ4{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported backend tag %d", ErrBackend, uint8(t))
	}
}

// None stores data unchanged.
type None struct{}

func (None) Tag() Tag { return TagNone }

func (None) Compress(src []byte, _ Options) ([]byte, error) {
	return append([]byte(nil), src...), nil
}

func (None) Decompress(src []byte, originalLen int) ([]byte, error) {
	if len(src) != originalLen {
		return nil, fmt.Errorf("%w: raw block is %d bytes, expected %d", ErrBackend, len(src), originalLen)
	}
	return append([]byte(nil), src...), nil
}

func backendErr(name, op string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrBackend, name, op, err)
}
