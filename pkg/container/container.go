// Package container implements the on-disk layout of compressed tensor files.
//
// The current layout is a tagged, versioned header followed by the verbatim
// metadata block and one or more compressed blocks. The two untagged legacy
// layouts written by earlier tools are read and written for compatibility.
package container

import (
	"fmt"
)

// Container format constants must never change.
const (
	// Magic starts every tagged container.
	Magic = "LLMC"

	// CurrentMajor changes only on breaking layout changes.
	CurrentMajor uint16 = 1

	// CurrentMinor may add optional header fields.
	CurrentMinor uint16 = 0

	// HeaderSize is the size of the fixed tagged header.
	HeaderSize = 64

	// LegacyHeaderSize is the size of both legacy headers.
	LegacyHeaderSize = 32

	// BlockRecordSize is the size of the {compressed, original} record that
	// precedes each block's data.
	BlockRecordSize = 16
)

// Pipeline identifies the transform family that produced a container.
type Pipeline uint8

const (
	PipelineLossy    Pipeline = 0
	PipelineLossless Pipeline = 1
)

func (p Pipeline) String() string {
	switch p {
	case PipelineLossy:
		return "lossy"
	case PipelineLossless:
		return "lossless"
	default:
		return fmt.Sprintf("pipeline(%d)", uint8(p))
	}
}

// Method identifies the payload transform within a pipeline.
type Method uint8

const (
	MethodFloat16   Method = 0
	MethodQuantized Method = 1
	MethodXORDelta  Method = 2
)

func (m Method) String() string {
	switch m {
	case MethodFloat16:
		return "float16"
	case MethodQuantized:
		return "quantized"
	case MethodXORDelta:
		return "xor-delta"
	default:
		return fmt.Sprintf("method(%d)", uint8(m))
	}
}

// Layout selects how a container is laid out on disk.
type Layout int

const (
	// LayoutAuto reads a tagged container when the magic is present. It
	// writes the tagged layout.
	LayoutAuto Layout = iota
	LayoutTagged
	LayoutLegacyLossy
	LayoutLegacyLossless
)

func (l Layout) String() string {
	switch l {
	case LayoutAuto:
		return "auto"
	case LayoutTagged:
		return "tagged"
	case LayoutLegacyLossy:
		return "legacy-lossy"
	case LayoutLegacyLossless:
		return "legacy-lossless"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// LegacyFor returns the legacy layout written by the tool of pipeline p.
func LegacyFor(p Pipeline) Layout {
	if p == PipelineLossless {
		return LayoutLegacyLossless
	}
	return LayoutLegacyLossy
}

// Block is one independently compressed chunk of the transformed payload.
type Block struct {
	CompressedSize uint64
	OriginalSize   uint64
	Data           []byte
}

// Container is a decoded compressed file. Metadata and block data alias the
// decoded input.
type Container struct {
	Header   Header
	Metadata []byte
	Blocks   []Block
}

// PayloadSize returns the bytes occupied by block records and block data.
func (c *Container) PayloadSize() uint64 {
	var n uint64
	for _, b := range c.Blocks {
		n += BlockRecordSize + uint64(len(b.Data))
	}
	return n
}

// CompressedSize returns the total size of block data.
func (c *Container) CompressedSize() uint64 {
	var n uint64
	for _, b := range c.Blocks {
		n += uint64(len(b.Data))
	}
	return n
}
