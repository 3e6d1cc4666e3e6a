package container

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/samcharles93/llmc/internal/entropy"
)

// Header is the fixed tagged header. Legacy layouts are decoded into the same
// structure with Magic left empty.
type Header struct {
	Magic        [4]byte
	Major        uint16
	Minor        uint16
	HeaderSize   uint32
	Pipeline     Pipeline
	Method       Method
	Backend      entropy.Tag
	OriginalSize uint64
	// MetadataSize includes the 8-byte length prefix.
	MetadataSize uint64
	NumValues    uint64
	NumBlocks    uint32
	Min          float32
	Max          float32
	Flags        uint32
	PayloadSize  uint64
}

// Valid reports whether h carries the tagged magic and a usable header size.
func (h *Header) Valid() bool {
	if string(h.Magic[:]) != Magic {
		return false
	}
	return h.HeaderSize >= HeaderSize
}

// Compatible reports whether this package can decode h.
func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

// Check verifies that the pipeline, method and backend fields describe a
// combination the codec can decode.
func (h *Header) Check() error {
	switch h.Pipeline {
	case PipelineLossy:
		if h.Method != MethodFloat16 && h.Method != MethodQuantized {
			return fmt.Errorf("%w: lossy container with method %s", ErrFormat, h.Method)
		}
		if h.Backend != entropy.TagNone {
			return fmt.Errorf("%w: lossy container with backend %s", ErrFormat, h.Backend)
		}
		if h.NumBlocks != 1 {
			return fmt.Errorf("%w: lossy container with %d blocks", ErrFormat, h.NumBlocks)
		}
	case PipelineLossless:
		if h.Method != MethodXORDelta {
			return fmt.Errorf("%w: lossless container with method %s", ErrFormat, h.Method)
		}
		if _, err := entropy.ForTag(h.Backend); err != nil {
			return fmt.Errorf("%w: %v", ErrFormat, err)
		}
	default:
		return fmt.Errorf("%w: unknown %s", ErrFormat, h.Pipeline)
	}
	if math.IsNaN(float64(h.Min)) || math.IsNaN(float64(h.Max)) || h.Max < h.Min {
		return fmt.Errorf("%w: invalid value range [%g, %g]", ErrFormat, h.Min, h.Max)
	}
	return nil
}

func encodeHeader(dst []byte, h Header) bool {
	if len(dst) < HeaderSize {
		return false
	}
	le := binary.LittleEndian
	copy(dst[0:4], h.Magic[:])
	le.PutUint16(dst[4:], h.Major)
	le.PutUint16(dst[6:], h.Minor)
	le.PutUint32(dst[8:], h.HeaderSize)
	dst[12] = byte(h.Pipeline)
	dst[13] = byte(h.Method)
	dst[14] = byte(h.Backend)
	dst[15] = 0
	le.PutUint64(dst[16:], h.OriginalSize)
	le.PutUint64(dst[24:], h.MetadataSize)
	le.PutUint64(dst[32:], h.NumValues)
	le.PutUint32(dst[40:], h.NumBlocks)
	le.PutUint32(dst[44:], math.Float32bits(h.Min))
	le.PutUint32(dst[48:], math.Float32bits(h.Max))
	le.PutUint32(dst[52:], h.Flags)
	le.PutUint64(dst[56:], h.PayloadSize)
	return true
}

func decodeHeader(src []byte) (Header, bool) {
	var h Header
	if len(src) < HeaderSize {
		return h, false
	}
	le := binary.LittleEndian
	copy(h.Magic[:], src[0:4])
	h.Major = le.Uint16(src[4:])
	h.Minor = le.Uint16(src[6:])
	h.HeaderSize = le.Uint32(src[8:])
	h.Pipeline = Pipeline(src[12])
	h.Method = Method(src[13])
	h.Backend = entropy.Tag(src[14])
	h.OriginalSize = le.Uint64(src[16:])
	h.MetadataSize = le.Uint64(src[24:])
	h.NumValues = le.Uint64(src[32:])
	h.NumBlocks = le.Uint32(src[40:])
	h.Min = math.Float32frombits(le.Uint32(src[44:]))
	h.Max = math.Float32frombits(le.Uint32(src[48:]))
	h.Flags = le.Uint32(src[52:])
	h.PayloadSize = le.Uint64(src[56:])
	return h, true
}

// legacyLossyHeader is the 32-byte header of the legacy lossy layout.
type legacyLossyHeader struct {
	OriginalSize   uint64
	JSONHeaderSize uint64
	NumValues      uint32
	Method         uint32
	Min            float32
	Max            float32
}

func (h legacyLossyHeader) encode(dst []byte) {
	le := binary.LittleEndian
	le.PutUint64(dst[0:], h.OriginalSize)
	le.PutUint64(dst[8:], h.JSONHeaderSize)
	le.PutUint32(dst[16:], h.NumValues)
	le.PutUint32(dst[20:], h.Method)
	le.PutUint32(dst[24:], math.Float32bits(h.Min))
	le.PutUint32(dst[28:], math.Float32bits(h.Max))
}

func decodeLegacyLossy(src []byte) legacyLossyHeader {
	le := binary.LittleEndian
	return legacyLossyHeader{
		OriginalSize:   le.Uint64(src[0:]),
		JSONHeaderSize: le.Uint64(src[8:]),
		NumValues:      le.Uint32(src[16:]),
		Method:         le.Uint32(src[20:]),
		Min:            math.Float32frombits(le.Uint32(src[24:])),
		Max:            math.Float32frombits(le.Uint32(src[28:])),
	}
}

// legacyLosslessHeader is the 32-byte header of the legacy lossless layout.
// MetadataSize is the full metadata block length, prefix included.
type legacyLosslessHeader struct {
	OriginalSize   uint64
	MetadataSize   uint64
	NumValues      uint32
	NumBlocks      uint32
	CompressedSize uint64
}

func (h legacyLosslessHeader) encode(dst []byte) {
	le := binary.LittleEndian
	le.PutUint64(dst[0:], h.OriginalSize)
	le.PutUint64(dst[8:], h.MetadataSize)
	le.PutUint32(dst[16:], h.NumValues)
	le.PutUint32(dst[20:], h.NumBlocks)
	le.PutUint64(dst[24:], h.CompressedSize)
}

func decodeLegacyLossless(src []byte) legacyLosslessHeader {
	le := binary.LittleEndian
	return legacyLosslessHeader{
		OriginalSize:   le.Uint64(src[0:]),
		MetadataSize:   le.Uint64(src[8:]),
		NumValues:      le.Uint32(src[16:]),
		NumBlocks:      le.Uint32(src[20:]),
		CompressedSize: le.Uint64(src[24:]),
	}
}
