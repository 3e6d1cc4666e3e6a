package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/samcharles93/llmc/internal/entropy"
	"github.com/samcharles93/llmc/internal/safetensors"
)

// Encoder writes a container in one of the supported layouts. The derived
// header fields (magic, version, sizes, block count) are computed from the
// container contents; callers only set the descriptive fields.
type Encoder struct {
	c      *Container
	layout Layout
	header Header
	size   uint64
}

// NewEncoder validates c against layout and prepares the header to write.
// LayoutAuto writes the tagged layout.
func NewEncoder(c *Container, layout Layout) (*Encoder, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil container", ErrFormat)
	}
	if err := safetensors.ValidateMetadata(c.Metadata); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	h := c.Header
	h.MetadataSize = uint64(len(c.Metadata))
	h.PayloadSize = c.PayloadSize()
	if uint64(len(c.Blocks)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d blocks", ErrFormat, len(c.Blocks))
	}
	h.NumBlocks = uint32(len(c.Blocks))

	e := &Encoder{c: c, layout: layout}
	switch layout {
	case LayoutAuto, LayoutTagged:
		e.layout = LayoutTagged
		copy(h.Magic[:], Magic)
		h.Major = CurrentMajor
		h.Minor = CurrentMinor
		h.HeaderSize = HeaderSize
		h.Flags = 0
		if err := h.Check(); err != nil {
			return nil, err
		}
		e.size = HeaderSize + h.MetadataSize + h.PayloadSize

	case LayoutLegacyLossy:
		if h.Pipeline != PipelineLossy || h.Backend != entropy.TagNone {
			return nil, fmt.Errorf("%w: legacy lossy layout cannot hold a %s/%s container", ErrFormat, h.Pipeline, h.Backend)
		}
		if err := h.Check(); err != nil {
			return nil, err
		}
		if h.NumValues > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %d values do not fit the legacy header", ErrFormat, h.NumValues)
		}
		h.Magic = [4]byte{}
		e.size = LegacyHeaderSize + h.MetadataSize + 8 + c.CompressedSize()

	case LayoutLegacyLossless:
		if h.Pipeline != PipelineLossless || h.Backend != entropy.TagZstd {
			return nil, fmt.Errorf("%w: legacy lossless layout cannot hold a %s/%s container", ErrFormat, h.Pipeline, h.Backend)
		}
		if err := h.Check(); err != nil {
			return nil, err
		}
		if h.NumValues > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %d values do not fit the legacy header", ErrFormat, h.NumValues)
		}
		h.Magic = [4]byte{}
		e.size = LegacyHeaderSize + h.MetadataSize + h.PayloadSize

	default:
		return nil, fmt.Errorf("%w: unknown %s", ErrFormat, layout)
	}
	e.header = h
	return e, nil
}

// Header returns the header as it will be written.
func (e *Encoder) Header() Header { return e.header }

// Layout returns the layout the encoder writes.
func (e *Encoder) Layout() Layout { return e.layout }

// Size returns the exact number of bytes WriteTo produces.
func (e *Encoder) Size() int64 { return int64(e.size) }

// WriteTo writes the container to w.
func (e *Encoder) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	h := e.header

	switch e.layout {
	case LayoutTagged:
		var hdr [HeaderSize]byte
		encodeHeader(hdr[:], h)
		cw.write(hdr[:])
		cw.write(e.c.Metadata)
		for _, b := range e.c.Blocks {
			cw.writeBlock(b)
		}

	case LayoutLegacyLossy:
		var hdr [LegacyHeaderSize]byte
		legacyLossyHeader{
			OriginalSize:   h.OriginalSize,
			JSONHeaderSize: h.MetadataSize - safetensors.PrefixSize,
			NumValues:      uint32(h.NumValues),
			Method:         uint32(h.Method),
			Min:            h.Min,
			Max:            h.Max,
		}.encode(hdr[:])
		cw.write(hdr[:])
		cw.write(e.c.Metadata)
		data := e.c.Blocks[0].Data
		cw.write(binary.LittleEndian.AppendUint64(nil, uint64(len(data))))
		cw.write(data)

	case LayoutLegacyLossless:
		var hdr [LegacyHeaderSize]byte
		legacyLosslessHeader{
			OriginalSize:   h.OriginalSize,
			MetadataSize:   h.MetadataSize,
			NumValues:      uint32(h.NumValues),
			NumBlocks:      h.NumBlocks,
			CompressedSize: h.PayloadSize,
		}.encode(hdr[:])
		cw.write(hdr[:])
		cw.write(e.c.Metadata)
		for _, b := range e.c.Blocks {
			cw.writeBlock(b)
		}
	}
	return cw.n, cw.err
}

// Encode returns the container serialized in layout.
func Encode(c *Container, layout Layout) ([]byte, error) {
	e, err := NewEncoder(c, layout)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(int(e.Size()))
	if _, err := e.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (cw *countingWriter) write(p []byte) {
	if cw.err != nil || len(p) == 0 {
		return
	}
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	cw.err = err
}

func (cw *countingWriter) writeBlock(b Block) {
	var rec [BlockRecordSize]byte
	binary.LittleEndian.PutUint64(rec[0:], uint64(len(b.Data)))
	binary.LittleEndian.PutUint64(rec[8:], b.OriginalSize)
	cw.write(rec[:])
	cw.write(b.Data)
}
