package container

import (
	"fmt"
	"math"

	"github.com/samcharles93/llmc/internal/entropy"
	"github.com/samcharles93/llmc/internal/safetensors"
)

// Detect returns LayoutTagged when data starts with the container magic and
// LayoutAuto otherwise. Legacy layouts carry no magic and cannot be told
// apart from each other by content.
func Detect(data []byte) Layout {
	if len(data) >= len(Magic) && string(data[:len(Magic)]) == Magic {
		return LayoutTagged
	}
	return LayoutAuto
}

// Decode parses data as a container in the given layout. Every size declared
// by the input is checked against the bytes actually present; nothing is
// read past the end of data. Metadata and block data alias data.
func Decode(data []byte, layout Layout) (*Container, error) {
	if layout == LayoutAuto {
		layout = Detect(data)
		if layout == LayoutAuto {
			return nil, fmt.Errorf("%w: %w", ErrFormat, ErrInvalidMagic)
		}
	}
	switch layout {
	case LayoutTagged:
		return decodeTagged(data)
	case LayoutLegacyLossy:
		return decodeLegacyLossyFile(data)
	case LayoutLegacyLossless:
		return decodeLegacyLosslessFile(data)
	default:
		return nil, fmt.Errorf("%w: unknown %s", ErrFormat, layout)
	}
}

func decodeTagged(data []byte) (*Container, error) {
	h, ok := decodeHeader(data)
	if !ok {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the %d-byte header", ErrFormat, len(data), HeaderSize)
	}
	if string(h.Magic[:]) != Magic {
		return nil, fmt.Errorf("%w: %w", ErrFormat, ErrInvalidMagic)
	}
	if !h.Compatible() {
		return nil, fmt.Errorf("%w: %w %d", ErrFormat, ErrUnsupportedMajor, h.Major)
	}
	if !h.Valid() || uint64(h.HeaderSize) > uint64(len(data)) {
		return nil, fmt.Errorf("%w: header size %d", ErrFormat, h.HeaderSize)
	}
	if err := h.Check(); err != nil {
		return nil, err
	}

	cur := &cursor{data: data, off: int(h.HeaderSize)}
	meta, err := readMetadata(cur, h.MetadataSize)
	if err != nil {
		return nil, err
	}
	if h.PayloadSize != cur.remaining() {
		return nil, fmt.Errorf("%w: header declares %d payload bytes, %d present", ErrFormat, h.PayloadSize, cur.remaining())
	}
	blocks, err := readBlocks(cur, uint64(h.NumBlocks))
	if err != nil {
		return nil, err
	}
	if err := cur.done(); err != nil {
		return nil, err
	}
	return &Container{Header: h, Metadata: meta, Blocks: blocks}, nil
}

func decodeLegacyLossyFile(data []byte) (*Container, error) {
	if len(data) < LegacyHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the %d-byte legacy header", ErrFormat, len(data), LegacyHeaderSize)
	}
	lh := decodeLegacyLossy(data)
	if lh.Method > uint32(MethodQuantized) {
		return nil, fmt.Errorf("%w: legacy lossy method %d", ErrFormat, lh.Method)
	}
	metaSize, ok := addUint64(lh.JSONHeaderSize, safetensors.PrefixSize)
	if !ok {
		return nil, fmt.Errorf("%w: metadata size overflows", ErrFormat)
	}

	cur := &cursor{data: data, off: LegacyHeaderSize}
	meta, err := readMetadata(cur, metaSize)
	if err != nil {
		return nil, err
	}
	n, err := cur.uint64("compressed size")
	if err != nil {
		return nil, err
	}
	body, err := cur.take(n, "compressed payload")
	if err != nil {
		return nil, err
	}
	if err := cur.done(); err != nil {
		return nil, err
	}

	method := Method(lh.Method)
	original := uint64(lh.NumValues)
	if method == MethodFloat16 {
		original *= 2
	}
	h := Header{
		Pipeline:     PipelineLossy,
		Method:       method,
		Backend:      entropy.TagNone,
		OriginalSize: lh.OriginalSize,
		MetadataSize: metaSize,
		NumValues:    uint64(lh.NumValues),
		NumBlocks:    1,
		Min:          lh.Min,
		Max:          lh.Max,
		PayloadSize:  BlockRecordSize + n,
	}
	if err := h.Check(); err != nil {
		return nil, err
	}
	return &Container{
		Header:   h,
		Metadata: meta,
		Blocks:   []Block{{CompressedSize: n, OriginalSize: original, Data: body}},
	}, nil
}

func decodeLegacyLosslessFile(data []byte) (*Container, error) {
	if len(data) < LegacyHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the %d-byte legacy header", ErrFormat, len(data), LegacyHeaderSize)
	}
	lh := decodeLegacyLossless(data)

	cur := &cursor{data: data, off: LegacyHeaderSize}
	meta, err := readMetadata(cur, lh.MetadataSize)
	if err != nil {
		return nil, err
	}
	if lh.CompressedSize != cur.remaining() {
		return nil, fmt.Errorf("%w: header declares %d block bytes, %d present", ErrFormat, lh.CompressedSize, cur.remaining())
	}
	blocks, err := readBlocks(cur, uint64(lh.NumBlocks))
	if err != nil {
		return nil, err
	}
	if err := cur.done(); err != nil {
		return nil, err
	}

	h := Header{
		Pipeline:     PipelineLossless,
		Method:       MethodXORDelta,
		Backend:      entropy.TagZstd,
		OriginalSize: lh.OriginalSize,
		MetadataSize: lh.MetadataSize,
		NumValues:    uint64(lh.NumValues),
		NumBlocks:    lh.NumBlocks,
		PayloadSize:  lh.CompressedSize,
	}
	return &Container{Header: h, Metadata: meta, Blocks: blocks}, nil
}

func readMetadata(cur *cursor, size uint64) ([]byte, error) {
	meta, err := cur.take(size, "metadata block")
	if err != nil {
		return nil, err
	}
	if err := safetensors.ValidateMetadata(meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return meta, nil
}

func readBlocks(cur *cursor, count uint64) ([]Block, error) {
	minBytes, ok := mulUint64(count, BlockRecordSize)
	if !ok || minBytes > cur.remaining() {
		return nil, fmt.Errorf("%w: %d blocks cannot fit in %d bytes", ErrFormat, count, cur.remaining())
	}
	blocks := make([]Block, count)
	for i := range blocks {
		compressed, err := cur.uint64("block record")
		if err != nil {
			return nil, err
		}
		original, err := cur.uint64("block record")
		if err != nil {
			return nil, err
		}
		if original > math.MaxInt {
			return nil, fmt.Errorf("%w: block %d original size %d", ErrFormat, i, original)
		}
		body, err := cur.take(compressed, fmt.Sprintf("block %d", i))
		if err != nil {
			return nil, err
		}
		blocks[i] = Block{CompressedSize: compressed, OriginalSize: original, Data: body}
	}
	return blocks, nil
}
