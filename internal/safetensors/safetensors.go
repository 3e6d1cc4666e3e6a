// Package safetensors splits a tensor-weight file into its length-prefixed
// metadata block and its raw payload, and optionally decodes the metadata
// JSON for diagnostics.
//
// The codec never interprets the metadata to transform the payload: the
// metadata block is carried through every pipeline byte for byte.
package safetensors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	json "github.com/goccy/go-json"
)

// PrefixSize is the size of the little-endian metadata length prefix.
const PrefixSize = 8

// ErrFormat reports input that is shorter than its own declared sizes or
// whose payload is not a whole number of float32 values.
var ErrFormat = errors.New("malformed tensor file")

// Parts is a split view over a raw file. Both slices alias the input.
type Parts struct {
	// Metadata is the full metadata block including the 8-byte prefix.
	Metadata []byte
	// Payload is everything after the metadata block.
	Payload []byte
}

// NumValues returns the number of float32 values in the payload.
func (p Parts) NumValues() (int, error) {
	if len(p.Payload)%4 != 0 {
		return 0, fmt.Errorf("%w: payload of %d bytes is not a multiple of 4", ErrFormat, len(p.Payload))
	}
	return len(p.Payload) / 4, nil
}

// Split reads the 8-byte length L from the start of raw and returns the
// first 8+L bytes as metadata and the remainder as payload.
func Split(raw []byte) (Parts, error) {
	if len(raw) < PrefixSize {
		return Parts{}, fmt.Errorf("%w: %d bytes is shorter than the %d-byte length prefix", ErrFormat, len(raw), PrefixSize)
	}
	headerLen := binary.LittleEndian.Uint64(raw[:PrefixSize])
	if headerLen > uint64(len(raw)-PrefixSize) {
		return Parts{}, fmt.Errorf("%w: metadata length %d exceeds the %d bytes available", ErrFormat, headerLen, len(raw)-PrefixSize)
	}
	end := PrefixSize + int(headerLen)
	return Parts{
		Metadata: raw[:end:end],
		Payload:  raw[end:],
	}, nil
}

// ValidateMetadata checks that meta is a complete metadata block: a prefix
// whose declared length matches the bytes that follow it.
func ValidateMetadata(meta []byte) error {
	if len(meta) < PrefixSize {
		return fmt.Errorf("%w: metadata block of %d bytes has no length prefix", ErrFormat, len(meta))
	}
	declared := binary.LittleEndian.Uint64(meta[:PrefixSize])
	if declared != uint64(len(meta)-PrefixSize) {
		return fmt.Errorf("%w: metadata prefix declares %d bytes, block holds %d", ErrFormat, declared, len(meta)-PrefixSize)
	}
	return nil
}

// Floats reinterprets payload as little-endian float32 values.
func Floats(payload []byte) ([]float32, error) {
	if len(payload)%4 != 0 {
		return nil, fmt.Errorf("%w: payload of %d bytes is not a multiple of 4", ErrFormat, len(payload))
	}
	out := make([]float32, len(payload)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
	}
	return out, nil
}

// Words reinterprets payload as little-endian uint32 words, bit for bit.
func Words(payload []byte) ([]uint32, error) {
	if len(payload)%4 != 0 {
		return nil, fmt.Errorf("%w: payload of %d bytes is not a multiple of 4", ErrFormat, len(payload))
	}
	out := make([]uint32, len(payload)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(payload[i*4:])
	}
	return out, nil
}

// AppendFloats appends the little-endian encoding of values to dst.
func AppendFloats(dst []byte, values []float32) []byte {
	for _, v := range values {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

// AppendWords appends the little-endian encoding of words to dst.
func AppendWords(dst []byte, words []uint32) []byte {
	for _, w := range words {
		dst = binary.LittleEndian.AppendUint32(dst, w)
	}
	return dst
}

// TensorInfo describes one tensor entry of the metadata JSON. Offsets are
// relative to the start of the payload.
type TensorInfo struct {
	Name  string
	DType string
	Shape []int64
	Start int64
	End   int64
}

// Size returns the payload byte span of the tensor.
func (ti TensorInfo) Size() int64 { return ti.End - ti.Start }

// NumElements returns the product of the shape. A scalar has one element.
func (ti TensorInfo) NumElements() int64 {
	n := int64(1)
	for _, d := range ti.Shape {
		n *= d
	}
	return n
}

// Header is the decoded metadata JSON.
type Header struct {
	Tensors  []TensorInfo
	Metadata map[string]string
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int64 `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// ParseHeader decodes the JSON descriptor that follows the prefix. meta may
// be the full metadata block (Parts.Metadata). An empty descriptor decodes to
// an empty Header.
func ParseHeader(meta []byte) (*Header, error) {
	if err := ValidateMetadata(meta); err != nil {
		return nil, err
	}
	body := meta[PrefixSize:]
	if len(body) == 0 {
		return &Header{}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: metadata json: %v", ErrFormat, err)
	}

	h := &Header{}
	if msg, ok := raw["__metadata__"]; ok {
		if err := json.Unmarshal(msg, &h.Metadata); err != nil {
			return nil, fmt.Errorf("%w: __metadata__: %v", ErrFormat, err)
		}
		delete(raw, "__metadata__")
	}

	h.Tensors = make([]TensorInfo, 0, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("%w: tensor %s: %v", ErrFormat, name, err)
		}
		if len(th.DataOffsets) != 2 || th.DataOffsets[1] < th.DataOffsets[0] {
			return nil, fmt.Errorf("%w: tensor %s: invalid data_offsets", ErrFormat, name)
		}
		h.Tensors = append(h.Tensors, TensorInfo{
			Name:  name,
			DType: th.DType,
			Shape: th.Shape,
			Start: th.DataOffsets[0],
			End:   th.DataOffsets[1],
		})
	}
	sort.Slice(h.Tensors, func(i, j int) bool {
		return h.Tensors[i].Name < h.Tensors[j].Name
	})
	return h, nil
}

// DTypes returns how many tensors use each dtype.
func (h *Header) DTypes() map[string]int {
	out := make(map[string]int)
	for _, t := range h.Tensors {
		out[t.DType]++
	}
	return out
}

// NumElements returns the total element count across all tensors.
func (h *Header) NumElements() int64 {
	var n int64
	for _, t := range h.Tensors {
		n += t.NumElements()
	}
	return n
}

// PayloadEnd returns the largest tensor end offset.
func (h *Header) PayloadEnd() int64 {
	var end int64
	for _, t := range h.Tensors {
		end = max(end, t.End)
	}
	return end
}
