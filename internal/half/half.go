// Package half converts between IEEE-754 single precision and the 16-bit
// half-precision bit layout used by the lossy float16 pipeline.
//
// The conversion truncates the mantissa and never produces subnormal or NaN
// halves: underflow flushes to signed zero and overflow saturates to signed
// infinity.
package half

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrOddLength is returned when a half-float byte stream has an odd length.
var ErrOddLength = errors.New("half: byte stream length is not a multiple of 2")

const (
	signMask16 = 0x8000
	expInf16   = 0x7c00

	expBias32 = 127
	expBias16 = 15
)

// FromFloat32 converts f to half-precision bits.
func FromFloat32(f float32) uint16 {
	bits := math.Float32bits(f)

	sign := uint16((bits >> 16) & signMask16)
	exp := int32((bits>>23)&0xff) - expBias32 + expBias16
	mant := uint16((bits >> 13) & 0x3ff)

	if exp <= 0 {
		return sign
	}
	if exp >= 31 {
		return sign | expInf16
	}
	return sign | uint16(exp)<<10 | mant
}

// ToFloat32 converts half-precision bits back to float32.
func ToFloat32(h uint16) float32 {
	sign := uint32(h&signMask16) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)

	switch exp {
	case 0:
		return math.Float32frombits(sign)
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000)
	}
	exp = exp - expBias16 + expBias32
	return math.Float32frombits(sign | exp<<23 | mant<<13)
}

// AppendBytes appends the little-endian half encoding of values to dst.
func AppendBytes(dst []byte, values []float32) []byte {
	for _, v := range values {
		dst = binary.LittleEndian.AppendUint16(dst, FromFloat32(v))
	}
	return dst
}

// FromBytes decodes a little-endian half stream into float32 values.
func FromBytes(b []byte) ([]float32, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(b))
	}
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = ToFloat32(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out, nil
}
