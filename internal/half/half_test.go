package half

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromFloat32KnownValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float32
		want uint16
	}{
		{0, 0x0000},
		{float32(math.Copysign(0, -1)), 0x8000},
		{1.0, 0x3c00},
		{1.5, 0x3e00},
		{-2.0, 0xc000},
		{65504, 0x7bff},
		{0.00006103515625, 0x0400}, // smallest normal half
		{1 + 1.0/1024, 0x3c01},
	}
	for _, tc := range tests {
		require.Equalf(t, tc.want, FromFloat32(tc.in), "FromFloat32(%v)", tc.in)
	}
}

func TestTruncatesMantissa(t *testing.T) {
	t.Parallel()

	// 1 + 2^-11 is below half precision; truncation drops it rather than rounding.
	require.Equal(t, uint16(0x3c00), FromFloat32(1+1.0/2048))
	require.Equal(t, uint16(0x3c00), FromFloat32(1+1.0/1024-1.0/4096))
	require.Equal(t, float32(1.0), ToFloat32(FromFloat32(1+1.0/2048)))
}

func TestOverflowSaturatesToInfinity(t *testing.T) {
	t.Parallel()

	for _, v := range []float32{65536, 1e10, float32(math.Inf(1)), float32(math.MaxFloat32)} {
		h := FromFloat32(v)
		require.Equalf(t, uint16(0x7c00), h, "FromFloat32(%v)", v)
		require.True(t, math.IsInf(float64(ToFloat32(h)), 1))

		hn := FromFloat32(-v)
		require.Equalf(t, uint16(0xfc00), hn, "FromFloat32(%v)", -v)
		require.True(t, math.IsInf(float64(ToFloat32(hn)), -1))
	}
}

func TestNaNBecomesInfinity(t *testing.T) {
	t.Parallel()

	h := FromFloat32(float32(math.NaN()))
	require.Equal(t, uint16(0x7c00), h&0x7fff)
	require.True(t, math.IsInf(float64(ToFloat32(h)), 0))
}

func TestUnderflowFlushesToSignedZero(t *testing.T) {
	t.Parallel()

	for _, v := range []float32{1e-5, 1e-8, math.SmallestNonzeroFloat32, 0.00006103515625 / 2} {
		require.Equalf(t, uint16(0), FromFloat32(v), "FromFloat32(%v)", v)

		neg := ToFloat32(FromFloat32(-v))
		require.Zero(t, neg)
		require.True(t, math.Signbit(float64(neg)), "expected negative zero for %v", -v)
	}
}

func TestDecodeSpecialExponents(t *testing.T) {
	t.Parallel()

	// Subnormal halves decode to signed zero.
	require.Equal(t, float32(0), ToFloat32(0x0001))
	require.True(t, math.Signbit(float64(ToFloat32(0x8001))))

	// Any max-exponent half decodes to infinity, payload is not preserved.
	require.True(t, math.IsInf(float64(ToFloat32(0x7e00)), 1))
	require.True(t, math.IsInf(float64(ToFloat32(0xfc01)), -1))
}

func TestRoundTripWithinHalfRange(t *testing.T) {
	t.Parallel()

	for _, v := range []float32{0.5, -0.25, 3.140625, 1024, -65504, 0.0001220703125} {
		require.Equalf(t, v, ToFloat32(FromFloat32(v)), "value %v is exactly representable", v)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{1, -1.5, 0, 2048}
	b := AppendBytes(nil, in)
	require.Len(t, b, 8)
	require.Equal(t, []byte{0x00, 0x3c}, b[:2])

	out, err := FromBytes(b)
	require.NoError(t, err)
	require.Equal(t, in, out)

	_, err = FromBytes(b[:3])
	require.ErrorIs(t, err, ErrOddLength)
}

func TestAppendBytesKnownValues(t *testing.T) {
	t.Parallel()

	src := []float32{1, 2, -4}
	b := AppendBytes(nil, src)
	require.Equal(t, []byte{0x00, 0x3c, 0x00, 0x40, 0x00, 0xc4}, b)

	back, err := FromBytes(b)
	require.NoError(t, err)
	require.Equal(t, src, back)
}
