// Package delta holds the reversible difference transforms that expose
// redundancy to the downstream compressors: a signed-magnitude byte delta for
// quantized codes and an in-place XOR delta for raw float words.
package delta

const (
	signBit      = 0x80
	magnitudeMax = 0x7f
)

// EncodeVarbyte writes the first byte verbatim and every following byte as a
// signed-magnitude difference from its predecessor: bit 7 carries the sign and
// bits 0-6 the magnitude.
//
// Magnitudes above 127 do not fit and are wrapped to their low 7 bits, which
// makes the transform lossy for such inputs. The count of wrapped deltas is
// returned as overflow. Quantized 8-bit codes of smooth weights rarely hit
// this; arbitrary byte streams do.
func EncodeVarbyte(src []byte) (dst []byte, overflow int) {
	if len(src) == 0 {
		return nil, 0
	}
	dst = make([]byte, len(src))
	dst[0] = src[0]
	for i := 1; i < len(src); i++ {
		d := int(src[i]) - int(src[i-1])
		var sign byte
		if d < 0 {
			sign = signBit
			d = -d
		}
		if d > magnitudeMax {
			overflow++
		}
		dst[i] = sign | byte(d&magnitudeMax)
	}
	return dst, overflow
}

// DecodeVarbyte inverts EncodeVarbyte by accumulating each signed delta onto
// the previously decoded byte, wrapping modulo 256.
func DecodeVarbyte(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	dst := make([]byte, len(src))
	dst[0] = src[0]
	for i := 1; i < len(src); i++ {
		m := src[i] & magnitudeMax
		if src[i]&signBit != 0 {
			dst[i] = dst[i-1] - m
		} else {
			dst[i] = dst[i-1] + m
		}
	}
	return dst
}

