// Package rle implements the byte-oriented run-length codec used by the lossy
// pipeline.
//
// The stream is a sequence of records:
//
//	run:     0xFF, n, v     n copies of v (4 <= n <= 255)
//	literal: n, b1 ... bn   n raw bytes  (1 <= n <= 254)
//
// Literal segments are capped at 254 bytes so that a literal length byte can
// never be 0xFF, which is reserved for the run marker.
package rle

const (
	// RunMarker introduces a three-byte run record.
	RunMarker = 0xFF

	// MinRun is the shortest run emitted as a run record.
	MinRun = 4

	// MaxRun is the longest run a single record can describe.
	MaxRun = 255

	// MaxLiteral is the longest literal segment. It stays below RunMarker.
	MaxLiteral = RunMarker - 1
)

// MaxEncodedLen returns an upper bound on the encoded size of n input bytes.
func MaxEncodedLen(n int) int {
	return n + n/MaxLiteral + 1
}

// Encode run-length encodes src.
func Encode(src []byte) []byte {
	dst := make([]byte, 0, len(src))

	i := 0
	for i < len(src) {
		if n := runLength(src, i, MaxRun); n >= MinRun {
			dst = append(dst, RunMarker, byte(n), src[i])
			i += n
			continue
		}

		start := i
		for i < len(src) && i-start < MaxLiteral {
			if runLength(src, i, MinRun) >= MinRun {
				break
			}
			i++
		}
		dst = append(dst, byte(i-start))
		dst = append(dst, src[start:i]...)
	}
	return dst
}

// Decode reverses Encode. A trailing record that declares more bytes than
// remain in src ends decoding; the bytes decoded so far are returned.
func Decode(src []byte) []byte {
	dst := make([]byte, 0, len(src)*2)

	i := 0
	for i < len(src) {
		if src[i] == RunMarker {
			if i+2 >= len(src) {
				break
			}
			n, v := int(src[i+1]), src[i+2]
			for range n {
				dst = append(dst, v)
			}
			i += 3
			continue
		}

		n := int(src[i])
		if i+n >= len(src) {
			break
		}
		dst = append(dst, src[i+1:i+1+n]...)
		i += n + 1
	}
	return dst
}

// runLength counts how many bytes starting at src[i] equal src[i], up to limit.
func runLength(src []byte, i, limit int) int {
	n := 1
	for i+n < len(src) && n < limit && src[i+n] == src[i] {
		n++
	}
	return n
}
