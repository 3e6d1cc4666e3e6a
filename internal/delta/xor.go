package delta

// Word is the set of unsigned word types the XOR transform operates on.
type Word interface {
	~uint16 | ~uint32 | ~uint64
}

// XOREncodeInPlace replaces every element except the first with its XOR
// against the original value of its predecessor.
//
// Traversal runs from the last index down to index 1. Each step reads w[i-1]
// before that slot has been rewritten, so the predecessor is still the
// original word. Walking upwards would XOR against already encoded values
// and corrupt the stream without any visible error.
func XOREncodeInPlace[T Word](w []T) {
	for i := len(w) - 1; i > 0; i-- {
		w[i] ^= w[i-1]
	}
}

// XORDecodeInPlace inverts XOREncodeInPlace.
//
// Traversal runs from index 1 upwards so each step XORs against the
// predecessor that has already been decoded.
func XORDecodeInPlace[T Word](w []T) {
	for i := 1; i < len(w); i++ {
		w[i] ^= w[i-1]
	}
}
