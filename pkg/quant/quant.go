// Package quant maps float32 samples onto 8-bit codes by linear min/max
// normalisation and back.
package quant

// Levels is the number of distinct 8-bit codes minus one.
const Levels = 255

// minWidth is the narrowest range quantised as-is. Narrower ranges are
// treated as unit width so the normalisation never divides by ~0.
const minWidth = 1e-8

// Range is the observed value range of a sample set.
type Range struct {
	Min float32
	Max float32
}

// Width returns Max-Min.
func (r Range) Width() float32 { return r.Max - r.Min }

// Scale returns the divisor used when quantising: the width, or 1 when the
// width is below 1e-8. A non-zero width below that threshold therefore
// quantises every value to code 0 and decodes it as Min, so the error for
// such a range is up to Width rather than Step.
func (r Range) Scale() float32 {
	w := r.Width()
	if w < minWidth {
		return 1
	}
	return w
}

// Step returns the largest reconstruction error Dequantize8 can introduce
// for ranges at least 1e-8 wide.
func (r Range) Step() float32 { return r.Width() / Levels }

// ComputeRange returns the minimum and maximum of values. NaNs are skipped.
// An empty (or all-NaN) input yields the zero Range.
func ComputeRange(values []float32) Range {
	var (
		r    Range
		seen bool
	)
	for _, v := range values {
		if v != v {
			continue
		}
		if !seen {
			r = Range{Min: v, Max: v}
			seen = true
			continue
		}
		r.Min = min(r.Min, v)
		r.Max = max(r.Max, v)
	}
	return r
}

// Quantize8 computes the range of values once and maps every value to
// uint8(clamp((v-min)/scale*255, 0, 255)). The conversion truncates.
// NaN values map to code 0.
func Quantize8(values []float32) ([]uint8, Range) {
	r := ComputeRange(values)
	if len(values) == 0 {
		return nil, r
	}
	scale := r.Scale()

	codes := make([]uint8, len(values))
	for i, v := range values {
		n := (v - r.Min) / scale * Levels
		switch {
		case n != n || n <= 0:
			codes[i] = 0
		case n >= Levels:
			codes[i] = Levels
		default:
			codes[i] = uint8(n)
		}
	}
	return codes, r
}

// Dequantize8 maps codes back to min + code/255*(max-min). Code 255 returns
// Max itself so the range endpoints survive without rounding drift.
func Dequantize8(codes []uint8, r Range) []float32 {
	if len(codes) == 0 {
		return nil
	}
	w := r.Width()
	out := make([]float32, len(codes))
	for i, c := range codes {
		if c == Levels {
			out[i] = r.Max
			continue
		}
		out[i] = r.Min + float32(c)/Levels*w
	}
	return out
}

