package llmc

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/samcharles93/llmc/internal/delta"
	"github.com/samcharles93/llmc/internal/entropy"
	"github.com/samcharles93/llmc/internal/half"
	"github.com/samcharles93/llmc/internal/logger"
	"github.com/samcharles93/llmc/internal/rle"
	"github.com/samcharles93/llmc/internal/safetensors"
	"github.com/samcharles93/llmc/pkg/container"
	"github.com/samcharles93/llmc/pkg/quant"
)

// Decompress reconstructs the original file from a container. LayoutAuto
// accepts only tagged containers; legacy files need their layout named.
func Decompress(ctx context.Context, data []byte, layout container.Layout) ([]byte, Stats, error) {
	return DecompressLimit(ctx, data, layout, 0)
}

// DecompressLimit is Decompress with a cap on the reconstructed size. A
// container declaring more than maxOutput bytes is rejected before anything
// is allocated for it. Zero means no cap.
func DecompressLimit(ctx context.Context, data []byte, layout container.Layout, maxOutput uint64) ([]byte, Stats, error) {
	start := time.Now()
	stats := Stats{InputSize: len(data), Layout: layout}

	c, err := container.Decode(data, layout)
	if err != nil {
		return nil, stats, formatErr(err)
	}
	h := c.Header
	if layout == container.LayoutAuto {
		stats.Layout = container.LayoutTagged
	}
	stats.Pipeline = h.Pipeline
	stats.Method = h.Method
	stats.Backend = h.Backend
	stats.MetadataSize = len(c.Metadata)
	stats.NumValues = h.NumValues
	stats.NumBlocks = len(c.Blocks)

	log := logger.FromContext(ctx).With("pipeline", h.Pipeline.String())
	log.Debug("decoded container",
		"layout", stats.Layout.String(),
		"method", h.Method.String(),
		"backend", h.Backend.String(),
		"values", h.NumValues,
		"blocks", len(c.Blocks),
	)

	payloadSize, ok := mulUint64(h.NumValues, 4)
	if !ok {
		return nil, stats, formatf("%d values overflow the payload size", h.NumValues)
	}
	total, ok := addUint64(uint64(len(c.Metadata)), payloadSize)
	if !ok || total != h.OriginalSize {
		return nil, stats, formatf("header declares %d original bytes, metadata and %d values need %d", h.OriginalSize, h.NumValues, total)
	}
	if maxOutput > 0 && total > maxOutput {
		return nil, stats, formatf("reconstructed size %d exceeds the %d byte limit", total, maxOutput)
	}
	if total > math.MaxInt {
		return nil, stats, formatf("reconstructed size %d is not addressable", total)
	}

	out := make([]byte, 0, int(total))
	out = append(out, c.Metadata...)

	switch h.Pipeline {
	case container.PipelineLossy:
		out, err = decompressLossy(log, c, out)
	case container.PipelineLossless:
		out, err = decompressLossless(log, c, out, payloadSize)
	default:
		err = formatf("unknown %s", h.Pipeline)
	}
	if err != nil {
		return nil, stats, err
	}
	if uint64(len(out)) != total {
		return nil, stats, formatf("reconstructed %d bytes, expected %d", len(out), total)
	}

	stats.OutputSize = len(out)
	stats.Elapsed = time.Since(start)
	return out, stats, nil
}

func decompressLossy(log logger.Logger, c *container.Container, out []byte) ([]byte, error) {
	h := c.Header
	if len(c.Blocks) != 1 {
		return nil, formatf("lossy container holds %d blocks", len(c.Blocks))
	}
	b := c.Blocks[0]

	want := h.NumValues
	if h.Method == container.MethodFloat16 {
		want *= 2
	}
	if b.OriginalSize != want {
		return nil, formatf("block declares %d decoded bytes, %s needs %d", b.OriginalSize, h.Method, want)
	}
	if uint64(len(b.Data)) > uint64(rle.MaxEncodedLen(int(want))) {
		return nil, formatf("run-length stream of %d bytes is too long for %d decoded bytes", len(b.Data), want)
	}

	stream := rle.Decode(b.Data)
	if uint64(len(stream)) != want {
		return nil, formatf("run-length stream decoded to %d bytes, expected %d", len(stream), want)
	}
	log.Debug("run-length decoded", "input_bytes", len(b.Data), "output_bytes", len(stream))

	var values []float32
	switch h.Method {
	case container.MethodFloat16:
		var err error
		values, err = half.FromBytes(stream)
		if err != nil {
			return nil, formatErr(err)
		}
	case container.MethodQuantized:
		codes := delta.DecodeVarbyte(stream)
		values = quant.Dequantize8(codes, quant.Range{Min: h.Min, Max: h.Max})
	}
	return safetensors.AppendFloats(out, values), nil
}

func decompressLossless(log logger.Logger, c *container.Container, out []byte, payloadSize uint64) ([]byte, error) {
	var sum uint64
	for i, b := range c.Blocks {
		var ok bool
		if sum, ok = addUint64(sum, b.OriginalSize); !ok {
			return nil, formatf("block %d overflows the payload size", i)
		}
	}
	if sum != payloadSize {
		return nil, formatf("blocks decode to %d bytes, %d values need %d", sum, c.Header.NumValues, payloadSize)
	}

	backend, err := entropy.ForTag(c.Header.Backend)
	if err != nil {
		return nil, backendErr(err)
	}

	start := len(out)
	for i, b := range c.Blocks {
		plain, err := backend.Decompress(b.Data, int(b.OriginalSize))
		if err != nil {
			return nil, backendErr(fmt.Errorf("block %d: %w", i, err))
		}
		out = append(out, plain...)
		log.Debug("decompressed block", "block", i, "input_bytes", len(b.Data), "output_bytes", len(plain))
	}

	words, err := safetensors.Words(out[start:])
	if err != nil {
		return nil, formatErr(err)
	}
	delta.XORDecodeInPlace(words)
	return safetensors.AppendWords(out[:start], words), nil
}

func addUint64(a, b uint64) (uint64, bool) {
	s := a + b
	return s, s >= a
}

func mulUint64(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	p := a * b
	return p, p/b == a
}
