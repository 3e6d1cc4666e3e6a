package llmc

import (
	"bytes"
	"context"
	"fmt"
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

// Compress encodes a raw tensor file with the pipeline selected by opts and
// returns the serialized container.
func Compress(ctx context.Context, raw []byte, opts Options) ([]byte, Stats, error) {
	enc, stats, err := NewEncoder(ctx, raw, opts)
	if err != nil {
		return nil, stats, err
	}
	var buf bytes.Buffer
	buf.Grow(int(enc.Size()))
	if _, err := enc.WriteTo(&buf); err != nil {
		return nil, stats, ioErr(err)
	}
	return buf.Bytes(), stats, nil
}

// NewEncoder runs the pipeline selected by opts over raw and returns an
// encoder whose WriteTo emits the container, so callers can stream it to a
// file without concatenating it in memory first.
func NewEncoder(ctx context.Context, raw []byte, opts Options) (*container.Encoder, Stats, error) {
	start := time.Now()
	stats := Stats{
		Pipeline:  opts.Pipeline,
		Method:    opts.Method,
		Backend:   opts.Backend,
		Layout:    opts.Layout,
		InputSize: len(raw),
	}
	if err := opts.Validate(); err != nil {
		return nil, stats, formatErr(err)
	}

	log := logger.FromContext(ctx).With("pipeline", opts.Pipeline.String())

	parts, err := safetensors.Split(raw)
	if err != nil {
		return nil, stats, formatErr(err)
	}
	n, err := parts.NumValues()
	if err != nil {
		return nil, stats, formatErr(err)
	}
	stats.MetadataSize = len(parts.Metadata)
	stats.NumValues = uint64(n)
	log.Debug("split input",
		"metadata_bytes", len(parts.Metadata),
		"payload_bytes", len(parts.Payload),
		"values", n,
	)
	checkDTypes(log, parts)

	c := &container.Container{
		Header: container.Header{
			Pipeline:     opts.Pipeline,
			Method:       opts.Method,
			Backend:      opts.Backend,
			OriginalSize: uint64(len(raw)),
			NumValues:    uint64(n),
		},
		Metadata: parts.Metadata,
	}

	switch opts.Pipeline {
	case container.PipelineLossy:
		err = compressLossy(log, c, parts.Payload, &stats)
	case container.PipelineLossless:
		err = compressLossless(log, c, parts.Payload, opts, &stats)
	}
	if err != nil {
		return nil, stats, err
	}

	ce, err := container.NewEncoder(c, opts.Layout)
	if err != nil {
		return nil, stats, formatErr(err)
	}
	stats.NumBlocks = len(c.Blocks)
	stats.Layout = ce.Layout()
	stats.OutputSize = int(ce.Size())
	stats.Elapsed = time.Since(start)
	log.Debug("container ready",
		"layout", ce.Layout().String(),
		"blocks", len(c.Blocks),
		"output_bytes", ce.Size(),
	)
	return ce, stats, nil
}

func compressLossy(log logger.Logger, c *container.Container, payload []byte, stats *Stats) error {
	values, err := safetensors.Floats(payload)
	if err != nil {
		return formatErr(err)
	}

	var stream []byte
	switch c.Header.Method {
	case container.MethodFloat16:
		stream = half.AppendBytes(make([]byte, 0, 2*len(values)), values)
		r := quant.ComputeRange(values)
		c.Header.Min, c.Header.Max = r.Min, r.Max
		log.Debug("converted to float16", "half_bytes", len(stream))

	case container.MethodQuantized:
		codes, r := quant.Quantize8(values)
		c.Header.Min, c.Header.Max = r.Min, r.Max
		stats.Range = r
		var overflow int
		stream, overflow = delta.EncodeVarbyte(codes)
		stats.DeltaOverflow = overflow
		log.Debug("quantized", "min", r.Min, "max", r.Max, "step", r.Step())
		if overflow > 0 {
			log.Warn("quantized code deltas exceed 7 bits; reconstruction will drift",
				"overflowed", overflow,
				"values", len(codes),
			)
		}
	}

	packed := rle.Encode(stream)
	log.Debug("run-length encoded", "input_bytes", len(stream), "output_bytes", len(packed))
	c.Blocks = []container.Block{{
		CompressedSize: uint64(len(packed)),
		OriginalSize:   uint64(len(stream)),
		Data:           packed,
	}}
	return nil
}

func compressLossless(log logger.Logger, c *container.Container, payload []byte, opts Options, stats *Stats) error {
	words, err := safetensors.Words(payload)
	if err != nil {
		return formatErr(err)
	}
	delta.XOREncodeInPlace(words)
	buf := safetensors.AppendWords(make([]byte, 0, len(payload)), words)

	backend, err := entropy.ForTag(opts.Backend)
	if err != nil {
		return backendErr(err)
	}

	for i, chunk := range chunks(buf, opts.BlockSize) {
		packed, err := backend.Compress(chunk, opts.Entropy)
		if err != nil {
			return backendErr(fmt.Errorf("block %d: %w", i, err))
		}
		c.Blocks = append(c.Blocks, container.Block{
			CompressedSize: uint64(len(packed)),
			OriginalSize:   uint64(len(chunk)),
			Data:           packed,
		})
		log.Debug("compressed block",
			"block", i,
			"backend", backend.Tag().String(),
			"input_bytes", len(chunk),
			"output_bytes", len(packed),
		)
	}
	return nil
}

// chunks splits buf into pieces of at most size bytes. It always returns at
// least one chunk, so an empty payload still produces a block.
func chunks(buf []byte, size int) [][]byte {
	if size <= 0 || len(buf) <= size {
		return [][]byte{buf}
	}
	out := make([][]byte, 0, (len(buf)+size-1)/size)
	for len(buf) > 0 {
		n := min(size, len(buf))
		out = append(out, buf[:n:n])
		buf = buf[n:]
	}
	return out
}

// checkDTypes warns when the metadata describes tensors that are not float32
// or offsets that disagree with the payload. The payload is still treated as
// float32 words; the metadata itself is never interpreted beyond this
// diagnostic.
func checkDTypes(log logger.Logger, parts safetensors.Parts) {
	h, err := safetensors.ParseHeader(parts.Metadata)
	if err != nil {
		log.Debug("metadata is not a tensor descriptor", "error", err)
		return
	}
	dtypes := h.DTypes()
	delete(dtypes, "F32")
	if len(dtypes) > 0 {
		log.Warn("metadata lists non-F32 tensors; payload is treated as float32", "dtypes", dtypes)
	}
	if end := h.PayloadEnd(); end != int64(len(parts.Payload)) {
		log.Warn("tensor offsets do not span the payload", "offsets_end", end, "payload_bytes", len(parts.Payload))
	}
	for _, t := range h.Tensors {
		if t.DType == "F32" && t.Size() != 4*t.NumElements() {
			log.Warn("tensor size disagrees with its shape", "tensor", t.Name, "span_bytes", t.Size(), "elements", t.NumElements())
		}
	}
	log.Debug("metadata", "tensors", len(h.Tensors), "elements", h.NumElements())
}
