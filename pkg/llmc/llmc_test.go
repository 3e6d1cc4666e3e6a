package llmc

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/llmc/internal/entropy"
	"github.com/samcharles93/llmc/internal/logger"
	"github.com/samcharles93/llmc/internal/safetensors"
	"github.com/samcharles93/llmc/pkg/container"
	"github.com/stretchr/testify/require"
)

// tensorFile builds a raw file from a metadata body and float32 values.
func tensorFile(meta []byte, values []float32) []byte {
	out := binary.LittleEndian.AppendUint64(nil, uint64(len(meta)))
	out = append(out, meta...)
	return safetensors.AppendFloats(out, values)
}

func smallLossless(t entropy.Tag) Options {
	opts := DefaultOptions(container.PipelineLossless)
	opts.Backend = t
	opts.Entropy.Workers = 2
	opts.Entropy.WindowLog = 20
	return opts
}

func smoothValues(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(float64(i)/50)) * 0.02
	}
	return out
}

func TestLossyRepeatedOnes(t *testing.T) {
	t.Parallel()

	values := make([]float32, 100)
	for i := range values {
		values[i] = 1.0
	}
	raw := tensorFile(make([]byte, 8), values)
	require.Len(t, raw, 16+400)

	packed, stats, err := Compress(context.Background(), raw, DefaultOptions(container.PipelineLossy))
	require.NoError(t, err)
	require.Less(t, len(packed), len(raw))
	require.Equal(t, uint64(100), stats.NumValues)
	require.Equal(t, 16, stats.MetadataSize)
	require.Equal(t, len(packed), stats.OutputSize)

	out, _, err := Decompress(context.Background(), packed, container.LayoutAuto)
	require.NoError(t, err)
	require.Len(t, out, len(raw))
	require.Equal(t, raw[:16], out[:16])

	got, err := safetensors.Floats(out[16:])
	require.NoError(t, err)
	for _, v := range got {
		require.InDelta(t, 1.0, v, 1.0/255)
	}
}

func TestLosslessSignedZerosBitExact(t *testing.T) {
	t.Parallel()

	raw := tensorFile(nil, []float32{0, float32(math.Copysign(0, -1)), 1.5, -1.5})

	for _, tag := range []entropy.Tag{entropy.TagZstd, entropy.TagLZ4, entropy.TagNone} {
		packed, _, err := Compress(context.Background(), raw, smallLossless(tag))
		require.NoError(t, err, tag.String())

		out, stats, err := Decompress(context.Background(), packed, container.LayoutAuto)
		require.NoError(t, err, tag.String())
		require.Equal(t, raw, out, tag.String())
		require.Equal(t, tag, stats.Backend)
	}
}

func TestLosslessMultiBlock(t *testing.T) {
	t.Parallel()

	raw := tensorFile([]byte(`{"w":{"dtype":"F32","shape":[1000],"data_offsets":[0,4000]}}`), smoothValues(1000))

	opts := smallLossless(entropy.TagZstd)
	opts.BlockSize = 1000
	packed, stats, err := Compress(context.Background(), raw, opts)
	require.NoError(t, err)
	require.Equal(t, 4, stats.NumBlocks)

	c, err := container.Decode(packed, container.LayoutTagged)
	require.NoError(t, err)
	require.Len(t, c.Blocks, 4)
	require.Equal(t, uint64(1000), c.Blocks[0].OriginalSize)

	out, _, err := Decompress(context.Background(), packed, container.LayoutTagged)
	require.NoError(t, err)
	require.Equal(t, raw, out)
}

func TestLossyFloat16(t *testing.T) {
	t.Parallel()

	values := []float32{0, 1, -2.5, 65504, 1e6, -1e-9, 0.333}
	raw := tensorFile([]byte(`{}`), values)

	opts := DefaultOptions(container.PipelineLossy)
	opts.Method = container.MethodFloat16
	packed, _, err := Compress(context.Background(), raw, opts)
	require.NoError(t, err)

	out, stats, err := Decompress(context.Background(), packed, container.LayoutAuto)
	require.NoError(t, err)
	require.Equal(t, container.MethodFloat16, stats.Method)

	got, err := safetensors.Floats(out[10:])
	require.NoError(t, err)
	require.Equal(t, float32(0), got[0])
	require.Equal(t, float32(1), got[1])
	require.Equal(t, float32(-2.5), got[2])
	require.Equal(t, float32(65504), got[3])
	require.True(t, math.IsInf(float64(got[4]), 1))
	require.Equal(t, uint32(0x80000000), math.Float32bits(got[5]))
	require.InDelta(t, 0.333, got[6], 0.001)
}

func TestLossyQuantizedWithinOneStep(t *testing.T) {
	t.Parallel()

	values := smoothValues(2000)
	raw := tensorFile([]byte(`{"__metadata__":{"format":"pt"}}`), values)

	packed, stats, err := Compress(context.Background(), raw, DefaultOptions(container.PipelineLossy))
	require.NoError(t, err)
	require.Zero(t, stats.DeltaOverflow)

	out, _, err := Decompress(context.Background(), packed, container.LayoutAuto)
	require.NoError(t, err)
	got, err := safetensors.Floats(out[len(raw)-len(values)*4:])
	require.NoError(t, err)

	step := stats.Range.Step()
	for i := range values {
		require.InDelta(t, values[i], got[i], float64(step)*1.0001)
	}
}

func TestLegacyLayoutsRoundTrip(t *testing.T) {
	t.Parallel()

	raw := tensorFile([]byte(`{"a":1}`), smoothValues(300))

	lossy := DefaultOptions(container.PipelineLossy)
	lossy.Layout = container.LayoutLegacyLossy
	packed, _, err := Compress(context.Background(), raw, lossy)
	require.NoError(t, err)
	require.Equal(t, container.LayoutAuto, container.Detect(packed))

	_, _, err = Decompress(context.Background(), packed, container.LayoutAuto)
	require.ErrorIs(t, err, ErrFormat)

	out, stats, err := Decompress(context.Background(), packed, container.LayoutLegacyLossy)
	require.NoError(t, err)
	require.Len(t, out, len(raw))
	require.Equal(t, container.LayoutLegacyLossy, stats.Layout)

	lossless := smallLossless(entropy.TagZstd)
	lossless.Layout = container.LayoutLegacyLossless
	packed, _, err = Compress(context.Background(), raw, lossless)
	require.NoError(t, err)
	require.Equal(t, uint64(len(`{"a":1}`)+8), binary.LittleEndian.Uint64(packed[8:]))

	out, _, err = Decompress(context.Background(), packed, container.LayoutLegacyLossless)
	require.NoError(t, err)
	require.Equal(t, raw, out)
}

func TestOversizedCompressedSizeIsFormatError(t *testing.T) {
	t.Parallel()

	raw := tensorFile(nil, smoothValues(64))

	lossy := DefaultOptions(container.PipelineLossy)
	lossy.Layout = container.LayoutLegacyLossy
	packed, _, err := Compress(context.Background(), raw, lossy)
	require.NoError(t, err)
	// compressed_size follows the 32-byte header and the 8-byte metadata block.
	binary.LittleEndian.PutUint64(packed[40:], uint64(len(packed)))
	_, _, err = Decompress(context.Background(), packed, container.LayoutLegacyLossy)
	require.ErrorIs(t, err, ErrFormat)
	require.ErrorIs(t, err, container.ErrFormat)

	tagged, _, err := Compress(context.Background(), raw, smallLossless(entropy.TagZstd))
	require.NoError(t, err)
	binary.LittleEndian.PutUint64(tagged[container.HeaderSize+8:], math.MaxUint64)
	_, _, err = Decompress(context.Background(), tagged, container.LayoutAuto)
	require.ErrorIs(t, err, ErrFormat)
}

func TestCompressRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	tests := map[string][]byte{
		"short":            {1, 2, 3},
		"prefix too large": binary.LittleEndian.AppendUint64(nil, 100),
		"ragged payload":   append(tensorFile(nil, []float32{1}), 0xAA),
	}
	for name, raw := range tests {
		for _, p := range []container.Pipeline{container.PipelineLossy, container.PipelineLossless} {
			_, _, err := Compress(context.Background(), raw, DefaultOptions(p))
			require.ErrorIs(t, err, ErrFormat, name)
			require.ErrorIs(t, err, safetensors.ErrFormat, name)
		}
	}
}

func TestCorruptBlockIsBackendError(t *testing.T) {
	t.Parallel()

	c := &container.Container{
		Header: container.Header{
			Pipeline:     container.PipelineLossless,
			Method:       container.MethodXORDelta,
			Backend:      entropy.TagZstd,
			OriginalSize: 8 + 8,
			NumValues:    2,
		},
		Metadata: make([]byte, 8),
		Blocks:   []container.Block{{OriginalSize: 8, Data: []byte("garbage!")}},
	}
	data, err := container.Encode(c, container.LayoutTagged)
	require.NoError(t, err)

	_, _, err = Decompress(context.Background(), data, container.LayoutAuto)
	require.ErrorIs(t, err, ErrBackend)
	require.ErrorIs(t, err, entropy.ErrBackend)
	require.NotErrorIs(t, err, ErrFormat)
}

func TestDecompressRejectsInconsistentSizes(t *testing.T) {
	t.Parallel()

	raw := tensorFile(nil, smoothValues(16))
	packed, _, err := Compress(context.Background(), raw, smallLossless(entropy.TagNone))
	require.NoError(t, err)

	// Original size no longer matches metadata plus values.
	bad := append([]byte(nil), packed...)
	binary.LittleEndian.PutUint64(bad[16:], 7)
	_, _, err = Decompress(context.Background(), bad, container.LayoutAuto)
	require.ErrorIs(t, err, ErrFormat)

	// Value count disagrees with the block sizes.
	bad = append([]byte(nil), packed...)
	binary.LittleEndian.PutUint64(bad[16:], 8+4*17)
	binary.LittleEndian.PutUint64(bad[32:], 17)
	_, _, err = Decompress(context.Background(), bad, container.LayoutAuto)
	require.ErrorIs(t, err, ErrFormat)

	_, _, err = DecompressLimit(context.Background(), packed, container.LayoutAuto, 16)
	require.ErrorIs(t, err, ErrFormat)
}

func TestDeltaOverflowWarns(t *testing.T) {
	t.Parallel()

	values := make([]float32, 64)
	for i := range values {
		if i%2 == 1 {
			values[i] = 1
		}
	}
	raw := tensorFile([]byte(`{"x":{"dtype":"BF16","shape":[64],"data_offsets":[0,128]}}`), values)

	var buf bytes.Buffer
	ctx := logger.WithContext(context.Background(), logger.JSON(&buf, slog.LevelDebug))
	_, stats, err := Compress(ctx, raw, DefaultOptions(container.PipelineLossy))
	require.NoError(t, err)
	require.Equal(t, 63, stats.DeltaOverflow)

	logs := buf.String()
	require.Contains(t, logs, "exceed 7 bits")
	require.Contains(t, logs, "non-F32")
	require.Contains(t, logs, "run-length encoded")
}

func TestCompressWarnsOnInconsistentOffsets(t *testing.T) {
	t.Parallel()

	values := []float32{1, 2, 3, 4}
	tests := []struct {
		name string
		meta string
		want []string
	}{
		{"consistent", `{"w":{"dtype":"F32","shape":[4],"data_offsets":[0,16]}}`, nil},
		{"short offsets", `{"w":{"dtype":"F32","shape":[2],"data_offsets":[0,8]}}`, []string{"do not span the payload"}},
		{"shape mismatch", `{"w":{"dtype":"F32","shape":[3],"data_offsets":[0,16]}}`, []string{"disagrees with its shape"}},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		ctx := logger.WithContext(context.Background(), logger.JSON(&buf, slog.LevelWarn))
		_, _, err := Compress(ctx, tensorFile([]byte(tc.meta), values), DefaultOptions(container.PipelineLossless))
		require.NoError(t, err, tc.name)
		if len(tc.want) == 0 {
			require.Empty(t, buf.String(), tc.name)
		}
		for _, w := range tc.want {
			require.Contains(t, buf.String(), w, tc.name)
		}
	}
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultOptions(container.PipelineLossy).Validate())
	require.NoError(t, DefaultOptions(container.PipelineLossless).Validate())

	bad := []func(*Options){
		func(o *Options) { o.Pipeline = 7 },
		func(o *Options) { o.Method = container.MethodXORDelta },
		func(o *Options) { o.Backend = entropy.TagZstd },
		func(o *Options) { o.Layout = container.LayoutLegacyLossless },
		func(o *Options) { o.BlockSize = -1 },
		func(o *Options) { o.Layout = 99 },
	}
	for i, mutate := range bad {
		o := DefaultOptions(container.PipelineLossy)
		mutate(&o)
		require.Error(t, o.Validate(), "case %d", i)
	}

	o := DefaultOptions(container.PipelineLossless)
	o.Layout = container.LayoutLegacyLossless
	o.Backend = entropy.TagLZ4
	require.Error(t, o.Validate())

	o = DefaultOptions(container.PipelineLossless)
	o.Layout = container.LayoutLegacyLossless
	o.BlockSize = 4096
	require.Error(t, o.Validate())

	_, _, err := Compress(context.Background(), tensorFile(nil, nil), o)
	require.ErrorIs(t, err, ErrFormat)
}

func TestEmptyPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	raw := tensorFile([]byte(`{}`), nil)
	for _, opts := range []Options{DefaultOptions(container.PipelineLossy), smallLossless(entropy.TagZstd)} {
		packed, _, err := Compress(context.Background(), raw, opts)
		require.NoError(t, err)
		out, _, err := Decompress(context.Background(), packed, container.LayoutAuto)
		require.NoError(t, err)
		require.Equal(t, raw, out)
	}
}

func TestFileRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "model.safetensors")
	packed := filepath.Join(dir, "model.llmc")
	out := filepath.Join(dir, "restored.safetensors")

	raw := tensorFile([]byte(`{"w":{"dtype":"F32","shape":[500],"data_offsets":[0,2000]}}`), smoothValues(500))
	require.NoError(t, os.WriteFile(in, raw, 0o644))

	stats, err := CompressFile(context.Background(), in, packed, smallLossless(entropy.TagZstd))
	require.NoError(t, err)
	st, err := os.Stat(packed)
	require.NoError(t, err)
	require.Equal(t, int64(stats.OutputSize), st.Size())
	require.InDelta(t, float64(len(raw))/float64(st.Size()), stats.Ratio(), 1e-9)

	_, err = DecompressFile(context.Background(), packed, out, container.LayoutAuto)
	require.NoError(t, err)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, raw, got)

	_, err = CompressFile(context.Background(), filepath.Join(dir, "missing"), packed, smallLossless(entropy.TagZstd))
	require.ErrorIs(t, err, ErrIO)
}

func TestInspect(t *testing.T) {
	t.Parallel()

	raw := tensorFile([]byte(`{"__metadata__":{"format":"pt"},"w":{"dtype":"F32","shape":[4],"data_offsets":[0,16]}}`), []float32{1, 2, 3, 4})

	r, err := Inspect(raw, container.LayoutAuto)
	require.NoError(t, err)
	require.Equal(t, KindTensors, r.Kind)
	require.Equal(t, 1, r.Tensors)
	require.EqualValues(t, 4, r.Elements)
	require.Equal(t, map[string]int{"F32": 1}, r.DTypes)
	require.Equal(t, "pt", r.Metadata["format"])

	packed, _, err := Compress(context.Background(), raw, DefaultOptions(container.PipelineLossy))
	require.NoError(t, err)
	r, err = Inspect(packed, container.LayoutAuto)
	require.NoError(t, err)
	require.Equal(t, KindContainer, r.Kind)
	require.Equal(t, "tagged", r.Layout)
	require.Equal(t, "1.0", r.Version)
	require.Equal(t, "lossy", r.Pipeline)
	require.Equal(t, "quantized", r.Method)
	require.Equal(t, uint64(4), r.NumValues)
	require.NotNil(t, r.Min)
	require.Equal(t, float32(1), *r.Min)
	require.Equal(t, float32(4), *r.Max)
	require.Len(t, r.Blocks, 1)
	require.Equal(t, 1, r.Tensors)

	_, err = Inspect([]byte{1, 2}, container.LayoutAuto)
	require.ErrorIs(t, err, ErrFormat)
}

func TestChunks(t *testing.T) {
	t.Parallel()

	require.Len(t, chunks(nil, 0), 1)
	require.Len(t, chunks(make([]byte, 10), 0), 1)
	require.Len(t, chunks(make([]byte, 10), 10), 1)
	parts := chunks(make([]byte, 10), 4)
	require.Len(t, parts, 3)
	require.Len(t, parts[2], 2)
}

func TestErrorMessageCarriesKind(t *testing.T) {
	t.Parallel()

	_, _, err := Compress(context.Background(), []byte{1}, DefaultOptions(container.PipelineLossy))
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "format error: "), err.Error())
}
