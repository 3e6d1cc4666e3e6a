package llmc

import (
	"bytes"
	"context"

	"github.com/samcharles93/llmc/internal/fsio"
	"github.com/samcharles93/llmc/internal/logger"
	"github.com/samcharles93/llmc/pkg/container"
)

// CompressFile compresses the file at in and atomically writes the container
// to out. The input is memory-mapped where possible.
func CompressFile(ctx context.Context, in, out string, opts Options) (Stats, error) {
	src, err := fsio.Open(in)
	if err != nil {
		return Stats{}, ioErr(err)
	}
	defer func() { _ = src.Close() }()
	logger.FromContext(ctx).Debug("opened input", "path", in, "input_bytes", len(src.Data), "mapped", src.Mapped())

	enc, stats, err := NewEncoder(ctx, src.Data, opts)
	if err != nil {
		return stats, err
	}
	if err := fsio.WriteFileAtomic(out, enc); err != nil {
		return stats, ioErr(err)
	}
	return stats, nil
}

// DecompressFile reconstructs the original file from the container at in and
// atomically writes it to out.
func DecompressFile(ctx context.Context, in, out string, layout container.Layout) (Stats, error) {
	src, err := fsio.Open(in)
	if err != nil {
		return Stats{}, ioErr(err)
	}
	defer func() { _ = src.Close() }()

	data, stats, err := Decompress(ctx, src.Data, layout)
	if err != nil {
		return stats, err
	}
	if err := fsio.WriteFileAtomic(out, bytes.NewReader(data)); err != nil {
		return stats, ioErr(err)
	}
	return stats, nil
}
