package entropy

import (
	"bytes"
	"fmt"
	"math/bits"

	"github.com/klauspost/compress/zstd"
)

const (
	zstdMinWindowLog = 10
	zstdMaxWindowLog = 29
)

// Zstd compresses with Zstandard. A call produces a single frame; with more
// than one worker the frame's blocks are encoded concurrently.
//
// The encoder has no long-distance-matching mode, so LongDistance is honoured
// by raising the window size instead. The window never exceeds the smallest
// power of two covering the input.
type Zstd struct{}

func (Zstd) Tag() Tag { return TagZstd }

func (Zstd) Compress(src []byte, opts Options) ([]byte, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	level := opts.Level
	if level <= 0 {
		level = DefaultLevel
	}

	eopts := []zstd.EOption{
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(workers),
		zstd.WithZeroFrames(true),
	}
	if opts.LongDistance {
		wlog := opts.WindowLog
		if wlog == 0 {
			wlog = DefaultWindowLog
		}
		if wlog < zstdMinWindowLog || wlog > zstdMaxWindowLog {
			return nil, fmt.Errorf("%w: zstd window log %d outside [%d, %d]", ErrBackend, wlog, zstdMinWindowLog, zstdMaxWindowLog)
		}
		eopts = append(eopts, zstd.WithWindowSize(1<<fitWindowLog(wlog, len(src))))
	}

	var buf bytes.Buffer
	buf.Grow(len(src) / 2)
	enc, err := zstd.NewWriter(&buf, eopts...)
	if err != nil {
		return nil, backendErr("zstd", "new encoder", err)
	}
	if _, err := enc.Write(src); err != nil {
		_ = enc.Close()
		return nil, backendErr("zstd", "compress", err)
	}
	if err := enc.Close(); err != nil {
		return nil, backendErr("zstd", "compress", err)
	}
	return buf.Bytes(), nil
}

// fitWindowLog shrinks wlog to the smallest window holding n bytes. The
// streaming encoder allocates history for the whole window up front.
func fitWindowLog(wlog, n int) int {
	need := bits.Len(uint(max(n-1, 1)))
	return min(wlog, max(need, zstdMinWindowLog))
}

func (Zstd) Decompress(src []byte, originalLen int) ([]byte, error) {
	if originalLen < 0 {
		return nil, fmt.Errorf("%w: zstd: negative original length", ErrBackend)
	}
	// The frame window may legitimately exceed the payload, so the memory cap
	// has to admit the widest window the encoder can produce.
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(uint64(max(originalLen, 1<<zstdMaxWindowLog))),
	)
	if err != nil {
		return nil, backendErr("zstd", "new decoder", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(src, make([]byte, 0, originalLen))
	if err != nil {
		return nil, backendErr("zstd", "decompress", err)
	}
	if len(out) != originalLen {
		return nil, fmt.Errorf("%w: zstd decompress: got %d bytes, expected %d", ErrBackend, len(out), originalLen)
	}
	return out, nil
}
