package entropy

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

var lz4Levels = [...]lz4.CompressionLevel{
	lz4.Level1, lz4.Level2, lz4.Level3,
	lz4.Level4, lz4.Level5, lz4.Level6,
	lz4.Level7, lz4.Level8, lz4.Level9,
}

// LZ4 compresses with the LZ4 block format. Level 0 selects the fast
// compressor, 1-9 the high-compression one. Workers and LongDistance are
// ignored.
//
// A block that does not shrink is stored raw; a compressed length equal to
// the original length therefore means raw bytes.
type LZ4 struct{}

func (LZ4) Tag() Tag { return TagLZ4 }

func (LZ4) Compress(src []byte, opts Options) ([]byte, error) {
	if len(src) == 0 {
		return []byte{}, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(src)))

	var (
		n   int
		err error
	)
	if opts.Level <= 0 {
		n, err = lz4.CompressBlock(src, dst, nil)
	} else {
		lvl := lz4Levels[min(opts.Level, len(lz4Levels))-1]
		n, err = lz4.CompressBlockHC(src, dst, lvl, nil, nil)
	}
	if err != nil {
		return nil, backendErr("lz4", "compress", err)
	}
	if n == 0 || n >= len(src) {
		return append([]byte(nil), src...), nil
	}
	return dst[:n], nil
}

func (LZ4) Decompress(src []byte, originalLen int) ([]byte, error) {
	if originalLen < 0 {
		return nil, fmt.Errorf("%w: lz4: negative original length", ErrBackend)
	}
	if len(src) == originalLen {
		return append([]byte(nil), src...), nil
	}
	dst := make([]byte, originalLen)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, backendErr("lz4", "decompress", err)
	}
	if n != originalLen {
		return nil, fmt.Errorf("%w: lz4 decompress: got %d bytes, expected %d", ErrBackend, n, originalLen)
	}
	return dst, nil
}
