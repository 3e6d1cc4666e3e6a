// Package llmc composes the codec stages into the two end-to-end pipelines.
//
// The lossy pipeline quantizes the float payload to 8-bit codes, delta codes
// them and run-length encodes the result, or converts it to half precision
// and run-length encodes that. The lossless pipeline XOR-deltas the raw float
// words and hands them to an entropy backend. Both wrap their output in a
// container that records everything needed to invert each stage.
//
// Every call owns its buffers from start to finish; nothing is cached or
// shared between calls.
package llmc

import (
	"errors"
	"fmt"
	"time"

	"github.com/samcharles93/llmc/internal/entropy"
	"github.com/samcharles93/llmc/pkg/container"
	"github.com/samcharles93/llmc/pkg/quant"
)

// Options configure a compression run.
type Options struct {
	Pipeline container.Pipeline

	// Method selects the lossy transform (MethodQuantized or MethodFloat16).
	// The lossless pipeline always uses MethodXORDelta.
	Method container.Method

	// Backend is the entropy backend of the lossless pipeline. The lossy
	// pipeline has no entropy stage and requires TagNone.
	Backend entropy.Tag
	Entropy entropy.Options

	// BlockSize splits the lossless payload into independently compressed
	// blocks of this many bytes. Zero compresses the payload as one block.
	BlockSize int

	// Layout is the container layout to write.
	Layout container.Layout
}

// DefaultOptions returns the options each tool uses when not told otherwise.
func DefaultOptions(p container.Pipeline) Options {
	if p == container.PipelineLossless {
		return Options{
			Pipeline: container.PipelineLossless,
			Method:   container.MethodXORDelta,
			Backend:  entropy.TagZstd,
			Entropy:  entropy.DefaultOptions(),
			Layout:   container.LayoutTagged,
		}
	}
	return Options{
		Pipeline: container.PipelineLossy,
		Method:   container.MethodQuantized,
		Backend:  entropy.TagNone,
		Layout:   container.LayoutTagged,
	}
}

// Validate reports option combinations the pipelines cannot honour.
func (o Options) Validate() error {
	var errs []error
	switch o.Pipeline {
	case container.PipelineLossy:
		if o.Method != container.MethodQuantized && o.Method != container.MethodFloat16 {
			errs = append(errs, fmt.Errorf("lossy pipeline cannot use method %s", o.Method))
		}
		if o.Backend != entropy.TagNone {
			errs = append(errs, fmt.Errorf("lossy pipeline has no entropy stage, got backend %s", o.Backend))
		}
		if o.Layout == container.LayoutLegacyLossless {
			errs = append(errs, errors.New("lossy pipeline cannot write the legacy lossless layout"))
		}
	case container.PipelineLossless:
		if o.Method != container.MethodXORDelta {
			errs = append(errs, fmt.Errorf("lossless pipeline cannot use method %s", o.Method))
		}
		if _, err := entropy.ForTag(o.Backend); err != nil {
			errs = append(errs, err)
		}
		if o.Layout == container.LayoutLegacyLossy {
			errs = append(errs, errors.New("lossless pipeline cannot write the legacy lossy layout"))
		}
		if o.Layout == container.LayoutLegacyLossless && o.Backend != entropy.TagZstd {
			errs = append(errs, fmt.Errorf("legacy lossless layout requires zstd, got %s", o.Backend))
		}
		if o.Layout == container.LayoutLegacyLossless && o.BlockSize != 0 {
			// Legacy readers expect the whole payload in one frame.
			errs = append(errs, errors.New("legacy lossless layout requires a single block"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown %s", o.Pipeline))
	}
	if o.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("negative block size %d", o.BlockSize))
	}
	if o.Entropy.Workers < 0 {
		errs = append(errs, fmt.Errorf("negative worker count %d", o.Entropy.Workers))
	}
	if o.Layout < container.LayoutAuto || o.Layout > container.LayoutLegacyLossless {
		errs = append(errs, fmt.Errorf("unknown %s", o.Layout))
	}
	return errors.Join(errs...)
}

// Stats describe one compress or decompress call.
type Stats struct {
	Pipeline container.Pipeline
	Method   container.Method
	Backend  entropy.Tag
	Layout   container.Layout

	InputSize    int
	OutputSize   int
	MetadataSize int
	NumValues    uint64
	NumBlocks    int

	// Range is the quantization range of the lossy quantized method.
	Range quant.Range

	// DeltaOverflow counts quantized code deltas wider than seven bits.
	// A non-zero value means the lossy round trip is not within one step.
	DeltaOverflow int

	Elapsed time.Duration
}

// Ratio returns InputSize over OutputSize. Compression ratios are above one
// when the container is smaller than its input; decompress calls report the
// inverse.
func (s Stats) Ratio() float64 {
	if s.OutputSize == 0 {
		return 0
	}
	return float64(s.InputSize) / float64(s.OutputSize)
}
