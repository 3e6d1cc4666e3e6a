package llmc

import (
	"fmt"

	"github.com/samcharles93/llmc/internal/safetensors"
	"github.com/samcharles93/llmc/pkg/container"
)

// Report summarises a container or a raw tensor file without decoding its
// payload.
type Report struct {
	Kind string `json:"kind"`
	Size int    `json:"size"`

	Layout       string        `json:"layout,omitempty"`
	Version      string        `json:"version,omitempty"`
	Pipeline     string        `json:"pipeline,omitempty"`
	Method       string        `json:"method,omitempty"`
	Backend      string        `json:"backend,omitempty"`
	OriginalSize uint64        `json:"original_size,omitempty"`
	NumValues    uint64        `json:"num_values"`
	Min          *float32      `json:"min,omitempty"`
	Max          *float32      `json:"max,omitempty"`
	Blocks       []BlockReport `json:"blocks,omitempty"`
	Ratio        float64       `json:"ratio,omitempty"`

	MetadataSize uint64            `json:"metadata_size"`
	Tensors      int               `json:"tensors"`
	Elements     int64             `json:"elements,omitempty"`
	DTypes       map[string]int    `json:"dtypes,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// BlockReport describes one container block.
type BlockReport struct {
	CompressedSize uint64 `json:"compressed_size"`
	OriginalSize   uint64 `json:"original_size"`
}

const (
	KindContainer = "container"
	KindTensors   = "tensors"
)

// Inspect reports on data. With LayoutAuto, input without the container magic
// is described as a raw tensor file.
func Inspect(data []byte, layout container.Layout) (*Report, error) {
	if layout == container.LayoutAuto && container.Detect(data) != container.LayoutTagged {
		return inspectTensors(data)
	}

	c, err := container.Decode(data, layout)
	if err != nil {
		return nil, formatErr(err)
	}
	h := c.Header
	if layout == container.LayoutAuto {
		layout = container.LayoutTagged
	}
	r := &Report{
		Kind:         KindContainer,
		Size:         len(data),
		Layout:       layout.String(),
		Pipeline:     h.Pipeline.String(),
		Method:       h.Method.String(),
		Backend:      h.Backend.String(),
		OriginalSize: h.OriginalSize,
		NumValues:    h.NumValues,
		MetadataSize: uint64(len(c.Metadata)),
	}
	if layout == container.LayoutTagged {
		r.Version = fmt.Sprintf("%d.%d", h.Major, h.Minor)
	}
	if h.Pipeline == container.PipelineLossy {
		r.Min, r.Max = &h.Min, &h.Max
	}
	for _, b := range c.Blocks {
		r.Blocks = append(r.Blocks, BlockReport{CompressedSize: b.CompressedSize, OriginalSize: b.OriginalSize})
	}
	if len(data) > 0 {
		r.Ratio = float64(h.OriginalSize) / float64(len(data))
	}
	describeMetadata(r, c.Metadata)
	return r, nil
}

func inspectTensors(data []byte) (*Report, error) {
	parts, err := safetensors.Split(data)
	if err != nil {
		return nil, formatErr(err)
	}
	n, err := parts.NumValues()
	if err != nil {
		return nil, formatErr(err)
	}
	r := &Report{
		Kind:         KindTensors,
		Size:         len(data),
		NumValues:    uint64(n),
		MetadataSize: uint64(len(parts.Metadata)),
	}
	describeMetadata(r, parts.Metadata)
	return r, nil
}

// describeMetadata fills the tensor summary when the metadata parses as a
// tensor descriptor. Anything else is left opaque.
func describeMetadata(r *Report, meta []byte) {
	h, err := safetensors.ParseHeader(meta)
	if err != nil {
		return
	}
	r.Tensors = len(h.Tensors)
	r.Elements = h.NumElements()
	if len(h.Tensors) > 0 {
		r.DTypes = h.DTypes()
	}
	r.Metadata = h.Metadata
}
