package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/llmc/internal/fsio"
	"github.com/samcharles93/llmc/pkg/llmc"
)

func (s *settings) inspectCmd() *cli.Command {
	var (
		asJSON     bool
		showBlocks bool
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Describe a container or raw tensor file without decoding its payload",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the report as JSON", Destination: &asJSON},
			&cli.BoolFlag{Name: "blocks", Usage: "list every block", Destination: &showBlocks},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return errors.New("inspect takes exactly one <file>")
			}
			path := cmd.Args().First()
			layout, err := s.inspectLayout()
			if err != nil {
				return err
			}

			f, err := fsio.Open(path)
			if err != nil {
				return fmt.Errorf("%w: %w", llmc.ErrIO, err)
			}
			defer func() { _ = f.Close() }()

			report, err := llmc.Inspect(f.Data, layout)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			w := outWriter(cmd)
			if asJSON {
				b, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(w, "%s\n", b)
				return err
			}
			printReport(w, path, report, showBlocks)
			return nil
		},
	}
}

func printReport(w io.Writer, path string, r *llmc.Report, showBlocks bool) {
	_, _ = fmt.Fprintf(w, "File:      %s (%s)\n", path, formatBytes(uint64(r.Size)))
	_, _ = fmt.Fprintf(w, "Kind:      %s\n", r.Kind)
	if r.Kind == llmc.KindContainer {
		layout := r.Layout
		if r.Version != "" {
			layout += " v" + r.Version
		}
		_, _ = fmt.Fprintf(w, "Layout:    %s\n", layout)
		_, _ = fmt.Fprintf(w, "Pipeline:  %s (%s, backend %s)\n", r.Pipeline, r.Method, r.Backend)
		_, _ = fmt.Fprintf(w, "Original:  %s (ratio %.2fx)\n", formatBytes(r.OriginalSize), r.Ratio)
		if r.Min != nil {
			_, _ = fmt.Fprintf(w, "Range:     %s\n", formatRange(r.Min, r.Max))
		}
		_, _ = fmt.Fprintf(w, "Blocks:    %d\n", len(r.Blocks))
		if showBlocks {
			for i, b := range r.Blocks {
				_, _ = fmt.Fprintf(w, "  [%d] %s -> %s\n", i, formatBytes(b.CompressedSize), formatBytes(b.OriginalSize))
			}
		}
	}
	_, _ = fmt.Fprintf(w, "Values:    %d\n", r.NumValues)
	_, _ = fmt.Fprintf(w, "Metadata:  %s, %d tensors, %d elements\n", formatBytes(r.MetadataSize), r.Tensors, r.Elements)

	if len(r.DTypes) > 0 {
		names := make([]string, 0, len(r.DTypes))
		for name := range r.DTypes {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			_, _ = fmt.Fprintf(w, "  %-6s %d\n", name, r.DTypes[name])
		}
	}
	if len(r.Metadata) > 0 {
		keys := make([]string, 0, len(r.Metadata))
		for k := range r.Metadata {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		_, _ = fmt.Fprintln(w, "Attributes:")
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "  %s = %s\n", k, r.Metadata[k])
		}
	}
}
