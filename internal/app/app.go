// Package app builds the llmc (lossy) and llmcz (lossless) command-line
// tools. Both share one flag set, config file and logging setup; they differ
// in the pipeline they run and the tuning flags they expose.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/llmc/internal/logger"
	"github.com/samcharles93/llmc/pkg/container"
	"github.com/samcharles93/llmc/pkg/llmc"
)

// NewLossyCommand returns the llmc tool.
func NewLossyCommand() *cli.Command {
	s := newSettings(container.PipelineLossy)
	cmd := s.command("llmc", "Lossy tensor-weight codec (8-bit quantization or float16)")
	cmd.Flags = append(cmd.Flags, s.lossyFlags()...)
	cmd.Commands = []*cli.Command{
		s.inspectCmd(),
		s.serveCmd(),
		versionCmd(),
	}
	return cmd
}

// NewLosslessCommand returns the llmcz tool.
func NewLosslessCommand() *cli.Command {
	s := newSettings(container.PipelineLossless)
	cmd := s.command("llmcz", "Lossless tensor-weight codec (XOR delta + entropy coding)")
	cmd.Flags = append(cmd.Flags, s.losslessFlags()...)
	cmd.Commands = []*cli.Command{
		s.inspectCmd(),
		versionCmd(),
	}
	return cmd
}

func (s *settings) command(name, usage string) *cli.Command {
	flags := append(s.modeFlags(), s.loggingFlags()...)
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<input> <output>",
		Flags:     flags,
		Before:    s.before,
		Action:    s.run,
	}
}

// before loads the config file and installs the logger in the context.
func (s *settings) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(s.configFile, cmd.IsSet("config"))
	if err != nil {
		return ctx, err
	}
	s.cfg = cfg
	s.apply(cmd, cfg)

	log, err := s.newLogger(errWriter(cmd))
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}

func (s *settings) newLogger(w io.Writer) (logger.Logger, error) {
	level, err := logger.ParseLevel(s.logLevel)
	if err != nil {
		return nil, err
	}
	if s.debug {
		level = slog.LevelDebug
	}
	format, err := logger.ParseFormat(s.logFormat)
	if err != nil {
		return nil, err
	}
	return logger.NewWithFormat(w, format, level), nil
}

func (s *settings) run(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args()
	switch {
	case s.compress && s.decompress:
		return errors.New("-c and -d are mutually exclusive")
	case !s.compress && !s.decompress:
		if args.Len() == 0 {
			return cli.ShowAppHelp(cmd)
		}
		return errors.New("specify -c to compress or -d to decompress")
	case args.Len() != 2:
		return fmt.Errorf("expected <input> <output>, got %d arguments", args.Len())
	}

	in, out := args.Get(0), args.Get(1)
	if s.compress {
		return s.runCompress(ctx, cmd, in, out)
	}
	return s.runDecompress(ctx, cmd, in, out)
}

func (s *settings) runCompress(ctx context.Context, cmd *cli.Command, in, out string) error {
	opts, err := s.options()
	if err != nil {
		return err
	}
	stats, err := llmc.CompressFile(ctx, in, out, opts)
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Debug("compress finished",
		"layout", stats.Layout.String(),
		"values", stats.NumValues,
		"blocks", stats.NumBlocks,
		"elapsed", stats.Elapsed,
	)
	_, _ = fmt.Fprintf(outWriter(cmd), "%s: %s -> %s (%.2fx, %s, %s)\n",
		out, formatBytes(uint64(stats.InputSize)), formatBytes(uint64(stats.OutputSize)),
		stats.Ratio(), describeMethod(stats), stats.Elapsed.Round(time.Millisecond))
	return nil
}

func (s *settings) runDecompress(ctx context.Context, cmd *cli.Command, in, out string) error {
	head, err := peek(in, len(container.Magic))
	if err != nil {
		return fmt.Errorf("%w: %w", llmc.ErrIO, err)
	}
	layout, err := s.decodeLayout(head)
	if err != nil {
		return err
	}
	stats, err := llmc.DecompressFile(ctx, in, out, layout)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(outWriter(cmd), "%s: %s -> %s (%s, %s)\n",
		out, formatBytes(uint64(stats.InputSize)), formatBytes(uint64(stats.OutputSize)),
		describeMethod(stats), stats.Elapsed.Round(time.Millisecond))
	return nil
}

func describeMethod(stats llmc.Stats) string {
	if stats.Pipeline == container.PipelineLossless {
		return stats.Method.String() + "+" + stats.Backend.String()
	}
	return stats.Method.String()
}

// peek returns up to n leading bytes of the file at path.
func peek(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	buf := make([]byte, n)
	got, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf[:got], nil
}

func outWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}
