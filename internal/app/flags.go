package app

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/llmc/internal/entropy"
	"github.com/samcharles93/llmc/pkg/container"
	"github.com/samcharles93/llmc/pkg/llmc"
)

// settings holds the flag destinations of one tool invocation.
type settings struct {
	pipeline container.Pipeline

	compress   bool
	decompress bool
	layout     string
	configFile string

	float16 bool

	backend        string
	level          int
	workers        int
	windowLog      int
	noLongDistance bool
	blockSize      int

	logLevel  string
	logFormat string
	debug     bool

	cfg Config
}

func newSettings(p container.Pipeline) *settings {
	return &settings{pipeline: p}
}

func (s *settings) lossless() bool {
	return s.pipeline == container.PipelineLossless
}

func (s *settings) modeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "compress",
			Aliases:     []string{"c"},
			Usage:       "compress <input> into <output>",
			Destination: &s.compress,
		},
		&cli.BoolFlag{
			Name:        "decompress",
			Aliases:     []string{"d"},
			Usage:       "decompress <input> into <output>",
			Destination: &s.decompress,
		},
		&cli.StringFlag{
			Name:        "layout",
			Usage:       "container layout (auto, tagged, legacy)",
			Value:       "auto",
			Destination: &s.layout,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config file",
			Value:       configPath(),
			Destination: &s.configFile,
		},
	}
}

func (s *settings) lossyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "float16",
			Aliases:     []string{"f16"},
			Usage:       "store values as IEEE half precision instead of 8-bit codes",
			Destination: &s.float16,
		},
	}
}

func (s *settings) losslessFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "entropy backend (zstd, lz4, none)",
			Value:       entropy.TagZstd.String(),
			Destination: &s.backend,
		},
		&cli.IntFlag{
			Name:        "level",
			Usage:       "backend compression level",
			Value:       entropy.DefaultLevel,
			Destination: &s.level,
		},
		&cli.IntFlag{
			Name:        "workers",
			Usage:       "encoder goroutines",
			Value:       entropy.DefaultWorkers(),
			Destination: &s.workers,
		},
		&cli.IntFlag{
			Name:        "window-log",
			Usage:       "log2 of the long-distance match window",
			Value:       entropy.DefaultWindowLog,
			Destination: &s.windowLog,
		},
		&cli.BoolFlag{
			Name:        "no-long-distance",
			Usage:       "disable long-distance matching",
			Destination: &s.noLongDistance,
		},
		&cli.IntFlag{
			Name:        "block-size",
			Usage:       "split the payload into blocks of this many bytes (0 = one block)",
			Destination: &s.blockSize,
		},
	}
}

func (s *settings) loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &s.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &s.logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &s.debug,
		},
	}
}

// options turns the flags into pipeline options for a compress run.
func (s *settings) options() (llmc.Options, error) {
	opts := llmc.DefaultOptions(s.pipeline)
	if s.lossless() {
		tag, err := entropy.ParseTag(s.backend)
		if err != nil {
			return opts, err
		}
		opts.Backend = tag
		opts.Entropy = s.entropyOptions()
		opts.BlockSize = s.blockSize
	} else if s.float16 {
		opts.Method = container.MethodFloat16
	}

	switch strings.ToLower(s.layout) {
	case "", "auto", "tagged":
		opts.Layout = container.LayoutTagged
	case "legacy":
		opts.Layout = container.LegacyFor(s.pipeline)
	default:
		return opts, fmt.Errorf("unknown layout %q (want auto, tagged or legacy)", s.layout)
	}
	return opts, opts.Validate()
}

func (s *settings) entropyOptions() entropy.Options {
	return entropy.Options{
		Level:        s.level,
		Workers:      s.workers,
		LongDistance: !s.noLongDistance,
		WindowLog:    s.windowLog,
	}
}

// decodeLayout resolves the layout to read in. With "auto" the first bytes
// of the input pick between the tagged layout and this tool's legacy one.
func (s *settings) decodeLayout(head []byte) (container.Layout, error) {
	switch strings.ToLower(s.layout) {
	case "", "auto":
		if container.Detect(head) == container.LayoutTagged {
			return container.LayoutTagged, nil
		}
		return container.LegacyFor(s.pipeline), nil
	case "tagged":
		return container.LayoutTagged, nil
	case "legacy":
		return container.LegacyFor(s.pipeline), nil
	default:
		return 0, fmt.Errorf("unknown layout %q (want auto, tagged or legacy)", s.layout)
	}
}

// inspectLayout is decodeLayout for inspect, where "auto" also accepts raw
// tensor files.
func (s *settings) inspectLayout() (container.Layout, error) {
	switch strings.ToLower(s.layout) {
	case "", "auto":
		return container.LayoutAuto, nil
	case "tagged":
		return container.LayoutTagged, nil
	case "legacy":
		return container.LegacyFor(s.pipeline), nil
	default:
		return 0, fmt.Errorf("unknown layout %q (want auto, tagged or legacy)", s.layout)
	}
}
