// Package api exposes the codec over HTTP. Each request runs its own
// pipeline on the request body; the server keeps no state between requests.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/llmc/internal/entropy"
	"github.com/samcharles93/llmc/internal/logger"
	"github.com/samcharles93/llmc/internal/version"
	"github.com/samcharles93/llmc/pkg/container"
	"github.com/samcharles93/llmc/pkg/llmc"
)

// DefaultMaxBodySize caps request bodies unless Config says otherwise.
const DefaultMaxBodySize = 1 << 30

// Config holds server-wide defaults. Query parameters override them per
// request.
type Config struct {
	// MaxBodySize is the largest accepted request body, and the largest
	// reconstructed output of a decompress request.
	MaxBodySize int64

	// Entropy are the backend settings used for lossless requests.
	Entropy entropy.Options

	// BlockSize is the default lossless block size.
	BlockSize int
}

// DefaultConfig returns the settings `llmc serve` starts with.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: DefaultMaxBodySize,
		Entropy:     entropy.DefaultOptions(),
	}
}

type Server struct {
	cfg   Config
	log   logger.Logger
	clock func() time.Time
}

func NewServer(cfg Config, log logger.Logger) *Server {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		cfg:   cfg,
		log:   log,
		clock: time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.Use(requestID)

	e.GET("/healthz", s.handleHealth)
	e.GET("/version", s.handleVersion)

	e.POST("/v1/compress", s.handleCompress)
	e.POST("/v1/decompress", s.handleDecompress)
	e.POST("/v1/inspect", s.handleInspect)
}

// requestID propagates the caller's request ID or assigns a new one.
func requestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		id := c.Request().Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Response().Header().Set(HeaderRequestID, id)
		return next(c)
	}
}

// requestContext returns the request context carrying a logger tagged with
// the request ID.
func (s *Server) requestContext(c *echo.Context) context.Context {
	log := s.log.With("request_id", c.Response().Header().Get(HeaderRequestID))
	return logger.WithContext(c.Request().Context(), log)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleVersion(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, version.Resolve())
}

func (s *Server) handleCompress(c *echo.Context) error {
	opts, err := s.compressOptions(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	raw, err := s.body(c)
	if err != nil {
		return s.bodyError(c, err)
	}

	ctx := s.requestContext(c)
	start := s.clock()
	out, stats, err := llmc.Compress(ctx, raw, opts)
	if err != nil {
		logger.FromContext(ctx).Warn("compress failed", "error", err)
		return writeCodecError(c, err)
	}
	logger.FromContext(ctx).Info("compressed",
		"pipeline", stats.Pipeline.String(),
		"input_bytes", stats.InputSize,
		"output_bytes", stats.OutputSize,
		"elapsed", s.clock().Sub(start),
	)
	setStatsHeaders(c, stats)
	return writeBinary(c, out)
}

func (s *Server) handleDecompress(c *echo.Context) error {
	layout, err := parseLayout(c.QueryParam("layout"), c.QueryParam("pipeline"))
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	data, err := s.body(c)
	if err != nil {
		return s.bodyError(c, err)
	}

	ctx := s.requestContext(c)
	out, stats, err := llmc.DecompressLimit(ctx, data, layout, uint64(s.cfg.MaxBodySize))
	if err != nil {
		logger.FromContext(ctx).Warn("decompress failed", "error", err)
		return writeCodecError(c, err)
	}
	logger.FromContext(ctx).Info("decompressed",
		"pipeline", stats.Pipeline.String(),
		"input_bytes", stats.InputSize,
		"output_bytes", stats.OutputSize,
	)
	setStatsHeaders(c, stats)
	return writeBinary(c, out)
}

func (s *Server) handleInspect(c *echo.Context) error {
	layout := container.LayoutAuto
	if q := c.QueryParam("layout"); q != "" {
		var err error
		if layout, err = parseLayout(q, c.QueryParam("pipeline")); err != nil {
			return writeBadRequest(c, err.Error())
		}
	}
	data, err := s.body(c)
	if err != nil {
		return s.bodyError(c, err)
	}
	report, err := llmc.Inspect(data, layout)
	if err != nil {
		return writeCodecError(c, err)
	}
	return writeJSON(c, http.StatusOK, report)
}

func (s *Server) body(c *echo.Context) ([]byte, error) {
	return readBody(c, s.cfg.MaxBodySize)
}

func (s *Server) bodyError(c *echo.Context, err error) error {
	if err == errBodyTooLarge {
		return writeError(c, http.StatusRequestEntityTooLarge, errTypeTooLarge,
			"request body exceeds "+strconv.FormatInt(s.cfg.MaxBodySize, 10)+" bytes")
	}
	return writeBadRequest(c, "read request body: "+err.Error())
}

// compressOptions builds pipeline options from the query string:
// pipeline, method, backend, level, workers, block_size and layout.
func (s *Server) compressOptions(c *echo.Context) (llmc.Options, error) {
	pipeline, err := parsePipeline(c.QueryParam("pipeline"))
	if err != nil {
		return llmc.Options{}, err
	}
	opts := llmc.DefaultOptions(pipeline)

	if pipeline == container.PipelineLossless {
		opts.Entropy = s.cfg.Entropy
		opts.BlockSize = s.cfg.BlockSize
		if q := c.QueryParam("backend"); q != "" {
			if opts.Backend, err = entropy.ParseTag(q); err != nil {
				return opts, newInvalidRequest("%s", err.Error())
			}
		}
		if opts.Entropy.Level, err = queryInt(c, "level", opts.Entropy.Level); err != nil {
			return opts, err
		}
		if opts.Entropy.Workers, err = queryInt(c, "workers", opts.Entropy.Workers); err != nil {
			return opts, err
		}
		if opts.BlockSize, err = queryInt(c, "block_size", opts.BlockSize); err != nil {
			return opts, err
		}
	} else if q := c.QueryParam("backend"); q != "" && q != entropy.TagNone.String() {
		return opts, newInvalidRequest("the lossy pipeline has no entropy backend")
	}

	switch strings.ToLower(c.QueryParam("method")) {
	case "":
	case "quantized", "q8":
		opts.Method = container.MethodQuantized
	case "float16", "f16":
		opts.Method = container.MethodFloat16
	case "xor-delta", "xor":
		opts.Method = container.MethodXORDelta
	default:
		return opts, newInvalidRequest("unknown method %q", c.QueryParam("method"))
	}

	switch strings.ToLower(c.QueryParam("layout")) {
	case "", "tagged", "auto":
		opts.Layout = container.LayoutTagged
	case "legacy":
		opts.Layout = container.LegacyFor(pipeline)
	default:
		return opts, newInvalidRequest("unknown layout %q", c.QueryParam("layout"))
	}

	if err := opts.Validate(); err != nil {
		return opts, newInvalidRequest("%s", err.Error())
	}
	return opts, nil
}

func parsePipeline(v string) (container.Pipeline, error) {
	switch strings.ToLower(v) {
	case "", "lossy":
		return container.PipelineLossy, nil
	case "lossless":
		return container.PipelineLossless, nil
	default:
		return 0, newInvalidRequest("unknown pipeline %q", v)
	}
}

// parseLayout resolves the layout query parameter. "legacy" needs the
// pipeline to pick between the two legacy layouts.
func parseLayout(layout, pipeline string) (container.Layout, error) {
	switch strings.ToLower(layout) {
	case "", "auto", "tagged":
		return container.LayoutAuto, nil
	case "legacy":
		p, err := parsePipeline(pipeline)
		if err != nil {
			return 0, err
		}
		return container.LegacyFor(p), nil
	default:
		return 0, newInvalidRequest("unknown layout %q", layout)
	}
}

func setStatsHeaders(c *echo.Context, stats llmc.Stats) {
	h := c.Response().Header()
	h.Set(HeaderInputSize, strconv.Itoa(stats.InputSize))
	h.Set(HeaderOutputSize, strconv.Itoa(stats.OutputSize))
	h.Set(HeaderPipeline, stats.Pipeline.String())
	h.Set(HeaderMethod, stats.Method.String())
	h.Set(HeaderBackend, stats.Backend.String())
	if stats.DeltaOverflow > 0 {
		h.Set(HeaderDeltaOverflow, strconv.Itoa(stats.DeltaOverflow))
	}
}
