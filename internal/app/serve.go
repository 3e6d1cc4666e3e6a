package app

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/llmc/internal/api"
	"github.com/samcharles93/llmc/internal/logger"
)

func (s *settings) serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		maxBody     int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the codec over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "max-body",
				Usage:       "largest accepted request body and decompressed response, in bytes",
				Value:       api.DefaultMaxBodySize,
				Destination: &maxBody,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, s.cfg, &addr, &maxBody)
			log := logger.FromContext(ctx)

			server := api.NewServer(s.serverConfig(maxBody), log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "max_body_bytes", maxBody)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

// serverConfig builds the server defaults for lossless requests from the
// config file; llmc has no lossless tuning flags of its own.
func (s *settings) serverConfig(maxBody int64) api.Config {
	cfg := api.DefaultConfig()
	cfg.MaxBodySize = maxBody
	if v := s.cfg.Level; v != nil {
		cfg.Entropy.Level = *v
	}
	if v := s.cfg.Workers; v != nil {
		cfg.Entropy.Workers = *v
	}
	if v := s.cfg.WindowLog; v != nil {
		cfg.Entropy.WindowLog = *v
	}
	if v := s.cfg.LongDistance; v != nil {
		cfg.Entropy.LongDistance = *v
	}
	if v := s.cfg.BlockSize; v != nil {
		cfg.BlockSize = *v
	}
	return cfg
}
