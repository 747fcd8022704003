package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/weftml/weft/internal/api"
	"github.com/weftml/weft/internal/engine"
	"github.com/weftml/weft/internal/engine/toy"
	"github.com/weftml/weft/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		embedDim    int64
		maxContext  int64
		engineSeed  int64
		logLevel    string
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the generation API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "embed-dim",
				Usage:       "demo engine embedding dimensionality",
				Value:       16,
				Destination: &embedDim,
			},
			&cli.Int64Flag{
				Name:        "max-context",
				Aliases:     []string{"ctx", "c"},
				Usage:       "demo engine max context length",
				Value:       512,
				Destination: &maxContext,
			},
			&cli.Int64Flag{
				Name:        "engine-seed",
				Usage:       "demo engine weight seed",
				Destination: &engineSeed,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Value:       "info",
				Destination: &logLevel,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyServeConfig(cmd, cfg, &addr, &embedDim, &maxContext)
			if cfg.LogLevel != "" && !cmd.IsSet("log-level") {
				logLevel = cfg.LogLevel
			}

			log := logger.JSON(os.Stderr, logger.ParseLevel(logLevel))

			factory := api.EngineFactory(func() (engine.Engine, error) {
				return toy.New(toy.Config{
					Dim:        int(embedDim),
					MaxContext: int(maxContext),
					Seed:       engineSeed,
				}), nil
			})

			server := api.NewServer(factory, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr)
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
