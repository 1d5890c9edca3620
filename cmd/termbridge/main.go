package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"github.com/webpad/termbridge/bridge"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	app := &cli.App{
		Name:  "termbridge",
		Usage: "terminal session bridge for the browser workspace",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "The address for the HTTP server to listen on.",
				Value: "127.0.0.1:8088",
			},
			&cli.StringFlag{
				Name:  "shell",
				Usage: "The shell binary for new sessions. Defaults to $SHELL, then /bin/bash.",
			},
			&cli.StringFlag{
				Name:  "workdir",
				Usage: "The working directory for new shells. Defaults to the server's.",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level. One of [debug,info,warn,error].",
				Value: "info",
			},
			&cli.BoolFlag{
				Name:  "log-prod",
				Usage: "Use production (JSON) logging instead of the development console encoder.",
			},
		},
		Action: func(ctx *cli.Context) error {
			level, err := zapcore.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return fmt.Errorf("parsing log level: %w", err)
			}

			var logger *zap.Logger
			if ctx.Bool("log-prod") {
				logger, err = zap.NewProduction()
			} else {
				logger, err = zap.NewDevelopment()
			}
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}

			b, err := bridge.New(
				bridge.WithLogger(logger),
				bridge.WithLogLevel(level),
				bridge.WithListenAddr(ctx.String("listen-addr")),
				bridge.WithShell(ctx.String("shell")),
				bridge.WithWorkDir(ctx.String("workdir")),
			)
			if err != nil {
				return fmt.Errorf("building bridge: %w", err)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				logger.Sugar().Infof("got signal %s, shutting down", sig)
				b.Stop()
			}()

			logger.Sugar().Infof("listening on %s", ctx.String("listen-addr"))
			return b.Run()
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
