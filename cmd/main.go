package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v2"

	"go-realtime-delivery/internal/infrastructure/config"
	"go-realtime-delivery/internal/infrastructure/logger"
)

type cliArgs struct {
	JSONLog    bool
	LogLevel   string `validate:"omitempty,oneof=debug info warn error fatal"`
	ConfigFile string `validate:"omitempty,file"`
}

var cmdArgs cliArgs

func main() {
	app := &cli.App{
		Name:        "realtime",
		Usage:       "application entrypoint",
		Description: "Real-time event delivery over Server-Sent Events and WebSocket",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json-log",
				Usage:       "Whether to log in JSON format",
				Aliases:     []string{"j"},
				EnvVars:     []string{"LOG_AS_JSON"},
				Value:       false,
				Destination: &cmdArgs.JSONLog,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level: [debug info warn error]. Overrides the config file",
				Aliases:     []string{"l"},
				EnvVars:     []string{"LOG_LEVEL"},
				Destination: &cmdArgs.LogLevel,
			},
			&cli.StringFlag{
				Name:        "config-file",
				Usage:       "Application config file. Use defaults and environment if not specified",
				Aliases:     []string{"c"},
				EnvVars:     []string{"CONFIG_FILE"},
				Destination: &cmdArgs.ConfigFile,
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			listenCommand(),
			tokenCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "realtime: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig validates the global flags, loads the config and builds the
// logger it describes.
func loadConfig() (*config.Config, logger.Logger, error) {
	if err := validator.New().Struct(&cmdArgs); err != nil {
		return nil, nil, fmt.Errorf("invalid command line arguments: %w", err)
	}

	v := config.NewViper()
	if cmdArgs.LogLevel != "" {
		v.Set("log.level", cmdArgs.LogLevel)
	}
	if cmdArgs.JSONLog {
		v.Set("log.format", "json")
	}

	cfg, err := config.Load(v, cmdArgs.ConfigFile)
	if err != nil {
		return nil, nil, err
	}
	log := logger.NewLogrusLogger(&cfg.Log)
	return cfg, log, nil
}

// WithSignal returns a context cancelled on SIGINT or SIGTERM.
func WithSignal(pctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(pctx)

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)

		select {
		case <-sigc:
		case <-ctx.Done():
		}

		cancel()
	}()

	return ctx
}
