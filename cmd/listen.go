package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"go-realtime-delivery/internal/client"
	"go-realtime-delivery/internal/infrastructure/hub"
	"go-realtime-delivery/internal/infrastructure/logger"
)

type listenArgs struct {
	URL         string
	Token       string
	Transport   string
	MaxFailures int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

func listenCommand() *cli.Command {
	var args listenArgs
	return &cli.Command{
		Name:        "listen",
		Usage:       "Tail an event stream",
		Description: "Connects to a running server and prints every event as a JSON line, reconnecting on failure",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "url",
				Usage:       "Stream URL, e.g. http://localhost:8080/events or ws://localhost:8080/ws",
				Value:       "http://localhost:8080/events",
				Destination: &args.URL,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "Bearer token",
				EnvVars:     []string{"REALTIME_TOKEN"},
				Required:    true,
				Destination: &args.Token,
			},
			&cli.StringFlag{
				Name:        "transport",
				Usage:       "Transport: [sse websocket]",
				Value:       hub.TransportSSE,
				Destination: &args.Transport,
			},
			&cli.IntFlag{
				Name:        "max-failures",
				Usage:       "Consecutive failed attempts before giving up; 0 retries forever",
				Value:       10,
				Destination: &args.MaxFailures,
			},
			&cli.DurationFlag{
				Name:        "min-backoff",
				Value:       time.Second,
				Destination: &args.MinBackoff,
			},
			&cli.DurationFlag{
				Name:        "max-backoff",
				Value:       30 * time.Second,
				Destination: &args.MaxBackoff,
			},
		},
		Action: func(c *cli.Context) error {
			return runListener(c, args)
		},
	}
}

func runListener(c *cli.Context, args listenArgs) error {
	logCfg := logger.NewDefaultConfig()
	logCfg.Output = "stderr"
	if cmdArgs.LogLevel != "" {
		logCfg.Level = cmdArgs.LogLevel
	}
	if cmdArgs.JSONLog {
		logCfg.Format = "json"
	}
	log := logger.NewLogrusLogger(logCfg)

	var dialer client.Dialer
	switch args.Transport {
	case hub.TransportSSE:
		dialer = &client.HTTPDialer{URL: args.URL, Token: args.Token}
	case hub.TransportWebSocket:
		dialer = &client.WebSocketDialer{URL: args.URL, Token: args.Token}
	default:
		return fmt.Errorf("unknown transport %q", args.Transport)
	}

	agent, err := client.New(client.Config{
		Dialer:                 dialer,
		MinBackoff:             args.MinBackoff,
		MaxBackoff:             args.MaxBackoff,
		Jitter:                 true,
		MaxConsecutiveFailures: args.MaxFailures,
		Logger:                 log,
	})
	if err != nil {
		return err
	}

	agent.OnStatus(func(s client.Status) {
		log.Infof("Stream status: %s", s)
	})
	out := json.NewEncoder(os.Stdout)
	agent.Subscribe(client.AnyEvent, func(e *hub.Event) {
		if e.Type == string(hub.EventHeartbeat) {
			return
		}
		if err := out.Encode(e); err != nil {
			log.Warnf("Failed to print event: %v", err)
		}
	})

	return agent.Run(WithSignal(c.Context))
}
