package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/cmd/migrate"
	"github.com/chirino/chat-service/internal/cmd/serve"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app().Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func app() *cli.Command {
	var level, format string
	return &cli.Command{
		Name:  "chat-service",
		Usage: "Real-time AI conversation service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Destination: &level,
				Value:       "info",
				Usage:       "Minimum log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("CHAT_SERVICE_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:        "log-format",
				Destination: &format,
				Value:       "text",
				Usage:       "Log output format (text, json, logfmt)",
				Sources:     cli.EnvVars("CHAT_SERVICE_LOG_FORMAT"),
			},
		},
		Before: func(ctx context.Context, _ *cli.Command) (context.Context, error) {
			return ctx, configureLogging(level, format)
		},
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
		},
	}
}

// configureLogging sets up the process-wide logger every package logs through.
func configureLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	switch format {
	case "text":
		log.SetFormatter(log.TextFormatter)
	case "json":
		log.SetFormatter(log.JSONFormatter)
	case "logfmt":
		log.SetFormatter(log.LogfmtFormatter)
	default:
		return fmt.Errorf("invalid --log-format %q: want text, json or logfmt", format)
	}
	log.SetLevel(lvl)
	log.SetReportTimestamp(true)
	return nil
}
