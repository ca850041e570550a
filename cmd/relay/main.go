package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	agentcli "github.com/relayworks/relay/pkg/agent/cli"
	"github.com/relayworks/relay/pkg/automation"
	"github.com/relayworks/relay/pkg/cmd"
	"github.com/relayworks/relay/pkg/engine"
	"github.com/relayworks/relay/pkg/log"
	"github.com/relayworks/relay/pkg/otelhelper"
	"github.com/relayworks/relay/pkg/status/github"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "relay",
		Usage:                 "Run workflow pipelines and issue automations",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file:// or redis://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (memory, kafka)",
				Value:   "memory",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "agent-binary",
				Usage:   "Path to the LLM agent binary",
				Value:   "llm",
				Sources: cli.EnvVars("AGENT_BINARY"),
			},
			&cli.StringFlag{
				Name:    "github-token",
				Usage:   "Token used to push issue status labels",
				Sources: cli.EnvVars("GITHUB_TOKEN"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("relay")

	logger.InfoContext(ctx, "Initializing Relay")

	store, err := cmd.NewPersistence(command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), "relay", logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	registry, err := cmd.NewRegistry(logger)
	if err != nil {
		return err
	}

	llmAgent, err := agentcli.New(agentcli.Config{
		BinaryPath: command.String("agent-binary"),
	})
	if err != nil {
		return err
	}

	eng := engine.New(store, eventBus, llmAgent, registry, logger)

	pusher := github.NewPusher(ctx, command.String("github-token"), logger)
	runner := automation.NewRunner(store, eng, pusher, logger)

	if command.Bool("tracing") {
		tracer, err := otelhelper.NewTracer(ctx, "relay")
		if err != nil {
			return err
		}

		eng.WithTracer(tracer)
		runner.WithTracer(tracer)
	}

	api := NewAPI(logger, store, eng, runner)

	return api.Start(command.Int("port"))
}
