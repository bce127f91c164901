package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tidewire/tidewire/pkg/audit"
	"github.com/tidewire/tidewire/pkg/auth"
	"github.com/tidewire/tidewire/pkg/cmd"
	"github.com/tidewire/tidewire/pkg/credentials"
	"github.com/tidewire/tidewire/pkg/log"
	"github.com/tidewire/tidewire/pkg/mailer"
	"github.com/tidewire/tidewire/pkg/metrics"
	"github.com/tidewire/tidewire/pkg/notify"
	"github.com/tidewire/tidewire/pkg/otelhelper"
	"github.com/tidewire/tidewire/pkg/services"
	"github.com/tidewire/tidewire/pkg/triggers/webhook"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPort         = 9091
	defaultInviteExpiry = 7 * 24 * time.Hour
)

func main() {
	command := &cli.Command{
		Name:                  "tidewire-api",
		Usage:                 "Manage workflows, their activation and the users who own them",
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
				Usage:    "Database connection URL for persistence (postgres://... or a directory path)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka broker addresses",
				Value:   []string{"localhost:9092"},
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "lock-backend",
				Usage:   "Lock backend (memory, redis). With redis, replicas wait as standbys until they own trigger activation",
				Value:   "memory",
				Sources: cli.EnvVars("LOCK_BACKEND"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for distributed locks and queue triggers",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "Public URL used in invitation links",
				Value:   "http://localhost:9091",
				Sources: cli.EnvVars("BASE_URL"),
			},
			&cli.StringFlag{
				Name:     "invite-secret",
				Usage:    "Secret used to sign invitation tokens",
				Required: true,
				Sources:  cli.EnvVars("INVITE_SECRET"),
			},
			&cli.DurationFlag{
				Name:    "invite-expiry",
				Usage:   "How long invitation links stay valid",
				Value:   defaultInviteExpiry,
				Sources: cli.EnvVars("INVITE_EXPIRY"),
			},
			&cli.StringFlag{
				Name:    "owner-email",
				Usage:   "Email of the instance owner created on first start",
				Sources: cli.EnvVars("OWNER_EMAIL"),
			},
			&cli.StringFlag{
				Name:    "owner-password",
				Usage:   "Password of the instance owner",
				Sources: cli.EnvVars("OWNER_PASSWORD"),
			},
			&cli.StringFlag{
				Name:    "owner-api-key",
				Usage:   "API key of the instance owner, generated when empty",
				Sources: cli.EnvVars("OWNER_API_KEY"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("api")
	logger.InfoContext(ctx, "Initializing Tidewire API")

	var tracer trace.Tracer = otelhelper.NoopTracer()

	if command.Bool("otel-enabled") {
		otelTracer, shutdown, err := otelhelper.NewTracer(ctx, "tidewire-api")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
			}
		}()

		tracer = otelTracer
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	if err := services.EnsureRoles(ctx, persistence.Roles()); err != nil {
		return err
	}

	redisClient, err := cmd.NewRedisClient(command.String("redis-url"))
	if err != nil {
		return err
	}

	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.ErrorContext(ctx, "Failed to close redis client", "error", err)
			}
		}()
	}

	channel, err := cmd.NewEventChannel(command.String("event-bus"), command.StringSlice("kafka-brokers"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := channel.Bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	m := metrics.New()

	if err := audit.NewRecorder(logger, m).Register(channel.Bus); err != nil {
		return err
	}

	if err := channel.Bus.Subscribe(ctx); err != nil {
		return err
	}

	router := webhook.NewRouter(logger)

	registry, err := cmd.NewActivationRegistry(logger, channel.Bus, m, router, channel.NewSubscriber, redisClient)
	if err != nil {
		return err
	}

	defer registry.Close(context.WithoutCancel(ctx))

	dispatcher := notify.NewDispatcher(logger, channel.Bus, m, notify.Options{})
	defer func() {
		if err := dispatcher.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to drain notifications", "error", err)
		}
	}()

	locker, err := cmd.NewLocker(command.String("lock-backend"), redisClient, logger)
	if err != nil {
		return err
	}

	ctx, releaseOwnership, err := cmd.HoldActivationOwnership(ctx, locker, logger)
	if err != nil {
		return err
	}
	defer releaseOwnership()

	tokens, err := auth.NewInviteTokens(command.String("invite-secret"), command.Duration("invite-expiry"))
	if err != nil {
		return err
	}

	ledger := services.NewLedger(persistence, registry, locker, logger)

	workflows := services.NewWorkflow(services.WorkflowConfig{
		Persistence: persistence,
		Ledger:      ledger,
		Activator:   registry,
		Repairer:    credentials.NewRepairer(persistence.Credentials(), logger),
		Locker:      locker,
		Notifier:    dispatcher,
		Metrics:     m,
		Tracer:      tracer,
		Logger:      logger,
	})

	users := services.NewUsers(services.UsersConfig{
		Persistence: persistence,
		Ledger:      ledger,
		Mailer:      mailer.NewLogMailer(logger),
		Tokens:      tokens,
		Notifier:    dispatcher,
		Metrics:     m,
		Tracer:      tracer,
		BaseURL:     command.String("base-url"),
		Logger:      logger,
	})

	if email := command.String("owner-email"); email != "" {
		owner, created, err := users.EnsureOwner(ctx, email, command.String("owner-password"), command.String("owner-api-key"))
		if err != nil {
			return err
		}

		if created {
			logger.InfoContext(ctx, "Created instance owner", "email", owner.Email, "user_id", owner.ID)
		}
	}

	registered, err := workflows.Reconcile(ctx)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Registered active workflows", "count", registered)

	api := NewAPI(logger, persistence, workflows, users, router, registry, m)

	if err := api.Start(ctx, command.Int("port")); err != nil {
		return err
	}

	if cause := context.Cause(ctx); errors.Is(cause, cmd.ErrActivationOwnershipLost) {
		return cause
	}

	return nil
}
