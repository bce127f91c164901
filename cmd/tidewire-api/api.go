// Package main provides the Tidewire API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/tidewire/tidewire/pkg/metrics"
	"github.com/tidewire/tidewire/pkg/persistence"
	"github.com/tidewire/tidewire/pkg/services"
	"github.com/tidewire/tidewire/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	workflows   *services.Workflow
	users       *services.Users
	webhooks    web.WebhookDispatcher
	activations web.ActiveWorkflows
	metrics     *metrics.Metrics
	validate    *validator.Validate
	app         *fiber.App
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	workflows *services.Workflow,
	users *services.Users,
	webhooks web.WebhookDispatcher,
	activations web.ActiveWorkflows,
	m *metrics.Metrics,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		workflows:   workflows,
		users:       users,
		webhooks:    webhooks,
		activations: activations,
		metrics:     m,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.workflows, a.users, a.webhooks, a.activations, a.validate)

	app := fiber.New()
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Tidewire API")
	})

	app.Get("/metrics", adaptor.HTTPHandler(a.metrics.Handler()))

	handlers.Mount(app, a.persistence.Users())

	return app
}

// Start serves until ctx is done, then shuts the server down.
func (a *API) Start(ctx context.Context, port int) error {
	a.app = a.App()

	errs := make(chan error, 1)

	go func() {
		errs <- a.app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	a.logger.InfoContext(ctx, "API listening", "port", port)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		a.logger.InfoContext(ctx, "Shutting down API")

		return a.app.ShutdownWithContext(context.WithoutCancel(ctx))
	}
}
