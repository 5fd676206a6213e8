package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"parkngo/backend/libs/token"
	"parkngo/backend/parking"
	"parkngo/backend/services/payments-service/internal/config"
	httpserver "parkngo/backend/services/payments-service/internal/http"
	"parkngo/backend/services/payments-service/internal/http/handlers"
	"parkngo/backend/services/payments-service/internal/http/middleware"
	"parkngo/backend/services/payments-service/internal/masumi"
	"parkngo/backend/services/payments-service/internal/service"
	"parkngo/backend/store"
)

// App wires payments-service dependencies.
type App struct {
	server *httpserver.Server
	poller *service.FundingPoller
	docs   store.Store
	logger *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	docs, err := store.Open(store.Options{
		Driver:        cfg.Store.Driver,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		PostgresDSN:   cfg.Store.PostgresDSN,
	})
	if err != nil {
		return nil, err
	}

	records := parking.NewRecords(docs)
	gateway := masumi.NewClient(
		cfg.Masumi.BaseURL,
		cfg.Masumi.APIKey,
		cfg.Masumi.Network,
		cfg.Masumi.AgentIdentifier,
		logger,
	)
	paymentsService := service.NewPaymentsService(records, gateway, logger)
	poller := service.NewFundingPoller(paymentsService, cfg.Funding.PollInterval, logger)

	tokens := token.NewService(cfg.Auth.Secret, 5*time.Minute)
	auth := middleware.InternalAuth(tokens)

	routes := httpserver.Routes{
		CreatePayment: auth(handlers.NewCreatePaymentHandler(paymentsService, logger)),
		Release:       auth(handlers.NewReleaseHandler(paymentsService, logger)),
		Health:        handlers.NewHealthHandler(),
	}

	router := httpserver.NewRouter(routes)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server: server,
		poller: poller,
		docs:   docs,
		logger: logger,
	}, nil
}

// Run starts the funding poller and the HTTP server.
func (a *App) Run(ctx context.Context) error {
	go a.poller.Run(ctx)
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.docs != nil {
		if err := a.docs.Close(); err != nil {
			a.logger.Warn("failed to close store", zap.Error(err))
		}
	}
}
