package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"parkngo/backend/libs/token"
	"parkngo/backend/parking"
	"parkngo/backend/services/meter-service/internal/clients"
	"parkngo/backend/services/meter-service/internal/config"
	"parkngo/backend/services/meter-service/internal/service"
	"parkngo/backend/store"
)

// App wires meter-service dependencies. The meter has no inbound surface; it
// is a ticker over the shared store plus an outbound client to payments.
type App struct {
	meter  *service.MeterService
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
	tokens := token.NewService(cfg.Auth.Secret, 5*time.Minute)
	payments := clients.NewPaymentsClient(cfg.Payments.BaseURL, tokens, logger)
	meter := service.NewMeterService(records, payments, cfg.Tariff, cfg.Tick.Interval, logger)

	return &App{
		meter:  meter,
		docs:   docs,
		logger: logger,
	}, nil
}

// Run ticks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.meter.Run(ctx)
	return nil
}

// Close releases resources.
func (a *App) Close() {
	if a.docs != nil {
		if err := a.docs.Close(); err != nil {
			a.logger.Warn("failed to close store", zap.Error(err))
		}
	}
}
