package app

import (
	"context"

	"go.uber.org/zap"

	"parkngo/backend/parking"
	"parkngo/backend/services/ingest-service/internal/config"
	httpserver "parkngo/backend/services/ingest-service/internal/http"
	"parkngo/backend/services/ingest-service/internal/http/handlers"
	"parkngo/backend/services/ingest-service/internal/service"
	"parkngo/backend/services/ingest-service/internal/ws"
	"parkngo/backend/store"
)

// App wires ingest-service dependencies.
type App struct {
	server *httpserver.Server
	feed   *ws.Feed
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
	ingestService := service.NewIngestService(records, cfg.Tariff, logger)

	hub := ws.NewHub(logger)
	feed := ws.NewFeed(hub, ingestService, cfg.Feed.Interval, logger)

	routes := httpserver.Routes{
		IngestScan:     handlers.NewScanHandler(ingestService, cfg.Scan.Secret, logger),
		ActiveSessions: handlers.NewActiveSessionsHandler(ingestService),
		SessionFeed:    hub.HandleWS,
		Health:         handlers.NewHealthHandler(),
	}

	router := httpserver.NewRouter(routes)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server: server,
		feed:   feed,
		docs:   docs,
		logger: logger,
	}, nil
}

// Run starts the feed broadcaster and the HTTP server.
func (a *App) Run(ctx context.Context) error {
	go a.feed.Run(ctx)
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
