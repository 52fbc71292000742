package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/marketplace/internal/cart"
	"github.com/vasiliy-maslov/marketplace/internal/catalog"
	"github.com/vasiliy-maslov/marketplace/internal/config"
	"github.com/vasiliy-maslov/marketplace/internal/db"
	"github.com/vasiliy-maslov/marketplace/internal/events"
	handler "github.com/vasiliy-maslov/marketplace/internal/handler/http"
	"github.com/vasiliy-maslov/marketplace/internal/memstore"
	"github.com/vasiliy-maslov/marketplace/internal/observability"
	"github.com/vasiliy-maslov/marketplace/internal/order"
	"github.com/vasiliy-maslov/marketplace/internal/user"
)

type repositories struct {
	users    user.Repository
	products catalog.Repository
	carts    cart.Repository
	orders   order.Repository
	close    func()
}

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	setupLogger(cfg.Log, cfg.Telemetry.ServiceName)
	log.Info().Str("storage", cfg.App.Storage).Msg("Marketplace starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up telemetry")
	}

	repos, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}

	publisher := newPublisher(cfg.Kafka)

	cartSvc := cart.NewService(repos.carts, repos.users, repos.products)
	orderSvc := order.NewService(repos.orders, repos.users, publisher)
	productSvc := catalog.NewService(repos.products)

	router := handler.NewRouter(
		handler.NewCartHandler(cartSvc),
		handler.NewOrderHandler(orderSvc),
		handler.NewProductHandler(productSvc),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close event publisher")
	}
	repos.close()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to flush telemetry")
	}

	log.Info().Msg("Server stopped")
}

func setupLogger(cfg config.LogConfig, service string) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", service).Logger()
}

func openStorage(ctx context.Context, cfg *config.Config) (*repositories, error) {
	if cfg.App.Storage == config.StorageMemory {
		store := memstore.New()
		if cfg.App.SeedFile != "" {
			seed, err := memstore.LoadSeedFile(cfg.App.SeedFile)
			if err != nil {
				return nil, err
			}
			store.Apply(seed)
		}
		return &repositories{
			users:    store,
			products: store,
			carts:    store,
			orders:   store,
			close:    func() {},
		}, nil
	}

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(cfg.Postgres.MigrationsPath, cfg.Postgres.SSLMode); err != nil {
		pg.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &repositories{
		users:    user.NewRepository(pg.Pool),
		products: catalog.NewRepository(pg.Pool),
		carts:    cart.NewRepository(pg.Pool),
		orders:   order.NewRepository(pg.Pool, pg.Reader),
		close:    pg.Close,
	}, nil
}

func newPublisher(cfg config.KafkaConfig) events.Publisher {
	if len(cfg.Brokers) == 0 {
		log.Info().Msg("No Kafka brokers configured, order events are not published")
		return events.NopPublisher{}
	}
	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("Publishing order events to Kafka")
	return events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Brokers, cfg.Topic))
}
