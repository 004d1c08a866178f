// Package main is the entry point for the walk-booking API server.
// Its sole responsibility is wiring dependencies together and starting the
// server. No business logic belongs here.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver for database/sql
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"

	"github.com/petmily/walk-engine/internal/config"
	"github.com/petmily/walk-engine/internal/domain"
	"github.com/petmily/walk-engine/internal/handler"
	"github.com/petmily/walk-engine/internal/middleware"
	"github.com/petmily/walk-engine/internal/notify"
	"github.com/petmily/walk-engine/internal/repo"
	"github.com/petmily/walk-engine/internal/scheduler"
	"github.com/petmily/walk-engine/internal/service"
	"github.com/petmily/walk-engine/migrations"
)

func main() {
	// --- Config -----------------------------------------------------------
	// .env is a local development convenience; in deployment the variables
	// come from the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	// --- Logger -----------------------------------------------------------
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// --- Database ---------------------------------------------------------
	if err := runMigrations(cfg.DatabaseURL); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(context.Background()); err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	slog.Info("database connection established")

	// --- Notifier ---------------------------------------------------------
	var notifier notify.Notifier
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			slog.Error("failed to connect to broker", "error", err)
			os.Exit(1)
		}
		defer amqpNotifier.Close() //nolint:errcheck // shutdown path
		notifier = amqpNotifier
		slog.Info("event notifier connected", "exchange", cfg.AMQPExchange)
	} else {
		notifier = notify.NopNotifier{Logger: logger}
		slog.Info("no broker configured, events will be logged and dropped")
	}

	// --- Services ---------------------------------------------------------
	bookingRepo := repo.NewBookingRepo(pool)
	applicationRepo := repo.NewApplicationRepo(pool)
	changeRepo := repo.NewChangeRequestRepo(pool)
	trackRepo := repo.NewTrackRepo(pool)
	emergencyRepo := repo.NewEmergencyRepo(pool)

	// One lock keyed by booking ID, shared by every service that mutates
	// booking state.
	locks := service.NewKeyLock()
	tracker := service.NewTracker(trackRepo, logger)

	bookingSvc := service.NewBookingService(bookingRepo, tracker, petDirectory{}, notifier, locks, logger, cfg.ExpiryGrace)
	matchingSvc := service.NewMatchingService(bookingRepo, applicationRepo, notifier, locks, logger)
	negotiationSvc := service.NewNegotiationService(bookingRepo, changeRepo, notifier, locks, logger)
	emergencySvc := service.NewEmergencyService(emergencyRepo, tracker, notifier, logger)

	// --- Expiry scheduler ---------------------------------------------------
	schedCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	if cfg.ExpiryInterval > 0 {
		go scheduler.New(bookingSvc, cfg.ExpiryInterval, logger).Start(schedCtx)
	}

	// --- Router -----------------------------------------------------------
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewSlogLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewCORSHandler(cfg.CORSOrigins))
	r.Use(middleware.NewMaxBodySizeHandler(cfg.MaxBodyBytes))

	r.Get("/healthz", handler.GetHealth)

	srv := handler.NewServer(bookingSvc, matchingSvc, negotiationSvc, tracker, emergencySvc)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityHandler())
		r.Mount("/", srv.Routes())
	})

	// --- HTTP Server ------------------------------------------------------
	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	slog.Info("shutting down server")
	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// runMigrations applies the embedded migrations through the goose provider.
// goose needs database/sql, so this opens its own short-lived connection
// instead of borrowing the pgx pool.
func runMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return err
	}
	results, err := provider.Up(context.Background())
	if err != nil {
		return err
	}
	for _, res := range results {
		slog.Info("migration applied", "source", res.Source.Path)
	}
	return nil
}

// petDirectory resolves pet profiles. The pet catalog itself lives in the
// surrounding platform; bookings only need the pet to exist, so this adapter
// accepts any well-formed pet ID and carries no profile data.
type petDirectory struct{}

func (petDirectory) Get(_ context.Context, petID uuid.UUID) (domain.PetSummary, error) {
	if petID == uuid.Nil {
		return domain.PetSummary{}, domain.ErrNotFound
	}
	return domain.PetSummary{ID: petID}, nil
}
