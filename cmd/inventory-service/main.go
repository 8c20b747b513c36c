package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/stockline/stockline-backend/internal/inventory/consumers"
	"github.com/stockline/stockline-backend/internal/inventory/events"
	"github.com/stockline/stockline-backend/internal/inventory/handler"
	"github.com/stockline/stockline-backend/internal/inventory/repository"
	"github.com/stockline/stockline-backend/internal/inventory/repository/memory"
	"github.com/stockline/stockline-backend/internal/inventory/service"
	"github.com/stockline/stockline-backend/pkg/auth"
	"github.com/stockline/stockline-backend/pkg/config"
	"github.com/stockline/stockline-backend/pkg/database"
	"github.com/stockline/stockline-backend/pkg/httputil"
	"github.com/stockline/stockline-backend/pkg/lock"
	"github.com/stockline/stockline-backend/pkg/logger"
	"github.com/stockline/stockline-backend/pkg/messaging"
	"github.com/stockline/stockline-backend/pkg/metrics"
	"github.com/stockline/stockline-backend/pkg/tracing"
)

const serviceName = "inventory-service"

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Str("driver", cfg.Database.Driver).Msg("starting Inventory Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, serviceName, cfg.Server.Environment)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise tracing")
	}

	// Storage
	var (
		stores service.Stores
		db     *database.DB
	)
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn().Msg("using in-memory stores, state is lost on restart")
		stores = memory.NewStores()
	} else {
		db, err = database.New(&cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if cfg.Database.AutoMigrate {
			if err := repository.Migrate(ctx, db); err != nil {
				log.Fatal().Err(err).Msg("failed to apply schema")
			}
		}
		stores = repository.NewStores(db)
	}

	// Messaging is optional; without it events are dropped and order events are not consumed.
	var (
		rmq       *messaging.RabbitMQ
		publisher *events.InventoryEventPublisher
	)
	if cfg.RabbitMQ.Enabled {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		publisher, err = events.NewInventoryEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	} else {
		log.Warn().Msg("RabbitMQ disabled, inventory events will not be published")
	}

	// Sweeper leadership across replicas
	var locker lock.Locker
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, "stockline:")
	}

	m := metrics.New("stockline")

	// Services
	monitor := service.NewThresholdMonitor(publisher, m, log)
	stockService := service.NewStockService(stores.Ledger, monitor, publisher, m, log)
	reservationService := service.NewReservationService(stockService, stores.Reservations, publisher, cfg.Reservation, m, log)
	allocationService := service.NewAllocationService(stores.Pools, stores.Locations, stores.Allocations, stockService, reservationService, m, log)
	transferService := service.NewTransferService(stockService, stores.Transfers, publisher, m, log)
	locationService := service.NewLocationService(stores.Locations, log)
	sweeper := service.NewExpirySweeper(reservationService, stores.Reservations, locker, cfg.Reservation, m, log)

	sweeper.Start(ctx)
	defer sweeper.Stop()

	if rmq != nil {
		orderConsumer, err := consumers.NewOrderEventConsumer(rmq, reservationService, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create order event consumer")
		}
		if err := orderConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start order event consumer")
		}
	}

	// Handlers
	handlers := &handler.Handlers{
		Stock:        handler.NewStockHandler(stockService, log),
		Reservations: handler.NewReservationHandler(reservationService, log),
		Pools:        handler.NewPoolHandler(allocationService, log),
		Transfers:    handler.NewTransferHandler(transferService, log),
		Locations:    handler.NewLocationHandler(locationService, log),
		Sweeps:       handler.NewSweepHandler(sweeper, log),
	}

	var guards handler.Guards
	if cfg.Auth.Enabled {
		tokens := auth.NewManager(&cfg.Auth)
		guards = handler.Guards{
			Read:  tokens.Require(log, auth.ScopeRead),
			Write: tokens.Require(log, auth.ScopeWrite),
		}
	} else {
		log.Warn().Msg("service token auth disabled")
	}

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Correlation-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(m.Instrument)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":  "healthy",
			"service": serviceName,
		}
		if db != nil {
			status["database"] = db.Health(r.Context())
		} else {
			status["database"] = map[string]string{"status": "memory"}
		}
		if rmq != nil {
			status["rabbitmq"] = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, status)
	})
	r.Handle("/metrics", m.Handler())

	r.Route("/api/v1/inventory", handlers.Routes(guards))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop the sweeper and consumers before draining HTTP
	cancel()
	sweeper.Stop()

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to flush traces")
	}

	log.Info().Msg("server stopped")
}
