package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/georgemunganga/medassist-backend/internal/config"
	"github.com/georgemunganga/medassist-backend/internal/modules/auth"
	"github.com/georgemunganga/medassist-backend/internal/modules/catalog"
	"github.com/georgemunganga/medassist-backend/internal/modules/inventory"
	"github.com/georgemunganga/medassist-backend/internal/modules/notification"
	"github.com/georgemunganga/medassist-backend/internal/modules/order"
	"github.com/georgemunganga/medassist-backend/internal/modules/realtime"
	"github.com/georgemunganga/medassist-backend/internal/modules/user"
	"github.com/georgemunganga/medassist-backend/internal/platform/cache"
	"github.com/georgemunganga/medassist-backend/internal/platform/database"
	"github.com/georgemunganga/medassist-backend/internal/platform/identity"
	"github.com/georgemunganga/medassist-backend/internal/platform/kafka"
	"github.com/georgemunganga/medassist-backend/internal/platform/logger"
	"github.com/georgemunganga/medassist-backend/internal/platform/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type repositories struct {
	users        user.Repository
	medicines    catalog.Repository
	ledger       inventory.Ledger
	pharmacies   inventory.PharmacyRepository
	staff        inventory.StaffRepository
	orders       order.Repository
	notification notification.Store
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, otelShutdown, err := observability.Setup(ctx, cfg)
	log := logger.New("api", observability.Enabled(cfg))
	defer log.Sync()
	if err != nil {
		log.Warn("telemetry setup incomplete", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	// ── Storage ─────────────────────────────────────────────
	repos, db, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn("redis unavailable, falling back to in-process cache and queues", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	// ── Identity ────────────────────────────────────────────
	userService := user.NewService(repos.users)
	authService := auth.NewService(repos.users, cfg.JWTSecret)
	authMiddleware := identity.Middleware(authService)
	adminOnly := identity.RequireRole(string(user.RoleAdmin))

	// ── Catalog ─────────────────────────────────────────────
	var medicineCache cache.Cache = cache.Noop{}
	if rdb != nil {
		medicineCache = cache.NewJSONCache(rdb, "medicine", cfg.CacheTTL)
	}
	catalogService := catalog.NewService(repos.medicines, medicineCache, log.Named("catalog"))

	// ── Notifications ───────────────────────────────────────
	hub := realtime.NewHub(log.Named("realtime"))
	staffDirectory := inventory.NewStaffDirectory(repos.staff)
	outbox := notification.NewOutbox(cfg.OutboxSize, log.Named("outbox"))
	fanout := notification.NewFanout(staffDirectory, userService, outbox, log.Named("fanout"))

	var broadcaster notification.Broadcaster = notification.NewLocalBroadcaster(hub)
	if rdb != nil {
		broadcaster = notification.NewRedisBroadcaster(rdb)
	}
	deliverer := notification.NewDeliverer(repos.notification, broadcaster, log.Named("deliverer"))

	var publisher notification.Publisher = deliverer
	var consumer *notification.Consumer
	if cfg.NotifyTransport == config.TransportKafka {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.NotificationTopic, config.ServiceName, tp)
		if err != nil {
			return fmt.Errorf("failed to create kafka producer: %w", err)
		}
		defer producer.Close()
		publisher = notification.NewKafkaPublisher(producer)

		if cfg.RunConsumer {
			reader, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.NotificationTopic, cfg.ConsumerGroup, tp)
			if err != nil {
				return fmt.Errorf("failed to create kafka consumer: %w", err)
			}
			defer reader.Close()
			consumer = notification.NewConsumer(reader, deliverer, log.Named("consumer"))
		}
	}
	dispatcher := notification.NewDispatcher(outbox, publisher, log.Named("dispatcher"), notification.DispatcherConfig{
		Workers:  cfg.DispatcherWorkers,
		Attempts: cfg.PublishAttempts,
	})

	// ── Inventory & Orders ──────────────────────────────────
	var queue inventory.CompensationQueue = inventory.NewMemoryCompensationQueue()
	if rdb != nil {
		queue = inventory.NewRedisCompensationQueue(rdb)
	}
	inventoryService := inventory.NewService(repos.ledger, repos.pharmacies, repos.staff, queue, fanout,
		log.Named("inventory"), inventory.Options{
			RelaxedMatching:   cfg.RelaxedStockMatching,
			LowStockThreshold: cfg.LowStockThreshold,
		})
	reconciler := inventory.NewReconciler(repos.ledger, queue, log.Named("reconciler"), cfg.CompensationPollInterval)
	orderService := order.NewService(repos.orders, inventoryService, catalogService, fanout, log.Named("order"))

	// ── Router ──────────────────────────────────────────────
	router := chi.NewRouter()
	router.Use(identity.HideQueryToken)
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":         "ok",
			"outbox_pending": outbox.Len(),
			"outbox_dropped": outbox.Dropped(),
		})
	})

	user.NewHandler(userService, authMiddleware).RegisterRoutes(router)
	auth.NewHandler(authService).RegisterRoutes(router)
	catalog.NewHandler(catalogService, authMiddleware, adminOnly).RegisterRoutes(router)
	inventory.NewHandler(inventoryService, authMiddleware, log.Named("inventory.http")).RegisterRoutes(router)
	order.NewHandler(orderService, staffDirectory, authMiddleware, log.Named("order.http")).RegisterRoutes(router)
	notification.NewHandler(notification.NewService(repos.notification), authMiddleware, log.Named("notification.http")).RegisterRoutes(router)
	realtime.NewHandler(hub, identity.WebsocketMiddleware(authService), log.Named("realtime.http")).RegisterRoutes(router)

	// ── Background workers ──────────────────────────────────
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	var workers sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := fn(workerCtx); err != nil {
				log.Error("background worker stopped", zap.String("worker", name), zap.Error(err))
			}
		}()
	}
	spawn("hub", func(ctx context.Context) error { hub.Run(ctx); return nil })
	dispatcherDone := make(chan struct{})
	spawn("dispatcher", func(ctx context.Context) error {
		defer close(dispatcherDone)
		dispatcher.Run(ctx)
		return nil
	})
	spawn("reconciler", func(ctx context.Context) error { reconciler.Run(ctx); return nil })
	if rdb != nil {
		spawn("relay", notification.NewRelay(rdb, hub, log.Named("relay")).Run)
	}
	if consumer != nil {
		spawn("consumer", consumer.Run)
	}

	// ── Start Server ────────────────────────────────────────
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("MedAssist API server starting",
			zap.String("addr", server.Addr),
			zap.String("storage", cfg.Storage),
			zap.String("notify_transport", cfg.NotifyTransport))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}
	// A closed outbox ends the dispatcher once it is drained.
	outbox.Close()
	select {
	case <-dispatcherDone:
	case <-shutdownCtx.Done():
		log.Warn("notification outbox not drained before shutdown", zap.Int("pending", outbox.Len()))
	}
	if n := reconciler.Drain(shutdownCtx); n > 0 {
		log.Info("applied pending stock releases", zap.Int("count", n))
	}
	cancelWorkers()
	workers.Wait()
	log.Info("server stopped", zap.Int64("notifications_dropped", outbox.Dropped()))
	return nil
}

func openStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (*repositories, *sql.DB, error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn("using in-memory storage; data is lost on restart")
		pharmacies := inventory.NewMemoryPharmacies()
		return &repositories{
			users:        user.NewMemoryRepository(),
			medicines:    catalog.NewMemoryRepository(),
			ledger:       inventory.NewMemoryLedger(),
			pharmacies:   pharmacies,
			staff:        pharmacies,
			orders:       order.NewMemoryRepository(),
			notification: notification.NewMemoryStore(),
		}, nil, nil
	}

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Info("connected to database")
	return &repositories{
		users:        user.NewPostgresRepository(db),
		medicines:    catalog.NewPostgresRepository(db),
		ledger:       inventory.NewPostgresLedger(db),
		pharmacies:   inventory.NewPharmacyPostgresRepository(db),
		staff:        inventory.NewStaffPostgresRepository(db),
		orders:       order.NewPostgresRepository(db),
		notification: notification.NewPostgresStore(db),
	}, db, nil
}
