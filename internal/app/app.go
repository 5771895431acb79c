// Package app wires configuration, storage, services and the HTTP server
// together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/digital-library/internal/config"
	"github.com/Shivanand-hulikatti/digital-library/internal/database"
	"github.com/Shivanand-hulikatti/digital-library/internal/filestore"
	"github.com/Shivanand-hulikatti/digital-library/internal/handler"
	"github.com/Shivanand-hulikatti/digital-library/internal/notify"
	"github.com/Shivanand-hulikatti/digital-library/internal/repository"
	"github.com/Shivanand-hulikatti/digital-library/internal/repository/ch"
	"github.com/Shivanand-hulikatti/digital-library/internal/repository/memory"
	"github.com/Shivanand-hulikatti/digital-library/internal/service"
)

const shutdownTimeout = 10 * time.Second

// LoadConfig reads .env when present and then the process environment.
func LoadConfig() (*config.Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger: development output in development
// mode or at debug level, production JSON otherwise.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	zcfg.Level = level
	return zcfg.Build()
}

// stores groups the storage interfaces the services depend on.
type stores struct {
	catalog       repository.CatalogStore
	members       repository.MembershipStore
	ledger        repository.LedgerStore
	issuance      repository.IssuanceStore
	notifications repository.NotificationStore
	progress      repository.ProgressStore
	activity      repository.ActivityLog
	sessions      repository.SessionStore
}

// App represents the running service.
type App struct {
	config   *config.Config
	logger   *zap.Logger
	pool     *pgxpool.Pool
	stores   stores
	broker   notify.Broker
	files    *filestore.Store
	services handler.Services
	server   *http.Server
	closers  []func() error
}

// New connects to every backend and builds the services and HTTP server.
// Nothing is served until Run.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{config: cfg, logger: logger}

	steps := []func(context.Context) error{
		a.initStores,
		a.initActivityLog,
		a.initBroker,
		a.initFiles,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.initServices()
	a.initHTTPServer()
	return a, nil
}

// initStores selects the in-memory or Postgres stores.
func (a *App) initStores(ctx context.Context) error {
	if a.config.UseMemoryStore {
		a.logger.Warn("using in-memory store; data is lost on restart")
		m := memory.New()
		a.stores = stores{m, m, m, m, m, m, m, m}
		return nil
	}

	pool, err := database.NewPool(ctx, a.config.Database, a.logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	a.logger.Info("connected to postgres")

	if a.config.AutoMigrate {
		version, err := database.Migrate(ctx, pool, database.MigrateUp)
		if err != nil {
			return err
		}
		a.logger.Info("migrations applied", zap.Int64("version", version))
	}

	pg := repository.NewPostgres(pool)
	a.stores = stores{pg, pg, pg, pg, pg, pg, pg, pg}
	return nil
}

// initActivityLog swaps in ClickHouse for the reading activity stream when
// configured.
func (a *App) initActivityLog(ctx context.Context) error {
	if a.config.ActivityBackend != config.ActivityBackendClickHouse {
		return nil
	}

	a.logger.Info("connecting to clickhouse",
		zap.String("host", a.config.ClickHouseHost),
		zap.Int("port", a.config.ClickHousePort),
		zap.String("database", a.config.ClickHouseDatabase),
		zap.Bool("tls", a.config.ClickHouseUseTLS),
	)
	activity, err := ch.NewActivityLog(ctx, ch.Options{
		Host:     a.config.ClickHouseHost,
		Port:     a.config.ClickHousePort,
		Database: a.config.ClickHouseDatabase,
		User:     a.config.ClickHouseUser,
		Password: a.config.ClickHousePassword,
		UseTLS:   a.config.ClickHouseUseTLS,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	a.closers = append(a.closers, activity.Close)

	if err := activity.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize ClickHouse: %w", err)
	}
	a.stores.activity = activity
	return nil
}

// initBroker picks Redis pub/sub when REDIS_ADDR is set, else in-process.
func (a *App) initBroker(ctx context.Context) error {
	if a.config.RedisAddr == "" {
		a.broker = notify.NewMemoryBroker(a.logger)
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.config.RedisAddr,
		Password: a.config.RedisPassword,
		DB:       a.config.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis: %w", err)
	}
	a.logger.Info("connected to redis", zap.String("addr", a.config.RedisAddr))
	a.broker = notify.NewRedisBroker(client, a.logger)
	return nil
}

func (a *App) initFiles(context.Context) error {
	files, err := filestore.New(a.config.UploadDir)
	if err != nil {
		return err
	}
	a.files = files
	return nil
}

func (a *App) initServices() {
	s := a.stores
	notes := service.NewNotificationService(s.members, s.notifications, a.broker, a.logger)
	a.services = handler.Services{
		Auth: service.NewAuthService(s.members, s.sessions, a.config.AdminRegistrationCode, a.config.SessionTTL, a.logger),
		Library: service.NewLibraryService(s.catalog, s.members, s.ledger, s.issuance, notes, a.files,
			service.LibraryOptions{RequestRequiresAvailability: a.config.RequestRequiresAvailability}, a.logger),
		Notifications: notes,
		Progress:      service.NewProgressService(s.catalog, s.members, s.progress, s.activity, a.logger),
		BookRequests:  service.NewBookRequestService(s.members, s.ledger, notes, a.logger),
		Chat:          service.NewChatService(s.catalog),
	}
}

func (a *App) initHTTPServer() {
	opts := handler.Options{
		MaxUploadBytes: a.config.MaxUploadBytes,
		CORSOrigin:     a.config.CORSOrigin,
		UploadDir:      a.files.Root(),
	}
	if a.pool != nil {
		opts.Ping = a.pool.Ping
	}

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      handler.New(a.services, opts, a.logger).Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	// Ends open notification streams so Shutdown does not wait on them.
	a.server.RegisterOnShutdown(func() {
		if err := a.broker.Close(); err != nil {
			a.logger.Warn("broker close failed", zap.Error(err))
		}
	})
}

// Auth exposes the auth service to CLI commands.
func (a *App) Auth() *service.AuthService {
	return a.services.Auth
}

// Run serves HTTP until ctx is cancelled, SIGINT/SIGTERM arrives or the
// server fails, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
		a.logger.Error("server error", zap.Error(serveErr))
	case <-ctx.Done():
		a.logger.Info("shutting down server")
	}

	if err := a.Shutdown(); err != nil && serveErr == nil {
		return err
	}
	return serveErr
}

// Shutdown stops the HTTP server and releases backends.
func (a *App) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := a.server.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("graceful shutdown failed", zap.Error(err))
	}
	a.close()
	a.logger.Info("server stopped")
	return err
}

// Close releases backends without serving. Used by CLI commands.
func (a *App) Close() {
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.logger.Warn("broker close failed", zap.Error(err))
		}
	}
	a.close()
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
