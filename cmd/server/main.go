package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"papertrade/internal/api"
	"papertrade/internal/broker"
	"papertrade/internal/config"
	"papertrade/internal/repository"
	"papertrade/internal/storage"
	"papertrade/internal/websocket"
	"papertrade/pkg/crypto"
	"papertrade/pkg/ratelimit"
	"papertrade/pkg/retry"
	"papertrade/pkg/utils"
)

func main() {
	app := &cli.App{
		Name:  "papertrade",
		Usage: "paper trading broker: synthetic order matching, positions and PnL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "path to .env file",
				Value:   ".env",
				EnvVars: []string{"PAPERTRADE_ENV_FILE"},
			},
			&cli.BoolFlag{
				Name:  "mock-feed",
				Usage: "run the random-walk price feed (overrides FEED_MOCK_ENABLED)",
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:      "hash-key",
				Usage:     "print bcrypt hash of an API key for API_KEY_HASH",
				ArgsUsage: "<key>",
				Action:    hashKey,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "papertrade: %v\n", err)
		os.Exit(1)
	}
}

// hashKey печатает hash ключа для API_KEY_HASH
func hashKey(c *cli.Context) error {
	key := c.Args().First()
	if key == "" {
		return cli.Exit("usage: papertrade hash-key <key>", 2)
	}
	hash, err := crypto.HashAPIKey(key)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, hash)
	return nil
}

func serve(c *cli.Context) error {
	// Загрузка конфигурации
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.IsSet("mock-feed") {
		cfg.Feed.Enabled = c.Bool("mock-feed")
	}

	logger := utils.InitLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Инициализация хранилища
	store, closer, err := openStore(ctx, cfg.Store, logger.WithComponent("store").Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	}()

	params := config.NewParamStore(cfg.Trading)

	opts := []broker.Option{
		broker.WithMetrics(broker.NewPrometheusMetrics()),
		broker.WithLogger(logger.WithComponent("broker").Logger),
		broker.WithStartingBalance(cfg.Paper.StartingBalance),
	}
	if store != nil {
		opts = append(opts, broker.WithStore(store))
	}
	paper := broker.New(cfg.Paper.Risk, params, opts...)

	if err := paper.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore broker state: %w", err)
	}

	// WebSocket hub
	hub := websocket.NewHub(logger.WithComponent("websocket").Logger, cfg.API.AllowedOrigins)
	go hub.Run()
	defer hub.Stop()
	go hub.Pump(ctx, paper.Events())

	// Mock фид цен
	if cfg.Feed.Enabled {
		feed := broker.NewMockFeed(paper, params, cfg.Feed, time.Now().UnixNano(), logger.WithComponent("feed").Logger)
		go func() {
			if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("price feed stopped", zap.Error(err))
			}
		}()
	}

	verifier, err := crypto.NewKeyVerifier(cfg.API.APIKeyHash)
	if err != nil {
		return fmt.Errorf("invalid API_KEY_HASH: %w", err)
	}
	if !verifier.Enabled() {
		logger.Warn("API key is not configured, authentication disabled")
	}

	limiter := ratelimit.NewKeyedLimiter(cfg.API.OrdersPerSec, float64(cfg.API.OrdersBurst), 10*time.Minute)
	go sweepLimiter(ctx, limiter)

	// Настройка HTTP роутера
	router := api.SetupRoutes(&api.Dependencies{
		Broker:         paper,
		Params:         params,
		Hub:            hub,
		Logger:         logger.WithComponent("http").Logger,
		KeyVerifier:    verifier,
		OrderLimiter:   limiter,
		AllowedOrigins: cfg.API.AllowedOrigins,
		StoreDriver:    cfg.Store.Driver,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.Bool("mock_feed", cfg.Feed.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

// openStore открывает хранилище по драйверу. Для memory возвращает nil store.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (broker.Store, io.Closer, error) {
	policy := retry.StartupConfig(cfg.MaxRetries, cfg.RetryBackoff)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("store not ready, retrying",
			zap.String("driver", cfg.Driver),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	switch cfg.Driver {
	case config.StorePostgres:
		db, err := initDatabase(ctx, cfg, policy)
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewPaperStore(db)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("connected to database", zap.String("dsn", cfg.DSNWithoutPassword()))
		return store, db, nil

	case config.StorePebble:
		store, err := retry.DoWithResult(ctx, func() (*storage.PebbleStore, error) {
			return storage.Open(cfg.PebblePath)
		}, policy)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("opened pebble store", zap.String("path", cfg.PebblePath))
		return store, store, nil

	default:
		return nil, closerFunc(func() error { return nil }), nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// initDatabase создает подключение к базе данных
func initDatabase(ctx context.Context, cfg config.StoreConfig, policy retry.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	policy.RetryIf = repository.IsTransient
	err = retry.Do(ctx, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}, policy)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// sweepLimiter периодически удаляет ведра неактивных клиентов
func sweepLimiter(ctx context.Context, limiter *ratelimit.KeyedLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
		}
	}
}
