// Package main - точка входа HTTP API движка прогресса.
//
// Сервер отвечает за:
// - Леджер аккаунта (XP, уровень, серия, лига, покупки)
// - Банк ошибок с расписанием повторов
// - Ежедневный спринт
// - Недельную таблицу лиги (проекция в Redis)
//
// Без DATABASE_URL сервер работает на памяти: удобно локально,
// но всё теряется при перезапуске.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alem-hub/mastery-engine/config"
	"github.com/alem-hub/mastery-engine/internal/application/command"
	"github.com/alem-hub/mastery-engine/internal/application/eventhandler"
	"github.com/alem-hub/mastery-engine/internal/application/query"
	"github.com/alem-hub/mastery-engine/internal/domain/catalog"
	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/mastery-engine/internal/infrastructure/persistence/file"
	"github.com/alem-hub/mastery-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/mastery-engine/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/mastery-engine/internal/infrastructure/persistence/redis"
	httpserver "github.com/alem-hub/mastery-engine/internal/interface/http"
	"github.com/alem-hub/mastery-engine/internal/interface/http/handlers"
	"github.com/alem-hub/mastery-engine/pkg/logger"
	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := newLogger(cfg)
	log.Info("starting mastery engine API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)

	health := handlers.NewHealthChecker(cfg.App.Version)
	clock := timeutil.SystemClock{}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ХРАНИЛИЩЕ ЛЕДЖЕРОВ И КАТАЛОГ
	// ─────────────────────────────────────────────────────────────────────────
	var (
		ledgers  progress.Repository
		problems catalog.Catalog
	)

	if cfg.Database.URL != "" {
		conn, err := connectPostgres(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer conn.Close()
		health.AddCheck("postgres", conn.Ping)

		ledgers = postgres.NewLedgerRepository(conn)
		problems = postgres.NewCatalogRepository(conn)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory storage")
		ledgers = memory.NewLedgerRepository()
	}

	if cfg.Catalog.File != "" {
		list, err := file.LoadCatalog(cfg.Catalog.File)
		if err != nil {
			return fmt.Errorf("failed to load catalog: %w", err)
		}
		problems, err = memory.NewCatalog(list)
		if err != nil {
			return fmt.Errorf("invalid catalog %s: %w", cfg.Catalog.File, err)
		}
		log.Info("catalog loaded from file",
			logger.String("path", cfg.Catalog.File),
			logger.Int("problems", len(list)),
		)
	}
	if problems == nil {
		return errors.New("no catalog source: set DATABASE_URL or CATALOG_FILE")
	}
	if cfg.Features.IsEnabled(config.FeatureCatalogCache, nil) {
		problems = memory.NewCachedCatalog(problems, cfg.Catalog.CacheTTL)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (опционально: кэш спринтов и таблица лиги)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		sprintCache query.SprintCache
		leagueBoard *redis.LeagueBoard
	)

	if !cfg.Redis.Disabled {
		cache, err := redis.NewCache(redisConfig(cfg))
		if err != nil {
			log.Warn("failed to connect to Redis, caching disabled", logger.Err(err))
		} else {
			defer cache.Close()
			health.AddCheck("redis", cache.Ping)

			if cfg.Features.IsEnabled(config.FeatureSprintCache, nil) {
				sprintCache = redis.NewSprintCache(cache)
			}
			if cfg.Features.IsEnabled(config.FeatureLeagueBoard, nil) {
				leagueBoard = redis.NewLeagueBoard(cache)
			}
			log.Info("Redis connection established", logger.String("addr", redisConfig(cfg).Addr()))
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log
	deadLetters := messaging.NewDeadLetterQueue(1000)
	busConfig.Middleware = messaging.ProjectionMiddleware(log, deadLetters)
	bus := messaging.NewInMemoryEventBus(busConfig)
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
		if n := deadLetters.Size(); n > 0 {
			log.Warn("projection events dead-lettered", logger.Int("count", n))
		}
	}()

	var recorder eventhandler.WeeklyXPRecorder
	if leagueBoard != nil {
		recorder = leagueBoard
	}
	if err := eventhandler.Register(bus, recorder, log); err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. КОМАНДЫ И ЗАПРОСЫ
	// ─────────────────────────────────────────────────────────────────────────
	mutator := command.NewLedgerMutator(ledgers, bus, clock, log,
		command.LedgerMutatorConfig{MaxAttempts: cfg.Ledger.MaxAttempts})

	solve := command.NewSubmitSolveHandler(mutator, problems)
	mistake := command.NewSubmitMistakeHandler(mutator, problems)
	purchase := command.NewPurchaseItemHandler(mutator)

	api := &handlers.ProgressAPI{
		OpenAccount:    command.NewOpenAccountHandler(ledgers, clock),
		SubmitSolve:    solve,
		SubmitMistake:  mistake,
		Purchase:       purchase,
		ApplyMutation:  command.NewApplyMutationHandler(solve, mistake, purchase),
		GetLedger:      query.NewGetLedgerHandler(ledgers),
		GetMistakeBank: query.NewGetMistakeBankHandler(ledgers, problems, clock),
		GetDailySprint: query.NewGetDailySprintHandler(ledgers, problems, sprintCache, clock, log),
		Problems:       problems,
	}
	if leagueBoard != nil {
		api.GetLeagueStandings = query.NewGetLeagueStandingsHandler(leagueBoard, clock)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HTTP СЕРВЕР
	// ─────────────────────────────────────────────────────────────────────────
	srvConfig := httpserver.Config{
		Host:           cfg.HTTP.Host,
		Port:           cfg.HTTP.Port,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MaxHeaderBytes: httpserver.DefaultConfig().MaxHeaderBytes,
	}
	srv := httpserver.NewServer(srvConfig, httpserver.Dependencies{
		API:    api,
		Health: health,
		Logger: log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func newLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Log.Level)
	opts.Format = logger.Format(cfg.Log.Format)
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	log := logger.New(opts).With(logger.String("app", cfg.App.Name))
	slog.SetDefault(log.Slog())
	return log
}

func connectPostgres(ctx context.Context, cfg *config.Config, log *logger.Logger) (*postgres.Connection, error) {
	dbConfig := postgres.DefaultConfig()
	dbConfig.URL = cfg.Database.URL
	dbConfig.MaxConns = cfg.Database.MaxConns
	dbConfig.MinConns = cfg.Database.MinConns
	dbConfig.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	dbConfig.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	log.Info("connecting to database...")
	conn, err := postgres.NewConnection(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := postgres.NewMigrator(conn).Migrate(migrateCtx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}
	return conn, nil
}

func redisConfig(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	return rc
}
