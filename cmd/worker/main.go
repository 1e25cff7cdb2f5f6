// Package main - точка входа для фоновых процессов (Worker) движка прогресса.
//
// Worker отвечает за периодические задачи:
// - Закрытие недели лиги: повышение, понижение, сброс недельного XP
// - Очистку журнала применённых мутаций старше срока хранения
//
// Все cron-выражения вычисляются в UTC, как и календарные дни леджера.
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
	"github.com/alem-hub/mastery-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/mastery-engine/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/mastery-engine/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/mastery-engine/internal/infrastructure/scheduler"
	"github.com/alem-hub/mastery-engine/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/mastery-engine/pkg/logger"
	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if !cfg.Scheduler.Enabled {
		return errors.New("scheduler is disabled (SCHEDULER_ENABLED=false)")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Log.Level)
	opts.Format = logger.Format(cfg.Log.Format)
	log := logger.New(opts).With(logger.String("app", cfg.App.Name+"-worker"))
	slog.SetDefault(log.Slog())

	log.Info("starting mastery engine worker",
		logger.String("env", string(cfg.App.Environment)),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ
	// ─────────────────────────────────────────────────────────────────────────
	dbConfig := postgres.DefaultConfig()
	dbConfig.URL = cfg.Database.URL
	dbConfig.MaxConns = cfg.Database.MaxConns
	dbConfig.MinConns = cfg.Database.MinConns

	log.Info("connecting to database...")
	conn, err := postgres.NewConnection(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		conn.Close()
	}()

	// Worker также должен иметь актуальную схему
	if cfg.Database.AutoMigrate {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	ledgers := postgres.NewLedgerRepository(conn)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS И ТАБЛИЦА ЛИГИ
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
	if !cfg.Redis.Disabled && cfg.Features.IsEnabled(config.FeatureLeagueBoard, nil) {
		rc := redis.DefaultConfig()
		rc.Host, rc.Port, rc.Password, rc.DB = cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB

		cache, err := redis.NewCache(rc)
		if err != nil {
			log.Warn("failed to connect to Redis, league board not updated", logger.Err(err))
		} else {
			defer cache.Close()
			recorder = redis.NewLeagueBoard(cache)
		}
	}
	if err := eventhandler.Register(bus, recorder, log); err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ЗАДАЧИ
	// ─────────────────────────────────────────────────────────────────────────
	clock := timeutil.SystemClock{}
	mutator := command.NewLedgerMutator(ledgers, bus, clock, log,
		command.LedgerMutatorConfig{MaxAttempts: cfg.Ledger.MaxAttempts})

	sched := scheduler.NewScheduler(log)

	if cfg.Features.IsEnabled(config.FeatureLeagueClose, nil) {
		closeWeek := jobs.NewCloseLeagueWeekJob(
			command.NewCloseLeagueWeekHandler(ledgers, mutator, log),
			jobs.CloseLeagueWeekConfig{
				Concurrency: cfg.Scheduler.CloseWeekConcurrency,
				Timeout:     cfg.Scheduler.JobTimeout,
			},
		)
		if err := sched.Register(closeWeek, cfg.Scheduler.CloseLeagueWeekCron); err != nil {
			return err
		}
	}

	if cfg.Features.IsEnabled(config.FeatureMutationPurge, nil) {
		purge := jobs.NewPurgeMutationsJob(
			command.NewPurgeMutationsHandler(ledgers, clock, cfg.Ledger.MutationRetention, log),
		)
		if err := sched.Register(purge, cfg.Scheduler.PurgeMutationsCron); err != nil {
			return err
		}
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("received shutdown signal",
		logger.Duration("timeout", cfg.App.ShutdownTimeout),
	)

	done := make(chan error, 1)
	go func() { done <- sched.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("scheduler stop: %w", err)
		}
	case <-time.After(cfg.App.ShutdownTimeout):
		return errors.New("shutdown timed out waiting for running jobs")
	}

	log.Info("shutdown completed successfully")
	return nil
}
