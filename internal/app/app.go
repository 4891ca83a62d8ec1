package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/shenikar/crowd_report_trust/internal/category"
	"github.com/shenikar/crowd_report_trust/internal/config"
	"github.com/shenikar/crowd_report_trust/internal/repository"
	"github.com/shenikar/crowd_report_trust/internal/repository/memory"
	"github.com/shenikar/crowd_report_trust/internal/service"
	"github.com/shenikar/crowd_report_trust/internal/webhook"
	"github.com/shenikar/crowd_report_trust/pkg/postgres"
	redisclient "github.com/shenikar/crowd_report_trust/pkg/redis"
)

// App - собранные зависимости сервиса
type App struct {
	Service service.ReportService
	Redis   *redis.Client

	closers []func()
}

// Close освобождает соединения в обратном порядке
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// RunMigrations применяет миграции из каталога migrations
func RunMigrations(cfg *config.Config, log *logrus.Logger) error {
	log.Info("Running database migrations...")

	migrationURL := cfg.DatabaseURL
	if !strings.HasPrefix(migrationURL, "pgx5://") {
		migrationURL = strings.Replace(migrationURL, "postgres://", "pgx5://", 1)
		migrationURL = strings.Replace(migrationURL, "postgresql://", "pgx5://", 1)
	}

	m, err := migrate.New(
		"file://migrations",
		migrationURL,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("Database migrations applied successfully")
	return nil
}

// New собирает хранилище, кэш, издателя событий и сервис.
// Redis необязателен: без него кэш и события отключены.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger, migrations bool) (*App, error) {
	a := &App{}

	store, err := newStore(ctx, cfg, log, migrations, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	catalog := category.Default()
	if cfg.CategoriesFile != "" {
		catalog, err = category.Load(cfg.CategoriesFile)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to load categories: %w", err)
		}
		log.WithField("categories", catalog.Names()).Info("Category catalog loaded")
	}

	var (
		cache     service.IncidentCache
		publisher webhook.Publisher
	)
	rdb, err := redisclient.NewRedisClient(ctx, cfg)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, incident cache and decision events are disabled")
	} else {
		log.Info("Successfully connected to Redis")
		a.Redis = rdb
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		cache = repository.NewIncidentCache(rdb, cfg.RedisCacheTTL)
		publisher = webhook.NewRedisPublisher(rdb)
	}

	a.Service = service.NewReportService(store, cache, publisher, log, cfg, catalog)
	return a, nil
}

func newStore(ctx context.Context, cfg *config.Config, log *logrus.Logger, migrations bool, a *App) (service.Store, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn("Using in-memory store, data is lost on restart")
		return memory.NewStore(), nil
	}

	if migrations {
		if err := RunMigrations(cfg, log); err != nil {
			return nil, err
		}
	}

	dbpool, err := postgres.NewPostgresDB(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	a.closers = append(a.closers, dbpool.Close)
	log.Info("Successfully connected to PostgreSQL")

	return repository.NewPostgresStore(dbpool), nil
}
