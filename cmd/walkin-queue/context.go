package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"qms/walkin-queue/internal/config"
	"qms/walkin-queue/internal/queue"
	"qms/walkin-queue/internal/store"
	"qms/walkin-queue/internal/store/postgres"
	"qms/walkin-queue/internal/store/sqlite"
)

const maxRetryBackoff = 200 * time.Millisecond

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.LoadFile(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = fmt.Errorf("invalid configuration: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withStore opens the configured backend, applies migrations and closes it
// after fn returns.
func (c *commandContext) withStore(ctx context.Context, fn func(cfg config.Config, st store.QueueStore) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cfg, st)
}

func openStore(ctx context.Context, cfg config.Config) (store.QueueStore, error) {
	retry := store.RetryPolicy{
		Attempts:       cfg.StoreRetryAttempts,
		InitialBackoff: cfg.StoreRetryBackoff(),
		MaxBackoff:     maxRetryBackoff,
	}
	switch cfg.DBDriver {
	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLitePath, sqlite.Options{Retry: retry})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return st, nil
	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return postgres.NewStore(pool, postgres.Options{
			SerializableCounter: cfg.CounterIsolation == config.IsolationSerializable,
			Retry:               retry,
		}), nil
	}
}

func newService(cfg config.Config, st queue.Store) (*queue.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return queue.NewService(st, queue.Options{Location: loc}), nil
}
