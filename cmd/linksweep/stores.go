package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nainya/linksweep/internal/adapters/mongo"
	"github.com/nainya/linksweep/internal/adapters/postgres"
	"github.com/nainya/linksweep/internal/adapters/redis"
	"github.com/nainya/linksweep/internal/config"
	"github.com/nainya/linksweep/internal/metrics"
	"github.com/nainya/linksweep/pkg/history"
	"github.com/nainya/linksweep/pkg/storage"
)

const replayLockName = "replay"

// backend is an opened document store plus whatever shares its connection
type backend struct {
	store storage.Store

	// local is set for the embedded store so history can share its database
	local *storage.LocalStore

	// pg is set for postgres so the advisory lock can reuse the pool
	pg *postgres.DB

	historyDB   *pebble.DB
	ownsHistory bool
}

var (
	metricsOnce sync.Once
	procMetrics *metrics.Metrics
)

// newMetrics returns the process metrics, registered with the default
// registry on first use
func newMetrics() *metrics.Metrics {
	metricsOnce.Do(func() {
		procMetrics = metrics.NewMetrics(prometheus.DefaultRegisterer)
	})
	return procMetrics
}

// openBackend connects to the configured document store
func (a *app) openBackend(ctx context.Context, m *metrics.Metrics) (*backend, error) {
	if err := a.cfg.RequireStore(); err != nil {
		return nil, err
	}

	switch a.cfg.Store {
	case config.StoreMongo:
		cfg := mongo.DefaultConfig(a.cfg.MongoURI, a.cfg.MongoDB)
		cfg.Collections = a.cfg.MongoCollections
		s, err := mongo.Connect(ctx, cfg, mongo.WithLogger(a.log), mongo.WithMetrics(m))
		if err != nil {
			return nil, err
		}
		a.log.Info("Connected to MongoDB").
			Str("uri", mongo.RedactURI(a.cfg.MongoURI)).
			Str("database", a.cfg.MongoDB).
			Strs("collections", a.cfg.MongoCollections).
			Send()
		return &backend{store: s}, nil

	case config.StorePostgres:
		db, err := postgres.Connect(ctx, postgres.DefaultConfig(a.cfg.DatabaseURL))
		if err != nil {
			return nil, err
		}
		if err := db.InitSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		a.log.Info("Connected to PostgreSQL").Send()
		return &backend{store: postgres.NewStore(db), pg: db}, nil

	default:
		s, err := storage.OpenLocal(storage.LocalOptions{Path: a.cfg.LocalDBPath})
		if err != nil {
			return nil, err
		}
		a.log.Info("Opened local store").Str("path", a.cfg.LocalDBPath).Send()
		return &backend{store: s, local: s}, nil
	}
}

// history opens the run history, sharing the local database when both live
// at the same path
func (b *backend) history(path, localPath string) (*history.Store, error) {
	if b.local != nil && samePath(path, localPath) {
		return history.NewStore(b.local.DB()), nil
	}
	db, err := storage.OpenPebble(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	b.historyDB = db
	b.ownsHistory = true
	return history.NewStore(db), nil
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return a == b
	}
	pa, errA := filepath.Abs(a)
	pb, errB := filepath.Abs(b)
	return errA == nil && errB == nil && pa == pb
}

func (b *backend) Close() error {
	if b.ownsHistory && b.historyDB != nil {
		b.historyDB.Close()
	}
	return b.store.Close()
}

// releaseFunc gives up a held replay lock
type releaseFunc func(context.Context) error

// acquireLock takes the replay lock: Redis when configured, a postgres
// advisory lock on the postgres backend, none otherwise
func (a *app) acquireLock(ctx context.Context, b *backend) (releaseFunc, error) {
	switch {
	case a.cfg.RedisURL != "":
		client, err := redis.Dial(ctx, a.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		lock := redis.NewLock(client)
		release, err := lock.Hold(ctx, replayLockName, a.cfg.LockTTL)
		if err != nil {
			client.Close()
			return nil, err
		}
		a.log.Info("Acquired replay lock").Str("backend", "redis").Str("owner", lock.OwnerID()).Send()
		return func(ctx context.Context) error {
			defer client.Close()
			return release(ctx)
		}, nil

	case b.pg != nil:
		lock := postgres.NewAdvisoryLock(b.pg)
		ok, err := lock.Acquire(ctx, replayLockName, a.cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", redis.ErrLocked, replayLockName)
		}
		a.log.Info("Acquired replay lock").Str("backend", "postgres").Send()
		return func(ctx context.Context) error {
			return lock.Release(ctx, replayLockName)
		}, nil
	}

	a.log.Debug("No lock backend configured").Send()
	return func(context.Context) error { return nil }, nil
}

func releaseQuietly(a *app, release releaseFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := release(ctx); err != nil {
		a.log.Warn("Failed to release replay lock").Err(err).Send()
	}
}
