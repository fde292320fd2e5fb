// Package database is the root of s3db: it turns a connection string
// into a live database handle with a healed catalog, rehydrated
// resources, and the shared runtime services (coordination, queues,
// counters, replication, cache) wired to one blob store and one event
// bus.
package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/blob"
	"github.com/s3db-io/s3db/pkg/blob/memory"
	"github.com/s3db-io/s3db/pkg/blob/s3"
	"github.com/s3db-io/s3db/pkg/bus"
	"github.com/s3db-io/s3db/pkg/cache"
	"github.com/s3db-io/s3db/pkg/config"
	"github.com/s3db-io/s3db/pkg/coordinator"
	"github.com/s3db-io/s3db/pkg/counter"
	"github.com/s3db-io/s3db/pkg/crypto"
	"github.com/s3db-io/s3db/pkg/manifest"
	"github.com/s3db-io/s3db/pkg/metrics"
	"github.com/s3db-io/s3db/pkg/queue"
	"github.com/s3db-io/s3db/pkg/replicator"
	"github.com/s3db-io/s3db/pkg/resource"
)

// Plugin extends a database with an installable lifecycle component.
// Install runs synchronously during Use; Start may spawn background
// work; Stop is called in reverse install order on Close.
type Plugin interface {
	Install(db *DB) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DB is one open database. Safe for concurrent use.
type DB struct {
	cfg  *config.Config
	conn *config.Connection

	store   blob.Store
	bus     *bus.Bus
	catalog *manifest.Catalog

	registry *coordinator.Registry

	cipherMu sync.Mutex
	cipher   *crypto.Cipher

	mu        sync.RWMutex
	resources map[string]*resource.Resource
	queues    map[string]*queue.Queue
	counters  map[string]*counter.Engine
	repl      *replicator.Manager
	plugins   []Plugin
	recCache  *cache.Cache

	closeOnce sync.Once
}

// Connect opens (or creates) the database the configuration points at.
// The manifest is loaded and healed, every catalogued resource is
// rehydrated, and the handle is registered as the process metrics
// sampler. Connect does not start any background service: queues,
// counters, and the replication drain start on demand.
func Connect(ctx context.Context, cfg *config.Config) (*DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database: configuration is required")
	}

	conn, err := config.ParseConnectionString(cfg.Connection.String)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg, conn)
	if err != nil {
		return nil, err
	}

	b := bus.New()

	catalog, err := manifest.Open(ctx, store, b)
	if err != nil {
		return nil, err
	}

	db := &DB{
		cfg:       cfg,
		conn:      conn,
		store:     store,
		bus:       b,
		catalog:   catalog,
		registry:  coordinator.NewRegistry(store, b, ""),
		resources: make(map[string]*resource.Resource),
		queues:    make(map[string]*queue.Queue),
		counters:  make(map[string]*counter.Engine),
	}

	if cfg.Cache.Enabled {
		if err := db.openCache(); err != nil {
			return nil, err
		}
	}

	if err := db.rehydrate(ctx); err != nil {
		return nil, err
	}

	metrics.RegisterDatabaseCollector(db)

	logger.Info("database connected",
		"connection", conn.Redacted(),
		"resources", len(db.resources),
	)
	b.Emit(bus.Event{Name: bus.EventConnected, Payload: conn.Redacted()})

	return db, nil
}

// openStore builds the blob client for the parsed connection.
func openStore(ctx context.Context, cfg *config.Config, conn *config.Connection) (blob.Store, error) {
	switch conn.Driver {
	case config.DriverMemory:
		return memory.Open(conn.Bucket, conn.Prefix), nil

	case config.DriverS3:
		client, err := s3.NewClientFromConfig(ctx,
			conn.Endpoint,
			cfg.Connection.Region,
			conn.AccessKeyID,
			conn.SecretAccessKey,
			conn.Endpoint != "" || cfg.Connection.ForcePathStyle,
		)
		if err != nil {
			return nil, err
		}
		return s3.New(ctx, s3.Config{
			Client:         client,
			Bucket:         conn.Bucket,
			KeyPrefix:      conn.Prefix,
			MaxAttempts:    cfg.Blob.MaxAttempts,
			InitialBackoff: cfg.Blob.InitialBackoff,
			MaxBackoff:     cfg.Blob.MaxBackoff,
			Parallelism:    cfg.Blob.Parallelism,
			Metrics:        metrics.NewBlobMetrics(),
		})

	default:
		return nil, fmt.Errorf("database: unsupported driver %q", conn.Driver)
	}
}

func (db *DB) openCache() error {
	var driver cache.Driver
	switch db.cfg.Cache.Driver {
	case "badger":
		bdg, err := cache.OpenBadger(db.cfg.Cache.Path)
		if err != nil {
			return fmt.Errorf("open badger cache: %w", err)
		}
		driver = bdg
	default:
		driver = cache.NewMemory(int64(db.cfg.Cache.MaxBytes))
	}
	db.recCache = cache.New(driver, db.cfg.Cache.TTL)
	return nil
}

// cipherFor returns the field-encryption cipher, deriving it from the
// configured passphrase and the per-database salt on first use. Returns
// nil without error when no passphrase is configured; the codec rejects
// secret-typed schemas in that case.
func (db *DB) cipherFor(ctx context.Context) (*crypto.Cipher, error) {
	if db.cfg.Connection.Passphrase == "" {
		return nil, nil
	}

	db.cipherMu.Lock()
	defer db.cipherMu.Unlock()
	if db.cipher != nil {
		return db.cipher, nil
	}

	salt, err := db.catalog.Salt(ctx, crypto.NewSalt)
	if err != nil {
		return nil, fmt.Errorf("load encryption salt: %w", err)
	}
	cipher, err := crypto.New(db.cfg.Connection.Passphrase, salt)
	if err != nil {
		return nil, err
	}
	db.cipher = cipher
	return cipher, nil
}

// Store returns the underlying blob client.
func (db *DB) Store() blob.Store {
	return db.store
}

// Bus returns the database event bus.
func (db *DB) Bus() *bus.Bus {
	return db.bus
}

// Catalog returns the metadata catalog.
func (db *DB) Catalog() *manifest.Catalog {
	return db.catalog
}

// Config returns the configuration the database was opened with.
func (db *DB) Config() *config.Config {
	return db.cfg
}

// Cache returns the record cache, or nil when caching is disabled.
func (db *DB) Cache() *cache.Cache {
	return db.recCache
}

// Coordinator returns the shared coordination service for a namespace,
// starting it on first use. An empty namespace selects the configured
// default (falling back to the key prefix, then "s3db").
func (db *DB) Coordinator(ctx context.Context, namespace string) (*coordinator.Service, error) {
	if namespace == "" {
		namespace = db.defaultNamespace()
	}
	return db.registry.Service(ctx, namespace, func(c *coordinator.Config) {
		c.HeartbeatInterval = db.cfg.Coordinator.HeartbeatInterval
		c.HeartbeatJitter = db.cfg.Coordinator.HeartbeatJitter
		c.LeaseTimeout = db.cfg.Coordinator.LeaseTimeout
		c.WorkerTimeout = db.cfg.Coordinator.WorkerTimeout
	})
}

// Namespace returns the default coordination namespace.
func (db *DB) Namespace() string {
	return db.defaultNamespace()
}

func (db *DB) defaultNamespace() string {
	if db.cfg.Coordinator.Namespace != "" {
		return db.cfg.Coordinator.Namespace
	}
	if db.conn.Prefix != "" {
		return db.conn.Prefix
	}
	return "s3db"
}

// Use installs and starts a plugin. Plugins stop in reverse order on
// Close.
func (db *DB) Use(ctx context.Context, p Plugin) error {
	if err := p.Install(db); err != nil {
		return fmt.Errorf("install plugin: %w", err)
	}
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("start plugin: %w", err)
	}
	db.mu.Lock()
	db.plugins = append(db.plugins, p)
	db.mu.Unlock()
	return nil
}

// Close stops every running service and releases the handle. Order:
// plugins (reverse), queues, counters, replication, coordination, then
// the async partition pools, cache, and bus. Safe to call multiple
// times.
func (db *DB) Close(ctx context.Context) error {
	var firstErr error
	db.closeOnce.Do(func() {
		db.mu.Lock()
		plugins := make([]Plugin, len(db.plugins))
		copy(plugins, db.plugins)
		queues := make([]*queue.Queue, 0, len(db.queues))
		for _, q := range db.queues {
			queues = append(queues, q)
		}
		counters := make([]*counter.Engine, 0, len(db.counters))
		for _, c := range db.counters {
			counters = append(counters, c)
		}
		repl := db.repl
		resources := make([]*resource.Resource, 0, len(db.resources))
		for _, r := range db.resources {
			resources = append(resources, r)
		}
		db.mu.Unlock()

		for i := len(plugins) - 1; i >= 0; i-- {
			if err := plugins[i].Stop(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		for _, q := range queues {
			q.Stop()
		}
		for _, c := range counters {
			c.Stop()
		}
		if repl != nil {
			repl.Stop()
		}
		db.registry.StopAll(ctx)

		for _, r := range resources {
			r.Close()
		}
		if db.recCache != nil {
			if err := db.recCache.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}

		db.bus.Emit(bus.Event{Name: bus.EventDisconnected, Payload: db.conn.Redacted()})
		db.bus.Close()
		logger.Info("database closed", "connection", db.conn.Redacted())
	})
	return firstErr
}
