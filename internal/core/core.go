// Package core wires the offline queue and its collaborators from a Config.
// Both the desktop agent and the mobile library build on it.
package core

import (
	"context"
	"net/http"
	"sync"

	"github.com/avanzando/mobilecore/internal/auth"
	"github.com/avanzando/mobilecore/internal/config"
	"github.com/avanzando/mobilecore/internal/db"
	"github.com/avanzando/mobilecore/internal/errors"
	"github.com/avanzando/mobilecore/internal/logging"
	"github.com/avanzando/mobilecore/internal/store"
	"github.com/avanzando/mobilecore/internal/sync/connectivity"
	"github.com/avanzando/mobilecore/internal/sync/queue"
	"github.com/avanzando/mobilecore/internal/sync/scheduler"
	"github.com/avanzando/mobilecore/internal/sync/transport"
)

// Options overrides collaborators, mainly for tests.
type Options struct {
	// Store replaces the SQLite store; no database is opened when set.
	Store store.Store
	// HTTPClient is used for both delivery and probing.
	HTTPClient *http.Client
}

// Core holds the running components.
type Core struct {
	Config     *config.Config
	DB         *db.DB
	Store      store.Store
	Tokens     *auth.TokenStore
	Dispatcher *transport.HTTPDispatcher
	Monitor    *connectivity.Monitor
	Queue      *queue.ActionQueue
	Service    *scheduler.Service

	closeOnce sync.Once
}

// New builds every component without starting anything.
func New(cfg *config.Config, opts *Options) (*Core, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &Options{}
	}

	c := &Core{Config: cfg}

	if opts.Store != nil {
		c.Store = opts.Store
	} else {
		database, err := db.OpenAndMigrate(cfg.DataDir)
		if err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "open database", err)
		}
		c.DB = database
		c.Store = store.NewSQLiteStore(database.DB)
	}

	c.Tokens = auth.NewTokenStore(c.Store, cfg.TokenSecret)

	dispatcher, err := transport.NewHTTPDispatcher(cfg.BaseURL, c.Tokens, cfg.RequestTimeout)
	if err != nil {
		c.closeDB()
		return nil, err
	}
	if opts.HTTPClient != nil {
		dispatcher = dispatcher.WithClient(opts.HTTPClient)
	}
	c.Dispatcher = dispatcher

	// without a probe the host reports reachability, assume online until told
	// otherwise
	c.Monitor = connectivity.NewMonitor(cfg.ProbeInterval <= 0)
	if cfg.ProbeInterval > 0 {
		c.Monitor.WithProbe(connectivity.HTTPProbe(opts.HTTPClient, cfg.ProbeURL()), cfg.ProbeInterval)
	}

	c.Queue = queue.NewActionQueue(c.Store, c.Dispatcher, &queue.Config{
		RejectionPolicy: queue.RejectionPolicy(cfg.RejectionPolicy),
		BackoffBase:     cfg.BackoffBase,
		BackoffMax:      cfg.BackoffMax,
	})

	c.Service = scheduler.NewService(c.Queue, c.Monitor, &scheduler.Config{
		SyncInterval: cfg.SyncInterval,
		PassTimeout:  scheduler.DefaultConfig().PassTimeout,
	})

	return c, nil
}

// Start initialises the service and the connectivity probe.
func (c *Core) Start(ctx context.Context) {
	c.Service.Init(ctx)
	c.Monitor.Start(ctx)

	logging.Info("Core started", map[string]interface{}{
		"component":        "core",
		"base_url":         c.Config.BaseURL,
		"rejection_policy": c.Config.RejectionPolicy,
		"probe":            c.Config.ProbeInterval > 0,
	})
}

// Close stops the probe and the service, then closes the database.
func (c *Core) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.Monitor.Stop()
		c.Service.Dispose()
		err = c.closeDB()
	})
	return err
}

func (c *Core) closeDB() error {
	if c.DB == nil {
		return nil
	}
	if err := c.DB.Close(); err != nil {
		return errors.Wrap(errors.ErrDatabase, "close database", err)
	}
	return nil
}
