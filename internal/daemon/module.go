// Package daemon composes the client: config, logging, the realtime
// connection, the state store, the coordinators, and the notice dispatcher,
// wired together with fx and torn down in reverse on shutdown.
package daemon

import (
	"context"
	"strings"

	"github.com/andres-erbsen/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Sunnycharan27/loopyncsuperapp/internal/api"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/bus"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/cache"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/call"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/config"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/conn"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/coordinator"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/lock"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/logging"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/notify"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/session"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/store"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/transport"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/typing"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideClock,
			provideLock,
			provideCache,
			provideTransport,
			provideConnManager,
			provideStore,
			provideTyping,
			provideMedia,
			provideMachine,
			provideRest,
			provideNotify,
			provideCoordinator,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		logger.Info("config not found, using defaults", zap.Error(err))
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideClock() clock.Clock {
	return clock.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideCache(p Params, logger *zap.Logger) (*cache.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := cache.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTransport(cfg *config.Config, logger *zap.Logger) *transport.Socket {
	return transport.NewSocket(socketURL(cfg.ServerURL), logger)
}

// socketURL derives the realtime endpoint from the REST base URL.
func socketURL(serverURL string) string {
	u := serverURL
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return strings.TrimSuffix(u, "/") + "/ws"
}

func provideConnManager(cfg *config.Config, tr *transport.Socket, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(conn.Config{
		MaxAttempts:   cfg.Connection.MaxAttempts,
		BaseDelay:     cfg.Connection.BaseDelay.Duration,
		MaxDelay:      cfg.Connection.MaxDelay.Duration,
		QueueCapacity: cfg.Connection.QueueCapacity,
	}, tr, b, clk, logger)
}

func provideStore(cfg *config.Config, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *store.Store {
	return store.New(cfg.UserID, cfg.Store.ReceiptWindow.Duration, clk, b, logger)
}

func provideTyping(cfg *config.Config, mgr *conn.Manager, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *typing.Coordinator {
	return typing.New(cfg.Typing.Debounce.Duration, cfg.Typing.Expiry.Duration, clk, b,
		coordinator.TypingSender{Manager: mgr}, logger)
}

func provideMedia(logger *zap.Logger) call.MediaTransport {
	return newMediaLogger(logger)
}

func provideMachine(cfg *config.Config, mgr *conn.Manager, media call.MediaTransport, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *call.Machine {
	return call.NewMachine(cfg.Call.RingTimeout.Duration, clk, b,
		coordinator.SignalSender{Manager: mgr}, media, logger)
}

func provideRest(p Params, cfg *config.Config, logger *zap.Logger) (*api.Client, error) {
	credential, err := session.Credential(p.SessionName)
	if err != nil {
		logger.Warn("no credential found, API calls will be unauthenticated", zap.Error(err))
	}
	return api.NewClient(cfg.ServerURL, credential, logger), nil
}

func provideNotify(cfg *config.Config, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *notify.Dispatcher {
	return notify.New(b, clk, cfg.Notify.DedupBucket.Duration, cfg.Notify.WarnRate, logger)
}

func provideCoordinator(cfg *config.Config, st *store.Store, ty *typing.Coordinator, machine *call.Machine, rest *api.Client, media call.MediaTransport, db *cache.DB, b *bus.Bus, logger *zap.Logger) *coordinator.Coordinator {
	return coordinator.New(coordinator.Params{
		SelfID:  cfg.UserID,
		Store:   st,
		Typing:  ty,
		Machine: machine,
		Rest:    rest,
		Media:   media,
		Cache:   db,
		Bus:     b,
		Logger:  logger,
	})
}

func registerLifecycle(lc fx.Lifecycle, p Params, coord *coordinator.Coordinator, dispatcher *notify.Dispatcher, mgr *conn.Manager, db *cache.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			dispatcher.Start(context.Background())
			coord.Run(context.Background())

			credential, err := session.Credential(p.SessionName)
			if err != nil {
				logger.Warn("starting offline, no credential", zap.Error(err))
				return nil
			}
			go func() {
				ctx := context.Background()
				if err := mgr.Connect(ctx, credential); err != nil {
					logger.Warn("initial connect failed, retrying in background", zap.Error(err))
				}
				if err := coord.Hydrate(ctx); err != nil {
					logger.Warn("hydration incomplete", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			coord.Stop()
			dispatcher.Stop()
			mgr.Disconnect()
			_ = db.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
