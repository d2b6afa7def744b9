// Package app wires the chatline process together with fx.
package app

import (
	"context"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/config"
	"github.com/matheus3301/chatline/internal/engine"
	"github.com/matheus3301/chatline/internal/lock"
	"github.com/matheus3301/chatline/internal/logging"
	"github.com/matheus3301/chatline/internal/outbox"
	"github.com/matheus3301/chatline/internal/session"
	"github.com/matheus3301/chatline/internal/store"
	"github.com/matheus3301/chatline/internal/streaming"
	intsync "github.com/matheus3301/chatline/internal/sync"
	"github.com/matheus3301/chatline/internal/tui"
	"github.com/matheus3301/chatline/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
	// Console mirrors logs to stderr; off while the terminal UI runs.
	Console bool
}

// Module returns the fx module for one chatline session, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("chatline",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideAdapter,
			provideSyncEngine,
			provideRegistry,
			provideInterrupter,
			provideLedger,
			provideFactory,
			provideUI,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, p.Console)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName), p.SessionName)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired", zap.String("path", l.Path()))
	return l, nil
}

// provideStore depends on the lock so the archive is never opened by two
// processes.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", db.Path()))
	return db, nil
}

func provideAdapter(p Params, _ *lock.Lock, b *bus.Bus, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), p.SessionName, b, logger)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, logger)
}

func provideRegistry() *streaming.Registry {
	return streaming.NewRegistry()
}

func provideInterrupter(p Params, adapter *wa.Adapter, b *bus.Bus, logger *zap.Logger) *streaming.Interrupter {
	return streaming.NewInterrupter(streaming.InterrupterOptions{
		Transport: adapter,
		Bus:       b,
		Interval:  p.Config.Timeline.InterruptInterval.Duration,
		Logger:    logger,
	})
}

func provideLedger() *outbox.ProgressLedger {
	return outbox.NewProgressLedger()
}

func provideFactory(p Params, db *store.DB, adapter *wa.Adapter, b *bus.Bus, reg *streaming.Registry, intr *streaming.Interrupter, ledger *outbox.ProgressLedger, logger *zap.Logger) *engine.Factory {
	return engine.NewFactory(BaseOptions(p.Config.Timeline, Services{
		Bus:         b,
		History:     db,
		Names:       db,
		Sender:      adapter,
		Receipts:    adapter,
		Revoker:     adapter,
		Registry:    reg,
		Interrupter: intr,
		Ledger:      ledger,
		NewID:       adapter.NewMessageID,
		Logger:      logger,
	}), adapter.LocalUserID)
}

func provideUI(p Params, factory *engine.Factory, db *store.DB, adapter *wa.Adapter, b *bus.Bus, logger *zap.Logger) *tui.App {
	return tui.NewApp(tui.Options{
		SessionName: p.SessionName,
		Factory:     factory,
		Chats:       db,
		Auth:        adapter,
		Bus:         b,
		Logger:      logger,
	})
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, adapter *wa.Adapter, syncEngine *intsync.Engine, factory *engine.Factory, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Archive first so no transport event is missed.
			syncEngine.Start(context.Background())

			handler := wa.NewEventHandler(b, adapter, logger)
			adapter.RegisterEventHandler(handler.Handle)

			if adapter.IsLoggedIn() {
				go func() {
					if err := adapter.Connect(); err != nil {
						logger.Error("auto-connect failed", zap.Error(err))
					}
				}()
			} else {
				logger.Info("no credentials found, auth required")
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			factory.CloseAll()
			syncEngine.Stop()
			adapter.Disconnect()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("session stopped")
			return nil
		},
	})
}
