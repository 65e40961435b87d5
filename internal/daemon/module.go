package daemon

import (
	"context"

	"github.com/citydesk/appealsync/internal/bus"
	"github.com/citydesk/appealsync/internal/client"
	"github.com/citydesk/appealsync/internal/config"
	"github.com/citydesk/appealsync/internal/lock"
	"github.com/citydesk/appealsync/internal/logging"
	"github.com/citydesk/appealsync/internal/outbox"
	"github.com/citydesk/appealsync/internal/presence"
	"github.com/citydesk/appealsync/internal/profile"
	"github.com/citydesk/appealsync/internal/readreceipt"
	"github.com/citydesk/appealsync/internal/realtime"
	"github.com/citydesk/appealsync/internal/reconcile"
	"github.com/citydesk/appealsync/internal/status"
	"github.com/citydesk/appealsync/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx
// module.
type Params struct {
	ProfileName string
	Config      *config.Config
	// UserID is the viewer whose appeals this daemon syncs.
	UserID int64
	// DepartmentIDs the viewer belongs to; one realtime room each.
	DepartmentIDs []int64
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideDB,
			provideStore,
			provideTokens,
			provideClient,
			provideEngine,
			providePresenceCache,
			provideRouter,
			provideQueue,
			provideBridge,
			provideFocusTracker,
			provideViewFactory,
			providePresencePoller,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideDB(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
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
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("snapshot store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideStore(db *store.DB, logger *zap.Logger) *store.Store {
	return store.New(db, logger)
}

func provideTokens(p Params) client.TokenSource {
	return client.NewFileTokenSource(profile.TokenPath(p.ProfileName))
}

func provideClient(p Params, tokens client.TokenSource, logger *zap.Logger) *client.Client {
	return client.New(p.Config.ServerURL, tokens, logger)
}

func provideEngine(p Params, st *store.Store, b *bus.Bus, logger *zap.Logger) *reconcile.Engine {
	return reconcile.NewEngine(p.UserID, st, b, logger)
}

func providePresenceCache(b *bus.Bus) *presence.Cache {
	return presence.NewCache(b)
}

func provideRouter(e *reconcile.Engine, pc *presence.Cache, b *bus.Bus, logger *zap.Logger) *reconcile.Router {
	return reconcile.NewRouter(e, pc, b, logger)
}

func provideQueue(p Params, e *reconcile.Engine, c *client.Client, st *store.Store, b *bus.Bus, logger *zap.Logger) *outbox.Queue {
	return outbox.NewQueue(e, c, st, b, logger, p.Config.OutboxRetryInterval())
}

func provideBridge(p Params, r *reconcile.Router, tokens client.TokenSource, machine *status.Machine, logger *zap.Logger) *realtime.Bridge {
	rooms := []string{realtime.UserRoom(p.UserID)}
	for _, dept := range p.DepartmentIDs {
		rooms = append(rooms, realtime.DepartmentRoom(dept))
	}
	return realtime.New(realtime.Options{
		URL:     p.Config.RealtimeURL,
		Rooms:   rooms,
		Tokens:  tokens,
		Handler: r.Handle,
		OnConnect: func() {
			switch machine.Current() {
			case status.Booting, status.AuthRequired:
				_ = machine.Transition(status.Connecting)
			}
			_ = machine.Transition(status.Ready)
		},
		OnDisconnect: func() {
			_ = machine.Transition(status.Reconnecting)
		},
	}, logger)
}

func provideFocusTracker(b *realtime.Bridge) *realtime.FocusTracker {
	return realtime.NewFocusTracker(b)
}

func provideViewFactory(p Params, e *reconcile.Engine, c *client.Client, b *bus.Bus, logger *zap.Logger) *readreceipt.Factory {
	return readreceipt.NewFactory(p.UserID, e, c, b, logger, readreceipt.Options{
		ArmDelay:   p.Config.ReadArmDelay(),
		FlushDelay: p.Config.ReadFlushDelay(),
	})
}

func providePresencePoller(p Params, pc *presence.Cache, c *client.Client, e *reconcile.Engine, logger *zap.Logger) *presence.Poller {
	return presence.NewPoller(pc, c, e.KnownSenders, p.Config.PresencePollInterval(), logger)
}

// registerLifecycle depends on the embedder-facing components (focus
// tracker, view factory) as well, so fx constructs them eagerly.
func registerLifecycle(
	lc fx.Lifecycle,
	lk *lock.Lock,
	db *store.DB,
	st *store.Store,
	engine *reconcile.Engine,
	queue *outbox.Queue,
	bridge *realtime.Bridge,
	poller *presence.Poller,
	machine *status.Machine,
	tokens client.TokenSource,
	_ *realtime.FocusTracker,
	_ *readreceipt.Factory,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			engine.Hydrate()
			queue.Hydrate()

			token, _ := tokens.AccessToken(ctx)
			if token == "" {
				logger.Info("no credentials found, auth required")
				_ = machine.Transition(status.AuthRequired)
			} else {
				_ = machine.Transition(status.Connecting)
			}

			// The bridge keeps retrying on its own while the token is
			// absent, so it starts regardless.
			bridge.Start()
			queue.Start(context.Background())
			poller.Start(context.Background())
			return nil
		},
		OnStop: func(_ context.Context) error {
			poller.Stop()
			queue.Stop()
			bridge.Close()
			st.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing snapshot db", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
