package daemon

import (
	"context"

	"github.com/AngkinV/Nexus-Chat/internal/api"
	"github.com/AngkinV/Nexus-Chat/internal/bus"
	"github.com/AngkinV/Nexus-Chat/internal/config"
	"github.com/AngkinV/Nexus-Chat/internal/conn"
	"github.com/AngkinV/Nexus-Chat/internal/lock"
	"github.com/AngkinV/Nexus-Chat/internal/logging"
	"github.com/AngkinV/Nexus-Chat/internal/profile"
	"github.com/AngkinV/Nexus-Chat/internal/status"
	"github.com/AngkinV/Nexus-Chat/internal/store"
	"github.com/AngkinV/Nexus-Chat/internal/subscription"
	intsync "github.com/AngkinV/Nexus-Chat/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	ConfigPath string // optional override; empty = ~/.nexus/config.toml
	LogLevel   zapcore.Level

	// Identity, when set, signs in at startup and replaces the stored profile.
	Identity *store.Profile
	Token    string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRegistry,
			provideConnection,
			provideAPI,
			provideNotifier,
			provideSyncEngine,
			NewSession,
			NewControl,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, p.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// The lock parameter orders the store after the profile lock.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	schema, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized",
		zap.String("path", dbPath),
		zap.Uint("schema", schema.To),
		zap.Bool("upgraded", schema.Upgraded()))
	return db, nil
}

func provideRegistry(cfg *config.Config, logger *zap.Logger) *subscription.Registry {
	return subscription.New(cfg.Replay(), logger.Named("subscription"))
}

func provideConnection(cfg *config.Config, m *status.Machine, r *subscription.Registry, b *bus.Bus, logger *zap.Logger) *conn.Manager {
	return conn.New(conn.Config{
		BaseDelay:   cfg.ReconnectBaseDelay.Duration,
		MaxAttempts: cfg.MaxReconnectAttempts,
	}, conn.WebSocketDialer{URL: cfg.WebSocketURL()}, m, r, b, logger.Named("conn"))
}

func provideAPI(cfg *config.Config, db *store.DB, logger *zap.Logger) *api.Client {
	return api.New(cfg.APIURL(), api.WithToken(func() string {
		tok, err := db.Token()
		if err != nil {
			logger.Warn("read token", zap.Error(err))
		}
		return tok
	}))
}

func provideNotifier(b *bus.Bus, logger *zap.Logger) intsync.Notifier {
	return NewNotifier(b, logger.Named("notify"))
}

func provideSyncEngine(cfg *config.Config, c *conn.Manager, r *subscription.Registry, client *api.Client, db *store.DB, n intsync.Notifier, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	topics := subscription.Topics{
		ContactsPattern: cfg.ContactsTopic,
		ChatsPattern:    cfg.ChatsTopic,
	}
	return intsync.NewEngine(intsync.Config{
		TypingTTL:       cfg.TypingTTL.Duration,
		HistoryPageSize: cfg.HistoryPageSize,
	}, c, r, topics, client, db, n, b, logger.Named("sync"))
}

func registerLifecycle(lc fx.Lifecycle, p Params, srv *Server, lk *lock.Lock, db *store.DB, engine *intsync.Engine, sess *Session, c *conn.Manager, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go engine.Run(runCtx)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			srv.WatchHealth(runCtx)

			go func() {
				if p.Identity != nil {
					if err := sess.SignIn(runCtx, *p.Identity, p.Token); err != nil {
						logger.Error("sign-in failed", zap.Error(err))
					}
					return
				}
				resumed, err := sess.Resume(runCtx)
				switch {
				case err != nil:
					logger.Error("resume failed", zap.Error(err))
				case !resumed:
					logger.Info("no stored profile, waiting for sign-in")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			engine.Stop()
			c.Disconnect(ctx)
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
