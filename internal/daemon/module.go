package daemon

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/christian-oudard/signal-cli/internal/accountdir"
	"github.com/christian-oudard/signal-cli/internal/bus"
	"github.com/christian-oudard/signal-cli/internal/config"
	"github.com/christian-oudard/signal-cli/internal/lock"
	"github.com/christian-oudard/signal-cli/internal/logging"
	"github.com/christian-oudard/signal-cli/internal/manager"
	"github.com/christian-oudard/signal-cli/internal/protocol"
	"github.com/christian-oudard/signal-cli/internal/receive"
	"github.com/christian-oudard/signal-cli/internal/status"
	"github.com/christian-oudard/signal-cli/internal/store"
)

// receiveTimeout bounds each pull of the daemon's background receive loop.
const receiveTimeout = time.Minute

// Params holds the resolved account configuration passed to the fx module.
type Params struct {
	Account string
	// RegisterACI seeds a registered account row when none exists. Only
	// meaningful with the in-memory protocol stack.
	RegisterACI string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideConfig,
			provideLock,
			provideStore,
			provideEngine,
			provideTransport,
			provideAccountService,
			provideStreamer,
			provideManager,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(accountdir.LogPath(p.Account), p.Account)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(accountdir.ConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		return &config.Config{TrustNewIdentity: config.TrustOnFirstUse}, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := accountdir.EnsureDir(p.Account); err != nil {
		return nil, err
	}
	logger.Info("acquiring account lock", zap.String("account", p.Account))
	l, err := lock.Acquire(accountdir.Dir(p.Account))
	if err != nil {
		return nil, err
	}
	logger.Info("account lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := accountdir.DBPath(p.Account)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

// provideEngine returns the in-process engine used until a wire-backed
// implementation exists. The same applies to the transport, account service
// and streamer providers below.
func provideEngine() protocol.Engine {
	return protocol.NewMemoryEngine()
}

func provideTransport() protocol.Transport {
	return protocol.NewMemoryTransport()
}

func provideAccountService() protocol.AccountService {
	return protocol.NewMemoryAccountService()
}

func provideStreamer() protocol.AttachmentStreamer {
	return protocol.NewMemoryAttachmentStreamer()
}

func provideManager(
	p Params,
	db *store.DB,
	b *bus.Bus,
	state *status.Machine,
	cfg *config.Config,
	engine protocol.Engine,
	transport protocol.Transport,
	accountSvc protocol.AccountService,
	streamer protocol.AttachmentStreamer,
	logger *zap.Logger,
) (*manager.Manager, error) {
	if p.RegisterACI != "" {
		acct, err := db.LoadAccount()
		if err != nil {
			return nil, err
		}
		if acct == nil {
			hostname, _ := os.Hostname()
			if err := manager.Register(db, p.Account, p.RegisterACI, 1, hostname); err != nil {
				return nil, err
			}
			logger.Info("account registered", zap.String("number", p.Account))
		}
	}
	return manager.New(manager.Params{
		Account:        p.Account,
		DB:             db,
		Bus:            b,
		State:          state,
		Config:         cfg,
		Engine:         engine,
		Transport:      transport,
		AccountService: accountSvc,
		Streamer:       streamer,
		Logger:         logger,
	})
}

func registerLifecycle(lc fx.Lifecycle, mgr *manager.Manager, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				defer close(done)
				err := mgr.ReceiveMessages(loopCtx, receive.Options{Timeout: receiveTimeout},
					func(env *protocol.Envelope, content *protocol.Content, err error) {
						if err != nil {
							logger.Warn("undecryptable envelope",
								zap.Int64("timestamp", env.Timestamp), zap.Error(err))
							return
						}
						logger.Info("message received",
							zap.String("sender", content.Sender.Key()),
							zap.Int64("timestamp", content.Timestamp))
					})
				if err != nil {
					logger.Error("receive loop failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			if err := mgr.Close(); err != nil {
				logger.Warn("error closing account", zap.Error(err))
			}
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
