package app

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/chatarc/chatarc/internal/account"
	"github.com/chatarc/chatarc/internal/bus"
	"github.com/chatarc/chatarc/internal/config"
	"github.com/chatarc/chatarc/internal/export"
	"github.com/chatarc/chatarc/internal/lock"
	"github.com/chatarc/chatarc/internal/logging"
	"github.com/chatarc/chatarc/internal/media"
	"github.com/chatarc/chatarc/internal/store"
)

// Params holds the resolved invocation parameters passed to the fx module.
type Params struct {
	AccountRoot string
	AccountID   string // optional identity override; empty = directory base name
}

// Module returns the fx module for an export run, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideAccount,
			provideEnv,
			provideManager,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(account.ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func provideLogger() (*zap.Logger, error) {
	if err := account.EnsureStateDirs(); err != nil {
		return nil, err
	}
	return logging.New(account.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring state lock", zap.String("dir", account.StateDir()))
	l, err := lock.Acquire(account.StateDir())
	if err != nil {
		return nil, err
	}
	logger.Info("state lock acquired")
	return l, nil
}

func provideStore(logger *zap.Logger) (*store.DB, error) {
	dbPath := account.HistoryDBPath()
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
	logger.Info("history store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAccount(p Params, logger *zap.Logger) (*account.Account, error) {
	acct, err := account.Open(p.AccountRoot, p.AccountID)
	if err != nil {
		return nil, err
	}
	logger.Info("account opened",
		zap.String("root", acct.Root),
		zap.String("id", acct.ID),
		zap.Int("shards", len(acct.ShardPaths())),
	)
	return acct, nil
}

func provideEnv(acct *account.Account, cfg *config.Config) export.Env {
	var keys media.Keys
	if b, ok := cfg.XORByte(); ok {
		keys.XORKey = b
		keys.HasXOR = true
	}
	if k, ok := cfg.AESKey(); ok {
		keys.AESKey = k
	}
	env := export.Env{
		Account:  acct,
		Keys:     keys,
		CacheDir: account.CacheDir(acct.ID),
	}
	if cfg.CodecBin != "" {
		env.Codec = &media.Codec{Bin: cfg.CodecBin}
	}
	return env
}

func provideManager(env export.Env, b *bus.Bus, db *store.DB, logger *zap.Logger) *export.Manager {
	return export.NewManager(env, b, db, logger)
}

func registerLifecycle(lc fx.Lifecycle, mgr *export.Manager, lk *lock.Lock, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			mgr.CancelAll()
			if err := db.Close(); err != nil {
				logger.Warn("error closing history store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("exporter stopped")
			return nil
		},
	})
}
