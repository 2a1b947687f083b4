package daemon

import (
	"context"
	"time"

	"github.com/helgasoul/eva-sync/internal/api"
	"github.com/helgasoul/eva-sync/internal/backup"
	"github.com/helgasoul/eva-sync/internal/blob"
	"github.com/helgasoul/eva-sync/internal/bus"
	"github.com/helgasoul/eva-sync/internal/config"
	"github.com/helgasoul/eva-sync/internal/lock"
	"github.com/helgasoul/eva-sync/internal/logging"
	"github.com/helgasoul/eva-sync/internal/netmon"
	"github.com/helgasoul/eva-sync/internal/profile"
	"github.com/helgasoul/eva-sync/internal/remote"
	"github.com/helgasoul/eva-sync/internal/store"
	intsync "github.com/helgasoul/eva-sync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	probeInterval = 10 * time.Second
	sweepInterval = 10 * time.Minute
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideRemote,
			provideBlob,
			provideMonitor,
			provideCoordinator,
			provideBackups,
			provideHandler,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideConfig() (*config.Config, error) {
	return config.Load(profile.ConfigPath())
}

func provideBus() *bus.Bus {
	return bus.New()
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

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRemote(cfg *config.Config) remote.Store {
	return remote.NewClient(remote.Config{
		BaseURL:  cfg.Remote.BaseURL,
		APIKey:   cfg.Remote.APIKey,
		Attempts: cfg.Sync.RetryAttempts,
	})
}

func provideBlob(cfg *config.Config, logger *zap.Logger) (blob.Storage, error) {
	if cfg.Blob.Bucket == "" {
		logger.Info("no backup bucket configured, backups stay local")
		return nil, nil
	}
	return blob.NewS3Storage(context.Background(), blob.S3Config{
		Bucket:    cfg.Blob.Bucket,
		Region:    cfg.Blob.Region,
		Endpoint:  cfg.Blob.Endpoint,
		AccessKey: cfg.Blob.AccessKey,
		SecretKey: cfg.Blob.SecretKey,
	})
}

func provideMonitor(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *netmon.Monitor {
	healthURL := cfg.Remote.HealthURL
	if healthURL == "" {
		healthURL = cfg.Remote.BaseURL + "/auth/v1/health"
	}
	return netmon.New(netmon.NewHTTPProber(healthURL), b, logger, probeInterval)
}

func provideCoordinator(cfg *config.Config, db *store.DB, rs remote.Store, monitor *netmon.Monitor, b *bus.Bus, logger *zap.Logger) (*intsync.Coordinator, error) {
	settings, err := settingsFromConfig(cfg.Sync)
	if err != nil {
		return nil, err
	}
	return intsync.NewCoordinator(db, rs, monitor, b, logger, cfg.Profile.UserID, settings), nil
}

func settingsFromConfig(cfg config.SyncConfig) (intsync.Settings, error) {
	policy, err := intsync.ParsePolicy(cfg.ConflictResolution)
	if err != nil {
		return intsync.Settings{}, err
	}
	cols := make([]store.Collection, 0, len(cfg.PriorityCollections))
	for _, name := range cfg.PriorityCollections {
		col, err := store.ParseCollection(name)
		if err != nil {
			return intsync.Settings{}, err
		}
		cols = append(cols, col)
	}
	return intsync.Settings{
		AutoSync:            cfg.AutoSync,
		Interval:            cfg.Interval(),
		BatchSize:           cfg.BatchSize,
		RetryAttempts:       cfg.RetryAttempts,
		ConflictResolution:  policy,
		PriorityCollections: cols,
	}, nil
}

func provideBackups(db *store.DB, bs blob.Storage, monitor *netmon.Monitor, logger *zap.Logger) *backup.Manager {
	return backup.NewManager(db, bs, monitor, logger)
}

func provideHandler(coord *intsync.Coordinator, backups *backup.Manager, db *store.DB, cfg *config.Config, logger *zap.Logger) *api.Handler {
	return api.NewHandler(coord, backups, db, cfg.Profile.UserID, logger)
}

func provideServer(p Params, h *api.Handler, logger *zap.Logger) *api.Server {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.ProfileName)
	}
	return api.NewServer(h, socketPath, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *api.Server, lk *lock.Lock, db *store.DB, monitor *netmon.Monitor, coord *intsync.Coordinator, logger *zap.Logger) {
	var sweepCancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			monitor.Start(context.Background())
			coord.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control api error", zap.Error(err))
				}
			}()

			var sweepCtx context.Context
			sweepCtx, sweepCancel = context.WithCancel(context.Background())
			go sweepCache(sweepCtx, db, logger)

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if sweepCancel != nil {
				sweepCancel()
			}
			coord.Stop()
			monitor.Stop()
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

// sweepCache periodically evicts expired cache entries; reads also evict
// lazily, this just bounds table growth.
func sweepCache(ctx context.Context, db *store.DB, logger *zap.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := db.CacheSweep()
			if err != nil {
				logger.Warn("cache sweep failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("cache swept", zap.Int("evicted", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
