// Package bootstrap 根据配置组装存储层与附件生命周期服务，
// 供 HTTP 服务与命令行工具共用。
package bootstrap

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"draftfiles/backend/internal/cache"
	"draftfiles/backend/internal/config"
	"draftfiles/backend/internal/health"
	"draftfiles/backend/internal/monitoring"
	"draftfiles/backend/internal/scanner"
	"draftfiles/backend/internal/security"
	"draftfiles/backend/internal/service"
	"draftfiles/backend/internal/storage"
	"draftfiles/backend/internal/storage/filesystem"
	"draftfiles/backend/internal/storage/hybrid"
	"draftfiles/backend/internal/storage/memory"
	"draftfiles/backend/internal/storage/postgres"
	"draftfiles/backend/internal/storage/redis"
)

// localListCacheSize 本地列表缓存的最大条目数
const localListCacheSize = 10000

// App 组装完成的组件
type App struct {
	Repo    storage.AttachmentRepository
	Blobs   storage.BlobStore
	Manager *service.Manager
	Metrics *monitoring.Metrics
	Health  *health.HealthChecker

	closers []func() error
}

// New 按配置创建全部组件，reg 为空时使用默认注册表
func New(cfg *config.Config, reg prometheus.Registerer, log *zap.Logger) (*App, error) {
	app := &App{}

	repo, err := OpenRepository(cfg, log)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, repo.Close)

	// 列表缓存：配置了 Redis 时使用 Redis，否则使用进程内缓存
	var (
		listCache storage.ListCache
		pinger    health.Pinger
	)
	if cfg.Redis.Address != "" {
		rc, err := redis.NewCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.ListTTL)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.closers = append(app.closers, rc.Close)
		listCache, pinger = rc, rc
		log.Info("using redis list cache", zap.String("address", cfg.Redis.Address))
	} else {
		lc := cache.NewListCache(localListCacheSize, cfg.Redis.ListTTL)
		app.closers = append(app.closers, func() error { lc.Close(); return nil })
		listCache = lc
		log.Info("using local list cache", zap.Duration("ttl", cfg.Redis.ListTTL))
	}
	app.Repo = hybrid.NewStore(repo, listCache, log)

	blobs, err := OpenBlobStore(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Blobs = blobs
	log.Info("blob storage initialized", zap.String("disk", blobs.Disk()), zap.String("path", cfg.Storage.Path))

	sc, err := scanner.New(cfg.Attachments.URLPrefix, cfg.Attachments.PublicBaseURL)
	if err != nil {
		app.Close()
		return nil, err
	}
	if cfg.Attachments.PublicBaseURL == "" {
		log.Warn("public_base_url not set, only relative attachment links count as references",
			zap.String("prefix", sc.Prefix()))
	}

	app.Metrics = monitoring.NewMetrics(reg)
	app.Manager, err = service.NewManager(app.Repo, app.Blobs, service.Options{
		PruneOnSave: cfg.Attachments.PruneOnSave,
		Scanner:     sc,
		Policy:      security.NewUploadPolicy(cfg.Attachments.MaxUploadSize, cfg.Attachments.AllowedTypes),
		Metrics:     app.Metrics,
		Logger:      log,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Health = health.NewHealthChecker(app.Repo, app.Blobs, pinger, log)
	return app, nil
}

// Close 按创建的逆序释放资源
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenRepository 按数据库类型与表结构驱动打开记录存储，未配置数据库时使用内存存储
func OpenRepository(cfg *config.Config, log *zap.Logger) (storage.AttachmentRepository, error) {
	switch cfg.Database.Type {
	case "", "memory":
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	}

	dialector, opts, err := postgres.Dialector(cfg.Database.Type, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Type != "sqlite" {
		opts = postgres.Options{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}
	}

	log.Info("initializing database storage",
		zap.String("database_type", cfg.Database.Type),
		zap.String("driver", cfg.Attachments.Driver))

	if cfg.Attachments.Driver == "compat" {
		store, err := postgres.NewCompatStoreWithDialector(dialector, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Database.Type, err)
		}
		return store, nil
	}
	store, err := postgres.NewStoreWithDialector(dialector, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Database.Type, err)
	}
	return store, nil
}

// OpenBlobStore 按存储卷名称选择字节存储
func OpenBlobStore(cfg *config.Config) (storage.BlobStore, error) {
	if cfg.Storage.Disk == "memory" {
		return memory.NewBlobStore("memory"), nil
	}
	store, err := filesystem.NewStore(cfg.Storage.Disk, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize filesystem storage: %w", err)
	}
	return store, nil
}
