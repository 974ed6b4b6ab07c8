package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"draftfiles/backend/internal/storage"
)

// checkTimeout 单项检查的超时时间
const checkTimeout = 5 * time.Second

// Pinger 可探测连通性的依赖（如 Redis 缓存）
type Pinger interface {
	Ping(ctx context.Context) error
}

// WritableChecker 可检查是否可写的存储卷
type WritableChecker interface {
	Writable() error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	checks map[string]healthcheck.Check
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
//
// 数据库作为存活检查；存储卷与缓存只影响就绪状态。
func NewHealthChecker(repo storage.AttachmentRepository, blobs storage.BlobStore, cache Pinger, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		checks: make(map[string]healthcheck.Check),
		logger: logger,
	}

	hc.addLiveness("database", RepositoryHealthCheck(repo))
	if checker, ok := blobs.(WritableChecker); ok {
		hc.addReadiness("storage", checker.Writable)
	}
	if cache != nil {
		hc.addReadiness("cache", PingHealthCheck(cache))
	}

	return hc
}

func (hc *HealthChecker) addLiveness(name string, check healthcheck.Check) {
	hc.health.AddLivenessCheck(name, check)
	hc.checks[name] = check
}

func (hc *HealthChecker) addReadiness(name string, check healthcheck.Check) {
	hc.health.AddReadinessCheck(name, check)
	hc.checks[name] = check
}

// Handler 返回健康检查处理器，提供 /live 与 /ready
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行全部检查，返回每项的结果与整体是否健康
func (hc *HealthChecker) CheckHealth() (map[string]string, bool) {
	results := make(map[string]string, len(hc.checks)+1)
	healthy := true

	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := hc.checks[name](); err != nil {
			results[name] = fmt.Sprintf("ERROR: %v", err)
			healthy = false
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
		} else {
			results[name] = "OK"
		}
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results, healthy
}

// RepositoryHealthCheck 附件记录存储健康检查
func RepositoryHealthCheck(repo storage.AttachmentRepository) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		return repo.Health(ctx)
	}
}

// PingHealthCheck 缓存健康检查
func PingHealthCheck(p Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		return p.Ping(ctx)
	}
}
