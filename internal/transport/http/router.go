package httptransport

import (
	"net/http"
	"strings"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"draftfiles/backend/internal/config"
	"draftfiles/backend/internal/health"
	"draftfiles/backend/internal/middleware"
	"draftfiles/backend/internal/monitoring"
	"draftfiles/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config    *config.Config
	Lifecycle service.Lifecycle
	Health    *health.HealthChecker
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config

	router := gin.New()

	mm := middleware.NewMonitoringMiddleware(deps.Metrics, logger)
	router.Use(mm.PanicRecovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(mm.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Draft-Id"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	router.Use(gincors.New(corsConfig))

	handler := NewAttachmentHandler(deps.Lifecycle, cfg.Attachments.MaxUploadSize, logger)
	uploadLimit := middleware.RateLimit(middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerMinute: cfg.RateLimit.UploadsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	}))
	jsonLimit := middleware.BodySizeLimit(middleware.SmallBodyLimit)

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		results, healthy := deps.Health.CheckHealth()
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": statusText(healthy), "checks": results})
	})
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== Draft Routes ==========
		drafts := v1.Group("/drafts")
		{
			drafts.POST("", handler.beginDraft)
			drafts.GET("/:draftId/attachments", handler.listDraft)
			drafts.DELETE("/:draftId", handler.discardDraft)
			drafts.POST("/:draftId/persist", middleware.BodySizeLimit(cfg.Attachments.MaxUploadSize+middleware.SmallBodyLimit), handler.persist)
		}

		// ========== Field Routes ==========
		fields := v1.Group("/fields/:field")
		{
			fields.POST("/attachments", uploadLimit, middleware.BodySizeLimit(cfg.Attachments.MaxUploadSize+middleware.MultipartOverhead), handler.upload)
			fields.POST("/attachments/detach", jsonLimit, handler.detachSource)
			fields.GET("/owners/:type/:id/attachments", handler.list)
		}

		// ========== Attachment Routes ==========
		v1.DELETE("/attachments/:id", handler.detach)
		v1.DELETE("/owners/:type/:id/attachments", handler.deleteOwner)
	}

	// 附件访问路径，与扫描器识别的链接格式一致
	files := router.Group(strings.TrimRight(cfg.Attachments.URLPrefix, "/"), middleware.FileSandbox())
	{
		files.GET("/:id/*name", handler.serve)
	}

	router.NoRoute(func(c *gin.Context) {
		NotFound(c, "接口不存在")
	})

	return router
}

func statusText(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}
