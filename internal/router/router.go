package router

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weibaohui/pleroma/backend/config"
	"github.com/weibaohui/pleroma/backend/internal/handler"
	"github.com/weibaohui/pleroma/backend/internal/middleware"
	"github.com/weibaohui/pleroma/backend/internal/pkg/metrics"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func Setup(
	cfg *config.Config,
	syllabusHandler *handler.SyllabusHandler,
	lessonHandler *handler.LessonHandler,
	chatHandler *handler.ChatHandler,
	m *metrics.Metrics,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))
	// SSE 响应需要逐条刷新，不能经过 gzip 缓冲
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/chat"})))
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(middleware.Metrics(m))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth(cfg.Auth.JWTSecret))
	{
		syllabi := api.Group("/syllabus")
		{
			syllabi.POST("", syllabusHandler.Create)
			syllabi.GET("", syllabusHandler.List)
			syllabi.GET("/queue", lessonHandler.QueueStatus) // 异步批量队列状态
			syllabi.GET("/:slug", syllabusHandler.Get)
			syllabi.GET("/:slug/jobs", syllabusHandler.ListJobs)
			syllabi.POST("/:slug/lessons/:idx/generate", lessonHandler.Generate)
			syllabi.POST("/:slug/generate-next", lessonHandler.GenerateNext)
		}

		api.POST("/chat", chatHandler.Chat)
	}

	return r
}
