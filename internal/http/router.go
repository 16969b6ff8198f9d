package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/weblink-backend/internal/http/handlers"
	httpMW "github.com/yungbote/weblink-backend/internal/http/middleware"
	"github.com/yungbote/weblink-backend/internal/observability"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	ServiceName    string
	AllowedOrigins []string

	WeblinkHandler *httpH.WeblinkHandler
	HealthHandler  *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowedOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	api.Use(httpMW.RequireUser())
	{
		// Weblinks
		if cfg.WeblinkHandler != nil {
			api.POST("/weblinks", cfg.WeblinkHandler.StoreLinks)
			api.GET("/weblinks/content", cfg.WeblinkHandler.ReadContent)
			api.POST("/weblinks/read", cfg.WeblinkHandler.ReadMulti)
			api.GET("/weblinks/history", cfg.WeblinkHandler.History)
			api.POST("/weblinks/marks", cfg.WeblinkHandler.SaveMarks)
			api.GET("/weblinks/:linkId", cfg.WeblinkHandler.Get)
		}
	}

	return r
}
