package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/AutoEver-4Ever/ever-gateway/internal/http/handlers"
	httpMW "github.com/AutoEver-4Ever/ever-gateway/internal/http/middleware"
	"github.com/AutoEver-4Ever/ever-gateway/internal/platform/logger"
)

type RouterConfig struct {
	Log             *logger.Logger
	AuthMiddleware  *httpMW.AuthMiddleware
	AlarmHandler    *httpH.AlarmHandler
	FcmTokenHandler *httpH.FcmTokenHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("ever-gateway"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.CORS())
	r.Use(httpMW.RequestLogger(cfg.Log))

	// Health
	r.GET("/healthcheck", httpH.HealthCheck)

	api := r.Group("/api")
	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Notifications
		if cfg.AlarmHandler != nil {
			notifications := protected.Group("/alarm/notifications")
			notifications.GET("/list", cfg.AlarmHandler.List)
			notifications.GET("/count", cfg.AlarmHandler.Count)
			notifications.GET("/subscribe", cfg.AlarmHandler.Subscribe)
			notifications.PATCH("/list/read", cfg.AlarmHandler.MarkReadList)
			notifications.PATCH("/all/read", cfg.AlarmHandler.MarkReadAll)
			notifications.PATCH("/:notificationId/read", cfg.AlarmHandler.MarkReadOne)
		}

		// FCM tokens
		if cfg.FcmTokenHandler != nil {
			protected.POST("/alarm/fcm-tokens/register", cfg.FcmTokenHandler.Register)
		}
	}

	return r
}
