package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/fitmate-chat/internal/chat"
	"github.com/suPer8Hu/fitmate-chat/internal/common"
	"github.com/suPer8Hu/fitmate-chat/internal/config"
	"github.com/suPer8Hu/fitmate-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/fitmate-chat/internal/httpapi/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func NewRouter(db *gorm.DB, cfg config.Config, chatSvc *chat.Service, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recovery(logger))

	// browser clients send the session cookie cross-origin
	if len(cfg.CORSOrigins) > 0 {
		if cfg.SessionSameSite() != http.SameSiteNoneMode {
			logger.Warn("CORS origins set but session cookie is not SameSite=None; cross-site browsers will not send it",
				zap.Strings("origins", cfg.CORSOrigins))
		}
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
			ExposeHeaders:    []string{middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(db, cfg, chatSvc, logger)

	r.GET("/ping", h.Ping)

	// auth
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/logout", h.Logout)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret, cfg.CookieName))
	authGroup.GET("/auth/me", h.Me)

	// Chat (JWT required)
	authGroup.GET("/chat/conversations", h.ListConversations)
	authGroup.POST("/chat/message", h.SendMessage)
	authGroup.GET("/chat/:conversationId", h.GetConversation)
	authGroup.DELETE("/chat/:conversationId", h.DeleteConversation)
	return r
}
