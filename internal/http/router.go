package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dentaldir/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas base.
func NewRouter(
	logger *zap.Logger,
	jwtSvc *service.JWTService,
	authH *AuthHandler,
	messagingH *MessagingHandler,
	favoriteH *FavoriteHandler,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	auth := r.Group("/auth")
	auth.POST("/register", authH.Register)
	auth.POST("/login", authH.Login)
	auth.POST("/refresh", authH.Refresh)

	// Todo lo demas requiere token: el requester sale de los claims, nunca del body.
	api := r.Group("/", JWTAuthMiddleware(jwtSvc))

	api.GET("/conversations", messagingH.ListConversations)
	api.POST("/conversations", messagingH.StartConversation)
	api.GET("/conversations/:id/messages", messagingH.GetMessages)
	api.POST("/conversations/:id/messages", messagingH.SendMessage)
	api.POST("/conversations/:id/read", messagingH.MarkRead)

	api.GET("/me/quota", messagingH.QuotaStatus)
	api.POST("/me/plan", authH.ChangePlan)

	api.GET("/me/favorites", favoriteH.List)
	api.POST("/favorites/:dentist_id/toggle", favoriteH.Toggle)
	api.DELETE("/favorites/:dentist_id", favoriteH.Remove)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
