package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type RouterConfig struct {
	Authenticator       Authenticator
	CharacterHandler    CharacterHandler
	ConversationHandler ConversationHandler
}

type CharacterHandler interface {
	Create(c *gin.Context)
	Get(c *gin.Context)
}

type ConversationHandler interface {
	Start(c *gin.Context)
	Turns(c *gin.Context)
	SendMessage(c *gin.Context)
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"authorization", "x-client-info", "apikey", "content-type"},
		ExposeHeaders:   []string{headerRequestID},
	}))
	r.Use(requestID(), accessLog())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1", requireAuth(cfg.Authenticator))
	{
		v1.POST("/characters", cfg.CharacterHandler.Create)
		v1.GET("/characters/:id", cfg.CharacterHandler.Get)

		v1.POST("/conversations", cfg.ConversationHandler.Start)
		v1.GET("/conversations/:id/turns", cfg.ConversationHandler.Turns)
		v1.POST("/conversations/:id/messages", cfg.ConversationHandler.SendMessage)
	}

	return r
}
