package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orzlee/jdbot/internal/config"
	"github.com/orzlee/jdbot/internal/httpapi/handlers"
	"github.com/orzlee/jdbot/internal/httpapi/middleware"
	"github.com/orzlee/jdbot/internal/store"
)

func NewRouter(repo *store.Repo, cfg config.Config, pub handlers.SessionPublisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": 40400, "message": "route not found", "data": nil})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"code": 40500, "message": "method not allowed", "data": nil})
	})

	h := handlers.New(repo, cfg, pub)

	r.GET("/ping", h.Ping)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.POST("/trigger", h.CreateTrigger)
	authGroup.GET("/jobs/:id", h.GetJob)

	return r
}
