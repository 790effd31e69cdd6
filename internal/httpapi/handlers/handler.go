package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orzlee/jdbot/internal/config"
	"github.com/orzlee/jdbot/internal/store"
)

// SessionPublisher queues a session job for the worker.
type SessionPublisher interface {
	PublishSession(ctx context.Context, jobID string) error
}

type Handler struct {
	Repo *store.Repo
	Cfg  config.Config
	Pub  SessionPublisher
}

func New(repo *store.Repo, cfg config.Config, pub SessionPublisher) *Handler {
	return &Handler{Repo: repo, Cfg: cfg, Pub: pub}
}

func (h *Handler) Ping(c *gin.Context) {
	ok(c, gin.H{"pong": true})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, gin.H{
		"code":    0,
		"message": "accepted",
		"data":    data,
	})
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}
