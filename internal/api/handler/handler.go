// Package handler serves the admin HTTP API.
package handler

import (
	"net/http"

	"supportdesk/backend/internal/chathub"
	"supportdesk/backend/internal/queue"
	"supportdesk/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler holds the collaborators the admin endpoints read from.
type Handler struct {
	Directory storage.Directory
	Queues    queue.Manager
	Hub       *chathub.EventHub
	JWTSecret []byte
	AdminKey  string

	log logrus.FieldLogger
}

func NewHandler(dir storage.Directory, q queue.Manager, hub *chathub.EventHub, jwtSecret, adminKey string, log logrus.FieldLogger) *Handler {
	return &Handler{
		Directory: dir,
		Queues:    q,
		Hub:       hub,
		JWTSecret: []byte(jwtSecret),
		AdminKey:  adminKey,
		log:       log.WithField("component", "admin_api"),
	}
}

// Router registers every route on a fresh engine.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())

	r.GET("/healthz", h.Health)
	r.POST("/api/token", h.IssueToken)

	api := r.Group("/api", h.RequireToken())
	api.GET("/queues", h.QueueStats)
	api.GET("/operators", h.OperatorList)

	r.GET("/ws/events", h.RequireToken(), h.ServeEvents)
	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		h.log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
		}).Debug("request served")
	}
}
