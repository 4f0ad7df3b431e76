package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stayhub/hotel-reservation-backend/internal/gateway"
	"github.com/stayhub/hotel-reservation-backend/internal/middleware"
	"github.com/stayhub/hotel-reservation-backend/internal/models"
)

// StreamHandler serves the server-sent events subscription endpoint
type StreamHandler struct {
	gateway *gateway.Gateway
	logger  *logrus.Logger
}

// NewStreamHandler creates a new StreamHandler
func NewStreamHandler(gw *gateway.Gateway, logger *logrus.Logger) *StreamHandler {
	return &StreamHandler{gateway: gw, logger: logger}
}

// sseConn adapts an SSE response writer to the gateway connection interface
type sseConn struct {
	id      string
	writer  gin.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
}

func (c *sseConn) ID() string {
	return c.id
}

func (c *sseConn) Send(event models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection closed")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.writer, "event: %s\ndata: %s\n\n", event.Kind, data); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

func (c *sseConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Stream attaches the caller to the notification bus over SSE
// @Summary Subscribe to notifications
// @Tags Stream
// @Produce text/event-stream
// @Param topics query string true "Comma-separated topic names"
// @Security BearerAuth
// @Router /api/v1/stream [get]
func (h *StreamHandler) Stream(c *gin.Context) {
	actor, exists := middleware.ActorFromContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var topics []string
	for _, t := range strings.Split(c.Query("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}

	if err := gateway.AuthorizeTopics(actor, topics); err != nil {
		kind := models.KindOf(err)
		status := http.StatusForbidden
		if kind == models.ErrKindValidationFailed {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	conn := &sseConn{
		id:      uuid.New().String(),
		writer:  c.Writer,
		flusher: flusher,
	}
	h.gateway.Register(conn, topics)

	// Hold the handler open until the client goes away
	<-c.Request.Context().Done()
	h.gateway.Unregister(conn.id)
}
