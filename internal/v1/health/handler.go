// Package health exposes Kubernetes-style liveness and readiness probes.
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RoomCounter reports how many rooms are currently live. The hub satisfies
// this; tests substitute a stub.
type RoomCounter interface {
	RoomCount() int
}

// Handler manages health check endpoints
type Handler struct {
	rooms RoomCounter
}

// NewHandler creates a new health check handler
func NewHandler(rooms RoomCounter) *Handler {
	return &Handler{rooms: rooms}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string         `json:"status"`
	Checks    map[string]any `json:"checks"`
	Timestamp string         `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// The relay has no external dependencies, so readiness reports hub state
// and is healthy whenever the process can serve.
func (h *Handler) Readiness(c *gin.Context) {
	checks := map[string]any{
		"hub": "healthy",
	}
	if h.rooms != nil {
		checks["active_rooms"] = h.rooms.RoomCount()
	}

	response := ReadinessResponse{
		Status:    "ready",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}
