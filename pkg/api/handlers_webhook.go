package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"refreshd/pkg/api/middleware"
	"refreshd/pkg/executor"
	"refreshd/pkg/models"
)

// MemoryFunc returns available host memory in bytes.
type MemoryFunc func() (uint64, error)

// AvailableMemory reads available memory through gopsutil.
func AvailableMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// HealthResponse is the body of every GET on the webhook listener.
type HealthResponse struct {
	Status          string `json:"status"`
	Message         string `json:"message"`
	Timestamp       string `json:"timestamp"`
	MemoryAvailable uint64 `json:"memory_available_bytes,omitempty"`
}

// health handles GET on any path.
func (s *Server) health(c *gin.Context) {
	resp := HealthResponse{
		Status:    "ok",
		Message:   "Webhook server is running",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if avail, err := s.memory(); err == nil {
		resp.MemoryAvailable = avail
	} else {
		s.log.Debug("failed to read host memory", zap.Error(err))
	}
	c.JSON(http.StatusOK, resp)
}

// refresh handles an authenticated POST on any path. The body carries
// nothing we need, so it is drained and ignored.
func (s *Server) refresh(c *gin.Context) {
	if _, err := io.Copy(io.Discard, c.Request.Body); err != nil {
		if middleware.IsBodyTooLarge(err) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	res, err := s.refresher.Trigger(c.Request.Context(), executor.TriggerInfo{
		Source:    models.TriggerWebhook,
		RequestID: middleware.RequestID(c),
	})
	switch {
	case errors.Is(err, executor.ErrSuspended):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		// Step failures are reported in the body with a 200.
		c.JSON(http.StatusOK, res)
	}
}
