package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthChecker reports the state of the service's dependencies on /healthz.
type HealthChecker struct {
	checks map[string]HealthCheck
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]HealthCheck)}
}

// Add registers a named check. Nil checks are ignored.
func (h *HealthChecker) Add(name string, check HealthCheck) *HealthChecker {
	if check != nil {
		h.checks[name] = check
	}
	return h
}

func (h *HealthChecker) Register(r *gin.Engine) {
	r.GET("/healthz", h.Handle)
}

func (h *HealthChecker) Handle(c *gin.Context) {
	status := http.StatusOK
	deps := gin.H{}

	for name, check := range h.checks {
		if err := check(c.Request.Context()); err != nil {
			deps[name] = gin.H{"status": "down", "error": err.Error()}
			status = http.StatusServiceUnavailable
		} else {
			deps[name] = gin.H{"status": "up"}
		}
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":       overall,
		"dependencies": deps,
	})
}
