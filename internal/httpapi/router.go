// Package httpapi is the REST façade: reference-data administration, location
// updates that run the geofence checks, alert queries and simulation triggers.
package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/rail-geofence/core"
	"github.com/signalsfoundry/rail-geofence/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// Deps are the services the handlers call.
type Deps struct {
	Store  core.AdminStore
	Motion *core.MotionSimulator
	Alerts *core.AlertService
	Log    logging.Logger
	// Metrics is optional request instrumentation.
	Metrics gin.HandlerFunc
	// Health is optional; without it /healthz always reports healthy.
	Health *HealthChecker
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = logging.Noop()
	}
	if d.Health == nil {
		d.Health = NewHealthChecker()
	}

	r := gin.New()
	r.Use(gin.Recovery(), corsPolicy(), requestLogger(d.Log))
	if d.Metrics != nil {
		r.Use(d.Metrics)
	}

	d.Health.Register(r)

	NewStationHandler(d.Store).Register(r.Group("/stations"))
	NewTrainHandler(d.Store, d.Motion).Register(r.Group("/trains"))
	NewObjectHandler(d.Store, d.Motion).Register(r.Group("/objects"))
	NewUserHandler(d.Store, d.Alerts).Register(r.Group("/users"))
	NewAlertHandler(d.Alerts).Register(r.Group("/alerts"))
	NewSimulationHandler(d.Motion).Register(r.Group("/simulate"))
	return r
}

// corsPolicy lets browser dashboards on any origin call the API.
func corsPolicy() gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", requestIDHeader}
	cfg.ExposeHeaders = []string{requestIDHeader}
	return cors.New(cfg)
}

// requestLogger attaches a request id and a request logger to the request
// context and echoes the id in the response.
func requestLogger(base logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if incoming := c.GetHeader(requestIDHeader); incoming != "" {
			ctx = logging.ContextWithRequestID(ctx, incoming)
		}
		ctx, reqLog := logging.WithRequestLogger(ctx, base.With(
			logging.String("method", c.Request.Method),
			logging.String("path", c.Request.URL.Path),
		))
		ctx = logging.ContextWithLogger(ctx, reqLog)
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestIDHeader, logging.RequestIDFromContext(ctx))

		c.Next()

		reqLog.Debug(ctx, "request handled",
			logging.String("route", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
		)
	}
}
