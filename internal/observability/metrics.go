package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// APICollector bundles Prometheus metrics for the gRPC and REST surfaces and
// provides helpers to wire them into servers and HTTP handlers.
type APICollector struct {
	gatherer prometheus.Gatherer

	RPCRequests   *prometheus.CounterVec
	RPCDurations  *prometheus.HistogramVec
	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	Stations         prometheus.Gauge
	Trains           prometheus.Gauge
	TrackedObjects   prometheus.Gauge
	UnresolvedAlerts prometheus.Gauge
}

// NewAPICollector registers API Prometheus metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewAPICollector(reg prometheus.Registerer) (*APICollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	latencyBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

	rpcRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railfence_rpc_requests_total",
		Help: "Total number of handled gRPC calls, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "railfence_rpc_requests_total")
	if err != nil {
		return nil, err
	}
	rpcDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "railfence_rpc_request_duration_seconds",
		Help:    "gRPC call latency in seconds.",
		Buckets: latencyBuckets,
	}, []string{"service", "method"}), "railfence_rpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	httpRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railfence_http_requests_total",
		Help: "Total number of handled REST requests, labeled by method, route, and status.",
	}, []string{"method", "route", "status"}), "railfence_http_requests_total")
	if err != nil {
		return nil, err
	}
	httpDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "railfence_http_request_duration_seconds",
		Help:    "REST request latency in seconds.",
		Buckets: latencyBuckets,
	}, []string{"method", "route"}), "railfence_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	stations, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "railfence_stations",
		Help: "Current number of stations in the store.",
	}), "railfence_stations")
	if err != nil {
		return nil, err
	}
	trains, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "railfence_trains",
		Help: "Current number of trains in the store.",
	}), "railfence_trains")
	if err != nil {
		return nil, err
	}
	objects, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "railfence_tracked_objects",
		Help: "Current number of tracked objects in the store.",
	}), "railfence_tracked_objects")
	if err != nil {
		return nil, err
	}
	unresolved, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "railfence_unresolved_alerts",
		Help: "Current number of unresolved alerts.",
	}), "railfence_unresolved_alerts")
	if err != nil {
		return nil, err
	}

	return &APICollector{
		gatherer:         gatherer,
		RPCRequests:      rpcRequests,
		RPCDurations:     rpcDurations,
		HTTPRequests:     httpRequests,
		HTTPDurations:    httpDurations,
		Stations:         stations,
		Trains:           trains,
		TrackedObjects:   objects,
		UnresolvedAlerts: unresolved,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *APICollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// GinMiddleware records request counts and durations for REST routes. The
// route label is the registered pattern, not the raw path, so ids do not
// explode cardinality.
func (c *APICollector) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		if c == nil {
			return
		}
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := ctx.Request.Method
		if c.HTTPRequests != nil {
			c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(ctx.Writer.Status())).Inc()
		}
		if c.HTTPDurations != nil {
			c.HTTPDurations.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		}
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *APICollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetEntityCounts updates the store gauges. The simulation runner calls it
// after every tick.
func (c *APICollector) SetEntityCounts(stations, trains, objects, unresolvedAlerts int) {
	if c == nil {
		return
	}
	if c.Stations != nil {
		c.Stations.Set(float64(stations))
	}
	if c.Trains != nil {
		c.Trains.Set(float64(trains))
	}
	if c.TrackedObjects != nil {
		c.TrackedObjects.Set(float64(objects))
	}
	if c.UnresolvedAlerts != nil {
		c.UnresolvedAlerts.Set(float64(unresolvedAlerts))
	}
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
