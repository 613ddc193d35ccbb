package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/rail-geofence/internal/logging"
	"github.com/signalsfoundry/rail-geofence/model"
)

// statusFor maps store and service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case model.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidArgument):
		return http.StatusBadRequest
	case model.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": ...}. Internal errors are logged and
// their text is not exposed.
func writeError(c *gin.Context, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		ctx := c.Request.Context()
		logging.FromContext(ctx, nil).Error(ctx, "request failed", logging.Err(err))
		msg = "internal error"
	}
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

func badRequest(c *gin.Context, format string, args ...any) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf(format, args...)})
}

// Query helpers report whether the parameter was present and valid; on a
// malformed value they write a 400 and return ok=false.

func queryFloat(c *gin.Context, key string, fallback float64) (float64, bool) {
	raw, present := c.GetQuery(key)
	if !present || raw == "" {
		return fallback, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		badRequest(c, "invalid %s parameter", key)
		return 0, false
	}
	return v, true
}

func queryOptionalFloat(c *gin.Context, key string) (*float64, bool) {
	raw, present := c.GetQuery(key)
	if !present || raw == "" {
		return nil, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		badRequest(c, "invalid %s parameter", key)
		return nil, false
	}
	return &v, true
}

func queryInt(c *gin.Context, key string, fallback int) (int, bool) {
	raw, present := c.GetQuery(key)
	if !present || raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, "invalid %s parameter", key)
		return 0, false
	}
	return v, true
}

func queryOptionalBool(c *gin.Context, key string) (*bool, bool) {
	raw, present := c.GetQuery(key)
	if !present || raw == "" {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		badRequest(c, "invalid %s parameter", key)
		return nil, false
	}
	return &v, true
}

func queryTime(c *gin.Context, key string) (time.Time, bool) {
	raw, present := c.GetQuery(key)
	if !present || raw == "" {
		return time.Time{}, true
	}
	v, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		badRequest(c, "invalid %s parameter, want RFC 3339", key)
		return time.Time{}, false
	}
	return v, true
}
