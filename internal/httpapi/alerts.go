package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/rail-geofence/core"
	"github.com/signalsfoundry/rail-geofence/internal/wire"
	"github.com/signalsfoundry/rail-geofence/model"
)

const defaultStatsDays = 7

type AlertHandler struct {
	alerts *core.AlertService
}

func NewAlertHandler(alerts *core.AlertService) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

func (h *AlertHandler) Register(r *gin.RouterGroup) {
	r.GET("", h.List)
	r.POST("", h.Create)
	r.GET("/active", h.Active)
	r.GET("/stats/summary", h.Stats)
	r.GET("/:id", h.Get)
	r.PUT("/:id/resolve", h.Resolve)
	r.DELETE("/:id", h.Delete)
}

// List accepts alert_type, resolved, train_number, object_id, station_code,
// since (RFC 3339) and limit.
func (h *AlertHandler) List(c *gin.Context) {
	var (
		f  model.AlertFilter
		ok bool
	)
	if raw := c.Query("alert_type"); raw != "" {
		kind, err := model.ParseAlertKind(raw)
		if err != nil {
			writeError(c, err)
			return
		}
		f.Kind = kind
	}
	if f.Resolved, ok = queryOptionalBool(c, "resolved"); !ok {
		return
	}
	if f.Since, ok = queryTime(c, "since"); !ok {
		return
	}
	if f.Limit, ok = queryInt(c, "limit", 0); !ok {
		return
	}
	f.TrainNumber = c.Query("train_number")
	f.ObjectID = c.Query("object_id")
	f.StationCode = c.Query("station_code")

	alerts, err := h.alerts.ListAlerts(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.FromAlerts(alerts))
}

// Active lists unresolved alerts, optionally narrowed by alert_type and
// train_number.
func (h *AlertHandler) Active(c *gin.Context) {
	var kind model.AlertKind
	if raw := c.Query("alert_type"); raw != "" {
		k, err := model.ParseAlertKind(raw)
		if err != nil {
			writeError(c, err)
			return
		}
		kind = k
	}
	alerts, err := h.alerts.ActiveAlerts(c.Request.Context(), kind, c.Query("train_number"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.FromAlerts(alerts))
}

func (h *AlertHandler) Get(c *gin.Context) {
	a, err := h.alerts.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// Create raises an alert by hand. The body carries "type" plus the fields of
// that variant.
func (h *AlertHandler) Create(c *gin.Context) {
	var a model.Alert
	if err := c.ShouldBindJSON(&a); err != nil {
		badRequest(c, "invalid alert body: %v", err)
		return
	}
	created, err := h.alerts.CreateAlert(c.Request.Context(), &a)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *AlertHandler) Resolve(c *gin.Context) {
	a, err := h.alerts.ResolveAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *AlertHandler) Delete(c *gin.Context) {
	if err := h.alerts.DeleteAlert(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "alert deleted"})
}

func (h *AlertHandler) Stats(c *gin.Context) {
	days, ok := queryInt(c, "days", defaultStatsDays)
	if !ok {
		return
	}
	stats, err := h.alerts.Stats(c.Request.Context(), days)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.FromStats(stats))
}
