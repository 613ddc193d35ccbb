package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/rail-geofence/core"
	"github.com/signalsfoundry/rail-geofence/internal/wire"
	"github.com/signalsfoundry/rail-geofence/model"
)

type StationHandler struct {
	store core.AdminStore
}

func NewStationHandler(store core.AdminStore) *StationHandler {
	return &StationHandler{store: store}
}

func (h *StationHandler) Register(r *gin.RouterGroup) {
	r.GET("", h.List)
	r.POST("", h.Create)
	r.GET("/:code", h.Get)
	r.DELETE("/:code", h.Delete)
}

func (h *StationHandler) List(c *gin.Context) {
	stations, err := h.store.ListStations(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stations)
}

func (h *StationHandler) Get(c *gin.Context) {
	s, err := h.store.GetStation(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *StationHandler) Create(c *gin.Context) {
	var s model.Station
	if err := c.ShouldBindJSON(&s); err != nil {
		badRequest(c, "invalid station body: %v", err)
		return
	}
	if err := h.store.CreateStation(c.Request.Context(), &s); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *StationHandler) Delete(c *gin.Context) {
	if err := h.store.DeleteStation(c.Request.Context(), c.Param("code")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "station deleted"})
}

type TrainHandler struct {
	store  core.AdminStore
	motion *core.MotionSimulator
}

func NewTrainHandler(store core.AdminStore, motion *core.MotionSimulator) *TrainHandler {
	return &TrainHandler{store: store, motion: motion}
}

func (h *TrainHandler) Register(r *gin.RouterGroup) {
	r.GET("", h.List)
	r.POST("", h.Create)
	r.GET("/:number", h.Get)
	r.PUT("/:number", h.Replace)
	r.PUT("/:number/location", h.UpdateLocation)
	r.DELETE("/:number", h.Delete)
}

func (h *TrainHandler) List(c *gin.Context) {
	trains, err := h.store.ListTrains(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trains)
}

func (h *TrainHandler) Get(c *gin.Context) {
	t, err := h.store.GetTrain(c.Request.Context(), c.Param("number"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TrainHandler) Create(c *gin.Context) {
	var t model.Train
	if err := c.ShouldBindJSON(&t); err != nil {
		badRequest(c, "invalid train body: %v", err)
		return
	}
	if err := h.store.CreateTrain(c.Request.Context(), &t); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

type trainReplaceResponse struct {
	Train  *model.Train    `json:"train"`
	Alerts wire.Evaluation `json:"alerts"`
}

// Replace overwrites name, speed, heading and coaches and re-checks the
// train's objects against the new coach radii. The position in the body is
// ignored; moves go through /location.
func (h *TrainHandler) Replace(c *gin.Context) {
	var t model.Train
	if err := c.ShouldBindJSON(&t); err != nil {
		badRequest(c, "invalid train body: %v", err)
		return
	}
	t.Number = c.Param("number")
	stored, ev, err := h.motion.ReplaceTrain(c.Request.Context(), &t)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trainReplaceResponse{Train: stored, Alerts: wire.FromEvaluation(ev)})
}

// UpdateLocation moves the train, drags its objects along and runs the
// station proximity check.
func (h *TrainHandler) UpdateLocation(c *gin.Context) {
	var pos model.Coordinate
	if err := c.ShouldBindJSON(&pos); err != nil {
		badRequest(c, "invalid location body: %v", err)
		return
	}
	mv, err := h.motion.RelocateTrain(c.Request.Context(), c.Param("number"), pos)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.FromMovement(mv))
}

func (h *TrainHandler) Delete(c *gin.Context) {
	if err := h.store.DeleteTrain(c.Request.Context(), c.Param("number")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "train deleted"})
}

type ObjectHandler struct {
	store  core.AdminStore
	motion *core.MotionSimulator
}

func NewObjectHandler(store core.AdminStore, motion *core.MotionSimulator) *ObjectHandler {
	return &ObjectHandler{store: store, motion: motion}
}

func (h *ObjectHandler) Register(r *gin.RouterGroup) {
	r.GET("", h.List)
	r.POST("", h.Create)
	r.GET("/:id", h.Get)
	r.PUT("/:id", h.Replace)
	r.PUT("/:id/location", h.UpdateLocation)
	r.DELETE("/:id", h.Delete)
}

type objectLocationResponse struct {
	Object *model.TrackedObject `json:"object"`
	Alerts wire.Evaluation      `json:"alerts"`
}

func (h *ObjectHandler) List(c *gin.Context) {
	objects, err := h.store.ListObjects(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, objects)
}

func (h *ObjectHandler) Get(c *gin.Context) {
	o, err := h.store.GetObject(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// Create registers an object. Without a position it starts on its train.
func (h *ObjectHandler) Create(c *gin.Context) {
	var o model.TrackedObject
	if err := c.ShouldBindJSON(&o); err != nil {
		badRequest(c, "invalid object body: %v", err)
		return
	}
	ctx := c.Request.Context()
	if o.Position == (model.Coordinate{}) && o.TrainNumber != "" {
		t, err := h.store.GetTrain(ctx, o.TrainNumber)
		if err != nil {
			writeError(c, err)
			return
		}
		o.Position = t.Position
	}
	if err := h.store.CreateObject(ctx, &o); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

// Replace overwrites the object and runs the theft check when it moved or
// changed train or coach. Without a position it stays where it is.
func (h *ObjectHandler) Replace(c *gin.Context) {
	var o model.TrackedObject
	if err := c.ShouldBindJSON(&o); err != nil {
		badRequest(c, "invalid object body: %v", err)
		return
	}
	o.ID = c.Param("id")
	ev, err := h.motion.ReplaceObject(c.Request.Context(), &o)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, objectLocationResponse{Object: &o, Alerts: wire.FromEvaluation(ev)})
}

// UpdateLocation moves the object and runs the theft check.
func (h *ObjectHandler) UpdateLocation(c *gin.Context) {
	var pos model.Coordinate
	if err := c.ShouldBindJSON(&pos); err != nil {
		badRequest(c, "invalid location body: %v", err)
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	ev, err := h.motion.RelocateObject(ctx, id, pos)
	if err != nil {
		writeError(c, err)
		return
	}
	o, err := h.store.GetObject(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, objectLocationResponse{Object: o, Alerts: wire.FromEvaluation(ev)})
}

func (h *ObjectHandler) Delete(c *gin.Context) {
	if err := h.store.DeleteObject(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "object deleted"})
}

type UserHandler struct {
	store  core.AdminStore
	alerts *core.AlertService
}

func NewUserHandler(store core.AdminStore, alerts *core.AlertService) *UserHandler {
	return &UserHandler{store: store, alerts: alerts}
}

func (h *UserHandler) Register(r *gin.RouterGroup) {
	r.GET("", h.List)
	r.POST("", h.Create)
	r.GET("/:id", h.Get)
	r.DELETE("/:id", h.Delete)
	r.GET("/:id/objects", h.Objects)
	r.GET("/:id/alerts", h.Alerts)
}

func (h *UserHandler) List(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *UserHandler) Get(c *gin.Context) {
	u, err := h.store.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *UserHandler) Create(c *gin.Context) {
	var u model.User
	if err := c.ShouldBindJSON(&u); err != nil {
		badRequest(c, "invalid user body: %v", err)
		return
	}
	if err := h.store.CreateUser(c.Request.Context(), &u); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *UserHandler) Delete(c *gin.Context) {
	if err := h.store.DeleteUser(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}

// Objects returns the user's registered objects that still exist.
func (h *UserHandler) Objects(c *gin.Context) {
	ctx := c.Request.Context()
	u, err := h.store.GetUser(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]*model.TrackedObject, 0, len(u.RegisteredObjects))
	for _, id := range u.RegisteredObjects {
		o, err := h.store.GetObject(ctx, id)
		if model.IsNotFound(err) {
			continue
		}
		if err != nil {
			writeError(c, err)
			return
		}
		out = append(out, o)
	}
	c.JSON(http.StatusOK, out)
}

func (h *UserHandler) Alerts(c *gin.Context) {
	alerts, err := h.alerts.AlertsForUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.FromAlerts(alerts))
}
