package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/rail-geofence/core"
	"github.com/signalsfoundry/rail-geofence/internal/wire"
)

type SimulationHandler struct {
	motion *core.MotionSimulator
}

func NewSimulationHandler(motion *core.MotionSimulator) *SimulationHandler {
	return &SimulationHandler{motion: motion}
}

func (h *SimulationHandler) Register(r *gin.RouterGroup) {
	r.POST("/train-movement", h.TrainMovement)
	r.POST("/object-theft/:id", h.ObjectTheft)
	r.POST("/full-journey/:number", h.FullJourney)
	r.POST("/random-events", h.RandomEvents)
}

// TrainMovement ticks every train, or only train_number when given. A
// distance_km overrides the speed-based step.
func (h *SimulationHandler) TrainMovement(c *gin.Context) {
	distance, ok := queryOptionalFloat(c, "distance_km")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var (
		moves []core.Movement
		err   error
	)
	switch number := c.Query("train_number"); {
	case number != "" && distance != nil:
		var mv core.Movement
		mv, err = h.motion.TickDistance(ctx, number, *distance)
		moves = []core.Movement{mv}
	case number != "":
		var mv core.Movement
		mv, err = h.motion.Tick(ctx, number)
		moves = []core.Movement{mv}
	default:
		moves, err = h.motion.TickAll(ctx, distance)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.FromMovements(moves))
}

func (h *SimulationHandler) ObjectTheft(c *gin.Context) {
	distance, ok := queryFloat(c, "distance", core.DefaultTheftDistanceKm)
	if !ok {
		return
	}
	res, err := h.motion.SimulateTheft(c.Request.Context(), c.Param("id"), distance)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.FromTheft(res))
}

// FullJourney requires destination_station and accepts duration_minutes and
// interval_seconds.
func (h *SimulationHandler) FullJourney(c *gin.Context) {
	station := c.Query("destination_station")
	if station == "" {
		badRequest(c, "destination_station is required")
		return
	}
	minutes, ok := queryFloat(c, "duration_minutes", core.DefaultJourneyMinutes)
	if !ok {
		return
	}
	interval, ok := queryFloat(c, "interval_seconds", 0)
	if !ok {
		return
	}
	plan, err := h.motion.PlanJourney(c.Request.Context(), c.Param("number"), station, minutes, interval)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.FromJourney(plan))
}

func (h *SimulationHandler) RandomEvents(c *gin.Context) {
	probability, ok := queryFloat(c, "theft_probability", core.DefaultTheftProbability)
	if !ok {
		return
	}
	count, ok := queryInt(c, "count", core.DefaultRandomEventCount)
	if !ok {
		return
	}
	events, err := h.motion.GenerateRandomEvents(c.Request.Context(), probability, count)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.FromRandomEvents(events))
}
