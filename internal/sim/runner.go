// Package sim drives the motion simulator from a time controller so trains
// keep moving, and alerts keep being evaluated, without any façade calls.
package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/signalsfoundry/rail-geofence/core"
	"github.com/signalsfoundry/rail-geofence/internal/logging"
	"github.com/signalsfoundry/rail-geofence/model"
	"github.com/signalsfoundry/rail-geofence/timectrl"
)

// TickMetrics records the duration and size of each periodic tick.
type TickMetrics interface {
	ObserveTick(d time.Duration, trainsMoved int)
}

// EntityCounter reports store sizes. Both stores implement it.
type EntityCounter interface {
	EntityCounts(ctx context.Context) (model.EntityCounts, error)
}

// GaugeRecorder publishes store sizes after each tick.
type GaugeRecorder interface {
	SetEntityCounts(stations, trains, objects, unresolvedAlerts int)
}

// TickHook is invoked after every completed tick with the movements it
// produced.
type TickHook func(ctx context.Context, simTime time.Time, moves []core.Movement)

// Runner advances every train once per controller tick.
type Runner struct {
	motion *core.MotionSimulator
	clock  *timectrl.TimeController
	log    logging.Logger

	metrics TickMetrics
	counter EntityCounter
	gauges  GaugeRecorder
	hooks   []TickHook

	mu     sync.Mutex
	runCtx context.Context
	ticks  int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l logging.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithTickMetrics records tick durations.
func WithTickMetrics(m TickMetrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithEntityGauges refreshes store-size gauges from counter after each tick.
func WithEntityGauges(counter EntityCounter, gauges GaugeRecorder) RunnerOption {
	return func(r *Runner) {
		r.counter = counter
		r.gauges = gauges
	}
}

// WithTickHook registers fn to run after every tick.
func WithTickHook(fn TickHook) RunnerOption {
	return func(r *Runner) {
		if fn != nil {
			r.hooks = append(r.hooks, fn)
		}
	}
}

// NewRunner binds motion to clock. The clock listener is registered here, so
// a controller should back at most one Runner.
func NewRunner(motion *core.MotionSimulator, clock *timectrl.TimeController, opts ...RunnerOption) *Runner {
	r := &Runner{
		motion: motion,
		clock:  clock,
		log:    logging.Noop(),
		runCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(r)
	}
	clock.AddListener(r.onTick)
	return r
}

// Run drives the controller until duration has elapsed in simulation time or
// ctx is cancelled. A non-positive duration runs until cancellation.
func (r *Runner) Run(ctx context.Context, duration time.Duration) error {
	r.mu.Lock()
	r.runCtx = ctx
	r.mu.Unlock()

	r.log.Info(ctx, "simulation runner started",
		logging.Duration("tick", r.clock.Tick),
		logging.String("mode", r.clock.Mode.String()),
	)
	err := r.clock.Run(ctx, duration)
	r.log.Info(ctx, "simulation runner stopped", logging.Int("ticks", r.Ticks()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Ticks returns how many ticks have completed.
func (r *Runner) Ticks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks
}

func (r *Runner) onTick(simTime time.Time) {
	r.mu.Lock()
	ctx := r.runCtx
	r.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	if _, err := r.Step(ctx, simTime); err != nil {
		r.log.Error(ctx, "simulation tick failed", logging.Err(err))
	}
}

// Step performs one tick outside the controller loop. Errors abort the tick
// but leave the runner usable.
func (r *Runner) Step(ctx context.Context, simTime time.Time) ([]core.Movement, error) {
	start := time.Now()
	moves, err := r.motion.TickAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	r.mu.Lock()
	r.ticks++
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ObserveTick(elapsed, len(moves))
	}

	raised, resolved := 0, 0
	for _, mv := range moves {
		raised += len(mv.Alerts.Raised)
		resolved += mv.Alerts.Resolved
	}
	r.log.Debug(ctx, "simulation tick",
		logging.Any("sim_time", simTime),
		logging.Int("trains", len(moves)),
		logging.Int("alerts_raised", raised),
		logging.Int("alerts_resolved", resolved),
		logging.Duration("elapsed", elapsed),
	)

	r.refreshGauges(ctx)
	for _, hook := range r.hooks {
		hook(ctx, simTime, moves)
	}
	return moves, nil
}

func (r *Runner) refreshGauges(ctx context.Context) {
	if r.counter == nil || r.gauges == nil {
		return
	}
	counts, err := r.counter.EntityCounts(ctx)
	if err != nil {
		r.log.Warn(ctx, "entity count failed", logging.Err(err))
		return
	}
	r.gauges.SetEntityCounts(counts.Stations, counts.Trains, counts.Objects, counts.UnresolvedAlerts)
}
