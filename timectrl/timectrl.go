package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is read access to simulation time. Its Now method can stand in for
// the wall clock wherever a service takes a time source.
type SimClock interface {
	Now() time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run while still stepping by Tick.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// TimeController drives simulation time and notifies registered listeners.
// It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	// currentTime tracks the current simulation time. It is updated
	// as the controller advances time.
	currentTime time.Time

	listeners []func(time.Time)
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// AddListener registers a callback invoked on every tick, in registration
// order, from the controller goroutine.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Run advances simulation time by Tick until duration has elapsed in
// simulation time or ctx is cancelled. In RealTime mode each step waits for a
// wall-clock Tick; in Accelerated mode steps run back to back. Run returns
// ctx.Err() when cancelled and nil otherwise.
func (tc *TimeController) Run(ctx context.Context, duration time.Duration) error {
	tc.mu.Lock()
	simTime := tc.StartTime
	tc.currentTime = simTime
	tick := tc.Tick
	mode := tc.Mode
	tc.mu.Unlock()

	if tick <= 0 {
		return nil
	}

	var wait <-chan time.Time
	if mode == RealTime {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		wait = ticker.C
	}

	elapsed := time.Duration(0)
	for {
		if duration > 0 && elapsed >= duration {
			return nil
		}

		if wait != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wait:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		simTime = simTime.Add(tick)
		elapsed += tick

		tc.mu.Lock()
		tc.currentTime = simTime
		listeners := append([]func(time.Time)(nil), tc.listeners...)
		tc.mu.Unlock()

		for _, fn := range listeners {
			fn(simTime)
		}
	}
}
