// Command simulator replays the rail geofence scenario offline: it seeds an
// in-memory store, advances every train on an accelerated clock and prints
// each alert as it is raised.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/rail-geofence/core"
	"github.com/signalsfoundry/rail-geofence/internal/logging"
	"github.com/signalsfoundry/rail-geofence/internal/sim"
	"github.com/signalsfoundry/rail-geofence/kb"
	"github.com/signalsfoundry/rail-geofence/model"
	"github.com/signalsfoundry/rail-geofence/timectrl"
)

type options struct {
	Duration    time.Duration
	Tick        time.Duration
	Accelerated bool
	Seed        uint64
	Scenario    string
	// Thefts lists objects displaced at startup.
	Thefts []string
	// TheftProbability enables one random event per tick when positive.
	TheftProbability float64
}

// summary is what a run produced.
type summary struct {
	Ticks    int
	Raised   int
	Resolved int
	ByKind   map[model.AlertKind]int
}

func main() {
	opts := options{}
	var thefts, logLevel string
	flag.DurationVar(&opts.Duration, "duration", 10*time.Minute, "total simulated duration")
	flag.DurationVar(&opts.Tick, "tick", 5*time.Second, "simulated time per tick")
	flag.BoolVar(&opts.Accelerated, "accelerated", true, "run ticks back to back instead of in real time")
	flag.Uint64Var(&opts.Seed, "seed", 1, "random seed")
	flag.StringVar(&opts.Scenario, "scenario", "", "JSON scenario file (default: built-in scenario)")
	flag.StringVar(&thefts, "theft", "", "comma-separated object IDs to displace at startup")
	flag.Float64Var(&opts.TheftProbability, "random-events", 0, "theft probability of one random event per tick; 0 disables")
	flag.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flag.Parse()

	for _, id := range strings.Split(thefts, ",") {
		if id = strings.TrimSpace(id); id != "" {
			opts.Thefts = append(opts.Thefts, id)
		}
	}

	log := logging.New(logging.Config{Level: logLevel, Format: "text", Output: os.Stderr})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sum, err := run(ctx, opts, os.Stdout, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simulator: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Simulation complete: %d ticks, %d alerts raised (%d station, %d theft), %d resolved.\n",
		sum.Ticks, sum.Raised, sum.ByKind[model.AlertStationProximity], sum.ByKind[model.AlertTheft], sum.Resolved)
}

func run(ctx context.Context, opts options, out io.Writer, log logging.Logger) (summary, error) {
	sum := summary{ByKind: map[model.AlertKind]int{}}
	if opts.Tick <= 0 {
		return sum, fmt.Errorf("tick must be positive, got %s", opts.Tick)
	}

	store := kb.NewKnowledgeBase()
	src := core.DefaultScenario()
	if opts.Scenario != "" {
		f, err := os.Open(opts.Scenario)
		if err != nil {
			return sum, fmt.Errorf("open scenario: %w", err)
		}
		defer f.Close()
		src = f
	}
	sc, err := core.LoadScenario(ctx, store, src)
	if err != nil {
		return sum, fmt.Errorf("load scenario: %w", err)
	}
	fmt.Fprintf(out, "Loaded scenario: %d stations, %d trains, %d objects, %d users\n",
		len(sc.StationCodes), len(sc.TrainNumbers), len(sc.ObjectIDs), len(sc.UserIDs))

	motionCfg := core.DefaultMotionConfig()
	motionCfg.TickSeconds = opts.Tick.Seconds()

	start := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)
	mode := timectrl.RealTime
	if opts.Accelerated {
		mode = timectrl.Accelerated
	}
	clock := timectrl.NewTimeController(start, opts.Tick, mode)

	// Alerts carry simulation time rather than wall time.
	geo := core.NewGeofenceService(store, core.DefaultGeofenceConfig(),
		core.WithGeofenceLogger(log),
		core.WithClock(simNow(clock)),
	)
	motion := core.NewMotionSimulator(store, geo, motionCfg,
		rand.New(rand.NewPCG(opts.Seed, opts.Seed+1)), core.WithMotionLogger(log))

	// Alert transitions are reported from the store's change feed so thefts,
	// ticks and random events all show up the same way.
	var mu sync.Mutex
	unsubscribe := store.Subscribe(func(e kb.Event) {
		if e.Type != kb.EventAlertCreated && e.Type != kb.EventAlertResolved {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		ts := clock.Now().Format(time.RFC3339)
		if e.Type == kb.EventAlertResolved {
			sum.Resolved++
			fmt.Fprintf(out, "[%s] resolved: %s\n", ts, describe(e.Alert))
			return
		}
		sum.Raised++
		sum.ByKind[e.Alert.Kind()]++
		fmt.Fprintf(out, "[%s] %s\n", ts, describe(e.Alert))
	})
	defer unsubscribe()

	for _, id := range opts.Thefts {
		if _, err := motion.SimulateTheft(ctx, id, core.DefaultTheftDistanceKm); err != nil {
			return sum, fmt.Errorf("simulate theft of %s: %w", id, err)
		}
	}

	runner := sim.NewRunner(motion, clock,
		sim.WithLogger(log),
		sim.WithTickHook(func(ctx context.Context, simTime time.Time, _ []core.Movement) {
			if opts.TheftProbability <= 0 {
				return
			}
			evs, err := motion.GenerateRandomEvents(ctx, opts.TheftProbability, 1)
			if err != nil {
				log.Warn(ctx, "random event failed", logging.Err(err))
				return
			}
			for _, e := range evs {
				fmt.Fprintf(out, "[%s] random %s %s%s\n", simTime.Format(time.RFC3339), e.Type, e.ObjectID, e.TrainNumber)
			}
		}),
	)

	fmt.Fprintf(out, "Starting simulation: duration=%s, tick=%s, mode=%v\n", opts.Duration, opts.Tick, mode)
	if err := runner.Run(ctx, opts.Duration); err != nil {
		return sum, err
	}
	mu.Lock()
	defer mu.Unlock()
	sum.Ticks = runner.Ticks()
	return sum, nil
}

func simNow(c timectrl.SimClock) func() time.Time {
	return func() time.Time { return c.Now().UTC() }
}

func describe(a *model.Alert) string {
	switch d := a.Detail.(type) {
	case *model.StationProximity:
		return fmt.Sprintf("train %s (%s) within %.2f km of %s (%s)",
			a.TrainNumber, a.TrainName, d.DistanceKm, d.StationName, d.StationCode)
	case *model.Theft:
		return fmt.Sprintf("%s %s owned by %s is %.3f km from coach %s of train %s",
			d.ObjectType, d.ObjectID, d.OwnerID, d.DistanceKm, d.CoachID, a.TrainNumber)
	default:
		return fmt.Sprintf("alert %s on train %s", a.ID, a.TrainNumber)
	}
}
