package rpc

import (
	"context"
	"math/rand/v2"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/rail-geofence/core"
	"github.com/signalsfoundry/rail-geofence/internal/logging"
	"github.com/signalsfoundry/rail-geofence/internal/wire"
	"github.com/signalsfoundry/rail-geofence/kb"
	"github.com/signalsfoundry/rail-geofence/model"
)

type rpcTestEnv struct {
	ctx        context.Context
	store      *kb.KnowledgeBase
	conn       *grpc.ClientConn
	simulation *SimulationClient
	alerts     *AlertClient
}

func newRPCTestEnv(t *testing.T) *rpcTestEnv {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	store := kb.NewKnowledgeBase()
	if _, err := core.SeedScenario(ctx, store, core.DefaultScenario()); err != nil {
		t.Fatalf("SeedScenario error: %v", err)
	}
	geo := core.NewGeofenceService(store, core.DefaultGeofenceConfig())
	motion := core.NewMotionSimulator(store, geo, core.DefaultMotionConfig(), rand.New(rand.NewPCG(1, 2)))

	srv := NewServer(ServerConfig{
		Motion: motion,
		Alerts: core.NewAlertService(store),
		Log:    logging.Noop(),
	})

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Shutdown)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &rpcTestEnv{
		ctx:        ctx,
		store:      store,
		conn:       conn,
		simulation: NewSimulationClient(conn),
		alerts:     NewAlertClient(conn),
	}
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("structpb.NewStruct error: %v", err)
	}
	return s
}

func TestMoveTrains(t *testing.T) {
	env := newRPCTestEnv(t)

	resp, err := env.simulation.MoveTrains(env.ctx, nil)
	if err != nil {
		t.Fatalf("MoveTrains error: %v", err)
	}
	var all wire.MovementReport
	if err := FromStruct(resp, &all); err != nil {
		t.Fatalf("FromStruct error: %v", err)
	}
	if all.UpdatedTrains != 4 || len(all.Movements) != 4 {
		t.Fatalf("updated trains = %d, want 4", all.UpdatedTrains)
	}

	before, _ := env.store.GetTrain(env.ctx, "12301")
	resp, err = env.simulation.MoveTrains(env.ctx, mustStruct(t, map[string]any{
		"trainNumber": "12301",
		"distanceKm":  0,
	}))
	if err != nil {
		t.Fatalf("MoveTrains(12301) error: %v", err)
	}
	var one wire.MovementReport
	if err := FromStruct(resp, &one); err != nil {
		t.Fatalf("FromStruct error: %v", err)
	}
	if one.UpdatedTrains != 1 || one.Movements[0].TrainNumber != "12301" {
		t.Fatalf("single move = %+v", one)
	}
	if got := core.Distance(before.Position, one.Movements[0].Position); got > 1e-6 {
		t.Fatalf("zero-distance move displaced train by %v km", got)
	}
}

func TestTheftRaisesAlertThatCanBeListedAndResolved(t *testing.T) {
	env := newRPCTestEnv(t)

	resp, err := env.simulation.SimulateTheft(env.ctx, mustStruct(t, map[string]any{
		"objectId":   "OBJ001",
		"distanceKm": 0.2,
	}))
	if err != nil {
		t.Fatalf("SimulateTheft error: %v", err)
	}
	var theft wire.Theft
	if err := FromStruct(resp, &theft); err != nil {
		t.Fatalf("FromStruct error: %v", err)
	}
	if len(theft.Alerts.Raised) != 1 || theft.Alerts.Raised[0].Kind() != model.AlertTheft {
		t.Fatalf("theft alerts = %+v", theft.Alerts)
	}

	resp, err = env.alerts.ListAlerts(env.ctx, mustStruct(t, map[string]any{
		"type":     "theft",
		"resolved": false,
	}))
	if err != nil {
		t.Fatalf("ListAlerts error: %v", err)
	}
	var listed wire.Alerts
	if err := FromStruct(resp, &listed); err != nil {
		t.Fatalf("FromStruct error: %v", err)
	}
	if listed.Count != 1 {
		t.Fatalf("listed = %d, want 1", listed.Count)
	}

	resp, err = env.alerts.ResolveAlert(env.ctx, mustStruct(t, map[string]any{"id": listed.Alerts[0].ID}))
	if err != nil {
		t.Fatalf("ResolveAlert error: %v", err)
	}
	var resolved model.Alert
	if err := FromStruct(resp, &resolved); err != nil {
		t.Fatalf("FromStruct error: %v", err)
	}
	if !resolved.Resolved {
		t.Fatalf("alert not resolved: %+v", resolved)
	}

	resp, err = env.alerts.GetAlertStats(env.ctx, nil)
	if err != nil {
		t.Fatalf("GetAlertStats error: %v", err)
	}
	var stats wire.Stats
	if err := FromStruct(resp, &stats); err != nil {
		t.Fatalf("FromStruct error: %v", err)
	}
	if stats.Total != 1 || stats.Resolved != 1 || stats.PeriodDays != DefaultStatsDays {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestPlanJourneyAndRandomEvents(t *testing.T) {
	env := newRPCTestEnv(t)

	resp, err := env.simulation.PlanJourney(env.ctx, mustStruct(t, map[string]any{
		"trainNumber":     "12301",
		"stationCode":     "NDLS",
		"durationMinutes": 60,
	}))
	if err != nil {
		t.Fatalf("PlanJourney error: %v", err)
	}
	var plan wire.Journey
	if err := FromStruct(resp, &plan); err != nil {
		t.Fatalf("FromStruct error: %v", err)
	}
	if plan.Destination == nil || plan.Destination.Code != "NDLS" || plan.SpeedKmh <= 0 {
		t.Fatalf("plan = %+v", plan)
	}
	stored, _ := env.store.GetTrain(env.ctx, "12301")
	if stored.SpeedKmh != plan.SpeedKmh {
		t.Fatalf("stored speed = %v, want %v", stored.SpeedKmh, plan.SpeedKmh)
	}

	resp, err = env.simulation.GenerateRandomEvents(env.ctx, mustStruct(t, map[string]any{
		"theftProbability": 0,
		"count":            3,
	}))
	if err != nil {
		t.Fatalf("GenerateRandomEvents error: %v", err)
	}
	var events wire.RandomEvents
	if err := FromStruct(resp, &events); err != nil {
		t.Fatalf("FromStruct error: %v", err)
	}
	if events.EventsGenerated != 3 {
		t.Fatalf("events = %d, want 3", events.EventsGenerated)
	}
	for _, e := range events.Events {
		if e.Type != core.RandomEventTrainMovement {
			t.Fatalf("event type = %q, want train movement", e.Type)
		}
	}
}

func TestRPCErrorsMapToStatusCodes(t *testing.T) {
	env := newRPCTestEnv(t)

	tests := []struct {
		name string
		call func() error
		code codes.Code
	}{
		{"missing object id", func() error {
			_, err := env.simulation.SimulateTheft(env.ctx, nil)
			return err
		}, codes.InvalidArgument},
		{"unknown object", func() error {
			_, err := env.simulation.SimulateTheft(env.ctx, mustStruct(t, map[string]any{"objectId": "NOPE"}))
			return err
		}, codes.NotFound},
		{"unknown station", func() error {
			_, err := env.simulation.PlanJourney(env.ctx, mustStruct(t, map[string]any{"trainNumber": "12301", "stationCode": "XXX"}))
			return err
		}, codes.NotFound},
		{"negative distance", func() error {
			_, err := env.simulation.MoveTrains(env.ctx, mustStruct(t, map[string]any{"distanceKm": -1}))
			return err
		}, codes.InvalidArgument},
		{"fractional count", func() error {
			_, err := env.simulation.GenerateRandomEvents(env.ctx, mustStruct(t, map[string]any{"count": 1.5}))
			return err
		}, codes.InvalidArgument},
		{"unknown alert type", func() error {
			_, err := env.alerts.ListAlerts(env.ctx, mustStruct(t, map[string]any{"type": "bogus"}))
			return err
		}, codes.InvalidArgument},
		{"limit of wrong kind", func() error {
			_, err := env.alerts.ListAlerts(env.ctx, mustStruct(t, map[string]any{"limit": "ten"}))
			return err
		}, codes.InvalidArgument},
		{"unknown alert", func() error {
			_, err := env.alerts.ResolveAlert(env.ctx, mustStruct(t, map[string]any{"id": "missing"}))
			return err
		}, codes.NotFound},
		{"non-positive stats window", func() error {
			_, err := env.alerts.GetAlertStats(env.ctx, mustStruct(t, map[string]any{"days": 0}))
			return err
		}, codes.InvalidArgument},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if code := status.Code(tc.call()); code != tc.code {
				t.Fatalf("code = %v, want %v", code, tc.code)
			}
		})
	}
}

func TestHealthAndRequestID(t *testing.T) {
	env := newRPCTestEnv(t)

	hc := healthpb.NewHealthClient(env.conn)
	for _, svc := range []string{"", simulationServiceName, alertServiceName} {
		resp, err := hc.Check(env.ctx, &healthpb.HealthCheckRequest{Service: svc})
		if err != nil {
			t.Fatalf("health Check(%q) error: %v", svc, err)
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("health(%q) = %v, want SERVING", svc, resp.GetStatus())
		}
	}

	var header metadata.MD
	ctx := metadata.AppendToOutgoingContext(env.ctx, requestIDMetadataKey, "req-123")
	if _, err := env.alerts.ListAlerts(ctx, nil, grpc.Header(&header)); err != nil {
		t.Fatalf("ListAlerts error: %v", err)
	}
	if got := firstHeader(header, requestIDMetadataKey); got != "req-123" {
		t.Fatalf("echoed request id = %q, want req-123", got)
	}
}
