package events

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/rail-geofence/model"
)

type recordingPublisher struct {
	events   []Event
	err      error
	deadline bool
}

func (r *recordingPublisher) Publish(ctx context.Context, e Event) error {
	_, r.deadline = ctx.Deadline()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func theft() *model.Alert {
	return &model.Alert{
		ID:          "a-1",
		TrainNumber: "12301",
		TrainName:   "Rajdhani Express",
		Timestamp:   fixedNow,
		Detail:      &model.Theft{ObjectID: "OBJ001", ObjectType: "Luggage", OwnerID: "U001", CoachID: "A1", DistanceKm: 0.2},
	}
}

func TestNotifierFansOut(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("broker down")}
	ok := &recordingPublisher{}
	n := NewNotifier([]Publisher{failing, nil, ok}, WithClock(func() time.Time { return fixedNow }))

	n.AlertRaised(context.Background(), theft())
	n.AlertsResolved(context.Background(), model.TheftAlertKey("OBJ001"), 1)
	n.AlertsResolved(context.Background(), model.TheftAlertKey("OBJ001"), 0)
	n.AlertRaised(context.Background(), nil)

	if len(ok.events) != 2 {
		t.Fatalf("events delivered = %d, want 2", len(ok.events))
	}
	raised, resolved := ok.events[0], ok.events[1]
	if raised.Type != TypeAlertRaised || raised.ID != "alert.raised:a-1" || raised.Key != "OBJ001" || raised.Alert == nil {
		t.Fatalf("unexpected raised event: %+v", raised)
	}
	if resolved.Type != TypeAlertResolved || resolved.Resolved != 1 || resolved.AlertType != model.AlertTheft || resolved.Alert != nil {
		t.Fatalf("unexpected resolved event: %+v", resolved)
	}
	if !ok.deadline {
		t.Fatalf("publish context has no deadline")
	}
}

func TestNotifierIgnoresCallerCancellation(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewNotifier([]Publisher{pub})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n.AlertRaised(ctx, theft())
	if len(pub.events) != 1 {
		t.Fatalf("event dropped after caller cancellation")
	}
}

func TestEncodeDecodeAndSubject(t *testing.T) {
	e := NewRaisedEvent(theft(), fixedNow)
	data, err := e.Encode()
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if !strings.Contains(string(data), `"type":"alert.raised"`) || !strings.Contains(string(data), `"objectId":"OBJ001"`) {
		t.Fatalf("unexpected wire form: %s", data)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	th, ok := got.Alert.Theft()
	if !ok || th.CoachID != "A1" || got.Alert.TrainName != "Rajdhani Express" {
		t.Fatalf("alert not carried: %+v", got.Alert)
	}

	if s := e.Subject("railfence.alerts"); s != "railfence.alerts.raised.theft" {
		t.Fatalf("raised subject = %q", s)
	}
	res := NewResolvedEvent(model.StationAlertKey("12301", "NDLS"), 1, fixedNow)
	if s := res.Subject("railfence.alerts"); s != "railfence.alerts.resolved.station_proximity" {
		t.Fatalf("resolved subject = %q", s)
	}
	if res.Key != "12301/NDLS" {
		t.Fatalf("resolved key = %q", res.Key)
	}

	if _, err := Decode([]byte(`{"type":"other"}`)); err == nil {
		t.Fatalf("expected unknown type error")
	}
	if _, err := Decode([]byte(`{`)); err == nil {
		t.Fatalf("expected decode error")
	}
}
