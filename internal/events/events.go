// Package events carries alert transitions out of the process. The geofence
// evaluator hands every persisted transition to a Notifier, which fans it out
// to the configured broker publishers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/rail-geofence/internal/logging"
	"github.com/signalsfoundry/rail-geofence/model"
)

// Event types.
const (
	TypeAlertRaised   = "alert.raised"
	TypeAlertResolved = "alert.resolved"
)

// DefaultPublishTimeout bounds a single publish when the notifier has no
// explicit timeout.
const DefaultPublishTimeout = 2 * time.Second

// Event is the broker message for an alert transition. Raised events carry
// the full alert; resolved events carry the natural key and how many alerts
// were closed.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	AlertType  model.AlertKind `json:"alertType"`
	Key        string          `json:"key"`
	Alert      *model.Alert    `json:"alert,omitempty"`
	Resolved   int             `json:"resolved,omitempty"`
}

// NewRaisedEvent builds the event for a newly persisted alert. The event id is
// derived from the alert id so a retried publish is deduplicated downstream.
func NewRaisedEvent(a *model.Alert, at time.Time) Event {
	return Event{
		ID:         TypeAlertRaised + ":" + a.ID,
		Type:       TypeAlertRaised,
		OccurredAt: at.UTC(),
		AlertType:  a.Kind(),
		Key:        a.Key().Value,
		Alert:      a.Clone(),
	}
}

// NewResolvedEvent builds the event for alerts closed under key.
func NewResolvedEvent(key model.AlertKey, count int, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       TypeAlertResolved,
		OccurredAt: at.UTC(),
		AlertType:  key.Kind,
		Key:        key.Value,
		Resolved:   count,
	}
}

// Encode serialises e for the wire.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	return data, nil
}

// Decode parses a wire event.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.Type != TypeAlertRaised && e.Type != TypeAlertResolved {
		return Event{}, fmt.Errorf("decode event: unknown type %q", e.Type)
	}
	return e, nil
}

// Subject returns the routing subject for e under prefix, for example
// "railfence.alerts.raised.theft".
func (e Event) Subject(prefix string) string {
	verb := "raised"
	if e.Type == TypeAlertResolved {
		verb = "resolved"
	}
	return prefix + "." + verb + "." + string(e.AlertType)
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Handler consumes events delivered by a broker subscription. A non-nil error
// asks the broker to redeliver.
type Handler func(ctx context.Context, e Event) error

// Notifier adapts publishers to the evaluator's alert notification hook.
// Publish failures are logged and never reach the evaluator.
type Notifier struct {
	pubs    []Publisher
	log     logging.Logger
	now     func() time.Time
	timeout time.Duration
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithLogger sets the logger used for publish failures.
func WithLogger(l logging.Logger) NotifierOption {
	return func(n *Notifier) {
		if l != nil {
			n.log = l
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) NotifierOption {
	return func(n *Notifier) {
		if now != nil {
			n.now = now
		}
	}
}

// WithPublishTimeout bounds each publish call.
func WithPublishTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// NewNotifier returns a notifier fanning out to pubs. Nil publishers are
// ignored.
func NewNotifier(pubs []Publisher, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		log:     logging.Noop(),
		now:     time.Now,
		timeout: DefaultPublishTimeout,
	}
	for _, p := range pubs {
		if p != nil {
			n.pubs = append(n.pubs, p)
		}
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// AlertRaised publishes an alert.raised event.
func (n *Notifier) AlertRaised(ctx context.Context, a *model.Alert) {
	if a == nil {
		return
	}
	n.publish(ctx, NewRaisedEvent(a, n.now()))
}

// AlertsResolved publishes an alert.resolved event.
func (n *Notifier) AlertsResolved(ctx context.Context, key model.AlertKey, count int) {
	if count <= 0 {
		return
	}
	n.publish(ctx, NewResolvedEvent(key, count, n.now()))
}

func (n *Notifier) publish(ctx context.Context, e Event) {
	// The evaluator's request may already be finishing; the event must still
	// go out.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	for _, p := range n.pubs {
		if err := p.Publish(ctx, e); err != nil {
			n.log.Warn(ctx, "alert event publish failed",
				logging.String("event_id", e.ID),
				logging.String("event_type", e.Type),
				logging.String("key", e.Key),
				logging.Err(err),
			)
			continue
		}
		n.log.Debug(ctx, "alert event published",
			logging.String("event_id", e.ID),
			logging.String("event_type", e.Type),
		)
	}
}
