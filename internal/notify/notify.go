package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"djtips-platform/internal/domain"
)

const (
	EventRequestCreated     = "request.created"
	EventRequestAccepted    = "request.accepted"
	EventRequestRejected    = "request.rejected"
	EventRequestCancelled   = "request.cancelled"
	EventWithdrawalApproved = "withdrawal.approved"
	EventWithdrawalRejected = "withdrawal.rejected"
	EventPaymentCompleted   = "payment.completed"
	EventPaymentFailed      = "payment.failed"
)

type Event struct {
	Type        string         `json:"type"`
	PrincipalID domain.ID      `json:"principal_id"`
	Payload     map[string]any `json:"payload,omitempty"`
	At          time.Time      `json:"at"`
}

// Notifier is what lifecycles depend on. Notify must not block and must never fail the caller.
type Notifier interface {
	Notify(ctx context.Context, principal domain.ID, eventType string, payload map[string]any)
}

// Sink delivers one event (log, pub/sub, email bridge...).
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// ResultHook observes delivery results ("sent", "failed"). Optional.
type ResultHook func(result string)

// Dispatcher sends events to a sink on a background goroutine with a bounded timeout.
// Failures are logged only.
type Dispatcher struct {
	sink    Sink
	timeout time.Duration
	log     *slog.Logger
	onDone  ResultHook
	clock   func() time.Time

	wg sync.WaitGroup
}

func NewDispatcher(sink Sink, timeout time.Duration, log *slog.Logger, onDone ResultHook) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{sink: sink, timeout: timeout, log: log, onDone: onDone, clock: time.Now}
}

func (d *Dispatcher) Notify(ctx context.Context, principal domain.ID, eventType string, payload map[string]any) {
	if d == nil || d.sink == nil || principal.IsZero() {
		return
	}
	e := Event{Type: eventType, PrincipalID: principal, Payload: payload, At: d.clock().UTC()}

	// detach from the request: the response may be written before delivery
	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sctx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()

		result := "sent"
		if err := d.sink.Send(sctx, e); err != nil {
			result = "failed"
			d.log.Warn("notification failed", "type", e.Type, "principal_id", e.PrincipalID, "error", err)
		}
		if d.onDone != nil {
			d.onDone(result)
		}
	}()
}

// Wait blocks until in-flight deliveries finish (shutdown, tests).
func (d *Dispatcher) Wait() { d.wg.Wait() }

// LogSink writes events to the structured log.
type LogSink struct{ Log *slog.Logger }

func (s LogSink) Send(ctx context.Context, e Event) error {
	l := s.Log
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "notification", "type", e.Type, "principal_id", e.PrincipalID, "payload", e.Payload)
	return nil
}

// Fanout sends to every sink and returns the first error.
type Fanout []Sink

func (f Fanout) Send(ctx context.Context, e Event) error {
	var first error
	for _, s := range f {
		if err := s.Send(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop discards everything.
type Nop struct{}

func (Nop) Notify(context.Context, domain.ID, string, map[string]any) {}
