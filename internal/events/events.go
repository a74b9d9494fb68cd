// Package events delivers deal notifications (moves, invoices, hand-offs,
// e-mails, due reminders) to the outside world.
//
// Publishing is best-effort: callers log failures and carry on, a move is
// never rolled back because a notification could not be sent.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/HendryAvila/solarcrm/internal/pipeline"
)

// DefaultSubjectPrefix is prepended to every event kind.
const DefaultSubjectPrefix = "crm"

// Publisher sends events somewhere.
type Publisher interface {
	Publish(ctx context.Context, ev pipeline.Event) error
}

// Subject returns the NATS subject for an event kind, e.g. "crm.deal.moved".
func Subject(prefix string, kind pipeline.EventKind) string {
	if prefix == "" {
		return string(kind)
	}
	return prefix + "." + string(kind)
}

// ─── NATS ────────────────────────────────────────────────────────────────────

// natsConn is the subset of *nats.Conn the publisher needs.
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// NATSPublisher publishes events as JSON on NATS subjects.
type NATSPublisher struct {
	conn   natsConn
	prefix string

	mu     sync.Mutex
	closed bool
}

// ConnectNATS dials the NATS server at url.
func ConnectNATS(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("solarcrm"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return newNATSPublisher(nc, prefix), nil
}

func newNATSPublisher(conn natsConn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Publish encodes ev as JSON and publishes it.
// NATS Publish does not take a context, so the context is checked first.
func (p *NATSPublisher) Publish(ctx context.Context, ev pipeline.Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errors.New("publisher closed")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := Subject(p.prefix, ev.Kind)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.conn.Drain()
	p.conn.Close()
	return err
}

// ─── Log ─────────────────────────────────────────────────────────────────────

// LogPublisher writes events to a structured logger. It is the fallback when
// no broker is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

// Publish logs ev.
func (p LogPublisher) Publish(_ context.Context, ev pipeline.Event) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"kind", ev.Kind, "deal_id", ev.DealID, "message", ev.Message}
	if ev.Milestone != "" {
		attrs = append(attrs, "milestone", ev.Milestone)
	}
	for k, v := range ev.Attributes {
		attrs = append(attrs, k, v)
	}
	logger.Info("event", attrs...)
	return nil
}

// ─── Fan-out ─────────────────────────────────────────────────────────────────

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

// Publish sends ev to all publishers, even if some fail.
func (m Multi) Publish(ctx context.Context, ev pipeline.Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []pipeline.Event
	Err    error // returned from every Publish when set
}

// Publish records ev.
func (r *Recorder) Publish(_ context.Context, ev pipeline.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []pipeline.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pipeline.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []pipeline.EventKind {
	evs := r.Events()
	out := make([]pipeline.EventKind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}
