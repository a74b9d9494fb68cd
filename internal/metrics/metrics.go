// Package metrics exposes CRM counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HendryAvila/solarcrm/internal/pipeline"
)

const namespace = "solarcrm"

// Metrics holds the CRM collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	dealsMoved         prometheus.Counter
	milestones         *prometheus.CounterVec
	invoicedCents      prometheus.Counter
	paymentsCents      prometheus.Counter
	remindersDelivered prometheus.Counter
	reminderFailures   prometheus.Counter
	publishFailures    *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dealsMoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deals_moved_total",
			Help:      "Deals moved between or within stages.",
		}),
		milestones: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "milestones_total",
			Help:      "Milestone confirmations by milestone and outcome.",
		}, []string{"milestone", "outcome"}),
		invoicedCents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoiced_cents_total",
			Help:      "Sum of invoice amounts issued by milestones, in cents.",
		}),
		paymentsCents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_cents_total",
			Help:      "Sum of recorded payments, in cents.",
		}),
		remindersDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_delivered_total",
			Help:      "Reminders delivered by the dispatcher.",
		}),
		reminderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminder_failures_total",
			Help:      "Reminder deliveries that failed and will be retried.",
		}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Events that could not be published, by kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.dealsMoved,
		m.milestones,
		m.invoicedCents,
		m.paymentsCents,
		m.remindersDelivered,
		m.reminderFailures,
		m.publishFailures,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveMove records a move and what its milestone produced.
func (m *Metrics) ObserveMove(out pipeline.Outcome) {
	if m == nil {
		return
	}
	m.dealsMoved.Inc()
	if out.Milestone == "" || out.Milestone == pipeline.MilestoneNone || len(out.Answers) == 0 {
		return
	}
	outcome := "declined"
	if out.Confirmed {
		outcome = "confirmed"
	}
	m.milestones.WithLabelValues(string(out.Milestone), outcome).Inc()
	for _, inv := range out.Invoices {
		amount := inv.Amount
		if inv.Kind == pipeline.InvoiceSet {
			amount = out.InvoicedAfter - out.InvoicedBefore
		}
		if amount > 0 {
			m.invoicedCents.Add(float64(amount))
		}
	}
}

// ObservePayment records a payment.
func (m *Metrics) ObservePayment(amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.paymentsCents.Add(float64(amount))
}

// ObserveReminder records a delivery attempt.
func (m *Metrics) ObserveReminder(delivered bool) {
	if m == nil {
		return
	}
	if delivered {
		m.remindersDelivered.Inc()
	} else {
		m.reminderFailures.Inc()
	}
}

// ObservePublishFailure records an event that could not be published.
func (m *Metrics) ObservePublishFailure(kind pipeline.EventKind) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(string(kind)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
