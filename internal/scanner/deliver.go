package scanner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"equity-alerts/internal/metrics"
	"equity-alerts/internal/model"
	"equity-alerts/internal/notification"
	"equity-alerts/internal/series"
)

const defaultDeliveryTimeout = 10 * time.Second

// ChartRenderer draws the series an alert fired on.
type ChartRenderer interface {
	Render(s *series.Series, a model.Alert) ([]byte, error)
}

// Dispatcher sends a tick's alerts through a Notifier. Delivery failures
// are logged and returned; the ledger is never rolled back.
type Dispatcher struct {
	notifier notification.Notifier
	loc      *time.Location
	timeout  time.Duration
	charts   ChartRenderer
	prom     *metrics.Metrics
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithCharts attaches a chart to every per-alert message.
func WithCharts(r ChartRenderer) DispatcherOption {
	return func(d *Dispatcher) { d.charts = r }
}

// WithDeliveryMetrics records delivery results on m.
func WithDeliveryMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.prom = m }
}

// NewDispatcher creates a Dispatcher. loc formats message timestamps;
// timeout bounds each Send (zero means 10s).
func NewDispatcher(n notification.Notifier, loc *time.Location, timeout time.Duration, opts ...DispatcherOption) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	d := &Dispatcher{notifier: n, loc: loc, timeout: timeout}
	for _, o := range opts {
		o(d)
	}
	if d.prom == nil {
		d.prom = metrics.NewMetricsWith(prometheus.NewRegistry())
	}
	return d
}

// Deliver sends rep's alerts according to delivery. It returns the joined
// delivery errors, each a *notification.DeliveryError.
func (d *Dispatcher) Deliver(ctx context.Context, delivery Delivery, rep *TickReport) error {
	if rep == nil || len(rep.Alerts) == 0 {
		return nil
	}
	if delivery == Batch {
		msg := notification.BatchMessage(rep.Profile, rep.Session, rep.Alerts, d.loc)
		return d.send(ctx, msg)
	}

	var errs []error
	for _, a := range rep.Alerts {
		msg := notification.AlertMessage(a, d.loc)
		if d.charts != nil {
			if ser := rep.Series[a.Instrument]; ser != nil {
				png, err := d.charts.Render(ser, a)
				if err != nil {
					slog.Warn("scanner: chart render failed", "instrument", a.Instrument, "rule", a.Rule, "error", err)
				} else {
					msg.Chart = png
				}
			}
		}
		if err := d.send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Send delivers a prepared message, such as a session digest.
func (d *Dispatcher) Send(ctx context.Context, msg notification.Message) error {
	return d.send(ctx, msg)
}

func (d *Dispatcher) send(ctx context.Context, msg notification.Message) error {
	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.notifier.Send(sctx, msg)
	if err == nil {
		d.prom.DeliveryTotal.WithLabelValues("sent").Inc()
		return nil
	}

	d.prom.DeliveryTotal.WithLabelValues("failed").Inc()
	var de *notification.DeliveryError
	if !errors.As(err, &de) {
		err = &notification.DeliveryError{Channel: d.notifier.Name(), Title: msg.Title, Err: err}
	}
	for _, e := range unjoin(err) {
		channel := d.notifier.Name()
		if errors.As(e, &de) {
			channel = de.Channel
		}
		d.prom.DeliveryFailures.WithLabelValues(channel).Inc()
		slog.Error("scanner: delivery failed", "channel", channel, "title", msg.Title, "error", e)
	}
	return err
}

// unjoin splits an errors.Join result back into its parts.
func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
