// Package metrics exposes Hydro Core counters and gauges to Prometheus.
//
// A Collector owns its registry. It implements relay.CommandRecorder, so
// it can be handed to floor sessions directly, and provides the HTTP
// handler served at the configured metrics path.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/hydro-core/internal/relay"
)

const namespace = "hydrocore"

// Collector records relay commands, rollbacks, subscription errors and the
// number of active relays per floor.
type Collector struct {
	registry *prometheus.Registry

	commands     *prometheus.CounterVec
	rollbacks    *prometheus.CounterVec
	subErrors    *prometheus.CounterVec
	active       *prometheus.GaugeVec
	auditDropped prometheus.Counter
}

var _ relay.CommandRecorder = (*Collector)(nil)

// New creates a collector and registers its metrics with reg. A nil reg
// gets a fresh registry that also carries the Go runtime and process
// collectors.
func New(reg *prometheus.Registry) (*Collector, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
		if err := errors.Join(
			reg.Register(collectors.NewGoCollector()),
			reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})),
		); err != nil {
			return nil, err
		}
	}

	c := &Collector{
		registry: reg,
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_commands_total",
			Help:      "Relay commands issued, by floor, action and outcome.",
		}, []string{"floor", "action", "outcome"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_rollbacks_total",
			Help:      "Optimistic relay toggles reverted after a failed remote write.",
		}, []string{"floor", "device"}),
		subErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_errors_total",
			Help:      "Errors delivered by remote state subscriptions.",
		}, []string{"floor", "slice"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_active",
			Help:      "Relays currently on, per floor.",
		}, []string{"floor"}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_dropped_total",
			Help:      "Command log entries dropped because the writer queue was full.",
		}),
	}

	var err error
	if c.commands, err = register(reg, c.commands); err != nil {
		return nil, err
	}
	if c.rollbacks, err = register(reg, c.rollbacks); err != nil {
		return nil, err
	}
	if c.subErrors, err = register(reg, c.subErrors); err != nil {
		return nil, err
	}
	if c.active, err = register(reg, c.active); err != nil {
		return nil, err
	}
	if c.auditDropped, err = register(reg, c.auditDropped); err != nil {
		return nil, err
	}
	return c, nil
}

// register adds m to reg, reusing an identical collector that is already
// registered.
func register[T prometheus.Collector](reg prometheus.Registerer, m T) (T, error) {
	if err := reg.Register(m); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return m, err
	}
	return m, nil
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordCommand implements relay.CommandRecorder.
func (c *Collector) RecordCommand(_ context.Context, cmd relay.Command) {
	if c == nil {
		return
	}
	c.commands.WithLabelValues(cmd.Floor, string(cmd.Action), string(cmd.Outcome)).Inc()
	if cmd.Outcome == relay.OutcomeRolledBack {
		c.rollbacks.WithLabelValues(cmd.Floor, string(cmd.Device)).Inc()
	}
}

// SubscriptionError counts an error delivered to a floor subscription.
// Its signature matches relay.SessionOptions.OnSubscriptionError.
func (c *Collector) SubscriptionError(floor string, slice relay.Slice, _ error) {
	if c == nil {
		return
	}
	c.subErrors.WithLabelValues(floor, string(slice)).Inc()
}

// SetActive records how many relays are on for a floor.
func (c *Collector) SetActive(floor string, n int) {
	if c == nil {
		return
	}
	c.active.WithLabelValues(floor).Set(float64(n))
}

// IncAuditDropped counts a command log entry that could not be queued.
func (c *Collector) IncAuditDropped() {
	if c == nil {
		return
	}
	c.auditDropped.Inc()
}
