// Package metrics exposes device and sampling counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "psu"

// Metrics implements device.Recorder and sampler.Recorder.
type Metrics struct {
	commands      *prometheus.CounterVec
	commandErrors *prometheus.CounterVec
	exchange      *prometheus.HistogramVec
	samples       prometheus.Counter
	emptyReadings *prometheus.CounterVec
	tickErrors    prometheus.Counter
	running       prometheus.Gauge
	published     prometheus.Counter
	publishErrors prometheus.Counter
	dropped       prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands written to the supply.",
		}, []string{"command"}),
		commandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_errors_total",
			Help:      "Session operations that failed with a connection error.",
		}, []string{"op"}),
		exchange: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_seconds",
			Help:      "Duration of one write-settle-read exchange.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"command"}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Samples appended to the log.",
		}),
		emptyReadings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "empty_readings_total",
			Help:      "Measurement fields that could not be decoded.",
		}, []string{"field"}),
		tickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_errors_total",
			Help:      "Sampling ticks that ended a run.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sampling_running",
			Help:      "1 while the sampling loop is running.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Samples published to redis.",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed redis publishes.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_dropped_total",
			Help:      "Samples dropped because the publish queue was full.",
		}),
	}
	reg.MustRegister(
		m.commands, m.commandErrors, m.exchange, m.samples, m.emptyReadings,
		m.tickErrors, m.running, m.published, m.publishErrors, m.dropped,
	)
	return m
}

func (m *Metrics) CommandSent(cmd string)    { m.commands.WithLabelValues(cmd).Inc() }
func (m *Metrics) CommandFailed(op string)   { m.commandErrors.WithLabelValues(op).Inc() }
func (m *Metrics) EmptyReading(field string) { m.emptyReadings.WithLabelValues(field).Inc() }

func (m *Metrics) ExchangeDuration(cmd string, d time.Duration) {
	m.exchange.WithLabelValues(cmd).Observe(d.Seconds())
}

func (m *Metrics) SampleRecorded() { m.samples.Inc() }
func (m *Metrics) TickFailed()     { m.tickErrors.Inc() }

func (m *Metrics) SetRunning(running bool) {
	if running {
		m.running.Set(1)
		return
	}
	m.running.Set(0)
}

func (m *Metrics) Published()      { m.published.Inc() }
func (m *Metrics) PublishFailed()  { m.publishErrors.Inc() }
func (m *Metrics) PublishDropped() { m.dropped.Inc() }
