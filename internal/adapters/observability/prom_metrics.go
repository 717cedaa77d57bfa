package observability

import (
	"log/slog"

	"github.com/ghalamif/sensorhub/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
)

type PromObs struct {
	logger   *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
	drops    *prometheus.CounterVec
}

// NewPromObs registers the broker metrics on the default registerer.
// A nil logger falls back to slog.Default.
func NewPromObs(logger *slog.Logger) *PromObs {
	if logger == nil {
		logger = slog.Default()
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	counters := map[string]prometheus.Counter{
		ports.MetricFirmwareFrames:          counter(ports.MetricFirmwareFrames, "Frames decoded from the firmware data channel."),
		ports.MetricFirmwareCommands:        counter(ports.MetricFirmwareCommands, "Commands written to the firmware control channel."),
		ports.MetricFirmwareCommandErrors:   counter(ports.MetricFirmwareCommandErrors, "Firmware command writes that failed."),
		ports.MetricEventsDropped:           counter(ports.MetricEventsDropped, "Hub events lost to a full event queue."),
		ports.MetricCalibrationPersistFails: counter(ports.MetricCalibrationPersistFails, "Calibration blob writes that failed."),
		ports.MetricFirmwareRestarts:        counter(ports.MetricFirmwareRestarts, "Firmware generations restarted after a fatal channel error."),
	}
	gauges := map[string]prometheus.Gauge{
		ports.MetricSessionsActive:   gauge(ports.MetricSessionsActive, "Live client sessions."),
		ports.MetricTransactionsLive: gauge(ports.MetricTransactionsLive, "Firmware requests awaiting a correlated reply."),
		ports.MetricEventQueueLength: gauge(ports.MetricEventQueueLength, "Hub events waiting for the sinks."),
		ports.MetricMonitorClients:   gauge(ports.MetricMonitorClients, "Connected websocket monitors."),
	}
	dispatch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricDispatchLatency,
		Help:    "Time spent handling one dispatcher event.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14),
	})
	sinkLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricEventSinkLatency,
		Help:    "Latency of one event sink batch write.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	drops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: ports.MetricClientFramesDropped,
		Help: "Messages dropped because a client outbox was full.",
	}, []string{"reason"})

	collectors := []prometheus.Collector{dispatch, sinkLatency, drops}
	for _, c := range counters {
		collectors = append(collectors, c)
	}
	for _, g := range gauges {
		collectors = append(collectors, g)
	}
	prometheus.MustRegister(collectors...)

	return &PromObs{
		logger:   logger.With("component", "sensorhub"),
		counters: counters,
		gauges:   gauges,
		histos: map[string]prometheus.Observer{
			ports.MetricDispatchLatency:  dispatch,
			ports.MetricEventSinkLatency: sinkLatency,
		},
		drops: drops,
	}
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, 2*len(fields))
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(fields), "error", err)...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(fields), "error", err, "critical", true)...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDrop(reason string, fields ...ports.Field) {
	p.drops.WithLabelValues(reason).Inc()
	p.logger.Debug("message_dropped", append(attrs(fields), "reason", reason)...)
}

var _ ports.Observability = (*PromObs)(nil)
