package ports

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)

	SetGauge(name string, v float64)

	// RecordDrop counts a message that could not be queued for a client.
	RecordDrop(reason string, fields ...Field)
}

type Field struct {
	Key   string
	Value any
}

// Metric names understood by the observability adapters.
const (
	MetricSessionsActive          = "sensorhub_sessions_active"
	MetricTransactionsLive        = "sensorhub_transactions_live"
	MetricFirmwareFrames          = "sensorhub_firmware_frames_total"
	MetricFirmwareCommands        = "sensorhub_firmware_commands_total"
	MetricFirmwareCommandErrors   = "sensorhub_firmware_command_errors_total"
	MetricClientFramesDropped     = "sensorhub_client_frames_dropped_total"
	MetricEventsDropped           = "sensorhub_events_dropped_total"
	MetricCalibrationPersistFails = "sensorhub_calibration_persist_failures_total"
	MetricFirmwareRestarts        = "sensorhub_firmware_restarts_total"
	MetricDispatchLatency         = "sensorhub_dispatch_latency_seconds"
	MetricEventSinkLatency        = "sensorhub_event_sink_latency_seconds"
	MetricEventQueueLength        = "sensorhub_event_queue_length"
	MetricMonitorClients          = "sensorhub_monitor_clients"
)

// NopObservability discards everything.
type NopObservability struct{}

func (NopObservability) LogInfo(string, ...Field)            {}
func (NopObservability) LogError(string, error, ...Field)    {}
func (NopObservability) LogCritical(string, error, ...Field) {}
func (NopObservability) IncCounter(string, float64)          {}
func (NopObservability) ObserveLatency(string, float64)      {}
func (NopObservability) SetGauge(string, float64)            {}
func (NopObservability) RecordDrop(string, ...Field)         {}
