package sensorhub

import (
	"context"
	"net"

	base "github.com/ghalamif/sensorhub/pkg/sensorhub"
)

// Re-exported errors for convenience.
var (
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
	ErrUnknownResource   = base.ErrUnknownResource
	ErrInvalidRate       = base.ErrInvalidRate
	ErrInvalidFlushUnit  = base.ErrInvalidFlushUnit
	ErrClientClosed      = base.ErrClientClosed
	ErrControlBroken     = base.ErrControlBroken
)

// Type aliases so consumers can import github.com/ghalamif/sensorhub directly.
type (
	Config             = base.Config
	Policy             = base.Policy
	FirmwareConfig     = base.FirmwareConfig
	SysfsConfig        = base.SysfsConfig
	SerialConfig       = base.SerialConfig
	CalibrationConfig  = base.CalibrationConfig
	MetricsConfig      = base.MetricsConfig
	MonitorConfig      = base.MonitorConfig
	NATSConfig         = base.NATSConfig
	JournalConfig      = base.JournalConfig
	Flow               = base.Flow
	FlowOption         = base.FlowOption
	HubOption          = base.HubOption
	EventOption        = base.EventOption
	Runtime            = base.Runtime
	RuntimeOption      = base.RuntimeOption
	FirmwareOpener     = base.FirmwareOpener
	Client             = base.Client
	Data               = base.Data
	CommandError       = base.CommandError
	HubEvent           = base.HubEvent
	HubEventKind       = base.HubEventKind
	EventSink          = base.EventSink
	EventBatchFunc     = base.EventBatchFunc
	Firmware           = base.Firmware
	CalibrationStore   = base.CalibrationStore
	Observability      = base.Observability
	Field              = base.Field
	ResourceDescriptor = base.ResourceDescriptor
	CalibrationBlob    = base.CalibrationBlob
	CompositeEvent     = base.CompositeEvent
	EventClause        = base.EventClause
	StreamPolicy       = base.StreamPolicy
	Result             = base.Result
)

// Streaming policies.
const (
	StopOnIdle           = base.StopOnIdle
	NoStopOnIdle         = base.NoStopOnIdle
	NoStopNoReportOnIdle = base.NoStopNoReportOnIdle
)

// Composite event relations, operators and channel masks.
const (
	RelationAnd = base.RelationAnd
	RelationOr  = base.RelationOr
	OpEqual     = base.OpEqual
	OpGreater   = base.OpGreater
	OpLess      = base.OpLess
	OpBetween   = base.OpBetween
	ChannelX    = base.ChannelX
	ChannelY    = base.ChannelY
	ChannelZ    = base.ChannelZ
	ChannelAll  = base.ChannelAll
)

// Calibration sub-commands.
const (
	CalSubGet      = base.CalSubGet
	CalSubSet      = base.CalSubSet
	CalSubStart    = base.CalSubStart
	CalSubStop     = base.CalSubStop
	CalibratedTrue = base.CalibratedTrue
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func HubFirmware(open FirmwareOpener) HubOption {
	return base.HubFirmware(open)
}

func HubResources(descs ...ResourceDescriptor) HubOption {
	return base.HubResources(descs...)
}

func HubListener(ln net.Listener) HubOption {
	return base.HubListener(ln)
}

func HubCalibrationStore(store CalibrationStore) HubOption {
	return base.HubCalibrationStore(store)
}

func EventsTo(s EventSink) EventOption {
	return base.EventsTo(s)
}

func EventsCallback(name string, fn EventBatchFunc) EventOption {
	return base.EventsCallback(name, fn)
}

func EventsObservability(obs Observability) EventOption {
	return base.EventsObservability(obs)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithFirmware(open FirmwareOpener) RuntimeOption {
	return base.WithFirmware(open)
}

func WithCalibrationStore(store CalibrationStore) RuntimeOption {
	return base.WithCalibrationStore(store)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithEventSink(s EventSink) RuntimeOption {
	return base.WithEventSink(s)
}

func WithListener(ln net.Listener) RuntimeOption {
	return base.WithListener(ln)
}

func WithResources(descs ...ResourceDescriptor) RuntimeOption {
	return base.WithResources(descs...)
}

// Sink adapters.
func NewCallbackSink(name string, fn EventBatchFunc) EventSink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (EventSink, <-chan []HubEvent, func()) {
	return base.NewChannelSink(name, buffer)
}

// Client library.
func Open(resource string) (*Client, error) {
	return base.Open(resource)
}

func Dial(network, addr, resource string) (*Client, error) {
	return base.Dial(network, addr, resource)
}

func DialContext(ctx context.Context, network, addr, resource string) (*Client, error) {
	return base.DialContext(ctx, network, addr, resource)
}
