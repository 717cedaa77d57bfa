package sensorhub

import (
	"context"
	"fmt"
	"net"
)

// Flow is a convenience builder: Conf, then Hub for the firmware side, then
// Events for where hub events go.
type Flow struct {
	cfg  *Config
	opts []RuntimeOption
}

// FlowOption mutates the Flow after configuration is loaded.
type FlowOption func(*Flow)

// HubOption configures the firmware side: driver, resource table, socket, store.
type HubOption func(*Flow)

// EventOption configures the hub event side: sinks and observability.
type EventOption func(*Flow)

// Conf loads YAML from disk, applies FlowOption values, and returns a Flow builder.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig bootstraps a Flow from an in-memory Config.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Config returns the underlying configuration so callers can tweak it before building a runtime.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options appends raw RuntimeOption values.
func (f *Flow) Options(opts ...RuntimeOption) *Flow {
	if f == nil {
		return nil
	}
	f.appendOptions(opts...)
	return f
}

// Hub records firmware-side overrides.
func (f *Flow) Hub(opts ...HubOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Events records event-side overrides and builds a Runtime ready to run.
func (f *Flow) Events(opts ...EventOption) (*Runtime, error) {
	if f == nil {
		return nil, fmt.Errorf("flow is nil")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return NewRuntime(f.cfg, f.opts...)
}

// Run is a shortcut for Events + Runtime.Run.
func (f *Flow) Run(ctx context.Context, opts ...EventOption) error {
	rt, err := f.Events(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

// WithFlowOptions appends RuntimeOption values during Conf.
func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) {
		if f != nil {
			f.appendOptions(opts...)
		}
	}
}

// HubFirmware swaps the configured driver for a custom opener.
func HubFirmware(open FirmwareOpener) HubOption {
	return func(f *Flow) {
		if f != nil && open != nil {
			f.appendOptions(WithFirmware(open))
		}
	}
}

// HubResources pins the resource table and skips discovery.
func HubResources(descs ...ResourceDescriptor) HubOption {
	return func(f *Flow) {
		if f != nil && len(descs) > 0 {
			f.appendOptions(WithResources(descs...))
		}
	}
}

// HubListener serves clients on ln instead of the configured socket.
func HubListener(ln net.Listener) HubOption {
	return func(f *Flow) {
		if f != nil && ln != nil {
			f.appendOptions(WithListener(ln))
		}
	}
}

// HubCalibrationStore swaps the configured calibration store.
func HubCalibrationStore(store CalibrationStore) HubOption {
	return func(f *Flow) {
		if f != nil && store != nil {
			f.appendOptions(WithCalibrationStore(store))
		}
	}
}

// EventsTo adds an event sink.
func EventsTo(s EventSink) EventOption {
	return func(f *Flow) {
		if f != nil && s != nil {
			f.appendOptions(WithEventSink(s))
		}
	}
}

// EventsCallback installs a sink built from a simple callback function.
func EventsCallback(name string, fn EventBatchFunc) EventOption {
	return func(f *Flow) {
		if f != nil {
			f.appendOptions(WithEventSink(NewCallbackSink(name, fn)))
		}
	}
}

// EventsObservability replaces the default observability backend.
func EventsObservability(obs Observability) EventOption {
	return func(f *Flow) {
		if f != nil && obs != nil {
			f.appendOptions(WithObservability(obs))
		}
	}
}

func (f *Flow) appendOptions(opts ...RuntimeOption) {
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}
