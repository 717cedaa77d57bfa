package sensorhub

import (
	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/ports"
)

// HubEvent is the lifecycle notification fanned out to monitors and sinks.
type HubEvent = domain.HubEvent

// HubEventKind names a HubEvent.
type HubEventKind = domain.HubEventKind

const (
	EventSessionOpened   = domain.EventSessionOpened
	EventSessionClosed   = domain.EventSessionClosed
	EventArbitration     = domain.EventArbitration
	EventCalibration     = domain.EventCalibration
	EventFirmwareRestart = domain.EventFirmwareRestart
)

// EventSink consumes batches of hub events.
type EventSink = ports.EventSink

// Firmware is the byte channel to the sensor hub.
type Firmware = ports.Firmware

// CalibrationStore persists calibration blobs by resource name.
type CalibrationStore = ports.CalibrationStore

// Observability emits metrics and structured logs.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// ResourceDescriptor describes one sensor exposed by the firmware.
type ResourceDescriptor = domain.ResourceDescriptor

// CalibrationBlob is the opaque calibration record exchanged with firmware.
type CalibrationBlob = domain.CalibrationBlob

const (
	CalSubGet      = domain.CalSubGet
	CalSubSet      = domain.CalSubSet
	CalSubStart    = domain.CalSubStart
	CalSubStop     = domain.CalSubStop
	CalibratedTrue = domain.CalibratedTrue
)

// CompositeEvent is a firmware-evaluated combination of threshold clauses.
type CompositeEvent = domain.CompositeEvent

// EventClause is one clause of a CompositeEvent.
type EventClause = domain.EventClause

const (
	RelationAnd = domain.RelationAnd
	RelationOr  = domain.RelationOr

	OpEqual   = domain.OpEqual
	OpGreater = domain.OpGreater
	OpLess    = domain.OpLess
	OpBetween = domain.OpBetween

	ChannelX   = domain.ChannelX
	ChannelY   = domain.ChannelY
	ChannelZ   = domain.ChannelZ
	ChannelAll = domain.ChannelAll
)

// StreamPolicy selects idle behaviour for a streaming session.
type StreamPolicy = domain.StreamPolicy

const (
	StopOnIdle           = domain.StopOnIdle
	NoStopOnIdle         = domain.NoStopOnIdle
	NoStopNoReportOnIdle = domain.NoStopNoReportOnIdle
)

// Result is the in-band result code returned by the broker.
type Result = domain.Result
