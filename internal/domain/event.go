package domain

import (
	"fmt"
	"time"
)

// MaxEventClauses is the firmware limit on clauses per composite event.
const MaxEventClauses = 5

// Relation combines composite-event clauses.
type Relation uint8

const (
	RelationAnd Relation = 0
	RelationOr  Relation = 1
)

// Operator compares one channel against the clause parameters.
type Operator uint8

const (
	OpEqual Operator = iota
	OpGreater
	OpLess
	OpBetween
)

// Channel masks: 1 x, 2 y, 4 z, 7 all.
const (
	ChannelX   uint8 = 1
	ChannelY   uint8 = 2
	ChannelZ   uint8 = 4
	ChannelAll uint8 = 7
)

// EventClause is one threshold condition of a composite event.
type EventClause struct {
	ResourceID uint8    `json:"resource_id"`
	Channel    uint8    `json:"channel"`
	Op         Operator `json:"op"`
	Param1     int32    `json:"param1"`
	Param2     int32    `json:"param2"`
}

// CompositeEvent is a client-defined boolean combination of clauses evaluated by firmware.
type CompositeEvent struct {
	Relation Relation      `json:"relation"`
	Clauses  []EventClause `json:"clauses"`
}

// Validate checks operator, channel and relation ranges. Clause count limits are
// checked separately so callers can report them as capacity errors.
func (e CompositeEvent) Validate() error {
	if e.Relation != RelationAnd && e.Relation != RelationOr {
		return fmt.Errorf("relation %d out of range", e.Relation)
	}
	if len(e.Clauses) == 0 {
		return fmt.Errorf("composite event has no clauses")
	}
	for i, c := range e.Clauses {
		if c.Channel == 0 || c.Channel > ChannelAll {
			return fmt.Errorf("clause %d: channel mask %d out of range", i, c.Channel)
		}
		if c.Op > OpBetween {
			return fmt.Errorf("clause %d: operator %d out of range", i, c.Op)
		}
	}
	return nil
}

// HubEventKind names a broker lifecycle notification.
type HubEventKind string

const (
	EventSessionOpened   HubEventKind = "session_opened"
	EventSessionClosed   HubEventKind = "session_closed"
	EventArbitration     HubEventKind = "arbitration"
	EventCalibration     HubEventKind = "calibration"
	EventFirmwareRestart HubEventKind = "firmware_restart"
)

// HubEvent is the observable notification fanned out to monitors and message buses.
type HubEvent struct {
	Kind        HubEventKind `json:"kind"`
	BootID      string       `json:"boot_id"`
	Resource    string       `json:"resource,omitempty"`
	SessionID   uint32       `json:"session_id,omitempty"`
	Rate        int          `json:"rate,omitempty"`
	Delay       int          `json:"delay,omitempty"`
	Wake        bool         `json:"wake,omitempty"`
	Calibration string       `json:"calibration,omitempty"`
	Detail      string       `json:"detail,omitempty"`
	At          time.Time    `json:"at"`
}
