package domain

import "fmt"

// ConnID identifies one accepted client connection. Zero means unbound.
type ConnID uint64

// SessionState is the streaming lifecycle of a session.
type SessionState uint8

const (
	Inactive SessionState = iota
	Active
	AlwaysOn
	NeedResume
)

func (s SessionState) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case AlwaysOn:
		return "always_on"
	case NeedResume:
		return "need_resume"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// StreamPolicy selects how a streaming session behaves while the host is idle.
type StreamPolicy uint8

const (
	StopOnIdle StreamPolicy = iota
	NoStopOnIdle
	NoStopNoReportOnIdle
)

// Valid reports whether p is a known policy.
func (p StreamPolicy) Valid() bool { return p <= NoStopNoReportOnIdle }

func (p StreamPolicy) String() string {
	switch p {
	case StopOnIdle:
		return "stop_on_idle"
	case NoStopOnIdle:
		return "no_stop_on_idle"
	case NoStopNoReportOnIdle:
		return "no_stop_no_report_on_idle"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// PendingKind tags an outstanding firmware request owned by a session.
type PendingKind uint8

const (
	PendingSingle PendingKind = iota + 1
	PendingCalibration
	PendingGetProperty
	PendingSetProperty
	PendingAddEvent
)

func (k PendingKind) String() string {
	switch k {
	case PendingSingle:
		return "get_single"
	case PendingCalibration:
		return "get_calibration"
	case PendingGetProperty:
		return "get_property"
	case PendingSetProperty:
		return "set_property"
	case PendingAddEvent:
		return "add_event"
	default:
		return fmt.Sprintf("pending(%d)", uint8(k))
	}
}

// Session is one client's handle on a resource.
type Session struct {
	ID       uint32
	Resource *Resource

	State  SessionState
	Rate   int
	Delay  int
	Policy StreamPolicy

	// FlushUnit is non-zero while a flush completion is awaited.
	FlushUnit int

	DataConn    ConnID
	ControlConn ConnID

	EventID uint8
	Event   *CompositeEvent

	// Txns holds the transaction ids this session is waiting on.
	Txns map[uint8]PendingKind
}

// NewSession creates an inactive session attached to res.
func NewSession(id uint32, res *Resource, data ConnID) *Session {
	return &Session{
		ID:       id,
		Resource: res,
		DataConn: data,
		Txns:     make(map[uint8]PendingKind),
	}
}

// Contributes reports whether the session takes part in rate/delay arbitration.
func (s *Session) Contributes() bool {
	return s.State == Active || s.State == AlwaysOn
}

// Bound reports whether the control connection completed the handshake.
func (s *Session) Bound() bool { return s.ControlConn != 0 }

// Pending reports whether a request of kind k is outstanding.
func (s *Session) Pending(k PendingKind) bool {
	for _, kind := range s.Txns {
		if kind == k {
			return true
		}
	}
	return false
}

// TxnFor returns the transaction id of the outstanding request of kind k.
func (s *Session) TxnFor(k PendingKind) (uint8, bool) {
	for id, kind := range s.Txns {
		if kind == k {
			return id, true
		}
	}
	return 0, false
}
