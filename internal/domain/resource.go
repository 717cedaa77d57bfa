package domain

// EventResourceName names the pseudo-resource that hosts composite-event sessions.
const EventResourceName = "EVENT"

// MaxResourceNameLen bounds resource names on both wires.
const MaxResourceNameLen = 32

// ResourceDescriptor is the immutable identity of one sensing resource exposed by the firmware.
type ResourceDescriptor struct {
	ID   uint8  `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	// FreqMax is the highest supported sampling rate; values <= 0 mean unbounded.
	FreqMax     int  `yaml:"freq_max" json:"freq_max"`
	Calibration bool `yaml:"calibration" json:"calibration"`
	Pseudo      bool `yaml:"-" json:"pseudo,omitempty"`
}

// Bounded reports whether the resource caps its sampling rate.
func (d ResourceDescriptor) Bounded() bool { return d.FreqMax > 0 }

// ClampRate limits a requested rate to FreqMax when the resource is bounded.
func (d ResourceDescriptor) ClampRate(rate int) int {
	if d.Bounded() && rate > d.FreqMax {
		return d.FreqMax
	}
	return rate
}

// EventResource returns the descriptor appended to every resource table for composite events.
func EventResource() ResourceDescriptor {
	return ResourceDescriptor{Name: EventResourceName, FreqMax: -1, Pseudo: true}
}

// Resource is the mutable per-resource arbitration state plus its ordered session list.
// It is owned by the dispatcher goroutine.
type Resource struct {
	Descriptor ResourceDescriptor

	Rate  int
	Delay int
	Wake  bool

	Sessions []*Session
}

// NewResource wraps a descriptor with zeroed arbitration state.
func NewResource(d ResourceDescriptor) *Resource {
	return &Resource{Descriptor: d}
}

// Streaming reports whether any session contributes to arbitration.
func (r *Resource) Streaming() bool {
	for _, s := range r.Sessions {
		if s.Contributes() {
			return true
		}
	}
	return false
}
