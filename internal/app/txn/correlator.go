// Package txn hands out the 8-bit transaction ids that correlate firmware replies
// with the session waiting for them.
package txn

import (
	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/errs"
)

// None is the reserved id for commands whose reply nobody waits for.
const None uint8 = 0

// Pending is one live transaction.
type Pending struct {
	ID        uint8
	SessionID uint32
	Kind      domain.PendingKind
	// Remaining counts acks still expected, for multi-command requests.
	Remaining int
	// Failed marks a multi-command request already answered with an error.
	// Its id stays live until the remaining acks drain.
	Failed bool
}

// Correlator is owned by the dispatcher goroutine and is not safe for concurrent use.
type Correlator struct {
	live map[uint8]*Pending
	last uint8
}

func New() *Correlator {
	return &Correlator{live: make(map[uint8]*Pending)}
}

// Allocate returns a rolling id that is neither 0 nor live. When the next rolling
// id is taken it probes linearly from 1.
func (c *Correlator) Allocate(sessionID uint32, kind domain.PendingKind, remaining int) (uint8, error) {
	id := c.last + 1
	if id == None {
		id = 1
	}
	if _, taken := c.live[id]; taken {
		id = None
		for probe := 1; probe <= 0xff; probe++ {
			if _, taken := c.live[uint8(probe)]; !taken {
				id = uint8(probe)
				break
			}
		}
		if id == None {
			return None, errs.Capacityf("all %d transaction ids are live", len(c.live))
		}
	}
	if remaining < 1 {
		remaining = 1
	}
	c.live[id] = &Pending{ID: id, SessionID: sessionID, Kind: kind, Remaining: remaining}
	c.last = id
	return id, nil
}

func (c *Correlator) Resolve(id uint8) (*Pending, bool) {
	p, ok := c.live[id]
	return p, ok
}

func (c *Correlator) Release(id uint8) {
	delete(c.live, id)
}

// ReleaseSession drops every transaction owned by sessionID.
func (c *Correlator) ReleaseSession(sessionID uint32) int {
	n := 0
	for id, p := range c.live {
		if p.SessionID == sessionID {
			delete(c.live, id)
			n++
		}
	}
	return n
}

func (c *Correlator) Len() int { return len(c.live) }
