// Package arbiter combines the requests of every streaming session on a resource
// into one rate, batching delay and wake flag.
//
// All functions read the resource's session list and never modify it. The
// requesting session is always excluded from the "other sessions" scans.
package arbiter

import "github.com/ghalamif/sensorhub/internal/domain"

// Rate returns the resource rate once s activates with requested, or once s leaves.
// The most demanding subscriber wins.
func Rate(r *domain.Resource, s *domain.Session, requested int, activating bool) int {
	if activating {
		if r.Rate == 0 || requested > r.Rate {
			return requested
		}
		return r.Rate
	}
	top := 0
	for _, o := range others(r, s) {
		if o.Rate > top {
			top = o.Rate
		}
	}
	return top
}

// Delay returns the batching delay once s activates with requested, or once s leaves.
// Delays combine by gcd so every subscriber's bound is a multiple of the flush interval.
// Any zero request forces zero.
func Delay(r *domain.Resource, s *domain.Session, requested int, activating bool) int {
	if activating {
		if requested == 0 {
			return 0
		}
		if len(others(r, s)) == 0 {
			return requested
		}
		if r.Delay == 0 {
			return 0
		}
		return gcd(r.Delay, requested)
	}
	d := 0
	for _, o := range others(r, s) {
		if o.Delay == 0 {
			return 0
		}
		d = gcd(d, o.Delay)
	}
	return d
}

// Wake is sticky: set when the caller asks for it or any other session is always-on.
func Wake(r *domain.Resource, s *domain.Session, requested bool) bool {
	if requested {
		return true
	}
	for _, o := range others(r, s) {
		if o.State == domain.AlwaysOn {
			return true
		}
	}
	return false
}

// Settings is the full arbitration outcome for one resource.
type Settings struct {
	Rate  int
	Delay int
	Wake  bool
}

// Activate computes the settings after s starts with the given request.
func Activate(r *domain.Resource, s *domain.Session, rate, delay int, wake bool) Settings {
	return Settings{
		Rate:  Rate(r, s, rate, true),
		Delay: Delay(r, s, delay, true),
		Wake:  Wake(r, s, wake),
	}
}

// Deactivate computes the settings as if s were no longer streaming.
func Deactivate(r *domain.Resource, s *domain.Session) Settings {
	return Settings{
		Rate:  Rate(r, s, 0, false),
		Delay: Delay(r, s, 0, false),
		Wake:  Wake(r, s, false),
	}
}

// Apply stores the settings on the resource.
func (st Settings) Apply(r *domain.Resource) {
	r.Rate, r.Delay, r.Wake = st.Rate, st.Delay, st.Wake
}

// Current reads the settings held by the resource.
func Current(r *domain.Resource) Settings {
	return Settings{Rate: r.Rate, Delay: r.Delay, Wake: r.Wake}
}

func others(r *domain.Resource, s *domain.Session) []*domain.Session {
	var out []*domain.Session
	for _, o := range r.Sessions {
		if o != s && o.Contributes() {
			out = append(out, o)
		}
	}
	return out
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
