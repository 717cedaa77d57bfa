package broker

import (
	"github.com/ghalamif/sensorhub/internal/app/arbiter"
	"github.com/ghalamif/sensorhub/internal/app/txn"
	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/ports"
	"github.com/ghalamif/sensorhub/internal/protocol/fwproto"
)

// activate (re)starts s with the given request. A session that already
// contributes is first taken out of the arbitration so its old request does not
// linger. On a failed firmware write nothing changes.
func (b *Broker) activate(s *domain.Session, rate, delay int, policy domain.StreamPolicy) error {
	res := s.Resource
	prevSettings := arbiter.Current(res)
	prevState := s.State

	if s.Contributes() {
		arbiter.Deactivate(res, s).Apply(res)
		s.State = domain.Inactive
	}

	wake := policy != domain.StopOnIdle
	st := arbiter.Activate(res, s, rate, delay, wake)
	if err := b.send(fwproto.StartStreaming(txn.None, res.Descriptor.ID, st.Rate, st.Delay, st.Wake)); err != nil {
		prevSettings.Apply(res)
		s.State = prevState
		return err
	}

	st.Apply(res)
	s.Rate, s.Delay, s.Policy = rate, delay, policy
	if wake {
		s.State = domain.AlwaysOn
	} else {
		s.State = domain.Active
	}
	b.emitArbitration(s)
	return nil
}

// deactivate takes s out of the arbitration and moves it to next. The firmware
// gets a stop when nobody else streams, otherwise the recomputed settings.
// With force the state changes even when the write fails.
func (b *Broker) deactivate(s *domain.Session, next domain.SessionState, force bool) error {
	res := s.Resource
	st := arbiter.Deactivate(res, s)

	var cmd fwproto.Command
	if st.Rate == 0 {
		cmd = fwproto.StopStreaming(txn.None, res.Descriptor.ID)
	} else {
		cmd = fwproto.StartStreaming(txn.None, res.Descriptor.ID, st.Rate, st.Delay, st.Wake)
	}
	err := b.send(cmd)
	if err != nil && !force {
		return err
	}

	st.Apply(res)
	s.State = next
	b.emitArbitration(s)
	return err
}

// Quiesce reverses everything s contributed to shared firmware state. The
// registry calls it before unlinking the session.
func (b *Broker) Quiesce(s *domain.Session) {
	if s.Contributes() {
		_ = b.deactivate(s, domain.Inactive, true)
	}
	s.State = domain.Inactive
	s.FlushUnit = 0
	if s.EventID != 0 {
		if err := b.send(fwproto.ClearEvent(txn.None, s.EventID)); err != nil {
			b.obs.LogError("clear_event_failed", err, ports.Field{Key: "event", Value: s.EventID})
		}
		s.EventID = 0
		s.Event = nil
	}
}

// applyIdle parks stop-on-idle sessions while the host sleeps and restarts them
// on resume.
func (b *Broker) applyIdle(idle bool) {
	defer b.reap()
	b.idle = idle
	b.obs.LogInfo("idle_changed", ports.Field{Key: "idle", Value: idle})
	b.reg.Each(func(s *domain.Session) {
		switch {
		case idle && s.State == domain.Active && s.Policy == domain.StopOnIdle:
			_ = b.deactivate(s, domain.NeedResume, true)
		case !idle && s.State == domain.NeedResume:
			if err := b.activate(s, s.Rate, s.Delay, s.Policy); err != nil {
				b.obs.LogError("resume_failed", err, ports.Field{Key: "session", Value: s.ID})
			}
		}
	})
}
