package broker

import (
	"errors"
	"fmt"

	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/errs"
	"github.com/ghalamif/sensorhub/internal/ports"
	"github.com/ghalamif/sensorhub/internal/protocol/clientproto"
	"github.com/ghalamif/sensorhub/internal/protocol/fwproto"
)

// onCommand routes one control command. Immediate commands are acknowledged
// here; correlated ones reply when the firmware answers.
func (b *Broker) onCommand(s *domain.Session, cmd clientproto.Command) {
	pseudo := s.Resource.Descriptor.Pseudo
	eventCmd := cmd.Kind == clientproto.CmdAddEvent || cmd.Kind == clientproto.CmdClearEvent
	if pseudo != eventCmd {
		b.reply(s, domain.ResultWrongActionOnSensorType, nil)
		return
	}

	var (
		r       domain.Result
		pending bool
	)
	switch cmd.Kind {
	case clientproto.CmdStartStreaming:
		r = b.cmdStart(s, cmd)
	case clientproto.CmdStopStreaming:
		r = b.cmdStop(s)
	case clientproto.CmdFlushStreaming:
		r = b.cmdFlush(s, cmd)
	case clientproto.CmdGetSingle:
		r, pending = b.cmdGetSingle(s)
	case clientproto.CmdGetCalibration:
		r, pending = b.cmdGetCalibration(s)
	case clientproto.CmdSetCalibration:
		r = b.cmdSetCalibration(s, cmd)
	case clientproto.CmdSetProperty:
		r, pending = b.cmdSetProperty(s, cmd)
	case clientproto.CmdGetProperty:
		r, pending = b.cmdGetProperty(s, cmd)
	case clientproto.CmdAddEvent:
		r, pending = b.cmdAddEvent(s, cmd)
	case clientproto.CmdClearEvent:
		r = b.cmdClearEvent(s, cmd)
	default:
		r = domain.ResultWrongParameter
	}
	if !pending {
		b.reply(s, r, nil)
	}
}

func (b *Broker) cmdStart(s *domain.Session, cmd clientproto.Command) domain.Result {
	rate, delay := int(cmd.P0), int(cmd.P1)
	if rate <= 0 || delay < 0 || delay > 0xffff || cmd.P2 < 0 || cmd.P2 > 0xff {
		return domain.ResultWrongParameter
	}
	policy := domain.StreamPolicy(cmd.P2)
	if !policy.Valid() {
		return domain.ResultWrongParameter
	}
	rate = s.Resource.Descriptor.ClampRate(rate)

	if b.idle && policy == domain.StopOnIdle {
		if s.Contributes() {
			if err := b.deactivate(s, domain.NeedResume, false); err != nil {
				return errs.ResultCode(err)
			}
		}
		s.Rate, s.Delay, s.Policy = rate, delay, policy
		s.State = domain.NeedResume
		return domain.ResultOK
	}
	return errs.ResultCode(b.activate(s, rate, delay, policy))
}

func (b *Broker) cmdStop(s *domain.Session) domain.Result {
	switch {
	case s.Contributes():
		return errs.ResultCode(b.deactivate(s, domain.Inactive, false))
	case s.State == domain.NeedResume:
		s.State = domain.Inactive
	}
	return domain.ResultOK
}

func (b *Broker) cmdFlush(s *domain.Session, cmd clientproto.Command) domain.Result {
	unit := int(cmd.P0)
	if unit < 1 || unit > clientproto.MaxFlushUnit {
		return domain.ResultWrongParameter
	}
	if s.State == domain.Inactive {
		return domain.ResultNotAvailable
	}
	if err := b.send(fwproto.Flush(0)); err != nil {
		return errs.ResultCode(err)
	}
	s.FlushUnit = unit
	return domain.ResultOK
}

// begin allocates a transaction for a correlated request. A second request of
// the same kind while one is outstanding is a capacity error.
func (b *Broker) begin(s *domain.Session, kind domain.PendingKind, remaining int) (uint8, domain.Result) {
	if s.Pending(kind) {
		return 0, domain.ResultNoCapacity
	}
	tx, err := b.reg.BeginTransaction(s, kind, remaining)
	if err != nil {
		b.obs.LogError("transaction_alloc_failed", err, ports.Field{Key: "session", Value: s.ID})
		return 0, errs.ResultCode(err)
	}
	return tx, domain.ResultOK
}

// forward sends the commands of a correlated request. On failure tx is
// released, unless earlier commands already went out: then it stays live as
// failed until their acks arrive.
func (b *Broker) forward(tx uint8, cmds ...fwproto.Command) (domain.Result, bool) {
	for i, c := range cmds {
		if err := b.send(c); err != nil {
			if _, p, ferr := b.reg.FindByTransactionID(tx); ferr == nil && i > 0 {
				p.Failed = true
				p.Remaining = i
			} else {
				b.reg.EndTransaction(tx)
			}
			return errs.ResultCode(err), false
		}
	}
	return domain.ResultOK, true
}

func (b *Broker) cmdGetSingle(s *domain.Session) (domain.Result, bool) {
	tx, r := b.begin(s, domain.PendingSingle, 1)
	if r != domain.ResultOK {
		return r, false
	}
	return b.forward(tx, fwproto.GetSingle(tx, s.Resource.Descriptor.ID))
}

func (b *Broker) cmdGetCalibration(s *domain.Session) (domain.Result, bool) {
	if !s.Resource.Descriptor.Calibration {
		return domain.ResultWrongActionOnSensorType, false
	}
	tx, r := b.begin(s, domain.PendingCalibration, 1)
	if r != domain.ResultOK {
		return r, false
	}
	return b.forward(tx, fwproto.CalibrationGet(tx, s.Resource.Descriptor.ID))
}

func (b *Broker) cmdSetCalibration(s *domain.Session, cmd clientproto.Command) domain.Result {
	res := s.Resource
	if !res.Descriptor.Calibration {
		return domain.ResultWrongActionOnSensorType
	}
	var blob domain.CalibrationBlob
	if err := blob.UnmarshalBinary(cmd.Payload); err != nil || blob.Empty() {
		return domain.ResultWrongParameter
	}

	var err error
	switch blob.SubCmd {
	case domain.CalSubStart:
		err = b.cal.Reset(res, blob)
	case domain.CalSubStop:
		err = b.cal.Stop(res)
	case domain.CalSubSet:
		err = b.cal.Set(res, blob)
	default:
		return domain.ResultWrongParameter
	}
	if err != nil {
		return errs.ResultCode(err)
	}
	b.emitCalibration(res, fmt.Sprintf("client sub-command %d", blob.SubCmd))
	return domain.ResultOK
}

func (b *Broker) cmdSetProperty(s *domain.Session, cmd clientproto.Command) (domain.Result, bool) {
	if cmd.P0 < 0 || cmd.P0 > 0xff {
		return domain.ResultWrongParameter, false
	}
	chunks := fwproto.SetProperty(0, s.Resource.Descriptor.ID, uint8(cmd.P0), cmd.Payload)
	tx, r := b.begin(s, domain.PendingSetProperty, len(chunks))
	if r != domain.ResultOK {
		return r, false
	}
	for i := range chunks {
		chunks[i].TransID = tx
	}
	return b.forward(tx, chunks...)
}

func (b *Broker) cmdGetProperty(s *domain.Session, cmd clientproto.Command) (domain.Result, bool) {
	fc, err := fwproto.GetProperty(0, s.Resource.Descriptor.ID, cmd.Payload)
	if err != nil {
		return errs.ResultCode(errs.Wrap(errs.ErrPropertyTooLarge, "broker", "GetProperty", err.Error())), false
	}
	tx, r := b.begin(s, domain.PendingGetProperty, 1)
	if r != domain.ResultOK {
		return r, false
	}
	fc.TransID = tx
	return b.forward(tx, fc)
}

func (b *Broker) cmdAddEvent(s *domain.Session, cmd clientproto.Command) (domain.Result, bool) {
	if s.EventID != 0 || s.Pending(domain.PendingAddEvent) {
		return domain.ResultNoCapacity, false
	}
	ev, err := clientproto.DecodeEvent(cmd.Payload)
	if err != nil {
		return domain.ResultWrongParameter, false
	}
	if len(ev.Clauses) > domain.MaxEventClauses {
		return domain.ResultNoCapacity, false
	}
	if err := ev.Validate(); err != nil {
		return domain.ResultWrongParameter, false
	}
	for _, c := range ev.Clauses {
		if _, err := b.reg.ResourceByID(c.ResourceID); err != nil {
			if errors.Is(err, errs.ErrResourceNotFound) {
				return domain.ResultWrongParameter, false
			}
			return errs.ResultCode(err), false
		}
	}

	tx, r := b.begin(s, domain.PendingAddEvent, 1)
	if r != domain.ResultOK {
		return r, false
	}
	r, sent := b.forward(tx, fwproto.AddEvent(tx, ev))
	if sent {
		s.Event = &ev
	}
	return r, sent
}

func (b *Broker) cmdClearEvent(s *domain.Session, cmd clientproto.Command) domain.Result {
	if s.EventID == 0 || cmd.P0 != int32(s.EventID) {
		return domain.ResultWrongParameter
	}
	if err := b.send(fwproto.ClearEvent(0, s.EventID)); err != nil {
		return errs.ResultCode(err)
	}
	s.EventID = 0
	s.Event = nil
	return domain.ResultOK
}
