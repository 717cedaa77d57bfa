package broker

import (
	"encoding/binary"

	"github.com/ghalamif/sensorhub/internal/app/txn"
	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/ports"
	"github.com/ghalamif/sensorhub/internal/protocol/clientproto"
	"github.com/ghalamif/sensorhub/internal/protocol/fwproto"
)

// onFirmwareBytes walks every complete frame in arrival order.
func (b *Broker) onFirmwareBytes(p []byte) {
	frames, err := b.splitter.Feed(p)
	for _, f := range frames {
		b.onFrame(f)
	}
	if err != nil {
		b.obs.LogError("firmware_frame_overflow", err, ports.Field{Key: "bytes", Value: len(p)})
	}
}

func (b *Broker) onFrame(f fwproto.Frame) {
	b.obs.IncCounter(ports.MetricFirmwareFrames, 1)
	switch f.Kind {
	case fwproto.KindCmdAck:
		b.onAck(f)
	case fwproto.KindGetSingle:
		b.onSingle(f)
	case fwproto.KindCalResult:
		b.onCalibrationResult(f)
	case fwproto.KindStreaming:
		b.onStreaming(f)
	case fwproto.KindAddEvent:
		b.onEventAdded(f)
	case fwproto.KindEvent:
		b.onEventFired(f)
	case fwproto.KindPushEvent:
		b.onPushEvent(f)
	case fwproto.KindDebugMsg:
		b.obs.LogInfo("firmware_debug", ports.Field{Key: "msg", Value: string(f.Payload)})
	}
}

func (b *Broker) onAck(f fwproto.Frame) {
	if f.TransID == 0 {
		return
	}
	ack, err := fwproto.DecodeAck(f.Payload)
	if err != nil {
		b.obs.LogError("firmware_ack_malformed", err, ports.Field{Key: "tx", Value: f.TransID})
		return
	}
	s, p, err := b.reg.FindByTransactionID(f.TransID)
	if err != nil {
		// Owner already gone.
		return
	}

	switch {
	case p.Kind == domain.PendingSetProperty:
		b.onPropertyChunkAck(s, p, ack.Ret)
	case ack.Ret < 0:
		r := domain.ResultCanNotGetReply
		if p.Kind == domain.PendingGetProperty {
			r = domain.ResultPropertyNotSupported
		}
		if p.Kind == domain.PendingAddEvent {
			s.Event = nil
		}
		b.reg.EndTransaction(f.TransID)
		b.reply(s, r, nil)
	case ack.Ret == 0 && p.Kind == domain.PendingGetProperty:
		b.reg.EndTransaction(f.TransID)
		b.reply(s, domain.ResultOK, ack.Extra)
	}
}

// onPropertyChunkAck counts one chunk ack of a set-property request. The client
// is answered on the first failure or after the last chunk; the id is released
// only once every chunk has been acknowledged.
func (b *Broker) onPropertyChunkAck(s *domain.Session, p *txn.Pending, ret int32) {
	p.Remaining--
	if ret < 0 && !p.Failed {
		p.Failed = true
		b.reply(s, domain.ResultPropertyNotSupported, nil)
	}
	if p.Remaining > 0 {
		return
	}
	b.reg.EndTransaction(p.ID)
	if !p.Failed {
		b.reply(s, domain.ResultOK, nil)
	}
}

// onSingle answers every session on the resource waiting for a sample, in
// registry order.
func (b *Broker) onSingle(f fwproto.Frame) {
	res, err := b.reg.ResourceByID(f.ResourceID)
	if err != nil {
		return
	}
	payload := f.Payload
	if res.Descriptor.Calibration {
		var done uint16
		if b.cal.Done(res) {
			done = 1
		}
		payload = binary.LittleEndian.AppendUint16(append([]byte(nil), payload...), done)
	}
	for _, s := range res.Sessions {
		tx, ok := s.TxnFor(domain.PendingSingle)
		if !ok {
			continue
		}
		b.reg.EndTransaction(tx)
		b.reply(s, domain.ResultOK, payload)
	}
}

func (b *Broker) onCalibrationResult(f fwproto.Frame) {
	res, err := b.reg.ResourceByID(f.ResourceID)
	if err != nil || !res.Descriptor.Calibration {
		return
	}
	result, err := fwproto.DecodeCalibrationResult(f.Payload)
	if err != nil {
		b.obs.LogError("calibration_result_malformed", err, ports.Field{Key: "resource", Value: res.Descriptor.Name})
		return
	}

	var querying []*domain.Session
	for _, s := range res.Sessions {
		if s.Pending(domain.PendingCalibration) {
			querying = append(querying, s)
		}
	}
	err = b.cal.OnFirmwareResult(res, result, querying, func(s *domain.Session, r domain.CalibrationBlob) {
		if tx, ok := s.TxnFor(domain.PendingCalibration); ok {
			b.reg.EndTransaction(tx)
		}
		raw, err := r.MarshalBinary()
		if err != nil {
			b.reply(s, domain.ResultCanNotGetReply, nil)
			return
		}
		b.reply(s, domain.ResultOK, raw)
	})
	if err != nil {
		b.obs.LogError("calibration_result_failed", err, ports.Field{Key: "resource", Value: res.Descriptor.Name})
		return
	}
	if len(querying) == 0 {
		b.emitCalibration(res, "firmware result")
	}
}

func (b *Broker) onStreaming(f fwproto.Frame) {
	res, err := b.reg.ResourceByID(f.ResourceID)
	if err != nil {
		return
	}
	for _, s := range res.Sessions {
		if !s.Contributes() {
			continue
		}
		if b.idle && s.Policy == domain.NoStopNoReportOnIdle {
			continue
		}
		b.deliver(s.DataConn, clientproto.Data(f.Payload), false)
	}
}

func (b *Broker) onEventAdded(f fwproto.Frame) {
	s, p, err := b.reg.FindByTransactionID(f.TransID)
	if err != nil || p.Kind != domain.PendingAddEvent {
		return
	}
	b.reg.EndTransaction(f.TransID)
	if len(f.Payload) < 1 || f.Payload[0] == 0 {
		s.Event = nil
		b.reply(s, domain.ResultCanNotGetReply, nil)
		return
	}
	s.EventID = f.Payload[0]
	b.reply(s, domain.ResultOK, []byte{s.EventID})
}

// onEventFired routes a fire notification to the one session holding the id.
func (b *Broker) onEventFired(f fwproto.Frame) {
	if len(f.Payload) < 1 {
		return
	}
	id := f.Payload[0]
	res, err := b.reg.ResourceByName(domain.EventResourceName)
	if err != nil {
		return
	}
	for _, s := range res.Sessions {
		if s.EventID == id {
			b.deliver(s.DataConn, clientproto.Data(f.Payload), false)
			return
		}
	}
}

func (b *Broker) onPushEvent(f fwproto.Frame) {
	if len(f.Payload) < 1 || f.Payload[0] != fwproto.PushEventFlushDone {
		return
	}
	b.reg.Each(func(s *domain.Session) {
		if s.FlushUnit == 0 {
			return
		}
		b.deliver(s.DataConn, clientproto.FlushDone(s.FlushUnit), false)
		s.FlushUnit = 0
	})
}
