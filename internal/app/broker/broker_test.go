package broker

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/ports"
	"github.com/ghalamif/sensorhub/internal/protocol/clientproto"
	"github.com/ghalamif/sensorhub/internal/protocol/fwproto"
)

func TestHelloUnknownResource(t *testing.T) {
	h := newHarness(t, ports.Policy{})
	data := h.attach()
	h.handle(t, connMessage{id: data.id, msg: clientproto.Hello("BARO")})
	id, err := clientproto.ParseHelloAck(next(t, data))
	if err != nil || id != 0 {
		t.Fatalf("expected session id 0, got %d err=%v", id, err)
	}

	ctrl := h.attach()
	h.handle(t, connMessage{id: ctrl.id, msg: clientproto.HelloSession(77)})
	r, _ := clientproto.ParseHelloSessionAck(next(t, ctrl))
	if r != domain.ResultNotAvailable {
		t.Fatalf("expected not available for unknown session, got %d", r)
	}
}

func TestBindTwiceFails(t *testing.T) {
	h := newHarness(t, ports.Policy{})
	s := h.open(t, "ACCEL")
	other := h.attach()
	h.handle(t, connMessage{id: other.id, msg: clientproto.HelloSession(s.id)})
	r, _ := clientproto.ParseHelloSessionAck(next(t, other))
	if r != domain.ResultWrongParameter {
		t.Fatalf("expected second bind to fail with wrong parameter, got %d", r)
	}
}

func TestArbitrationAcrossSessions(t *testing.T) {
	h := newHarness(t, ports.Policy{})
	a := h.open(t, "ACCEL")
	c := h.open(t, "ACCEL")
	h.fw.reset()

	if r := h.exec(t, a, start(10, 100, domain.StopOnIdle)).Result; r != domain.ResultOK {
		t.Fatalf("start a: expected ok, got %d", r)
	}
	if r := h.exec(t, c, start(25, 60, domain.StopOnIdle)).Result; r != domain.ResultOK {
		t.Fatalf("start c: expected ok, got %d", r)
	}
	res := h.resource(t, "ACCEL")
	if res.Rate != 25 || res.Delay != 20 {
		t.Fatalf("expected rate 25 delay 20, got %d/%d", res.Rate, res.Delay)
	}

	h.handle(t, connClosed{id: a.data.id})
	if res.Rate != 25 || res.Delay != 60 {
		t.Fatalf("expected rate 25 delay 60 after a leaves, got %d/%d", res.Rate, res.Delay)
	}
	if _, ok := h.b.clients[a.ctrl.id]; ok {
		t.Fatalf("expected control conn of the closed session to be dropped")
	}

	h.handle(t, connClosed{id: c.ctrl.id})
	if res.Rate != 0 || res.Delay != 0 || len(res.Sessions) != 0 {
		t.Fatalf("expected idle resource, got rate %d delay %d sessions %d", res.Rate, res.Delay, len(res.Sessions))
	}
	expectSent(t, h.fw,
		"0 3 1 10 0 100 0 0 0",
		"0 3 1 25 0 20 0 0 0",
		"0 3 1 25 0 60 0 0 0",
		"0 4 1 0 0 0 0 0 0",
	)
}

func TestRestartReplacesOwnRequest(t *testing.T) {
	h := newHarness(t, ports.Policy{})
	s := h.open(t, "ACCEL")
	h.exec(t, s, start(100, 0, domain.StopOnIdle))
	h.exec(t, s, start(20, 0, domain.StopOnIdle))

	res := h.resource(t, "ACCEL")
	if res.Rate != 20 {
		t.Fatalf("expected a restart to drop the old rate, got %d", res.Rate)
	}
}

func TestStartValidation(t *testing.T) {
	h := newHarness(t, ports.Policy{})
	s := h.open(t, "ACCEL")
	h.fw.reset()

	for name, cmd := range map[string]clientproto.Command{
		"zero rate":      start(0, 0, domain.StopOnIdle),
		"negative delay": start(10, -1, domain.StopOnIdle),
		"bad policy":     start(10, 0, 3),
	} {
		if r := h.exec(t, s, cmd).Result; r != domain.ResultWrongParameter {
			t.Fatalf("%s: expected wrong parameter, got %d", name, r)
		}
	}
	if r := h.exec(t, s, stop).Result; r != domain.ResultOK {
		t.Fatalf("expected stop on inactive session to succeed, got %d", r)
	}
	if r := h.exec(t, s, start(500, 0, domain.StopOnIdle)).Result; r != domain.ResultOK {
		t.Fatalf("expected clamped start to succeed, got %d", r)
	}
	if got := h.session(t, s).Rate; got != 200 {
		t.Fatalf("expected rate clamped to 200, got %d", got)
	}
	expectSent(t, h.fw, "0 3 1 200 0 0 0 0 0")
}

func TestFirmwareWriteFailureKeepsState(t *testing.T) {
	h := newHarness(t, ports.Policy{})
	s := h.open(t, "ACCEL")
	h.exec(t, s, start(10, 0, domain.StopOnIdle))

	h.fw.setSendErr(errors.New("write control: input/output error"))
	if r := h.exec(t, s, start(50, 0, domain.StopOnIdle)).Result; r != domain.ResultMessageNotSent {
		t.Fatalf("expected message not sent, got %d", r)
	}
	sess := h.session(t, s)
	res := h.resource(t, "ACCEL")
	if res.Rate != 10 || sess.Rate != 10 || sess.State != domain.Active {
		t.Fatalf("expected state untouched, got resource rate %d session %+v", res.Rate, sess)
	}
	if r := h.exec(t, s, stop).Result; r != domain.ResultMessageNotSent {
		t.Fatalf("expected stop to fail, got %d", r)
	}
	if sess.State != domain.Active {
		t.Fatalf("expected session to stay active, got %s", sess.State)
	}
	if r := h.exec(t, s, getSingle).Result; r != domain.ResultMessageNotSent {
		t.Fatalf("expected get single to fail, got %d", r)
	}
	if n := h.b.reg.LiveTransactions(); n != 0 {
		t.Fatalf("expected failed request to release its transaction, got %d live", n)
	}
}

func TestGetSingleFansOutInOrder(t *testing.T) {
	h := newHarness(t, ports.Policy{})
	a := h.open(t, "ACCEL")
	c := h.open(t, "ACCEL")
	h.fw.reset()

	h.command(t, a, getSingle)
	h.command(t, c, getSingle)
	if a.ctrl.outbox.Len() != 0 || c.ctrl.outbox.Len() != 0 {
		t.Fatalf("expected replies to be deferred")
	}
	if r := h.exec(t, a, getSingle).Result; r != domain.ResultNoCapacity {
		t.Fatalf("expected duplicate request to be rejected, got %d", r)
	}
	expectSent(t, h.fw, "1 2 1", "2 2 1")

	h.frame(fwproto.Frame{TransID: 1, Kind: fwproto.KindGetSingle, ResourceID: 1, Payload: []byte{9, 8}})
	for _, s := range []testSession{a, c} {
		got := ack(t, s.ctrl)
		if got.Result != domain.ResultOK || !bytes.Equal(got.Payload, []byte{9, 8}) {
			t.Fatalf("session %d: unexpected reply %+v", s.id, got)
		}
	}
	if n := h.b.reg.LiveTransactions(); n != 0 {
		t.Fatalf("expected all transactions released, got %d", n)
	}
}

func TestGetSingleCarriesCalibrationFlag(t *testing.T) {
	h := newHarness(t, ports.Policy{})
	h.store.blobs["COMPS"] = domain.CalibrationBlob{SubCmd: domain.CalSubSet, Calibrated: domain.CalibratedTrue, Data: []byte{1}}
	s := h.open(t, "COMPS")

	h.command(t, s, getSingle)
	tx, ok := h.session(t, s).TxnFor(domain.PendingSingle)
	if !ok {
		t.Fatalf("expected a pending get single")
	}
	h.frame(fwproto.Frame{TransID: tx, Kind: fwproto.KindGetSingle, ResourceID: 4, Payload: []byte{5}})
	got := ack(t, s.ctrl)
	if !bytes.Equal(got.Payload, []byte{5, 1, 0}) {
		t.Fatalf("expected sample plus done flag, got %v", got.Payload)
	}
}

func TestDisconnectReleasesTransactions(t *testing.T) {
	h := newHarness(t, ports.Policy{})
	s := h.open(t, "ACCEL")
	h.exec(t, s, start(10, 0, domain.StopOnIdle))
	h.command(t, s, getSingle)
	h.command(t, s, clientproto.Command{Kind: clientproto.CmdGetProperty, Payload: []byte{1}})
	if n := h.b.reg.LiveTransactions(); n != 2 {
		t.Fatalf("expected 2 live transactions, got %d", n)
	}

	h.handle(t, connClosed{id: s.ctrl.id})
	if n := h.b.reg.LiveTransactions(); n != 0 {
		t.Fatalf("expected teardown to release transactions, got %d", n)
	}
	if res := h.resource(t, "ACCEL"); res.Rate != 0 {
		t.Fatalf("expected arbitration to be reversed, got rate %d", res.Rate)
	}

	// A late reply for the dead session is discarded.
	h.frame(fwproto.Frame{TransID: 1, Kind: fwproto.KindGetSingle, ResourceID: 1, Payload: []byte{1}})
	h.frame(fwproto.Frame{TransID: 2, Kind: fwproto.KindCmdAck, Payload: fwproto.EncodeAck(fwproto.Ack{CmdID: fwproto.CmdGetProperty})})

	n := h.open(t, "ACCEL")
	h.command(t, n, getSingle)
	if _, ok := h.session(t, n).TxnFor(domain.PendingSingle); !ok {
		t.Fatalf("expected new session to get a transaction")
	}
}

func TestProtocolErrorDropsClient(t *testing.T) {
	h := newHarness(t, ports.Policy{})
	s := h.open(t, "ACCEL")

	h.handle(t, connMessage{id: s.data.id, msg: getSingle.Message()})
	if _, ok := h.b.clients[s.data.id]; ok {
		t.Fatalf("expected data conn to be dropped")
	}
	if _, ok := h.b.clients[s.ctrl.id]; ok {
		t.Fatalf("expected control conn to be dropped with its session")
	}
	if h.b.reg.Sessions() != 0 {
		t.Fatalf("expected session to be removed")
	}

	stray := h.attach()
	h.handle(t, connMessage{id: stray.id, msg: getSingle.Message()})
	if _, ok := h.b.clients[stray.id]; ok {
		t.Fatalf("expected unbound conn sending a command to be dropped")
	}
}

func TestOutboxFullPolicy(t *testing.T) {
	h := newHarness(t, ports.Policy{MaxOutboxLen: 2, OnOutboxFull: "disconnect"})
	s := h.open(t, "ACCEL")
	h.exec(t, s, start(10, 0, domain.StopOnIdle))

	for i := 0; i < 3; i++ {
		h.frame(fwproto.Frame{Kind: fwproto.KindStreaming, ResourceID: 1, Payload: []byte{byte(i)}})
	}
	if s.data.outbox.Len() != 2 {
		t.Fatalf("expected data outbox capped at 2, got %d", s.data.outbox.Len())
	}
	if _, ok := h.b.clients[s.data.id]; !ok {
		t.Fatalf("expected data drops to keep the client")
	}

	for i := 0; i < 3; i++ {
		h.command(t, s, stop)
	}
	if _, ok := h.b.clients[s.ctrl.id]; ok {
		t.Fatalf("expected a full control outbox to disconnect the client")
	}
	if h.b.reg.Sessions() != 0 {
		t.Fatalf("expected session to be removed")
	}
}

func TestHubEventsCarryBootID(t *testing.T) {
	h := newHarness(t, ports.Policy{})
	s := h.open(t, "ACCEL")
	h.exec(t, s, start(10, 0, domain.StopOnIdle))
	h.handle(t, connClosed{id: s.data.id})

	var kinds []domain.HubEventKind
	for _, ev := range h.events.DequeueBatch(0) {
		if ev.BootID != "boot-test" || ev.At.IsZero() {
			t.Fatalf("unexpected event %+v", ev)
		}
		kinds = append(kinds, ev.Kind)
	}
	want := []domain.HubEventKind{
		domain.EventSessionOpened,
		domain.EventArbitration,
		domain.EventArbitration,
		domain.EventSessionClosed,
	}
	if len(kinds) != len(want) {
		t.Fatalf("expected events %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, kinds)
		}
	}
}

func TestIdleTransitionReapsKickedClients(t *testing.T) {
	h := newHarness(t, ports.Policy{})
	s := h.open(t, "ACCEL")
	h.exec(t, s, start(10, 0, domain.NoStopOnIdle))

	// A client kicked while the transition runs is dropped before the
	// dispatcher waits for the next event.
	h.b.kicked = append(h.b.kicked, s.ctrl.id)
	h.b.applyIdle(true)

	if _, ok := h.b.clients[s.ctrl.id]; ok {
		t.Fatalf("expected kicked control conn to be dropped")
	}
	if _, ok := h.b.clients[s.data.id]; ok {
		t.Fatalf("expected the session's data conn to be dropped with it")
	}
	if len(h.b.kicked) != 0 {
		t.Fatalf("expected kicked list to be empty, got %v", h.b.kicked)
	}
	if res := h.resource(t, "ACCEL"); res.Rate != 0 || len(res.Sessions) != 0 {
		t.Fatalf("expected the stream to be released, got rate %d sessions %d", res.Rate, len(res.Sessions))
	}
}
