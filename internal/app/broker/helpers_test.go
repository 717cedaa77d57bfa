package broker

import (
	"io"
	"os"
	"sync"
	"testing"

	"github.com/ghalamif/sensorhub/internal/adapters/queue"
	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/ports"
	"github.com/ghalamif/sensorhub/internal/protocol/clientproto"
	"github.com/ghalamif/sensorhub/internal/protocol/fwproto"
)

type fakeFirmware struct {
	mu      sync.Mutex
	sent    []string
	sendErr error

	reads     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeFirmware() *fakeFirmware {
	return &fakeFirmware{reads: make(chan []byte, 64), closed: make(chan struct{})}
}

func (f *fakeFirmware) Send(cmd []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, string(cmd))
	return nil
}

func (f *fakeFirmware) Read(p []byte) (int, error) {
	select {
	case b, ok := <-f.reads:
		if !ok {
			return 0, io.ErrUnexpectedEOF
		}
		return copy(p, b), nil
	case <-f.closed:
		return 0, os.ErrClosed
	}
}

func (f *fakeFirmware) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeFirmware) push(frames ...fwproto.Frame) {
	for _, fr := range frames {
		f.reads <- fwproto.AppendFrame(nil, fr)
	}
}

// fail makes the next Read report a broken channel.
func (f *fakeFirmware) fail() { close(f.reads) }

func (f *fakeFirmware) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeFirmware) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeFirmware) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

type memStore struct {
	mu    sync.Mutex
	blobs map[string]domain.CalibrationBlob
}

func newMemStore() *memStore { return &memStore{blobs: map[string]domain.CalibrationBlob{}} }

func (s *memStore) Load(name string) (domain.CalibrationBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs[name], nil
}

func (s *memStore) Save(name string, b domain.CalibrationBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[name] = b
	return nil
}

func (s *memStore) Clear(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, name)
	return nil
}

func testResources() []domain.ResourceDescriptor {
	return []domain.ResourceDescriptor{
		{ID: 1, Name: "ACCEL", FreqMax: 200},
		{ID: 4, Name: "COMPS", FreqMax: 100, Calibration: true},
		domain.EventResource(),
	}
}

type harness struct {
	b      *Broker
	fw     *fakeFirmware
	store  *memStore
	events *queue.MemQueue[domain.HubEvent]
}

func newHarness(t *testing.T, pol ports.Policy) *harness {
	t.Helper()
	h := &harness{
		fw:     newFakeFirmware(),
		store:  newMemStore(),
		events: queue.NewMemQueue[domain.HubEvent](0),
	}
	b, err := New(Options{
		Resources: testResources(),
		Firmware:  h.fw,
		Store:     h.store,
		Events:    h.events,
		Policy:    pol,
		BootID:    "boot-test",
	})
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	h.b = b
	return h
}

// attach registers a connection without a socket; replies stay in its outbox.
func (h *harness) attach() *client {
	h.b.nextConn++
	c := newClient(h.b.nextConn, nil, h.b.policy.MaxOutboxLen)
	h.b.clients[c.id] = c
	return c
}

type testSession struct {
	id   uint32
	data *client
	ctrl *client
}

func (h *harness) open(t *testing.T, resource string) testSession {
	t.Helper()
	data := h.attach()
	h.handle(t, connMessage{id: data.id, msg: clientproto.Hello(resource)})
	id, err := clientproto.ParseHelloAck(next(t, data))
	if err != nil || id == 0 {
		t.Fatalf("hello %s: expected session id, got %d err=%v", resource, id, err)
	}
	ctrl := h.attach()
	h.handle(t, connMessage{id: ctrl.id, msg: clientproto.HelloSession(id)})
	r, err := clientproto.ParseHelloSessionAck(next(t, ctrl))
	if err != nil || r != domain.ResultOK {
		t.Fatalf("bind session %d: expected ok, got %d err=%v", id, r, err)
	}
	return testSession{id: id, data: data, ctrl: ctrl}
}

func (h *harness) handle(t *testing.T, ev loopEvent) {
	t.Helper()
	if err := h.b.handle(ev); err != nil {
		t.Fatalf("handle %T: %v", ev, err)
	}
}

func (h *harness) command(t *testing.T, s testSession, cmd clientproto.Command) {
	t.Helper()
	h.handle(t, connMessage{id: s.ctrl.id, msg: cmd.Message()})
}

// exec sends cmd and returns the immediate reply.
func (h *harness) exec(t *testing.T, s testSession, cmd clientproto.Command) clientproto.CommandAck {
	t.Helper()
	h.command(t, s, cmd)
	return ack(t, s.ctrl)
}

func (h *harness) frame(f fwproto.Frame) {
	h.b.onFirmwareBytes(fwproto.AppendFrame(nil, f))
}

func (h *harness) session(t *testing.T, s testSession) *domain.Session {
	t.Helper()
	got, err := h.b.reg.FindBySessionID(s.id)
	if err != nil {
		t.Fatalf("session %d: %v", s.id, err)
	}
	return got
}

func (h *harness) resource(t *testing.T, name string) *domain.Resource {
	t.Helper()
	r, err := h.b.reg.ResourceByName(name)
	if err != nil {
		t.Fatalf("resource %s: %v", name, err)
	}
	return r
}

func next(t *testing.T, c *client) clientproto.Message {
	t.Helper()
	msgs := c.outbox.DequeueBatch(1)
	if len(msgs) == 0 {
		t.Fatalf("conn %d: expected a queued message", c.id)
	}
	return msgs[0]
}

func ack(t *testing.T, c *client) clientproto.CommandAck {
	t.Helper()
	a, err := clientproto.ParseCommandAck(next(t, c))
	if err != nil {
		t.Fatalf("conn %d: expected command ack: %v", c.id, err)
	}
	return a
}

func expectSent(t *testing.T, fw *fakeFirmware, want ...string) {
	t.Helper()
	got := fw.Sent()
	if len(got) != len(want) {
		t.Fatalf("expected firmware commands %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected firmware commands %q, got %q", want, got)
		}
	}
}

func start(rate, delay int32, policy domain.StreamPolicy) clientproto.Command {
	return clientproto.Command{Kind: clientproto.CmdStartStreaming, P0: rate, P1: delay, P2: int32(policy)}
}

var (
	stop      = clientproto.Command{Kind: clientproto.CmdStopStreaming}
	getSingle = clientproto.Command{Kind: clientproto.CmdGetSingle}
)
