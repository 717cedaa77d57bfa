package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/ghalamif/sensorhub/internal/adapters/queue"
	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/errs"
	"github.com/ghalamif/sensorhub/internal/ports"
	"github.com/ghalamif/sensorhub/internal/protocol/clientproto"
)

type role uint8

const (
	roleUnbound role = iota
	roleData
	roleControl
)

// client is one accepted connection. Its outbox is filled by the dispatcher and
// drained by the writer goroutine, so a slow client never blocks dispatch.
type client struct {
	id     domain.ConnID
	conn   net.Conn
	role   role
	outbox *queue.MemQueue[clientproto.Message]
	wake   chan struct{}
	done   chan struct{}
}

func newClient(id domain.ConnID, conn net.Conn, outboxLen int) *client {
	return &client{
		id:     id,
		conn:   conn,
		outbox: queue.NewMemQueue[clientproto.Message](outboxLen),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (b *Broker) openClient(conn net.Conn) {
	b.nextConn++
	c := newClient(b.nextConn, conn, b.policy.MaxOutboxLen)
	b.clients[c.id] = c
	go b.readLoop(b.ctx, c)
	go writeLoop(c)
}

func (b *Broker) readLoop(ctx context.Context, c *client) {
	for {
		m, err := clientproto.ReadMessage(c.conn)
		if err != nil {
			b.post(ctx, connClosed{id: c.id, err: err})
			return
		}
		if !b.post(ctx, connMessage{id: c.id, msg: m}) {
			return
		}
	}
}

func writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for _, m := range c.outbox.DequeueBatch(0) {
			if err := clientproto.WriteMessage(c.conn, m); err != nil {
				// The reader sees the closed socket and reports it.
				c.conn.Close()
				return
			}
		}
	}
}

// deliver queues m for the connection. Control replies on a full outbox close the
// client when the policy says so; everything else is dropped and counted.
func (b *Broker) deliver(id domain.ConnID, m clientproto.Message, control bool) {
	c, ok := b.clients[id]
	if !ok {
		return
	}
	if c.outbox.Enqueue(m) {
		select {
		case c.wake <- struct{}{}:
		default:
		}
		return
	}
	b.obs.IncCounter(ports.MetricClientFramesDropped, 1)
	b.obs.RecordDrop("client_outbox_full",
		ports.Field{Key: "conn", Value: uint64(id)},
		ports.Field{Key: "type", Value: m.Type.String()})
	if control && b.policy.DisconnectOnFull() {
		b.kicked = append(b.kicked, id)
	}
}

func (b *Broker) reply(s *domain.Session, r domain.Result, payload []byte) {
	b.deliver(s.ControlConn, clientproto.CommandAck{Result: r, Payload: payload}.Message(), true)
}

// reap drops clients kicked while handling the last event.
func (b *Broker) reap() {
	for _, id := range b.kicked {
		b.dropClient(id)
	}
	b.kicked = b.kicked[:0]
}

// dropClient closes the connection and tears down the session it belongs to,
// together with the session's other connection.
func (b *Broker) dropClient(id domain.ConnID) {
	c, ok := b.clients[id]
	if !ok {
		return
	}
	delete(b.clients, id)
	close(c.done)
	if c.conn != nil {
		c.conn.Close()
	}

	s, err := b.reg.FindByConnection(id)
	if err != nil {
		return
	}
	data, ctrl := s.DataConn, s.ControlConn
	b.removeSession(s)
	for _, other := range []domain.ConnID{data, ctrl} {
		if other != 0 && other != id {
			b.dropClient(other)
		}
	}
}

func (b *Broker) removeSession(s *domain.Session) {
	res := s.Resource
	if !b.reg.RemoveSession(s, b) {
		return
	}
	b.emit(domain.HubEvent{Kind: domain.EventSessionClosed, Resource: res.Descriptor.Name, SessionID: s.ID})
	b.obs.LogInfo("session_closed",
		ports.Field{Key: "session", Value: s.ID},
		ports.Field{Key: "resource", Value: res.Descriptor.Name})

	if res.Descriptor.Calibration && len(res.Sessions) == 0 {
		if err := b.cal.RequestSnapshot(res); err != nil {
			b.obs.LogError("calibration_snapshot_failed", err, ports.Field{Key: "resource", Value: res.Descriptor.Name})
		}
	}
}

func (b *Broker) onMessage(c *client, m clientproto.Message) error {
	switch c.role {
	case roleUnbound:
		switch m.Type {
		case clientproto.TypeHello:
			return b.onHello(c, m)
		case clientproto.TypeHelloSession:
			return b.onHelloSession(c, m)
		}
	case roleControl:
		if m.Type == clientproto.TypeCommand {
			cmd, err := clientproto.ParseCommand(m)
			if err != nil {
				return err
			}
			s, err := b.reg.FindByConnection(c.id)
			if err != nil {
				return err
			}
			b.onCommand(s, cmd)
			return nil
		}
	}
	return fmt.Errorf("%w: unexpected %s on conn %d", errs.ErrProtocol, m.Type, c.id)
}

func (b *Broker) onHello(c *client, m clientproto.Message) error {
	name, err := clientproto.ParseHello(m)
	if err != nil {
		return err
	}
	c.role = roleData
	s, err := b.reg.CreateSession(name, c.id)
	if err != nil {
		b.obs.LogInfo("hello_rejected", ports.Field{Key: "resource", Value: name})
		b.deliver(c.id, clientproto.HelloAck(0), true)
		return nil
	}
	b.deliver(c.id, clientproto.HelloAck(s.ID), true)

	res := s.Resource
	b.emit(domain.HubEvent{Kind: domain.EventSessionOpened, Resource: res.Descriptor.Name, SessionID: s.ID})
	b.obs.LogInfo("session_opened",
		ports.Field{Key: "session", Value: s.ID},
		ports.Field{Key: "resource", Value: res.Descriptor.Name})

	if res.Descriptor.Calibration && len(res.Sessions) == 1 {
		if err := b.cal.Init(res); err != nil {
			b.obs.LogError("calibration_init_failed", err, ports.Field{Key: "resource", Value: res.Descriptor.Name})
		} else {
			b.emitCalibration(res, "init")
		}
	}
	return nil
}

func (b *Broker) onHelloSession(c *client, m clientproto.Message) error {
	id, err := clientproto.ParseHelloSession(m)
	if err != nil {
		return err
	}
	_, err = b.reg.BindControlConnection(id, c.id)
	b.deliver(c.id, clientproto.HelloSessionAck(errs.ResultCode(err)), true)
	if err == nil {
		c.role = roleControl
	}
	return nil
}

func closedCleanly(err error) bool {
	return err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
