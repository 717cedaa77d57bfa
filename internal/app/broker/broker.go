// Package broker is the dispatcher: one goroutine owns the registry, the
// arbitration state and the calibration machine, and every connection and the
// firmware reader feed it over a channel.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/sensorhub/internal/app/calibration"
	"github.com/ghalamif/sensorhub/internal/app/pipeline"
	"github.com/ghalamif/sensorhub/internal/app/registry"
	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/errs"
	"github.com/ghalamif/sensorhub/internal/ports"
	"github.com/ghalamif/sensorhub/internal/protocol/clientproto"
	"github.com/ghalamif/sensorhub/internal/protocol/fwproto"
)

const (
	loopBacklog    = 256
	firmwareBufLen = 8192
)

type Options struct {
	// Resources is the discovered or static table, EVENT included.
	Resources []domain.ResourceDescriptor
	Firmware  ports.Firmware
	Store     ports.CalibrationStore
	// Events receives hub lifecycle events. Nil disables them.
	Events ports.Queue[domain.HubEvent]
	Policy ports.Policy
	Obs    ports.Observability
	BootID string
	// Idle starts the broker in the idle state.
	Idle bool
}

type Broker struct {
	fw     ports.Firmware
	reg    *registry.Registry
	cal    *calibration.Machine
	obs    ports.Observability
	events ports.Queue[domain.HubEvent]
	policy ports.Policy
	bootID string

	clients  map[domain.ConnID]*client
	nextConn domain.ConnID
	kicked   []domain.ConnID
	idle     bool
	splitter fwproto.Splitter

	ctx      context.Context
	loop     chan loopEvent
	idleWake chan struct{}
	wantIdle atomic.Bool
}

func New(opts Options) (*Broker, error) {
	if opts.Firmware == nil {
		return nil, errs.Invalidf("broker needs a firmware channel")
	}
	if opts.Store == nil {
		return nil, errs.Invalidf("broker needs a calibration store")
	}
	obs := opts.Obs
	if obs == nil {
		obs = ports.NopObservability{}
	}
	reg, err := registry.New(opts.Resources)
	if err != nil {
		return nil, errs.WrapInvalid(err, "broker", "New", "build resource table")
	}

	b := &Broker{
		fw:       opts.Firmware,
		reg:      reg,
		obs:      obs,
		events:   opts.Events,
		policy:   opts.Policy,
		bootID:   opts.BootID,
		clients:  make(map[domain.ConnID]*client),
		idle:     opts.Idle,
		ctx:      context.Background(),
		loop:     make(chan loopEvent, loopBacklog),
		idleWake: make(chan struct{}, 1),
	}
	b.wantIdle.Store(opts.Idle)
	b.cal = calibration.New(opts.Store, commandSender{b}, obs)
	return b, nil
}

// Resources returns the resource table the broker serves.
func (b *Broker) Resources() []domain.ResourceDescriptor {
	out := make([]domain.ResourceDescriptor, 0, len(b.reg.Resources()))
	for _, r := range b.reg.Resources() {
		out = append(out, r.Descriptor)
	}
	return out
}

// SetIdle requests the idle or resumed state. It is safe from any goroutine and
// takes effect on the dispatcher.
func (b *Broker) SetIdle(idle bool) {
	b.wantIdle.Store(idle)
	select {
	case b.idleWake <- struct{}{}:
	default:
	}
}

// Serve accepts clients on ln and dispatches until ctx is cancelled or the
// firmware channel fails. A firmware failure is returned as a fatal error.
// The listener is left open; the caller closes the firmware afterwards so the
// reader goroutine exits.
func (b *Broker) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	b.ctx = ctx

	if d, ok := ln.(deadliner); ok {
		_ = d.SetDeadline(time.Time{})
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.acceptLoop(ctx, ln)
	}()
	go b.readFirmware(ctx)

	b.obs.LogInfo("broker_serving",
		ports.Field{Key: "addr", Value: ln.Addr().String()},
		ports.Field{Key: "boot_id", Value: b.bootID},
		ports.Field{Key: "resources", Value: len(b.reg.Resources())})

	err := b.run(ctx)

	b.shutdown()
	cancel()
	// Without deadline support the accept goroutine exits on its next accept.
	if d, ok := ln.(deadliner); ok {
		_ = d.SetDeadline(time.Now())
		wg.Wait()
	}
	return err
}

func (b *Broker) run(ctx context.Context) error {
	if b.wantIdle.Load() != b.idle {
		b.applyIdle(b.wantIdle.Load())
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.idleWake:
			if want := b.wantIdle.Load(); want != b.idle {
				b.applyIdle(want)
			}
		case ev := <-b.loop:
			start := time.Now()
			if err := b.handle(ev); err != nil {
				return err
			}
			b.obs.ObserveLatency(ports.MetricDispatchLatency, time.Since(start).Seconds())
			b.obs.SetGauge(ports.MetricSessionsActive, float64(b.reg.Sessions()))
			b.obs.SetGauge(ports.MetricTransactionsLive, float64(b.reg.LiveTransactions()))
		}
	}
}

func (b *Broker) handle(ev loopEvent) error {
	defer b.reap()
	switch ev := ev.(type) {
	case connOpened:
		b.openClient(ev.conn)
	case connMessage:
		c, ok := b.clients[ev.id]
		if !ok {
			return nil
		}
		if err := b.onMessage(c, ev.msg); err != nil {
			b.obs.LogError("client_protocol_error", err, ports.Field{Key: "conn", Value: uint64(ev.id)})
			b.dropClient(ev.id)
		}
	case connClosed:
		if _, ok := b.clients[ev.id]; ok && !closedCleanly(ev.err) {
			b.obs.LogError("client_read_failed", ev.err, ports.Field{Key: "conn", Value: uint64(ev.id)})
		}
		b.dropClient(ev.id)
	case firmwareData:
		b.onFirmwareBytes(ev.buf)
	case firmwareFailed:
		b.obs.LogCritical("firmware_read_failed", ev.err, ports.Field{Key: "boot_id", Value: b.bootID})
		return errs.WrapFatal(ev.err, "broker", "Serve", "read firmware")
	}
	return nil
}

func (b *Broker) shutdown() {
	for id := range b.clients {
		b.dropClient(id)
	}
	b.kicked = nil
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

func (b *Broker) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			b.obs.LogError("accept_failed", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		if !b.post(ctx, connOpened{conn: conn}) {
			conn.Close()
			return
		}
	}
}

func (b *Broker) readFirmware(ctx context.Context) {
	buf := make([]byte, firmwareBufLen)
	for {
		n, err := b.fw.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			if !b.post(ctx, firmwareData{buf: data}) {
				return
			}
		}
		if err != nil {
			b.post(ctx, firmwareFailed{err: err})
			return
		}
	}
}

func (b *Broker) post(ctx context.Context, ev loopEvent) bool {
	select {
	case b.loop <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// send writes one firmware command. Failures are counted and wrapped as
// firmware I/O errors; the caller decides whether state advances.
func (b *Broker) send(cmd fwproto.Command) error {
	raw, err := cmd.MarshalText()
	if err != nil {
		return err
	}
	b.obs.IncCounter(ports.MetricFirmwareCommands, 1)
	if err := b.fw.Send(raw); err != nil {
		b.obs.IncCounter(ports.MetricFirmwareCommandErrors, 1)
		werr := errs.WrapTransient(fmt.Errorf("%w: %v", errs.ErrFirmwareIO, err), "broker", "send", "command "+cmd.String())
		b.obs.LogError("firmware_send_failed", werr)
		return werr
	}
	return nil
}

type commandSender struct{ b *Broker }

func (s commandSender) Send(cmd fwproto.Command) error { return s.b.send(cmd) }

func (b *Broker) emit(ev domain.HubEvent) {
	if b.events == nil {
		return
	}
	ev.BootID = b.bootID
	pipeline.Emit(b.events, ev, b.obs)
}

func (b *Broker) emitArbitration(s *domain.Session) {
	r := s.Resource
	b.emit(domain.HubEvent{
		Kind:      domain.EventArbitration,
		Resource:  r.Descriptor.Name,
		SessionID: s.ID,
		Rate:      r.Rate,
		Delay:     r.Delay,
		Wake:      r.Wake,
		Detail:    s.State.String(),
	})
}

func (b *Broker) emitCalibration(r *domain.Resource, detail string) {
	b.emit(domain.HubEvent{
		Kind:        domain.EventCalibration,
		Resource:    r.Descriptor.Name,
		Calibration: b.cal.Record(r).Status.String(),
		Detail:      detail,
	})
}

var _ registry.Quiescer = (*Broker)(nil)

// Message types the dispatcher accepts from its feeders.
type loopEvent interface{ loopEvent() }

type connOpened struct{ conn net.Conn }

type connMessage struct {
	id  domain.ConnID
	msg clientproto.Message
}

type connClosed struct {
	id  domain.ConnID
	err error
}

type firmwareData struct{ buf []byte }

type firmwareFailed struct{ err error }

func (connOpened) loopEvent()     {}
func (connMessage) loopEvent()    {}
func (connClosed) loopEvent()     {}
func (firmwareData) loopEvent()   {}
func (firmwareFailed) loopEvent() {}
