package sensorhub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/protocol/clientproto"
)

// DefaultSocketPath is where sensorhubd listens unless configured otherwise.
const DefaultSocketPath = "/run/sensorhub/sensorhubd.sock"

// MaxFlushUnit is the largest flush marker a client may request.
const MaxFlushUnit = clientproto.MaxFlushUnit

var (
	// ErrUnknownResource is returned by Dial when the broker has no such resource.
	ErrUnknownResource = errors.New("sensorhub: unknown resource")
	// ErrInvalidRate rejects a zero or negative streaming rate before it is sent.
	ErrInvalidRate = errors.New("sensorhub: rate must be positive")
	// ErrInvalidFlushUnit rejects a flush marker outside 1..MaxFlushUnit.
	ErrInvalidFlushUnit = errors.New("sensorhub: flush unit out of range")
	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("sensorhub: client closed")
	// ErrControlBroken is returned by every command after one was abandoned
	// with its reply still outstanding.
	ErrControlBroken = errors.New("sensorhub: control connection abandoned mid-command")
)

// CommandError carries a non-zero result code returned by the broker.
type CommandError struct {
	Command string
	Result  Result
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("sensorhub: %s: %s (%d)", e.Command, e.Result, int32(e.Result))
}

// Data is one message read from the data connection: a streaming sample, an
// event fire, or a flush completion marker.
type Data struct {
	Payload   []byte
	FlushDone bool
}

// Client is one session on one resource. It holds the data connection that
// carries samples and the control connection that carries commands.
// Control calls are serialized; ReadData may run concurrently with them.
type Client struct {
	resource string
	session  uint32
	data     net.Conn
	ctrl     net.Conn

	ctrlMu sync.Mutex
	// ctrlErr is set once a reply could be left unread on ctrl. Guarded by ctrlMu.
	ctrlErr error
	dataMu  sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// Open connects to the default daemon socket.
func Open(resource string) (*Client, error) {
	return Dial("unix", DefaultSocketPath, resource)
}

// Dial opens a session on resource at the broker listening on addr.
func Dial(network, addr, resource string) (*Client, error) {
	return DialContext(context.Background(), network, addr, resource)
}

// DialContext is Dial bounded by ctx. The deadline covers both handshakes.
func DialContext(ctx context.Context, network, addr, resource string) (*Client, error) {
	if resource == "" || len(resource) > domain.MaxResourceNameLen {
		return nil, fmt.Errorf("sensorhub: resource name %q must be 1..%d bytes", resource, domain.MaxResourceNameLen)
	}
	var d net.Dialer

	data, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	id, err := handshake(ctx, data, clientproto.Hello(resource), clientproto.ParseHelloAck)
	if err != nil {
		data.Close()
		return nil, err
	}
	if id == 0 {
		data.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}

	ctrl, err := d.DialContext(ctx, network, addr)
	if err != nil {
		data.Close()
		return nil, err
	}
	r, err := handshake(ctx, ctrl, clientproto.HelloSession(id), clientproto.ParseHelloSessionAck)
	if err == nil && r != domain.ResultOK {
		err = &CommandError{Command: "bind_session", Result: r}
	}
	if err != nil {
		ctrl.Close()
		data.Close()
		return nil, err
	}

	return &Client{
		resource: resource,
		session:  id,
		data:     data,
		ctrl:     ctrl,
		closed:   make(chan struct{}),
	}, nil
}

func handshake[T any](ctx context.Context, conn net.Conn, m clientproto.Message, parse func(clientproto.Message) (T, error)) (T, error) {
	var zero T
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
		defer conn.SetDeadline(time.Time{})
	}
	if err := clientproto.WriteMessage(conn, m); err != nil {
		return zero, err
	}
	reply, err := clientproto.ReadMessage(conn)
	if err != nil {
		return zero, err
	}
	return parse(reply)
}

// Resource is the resource name the session was opened on.
func (c *Client) Resource() string { return c.resource }

// SessionID is the broker-assigned session id.
func (c *Client) SessionID() uint32 { return c.session }

// StartStreaming asks for samples at rate Hz with a batching delay in ms.
// A request above the resource maximum is clamped by the broker.
func (c *Client) StartStreaming(ctx context.Context, rate, delay int, policy StreamPolicy) error {
	if rate <= 0 {
		return ErrInvalidRate
	}
	_, err := c.command(ctx, clientproto.Command{
		Kind: clientproto.CmdStartStreaming,
		P0:   int32(rate),
		P1:   int32(delay),
		P2:   int32(policy),
	})
	return err
}

func (c *Client) StopStreaming(ctx context.Context) error {
	_, err := c.command(ctx, clientproto.Command{Kind: clientproto.CmdStopStreaming})
	return err
}

// Flush asks the firmware to push buffered samples. Completion arrives on the
// data connection as a Data with FlushDone set.
func (c *Client) Flush(ctx context.Context, unit int) error {
	if unit < 1 || unit > MaxFlushUnit {
		return ErrInvalidFlushUnit
	}
	_, err := c.command(ctx, clientproto.Command{Kind: clientproto.CmdFlushStreaming, P0: int32(unit)})
	return err
}

// GetSingle returns one sample. On calibration-capable resources the last two
// bytes are the little-endian calibration-done flag.
func (c *Client) GetSingle(ctx context.Context) ([]byte, error) {
	return c.command(ctx, clientproto.Command{Kind: clientproto.CmdGetSingle})
}

func (c *Client) GetCalibration(ctx context.Context) (CalibrationBlob, error) {
	raw, err := c.command(ctx, clientproto.Command{Kind: clientproto.CmdGetCalibration})
	if err != nil {
		return CalibrationBlob{}, err
	}
	var blob CalibrationBlob
	if err := blob.UnmarshalBinary(raw); err != nil {
		return CalibrationBlob{}, fmt.Errorf("sensorhub: decode calibration: %w", err)
	}
	return blob, nil
}

// SetCalibration sends a calibration request. Use CalSubSet with
// CalibratedTrue to apply a blob, CalSubStart to restart calibration and
// CalSubStop to end it.
func (c *Client) SetCalibration(ctx context.Context, blob CalibrationBlob) error {
	raw, err := blob.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.command(ctx, clientproto.Command{Kind: clientproto.CmdSetCalibration, Payload: raw})
	return err
}

func (c *Client) SetProperty(ctx context.Context, propType uint8, value []byte) error {
	_, err := c.command(ctx, clientproto.Command{Kind: clientproto.CmdSetProperty, P0: int32(propType), Payload: value})
	return err
}

func (c *Client) GetProperty(ctx context.Context, req []byte) ([]byte, error) {
	return c.command(ctx, clientproto.Command{Kind: clientproto.CmdGetProperty, Payload: req})
}

// AddEvent registers a composite event and returns its firmware event id.
// The session must be open on the EVENT resource.
func (c *Client) AddEvent(ctx context.Context, ev CompositeEvent) (uint8, error) {
	raw, err := c.command(ctx, clientproto.Command{Kind: clientproto.CmdAddEvent, Payload: clientproto.EncodeEvent(ev)})
	if err != nil {
		return 0, err
	}
	if len(raw) < 1 {
		return 0, fmt.Errorf("sensorhub: add_event reply carries no event id")
	}
	return raw[0], nil
}

func (c *Client) ClearEvent(ctx context.Context, id uint8) error {
	_, err := c.command(ctx, clientproto.Command{Kind: clientproto.CmdClearEvent, P0: int32(id)})
	return err
}

// ReadData blocks for the next message on the data connection.
func (c *Client) ReadData(ctx context.Context) (Data, error) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if c.isClosed() {
		return Data{}, ErrClientClosed
	}

	stop := c.watch(ctx, c.data)
	m, err := clientproto.ReadMessage(c.data)
	if stopErr := stop(); stopErr != nil {
		return Data{}, stopErr
	}
	if err != nil {
		return Data{}, err
	}
	switch m.Type {
	case clientproto.TypeData:
		return Data{Payload: m.Body}, nil
	case clientproto.TypeFlushDone:
		return Data{Payload: m.Body, FlushDone: true}, nil
	default:
		return Data{}, fmt.Errorf("sensorhub: unexpected %s on data connection", m.Type)
	}
}

// Close ends the session. The broker stops any stream it held.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = errors.Join(closeConn(c.ctrl), closeConn(c.data))
	})
	return err
}

func (c *Client) command(ctx context.Context, cmd clientproto.Command) ([]byte, error) {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	if c.ctrlErr != nil {
		return nil, c.ctrlErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stop := c.watch(ctx, c.ctrl)
	ack, err := c.roundTrip(cmd)
	if stopErr := stop(); err != nil {
		if stopErr != nil {
			err = stopErr
		}
		c.abandonControl(err)
		return nil, err
	}
	if ack.Result != domain.ResultOK {
		return nil, &CommandError{Command: cmd.Kind.String(), Result: ack.Result}
	}
	return ack.Payload, nil
}

// abandonControl closes the control connection so a late reply can never be
// read as the answer to a later command. The broker ends the session.
func (c *Client) abandonControl(cause error) {
	c.ctrlErr = fmt.Errorf("%w: %v", ErrControlBroken, cause)
	_ = c.ctrl.Close()
}

func (c *Client) roundTrip(cmd clientproto.Command) (clientproto.CommandAck, error) {
	if err := clientproto.WriteMessage(c.ctrl, cmd.Message()); err != nil {
		return clientproto.CommandAck{}, err
	}
	m, err := clientproto.ReadMessage(c.ctrl)
	if err != nil {
		return clientproto.CommandAck{}, err
	}
	return clientproto.ParseCommandAck(m)
}

// watch unblocks I/O on conn when ctx ends. The returned func restores the
// deadline and reports ctx's error if it fired.
func (c *Client) watch(ctx context.Context, conn net.Conn) func() error {
	if ctx.Done() == nil {
		return func() error { return nil }
	}
	done := make(chan struct{})
	fired := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			_ = conn.SetDeadline(time.Now())
			close(fired)
		case <-done:
		}
	}()
	return func() error {
		close(done)
		<-exited
		select {
		case <-fired:
			_ = conn.SetDeadline(time.Time{})
			return ctx.Err()
		default:
			return nil
		}
	}
}

func closeConn(conn net.Conn) error {
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
