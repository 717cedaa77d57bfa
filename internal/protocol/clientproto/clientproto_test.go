package clientproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/errs"
)

func TestMessageFraming(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, Hello("ACCEL")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteMessage(&buf, HelloAck(7)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := binary.LittleEndian.Uint32(buf.Bytes()[:4]); got != 6 {
		t.Fatalf("expected length prefix 6, got %d", got)
	}

	m, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	name, err := ParseHello(m)
	if err != nil || name != "ACCEL" {
		t.Fatalf("expected ACCEL, got %q err=%v", name, err)
	}

	m, err = ReadMessage(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	id, err := ParseHelloAck(m)
	if err != nil || id != 7 {
		t.Fatalf("expected session 7, got %d err=%v", id, err)
	}

	if _, err := ReadMessage(&buf); err != io.EOF {
		t.Fatalf("expected EOF on empty stream, got %v", err)
	}
}

func TestReadMessageRejectsBadLength(t *testing.T) {
	for _, n := range []uint32{0, MaxMessageLen + 1} {
		raw := binary.LittleEndian.AppendUint32(nil, n)
		_, err := ReadMessage(bytes.NewReader(raw))
		if !errors.Is(err, errs.ErrProtocol) {
			t.Fatalf("length %d: expected protocol error, got %v", n, err)
		}
	}

	raw := binary.LittleEndian.AppendUint32(nil, 10)
	raw = append(raw, byte(TypeData), 1, 2)
	if _, err := ReadMessage(bytes.NewReader(raw)); err != io.ErrUnexpectedEOF {
		t.Fatalf("expected unexpected EOF on short body, got %v", err)
	}
}

func TestCommandRoundTrip(t *testing.T) {
	in := Command{Kind: CmdStartStreaming, P0: 100, P1: -1, P2: 2, Payload: []byte{9}}
	out, err := ParseCommand(in.Message())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.Kind != CmdStartStreaming || out.P0 != 100 || out.P1 != -1 || out.P2 != 2 || !bytes.Equal(out.Payload, []byte{9}) {
		t.Fatalf("unexpected command %+v", out)
	}

	if _, err := ParseCommand(Message{Type: TypeCommand, Body: []byte{1, 2}}); !errors.Is(err, errs.ErrProtocol) {
		t.Fatalf("expected short command to be a protocol error, got %v", err)
	}
	if _, err := ParseCommand(Hello("x")); !errors.Is(err, errs.ErrProtocol) {
		t.Fatalf("expected wrong type to be a protocol error, got %v", err)
	}
}

func TestCommandAckNegativeResult(t *testing.T) {
	a, err := ParseCommandAck(CommandAck{Result: domain.ResultNoCapacity, Payload: []byte{1, 2}}.Message())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a.Result != domain.ResultNoCapacity || !bytes.Equal(a.Payload, []byte{1, 2}) {
		t.Fatalf("unexpected ack %+v", a)
	}
}

func TestEventCodec(t *testing.T) {
	ev := domain.CompositeEvent{
		Relation: domain.RelationAnd,
		Clauses: []domain.EventClause{
			{ResourceID: 1, Channel: domain.ChannelAll, Op: domain.OpBetween, Param1: -5, Param2: 5},
			{ResourceID: 2, Channel: domain.ChannelZ, Op: domain.OpLess, Param1: 40},
		},
	}
	raw := EncodeEvent(ev)
	if len(raw) != 2+2*clauseLen {
		t.Fatalf("unexpected payload length %d", len(raw))
	}
	got, err := DecodeEvent(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Clauses) != 2 || got.Clauses[0] != ev.Clauses[0] || got.Clauses[1] != ev.Clauses[1] {
		t.Fatalf("unexpected clauses %+v", got.Clauses)
	}
	if _, err := DecodeEvent(raw[:len(raw)-1]); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected truncated event to fail, got %v", err)
	}
}

func TestFlushDoneMarker(t *testing.T) {
	m := FlushDone(3)
	if m.Type != TypeFlushDone || !bytes.Equal(m.Body, []byte{0xff, 0xff, 0xff}) {
		t.Fatalf("unexpected flush marker %+v", m)
	}
}
