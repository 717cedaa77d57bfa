// Package clientproto frames the messages exchanged between clients and the broker
// over its local stream socket.
package clientproto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/errs"
)

// MaxMessageLen bounds type plus body of one message.
const MaxMessageLen = 64 * 1024

// Type tags a client message.
type Type uint8

const (
	TypeHello           Type = 1
	TypeHelloAck        Type = 2
	TypeHelloSession    Type = 3
	TypeHelloSessionAck Type = 4
	TypeCommand         Type = 5
	TypeCommandAck      Type = 6
	TypeData            Type = 7
	TypeFlushDone       Type = 8
)

func (t Type) String() string {
	switch t {
	case TypeHello:
		return "hello"
	case TypeHelloAck:
		return "hello_ack"
	case TypeHelloSession:
		return "hello_session"
	case TypeHelloSessionAck:
		return "hello_session_ack"
	case TypeCommand:
		return "command"
	case TypeCommandAck:
		return "command_ack"
	case TypeData:
		return "data"
	case TypeFlushDone:
		return "flush_done"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Message is one framed message: u32 LE length, u8 type, body.
type Message struct {
	Type Type
	Body []byte
}

// WriteMessage writes m in a single Write call.
func WriteMessage(w io.Writer, m Message) error {
	n := 1 + len(m.Body)
	if n > MaxMessageLen {
		return fmt.Errorf("%w: message of %d bytes exceeds %d", errs.ErrProtocol, n, MaxMessageLen)
	}
	buf := make([]byte, 4, 4+n)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	buf = append(buf, byte(m.Type))
	buf = append(buf, m.Body...)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads one message. A zero or oversized length is a protocol error.
func ReadMessage(r io.Reader) (Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n == 0 || n > MaxMessageLen {
		return Message{}, fmt.Errorf("%w: declared length %d", errs.ErrProtocol, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, err
	}
	m := Message{Type: Type(body[0])}
	if n > 1 {
		m.Body = body[1:]
	}
	return m, nil
}

func expect(m Message, t Type, minLen int) error {
	if m.Type != t {
		return fmt.Errorf("%w: got %s, want %s", errs.ErrProtocol, m.Type, t)
	}
	if len(m.Body) < minLen {
		return fmt.Errorf("%w: %s body %d bytes, want >= %d", errs.ErrProtocol, t, len(m.Body), minLen)
	}
	return nil
}

func Hello(resource string) Message {
	return Message{Type: TypeHello, Body: []byte(resource)}
}

// ParseHello returns the requested resource name.
func ParseHello(m Message) (string, error) {
	if err := expect(m, TypeHello, 1); err != nil {
		return "", err
	}
	if len(m.Body) > domain.MaxResourceNameLen {
		return "", fmt.Errorf("%w: resource name of %d bytes", errs.ErrProtocol, len(m.Body))
	}
	return string(m.Body), nil
}

func HelloAck(sessionID uint32) Message {
	return Message{Type: TypeHelloAck, Body: binary.LittleEndian.AppendUint32(nil, sessionID)}
}

func ParseHelloAck(m Message) (uint32, error) {
	if err := expect(m, TypeHelloAck, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.Body), nil
}

func HelloSession(sessionID uint32) Message {
	return Message{Type: TypeHelloSession, Body: binary.LittleEndian.AppendUint32(nil, sessionID)}
}

func ParseHelloSession(m Message) (uint32, error) {
	if err := expect(m, TypeHelloSession, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.Body), nil
}

func HelloSessionAck(r domain.Result) Message {
	return Message{Type: TypeHelloSessionAck, Body: binary.LittleEndian.AppendUint32(nil, uint32(r))}
}

func ParseHelloSessionAck(m Message) (domain.Result, error) {
	if err := expect(m, TypeHelloSessionAck, 4); err != nil {
		return 0, err
	}
	return domain.Result(int32(binary.LittleEndian.Uint32(m.Body))), nil
}

// Data carries a streaming sample or a composite-event fire.
func Data(payload []byte) Message {
	return Message{Type: TypeData, Body: payload}
}

// FlushDone is the in-band marker delivered once a flush completes.
func FlushDone(unit int) Message {
	body := make([]byte, unit)
	for i := range body {
		body[i] = 0xff
	}
	return Message{Type: TypeFlushDone, Body: body}
}
