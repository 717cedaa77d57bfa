package clientproto

import (
	"encoding/binary"
	"fmt"

	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/errs"
)

// CommandKind selects the operation carried by a Command message.
type CommandKind uint8

const (
	CmdGetSingle CommandKind = iota
	CmdStartStreaming
	CmdStopStreaming
	CmdAddEvent
	CmdClearEvent
	CmdSetCalibration
	CmdGetCalibration
	CmdSetProperty
	CmdFlushStreaming
	CmdGetProperty
)

func (k CommandKind) String() string {
	switch k {
	case CmdGetSingle:
		return "get_single"
	case CmdStartStreaming:
		return "start_streaming"
	case CmdStopStreaming:
		return "stop_streaming"
	case CmdAddEvent:
		return "add_event"
	case CmdClearEvent:
		return "clear_event"
	case CmdSetCalibration:
		return "set_calibration"
	case CmdGetCalibration:
		return "get_calibration"
	case CmdSetProperty:
		return "set_property"
	case CmdFlushStreaming:
		return "flush_streaming"
	case CmdGetProperty:
		return "get_property"
	default:
		return fmt.Sprintf("command(%d)", uint8(k))
	}
}

// MaxFlushUnit is the largest flush marker a client may request.
const MaxFlushUnit = 128

const commandHeaderLen = 1 + 3*4

// Command is a control-channel request: kind, three scalar params and a payload.
type Command struct {
	Kind    CommandKind
	P0      int32
	P1      int32
	P2      int32
	Payload []byte
}

func (c Command) Message() Message {
	body := make([]byte, 0, commandHeaderLen+len(c.Payload))
	body = append(body, byte(c.Kind))
	body = binary.LittleEndian.AppendUint32(body, uint32(c.P0))
	body = binary.LittleEndian.AppendUint32(body, uint32(c.P1))
	body = binary.LittleEndian.AppendUint32(body, uint32(c.P2))
	body = append(body, c.Payload...)
	return Message{Type: TypeCommand, Body: body}
}

func ParseCommand(m Message) (Command, error) {
	if err := expect(m, TypeCommand, commandHeaderLen); err != nil {
		return Command{}, err
	}
	b := m.Body
	c := Command{
		Kind: CommandKind(b[0]),
		P0:   int32(binary.LittleEndian.Uint32(b[1:5])),
		P1:   int32(binary.LittleEndian.Uint32(b[5:9])),
		P2:   int32(binary.LittleEndian.Uint32(b[9:13])),
	}
	if len(b) > commandHeaderLen {
		c.Payload = b[commandHeaderLen:]
	}
	return c, nil
}

// CommandAck is the single reply to a Command.
type CommandAck struct {
	Result  domain.Result
	Payload []byte
}

func (a CommandAck) Message() Message {
	body := make([]byte, 0, 4+len(a.Payload))
	body = binary.LittleEndian.AppendUint32(body, uint32(a.Result))
	body = append(body, a.Payload...)
	return Message{Type: TypeCommandAck, Body: body}
}

func ParseCommandAck(m Message) (CommandAck, error) {
	if err := expect(m, TypeCommandAck, 4); err != nil {
		return CommandAck{}, err
	}
	a := CommandAck{Result: domain.Result(int32(binary.LittleEndian.Uint32(m.Body)))}
	if len(m.Body) > 4 {
		a.Payload = m.Body[4:]
	}
	return a, nil
}

const clauseLen = 3 + 2*4

// EncodeEvent renders a composite event as num, relation, then one record per clause.
func EncodeEvent(ev domain.CompositeEvent) []byte {
	out := make([]byte, 0, 2+clauseLen*len(ev.Clauses))
	out = append(out, byte(len(ev.Clauses)), byte(ev.Relation))
	for _, c := range ev.Clauses {
		out = append(out, c.ResourceID, c.Channel, byte(c.Op))
		out = binary.LittleEndian.AppendUint32(out, uint32(c.Param1))
		out = binary.LittleEndian.AppendUint32(out, uint32(c.Param2))
	}
	return out
}

// DecodeEvent parses an AddEvent payload. Range checks are left to the caller.
func DecodeEvent(p []byte) (domain.CompositeEvent, error) {
	if len(p) < 2 {
		return domain.CompositeEvent{}, fmt.Errorf("%w: event payload %d bytes", errs.ErrInvalidArgument, len(p))
	}
	num := int(p[0])
	if len(p) != 2+num*clauseLen {
		return domain.CompositeEvent{}, fmt.Errorf("%w: event declares %d clauses in %d bytes", errs.ErrInvalidArgument, num, len(p))
	}
	ev := domain.CompositeEvent{Relation: domain.Relation(p[1]), Clauses: make([]domain.EventClause, num)}
	for i := range ev.Clauses {
		c := p[2+i*clauseLen:]
		ev.Clauses[i] = domain.EventClause{
			ResourceID: c[0],
			Channel:    c[1],
			Op:         domain.Operator(c[2]),
			Param1:     int32(binary.LittleEndian.Uint32(c[3:7])),
			Param2:     int32(binary.LittleEndian.Uint32(c[7:11])),
		}
	}
	return ev, nil
}
