package fwproto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLen is the packed frame header: transId u8, kind u8, resourceId u8, payloadLen u16 LE.
const HeaderLen = 5

// MaxBuffered bounds bytes held while waiting for the rest of a frame.
const MaxBuffered = 128 * 1024

// Kind identifies the meaning of an inbound frame.
type Kind uint8

const (
	KindCmdAck       Kind = 0
	KindGetTime      Kind = 1
	KindGetSingle    Kind = 2
	KindStreaming    Kind = 3
	KindDebugMsg     Kind = 4
	KindDebugGetMask Kind = 5
	KindCalResult    Kind = 6
	KindBistResult   Kind = 7
	KindAddEvent     Kind = 8
	KindClearEvent   Kind = 9
	KindEvent        Kind = 10
	KindGetStatus    Kind = 11
	KindPushEvent    Kind = 16
)

func (k Kind) String() string {
	switch k {
	case KindCmdAck:
		return "cmd_ack"
	case KindGetTime:
		return "get_time"
	case KindGetSingle:
		return "get_single"
	case KindStreaming:
		return "streaming"
	case KindDebugMsg:
		return "debug_msg"
	case KindDebugGetMask:
		return "debug_get_mask"
	case KindCalResult:
		return "cal_result"
	case KindBistResult:
		return "bist_result"
	case KindAddEvent:
		return "add_event"
	case KindClearEvent:
		return "clear_event"
	case KindEvent:
		return "event"
	case KindGetStatus:
		return "get_status"
	case KindPushEvent:
		return "push_event"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Frame is one inbound firmware reply.
type Frame struct {
	TransID    uint8
	Kind       Kind
	ResourceID uint8
	Payload    []byte
}

// AppendFrame appends the wire form of f to dst.
func AppendFrame(dst []byte, f Frame) []byte {
	dst = append(dst, f.TransID, byte(f.Kind), f.ResourceID)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(f.Payload)))
	return append(dst, f.Payload...)
}

// ErrBufferOverflow means a declared frame can never fit the reassembly buffer.
var ErrBufferOverflow = errors.New("firmware frame exceeds reassembly buffer")

// Splitter walks concatenated frames by their declared length and keeps a partial
// tail until the next read completes it.
type Splitter struct {
	buf []byte
}

// Feed consumes newly read bytes and returns every complete frame in order.
// Returned payloads do not alias p or the internal buffer.
func (s *Splitter) Feed(p []byte) ([]Frame, error) {
	s.buf = append(s.buf, p...)
	var frames []Frame
	off := 0
	for len(s.buf)-off >= HeaderLen {
		hdr := s.buf[off : off+HeaderLen]
		n := int(binary.LittleEndian.Uint16(hdr[3:5]))
		if HeaderLen+n > MaxBuffered {
			s.buf = s.buf[:0]
			return frames, ErrBufferOverflow
		}
		if len(s.buf)-off < HeaderLen+n {
			break
		}
		f := Frame{TransID: hdr[0], Kind: Kind(hdr[1]), ResourceID: hdr[2]}
		if n > 0 {
			f.Payload = append([]byte(nil), s.buf[off+HeaderLen:off+HeaderLen+n]...)
		}
		frames = append(frames, f)
		off += HeaderLen + n
	}
	rest := copy(s.buf, s.buf[off:])
	s.buf = s.buf[:rest]
	return frames, nil
}

// Pending returns how many bytes are waiting for the rest of a frame.
func (s *Splitter) Pending() int { return len(s.buf) }

// Reset drops any buffered partial frame.
func (s *Splitter) Reset() { s.buf = s.buf[:0] }
