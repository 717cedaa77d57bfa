package fwproto

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ghalamif/sensorhub/internal/domain"
)

// Ack is the payload of a command-ack frame: cmdId u8, ret i32 LE, extra bytes.
type Ack struct {
	CmdID uint8
	Ret   int32
	Extra []byte
}

const ackLen = 5

func DecodeAck(p []byte) (Ack, error) {
	if len(p) < ackLen {
		return Ack{}, fmt.Errorf("ack payload %d bytes, want >= %d", len(p), ackLen)
	}
	a := Ack{CmdID: p[0], Ret: int32(binary.LittleEndian.Uint32(p[1:5]))}
	if len(p) > ackLen {
		a.Extra = p[ackLen:]
	}
	return a, nil
}

func EncodeAck(a Ack) []byte {
	out := make([]byte, ackLen, ackLen+len(a.Extra))
	out[0] = a.CmdID
	binary.LittleEndian.PutUint32(out[1:5], uint32(a.Ret))
	return append(out, a.Extra...)
}

// DecodeCalibrationResult reads calib_result u8, size u8, data[size].
// The returned blob carries the Get sub-command.
func DecodeCalibrationResult(p []byte) (domain.CalibrationBlob, error) {
	if len(p) < 2 {
		return domain.CalibrationBlob{}, fmt.Errorf("calibration result payload %d bytes, want >= 2", len(p))
	}
	size := int(p[1])
	if size > domain.MaxCalibrationData || len(p) < 2+size {
		return domain.CalibrationBlob{}, fmt.Errorf("calibration result declares %d data bytes, has %d", size, len(p)-2)
	}
	b := domain.CalibrationBlob{SubCmd: domain.CalSubGet, Calibrated: p[0]}
	if size > 0 {
		b.Data = append([]byte(nil), p[2:2+size]...)
	}
	return b, nil
}

func EncodeCalibrationResult(b domain.CalibrationBlob) []byte {
	out := make([]byte, 0, 2+len(b.Data))
	out = append(out, b.Calibrated, byte(len(b.Data)))
	return append(out, b.Data...)
}

// PushEventFlushDone is the push-event id reporting a completed flush.
const PushEventFlushDone uint8 = 1

// PushEvent is the payload of a push-event frame: evtId u8, len u8, data.
type PushEvent struct {
	ID   uint8
	Data []byte
}

func DecodePushEvent(p []byte) (PushEvent, error) {
	if len(p) < 2 {
		return PushEvent{}, fmt.Errorf("push event payload %d bytes, want >= 2", len(p))
	}
	n := int(p[1])
	if len(p) < 2+n {
		return PushEvent{}, fmt.Errorf("push event declares %d bytes, has %d", n, len(p)-2)
	}
	return PushEvent{ID: p[0], Data: p[2 : 2+n]}, nil
}

func EncodePushEvent(ev PushEvent) []byte {
	out := []byte{ev.ID, byte(len(ev.Data))}
	return append(out, ev.Data...)
}

// Sensor info record layout returned by GetStatus.
const (
	sensorNameLen    = 6
	sensorInfoLen    = 1 + 1 + 2*5 + 2 + sensorNameLen + 1 + 1
	attribHaveCalib  = uint16(1) << 12
	linkInfoLen      = 4
	sensorInfoOffset = 14
)

// SensorInfo is the subset of a GetStatus record the broker uses.
type SensorInfo struct {
	ID          uint8
	Name        string
	FreqMax     int16
	Calibration bool
}

// Descriptor converts the record into a resource descriptor.
func (s SensorInfo) Descriptor() domain.ResourceDescriptor {
	return domain.ResourceDescriptor{
		ID:          s.ID,
		Name:        s.Name,
		FreqMax:     int(s.FreqMax),
		Calibration: s.Calibration,
	}
}

// DecodeSensorInfo reads: id u8, status u8, freq, data_cnt, slide, priv, attri u16,
// freq_max i16, name[6], health u8, link_num u8, links.
func DecodeSensorInfo(p []byte) (SensorInfo, error) {
	if len(p) < sensorInfoLen {
		return SensorInfo{}, fmt.Errorf("sensor info %d bytes, want >= %d", len(p), sensorInfoLen)
	}
	attri := binary.LittleEndian.Uint16(p[10:12])
	freqMax := int16(binary.LittleEndian.Uint16(p[12:14]))
	name := p[sensorInfoOffset : sensorInfoOffset+sensorNameLen]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	if len(name) == 0 {
		return SensorInfo{}, fmt.Errorf("sensor info for id %d has empty name", p[0])
	}
	links := int(p[sensorInfoLen-1])
	if len(p) < sensorInfoLen+links*linkInfoLen {
		return SensorInfo{}, fmt.Errorf("sensor info declares %d links, payload too short", links)
	}
	return SensorInfo{
		ID:          p[0],
		Name:        string(name),
		FreqMax:     freqMax,
		Calibration: attri&attribHaveCalib != 0,
	}, nil
}

// EncodeSensorInfo renders a record without links.
func EncodeSensorInfo(s SensorInfo) []byte {
	out := make([]byte, sensorInfoLen)
	out[0] = s.ID
	if s.Calibration {
		binary.LittleEndian.PutUint16(out[10:12], attribHaveCalib)
	}
	binary.LittleEndian.PutUint16(out[12:14], uint16(s.FreqMax))
	copy(out[sensorInfoOffset:sensorInfoOffset+sensorNameLen-1], s.Name)
	return out
}
