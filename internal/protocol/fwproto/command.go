// Package fwproto encodes the ASCII control commands written to the firmware and
// decodes the binary frames read back from it.
package fwproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/ghalamif/sensorhub/internal/domain"
)

// Firmware command ids.
const (
	CmdReset          uint8 = 0
	CmdSetupDDR       uint8 = 1
	CmdGetSingle      uint8 = 2
	CmdStartStreaming uint8 = 3
	CmdStopStreaming  uint8 = 4
	CmdAddEvent       uint8 = 5
	CmdClearEvent     uint8 = 6
	CmdSelfTest       uint8 = 7
	CmdCalibration    uint8 = 9
	CmdGetStatus      uint8 = 11
	CmdSetProperty    uint8 = 12
	CmdFlushStreaming uint8 = 15
	CmdGetProperty    uint8 = 17
)

// BitCfgWakeSource asks the firmware to wake the host for this resource.
const BitCfgWakeSource uint16 = 1

// MaxPropertyChunk is the largest property value the firmware accepts in one command.
const MaxPropertyChunk = 58

// Command is one control command: transId cmdId resourceId params...
// Every param is a byte on the wire.
type Command struct {
	TransID    uint8
	ID         uint8
	ResourceID uint8
	Params     []byte
}

// MarshalText renders the command as space separated decimal fields.
func (c Command) MarshalText() ([]byte, error) {
	var b bytes.Buffer
	b.Grow(12 + 4*len(c.Params))
	b.WriteString(strconv.Itoa(int(c.TransID)))
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(int(c.ID)))
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(int(c.ResourceID)))
	for _, p := range c.Params {
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(int(p)))
	}
	return b.Bytes(), nil
}

func (c Command) String() string {
	raw, _ := c.MarshalText()
	return string(raw)
}

// ParseCommand decodes the text form produced by MarshalText.
func ParseCommand(text []byte) (Command, error) {
	fields := bytes.Fields(text)
	if len(fields) < 3 {
		return Command{}, fmt.Errorf("command needs at least 3 fields, got %d", len(fields))
	}
	vals := make([]byte, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(string(f))
		if err != nil {
			return Command{}, fmt.Errorf("field %d: %w", i, err)
		}
		if v < 0 || v > 255 {
			return Command{}, fmt.Errorf("field %d: value %d out of byte range", i, v)
		}
		vals[i] = byte(v)
	}
	cmd := Command{TransID: vals[0], ID: vals[1], ResourceID: vals[2]}
	if len(vals) > 3 {
		cmd.Params = vals[3:]
	}
	return cmd, nil
}

// Stream builds the six-param shape shared by start, stop and flush commands.
func Stream(tx, id, res uint8, rate, delay, bitcfg uint16) Command {
	p := make([]byte, 6)
	binary.LittleEndian.PutUint16(p[0:2], rate)
	binary.LittleEndian.PutUint16(p[2:4], delay)
	binary.LittleEndian.PutUint16(p[4:6], bitcfg)
	return Command{TransID: tx, ID: id, ResourceID: res, Params: p}
}

// StreamParams decodes rate, delay and bitcfg from a stream-shaped command.
func StreamParams(c Command) (rate, delay, bitcfg uint16, err error) {
	if len(c.Params) != 6 {
		return 0, 0, 0, fmt.Errorf("stream command has %d params, want 6", len(c.Params))
	}
	return binary.LittleEndian.Uint16(c.Params[0:2]),
		binary.LittleEndian.Uint16(c.Params[2:4]),
		binary.LittleEndian.Uint16(c.Params[4:6]), nil
}

func SetupDDR() Command { return Stream(0, CmdSetupDDR, 0, 0, 0, 0) }

func Reset() Command { return Stream(0, CmdReset, 0, 0, 0, 0) }

func GetStatus() Command {
	return Command{ID: CmdGetStatus, Params: []byte{0xff, 0xff, 0xff, 0xff}}
}

func StartStreaming(tx, res uint8, rate, delay int, wake bool) Command {
	var bitcfg uint16
	if wake {
		bitcfg = BitCfgWakeSource
	}
	return Stream(tx, CmdStartStreaming, res, clampU16(rate), clampU16(delay), bitcfg)
}

func StopStreaming(tx, res uint8) Command { return Stream(tx, CmdStopStreaming, res, 0, 0, 0) }

// Flush asks the firmware to drain batched samples of every resource.
func Flush(tx uint8) Command { return Stream(tx, CmdFlushStreaming, 0, 4, 0, 0) }

func GetSingle(tx, res uint8) Command {
	return Command{TransID: tx, ID: CmdGetSingle, ResourceID: res}
}

func CalibrationGet(tx, res uint8) Command {
	return Command{TransID: tx, ID: CmdCalibration, ResourceID: res, Params: []byte{domain.CalSubGet}}
}

// CalibrationSet pushes a calibrated blob: sub-cmd, size, data.
func CalibrationSet(tx, res uint8, blob domain.CalibrationBlob) (Command, error) {
	if len(blob.Data) > domain.MaxCalibrationData {
		return Command{}, fmt.Errorf("calibration data %d bytes exceeds %d", len(blob.Data), domain.MaxCalibrationData)
	}
	p := make([]byte, 0, 2+len(blob.Data))
	p = append(p, domain.CalSubSet, byte(len(blob.Data)))
	p = append(p, blob.Data...)
	return Command{TransID: tx, ID: CmdCalibration, ResourceID: res, Params: p}, nil
}

func CalibrationStart(tx, res uint8) Command {
	return Command{TransID: tx, ID: CmdCalibration, ResourceID: res, Params: []byte{domain.CalSubStart}}
}

func CalibrationStop(tx, res uint8) Command {
	return Command{TransID: tx, ID: CmdCalibration, ResourceID: res, Params: []byte{domain.CalSubStop}}
}

// SetProperty splits value into firmware-sized chunks, each prefixed by len+1 and the property type.
func SetProperty(tx, res, propType uint8, value []byte) []Command {
	if len(value) == 0 {
		return []Command{{TransID: tx, ID: CmdSetProperty, ResourceID: res, Params: []byte{1, propType}}}
	}
	var out []Command
	for len(value) > 0 {
		n := len(value)
		if n > MaxPropertyChunk {
			n = MaxPropertyChunk
		}
		p := make([]byte, 0, n+2)
		p = append(p, byte(n+1), propType)
		p = append(p, value[:n]...)
		out = append(out, Command{TransID: tx, ID: CmdSetProperty, ResourceID: res, Params: p})
		value = value[n:]
	}
	return out
}

func GetProperty(tx, res uint8, req []byte) (Command, error) {
	if len(req) > MaxPropertyChunk {
		return Command{}, fmt.Errorf("property request %d bytes exceeds %d", len(req), MaxPropertyChunk)
	}
	p := make([]byte, 0, 1+len(req))
	p = append(p, byte(len(req)))
	p = append(p, req...)
	return Command{TransID: tx, ID: CmdGetProperty, ResourceID: res, Params: p}, nil
}

// AddEvent encodes: num relation {resource channel op param1[4] param2[4]}*.
func AddEvent(tx uint8, ev domain.CompositeEvent) Command {
	p := make([]byte, 0, 2+11*len(ev.Clauses))
	p = append(p, byte(len(ev.Clauses)), byte(ev.Relation))
	for _, c := range ev.Clauses {
		p = append(p, c.ResourceID, c.Channel, byte(c.Op))
		p = binary.LittleEndian.AppendUint32(p, uint32(c.Param1))
		p = binary.LittleEndian.AppendUint32(p, uint32(c.Param2))
	}
	return Command{TransID: tx, ID: CmdAddEvent, Params: p}
}

func ClearEvent(tx, eventID uint8) Command {
	return Command{TransID: tx, ID: CmdClearEvent, Params: []byte{eventID}}
}

func clampU16(v int) uint16 {
	switch {
	case v < 0:
		return 0
	case v > 0xffff:
		return 0xffff
	default:
		return uint16(v)
	}
}
