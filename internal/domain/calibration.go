package domain

import (
	"errors"
	"fmt"
)

// CalibrationStatus is the mutually exclusive calibration phase of a resource.
type CalibrationStatus uint8

const (
	CalInit CalibrationStatus = iota
	CalReset
	CalInProgress
	CalDone
)

func (s CalibrationStatus) String() string {
	switch s {
	case CalInit:
		return "init"
	case CalReset:
		return "reset"
	case CalInProgress:
		return "in_progress"
	case CalDone:
		return "done"
	default:
		return fmt.Sprintf("calibration(%d)", uint8(s))
	}
}

// Calibration sub-commands shared by the client and firmware wires.
const (
	CalSubSet   uint8 = 1
	CalSubGet   uint8 = 2
	CalSubStart uint8 = 3
	CalSubStop  uint8 = 4
)

// CalibratedTrue marks a blob as holding a finished calibration.
const CalibratedTrue uint8 = 100

// MaxCalibrationData bounds the opaque calibration payload.
const MaxCalibrationData = 128

// CalibrationBlob is the persisted and exchanged calibration record.
// Wire and file layout: sub-command, calibrated, size, data[size].
type CalibrationBlob struct {
	SubCmd     uint8  `json:"sub_cmd"`
	Calibrated uint8  `json:"calibrated"`
	Data       []byte `json:"data,omitempty"`
}

// IsCalibrated reports whether the blob holds a finished calibration.
func (b CalibrationBlob) IsCalibrated() bool { return b.Calibrated == CalibratedTrue }

// Empty reports whether the blob carries nothing.
func (b CalibrationBlob) Empty() bool {
	return b.SubCmd == 0 && b.Calibrated == 0 && len(b.Data) == 0
}

// MarshalBinary encodes the blob with its size prefix.
func (b CalibrationBlob) MarshalBinary() ([]byte, error) {
	if len(b.Data) > MaxCalibrationData {
		return nil, fmt.Errorf("calibration data %d bytes exceeds %d", len(b.Data), MaxCalibrationData)
	}
	out := make([]byte, 3+len(b.Data))
	out[0] = b.SubCmd
	out[1] = b.Calibrated
	out[2] = byte(len(b.Data))
	copy(out[3:], b.Data)
	return out, nil
}

// UnmarshalBinary decodes a size-prefixed blob. An empty input is an empty blob.
func (b *CalibrationBlob) UnmarshalBinary(raw []byte) error {
	*b = CalibrationBlob{}
	if len(raw) == 0 {
		return nil
	}
	if len(raw) < 3 {
		return errors.New("calibration blob truncated header")
	}
	size := int(raw[2])
	if size > MaxCalibrationData {
		return fmt.Errorf("calibration size %d exceeds %d", size, MaxCalibrationData)
	}
	if len(raw) < 3+size {
		return fmt.Errorf("calibration blob truncated: want %d data bytes, have %d", size, len(raw)-3)
	}
	b.SubCmd = raw[0]
	b.Calibrated = raw[1]
	if size > 0 {
		b.Data = append([]byte(nil), raw[3:3+size]...)
	}
	return nil
}

// CalibrationRecord is the calibration state of one calibration-capable resource.
type CalibrationRecord struct {
	Status       CalibrationStatus
	NeedsPersist bool
	Blob         CalibrationBlob
}
