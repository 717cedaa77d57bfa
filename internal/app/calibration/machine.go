// Package calibration tracks per-resource calibration status and keeps the
// persisted blob in step with what the firmware reports.
package calibration

import (
	"github.com/ghalamif/sensorhub/internal/app/txn"
	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/errs"
	"github.com/ghalamif/sensorhub/internal/ports"
	"github.com/ghalamif/sensorhub/internal/protocol/fwproto"
)

// Sender writes one command to the firmware.
type Sender interface {
	Send(cmd fwproto.Command) error
}

// Replier answers one session that asked for the current calibration.
type Replier func(s *domain.Session, result domain.CalibrationBlob)

// Machine holds one record per calibration-capable resource. It is driven from
// the dispatcher goroutine only.
type Machine struct {
	store   ports.CalibrationStore
	fw      Sender
	obs     ports.Observability
	records map[uint8]*domain.CalibrationRecord
}

func New(store ports.CalibrationStore, fw Sender, obs ports.Observability) *Machine {
	if obs == nil {
		obs = ports.NopObservability{}
	}
	return &Machine{
		store:   store,
		fw:      fw,
		obs:     obs,
		records: make(map[uint8]*domain.CalibrationRecord),
	}
}

// Record returns the record for res, creating it in Init.
func (m *Machine) Record(res *domain.Resource) *domain.CalibrationRecord {
	rec, ok := m.records[res.Descriptor.ID]
	if !ok {
		rec = &domain.CalibrationRecord{Status: domain.CalInit}
		m.records[res.Descriptor.ID] = rec
	}
	return rec
}

// Done reports whether res currently holds a calibrated result.
func (m *Machine) Done(res *domain.Resource) bool {
	return m.Record(res).Status == domain.CalDone
}

// Init pushes a persisted calibrated blob to the firmware. A missing, unreadable or
// uncalibrated blob leaves the resource calibrating.
func (m *Machine) Init(res *domain.Resource) error {
	if err := m.capable(res, "Init"); err != nil {
		return err
	}
	rec := m.Record(res)
	if rec.Status == domain.CalDone {
		return nil
	}

	name := res.Descriptor.Name
	blob, err := m.store.Load(name)
	if err != nil {
		m.obs.LogError("calibration_load_failed", err, ports.Field{Key: "resource", Value: name})
		blob = domain.CalibrationBlob{}
	}
	if !blob.IsCalibrated() {
		if err := m.store.Clear(name); err != nil {
			m.persistFailed("Init", name, err)
		}
		rec.Blob = domain.CalibrationBlob{}
		rec.Status = domain.CalInProgress
		return nil
	}

	cmd, err := fwproto.CalibrationSet(txn.None, res.Descriptor.ID, blob)
	if err != nil {
		return errs.Wrap(errs.Invalidf("%v", err), "calibration", "Init", "encode "+name)
	}
	if err := m.fw.Send(cmd); err != nil {
		return err
	}
	rec.Blob = blob
	rec.Status = domain.CalDone
	return nil
}

// Reset starts a fresh calibration run. Only a Start request is accepted.
func (m *Machine) Reset(res *domain.Resource, start domain.CalibrationBlob) error {
	if err := m.capable(res, "Reset"); err != nil {
		return err
	}
	if start.SubCmd != domain.CalSubStart {
		return errs.Wrap(errs.Invalidf("sub-command %d is not start", start.SubCmd), "calibration", "Reset", res.Descriptor.Name)
	}
	if err := m.fw.Send(fwproto.CalibrationStart(txn.None, res.Descriptor.ID)); err != nil {
		return err
	}
	rec := m.Record(res)
	if err := m.store.Clear(res.Descriptor.Name); err != nil {
		m.persistFailed("Reset", res.Descriptor.Name, err)
	}
	rec.Blob = domain.CalibrationBlob{}
	// NeedsPersist is left as is: a write still owed from an earlier result
	// stays owed.
	rec.Status = domain.CalInProgress
	return nil
}

// Stop ends a running calibration. Outside InProgress it does nothing.
func (m *Machine) Stop(res *domain.Resource) error {
	if err := m.capable(res, "Stop"); err != nil {
		return err
	}
	if m.Record(res).Status != domain.CalInProgress {
		return nil
	}
	return m.fw.Send(fwproto.CalibrationStop(txn.None, res.Descriptor.ID))
}

// Set applies a client supplied calibrated blob: forward, persist, then mark Done.
func (m *Machine) Set(res *domain.Resource, blob domain.CalibrationBlob) error {
	if err := m.capable(res, "Set"); err != nil {
		return err
	}
	if blob.SubCmd != domain.CalSubSet || !blob.IsCalibrated() {
		return errs.Wrap(errs.Invalidf("set needs sub-command %d with calibrated=%d", domain.CalSubSet, domain.CalibratedTrue), "calibration", "Set", res.Descriptor.Name)
	}
	return m.accept(res, blob, "Set")
}

// OnFirmwareResult delivers result to every querying session. With no queriers
// the result becomes the persisted state.
func (m *Machine) OnFirmwareResult(res *domain.Resource, result domain.CalibrationBlob, querying []*domain.Session, reply Replier) error {
	if err := m.capable(res, "OnFirmwareResult"); err != nil {
		return err
	}
	if len(querying) > 0 {
		for _, s := range querying {
			reply(s, result)
		}
		return nil
	}

	if result.IsCalibrated() {
		stored := result
		stored.SubCmd = domain.CalSubSet
		return m.accept(res, stored, "OnFirmwareResult")
	}

	rec := m.Record(res)
	if err := m.store.Clear(res.Descriptor.Name); err != nil {
		m.persistFailed("OnFirmwareResult", res.Descriptor.Name, err)
	}
	rec.Blob = domain.CalibrationBlob{}
	rec.Status = domain.CalInProgress
	return nil
}

// RequestSnapshot asks the firmware for its current result without a waiting
// session, so the reply is persisted.
func (m *Machine) RequestSnapshot(res *domain.Resource) error {
	if err := m.capable(res, "RequestSnapshot"); err != nil {
		return err
	}
	return m.fw.Send(fwproto.CalibrationGet(txn.None, res.Descriptor.ID))
}

func (m *Machine) accept(res *domain.Resource, blob domain.CalibrationBlob, op string) error {
	cmd, err := fwproto.CalibrationSet(txn.None, res.Descriptor.ID, blob)
	if err != nil {
		return errs.Wrap(errs.Invalidf("%v", err), "calibration", op, "encode "+res.Descriptor.Name)
	}
	if err := m.fw.Send(cmd); err != nil {
		return err
	}

	rec := m.Record(res)
	rec.Blob = blob
	rec.Status = domain.CalDone
	rec.NeedsPersist = true
	if err := m.store.Save(res.Descriptor.Name, blob); err != nil {
		m.persistFailed(op, res.Descriptor.Name, err)
		return nil
	}
	rec.NeedsPersist = false
	return nil
}

func (m *Machine) capable(res *domain.Resource, op string) error {
	if !res.Descriptor.Calibration {
		return errs.Wrap(errs.ErrWrongResourceType, "calibration", op, res.Descriptor.Name)
	}
	return nil
}

func (m *Machine) persistFailed(op, resource string, err error) {
	m.obs.IncCounter(ports.MetricCalibrationPersistFails, 1)
	m.obs.LogError("calibration_persist_failed",
		errs.WrapTransient(err, "calibration", op, "persist "+resource),
		ports.Field{Key: "resource", Value: resource})
}
