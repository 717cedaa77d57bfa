package sensorhub

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/protocol/clientproto"
	"github.com/ghalamif/sensorhub/internal/protocol/fwproto"
)

func TestClientRejectsBadArgumentsLocally(t *testing.T) {
	h := startHub(t, nil)
	c := h.dial(t, "ACCEL")
	ctx := context.Background()
	before := len(h.firmware(0).Sent())

	if err := c.StartStreaming(ctx, 0, 0, StopOnIdle); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate, got %v", err)
	}
	if err := c.Flush(ctx, MaxFlushUnit+1); !errors.Is(err, ErrInvalidFlushUnit) {
		t.Fatalf("expected ErrInvalidFlushUnit, got %v", err)
	}
	if err := c.Flush(ctx, 0); !errors.Is(err, ErrInvalidFlushUnit) {
		t.Fatalf("expected ErrInvalidFlushUnit for zero unit, got %v", err)
	}
	if got := len(h.firmware(0).Sent()); got != before {
		t.Fatalf("expected nothing sent to firmware, got %d new commands", got-before)
	}
	h.stop(t)
}

func TestDialUnknownResource(t *testing.T) {
	h := startHub(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := DialContext(ctx, "tcp", h.addr, "GYRO"); !errors.Is(err, ErrUnknownResource) {
		t.Fatalf("expected ErrUnknownResource, got %v", err)
	}
	if _, err := DialContext(ctx, "tcp", h.addr, ""); err == nil {
		t.Fatalf("expected empty resource name to be rejected")
	}
	h.stop(t)
}

func TestClientCommandErrorCarriesResult(t *testing.T) {
	h := startHub(t, nil)
	c := h.dial(t, "ACCEL")

	_, err := c.AddEvent(context.Background(), CompositeEvent{
		Relation: RelationAnd,
		Clauses:  []EventClause{{ResourceID: 1, Channel: ChannelX, Op: OpGreater, Param1: 5}},
	})
	var cerr *CommandError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cerr.Result != domain.ResultWrongActionOnSensorType || cerr.Command != "add_event" {
		t.Fatalf("unexpected command error %+v", cerr)
	}
	h.stop(t)
}

func TestClientGetSingle(t *testing.T) {
	h := startHub(t, nil)
	fw := h.firmware(0)
	c := h.dial(t, "ACCEL")

	go func() {
		deadline := time.Now().Add(3 * time.Second)
		for !fw.sentCommand("2") && time.Now().Before(deadline) {
			time.Sleep(2 * time.Millisecond)
		}
		fw.push(fwproto.Frame{Kind: fwproto.KindGetSingle, ResourceID: 1, Payload: []byte{7, 8}})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sample, err := c.GetSingle(ctx)
	if err != nil {
		t.Fatalf("get single: %v", err)
	}
	if !bytes.Equal(sample, []byte{7, 8}) {
		t.Fatalf("expected sample [7 8], got %v", sample)
	}
	h.stop(t)
}

func TestClientFlushDeliversMarker(t *testing.T) {
	h := startHub(t, nil)
	fw := h.firmware(0)
	c := h.dial(t, "ACCEL")
	ctx := context.Background()

	if err := c.StartStreaming(ctx, 50, 0, StopOnIdle); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Flush(ctx, 4); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !fw.sentLine(fwproto.Flush(0).String()) {
		t.Fatalf("expected flush command, sent %v", fw.Sent())
	}
	fw.push(fwproto.Frame{Kind: fwproto.KindPushEvent, Payload: []byte{fwproto.PushEventFlushDone}})

	d, err := c.ReadData(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !d.FlushDone || !bytes.Equal(d.Payload, []byte{0xff, 0xff, 0xff, 0xff}) {
		t.Fatalf("expected 4-byte flush marker, got %+v", d)
	}
	h.stop(t)
}

func TestClientCalibrationRoundTrip(t *testing.T) {
	h := startHub(t, nil)
	fw := h.firmware(0)
	c := h.dial(t, "COMPS")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	blob := CalibrationBlob{SubCmd: CalSubSet, Calibrated: CalibratedTrue, Data: []byte{1, 2, 3}}
	if err := c.SetCalibration(ctx, blob); err != nil {
		t.Fatalf("set calibration: %v", err)
	}
	if !fw.sentLine("0 9 4 1 3 1 2 3") {
		t.Fatalf("expected calibration set forwarded, sent %v", fw.Sent())
	}

	result := CalibrationBlob{SubCmd: CalSubGet, Calibrated: CalibratedTrue, Data: []byte{9}}
	go func() {
		deadline := time.Now().Add(3 * time.Second)
		for !hasCalibrationGet(fw) && time.Now().Before(deadline) {
			time.Sleep(2 * time.Millisecond)
		}
		fw.push(fwproto.Frame{Kind: fwproto.KindCalResult, ResourceID: 4, Payload: fwproto.EncodeCalibrationResult(result)})
	}()
	got, err := c.GetCalibration(ctx)
	if err != nil {
		t.Fatalf("get calibration: %v", err)
	}
	if got.Calibrated != CalibratedTrue || !bytes.Equal(got.Data, []byte{9}) {
		t.Fatalf("unexpected calibration %+v", got)
	}
	h.stop(t)
}

func hasCalibrationGet(fw *fakeFirmware) bool {
	for _, s := range fw.Sent() {
		cmd, err := fwproto.ParseCommand([]byte(s))
		if err == nil && cmd.ID == fwproto.CmdCalibration && cmd.TransID != 0 && len(cmd.Params) > 0 && cmd.Params[0] == CalSubGet {
			return true
		}
	}
	return false
}

func TestClientContextCancelsRead(t *testing.T) {
	h := startHub(t, nil)
	c := h.dial(t, "ACCEL")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.ReadData(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.StopStreaming(context.Background()); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
	h.stop(t)
}

func TestClientAbandonedCommandBreaksControl(t *testing.T) {
	ctrl, server := net.Pipe()
	data, dataPeer := net.Pipe()
	defer server.Close()
	defer dataPeer.Close()
	c := &Client{resource: "ACCEL", session: 1, ctrl: ctrl, data: data, closed: make(chan struct{})}

	release := make(chan struct{})
	served := make(chan struct{})
	go func() {
		defer close(served)
		if _, err := clientproto.ReadMessage(server); err != nil {
			return
		}
		<-release
		late := clientproto.CommandAck{Result: domain.ResultOK, Payload: []byte("late sample")}
		_ = clientproto.WriteMessage(server, late.Message())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.GetSingle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	close(release)
	<-served

	payload, err := c.GetProperty(context.Background(), []byte{1})
	if !errors.Is(err, ErrControlBroken) {
		t.Fatalf("expected ErrControlBroken, got payload=%q err=%v", payload, err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close after abandoned command: %v", err)
	}
}
