package sensorhub

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestConfFromConfigAndBuilder(t *testing.T) {
	cfg := testConfig(t)

	flow, err := ConfFromConfig(cfg)
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}
	if flow.Config() != cfg {
		t.Fatalf("expected Config to be returned verbatim")
	}

	fw := newFakeFirmware()
	store := newMemStore()
	sink := &stubSink{}

	rt, err := flow.
		Hub(
			HubFirmware(func() (Firmware, error) { return fw, nil }),
			HubResources(testResources()...),
			HubCalibrationStore(store),
		).
		Events(
			EventsTo(sink),
			EventsCallback("cb", func([]HubEvent) error { return nil }),
			EventsObservability(&stubObservability{}),
		)
	if err != nil {
		t.Fatalf("Events returned error: %v", err)
	}
	if rt.store != store {
		t.Fatalf("expected custom store to be wired")
	}
	if len(rt.sinks) != 2 || rt.sinks[0] != sink || rt.sinks[1].Name() != "cb" {
		t.Fatalf("expected both sinks in order, got %d", len(rt.sinks))
	}
	if len(rt.resources) != 2 {
		t.Fatalf("expected static resources, got %+v", rt.resources)
	}
}

func TestConfLoadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensorhub.yaml")
	raw := []byte("firmware:\n  driver: serial\n  serial:\n    device: /dev/ttyS1\nmetrics:\n  addr: 127.0.0.1:0\n")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	flow, err := Conf(path, WithFlowOptions(WithObservability(&stubObservability{})))
	if err != nil {
		t.Fatalf("Conf returned error: %v", err)
	}
	if flow.Config().Firmware.Serial.Device != "/dev/ttyS1" || flow.Config().Firmware.Serial.Baud != 115200 {
		t.Fatalf("unexpected serial config %+v", flow.Config().Firmware.Serial)
	}
	if _, err := Conf(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file to fail")
	}
}

func TestFlowRunStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	flow, err := ConfFromConfig(testConfig(t))
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = flow.Hub(
		HubFirmware(func() (Firmware, error) { return newFakeFirmware(), nil }),
		HubResources(testResources()...),
		HubListener(ln),
		HubCalibrationStore(newMemStore()),
	).Run(ctx, EventsObservability(&stubObservability{}))
	if err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
}
