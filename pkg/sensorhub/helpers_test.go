package sensorhub

import (
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/sensorhub/internal/protocol/fwproto"
)

type fakeFirmware struct {
	mu   sync.Mutex
	sent []string

	reads     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeFirmware() *fakeFirmware {
	return &fakeFirmware{reads: make(chan []byte, 64), closed: make(chan struct{})}
}

func (f *fakeFirmware) Send(cmd []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, string(cmd))
	return nil
}

func (f *fakeFirmware) Read(p []byte) (int, error) {
	select {
	case b, ok := <-f.reads:
		if !ok {
			return 0, io.ErrUnexpectedEOF
		}
		return copy(p, b), nil
	case <-f.closed:
		return 0, os.ErrClosed
	}
}

func (f *fakeFirmware) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeFirmware) push(fr fwproto.Frame) {
	f.reads <- fwproto.AppendFrame(nil, fr)
}

func (f *fakeFirmware) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// sentCommand reports whether a command with the given firmware command id was written.
func (f *fakeFirmware) sentCommand(id string) bool {
	for _, s := range f.Sent() {
		if fields := strings.Fields(s); len(fields) > 1 && fields[1] == id {
			return true
		}
	}
	return false
}

func (f *fakeFirmware) sentLine(line string) bool {
	for _, s := range f.Sent() {
		if s == line {
			return true
		}
	}
	return false
}

type memStore struct {
	mu    sync.Mutex
	blobs map[string]CalibrationBlob
}

func newMemStore() *memStore { return &memStore{blobs: map[string]CalibrationBlob{}} }

func (s *memStore) Load(name string) (CalibrationBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs[name], nil
}

func (s *memStore) Save(name string, b CalibrationBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[name] = b
	return nil
}

func (s *memStore) Clear(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, name)
	return nil
}

type stubObservability struct {
	mu       sync.Mutex
	counters map[string]float64
}

func (s *stubObservability) LogInfo(string, ...Field)            {}
func (s *stubObservability) LogError(string, error, ...Field)    {}
func (s *stubObservability) LogCritical(string, error, ...Field) {}
func (s *stubObservability) ObserveLatency(string, float64)      {}
func (s *stubObservability) SetGauge(string, float64)            {}
func (s *stubObservability) RecordDrop(string, ...Field)         {}

func (s *stubObservability) IncCounter(name string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counters == nil {
		s.counters = map[string]float64{}
	}
	s.counters[name] += v
}

func (s *stubObservability) counter(name string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[name]
}

type stubSink struct{}

func (s *stubSink) WriteBatch([]HubEvent) error { return nil }
func (s *stubSink) Name() string                { return "stub" }

func testResources() []ResourceDescriptor {
	return []ResourceDescriptor{
		{ID: 1, Name: "ACCEL", FreqMax: 200},
		{ID: 4, Name: "COMPS", FreqMax: 100, Calibration: true},
	}
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Calibration.Dir = t.TempDir()
	cfg.Firmware.RestartBackoff = 10 * time.Millisecond
	cfg.Policy.IdleSleep = time.Millisecond
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
